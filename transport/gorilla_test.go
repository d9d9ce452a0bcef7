// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// End-to-end tests driving a real gorilla/websocket client against a
// Registry served through GorillaTransport on an httptest server.

package transport_test

import (
	"bytes"
	"encoding/binary"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/wsrpc/codec"
	"github.com/momentics/wsrpc/rpc"
	"github.com/momentics/wsrpc/transport"
	"github.com/momentics/wsrpc/value"
)

func startServer(t *testing.T) (*rpc.Registry, *httptest.Server) {
	t.Helper()
	log := zaptest.NewLogger(t)
	tr := transport.NewGorillaTransport(log)
	r, err := rpc.NewRegistry(
		rpc.WithListenAddr(""),
		rpc.WithTransport(tr),
		rpc.WithLogger(log),
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	srv := httptest.NewServer(tr)
	t.Cleanup(func() {
		srv.Close()
		_ = r.Destroy()
	})
	return r, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestEchoOverWebSocket(t *testing.T) {
	r, srv := startServer(t)
	ep, err := r.OpenEndpoint("/rpc", 4, nil)
	if err != nil {
		t.Fatalf("OpenEndpoint: %v", err)
	}
	err = ep.Bind("echo", func(ep *rpc.Endpoint, connID int, params, resp *value.Value) int {
		resp.SetMapVal("data", params)
		return 0
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	conn := dial(t, srv, "/rpc")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"cid":1,"call":"echo","params":"hi"}`)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	msgType, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("reply type = %d, want text", msgType)
	}
	if want := `{"rid":1,"resp":{"data":"hi"}}`; string(reply) != want {
		t.Fatalf("reply = %s, want %s", reply, want)
	}
}

func TestBinaryBufferOverWebSocket(t *testing.T) {
	r, srv := startServer(t)
	ep, err := r.OpenEndpoint("/rpc", 4, nil)
	if err != nil {
		t.Fatalf("OpenEndpoint: %v", err)
	}
	err = ep.Bind("incr_u32", func(ep *rpc.Endpoint, connID int, params, resp *value.Value) int {
		buf, ok := params.MapVal("buf").Buf()
		if !ok {
			return 1
		}
		out := make([]byte, len(buf))
		for i := 0; i+4 <= len(buf); i += 4 {
			binary.LittleEndian.PutUint32(out[i:], binary.LittleEndian.Uint32(buf[i:])+1)
		}
		data := value.NewMap()
		data.SetMapVal("buf", value.NewBuf(out))
		resp.SetMapVal("data", data)
		return 0
	})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	req := value.NewMap()
	req.SetMapVal("cid", value.NewInt(2))
	req.SetMapVal("call", value.NewStr("incr_u32"))
	params := value.NewMap()
	params.SetMapVal("buf", value.NewBuf([]byte{0, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0}))
	req.SetMapVal("params", params)
	frame, isText, err := codec.NewEncoder().Encode(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if isText {
		t.Fatal("expected binary request")
	}

	conn := dial(t, srv, "/rpc")
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	msgType, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("reply type = %d, want binary", msgType)
	}
	decoded, err := codec.NewDecoder().Decode(false, reply)
	if err != nil {
		t.Fatalf("Decode reply: %v", err)
	}
	got, ok := decoded.MapVal("resp").MapVal("data").MapVal("buf").Buf()
	if !ok {
		t.Fatal("reply resp.data.buf is not a buffer leaf")
	}
	want := []byte{1, 0, 0, 0, 2, 0, 0, 0, 3, 0, 0, 0, 4, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("resp.data.buf = %v, want %v", got, want)
	}
}

func TestServerInitiatedCall(t *testing.T) {
	r, srv := startServer(t)

	openCh := make(chan int, 1)
	ep, err := r.OpenEndpoint("/rpc", 4, func(ep *rpc.Endpoint, connID int, kind rpc.EventKind) {
		if kind == rpc.EventOpen {
			openCh <- connID
		}
	})
	if err != nil {
		t.Fatalf("OpenEndpoint: %v", err)
	}

	conn := dial(t, srv, "/rpc")
	var connID int
	select {
	case connID = <-openCh:
	case <-time.After(2 * time.Second):
		t.Fatal("no Open event")
	}

	var mu sync.Mutex
	var got string
	err = ep.Call(connID, "ping", value.NewStr("are you there"),
		func(ep *rpc.Endpoint, connID int, resp *value.Value) int {
			data, _ := resp.MapVal("data").Str()
			mu.Lock()
			got = data
			mu.Unlock()
			return 0
		})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	// The client side of the conversation: read the call, answer it.
	_, call, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	parsed, err := codec.NewDecoder().Decode(true, call)
	if err != nil {
		t.Fatalf("Decode call: %v", err)
	}
	cid, _ := parsed.MapVal("cid").Int()
	if name, _ := parsed.MapVal("call").Str(); name != "ping" {
		t.Fatalf("call = %q, want ping", name)
	}
	reply := `{"rid":` + strconv.FormatInt(cid, 10) + `,"resp":{"data":"pong"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := got == "pong"
		mu.Unlock()
		if done {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("response callback never saw pong")
}

func TestSubprotocolNegotiation(t *testing.T) {
	r, srv := startServer(t)
	if _, err := r.OpenEndpoint("/rpc", 4, nil); err != nil {
		t.Fatalf("OpenEndpoint: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rpc"
	dialer := websocket.Dialer{Subprotocols: []string{"wsrpc.bin"}}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if got := resp.Header.Get("Sec-Websocket-Protocol"); got != "wsrpc.bin" {
		t.Fatalf("negotiated subprotocol = %q, want wsrpc.bin", got)
	}
}

func TestUnknownURLRejected(t *testing.T) {
	_, srv := startServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/nope"
	if _, _, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("dial to unregistered URL must fail")
	}
}
