// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// GorillaTransport is the concrete Transport implementation: a net/http
// server plus gorilla/websocket.Upgrader, one reader goroutine per accepted
// connection, and a per-connection sync.Mutex serializing WriteMessage
// calls.

package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// GorillaTransport serves one or more WebSocket URLs registered via
// RegisterHandler, each upgraded with gorilla/websocket.
type GorillaTransport struct {
	log *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	httpSrv  *http.Server
	listener net.Listener
}

// NewGorillaTransport builds a transport ready to RegisterHandler and Start.
// Origin checking is intentionally permissive: the endpoint is meant to be
// bound to localhost.
func NewGorillaTransport(log *zap.Logger) *GorillaTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &GorillaTransport{
		log:      log,
		handlers: make(map[string]Handler),
	}
}

func (t *GorillaTransport) RegisterHandler(url string, h Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.handlers[url]; exists {
		return errors.New("transport: handler already registered for " + url)
	}
	t.handlers[url] = h
	return nil
}

func (t *GorillaTransport) UnregisterHandler(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, url)
}

// Start binds addr and serves in the background. The bind happens
// synchronously so the caller sees "address in use" style failures directly.
func (t *GorillaTransport) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: t}

	t.mu.Lock()
	t.httpSrv = srv
	t.listener = ln
	t.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("websocket server terminated", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound listen address, useful when Start was given a
// ":0"-style address.
func (t *GorillaTransport) Addr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Shutdown stops the HTTP server via http.Server.Shutdown. Upgraded
// WebSocket connections are hijacked from that server, so they are neither
// closed nor waited for: their reader goroutines keep delivering callbacks
// until each connection is closed.
func (t *GorillaTransport) Shutdown(ctx context.Context) error {
	t.mu.RLock()
	srv := t.httpSrv
	t.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ServeHTTP upgrades requests for registered URLs and runs the per-connection
// read loop. Exposed so tests can mount the transport on an httptest.Server.
func (t *GorillaTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mu.RLock()
	h, ok := t.handlers[r.URL.Path]
	t.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	upgrader := websocket.Upgrader{
		Subprotocols: h.Subprotocols(),
		CheckOrigin:  func(r *http.Request) bool { return true },
	}
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn("websocket upgrade failed", zap.String("url", r.URL.Path), zap.Error(err))
		return
	}

	conn := &gorillaConn{ws: wsConn, remote: r.RemoteAddr}

	if refuse := h.OnConnect(conn); refuse {
		_ = wsConn.Close()
		return
	}
	h.OnReady(conn)

	defer func() {
		_ = wsConn.Close()
		h.OnClose(conn)
	}()

	for {
		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		var opcode Opcode
		switch msgType {
		case websocket.TextMessage:
			opcode = OpText
		case websocket.BinaryMessage:
			opcode = OpBinary
		default:
			continue
		}
		// gorilla/websocket.Conn.ReadMessage already reassembles
		// fragmented frames into one complete message, so every call here
		// delivers a full logical message (fin=true).
		if !h.OnData(conn, true, opcode, data) {
			return
		}
	}
}

// gorillaConn adapts *websocket.Conn to the Conn interface, adding the
// per-connection write lock and user-data slot the RPC layer requires.
type gorillaConn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	remote   string
	userData any
	udMu     sync.RWMutex
}

func (c *gorillaConn) UserData() any {
	c.udMu.RLock()
	defer c.udMu.RUnlock()
	return c.userData
}

func (c *gorillaConn) SetUserData(v any) {
	c.udMu.Lock()
	defer c.udMu.Unlock()
	c.userData = v
}

func (c *gorillaConn) Write(isText bool, payload []byte) error {
	msgType := websocket.BinaryMessage
	if isText {
		msgType = websocket.TextMessage
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(msgType, payload)
}

func (c *gorillaConn) Close() error {
	return c.ws.Close()
}

func (c *gorillaConn) RemoteAddr() string {
	return c.remote
}
