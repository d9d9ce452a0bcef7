// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rpc

import (
	"sync"
	"testing"

	"github.com/momentics/wsrpc/rpcerr"
)

func TestOpenEndpointRejectsDuplicateURL(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.OpenEndpoint("/rpc", 4, nil); err != nil {
		t.Fatalf("OpenEndpoint: %v", err)
	}
	if _, err := r.OpenEndpoint("/rpc", 4, nil); !rpcerr.Is(err, rpcerr.EndpointExists) {
		t.Fatalf("duplicate OpenEndpoint = %v, want EndpointExists", err)
	}
}

func TestOpenCloseEndpointIsNoOpOnRegistry(t *testing.T) {
	r, ft := newTestRegistry(t)
	ep, err := r.OpenEndpoint("/rpc", 4, nil)
	if err != nil {
		t.Fatalf("OpenEndpoint: %v", err)
	}
	if err := r.CloseEndpoint(ep); err != nil {
		t.Fatalf("CloseEndpoint: %v", err)
	}
	if h := ft.handler("/rpc"); h != nil {
		t.Fatal("transport handler survived CloseEndpoint")
	}
	// The URL is free again: open/close left the registry map unchanged.
	if _, err := r.OpenEndpoint("/rpc", 4, nil); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
}

func TestCloseEndpointDropsConnectionsAndFiresClose(t *testing.T) {
	r, ft := newTestRegistry(t)

	var mu sync.Mutex
	closes := 0
	ep, err := r.OpenEndpoint("/rpc", 4, func(ep *Endpoint, connID int, kind EventKind) {
		if kind == EventClose {
			mu.Lock()
			closes++
			mu.Unlock()
		}
	})
	if err != nil {
		t.Fatalf("OpenEndpoint: %v", err)
	}

	h := ft.handler("/rpc")
	a := newFakeConn()
	b := newFakeConn()
	h.OnConnect(a)
	h.OnConnect(b)

	if err := r.CloseEndpoint(ep); err != nil {
		t.Fatalf("CloseEndpoint: %v", err)
	}
	if !a.isClosed() || !b.isClosed() {
		t.Fatal("live connections not closed with the endpoint")
	}
	waitFor(t, "close events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return closes == 2
	})

	if err := r.CloseEndpoint(ep); !rpcerr.Is(err, rpcerr.EndpointMissing) {
		t.Fatalf("second CloseEndpoint = %v, want EndpointMissing", err)
	}
}

func TestDestroyClosesEverything(t *testing.T) {
	ft := newFakeTransport()
	r, err := NewRegistry(WithListenAddr(""), WithTransport(ft), WithDispatchWorkers(1))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, err := r.OpenEndpoint("/a", 4, nil); err != nil {
		t.Fatalf("OpenEndpoint: %v", err)
	}
	if _, err := r.OpenEndpoint("/b", 4, nil); err != nil {
		t.Fatalf("OpenEndpoint: %v", err)
	}

	if err := r.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if ft.handler("/a") != nil || ft.handler("/b") != nil {
		t.Fatal("handlers survived Destroy")
	}
	if err := r.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	if _, err := r.OpenEndpoint("/c", 4, nil); err == nil {
		t.Fatal("OpenEndpoint after Destroy must fail")
	}
}

func TestControlPlaneWiring(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.OpenEndpoint("/rpc", 4, nil); err != nil {
		t.Fatalf("OpenEndpoint: %v", err)
	}

	if v, ok := r.Config().Get("default_max_conns"); !ok || v.(int) != 64 {
		t.Fatalf("config default_max_conns = %v", v)
	}

	dump := r.Probes().Dump()
	info, ok := dump["endpoint:/rpc"].(Info)
	if !ok {
		t.Fatalf("probe dump missing endpoint info, got %v", dump)
	}
	if info.URL != "/rpc" || info.NConns != 0 {
		t.Fatalf("probe info = %+v", info)
	}
	if _, ok := dump["registry"]; !ok {
		t.Fatal("probe dump missing registry metrics")
	}
}

func TestDefaultMaxConnsFallback(t *testing.T) {
	ft := newFakeTransport()
	r, err := NewRegistry(
		WithListenAddr(""),
		WithTransport(ft),
		WithDefaultMaxConns(1),
		WithDispatchWorkers(1),
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer func() { _ = r.Destroy() }()

	if _, err := r.OpenEndpoint("/rpc", 0, nil); err != nil {
		t.Fatalf("OpenEndpoint: %v", err)
	}
	h := ft.handler("/rpc")
	if h.OnConnect(newFakeConn()) {
		t.Fatal("first connection refused")
	}
	if !h.OnConnect(newFakeConn()) {
		t.Fatal("second connection admitted past the configured default cap")
	}
}
