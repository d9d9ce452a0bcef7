// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-memory transport fakes and helpers shared by the rpc package tests.

package rpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/momentics/wsrpc/transport"
)

// fakeFrame is one message written to a fakeConn.
type fakeFrame struct {
	isText  bool
	payload []byte
}

// fakeConn is an in-memory transport.Conn that records written frames.
type fakeConn struct {
	mu       sync.Mutex
	userData any
	frames   []fakeFrame
	closed   bool
	remote   string
}

func newFakeConn() *fakeConn { return &fakeConn{remote: "127.0.0.1:9"} }

func (c *fakeConn) UserData() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userData
}

func (c *fakeConn) SetUserData(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userData = v
}

func (c *fakeConn) Write(isText bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("fakeConn: write on closed connection")
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.frames = append(c.frames, fakeFrame{isText: isText, payload: cp})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.remote }

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) frameAt(i int) fakeFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames[i]
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeTransport is an in-memory transport.Transport that hands tests direct
// access to the handlers the registry registers.
type fakeTransport struct {
	mu       sync.Mutex
	handlers map[string]transport.Handler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]transport.Handler)}
}

func (t *fakeTransport) RegisterHandler(url string, h transport.Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.handlers[url]; dup {
		return errors.New("fakeTransport: duplicate handler for " + url)
	}
	t.handlers[url] = h
	return nil
}

func (t *fakeTransport) UnregisterHandler(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, url)
}

func (t *fakeTransport) Start(addr string) error            { return nil }
func (t *fakeTransport) Shutdown(ctx context.Context) error { return nil }

func (t *fakeTransport) handler(url string) transport.Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlers[url]
}

// newTestRegistry builds a registry over a fakeTransport with the dispatcher
// sized down so callback ordering bugs surface quickly.
func newTestRegistry(t *testing.T) (*Registry, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	r, err := NewRegistry(
		WithListenAddr(""),
		WithTransport(ft),
		WithDispatchWorkers(2),
		WithLogger(zaptest.NewLogger(t)),
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = r.Destroy() })
	return r, ft
}

// waitFor polls cond until it holds or the deadline passes. Dispatcher
// workers deliver callbacks asynchronously, so tests observing their side
// effects must wait rather than assert immediately.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
