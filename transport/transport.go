// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package transport defines the WebSocket transport contract the rpc package
// is built on: framed text/binary message delivery, a per-connection
// user-data slot, and a per-connection write lock. rpc.Registry and
// rpc.Endpoint depend only on the Transport/Conn/Handler interfaces in this
// file; GorillaTransport in gorilla.go is the one concrete implementation
// shipped.
package transport

import "context"

// Opcode mirrors the WebSocket frame-type nibble relevant to RPC framing:
// Continuation/Text/Binary. Control frames are not represented here because
// the RPC layer never inspects them.
type Opcode int

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
)

// Conn is one live WebSocket connection as seen by the RPC layer: an opaque
// user-data slot plus a write operation that serializes concurrent writers
// on the same connection.
type Conn interface {
	// UserData returns whatever the handler last stored with SetUserData,
	// or nil if nothing has been stored yet.
	UserData() any
	SetUserData(v any)

	// Write sends one complete logical message. isText selects a WebSocket
	// text frame; otherwise a binary frame is sent. Concurrent Write calls
	// on the same Conn are serialized by the transport without requiring
	// any lock from the caller.
	Write(isText bool, payload []byte) error

	// Close closes the underlying WebSocket connection, triggering the
	// registered Handler's OnClose callback exactly once.
	Close() error

	// RemoteAddr is informational only, useful for logging.
	RemoteAddr() string
}

// Handler receives the four connection lifecycle events for one URL.
// fin/opcode on OnData let a transport that does its own fragment reassembly
// report a single logical message (fin=true) or, like a raw frame-level
// transport, hand the RPC layer individual WebSocket frames for it to
// reassemble itself.
type Handler interface {
	// OnConnect is invoked when a new WebSocket connection is accepted for
	// this URL, before any data is read. Returning refuse=true tells the
	// transport to reject and close the connection immediately;
	// conn.SetUserData was not yet called and must not be relied on.
	OnConnect(conn Conn) (refuse bool)

	// OnReady is invoked once the connection is fully established and able
	// to receive writes.
	OnReady(conn Conn)

	// OnData is invoked for each WebSocket frame (or reassembled message)
	// received. keepOpen=false tells the transport to close the
	// connection after this call returns.
	OnData(conn Conn, fin bool, opcode Opcode, data []byte) (keepOpen bool)

	// OnClose is invoked once the connection has been closed, by either
	// side.
	OnClose(conn Conn)

	// Subprotocols lists the WebSocket sub-protocols this handler
	// advertises during the upgrade handshake. May return nil.
	Subprotocols() []string
}

// Transport is the interface rpc.Registry depends on to serve one or more
// URL-bound WebSocket handlers.
type Transport interface {
	// RegisterHandler binds h to url. Returns an error if url is already
	// registered.
	RegisterHandler(url string, h Handler) error

	// UnregisterHandler removes the handler bound to url, if any. Once this
	// returns, no new OnConnect callback will fire for url; connections
	// already admitted are unaffected until explicitly closed.
	UnregisterHandler(url string)

	// Start binds addr and begins accepting connections in the background.
	// A bind failure is reported synchronously.
	Start(addr string) error

	// Shutdown gracefully stops accepting new connections, bounded by ctx.
	// It does not close WebSocket connections already upgraded, nor wait
	// for their callbacks to finish.
	Shutdown(ctx context.Context) error
}
