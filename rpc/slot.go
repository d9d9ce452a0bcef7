// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rpc

import (
	"sync/atomic"
	"time"

	"github.com/momentics/wsrpc/codec"
	"github.com/momentics/wsrpc/transport"
)

// initialCallID seeds each slot's call-id counter. Any positive id is valid
// on the wire; starting well above zero keeps call ids visually distinct
// from connection ids in logs and client traces.
const initialCallID = 100

// pendingResponse is one outstanding outbound call, keyed in the slot's
// pending map by the call id it was sent with.
type pendingResponse struct {
	cb ResponseCallback

	// sent is recorded for externally driven reaping. The endpoint itself
	// never times a pending call out; connection close discards the record
	// without invoking cb.
	sent time.Time
}

// clientSlot is the per-connection state of an endpoint. Slots live in a
// dense vector indexed by connection id; a freed slot is replaced in place
// by the next admitted connection, so connection ids are stable only for
// the lifetime of one connection.
//
// conn and pending are guarded by the owning registry's lock. enc is only
// used while that lock is held. frag and dec are touched exclusively by the
// transport's reader goroutine for this connection, which delivers frames
// in wire order.
type clientSlot struct {
	conn    transport.Conn
	frag    FragmentAssembler
	enc     *codec.Encoder
	dec     *codec.Decoder
	nextCID atomic.Uint64
	pending map[uint64]pendingResponse
}

func newClientSlot(conn transport.Conn, enc *codec.Encoder) *clientSlot {
	s := &clientSlot{
		conn:    conn,
		enc:     enc,
		dec:     codec.NewDecoder(),
		pending: make(map[uint64]pendingResponse),
	}
	s.nextCID.Store(initialCallID)
	return s
}
