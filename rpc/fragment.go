// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket fragment reassembly. One FragmentAssembler lives per client
// slot, fed one frame (opcode + FIN bit + payload) at a time.

package rpc

import "github.com/momentics/wsrpc/transport"

// FragmentAssembler reassembles a sequence of WebSocket frames belonging to
// one logical message. It is not safe for concurrent use; the transport
// delivers frames for a single connection in wire order on one goroutine.
type FragmentAssembler struct {
	hasSaved bool
	saved    transport.Opcode
	acc      []byte
}

// Feed processes one frame. ready is true once a complete logical message
// has been assembled; payload and kind are only meaningful when ready is
// true. valid is false when the frame must be logged and ignored (an
// out-of-band CONTINUATION, or a frame of a type this dispatcher does not
// understand, arriving with no assembly in progress) — the caller should
// keep the connection open either way; only the dispatcher that receives a
// completed message decides whether to close it.
func (a *FragmentAssembler) Feed(fin bool, opcode transport.Opcode, data []byte) (payload []byte, kind transport.Opcode, ready bool, valid bool) {
	if !a.hasSaved {
		if opcode != transport.OpText && opcode != transport.OpBinary {
			return nil, 0, false, false
		}
		a.hasSaved = true
		a.saved = opcode
		a.acc = a.acc[:0]
	}

	if !fin || opcode == transport.OpContinuation {
		a.acc = append(a.acc, data...)
	}

	if !fin {
		return nil, 0, false, true
	}

	var effective []byte
	if len(a.acc) > 0 {
		effective = a.acc
	} else {
		effective = data
	}
	kind = a.saved

	a.hasSaved = false
	a.acc = nil

	return effective, kind, true, true
}
