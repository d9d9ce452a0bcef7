// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Endpoint: a URL-bound bidirectional RPC handler. Maintains the slot
// vector of connected clients, the bind table of remote-callable local
// functions, and the pending-response state correlating outbound calls with
// their replies. The four transport lifecycle callbacks (connect, ready,
// data, close) enter through endpointHandler below.

package rpc

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/wsrpc/rpcerr"
	"github.com/momentics/wsrpc/transport"
	"github.com/momentics/wsrpc/value"
)

// Endpoint is one URL-bound RPC handler owned by a Registry. All exported
// methods are safe for concurrent use from any goroutine.
type Endpoint struct {
	reg *Registry
	url string
	log *zap.Logger

	// Guarded by reg.mu.
	maxConns int
	nconns   int
	slots    []*clientSlot
	binds    map[string]RPCFunc
	userData any
	closed   bool

	// Immutable after OpenEndpoint returns.
	evcb         EventCallback
	subprotocols []string
}

// EndpointOption customizes an Endpoint at open time.
type EndpointOption func(*Endpoint)

// WithSubprotocols overrides the WebSocket sub-protocols advertised to
// clients during the upgrade handshake. Purely informational: wire framing
// is always selected per message by the presence of buffer leaves.
func WithSubprotocols(protos ...string) EndpointOption {
	return func(ep *Endpoint) { ep.subprotocols = protos }
}

// URL returns the endpoint's bound URL path.
func (ep *Endpoint) URL() string { return ep.url }

// SetUserdata attaches an opaque user value to the endpoint.
func (ep *Endpoint) SetUserdata(v any) {
	ep.reg.mu.Lock()
	ep.userData = v
	ep.reg.mu.Unlock()
}

// GetUserdata returns the value last stored with SetUserdata.
func (ep *Endpoint) GetUserdata() any {
	ep.reg.mu.Lock()
	defer ep.reg.mu.Unlock()
	return ep.userData
}

// Bind registers fn as the local implementation of remoteName, making it
// callable by connected clients. Fails with AlreadyBound if remoteName is
// already registered.
func (ep *Endpoint) Bind(remoteName string, fn RPCFunc) error {
	const op = "rpc.Bind"
	ep.reg.mu.Lock()
	defer ep.reg.mu.Unlock()
	if ep.closed {
		return rpcerr.New(rpcerr.EndpointMissing, op, nil)
	}
	if _, exists := ep.binds[remoteName]; exists {
		return rpcerr.New(rpcerr.AlreadyBound, op, errors.New(remoteName))
	}
	ep.binds[remoteName] = fn
	return nil
}

// Unbind removes a binding installed by Bind. Fails with NotBound if
// remoteName is not registered.
func (ep *Endpoint) Unbind(remoteName string) error {
	const op = "rpc.Unbind"
	ep.reg.mu.Lock()
	defer ep.reg.mu.Unlock()
	if _, exists := ep.binds[remoteName]; !exists {
		return rpcerr.New(rpcerr.NotBound, op, errors.New(remoteName))
	}
	delete(ep.binds, remoteName)
	return nil
}

// Info returns a consistent snapshot of the endpoint's connection state.
// MaxConnID is the current slot-vector length: valid connection ids are
// always below it, though not every id below it is live.
func (ep *Endpoint) Info() Info {
	ep.reg.mu.Lock()
	defer ep.reg.mu.Unlock()
	return Info{URL: ep.url, NConns: ep.nconns, MaxConnID: len(ep.slots)}
}

// Call invokes remoteName on the client at connID. params may be nil and is
// consumed: its buffer leaves are rewritten during encoding, so the caller
// must not reuse the tree afterward. If cb is non-nil it will be invoked
// exactly once when the client's matching response arrives; if the
// connection closes first, cb is never invoked and the Close event is the
// sole notification.
func (ep *Endpoint) Call(connID int, remoteName string, params *value.Value, cb ResponseCallback) error {
	const op = "rpc.Call"
	r := ep.reg

	r.mu.Lock()
	slot := ep.slotLocked(connID)
	if slot == nil {
		r.mu.Unlock()
		return rpcerr.New(rpcerr.InvalidConnection, op, nil)
	}
	cid := slot.nextCID.Add(1) - 1

	env := value.NewMap()
	env.SetMapVal("cid", value.NewInt(int64(cid)))
	env.SetMapVal("call", value.NewStr(remoteName))
	if params == nil {
		params = value.NewNull()
	}
	env.SetMapVal("params", params)

	frame, isText, err := slot.enc.Encode(env)
	if err != nil {
		r.mu.Unlock()
		ep.log.Error("encoding outbound call failed",
			zap.Int("connid", connID), zap.String("call", remoteName), zap.Error(err))
		return err
	}
	if cb != nil {
		slot.pending[cid] = pendingResponse{cb: cb, sent: time.Now()}
	}
	conn := slot.conn
	r.mu.Unlock()

	r.metrics.Inc("calls_out")
	if err := conn.Write(isText, frame); err != nil {
		// The transport will drop the connection; evict the pending record
		// now so it does not linger until close.
		r.mu.Lock()
		if s := ep.slotLocked(connID); s == slot {
			delete(s.pending, cid)
		}
		r.mu.Unlock()
		ep.log.Error("writing outbound call failed",
			zap.Int("connid", connID), zap.String("call", remoteName), zap.Error(err))
		return rpcerr.New(rpcerr.InvalidConnection, op, err)
	}
	return nil
}

// slotLocked returns the active slot at connID, or nil if connID is out of
// range or the slot is free. Caller holds reg.mu.
func (ep *Endpoint) slotLocked(connID int) *clientSlot {
	if connID < 0 || connID >= len(ep.slots) {
		return nil
	}
	return ep.slots[connID]
}

// teardownSlotLocked frees the slot at connID: its pending responses are
// discarded without invoking callbacks and its encoder is recycled. Caller
// holds reg.mu and accounts nconns itself.
func (ep *Endpoint) teardownSlotLocked(connID int) {
	slot := ep.slots[connID]
	slot.conn = nil
	slot.pending = nil
	ep.reg.encPool.Put(slot.enc)
	slot.enc = nil
	ep.slots[connID] = nil
}

// dispatchEvent hands kind to the user event callback on the dispatcher
// worker owning connID, outside any lock.
func (ep *Endpoint) dispatchEvent(connID int, kind EventKind) {
	if ep.evcb == nil {
		return
	}
	ep.reg.disp.Submit(connID, func() {
		ep.evcb(ep, connID, kind)
	})
}

// endpointHandler adapts an Endpoint to the transport.Handler callback
// surface, keeping the transport-facing methods off the public Endpoint API.
type endpointHandler struct {
	ep *Endpoint
}

func (h endpointHandler) Subprotocols() []string { return h.ep.subprotocols }

// OnConnect admits or refuses a new connection. On admission the new slot's
// index is stashed in the connection's user-data and an Open event is
// dispatched.
func (h endpointHandler) OnConnect(conn transport.Conn) (refuse bool) {
	ep := h.ep
	r := ep.reg

	r.mu.Lock()
	if ep.closed || ep.nconns >= ep.maxConns {
		closed := ep.closed
		r.mu.Unlock()
		r.metrics.Inc("connections_refused")
		ep.log.Warn("connection refused",
			zap.String("remote", conn.RemoteAddr()),
			zap.Bool("endpoint_closed", closed))
		return true
	}

	slot := newClientSlot(conn, r.encPool.Get())
	connID := -1
	for i := range ep.slots {
		if ep.slots[i] == nil {
			ep.slots[i] = slot
			connID = i
			break
		}
	}
	if connID < 0 {
		ep.slots = append(ep.slots, slot)
		connID = len(ep.slots) - 1
	}
	ep.nconns++
	conn.SetUserData(connID)
	r.mu.Unlock()

	r.metrics.Inc("connections_open")
	ep.log.Debug("connection open",
		zap.Int("connid", connID), zap.String("remote", conn.RemoteAddr()))
	ep.dispatchEvent(connID, EventOpen)
	return false
}

func (h endpointHandler) OnReady(conn transport.Conn) {
	connID, ok := conn.UserData().(int)
	if !ok {
		return
	}
	h.ep.dispatchEvent(connID, EventReady)
}

// OnData drives one received frame through fragment reassembly, decoding,
// and CALL/RESPONSE dispatch. Returning false closes the connection.
func (h endpointHandler) OnData(conn transport.Conn, fin bool, opcode transport.Opcode, data []byte) (keepOpen bool) {
	ep := h.ep
	r := ep.reg

	connID, ok := conn.UserData().(int)
	if !ok {
		ep.log.Warn("message received on connection with no slot",
			zap.String("remote", conn.RemoteAddr()))
		return false
	}

	r.mu.Lock()
	slot := ep.slotLocked(connID)
	r.mu.Unlock()
	if slot == nil {
		ep.log.Warn("message received for closed connid", zap.Int("connid", connID))
		return false
	}

	payload, kind, ready, valid := slot.frag.Feed(fin, opcode, data)
	if !valid {
		r.metrics.Inc("frames_ignored")
		ep.log.Warn("websocket frame type ignored",
			zap.Int("connid", connID), zap.Int("opcode", int(opcode)))
		return true
	}
	if !ready {
		return true
	}

	// DecodeCopy, not Decode: bound functions run on a dispatcher worker
	// after this callback returns, so buffer leaves must not alias the
	// transport's frame buffer.
	msg, err := slot.dec.DecodeCopy(kind == transport.OpText, payload)
	if err != nil {
		ep.log.Error("received undecodable message",
			zap.Int("connid", connID), zap.Error(err))
		return false
	}

	if cid, ok := msg.MapInt("cid"); ok {
		return ep.handleCall(slot, connID, cid, msg)
	}
	if rid, ok := msg.MapInt("rid"); ok {
		return ep.handleResponse(slot, connID, rid, msg)
	}
	ep.log.Error("message is neither call nor response", zap.Int("connid", connID))
	return false
}

// OnClose tears the slot down, discarding pending responses without
// invoking their callbacks, and dispatches the Close event.
func (h endpointHandler) OnClose(conn transport.Conn) {
	ep := h.ep
	r := ep.reg

	connID, ok := conn.UserData().(int)
	if !ok {
		return
	}

	r.mu.Lock()
	if ep.slotLocked(connID) == nil {
		// Already torn down, normal when the whole endpoint was closed.
		r.mu.Unlock()
		ep.log.Debug("close for already-freed slot", zap.Int("connid", connID))
		return
	}
	ep.teardownSlotLocked(connID)
	ep.nconns--
	r.mu.Unlock()

	r.metrics.Inc("connections_closed")
	ep.log.Debug("connection closed", zap.Int("connid", connID))
	ep.dispatchEvent(connID, EventClose)
}

// handleCall processes an inbound CALL envelope. Parse failures here are
// non-fatal: the frame is logged and dropped with the connection left open.
func (ep *Endpoint) handleCall(slot *clientSlot, connID int, cid int64, msg *value.Value) (keepOpen bool) {
	r := ep.reg

	name, ok := msg.MapStr("call")
	if !ok {
		ep.log.Warn("call without 'call' field", zap.Int("connid", connID))
		return true
	}
	params := msg.MapVal("params")
	if params == nil {
		ep.log.Warn("call without 'params' field",
			zap.Int("connid", connID), zap.String("call", name))
		return true
	}

	r.mu.Lock()
	fn, bound := ep.binds[name]
	r.mu.Unlock()
	if !bound {
		r.metrics.Inc("calls_unbound")
		ep.log.Warn("call for unbound remote name",
			zap.Int("connid", connID), zap.String("call", name))
		return true
	}
	r.metrics.Inc("calls_in")

	env := value.NewMap()
	env.SetMapVal("rid", value.NewInt(cid))
	resp := value.NewMap()
	env.SetMapVal("resp", resp)

	r.disp.Submit(connID, func() {
		if ret := fn(ep, connID, params, resp); ret != 0 {
			ep.log.Warn("local rpc function returned error, response suppressed",
				zap.Int("connid", connID), zap.String("call", name), zap.Int("ret", ret))
			return
		}
		if m, _ := resp.Map(); m.Len() == 0 {
			// Fire-and-forget local hook, nothing to send back.
			return
		}
		ep.sendEnvelope(slot, connID, name, env)
	})
	return true
}

// sendEnvelope encodes env on the slot's encoder and writes it to the
// connection. The slot identity is re-checked under the lock: if the
// connection closed (and possibly the slot was recycled) while the local
// function ran, the response is dropped.
func (ep *Endpoint) sendEnvelope(slot *clientSlot, connID int, name string, env *value.Value) {
	r := ep.reg

	r.mu.Lock()
	if ep.slotLocked(connID) != slot {
		r.mu.Unlock()
		ep.log.Debug("connection closed before response could be sent",
			zap.Int("connid", connID), zap.String("call", name))
		return
	}
	frame, isText, err := slot.enc.Encode(env)
	conn := slot.conn
	r.mu.Unlock()

	if err != nil {
		ep.log.Error("encoding response failed",
			zap.Int("connid", connID), zap.String("call", name), zap.Error(err))
		return
	}
	if err := conn.Write(isText, frame); err != nil {
		ep.log.Error("writing response failed",
			zap.Int("connid", connID), zap.String("call", name), zap.Error(err))
	}
}

// handleResponse correlates an inbound RESPONSE envelope with a pending
// outbound call. Unknown or duplicate rids are logged and dropped with the
// connection left open.
func (ep *Endpoint) handleResponse(slot *clientSlot, connID int, rid int64, msg *value.Value) (keepOpen bool) {
	r := ep.reg

	resp := msg.MapVal("resp")
	if resp == nil {
		ep.log.Warn("response without 'resp' field",
			zap.Int("connid", connID), zap.Int64("rid", rid))
		return true
	}

	r.mu.Lock()
	rec, ok := slot.pending[uint64(rid)]
	if ok {
		delete(slot.pending, uint64(rid))
	}
	conn := slot.conn
	r.mu.Unlock()
	if !ok {
		r.metrics.Inc("responses_orphan")
		ep.log.Warn("response with no pending call",
			zap.Int("connid", connID), zap.Int64("rid", rid))
		return true
	}
	r.metrics.Inc("responses_in")

	r.disp.Submit(connID, func() {
		if rec.cb == nil {
			return
		}
		if ret := rec.cb(ep, connID, resp); ret != 0 && conn != nil {
			// The callback asked for the connection to be closed; the
			// transport delivers the Close event on its own thread.
			_ = conn.Close()
		}
	})
	return true
}
