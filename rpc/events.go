// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rpc

import "github.com/momentics/wsrpc/value"

// EventKind is the lifecycle event reported to an Endpoint's EventCallback.
type EventKind int

const (
	EventOpen EventKind = iota
	EventReady
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "Open"
	case EventReady:
		return "Ready"
	case EventClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// EventCallback is invoked outside any lock for every connect/ready/close
// lifecycle transition on an endpoint.
type EventCallback func(ep *Endpoint, connID int, kind EventKind)

// RPCFunc is a locally bound remote-callable method. It receives the
// decoded params and a pre-populated, empty resp map to fill in. A nonzero
// return suppresses the response entirely; zero sends resp back unless resp
// is still empty, in which case it is treated as a fire-and-forget local
// hook and nothing is sent.
type RPCFunc func(ep *Endpoint, connID int, params *value.Value, resp *value.Value) int

// ResponseCallback is invoked when a RESPONSE frame arrives matching a
// pending outbound Call. A nonzero return requests the connection be
// closed; zero keeps it open.
type ResponseCallback func(ep *Endpoint, connID int, resp *value.Value) int

// Info is the snapshot returned by Endpoint.Info.
type Info struct {
	URL       string
	NConns    int
	MaxConnID int
}
