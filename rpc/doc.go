// Package rpc
// Author: momentics <momentics@gmail.com>
//
// Bidirectional WebSocket RPC for browser-based clients. A Registry maps
// URL paths to Endpoints; each Endpoint tracks its connected clients in a
// dense slot vector, exposes locally bound functions to remote callers, and
// correlates its own outbound calls with responses by per-connection call
// ids. Messages are value trees carried as JSON envelopes, with byte-buffer
// leaves transported out-of-band in binary chunk frames (see the codec
// package).
//
// One coarse registry lock protects the URL map and all endpoint slot and
// bind state; user callbacks always run on dispatcher workers with no lock
// held, ordered per connection.
package rpc
