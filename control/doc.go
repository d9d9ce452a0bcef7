// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime control plane for a wsrpc registry: a configuration snapshot
// store with change listeners, a counter registry for endpoint and
// connection telemetry, and named debug probes for live state inspection.
//
// Everything here is concurrent-safe. Metrics counters are updated on the
// per-message path (every inbound call and response); the config store and
// probes are not touched per message.
package control
