// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry configuration and functional options.

package rpc

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/wsrpc/transport"
)

// Config holds the parameters a Registry needs to serve RPC endpoints.
type Config struct {
	ListenAddr      string        // e.g. ":8080"; empty attaches to an externally managed transport
	DefaultMaxConns int           // fallback per-endpoint connection cap
	DispatchWorkers int           // worker pool size feeding user callbacks
	ShutdownTimeout time.Duration // bound on graceful Destroy

	Logger    *zap.Logger         // nil means no logging
	Transport transport.Transport // nil means a fresh GorillaTransport
}

// DefaultConfig returns conservative defaults suitable for a localhost
// development tool.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		DefaultMaxConns: 64,
		DispatchWorkers: 8,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Option customizes a Config before it is passed to NewRegistry.
type Option func(*Config)

// WithListenAddr overrides the HTTP listen address. An empty address skips
// starting a listener entirely, leaving transport lifecycle to the caller.
func WithListenAddr(addr string) Option {
	return func(c *Config) { c.ListenAddr = addr }
}

// WithDefaultMaxConns overrides the per-endpoint connection cap used when
// OpenEndpoint is given a non-positive maximum.
func WithDefaultMaxConns(n int) Option {
	return func(c *Config) { c.DefaultMaxConns = n }
}

// WithDispatchWorkers overrides the size of the user-callback worker pool.
func WithDispatchWorkers(n int) Option {
	return func(c *Config) { c.DispatchWorkers = n }
}

// WithShutdownTimeout overrides how long Destroy waits for graceful
// transport shutdown before giving up.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) { c.ShutdownTimeout = d }
}

// WithLogger sets the logger threaded through the registry and its
// endpoints.
func WithLogger(log *zap.Logger) Option {
	return func(c *Config) { c.Logger = log }
}

// WithTransport substitutes the WebSocket transport implementation.
func WithTransport(t transport.Transport) Option {
	return func(c *Config) { c.Transport = t }
}
