// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry: the owner context mapping URLs to endpoints. Holds the one
// coarse lock that protects the URL map and every endpoint's slot vector,
// connection count, and bind table, and serializes endpoint lifecycle
// against the transport's callback goroutines.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/wsrpc/codec"
	"github.com/momentics/wsrpc/control"
	"github.com/momentics/wsrpc/pool"
	"github.com/momentics/wsrpc/rpcerr"
	"github.com/momentics/wsrpc/transport"
)

// Registry owns a set of RPC endpoints served over one WebSocket transport.
// All methods are safe for concurrent use.
type Registry struct {
	cfg Config
	log *zap.Logger
	tr  transport.Transport

	mu        sync.Mutex
	endpoints map[string]*Endpoint
	userData  any
	destroyed bool

	disp    *dispatcher
	encPool *pool.SyncPool[*codec.Encoder]

	conf    *control.ConfigStore
	metrics *control.Metrics
	probes  *control.Probes
}

// NewRegistry builds a registry and starts its transport. With no options it
// serves a GorillaTransport on DefaultConfig's listen address; pass
// WithListenAddr("") together with WithTransport to attach to an externally
// managed transport (e.g. an httptest server in tests).
func NewRegistry(opts ...Option) (*Registry, error) {
	const op = "rpc.NewRegistry"

	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tr := cfg.Transport
	if tr == nil {
		tr = transport.NewGorillaTransport(log)
	}

	r := &Registry{
		cfg:       cfg,
		log:       log,
		tr:        tr,
		endpoints: make(map[string]*Endpoint),
		disp:      newDispatcher(cfg.DispatchWorkers),
		encPool:   pool.NewSyncPool(codec.NewEncoder),
		conf:      control.NewConfigStore(),
		metrics:   control.NewMetrics(),
		probes:    control.NewProbes(),
	}
	r.conf.Set("listen_addr", cfg.ListenAddr)
	r.conf.Set("default_max_conns", cfg.DefaultMaxConns)
	r.conf.Set("dispatch_workers", cfg.DispatchWorkers)
	r.conf.Set("shutdown_timeout", cfg.ShutdownTimeout.String())
	r.probes.Register("registry", func() any { return r.metrics.Snapshot() })

	if cfg.ListenAddr != "" {
		if err := tr.Start(cfg.ListenAddr); err != nil {
			r.disp.Close()
			return nil, rpcerr.New(rpcerr.ServerStart, op, err)
		}
		log.Info("rpc server started", zap.String("addr", cfg.ListenAddr))
	}
	return r, nil
}

// SetUserdata attaches an opaque user value to the registry.
func (r *Registry) SetUserdata(v any) {
	r.mu.Lock()
	r.userData = v
	r.mu.Unlock()
}

// GetUserdata returns the value last stored with SetUserdata.
func (r *Registry) GetUserdata() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userData
}

// Config returns the registry's configuration snapshot store.
func (r *Registry) Config() *control.ConfigStore { return r.conf }

// Metrics returns the registry's counter registry.
func (r *Registry) Metrics() *control.Metrics { return r.metrics }

// Probes returns the registry's debug probe registry. Each open endpoint
// registers a probe named "endpoint:<url>" reporting its Info snapshot.
func (r *Registry) Probes() *control.Probes { return r.probes }

// OpenEndpoint creates an RPC endpoint bound to url and registers its
// transport callbacks. maxConns <= 0 falls back to the configured default.
// Fails with EndpointExists if url is already bound.
func (r *Registry) OpenEndpoint(url string, maxConns int, evcb EventCallback, opts ...EndpointOption) (*Endpoint, error) {
	const op = "rpc.OpenEndpoint"

	if maxConns <= 0 {
		maxConns = r.cfg.DefaultMaxConns
	}

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return nil, rpcerr.New(rpcerr.ServerStart, op, errors.New("registry destroyed"))
	}
	if _, dup := r.endpoints[url]; dup {
		r.mu.Unlock()
		return nil, rpcerr.New(rpcerr.EndpointExists, op, errors.New(url))
	}
	ep := &Endpoint{
		reg:          r,
		url:          url,
		log:          r.log.With(zap.String("url", url)),
		maxConns:     maxConns,
		binds:        make(map[string]RPCFunc),
		evcb:         evcb,
		subprotocols: []string{"wsrpc.bin", "wsrpc.json"},
	}
	for _, o := range opts {
		o(ep)
	}
	r.endpoints[url] = ep
	r.mu.Unlock()

	if err := r.tr.RegisterHandler(url, endpointHandler{ep}); err != nil {
		r.mu.Lock()
		delete(r.endpoints, url)
		r.mu.Unlock()
		return nil, rpcerr.New(rpcerr.EndpointExists, op, err)
	}
	r.probes.Register("endpoint:"+url, func() any { return ep.Info() })
	r.log.Info("endpoint open", zap.String("url", url), zap.Int("max_conns", maxConns))
	return ep, nil
}

// CloseEndpoint unregisters the endpoint's transport callbacks, closes its
// live connections, clears its bind table, and removes it from the
// registry. A Close event is dispatched for every connection dropped.
func (r *Registry) CloseEndpoint(ep *Endpoint) error {
	const op = "rpc.CloseEndpoint"

	// Unregister first so no new connect callback can fire for this URL.
	r.tr.UnregisterHandler(ep.url)
	r.probes.Unregister("endpoint:" + ep.url)

	r.mu.Lock()
	if ep.closed {
		r.mu.Unlock()
		return rpcerr.New(rpcerr.EndpointMissing, op, errors.New(ep.url))
	}
	ep.closed = true
	var conns []transport.Conn
	var ids []int
	for i, s := range ep.slots {
		if s != nil {
			conns = append(conns, s.conn)
			ids = append(ids, i)
			ep.teardownSlotLocked(i)
		}
	}
	ep.nconns = 0
	ep.slots = nil
	ep.binds = make(map[string]RPCFunc)
	delete(r.endpoints, ep.url)
	r.mu.Unlock()

	for i, conn := range conns {
		_ = conn.Close()
		ep.dispatchEvent(ids[i], EventClose)
	}
	r.log.Info("endpoint closed", zap.String("url", ep.url), zap.Int("dropped_conns", len(conns)))
	return nil
}

// Destroy shuts the transport down, closes every remaining endpoint, and
// drains the callback dispatcher. Destroy is idempotent.
func (r *Registry) Destroy() error {
	const op = "rpc.Destroy"

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return nil
	}
	r.destroyed = true
	eps := make([]*Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		eps = append(eps, ep)
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout)
	defer cancel()
	err := r.tr.Shutdown(ctx)
	if err != nil {
		r.log.Warn("transport shutdown", zap.Error(err))
	}

	for _, ep := range eps {
		if cerr := r.CloseEndpoint(ep); cerr != nil {
			r.log.Warn("closing endpoint during destroy", zap.String("url", ep.url), zap.Error(cerr))
		}
	}
	r.disp.Close()
	_ = r.log.Sync()
	if err != nil {
		return rpcerr.New(rpcerr.ServerStart, op, fmt.Errorf("shutdown: %w", err))
	}
	return nil
}
