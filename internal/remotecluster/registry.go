// Copyright (c) 2018, Postgres Professional

// RemoteClusterRegistry maintains named, pooled handles to publisher
// clusters, opened synchronously by Connect. Per spec.md §9 ("global mutable registries...
// surface them as explicitly-injected collaborators"), this is owned and
// injected by the Supervisor rather than a package-level singleton.
package remotecluster

import (
	"context"
	"fmt"
	"sync"

	"postgrespro.ru/logicalrepl/internal/connectioninfo"
	"postgrespro.ru/logicalrepl/internal/hplog"
)

type entry struct {
	client Client
	info   *connectioninfo.ConnectionInfo
}

type Registry struct {
	log     *hplog.Logger
	factory Factory

	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry(log *hplog.Logger, factory Factory) *Registry {
	if factory == nil {
		factory = DefaultFactory
	}
	return &Registry{
		log:     log,
		factory: factory,
		entries: map[string]*entry{},
	}
}

// Connect is idempotent: if name is already connected with an equivalent
// ConnectionInfo, the existing client is returned; otherwise a new one is
// opened. The handshake happens synchronously on the caller's goroutine —
// callers on the cluster-state applier thread must dispatch this to the
// generic pool themselves, per spec.md §5.
func (r *Registry) Connect(ctx context.Context, name string, ci *connectioninfo.ConnectionInfo) (Client, error) {
	r.mu.Lock()
	if e, ok := r.entries[name]; ok {
		if e.info.Equivalent(ci) {
			r.mu.Unlock()
			return e.client, nil
		}
		// info changed: drop the stale client before reconnecting.
		delete(r.entries, name)
		r.mu.Unlock()
		e.client.Close()
	} else {
		r.mu.Unlock()
	}

	client, err := r.factory(ctx, name, ci)
	if err != nil {
		return nil, fmt.Errorf("connect remote cluster %q: %w", name, err)
	}

	r.mu.Lock()
	if existing, ok := r.entries[name]; ok {
		// lost a race with a concurrent Connect/Remove; keep whichever
		// was installed first and close ours.
		r.mu.Unlock()
		client.Close()
		return existing.client, nil
	}
	r.entries[name] = &entry{client: client, info: ci}
	r.mu.Unlock()

	r.log.Infof("connected remote cluster %q at %v", name, ci.SafeConnectionString())
	return client, nil
}

// GetClient returns the client for name, or an error if it is not
// connected.
func (r *Registry) GetClient(name string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("remote cluster %q is not connected", name)
	}
	return e.client, nil
}

// Remove closes and forgets the client for name. Safe to call when name
// is not connected.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	r.mu.Unlock()
	if ok {
		e.client.Close()
		r.log.Infof("disconnected remote cluster %q", name)
	}
}

// Close tears down every connected client, e.g. during Supervisor
// shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = map[string]*entry{}
	r.mu.Unlock()
	for name, e := range entries {
		e.client.Close()
		r.log.Infof("disconnected remote cluster %q", name)
	}
}
