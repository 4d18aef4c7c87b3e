// Package gate implements the dual bounded-concurrency semaphore that caps
// simultaneous upstream requests separately for proxy-bearing and
// direct-dial tasks.
package gate

import (
	"context"
	"fmt"
)

// Semaphore is a context-aware counting semaphore backed by a buffered
// channel, acquired with a release func so every exit path (including a
// panic recovered upstream) can release deterministically via defer.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore builds a Semaphore with the given permit capacity.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &Semaphore{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a permit is free or ctx is done. The returned release
// func must be called exactly once; it is not idempotent, and a second call
// frees a permit held by another caller (or blocks when none is held).
func (s *Semaphore) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("gate: acquire cancelled: %w", ctx.Err())
	}
}

// InUse reports the number of permits currently held, for metrics.
func (s *Semaphore) InUse() int { return len(s.slots) }

// Capacity reports the semaphore's total permit count.
func (s *Semaphore) Capacity() int { return cap(s.slots) }

// Gate is the dual-semaphore concurrency limiter: tasks carrying a proxy
// draw from the larger pool, direct-dial tasks from the smaller one.
type Gate struct {
	noProxy *Semaphore
	proxy   *Semaphore
}

// New builds a Gate with the configured no-proxy and proxy-bearing permit
// counts (5 and 20 by default per the worker's runtime configuration).
func New(noProxyPermits, proxyPermits int) *Gate {
	return &Gate{
		noProxy: NewSemaphore(noProxyPermits),
		proxy:   NewSemaphore(proxyPermits),
	}
}

// Acquire selects the appropriate semaphore for usesProxy and blocks until a
// permit is available or ctx is cancelled.
func (g *Gate) Acquire(ctx context.Context, usesProxy bool) (release func(), err error) {
	if usesProxy {
		return g.proxy.Acquire(ctx)
	}
	return g.noProxy.Acquire(ctx)
}

// NoProxyInUse reports the no-proxy semaphore's current permit usage.
func (g *Gate) NoProxyInUse() int { return g.noProxy.InUse() }

// ProxyInUse reports the proxy-bearing semaphore's current permit usage.
func (g *Gate) ProxyInUse() int { return g.proxy.InUse() }

// NoProxyCapacity reports the no-proxy semaphore's total permits.
func (g *Gate) NoProxyCapacity() int { return g.noProxy.Capacity() }

// ProxyCapacity reports the proxy-bearing semaphore's total permits.
func (g *Gate) ProxyCapacity() int { return g.proxy.Capacity() }
