package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orbitfaas/orbit/pkg/engine/errors"
	"github.com/orbitfaas/orbit/pkg/engine/logging"
	"github.com/orbitfaas/orbit/pkg/engine/resolver"
	"github.com/orbitfaas/orbit/pkg/engine/sandbox"
	"github.com/orbitfaas/orbit/pkg/types"
)

// Options tunes context lifecycle management.
type Options struct {
	// IdleTTL is how long a context may sit idle before the sweeper
	// destroys it.
	IdleTTL time.Duration

	// SweepInterval is how often the idle sweeper runs.
	SweepInterval time.Duration

	// DrainGrace is how long an invalidated context's in-flight invocation
	// may keep running before it is interrupted.
	DrainGrace time.Duration
}

func DefaultOptions() Options {
	return Options{
		IdleTTL:       10 * time.Minute,
		SweepInterval: time.Minute,
		DrainGrace:    30 * time.Second,
	}
}

// entry tracks one identity's slot in the pool. While the context is being
// created the entry acts as a pending marker: ready is closed when creation
// finishes, and concurrent acquirers wait on it instead of racing to build
// their own sandbox.
type entry struct {
	ready chan struct{}
	ec    *ExecutionContext
	err   error
}

// Pool owns all warm execution contexts on this node. It guarantees at most
// one context per deployment identity, single-flight creation, serialized
// invocations per context, and eviction on invalidation or idleness.
type Pool struct {
	mu      sync.Mutex
	entries map[types.DeploymentID]*entry
	closed  bool

	resolver resolver.Resolver
	factory  sandbox.Factory
	logger   logging.Logger
	opts     Options

	generation  atomic.Uint64
	sweepTicker *time.Ticker
}

func New(res resolver.Resolver, factory sandbox.Factory, logger logging.Logger, opts Options) *Pool {
	return &Pool{
		entries:  make(map[types.DeploymentID]*entry),
		resolver: res,
		factory:  factory,
		logger:   logger,
		opts:     opts,
	}
}

// Lease is one granted invocation turn on an execution context. Release is
// idempotent; the pool destroys evicting contexts when their last lease is
// returned.
type Lease struct {
	pool     *Pool
	ec       *ExecutionContext
	released atomic.Bool
}

// Context returns the leased execution context.
func (l *Lease) Context() *ExecutionContext { return l.ec }

// Invoke runs the request on the leased context.
func (l *Lease) Invoke(req *types.InvocationRequest, deadline time.Time) (*sandbox.Result, error) {
	return l.ec.invoke(req, deadline)
}

// MarkFaulted flags the leased context for destruction on release. Used
// when an invocation leaves the sandbox in a state not worth reusing.
func (l *Lease) MarkFaulted() {
	l.ec.markEvicting()
}

// Release returns the run slot. Exactly one release takes effect no matter
// how many times it is called.
func (l *Lease) Release() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	l.ec.touch()
	<-l.ec.slot
	if l.ec.isEvicting() {
		l.pool.discard(l.ec.id, l.ec)
	}
}

// Acquire returns a lease on the warm context for id, creating one if
// needed. Creation is single-flight: concurrent acquirers for the same
// identity share one sandbox build. Acquire blocks while another invocation
// holds the context's run slot.
func (p *Pool) Acquire(ctx context.Context, id types.DeploymentID) (*Lease, error) {
	for {
		ec, err := p.lookupOrCreate(ctx, id)
		if err != nil {
			return nil, err
		}

		select {
		case ec.slot <- struct{}{}:
		case <-ctx.Done():
			return nil, errors.Wrap(errors.DomainExecution, errors.CodeExecutionCancelled,
				"gave up waiting for execution context", ctx.Err()).
				WithDeployment(id.FunctionID, id.VersionID)
		}

		// The context may have been invalidated while we waited for the
		// slot. Drop it and build a fresh one.
		if ec.isEvicting() {
			<-ec.slot
			p.discard(id, ec)
			continue
		}

		return &Lease{pool: p, ec: ec}, nil
	}
}

func (p *Pool) lookupOrCreate(ctx context.Context, id types.DeploymentID) (*ExecutionContext, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errors.ErrPoolShutdown
		}

		if e, ok := p.entries[id]; ok {
			p.mu.Unlock()

			select {
			case <-e.ready:
			case <-ctx.Done():
				return nil, errors.Wrap(errors.DomainExecution, errors.CodeExecutionCancelled,
					"gave up waiting for context creation", ctx.Err()).
					WithDeployment(id.FunctionID, id.VersionID)
			}

			if e.err != nil {
				return nil, e.err
			}
			if e.ec.isEvicting() {
				// The old context may still be draining an invocation.
				// Unhook it so a fresh one can be built; whoever holds the
				// run slot destroys it.
				p.detach(id, e.ec)
				continue
			}
			return e.ec, nil
		}

		// Miss: install a pending marker and build the context outside
		// the lock. Waiters pile up on the ready channel.
		e := &entry{ready: make(chan struct{})}
		p.entries[id] = e
		p.mu.Unlock()

		e.ec, e.err = p.create(ctx, id)
		if e.err != nil {
			// Failed creations are not cached: remove the marker so a
			// later acquire can retry, then release the waiters.
			p.mu.Lock()
			if cur, ok := p.entries[id]; ok && cur == e {
				delete(p.entries, id)
			}
			p.mu.Unlock()
			close(e.ready)
			return nil, e.err
		}

		close(e.ready)
		return e.ec, nil
	}
}

func (p *Pool) create(ctx context.Context, id types.DeploymentID) (*ExecutionContext, error) {
	dep, err := p.resolver.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	sb, err := p.factory(sandbox.Options{
		Source:        string(dep.Bundle),
		MemoryLimitMB: dep.Descriptor.MemoryLimitMB,
		Environment:   dep.Descriptor.Environment,
	})
	if err != nil {
		return nil, err
	}

	gen := p.generation.Add(1)
	p.logger.Debugf("Created execution context for %s (generation %d)", id, gen)
	return newExecutionContext(id, gen, sb, dep.Descriptor), nil
}

// Invalidate retires contexts for a function. An empty versionID retires
// every version; otherwise only the named one. Idle contexts are destroyed
// immediately; busy ones are flagged and destroyed when their invocation
// drains, with a forced interrupt after the drain grace. Idempotent: a
// second invalidation of the same identity is a no-op. Returns the number
// of contexts affected.
func (p *Pool) Invalidate(functionID, versionID string) int {
	type victim struct {
		id types.DeploymentID
		e  *entry
	}

	p.mu.Lock()
	var victims []victim
	for id, e := range p.entries {
		if id.FunctionID != functionID {
			continue
		}
		if versionID != "" && id.VersionID != versionID {
			continue
		}
		victims = append(victims, victim{id: id, e: e})
	}
	p.mu.Unlock()

	for _, v := range victims {
		select {
		case <-v.e.ready:
			p.evictContext(v.id, v.e.ec)
		default:
			// Still warming: evict as soon as creation finishes.
			go func(id types.DeploymentID, e *entry) {
				<-e.ready
				if e.err == nil {
					p.evictContext(id, e.ec)
				}
			}(v.id, v.e)
		}
	}

	if len(victims) > 0 {
		p.logger.Printf("Invalidated %d execution context(s) for function %s", len(victims), functionID)
	}
	return len(victims)
}

func (p *Pool) evictContext(id types.DeploymentID, ec *ExecutionContext) {
	if ec == nil {
		return
	}
	ec.markEvicting()

	select {
	case ec.slot <- struct{}{}:
		// Idle: nothing in flight, destroy now.
		p.discard(id, ec)
		<-ec.slot
	default:
		// Busy: the release path destroys it once the invocation drains.
		// Force the issue if the drain outlives the grace period.
		if p.opts.DrainGrace > 0 {
			time.AfterFunc(p.opts.DrainGrace, func() {
				if !ec.destroyed.Load() {
					p.logger.Errorf("Context for %s did not drain within %s, interrupting", id, p.opts.DrainGrace)
					ec.interrupt()
				}
			})
		}
	}
}

// detach removes the entry for id if it still refers to ec. Safe against
// the entry having been replaced by a newer generation. The context itself
// is left alone; callers that hold its run slot use discard instead.
func (p *Pool) detach(id types.DeploymentID, ec *ExecutionContext) {
	p.mu.Lock()
	if e, ok := p.entries[id]; ok && e.ec == ec {
		delete(p.entries, id)
	}
	p.mu.Unlock()
}

// discard detaches the entry and destroys the context. Only callers that
// hold the run slot (or know nothing is in flight) may destroy.
func (p *Pool) discard(id types.DeploymentID, ec *ExecutionContext) {
	p.detach(id, ec)
	ec.destroy()
}

// StartSweeper launches the idle sweep loop. It stops when ctx is done or
// the pool shuts down.
func (p *Pool) StartSweeper(ctx context.Context) {
	if p.opts.SweepInterval <= 0 {
		return
	}
	p.logger.Printf("Starting context idle sweeper (interval %s, ttl %s)", p.opts.SweepInterval, p.opts.IdleTTL)
	p.sweepTicker = time.NewTicker(p.opts.SweepInterval)

	go func() {
		for {
			select {
			case <-p.sweepTicker.C:
				p.sweepIdle()
			case <-ctx.Done():
				p.sweepTicker.Stop()
				return
			}
		}
	}()
}

func (p *Pool) sweepIdle() {
	if p.opts.IdleTTL <= 0 {
		return
	}

	type candidate struct {
		id types.DeploymentID
		ec *ExecutionContext
	}

	now := time.Now()
	p.mu.Lock()
	var candidates []candidate
	for id, e := range p.entries {
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.err != nil || e.ec.isEvicting() {
			continue
		}
		if now.Sub(e.ec.LastUsed()) > p.opts.IdleTTL {
			candidates = append(candidates, candidate{id: id, ec: e.ec})
		}
	}
	p.mu.Unlock()

	for _, c := range candidates {
		// Take the run slot so we never destroy a context mid-invocation.
		select {
		case c.ec.slot <- struct{}{}:
			c.ec.markEvicting()
			p.discard(c.id, c.ec)
			<-c.ec.slot
			p.logger.Debugf("Swept idle execution context for %s", c.id)
		default:
			// Became busy since the scan; leave it for the next sweep.
		}
	}
}

// Len returns the number of contexts currently tracked, including ones
// still warming.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// LoadedIDs returns the identities with a tracked context.
func (p *Pool) LoadedIDs() []types.DeploymentID {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]types.DeploymentID, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown stops the sweeper and destroys every context. Acquire returns
// ErrPoolShutdown afterwards.
func (p *Pool) Shutdown() {
	if p.sweepTicker != nil {
		p.sweepTicker.Stop()
	}

	p.mu.Lock()
	p.closed = true
	remaining := make(map[types.DeploymentID]*entry, len(p.entries))
	for id, e := range p.entries {
		remaining[id] = e
	}
	p.entries = make(map[types.DeploymentID]*entry)
	p.mu.Unlock()

	for id, e := range remaining {
		select {
		case <-e.ready:
		default:
			continue
		}
		if e.err != nil {
			continue
		}
		e.ec.markEvicting()
		e.ec.interrupt()
		e.ec.destroy()
		p.logger.Debugf("Destroyed execution context for %s during shutdown", id)
	}
}
