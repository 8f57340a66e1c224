package governor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orbitfaas/orbit/pkg/engine/errors"
	"github.com/orbitfaas/orbit/pkg/engine/logging"
	"github.com/orbitfaas/orbit/pkg/types"
)

// Options defines the admission ceilings.
type Options struct {
	// MaxConcurrent caps in-flight invocations across all deployments.
	MaxConcurrent int

	// MaxPerDeployment caps in-flight invocations per deployment identity.
	// Contexts serialize invocations anyway, so values above 1 only govern
	// how many requests may wait on one context's run slot.
	MaxPerDeployment int

	// MaxQueueDepth is how many requests may wait for a slot before new
	// arrivals are rejected outright. Zero disables queueing: a full node
	// rejects immediately.
	MaxQueueDepth int

	// QueueWait is how long a queued request may wait for a slot before it
	// is rejected.
	QueueWait time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxConcurrent:    100,
		MaxPerDeployment: 1,
		MaxQueueDepth:    50,
		QueueWait:        5 * time.Second,
	}
}

// Governor is the node's admission controller. Every invocation passes
// through Admit before touching the context pool; a denial maps to the
// rejected outcome and never reaches a sandbox.
type Governor struct {
	opts   Options
	logger logging.Logger

	globalSem chan struct{}

	deploySems  map[types.DeploymentID]chan struct{}
	deploySemMu sync.Mutex

	queued atomic.Int64
}

func New(logger logging.Logger, opts Options) *Governor {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.MaxPerDeployment <= 0 {
		opts.MaxPerDeployment = 1
	}
	return &Governor{
		opts:       opts,
		logger:     logger,
		globalSem:  make(chan struct{}, opts.MaxConcurrent),
		deploySems: make(map[types.DeploymentID]chan struct{}),
	}
}

// Ticket is one admitted invocation. Release returns both slots; exactly
// one release takes effect.
type Ticket struct {
	gov      *Governor
	sem      chan struct{}
	released atomic.Bool
}

func (t *Ticket) Release() {
	if !t.released.CompareAndSwap(false, true) {
		return
	}
	select {
	case <-t.sem:
	default:
		t.gov.logger.Errorf("Released a deployment slot that was not held")
	}
	select {
	case <-t.gov.globalSem:
	default:
		t.gov.logger.Errorf("Released a global slot that was not held")
	}
}

// Admit acquires a global and a per-deployment slot for one invocation.
// When either ceiling is hit the request queues, bounded by MaxQueueDepth
// and QueueWait; past either bound it returns ErrRejected.
func (g *Governor) Admit(ctx context.Context, id types.DeploymentID) (*Ticket, error) {
	sem := g.getDeploymentSemaphore(id)

	// Fast path: both slots free, no queueing.
	select {
	case g.globalSem <- struct{}{}:
		select {
		case sem <- struct{}{}:
			return &Ticket{gov: g, sem: sem}, nil
		default:
			<-g.globalSem
		}
	default:
	}

	if g.opts.MaxQueueDepth <= 0 {
		return nil, errors.ErrRejected.WithDeployment(id.FunctionID, id.VersionID)
	}

	// Slow path: join the bounded queue and wait out the ceilings.
	if g.queued.Add(1) > int64(g.opts.MaxQueueDepth) {
		g.queued.Add(-1)
		return nil, errors.ErrRejected.WithDeployment(id.FunctionID, id.VersionID).
			WithDetails(map[string]interface{}{"reason": "queue_full"})
	}
	defer g.queued.Add(-1)

	wait, cancel := context.WithTimeout(ctx, g.opts.QueueWait)
	defer cancel()

	select {
	case g.globalSem <- struct{}{}:
	case <-wait.Done():
		return nil, errors.ErrRejected.WithDeployment(id.FunctionID, id.VersionID).
			WithDetails(map[string]interface{}{"reason": "queue_wait_exceeded"}).
			WithCause(wait.Err())
	}

	select {
	case sem <- struct{}{}:
		return &Ticket{gov: g, sem: sem}, nil
	case <-wait.Done():
		<-g.globalSem
		return nil, errors.ErrRejected.WithDeployment(id.FunctionID, id.VersionID).
			WithDetails(map[string]interface{}{"reason": "queue_wait_exceeded"}).
			WithCause(wait.Err())
	}
}

// Forget drops the per-deployment semaphore for an identity that will not
// be invoked again. In-flight tickets still release cleanly against the
// old channel.
func (g *Governor) Forget(id types.DeploymentID) {
	g.deploySemMu.Lock()
	delete(g.deploySems, id)
	g.deploySemMu.Unlock()
}

// InFlight returns the number of invocations currently holding a global slot.
func (g *Governor) InFlight() int {
	return len(g.globalSem)
}

// Queued returns the number of requests currently waiting for admission.
func (g *Governor) Queued() int {
	return int(g.queued.Load())
}

// maxTrackedSemaphores bounds the per-deployment semaphore map. Identities
// that were swept from the pool or invoked once ad hoc would otherwise pin
// an empty channel forever.
const maxTrackedSemaphores = 1024

func (g *Governor) getDeploymentSemaphore(id types.DeploymentID) chan struct{} {
	g.deploySemMu.Lock()
	defer g.deploySemMu.Unlock()

	sem, exists := g.deploySems[id]
	if !exists {
		if len(g.deploySems) >= maxTrackedSemaphores {
			g.reclaimIdleLocked()
		}
		sem = make(chan struct{}, g.opts.MaxPerDeployment)
		g.deploySems[id] = sem
	}
	return sem
}

// reclaimIdleLocked drops semaphores with no slot held, like Forget does
// for removed deployments. In-flight tickets release against the channel
// they hold; the next admit builds a fresh one.
func (g *Governor) reclaimIdleLocked() {
	for id, sem := range g.deploySems {
		if len(sem) == 0 {
			delete(g.deploySems, id)
		}
	}
}
