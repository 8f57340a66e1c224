package pool

import (
	"sync/atomic"
	"time"

	"github.com/orbitfaas/orbit/pkg/engine/sandbox"
	"github.com/orbitfaas/orbit/pkg/types"
)

// State describes where an execution context is in its lifecycle.
type State string

const (
	// StateIdle means the context is warm and no invocation holds it.
	StateIdle State = "idle"
	// StateBusy means an invocation currently holds the run slot.
	StateBusy State = "busy"
	// StateEvicting means the context has been invalidated and will be
	// destroyed once its in-flight invocation drains.
	StateEvicting State = "evicting"
	// StateClosed means the underlying sandbox has been disposed.
	StateClosed State = "closed"
)

// ExecutionContext is one warm sandbox bound to a single deployment
// identity. Invocations on the same context are serialized through a
// capacity-1 run slot; the pool hands the slot out via leases.
type ExecutionContext struct {
	id         types.DeploymentID
	generation uint64
	descriptor types.Descriptor
	sandbox    sandbox.Sandbox

	slot      chan struct{}
	lastUsed  atomic.Int64
	evicting  atomic.Bool
	destroyed atomic.Bool
}

func newExecutionContext(id types.DeploymentID, generation uint64, sb sandbox.Sandbox, descriptor types.Descriptor) *ExecutionContext {
	ec := &ExecutionContext{
		id:         id,
		generation: generation,
		descriptor: descriptor,
		sandbox:    sb,
		slot:       make(chan struct{}, 1),
	}
	ec.touch()
	return ec
}

// ID returns the deployment identity this context serves.
func (ec *ExecutionContext) ID() types.DeploymentID { return ec.id }

// Generation returns the pool-wide creation counter value assigned when
// this context was built. A context created after an invalidation always
// carries a higher generation than the one it replaced.
func (ec *ExecutionContext) Generation() uint64 { return ec.generation }

// Descriptor returns the deployment's declared limits.
func (ec *ExecutionContext) Descriptor() types.Descriptor { return ec.descriptor }

// State reports the context's current lifecycle state. Racy by nature;
// intended for stats and tests, not for control flow.
func (ec *ExecutionContext) State() State {
	switch {
	case ec.destroyed.Load():
		return StateClosed
	case ec.evicting.Load():
		return StateEvicting
	case len(ec.slot) > 0:
		return StateBusy
	default:
		return StateIdle
	}
}

// LastUsed returns when the context last started or finished an invocation.
func (ec *ExecutionContext) LastUsed() time.Time {
	return time.Unix(0, ec.lastUsed.Load())
}

func (ec *ExecutionContext) touch() {
	ec.lastUsed.Store(time.Now().UnixNano())
}

func (ec *ExecutionContext) markEvicting() {
	ec.evicting.Store(true)
}

func (ec *ExecutionContext) isEvicting() bool {
	return ec.evicting.Load()
}

// invoke runs one request on the sandbox. The caller must hold the run slot.
// A sandbox that comes back unhealthy (interrupted or panicked) flags the
// context for eviction so the next acquire builds a fresh one.
func (ec *ExecutionContext) invoke(req *types.InvocationRequest, deadline time.Time) (*sandbox.Result, error) {
	ec.touch()
	res, err := ec.sandbox.Invoke(req, deadline)
	ec.touch()
	if !ec.sandbox.Healthy() {
		ec.markEvicting()
	}
	return res, err
}

// destroy disposes the sandbox exactly once.
func (ec *ExecutionContext) destroy() {
	if !ec.destroyed.CompareAndSwap(false, true) {
		return
	}
	ec.sandbox.Close()
}

// interrupt aborts any script running in the sandbox.
func (ec *ExecutionContext) interrupt() {
	ec.sandbox.Interrupt()
}
