package sandbox

import (
	"time"

	"github.com/orbitfaas/orbit/pkg/types"
)

// Options configures one sandbox instance. The source is the deployment's
// compiled/bundled JS; limits come from the deployment descriptor.
type Options struct {
	// Source is the bundled JavaScript for the deployment.
	Source string

	// MemoryLimitMB caps the sandbox heap. Zero means no limit.
	MemoryLimitMB int

	// Environment variables exposed to the deployment as env bindings.
	Environment map[string]string
}

// Result is the outcome of one successful invocation inside a sandbox.
type Result struct {
	Status  int
	Headers map[string]string
	Body    []byte
	Logs    []types.ConsoleLine
}

// Sandbox is one isolated JS runtime bound to a single deployment version.
// Implementations are not safe for concurrent invocations on the same
// instance; callers must serialize Invoke.
type Sandbox interface {
	// Invoke runs the deployment's fetch handler against the request,
	// racing it against the deadline. A deadline overrun returns
	// errors.ErrExecutionTimeout; an uncaught script error returns
	// errors.ErrRuntimeFault. Console output produced during the call is
	// returned on the Result (and on timeout/fault, discarded with it).
	Invoke(req *types.InvocationRequest, deadline time.Time) (*Result, error)

	// Interrupt aborts any script currently running. Safe to call from
	// another goroutine; used by forced teardown.
	Interrupt()

	// Healthy reports whether the runtime is still fit for reuse. A
	// sandbox that was interrupted mid-script or panicked reports false
	// and must be replaced rather than invoked again.
	Healthy() bool

	// Close disposes the underlying runtime. The sandbox is unusable
	// afterwards.
	Close()
}

// Factory constructs sandboxes. The pool depends on this rather than on a
// concrete engine so tests can substitute fakes.
type Factory func(opts Options) (Sandbox, error)
