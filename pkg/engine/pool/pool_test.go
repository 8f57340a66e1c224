package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitfaas/orbit/pkg/engine/errors"
	"github.com/orbitfaas/orbit/pkg/engine/logging"
	"github.com/orbitfaas/orbit/pkg/engine/resolver"
	"github.com/orbitfaas/orbit/pkg/engine/sandbox"
	"github.com/orbitfaas/orbit/pkg/types"
)

type fakeSandbox struct {
	mu          sync.Mutex
	invokes     int
	closed      bool
	interrupted bool
	unhealthy   bool
	invokeErr   error
	block       chan struct{}
}

func (s *fakeSandbox) Invoke(req *types.InvocationRequest, deadline time.Time) (*sandbox.Result, error) {
	s.mu.Lock()
	s.invokes++
	block := s.block
	err := s.invokeErr
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &sandbox.Result{Status: 200, Body: []byte("ok")}, nil
}

func (s *fakeSandbox) Interrupt() {
	s.mu.Lock()
	s.interrupted = true
	s.mu.Unlock()
}

func (s *fakeSandbox) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unhealthy
}

func (s *fakeSandbox) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSandbox) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

type poolFixture struct {
	pool     *Pool
	resolver *resolver.StaticResolver
	factory  *countingFactory
}

type countingFactory struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	built []*fakeSandbox
}

func (f *countingFactory) build(opts sandbox.Options) (sandbox.Sandbox, error) {
	f.mu.Lock()
	f.calls++
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	sb := &fakeSandbox{}
	f.mu.Lock()
	f.built = append(f.built, sb)
	f.mu.Unlock()
	return sb, nil
}

func (f *countingFactory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *countingFactory) lastBuilt() *fakeSandbox {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil
	}
	return f.built[len(f.built)-1]
}

func setupPool(t *testing.T, opts Options) *poolFixture {
	t.Helper()

	res := resolver.NewStaticResolver()
	factory := &countingFactory{}
	p := New(res, factory.build, logging.NewStdLogger(nopWriter{}), opts)
	t.Cleanup(p.Shutdown)

	return &poolFixture{pool: p, resolver: res, factory: factory}
}

func registerDeployment(f *poolFixture, function, version string) types.DeploymentID {
	id := types.NewDeploymentID(function, version)
	f.resolver.Register(&resolver.Deployment{
		ID:         id,
		Bundle:     []byte("export default { fetch() {} }"),
		Descriptor: types.Descriptor{MemoryLimitMB: 64, Timeout: time.Second},
	})
	return id
}

func TestAcquireInvokeRelease(t *testing.T) {
	f := setupPool(t, DefaultOptions())
	id := registerDeployment(f, "checkout", "v1")

	lease, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)

	res, err := lease.Invoke(&types.InvocationRequest{Method: "GET", Path: "/"}, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 200, res.Status)

	lease.Release()
	assert.Equal(t, 1, f.pool.Len())
	assert.Equal(t, StateIdle, lease.Context().State())
}

func TestAcquireUnknownDeployment(t *testing.T) {
	f := setupPool(t, DefaultOptions())

	_, err := f.pool.Acquire(context.Background(), types.NewDeploymentID("nope", "v1"))
	assert.ErrorIs(t, err, errors.ErrDeploymentNotFound)
	assert.Zero(t, f.pool.Len())
}

func TestFailedResolveNotCached(t *testing.T) {
	f := setupPool(t, DefaultOptions())
	id := types.NewDeploymentID("late", "v1")

	_, err := f.pool.Acquire(context.Background(), id)
	require.ErrorIs(t, err, errors.ErrDeploymentNotFound)

	// The deployment shows up afterwards; the earlier failure must not
	// poison the entry.
	registerDeployment(f, "late", "v1")
	lease, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	lease.Release()
}

func TestSingleFlightCreation(t *testing.T) {
	f := setupPool(t, DefaultOptions())
	f.factory.delay = 50 * time.Millisecond
	id := registerDeployment(f, "checkout", "v1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := f.pool.Acquire(context.Background(), id)
			if assert.NoError(t, err) {
				lease.Release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.factory.callCount())
	assert.Equal(t, 1, f.pool.Len())
}

func TestInvocationsSerialized(t *testing.T) {
	f := setupPool(t, DefaultOptions())
	id := registerDeployment(f, "checkout", "v1")

	first, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)

	var second atomic.Pointer[Lease]
	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		lease, err := f.pool.Acquire(context.Background(), id)
		if err == nil {
			second.Store(lease)
		}
	}()

	// The second acquire must block while the first lease is held.
	select {
	case <-acquired:
		t.Fatal("second acquire did not wait for the run slot")
	case <-time.After(30 * time.Millisecond):
	}

	first.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never got the slot")
	}
	require.NotNil(t, second.Load())
	second.Load().Release()
}

func TestAcquireCancelledWhileWaiting(t *testing.T) {
	f := setupPool(t, DefaultOptions())
	id := registerDeployment(f, "checkout", "v1")

	lease, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = f.pool.Acquire(ctx, id)
	assert.True(t, errors.HasCode(err, errors.DomainExecution, errors.CodeExecutionCancelled))
}

func TestInvalidateIdleContext(t *testing.T) {
	f := setupPool(t, DefaultOptions())
	id := registerDeployment(f, "checkout", "v1")

	lease, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	sb := f.factory.lastBuilt()
	lease.Release()

	n := f.pool.Invalidate("checkout", "v1")
	assert.Equal(t, 1, n)
	assert.True(t, sb.isClosed())
	assert.Zero(t, f.pool.Len())

	// Invalidating again finds nothing.
	assert.Zero(t, f.pool.Invalidate("checkout", "v1"))
}

func TestInvalidateAllVersions(t *testing.T) {
	f := setupPool(t, DefaultOptions())
	v1 := registerDeployment(f, "checkout", "v1")
	v2 := registerDeployment(f, "checkout", "v2")
	other := registerDeployment(f, "other", "v1")

	for _, id := range []types.DeploymentID{v1, v2, other} {
		lease, err := f.pool.Acquire(context.Background(), id)
		require.NoError(t, err)
		lease.Release()
	}

	assert.Equal(t, 2, f.pool.Invalidate("checkout", ""))
	assert.Equal(t, 1, f.pool.Len())
}

func TestInvalidateBusyContextDrains(t *testing.T) {
	f := setupPool(t, Options{IdleTTL: time.Minute, DrainGrace: time.Minute})
	id := registerDeployment(f, "checkout", "v1")

	lease, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	sb := f.factory.lastBuilt()

	n := f.pool.Invalidate("checkout", "v1")
	assert.Equal(t, 1, n)
	assert.False(t, sb.isClosed(), "busy context must not be destroyed mid-invocation")

	lease.Release()
	assert.True(t, sb.isClosed())
	assert.Zero(t, f.pool.Len())
}

func TestReacquireDuringDrainKeepsBusyContextAlive(t *testing.T) {
	f := setupPool(t, Options{IdleTTL: time.Minute, DrainGrace: time.Minute})
	id := registerDeployment(f, "checkout", "v1")

	first, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	oldSB := f.factory.lastBuilt()
	oldSB.block = make(chan struct{})

	// Keep an invocation in flight while the identity is invalidated.
	invoked := make(chan struct{})
	go func() {
		defer close(invoked)
		_, _ = first.Invoke(&types.InvocationRequest{Method: "GET", Path: "/"}, time.Now().Add(time.Minute))
	}()
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, 1, f.pool.Invalidate("checkout", "v1"))

	// A new acquire for the same identity must get a fresh context without
	// tearing down the one still executing.
	second, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, f.factory.callCount())
	assert.Greater(t, second.Context().Generation(), first.Context().Generation())
	assert.False(t, oldSB.isClosed(), "draining context must not be destroyed by a concurrent acquire")
	second.Release()

	// Once the invocation drains and the lease is returned, the old
	// context is destroyed.
	close(oldSB.block)
	<-invoked
	first.Release()
	assert.True(t, oldSB.isClosed())
}

func TestInvalidateBusyContextInterruptedAfterGrace(t *testing.T) {
	f := setupPool(t, Options{IdleTTL: time.Minute, DrainGrace: 20 * time.Millisecond})
	id := registerDeployment(f, "checkout", "v1")

	lease, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	sb := f.factory.lastBuilt()

	f.pool.Invalidate("checkout", "v1")

	assert.Eventually(t, func() bool {
		sb.mu.Lock()
		defer sb.mu.Unlock()
		return sb.interrupted
	}, time.Second, 5*time.Millisecond)

	lease.Release()
}

func TestReacquireAfterInvalidateGetsNewGeneration(t *testing.T) {
	f := setupPool(t, DefaultOptions())
	id := registerDeployment(f, "checkout", "v1")

	lease, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	gen := lease.Context().Generation()
	lease.Release()

	f.pool.Invalidate("checkout", "v1")

	lease, err = f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	defer lease.Release()

	assert.Greater(t, lease.Context().Generation(), gen)
	assert.Equal(t, 2, f.factory.callCount())
}

func TestUnhealthySandboxReplaced(t *testing.T) {
	f := setupPool(t, DefaultOptions())
	id := registerDeployment(f, "checkout", "v1")

	lease, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	sb := f.factory.lastBuilt()

	// Simulate an interrupted script: the sandbox reports unhealthy after
	// the invocation and the context must not be reused.
	sb.mu.Lock()
	sb.unhealthy = true
	sb.mu.Unlock()

	_, _ = lease.Invoke(&types.InvocationRequest{Method: "GET", Path: "/"}, time.Now().Add(time.Second))
	lease.Release()
	assert.True(t, sb.isClosed())

	lease, err = f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	defer lease.Release()
	assert.Equal(t, 2, f.factory.callCount())
}

func TestMarkFaulted(t *testing.T) {
	f := setupPool(t, DefaultOptions())
	id := registerDeployment(f, "checkout", "v1")

	lease, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	sb := f.factory.lastBuilt()

	lease.MarkFaulted()
	lease.Release()

	assert.True(t, sb.isClosed())
	assert.Zero(t, f.pool.Len())
}

func TestLeaseReleaseIdempotent(t *testing.T) {
	f := setupPool(t, DefaultOptions())
	id := registerDeployment(f, "checkout", "v1")

	lease, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)

	lease.Release()
	lease.Release()

	// The slot is free again; a fresh acquire succeeds immediately.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	next, err := f.pool.Acquire(ctx, id)
	require.NoError(t, err)
	next.Release()
}

func TestSweepIdle(t *testing.T) {
	f := setupPool(t, Options{IdleTTL: 10 * time.Millisecond, DrainGrace: time.Minute})
	id := registerDeployment(f, "checkout", "v1")

	lease, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	sb := f.factory.lastBuilt()
	lease.Release()

	time.Sleep(20 * time.Millisecond)
	f.pool.sweepIdle()

	assert.Zero(t, f.pool.Len())
	assert.True(t, sb.isClosed())
}

func TestSweepIdleSkipsBusyContext(t *testing.T) {
	f := setupPool(t, Options{IdleTTL: time.Nanosecond, DrainGrace: time.Minute})
	id := registerDeployment(f, "checkout", "v1")

	lease, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	defer lease.Release()

	time.Sleep(5 * time.Millisecond)
	f.pool.sweepIdle()

	assert.Equal(t, 1, f.pool.Len())
}

func TestShutdown(t *testing.T) {
	f := setupPool(t, DefaultOptions())
	id := registerDeployment(f, "checkout", "v1")

	lease, err := f.pool.Acquire(context.Background(), id)
	require.NoError(t, err)
	sb := f.factory.lastBuilt()
	lease.Release()

	f.pool.Shutdown()
	assert.True(t, sb.isClosed())

	_, err = f.pool.Acquire(context.Background(), id)
	assert.ErrorIs(t, err, errors.ErrPoolShutdown)
}
