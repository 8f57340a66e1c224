package governor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitfaas/orbit/pkg/engine/errors"
	"github.com/orbitfaas/orbit/pkg/engine/logging"
	"github.com/orbitfaas/orbit/pkg/types"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestGovernor(opts Options) *Governor {
	return New(logging.NewStdLogger(nopWriter{}), opts)
}

func TestAdmitFastPath(t *testing.T) {
	g := newTestGovernor(Options{MaxConcurrent: 2, MaxPerDeployment: 1})
	id := types.NewDeploymentID("checkout", "v1")

	ticket, err := g.Admit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, g.InFlight())

	ticket.Release()
	assert.Equal(t, 0, g.InFlight())
}

func TestAdmitRejectsWhenGlobalCeilingHitAndNoQueue(t *testing.T) {
	g := newTestGovernor(Options{MaxConcurrent: 1, MaxPerDeployment: 1, MaxQueueDepth: 0})

	first, err := g.Admit(context.Background(), types.NewDeploymentID("a", "v1"))
	require.NoError(t, err)
	defer first.Release()

	_, err = g.Admit(context.Background(), types.NewDeploymentID("b", "v1"))
	assert.ErrorIs(t, err, errors.ErrRejected)
}

func TestAdmitRejectsPerDeploymentCeiling(t *testing.T) {
	g := newTestGovernor(Options{
		MaxConcurrent:    10,
		MaxPerDeployment: 1,
		MaxQueueDepth:    5,
		QueueWait:        50 * time.Millisecond,
	})
	id := types.NewDeploymentID("checkout", "v1")

	first, err := g.Admit(context.Background(), id)
	require.NoError(t, err)
	defer first.Release()

	// Same identity has to wait for the per-deployment slot and times out.
	start := time.Now()
	_, err = g.Admit(context.Background(), id)
	require.ErrorIs(t, err, errors.ErrRejected)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// A different identity sails through.
	other, err := g.Admit(context.Background(), types.NewDeploymentID("other", "v1"))
	require.NoError(t, err)
	other.Release()
}

func TestAdmitQueuedRequestGetsSlotOnRelease(t *testing.T) {
	g := newTestGovernor(Options{
		MaxConcurrent:    1,
		MaxPerDeployment: 1,
		MaxQueueDepth:    5,
		QueueWait:        time.Second,
	})

	first, err := g.Admit(context.Background(), types.NewDeploymentID("a", "v1"))
	require.NoError(t, err)

	admitted := make(chan error, 1)
	go func() {
		ticket, err := g.Admit(context.Background(), types.NewDeploymentID("b", "v1"))
		if err == nil {
			ticket.Release()
		}
		admitted <- err
	}()

	// Give the second admit time to join the queue, then free the slot.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, g.Queued())
	first.Release()

	select {
	case err := <-admitted:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("queued request was never admitted")
	}
}

func TestAdmitQueueFull(t *testing.T) {
	g := newTestGovernor(Options{
		MaxConcurrent:    1,
		MaxPerDeployment: 1,
		MaxQueueDepth:    1,
		QueueWait:        500 * time.Millisecond,
	})

	first, err := g.Admit(context.Background(), types.NewDeploymentID("a", "v1"))
	require.NoError(t, err)
	defer first.Release()

	// Occupy the single queue slot.
	blocked := make(chan struct{})
	go func() {
		defer close(blocked)
		if ticket, err := g.Admit(context.Background(), types.NewDeploymentID("b", "v1")); err == nil {
			ticket.Release()
		}
	}()
	time.Sleep(20 * time.Millisecond)

	// Queue is full now, this one is rejected immediately.
	start := time.Now()
	_, err = g.Admit(context.Background(), types.NewDeploymentID("c", "v1"))
	require.ErrorIs(t, err, errors.ErrRejected)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	<-blocked
}

func TestTicketReleaseIdempotent(t *testing.T) {
	g := newTestGovernor(Options{MaxConcurrent: 2, MaxPerDeployment: 2})
	id := types.NewDeploymentID("checkout", "v1")

	ticket, err := g.Admit(context.Background(), id)
	require.NoError(t, err)

	ticket.Release()
	ticket.Release()
	ticket.Release()

	assert.Equal(t, 0, g.InFlight())
}

func TestIdleSemaphoresReclaimed(t *testing.T) {
	g := newTestGovernor(Options{MaxConcurrent: 4, MaxPerDeployment: 1})

	// One identity stays in flight across the reclamation.
	held := types.NewDeploymentID("held", "v1")
	ticket, err := g.Admit(context.Background(), held)
	require.NoError(t, err)

	for i := 0; i < maxTrackedSemaphores+10; i++ {
		id := types.NewDeploymentID(fmt.Sprintf("fn-%d", i), "v1")
		tk, err := g.Admit(context.Background(), id)
		require.NoError(t, err)
		tk.Release()
	}

	g.deploySemMu.Lock()
	size := len(g.deploySems)
	_, heldTracked := g.deploySems[held]
	g.deploySemMu.Unlock()

	assert.LessOrEqual(t, size, maxTrackedSemaphores)
	assert.True(t, heldTracked, "an identity with a slot held must survive reclamation")

	ticket.Release()
	assert.Equal(t, 0, g.InFlight())
}

func TestForget(t *testing.T) {
	g := newTestGovernor(Options{MaxConcurrent: 4, MaxPerDeployment: 1})
	id := types.NewDeploymentID("checkout", "v1")

	ticket, err := g.Admit(context.Background(), id)
	require.NoError(t, err)

	// Forget drops the semaphore; the old ticket still releases cleanly.
	g.Forget(id)
	ticket.Release()
	assert.Equal(t, 0, g.InFlight())

	// A fresh admit builds a new semaphore for the identity.
	fresh, err := g.Admit(context.Background(), id)
	require.NoError(t, err)
	fresh.Release()
}
