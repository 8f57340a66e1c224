package trigger

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/orbitfaas/orbit/pkg/engine/logging"
	"github.com/orbitfaas/orbit/pkg/types"
)

// Dispatcher is the invocation entry point the feeder drives. Scheduled
// invocations take the exact same path as HTTP ones: admission, context
// acquisition, deadline, outcome translation.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *types.InvocationRequest) *types.InvocationResponse
}

// Feeder fires synthetic invocations for deployments that declare a cron
// trigger. One schedule per deployment identity; registering a new version
// of a function replaces the old version's schedule.
type Feeder struct {
	cron       *cron.Cron
	dispatcher Dispatcher
	logger     logging.Logger

	mu      sync.Mutex
	entries map[types.DeploymentID]cron.EntryID

	baseCtx context.Context
}

func NewFeeder(d Dispatcher, logger logging.Logger) *Feeder {
	return &Feeder{
		cron:       cron.New(),
		dispatcher: d,
		logger:     logger,
		entries:    make(map[types.DeploymentID]cron.EntryID),
		baseCtx:    context.Background(),
	}
}

// Start begins firing schedules. Stops when ctx ends.
func (f *Feeder) Start(ctx context.Context) {
	f.baseCtx = ctx
	f.cron.Start()
	go func() {
		<-ctx.Done()
		f.cron.Stop()
	}()
}

// Stop halts the scheduler and waits for jobs already running to finish,
// so shutdown never tears down the sink or pool under a live invocation.
func (f *Feeder) Stop() {
	<-f.cron.Stop().Done()
}

// Register adds a schedule for one deployment, replacing any schedule held
// by another version of the same function. Invalid expressions are
// rejected without disturbing existing schedules.
func (f *Feeder) Register(id types.DeploymentID, schedule string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entryID, err := f.cron.AddFunc(schedule, func() { f.fire(id) })
	if err != nil {
		return err
	}

	// One schedule per function: retire any other version's entry.
	for existing, existingEntry := range f.entries {
		if existing.FunctionID == id.FunctionID {
			f.cron.Remove(existingEntry)
			delete(f.entries, existing)
		}
	}

	f.entries[id] = entryID
	f.logger.Printf("Registered cron trigger %q for %s", schedule, id)
	return nil
}

// Remove drops the schedule for one deployment identity, if present.
func (f *Feeder) Remove(id types.DeploymentID) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if entryID, ok := f.entries[id]; ok {
		f.cron.Remove(entryID)
		delete(f.entries, id)
		f.logger.Printf("Removed cron trigger for %s", id)
	}
}

// RemoveFunction drops every schedule belonging to a function.
func (f *Feeder) RemoveFunction(functionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, entryID := range f.entries {
		if id.FunctionID == functionID {
			f.cron.Remove(entryID)
			delete(f.entries, id)
			f.logger.Printf("Removed cron trigger for %s", id)
		}
	}
}

// Scheduled returns the identities that currently hold a schedule.
func (f *Feeder) Scheduled() []types.DeploymentID {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]types.DeploymentID, 0, len(f.entries))
	for id := range f.entries {
		ids = append(ids, id)
	}
	return ids
}

func (f *Feeder) fire(id types.DeploymentID) {
	req := &types.InvocationRequest{
		Deployment: id,
		Method:     "GET",
		Path:       "/",
		Trigger:    types.TriggerCron,
	}

	resp := f.dispatcher.Dispatch(f.baseCtx, req)
	if resp.Outcome != types.OutcomeOK {
		f.logger.Errorf("Scheduled invocation of %s finished with outcome %s: %s", id, resp.Outcome, resp.Error)
	} else {
		f.logger.Debugf("Scheduled invocation of %s completed in %s", id, resp.Duration)
	}
}
