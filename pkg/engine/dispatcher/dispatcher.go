package dispatcher

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/orbitfaas/orbit/pkg/engine/errors"
	"github.com/orbitfaas/orbit/pkg/engine/governor"
	"github.com/orbitfaas/orbit/pkg/engine/logging"
	"github.com/orbitfaas/orbit/pkg/engine/observability"
	"github.com/orbitfaas/orbit/pkg/engine/pool"
	"github.com/orbitfaas/orbit/pkg/engine/sandbox"
	"github.com/orbitfaas/orbit/pkg/types"
)

// Options tunes dispatch behavior.
type Options struct {
	// DefaultTimeout applies when neither the request nor the deployment
	// descriptor carries one.
	DefaultTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{DefaultTimeout: 30 * time.Second}
}

// Dispatcher is the single entry point for running an invocation. Every
// request, whatever its origin, goes through the same sequence: admission,
// context acquisition, sandboxed execution under a deadline, outcome
// translation, release, and a fire-and-forget observability record.
type Dispatcher struct {
	pool     *pool.Pool
	governor *governor.Governor
	sink     observability.Sink
	metrics  *observability.MetricsCollector
	logStore *logging.DeploymentLogStore
	logger   logging.Logger
	opts     Options
}

func New(p *pool.Pool, g *governor.Governor, sink observability.Sink, logger logging.Logger, opts Options) *Dispatcher {
	if sink == nil {
		sink = observability.NopSink{}
	}
	return &Dispatcher{
		pool:     p,
		governor: g,
		sink:     sink,
		logger:   logger,
		opts:     opts,
	}
}

// WithMetrics attaches a metrics collector.
func (d *Dispatcher) WithMetrics(m *observability.MetricsCollector) *Dispatcher {
	d.metrics = m
	return d
}

// WithLogStore attaches a per-deployment log store that captures console
// output from invocations.
func (d *Dispatcher) WithLogStore(s *logging.DeploymentLogStore) *Dispatcher {
	d.logStore = s
	return d
}

// Dispatch runs one invocation end to end. It never returns an error: every
// failure mode is translated into an outcome on the response so callers get
// a uniform result regardless of where in the pipeline the request died.
func (d *Dispatcher) Dispatch(ctx context.Context, req *types.InvocationRequest) *types.InvocationResponse {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = time.Now()
	}
	resp := d.dispatch(ctx, req)

	if d.metrics != nil {
		d.metrics.RecordInvocation(req.Deployment, resp.Duration.Seconds(), resp.Outcome)
		d.metrics.RecordConcurrency(d.governor.InFlight())
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req *types.InvocationRequest) *types.InvocationResponse {
	start := time.Now()

	ticket, err := d.governor.Admit(ctx, req.Deployment)
	if err != nil {
		d.logger.Debugf("Rejected invocation %s for %s: %v", req.ID, req.Deployment, err)
		return d.complete(req, start, nil, err)
	}
	defer ticket.Release()

	lease, err := d.pool.Acquire(ctx, req.Deployment)
	if err != nil {
		return d.complete(req, start, nil, err)
	}
	defer lease.Release()

	deadline := time.Now().Add(d.timeoutFor(req, lease))
	result, err := lease.Invoke(req, deadline)
	if err != nil {
		return d.complete(req, start, nil, err)
	}

	d.captureConsole(req.Deployment, result.Logs)
	return d.complete(req, start, result, nil)
}

func (d *Dispatcher) timeoutFor(req *types.InvocationRequest, lease *pool.Lease) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	if t := lease.Context().Descriptor().Timeout; t > 0 {
		return t
	}
	return d.opts.DefaultTimeout
}

// complete translates the execution result or error into a response and
// hands the invocation record to the sink.
func (d *Dispatcher) complete(req *types.InvocationRequest, start time.Time, result *sandbox.Result, err error) *types.InvocationResponse {
	resp := &types.InvocationResponse{Duration: time.Since(start)}
	var logs []types.ConsoleLine

	switch {
	case err == nil:
		resp.Outcome = types.OutcomeOK
		resp.Status = result.Status
		resp.Headers = result.Headers
		resp.Body = result.Body
		logs = result.Logs

	case errors.HasCode(err, errors.DomainResolver, errors.CodeDeploymentNotFound):
		resp.Outcome = types.OutcomeNotFound
		resp.Error = err.Error()

	case errors.HasCode(err, errors.DomainExecution, errors.CodeRejected):
		resp.Outcome = types.OutcomeRejected
		resp.Error = err.Error()

	case errors.HasCode(err, errors.DomainExecution, errors.CodeExecutionTimeout),
		errors.HasCode(err, errors.DomainExecution, errors.CodeExecutionCancelled):
		resp.Outcome = types.OutcomeTimeout
		resp.Error = err.Error()

	default:
		// Runtime faults, init failures, invalid bundles, pool shutdown.
		resp.Outcome = types.OutcomeRuntimeError
		resp.Error = err.Error()
		d.logger.Errorf("Invocation %s for %s failed: %v", req.ID, req.Deployment, err)
	}

	d.sink.Record(&types.InvocationRecord{
		Deployment: req.Deployment,
		RequestID:  req.ID,
		Outcome:    resp.Outcome,
		Duration:   resp.Duration,
		Timestamp:  req.ReceivedAt,
		Logs:       logs,
	})
	return resp
}

func (d *Dispatcher) captureConsole(id types.DeploymentID, lines []types.ConsoleLine) {
	if d.logStore == nil {
		return
	}
	key := id.String()
	for _, line := range lines {
		level := logging.LevelInfo
		switch line.Level {
		case "warn":
			level = logging.LevelWarning
		case "error":
			level = logging.LevelError
		case "debug":
			level = logging.LevelDebug
		}
		d.logStore.AddLog(key, level, line.Message)
	}
}
