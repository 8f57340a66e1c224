package observability

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/orbitfaas/orbit/pkg/types"
)

// Sink receives per-invocation records after the response has already been
// returned to the caller. Implementations must never block the dispatch
// path; the async wrapper enforces that for sinks that might.
type Sink interface {
	Record(rec *types.InvocationRecord)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Record(*types.InvocationRecord) {}

// LogSink writes invocation records as structured log events.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Record(rec *types.InvocationRecord) {
	evt := s.log.Info()
	if rec.Outcome != types.OutcomeOK {
		evt = s.log.Warn()
	}
	evt.
		Str("function", rec.Deployment.FunctionID).
		Str("version", rec.Deployment.VersionID).
		Str("request_id", rec.RequestID).
		Str("outcome", string(rec.Outcome)).
		Dur("duration", rec.Duration).
		Int("console_lines", len(rec.Logs)).
		Msg("invocation completed")
}

// AsyncSink decouples record delivery from the dispatch path with a bounded
// buffer. When the buffer is full the record is dropped; observability is
// never allowed to apply backpressure to invocations.
type AsyncSink struct {
	inner   Sink
	ch      chan *types.InvocationRecord
	dropped int64
	closed  bool
	mu      sync.Mutex
	done    chan struct{}
}

func NewAsyncSink(inner Sink, buffer int) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &AsyncSink{
		inner: inner,
		ch:    make(chan *types.InvocationRecord, buffer),
		done:  make(chan struct{}),
	}
	go s.drain()
	return s
}

// Record queues one record for delivery. Records arriving when the buffer
// is full, or after Close has begun, are dropped.
func (s *AsyncSink) Record(rec *types.InvocationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.dropped++
		return
	}
	select {
	case s.ch <- rec:
	default:
		s.dropped++
	}
}

// Dropped returns how many records were discarded because the buffer was full.
func (s *AsyncSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops the drain goroutine after flushing buffered records.
// Idempotent; concurrent Record calls are dropped rather than raced against
// the closing channel.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSink) drain() {
	for rec := range s.ch {
		s.inner.Record(rec)
	}
	close(s.done)
}
