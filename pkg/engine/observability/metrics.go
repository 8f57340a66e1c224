package observability

import (
	"sync"
	"sync/atomic"

	"github.com/orbitfaas/orbit/pkg/engine/logging"
	"github.com/orbitfaas/orbit/pkg/types"
)

// MetricsCollector aggregates invocation counts and timings per deployment.
type MetricsCollector struct {
	logger logging.Logger

	mu             sync.RWMutex
	invokeCounts   map[string]int64
	invokeTimes    map[string]float64
	outcomeCounts  map[string]map[types.Outcome]int64
	concurrent     atomic.Int64
	peakConcurrent int64
}

func NewMetricsCollector(logger logging.Logger) *MetricsCollector {
	return &MetricsCollector{
		logger:        logger,
		invokeCounts:  make(map[string]int64),
		invokeTimes:   make(map[string]float64),
		outcomeCounts: make(map[string]map[types.Outcome]int64),
	}
}

// RecordInvocation records one completed invocation.
func (m *MetricsCollector) RecordInvocation(id types.DeploymentID, seconds float64, outcome types.Outcome) {
	key := id.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.invokeCounts[key]++
	m.invokeTimes[key] += seconds

	byOutcome, ok := m.outcomeCounts[key]
	if !ok {
		byOutcome = make(map[types.Outcome]int64)
		m.outcomeCounts[key] = byOutcome
	}
	byOutcome[outcome]++

	if m.invokeCounts[key]%100 == 0 {
		total := m.invokeCounts[key]
		avg := m.invokeTimes[key] / float64(total)
		okRate := float64(byOutcome[types.OutcomeOK]) / float64(total) * 100.0
		m.logger.Printf("Deployment %s metrics: invocations=%d, avg_time=%.2fms, ok_rate=%.1f%%",
			key, total, avg*1000.0, okRate)
	}
}

// RecordConcurrency records the current in-flight invocation count.
func (m *MetricsCollector) RecordConcurrency(count int) {
	m.concurrent.Store(int64(count))

	current := int64(count)
	for {
		peak := atomic.LoadInt64(&m.peakConcurrent)
		if current <= peak {
			break
		}
		if atomic.CompareAndSwapInt64(&m.peakConcurrent, peak, current) {
			m.logger.Printf("New peak concurrent invocations: %d", current)
			break
		}
	}
}

// InvocationCount returns the total invocations recorded for a deployment.
func (m *MetricsCollector) InvocationCount(id types.DeploymentID) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.invokeCounts[id.String()]
}

// OutcomeCount returns how many invocations finished with the given outcome.
func (m *MetricsCollector) OutcomeCount(id types.DeploymentID, outcome types.Outcome) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if byOutcome, ok := m.outcomeCounts[id.String()]; ok {
		return byOutcome[outcome]
	}
	return 0
}

// AverageInvocationTime returns the mean invocation time in seconds.
func (m *MetricsCollector) AverageInvocationTime(id types.DeploymentID) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := id.String()
	total := m.invokeCounts[key]
	if total == 0 {
		return 0
	}
	return m.invokeTimes[key] / float64(total)
}

// PeakConcurrent returns the highest concurrency level seen.
func (m *MetricsCollector) PeakConcurrent() int64 {
	return atomic.LoadInt64(&m.peakConcurrent)
}
