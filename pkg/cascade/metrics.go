package cascade

import (
	"sync/atomic"
	"time"
)

// Metrics tracks trigger activity
type Metrics struct {
	// Operation counters
	operations        atomic.Uint64
	failedOperations  atomic.Uint64
	retrievalFailures atomic.Uint64

	// Fan-out counters
	instancesVisited atomic.Uint64
	instancesRevisit atomic.Uint64
	handlerCalls     atomic.Uint64
	handlerFailures  atomic.Uint64

	// Skip counters
	skippedIneligible atomic.Uint64
	skippedNoHandler  atomic.Uint64

	// Timing (nanoseconds)
	totalLatency atomic.Uint64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) recordOperation(d time.Duration, err error) {
	m.operations.Add(1)
	m.totalLatency.Add(uint64(d.Nanoseconds()))
	if err != nil {
		m.failedOperations.Add(1)
	}
}

func (m *Metrics) recordRetrievalFailure() { m.retrievalFailures.Add(1) }
func (m *Metrics) recordInstance()         { m.instancesVisited.Add(1) }
func (m *Metrics) recordRevisit()          { m.instancesRevisit.Add(1) }
func (m *Metrics) recordIneligible()       { m.skippedIneligible.Add(1) }
func (m *Metrics) recordNoHandler()        { m.skippedNoHandler.Add(1) }

func (m *Metrics) recordHandler(err error) {
	m.handlerCalls.Add(1)
	if err != nil {
		m.handlerFailures.Add(1)
	}
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	ops := m.operations.Load()

	var avg time.Duration
	if ops > 0 {
		avg = time.Duration(m.totalLatency.Load() / ops)
	}

	return MetricsSnapshot{
		Operations:        ops,
		FailedOperations:  m.failedOperations.Load(),
		RetrievalFailures: m.retrievalFailures.Load(),
		InstancesVisited:  m.instancesVisited.Load(),
		InstancesRevisit:  m.instancesRevisit.Load(),
		HandlerCalls:      m.handlerCalls.Load(),
		HandlerFailures:   m.handlerFailures.Load(),
		SkippedIneligible: m.skippedIneligible.Load(),
		SkippedNoHandler:  m.skippedNoHandler.Load(),
		AvgLatency:        avg,
	}
}

// Reset resets all counters
func (m *Metrics) Reset() {
	m.operations.Store(0)
	m.failedOperations.Store(0)
	m.retrievalFailures.Store(0)
	m.instancesVisited.Store(0)
	m.instancesRevisit.Store(0)
	m.handlerCalls.Store(0)
	m.handlerFailures.Store(0)
	m.skippedIneligible.Store(0)
	m.skippedNoHandler.Store(0)
	m.totalLatency.Store(0)
}

// MetricsSnapshot represents a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Operations        uint64
	FailedOperations  uint64
	RetrievalFailures uint64

	InstancesVisited uint64
	InstancesRevisit uint64 // instances skipped by the cycle guard
	HandlerCalls     uint64
	HandlerFailures  uint64

	SkippedIneligible uint64
	SkippedNoHandler  uint64

	AvgLatency time.Duration
}
