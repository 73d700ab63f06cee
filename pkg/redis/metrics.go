package redis

import (
	"sync/atomic"
	"time"
)

// opStats counts calls of one cache operation and their total latency.
type opStats struct {
	calls atomic.Uint64
	nanos atomic.Uint64
}

func (s *opStats) record(d time.Duration) {
	s.calls.Add(1)
	s.nanos.Add(uint64(d.Nanoseconds()))
}

func (s *opStats) avg() time.Duration {
	n := s.calls.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(s.nanos.Load() / n)
}

func (s *opStats) reset() {
	s.calls.Store(0)
	s.nanos.Store(0)
}

// Metrics counts cache lookups and the invalidations cascading deletes
// cause. It is safe for concurrent use.
type Metrics struct {
	hits   atomic.Uint64
	misses atomic.Uint64
	errors atomic.Uint64

	get, set, del opStats

	invalidations   atomic.Uint64
	invalidatedKeys atomic.Uint64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordCacheHit()   { m.hits.Add(1) }
func (m *Metrics) RecordCacheMiss()  { m.misses.Add(1) }
func (m *Metrics) RecordCacheError() { m.errors.Add(1) }

func (m *Metrics) RecordGet(d time.Duration)    { m.get.record(d) }
func (m *Metrics) RecordSet(d time.Duration)    { m.set.record(d) }
func (m *Metrics) RecordDelete(d time.Duration) { m.del.record(d) }

// RecordInvalidation records one pattern invalidation and the keys it removed
func (m *Metrics) RecordInvalidation(keys int) {
	m.invalidations.Add(1)
	m.invalidatedKeys.Add(uint64(keys))
}

// GetSnapshot returns a snapshot of current metrics
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		CacheHits:         m.hits.Load(),
		CacheMisses:       m.misses.Load(),
		CacheErrors:       m.errors.Load(),
		GetOperations:     m.get.calls.Load(),
		SetOperations:     m.set.calls.Load(),
		DeleteOperations:  m.del.calls.Load(),
		AvgGetLatency:     m.get.avg(),
		AvgSetLatency:     m.set.avg(),
		AvgDeleteLatency:  m.del.avg(),
		InvalidationCount: m.invalidations.Load(),
		InvalidatedKeys:   m.invalidatedKeys.Load(),
	}
	if lookups := snap.CacheHits + snap.CacheMisses; lookups > 0 {
		snap.CacheHitRate = float64(snap.CacheHits) / float64(lookups) * 100
	}
	return snap
}

// Reset zeroes every counter
func (m *Metrics) Reset() {
	m.hits.Store(0)
	m.misses.Store(0)
	m.errors.Store(0)
	m.get.reset()
	m.set.reset()
	m.del.reset()
	m.invalidations.Store(0)
	m.invalidatedKeys.Store(0)
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	CacheHits    uint64
	CacheMisses  uint64
	CacheErrors  uint64
	CacheHitRate float64 // percent of lookups that hit

	GetOperations    uint64
	SetOperations    uint64
	DeleteOperations uint64

	AvgGetLatency    time.Duration
	AvgSetLatency    time.Duration
	AvgDeleteLatency time.Duration

	// InvalidationCount counts pattern invalidations, InvalidatedKeys the
	// keys they removed
	InvalidationCount uint64
	InvalidatedKeys   uint64
}
