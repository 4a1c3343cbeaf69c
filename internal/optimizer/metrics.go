package optimizer

import (
	"sync"
	"time"
)

// sample is one recorded optimized-sync run.
type sample struct {
	direction string
	processed int
	errors    int
	cacheHits int
	duration  time.Duration
	at        time.Time
}

// Metrics keeps a bounded rolling history of optimizer runs for
// throughput, error-rate, and cache-hit-rate reporting.
type Metrics struct {
	mu      sync.Mutex
	samples []sample
	limit   int
}

// Snapshot is an aggregate view over the recorded history.
type Snapshot struct {
	Runs          int
	Processed     int
	Errors        int
	CacheHits     int
	TotalDuration time.Duration
	ErrorRate     float64
	CacheHitRate  float64
}

// NewMetrics returns a metrics recorder keeping at most limit samples.
func NewMetrics(limit int) *Metrics {
	if limit <= 0 {
		limit = 500
	}
	return &Metrics{limit: limit}
}

// Record appends one run, trimming the oldest samples past the bound.
func (m *Metrics) Record(direction string, res Result, cacheHits int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, sample{
		direction: direction,
		processed: res.Processed,
		errors:    res.Errors,
		cacheHits: cacheHits,
		duration:  res.Duration,
		at:        time.Now(),
	})
	if len(m.samples) > m.limit {
		m.samples = m.samples[len(m.samples)-m.limit:]
	}
}

// Snapshot aggregates the retained history.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Snapshot
	for _, smp := range m.samples {
		s.Runs++
		s.Processed += smp.processed
		s.Errors += smp.errors
		s.CacheHits += smp.cacheHits
		s.TotalDuration += smp.duration
	}
	attempts := s.Processed + s.Errors
	if attempts > 0 {
		s.ErrorRate = float64(s.Errors) / float64(attempts)
	}
	if s.Processed > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(s.Processed)
	}
	return s
}

// Trim drops samples older than cutoff; the daemon calls this from its
// periodic sweep so history stays bounded in time as well as count.
func (m *Metrics) Trim(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.samples[:0]
	for _, smp := range m.samples {
		if !smp.at.Before(cutoff) {
			kept = append(kept, smp)
		}
	}
	m.samples = kept
}
