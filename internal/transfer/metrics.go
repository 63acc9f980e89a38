package transfer

import (
	"sync"
	"time"
)

// sessionMetrics is the per-session bookkeeping the MetricsCollector keeps
// tracks: start time, bytes so far, current/peak speed, error/retry
// counters, completion flag.
type sessionMetrics struct {
	start         time.Time
	bytesSoFar    int64
	currentSpeed  float64
	peakSpeed     float64
	errorCount    int
	retryCount    int
	completed     bool
}

// MetricsCollector keeps in-memory throughput and counters for every
// session it has seen.
type MetricsCollector struct {
	mu      sync.Mutex
	entries map[string]*sessionMetrics
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{entries: make(map[string]*sessionMetrics)}
}

func (m *MetricsCollector) entry(id string) *sessionMetrics {
	e, ok := m.entries[id]
	if !ok {
		e = &sessionMetrics{start: time.Now()}
		m.entries[id] = e
	}
	return e
}

// RecordProgress updates the current/peak speed for a session.
func (m *MetricsCollector) RecordProgress(id string, bytesSoFar int64, speedBps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(id)
	e.bytesSoFar = bytesSoFar
	e.currentSpeed = speedBps
	if speedBps > e.peakSpeed {
		e.peakSpeed = speedBps
	}
}

// RecordRetry increments the retry counter for a session.
func (m *MetricsCollector) RecordRetry(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(id).retryCount++
}

// RecordError increments the error counter for a session.
func (m *MetricsCollector) RecordError(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(id).errorCount++
}

// RecordCompletion marks a session's metrics as completed.
func (m *MetricsCollector) RecordCompletion(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(id).completed = true
}

// Snapshot is a read-only view of a session's metrics.
type Snapshot struct {
	Elapsed      time.Duration
	BytesSoFar   int64
	CurrentSpeed float64
	PeakSpeed    float64
	ErrorCount   int
	RetryCount   int
	Completed    bool
}

func (m *MetricsCollector) Snapshot(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		Elapsed:      time.Since(e.start),
		BytesSoFar:   e.bytesSoFar,
		CurrentSpeed: e.currentSpeed,
		PeakSpeed:    e.peakSpeed,
		ErrorCount:   e.errorCount,
		RetryCount:   e.retryCount,
		Completed:    e.completed,
	}, true
}

// Forget drops a session's metrics, called alongside history archival.
func (m *MetricsCollector) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}
