package gallerydb

import (
	"sync"
	"time"
)

// Metrics provides observability for gallerydb operations
type Metrics interface {
	// Increment increases a counter by 1
	Increment(name string, tags ...string)

	// Gauge sets an absolute value
	Gauge(name string, value float64, tags ...string)

	// Histogram records a value distribution (latency, size, etc)
	Histogram(name string, value float64, tags ...string)

	// Timing records a duration
	Timing(name string, duration time.Duration, tags ...string)
}

// NoOpMetrics is a metrics collector that does nothing
type NoOpMetrics struct{}

func (m *NoOpMetrics) Increment(name string, tags ...string)                      {}
func (m *NoOpMetrics) Gauge(name string, value float64, tags ...string)           {}
func (m *NoOpMetrics) Histogram(name string, value float64, tags ...string)       {}
func (m *NoOpMetrics) Timing(name string, duration time.Duration, tags ...string) {}

// InMemoryMetrics stores metrics in memory for testing
type InMemoryMetrics struct {
	mu         sync.Mutex
	Counters   map[string]int
	Gauges     map[string]float64
	Histograms map[string][]float64
	Timings    map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		Counters:   make(map[string]int),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string][]float64),
		Timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Increment(name string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gauges[name] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Histograms[name] = append(m.Histograms[name], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Timings[name] = append(m.Timings[name], duration)
}

// Counter returns the current value of a counter
func (m *InMemoryMetrics) Counter(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counters[name]
}

// Common metric names. Store metrics are tagged "op" and "store".
const (
	MetricStoreOps      = "gallerydb.store.ops"
	MetricStoreErrors   = "gallerydb.store.errors"
	MetricStoreDuration = "gallerydb.store.duration"
	MetricQueryResults  = "gallerydb.query.results"

	MetricTransactionCommit   = "gallerydb.transaction.commit"
	MetricTransactionRollback = "gallerydb.transaction.rollback"
	MetricTransactionSize     = "gallerydb.transaction.size"

	MetricMigrationApplied = "gallerydb.migration.applied"
	MetricSchemaVersion    = "gallerydb.schema.version"

	// Ingestion metrics. Files are tagged "outcome": ok, degraded or failed.
	MetricIngestFiles    = "gallerydb.ingest.files"
	MetricIngestSizeMiB  = "gallerydb.ingest.size_mib"
	MetricIngestDuration = "gallerydb.ingest.duration"
)
