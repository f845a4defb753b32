package gallerydb

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const prometheusNamespace = "gallerydb"

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance.
// If registry is nil a private registry is created.
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

// registerDefaultMetrics registers all standard gallerydb metrics
func (p *PrometheusMetrics) registerDefaultMetrics() {
	factory := promauto.With(p.registry)

	// Store operations
	p.counters[MetricStoreOps] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total number of store operations",
		},
		[]string{"op", "store"},
	)

	p.counters[MetricStoreErrors] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Total number of failed store operations",
		},
		[]string{"op", "store"},
	)

	p.histograms[MetricStoreDuration] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: prometheusNamespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op", "store"},
	)

	p.histograms[MetricQueryResults] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: prometheusNamespace,
			Subsystem: "query",
			Name:      "results",
			Help:      "Number of records returned by index queries",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"store", "index"},
	)

	// Transactions
	p.counters[MetricTransactionCommit] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Subsystem: "transaction",
			Name:      "commits_total",
			Help:      "Total number of committed transactions",
		},
		[]string{},
	)

	p.counters[MetricTransactionRollback] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Subsystem: "transaction",
			Name:      "rollbacks_total",
			Help:      "Total number of rolled back transactions",
		},
		[]string{},
	)

	p.histograms[MetricTransactionSize] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: prometheusNamespace,
			Subsystem: "transaction",
			Name:      "ops",
			Help:      "Number of backend writes per committed transaction",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 1024},
		},
		[]string{},
	)

	// Schema
	p.counters[MetricMigrationApplied] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Subsystem: "schema",
			Name:      "migrations_applied_total",
			Help:      "Total number of schema steps applied",
		},
		[]string{},
	)

	p.gauges[MetricSchemaVersion] = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: prometheusNamespace,
			Subsystem: "schema",
			Name:      "version",
			Help:      "Current persisted schema version",
		},
		[]string{},
	)

	// Ingestion
	p.counters[MetricIngestFiles] = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Total number of files processed by ingestion",
		},
		[]string{"outcome"},
	)

	p.histograms[MetricIngestSizeMiB] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: prometheusNamespace,
			Subsystem: "ingest",
			Name:      "original_size_mib",
			Help:      "Encoded size of stored originals in MiB",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
		},
		[]string{},
	)

	p.histograms[MetricIngestDuration] = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: prometheusNamespace,
			Subsystem: "ingest",
			Name:      "file_duration_seconds",
			Help:      "Time spent transcoding and storing one file",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{},
	)
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		// Create dynamic counter if it doesn't exist
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prometheusNamespace,
				Name:      metricName(name),
				Help:      "Dynamic counter: " + name,
			},
			p.extractLabels(tags),
		)
		p.counters[name] = counter
	}
	p.mu.Unlock()

	counter.With(p.extractLabelValues(tags)).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: prometheusNamespace,
				Name:      metricName(name),
				Help:      "Dynamic gauge: " + name,
			},
			p.extractLabels(tags),
		)
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	gauge.With(p.extractLabelValues(tags)).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: prometheusNamespace,
				Name:      metricName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			p.extractLabels(tags),
		)
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	histogram.With(p.extractLabelValues(tags)).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// metricName turns "gallerydb.cache.hits" into "cache_hits"
func metricName(name string) string {
	name = strings.TrimPrefix(name, prometheusNamespace+".")
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

// extractLabels extracts label names from tags (every even index)
func (p *PrometheusMetrics) extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func (p *PrometheusMetrics) extractLabelValues(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// GetRegistry returns the underlying Prometheus registry
func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}
