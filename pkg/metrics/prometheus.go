// Package metrics provides Prometheus metrics for the sightline pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the sightline service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Producer metrics
	samplesPublished *prometheus.CounterVec
	publishErrors    *prometheus.CounterVec
	framesProcessed  *prometheus.CounterVec

	// Classification metrics
	messagesConsumed      *prometheus.CounterVec
	poisonMessages        *prometheus.CounterVec
	classificationLatency prometheus.Histogram
	matchesBuffered       prometheus.Counter
	noMatchTotal          prometheus.Counter
	bufferAppendErrors    prometheus.Counter

	// Enrollment metrics
	enrollmentSamples prometheus.Counter
	batchesFlushed    prometheus.Counter
	batchFlushErrors  prometheus.Counter

	// Sync worker metrics
	syncCycles    prometheus.Counter
	eventsSynced  prometheus.Counter
	eventsDropped prometheus.Counter
	syncErrors    prometheus.Counter
	syncBatchSize prometheus.Histogram
	syncLatency   prometheus.Histogram
	keysCleaned   prometheus.Counter

	// Trainer metrics
	trainingRuns     *prometheus.CounterVec
	trainingLatency  prometheus.Histogram
	modelVersion     prometheus.Gauge
	samplesTrained   prometheus.Counter
	bufferQueueDepth prometheus.Gauge

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "sightline",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// Initialize metrics
	m.initializeMetrics()

	return m
}

// NewMetricsManager is an alias kept for callers that prefer the long name.
func NewMetricsManager(opts ...Option) *Manager { return NewManager(opts...) }

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	// Producer metrics
	m.samplesPublished = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "samples_published_total",
			Help:      "Total number of sample messages published, by mode and source",
		},
		[]string{"mode", "source"},
	)

	m.publishErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "publish_errors_total",
			Help:      "Total number of messages dropped after the reconnect-and-retry attempt failed",
		},
		[]string{"stream"},
	)

	m.framesProcessed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "frames_processed_total",
			Help:      "Total number of capture frames pulled, by source",
		},
		[]string{"source"},
	)

	// Classification metrics
	m.messagesConsumed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "messages_consumed_total",
			Help:      "Total number of messages consumed and acknowledged, by mode",
		},
		[]string{"mode"},
	)

	m.poisonMessages = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "poison_messages_total",
			Help:      "Total number of malformed messages dropped without processing, by mode",
		},
		[]string{"mode"},
	)

	m.classificationLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "classification_latency_milliseconds",
		Help:      "Histogram of classifier prediction latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.matchesBuffered = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "matches_buffered_total",
		Help:      "Total number of positive matches appended to the fast buffer",
	})

	m.noMatchTotal = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "no_match_total",
		Help:      "Total number of samples with no accepted classifier match",
	})

	m.bufferAppendErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "buffer_append_errors_total",
		Help:      "Total number of fast-buffer append failures causing a requeue",
	})

	// Enrollment metrics
	m.enrollmentSamples = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "enrollment_samples_total",
		Help:      "Total number of enrollment samples accepted into a batch",
	})

	m.batchesFlushed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batches_flushed_total",
		Help:      "Total number of enrollment batches flushed to the fast buffer",
	})

	m.batchFlushErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "batch_flush_errors_total",
		Help:      "Total number of enrollment batch flush failures (accepted loss window)",
	})

	// Sync worker metrics
	m.syncCycles = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sync_cycles_total",
		Help:      "Total number of buffer-to-store sync cycles",
	})

	m.eventsSynced = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_synced_total",
		Help:      "Total number of event rows bulk-inserted into the durable store",
	})

	m.eventsDropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_dropped_total",
		Help:      "Total number of buffered records dropped for unknown or inactive identities",
	})

	m.syncErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sync_errors_total",
		Help:      "Total number of failed per-key sync transactions",
	})

	m.syncBatchSize = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sync_batch_size",
		Help:      "Histogram of records drained per buffer key per cycle",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	m.syncLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "sync_latency_milliseconds",
		Help:      "Histogram of full sync cycle latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.keysCleaned = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "buffer_keys_cleaned_total",
		Help:      "Total number of stale empty buffer keys deleted by retention cleanup",
	})

	// Trainer metrics
	m.trainingRuns = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "training_runs_total",
			Help:      "Total number of training runs by terminal status",
		},
		[]string{"status"},
	)

	m.trainingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "training_latency_milliseconds",
		Help:      "Histogram of training run latency in milliseconds",
		Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 60000},
	})

	m.modelVersion = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "model_version",
		Help:      "Version counter of the currently loaded classifier model",
	})

	m.samplesTrained = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "samples_trained_total",
		Help:      "Total number of samples applied to the model across training runs",
	})

	m.bufferQueueDepth = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "buffer_queue_depth",
		Help:      "Records staged in the fast buffer, sampled at the start of each sync cycle",
	})

	// System metrics
	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "System memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutine_count",
		Help:      "Number of goroutines",
	})
}

// RecordSamplePublished increments the published samples counter.
func RecordSamplePublished(mode, source string) {
	globalManager.samplesPublished.WithLabelValues(mode, source).Inc()
}

// RecordPublishError increments the dropped-publish counter.
func RecordPublishError(stream string) {
	globalManager.publishErrors.WithLabelValues(stream).Inc()
}

// RecordFrameProcessed increments the per-source frame counter.
func RecordFrameProcessed(source string) {
	globalManager.framesProcessed.WithLabelValues(source).Inc()
}

// RecordMessageConsumed increments the consumed messages counter.
func RecordMessageConsumed(mode string) {
	globalManager.messagesConsumed.WithLabelValues(mode).Inc()
}

// RecordPoisonMessage increments the malformed-message counter.
func RecordPoisonMessage(mode string) {
	globalManager.poisonMessages.WithLabelValues(mode).Inc()
}

// RecordClassificationLatency records classifier latency in milliseconds.
func RecordClassificationLatency(latencyMs float64) {
	globalManager.classificationLatency.Observe(latencyMs)
}

// RecordMatchBuffered increments the buffered matches counter.
func RecordMatchBuffered() {
	globalManager.matchesBuffered.Inc()
}

// RecordNoMatch increments the no-match counter.
func RecordNoMatch() {
	globalManager.noMatchTotal.Inc()
}

// RecordBufferAppendError increments the buffer append failure counter.
func RecordBufferAppendError() {
	globalManager.bufferAppendErrors.Inc()
}

// RecordEnrollmentSample increments the enrollment sample counter.
func RecordEnrollmentSample() {
	globalManager.enrollmentSamples.Inc()
}

// RecordBatchFlushed increments the flushed batch counter.
func RecordBatchFlushed() {
	globalManager.batchesFlushed.Inc()
}

// RecordBatchFlushError increments the batch flush failure counter.
func RecordBatchFlushError() {
	globalManager.batchFlushErrors.Inc()
}

// RecordSyncCycle increments the sync cycle counter.
func RecordSyncCycle() {
	globalManager.syncCycles.Inc()
}

// RecordEventsSynced adds to the synced event rows counter.
func RecordEventsSynced(count int) {
	globalManager.eventsSynced.Add(float64(count))
}

// RecordEventsDropped adds to the dropped records counter.
func RecordEventsDropped(count int) {
	globalManager.eventsDropped.Add(float64(count))
}

// RecordSyncError increments the failed sync transaction counter.
func RecordSyncError() {
	globalManager.syncErrors.Inc()
}

// RecordSyncBatchSize records the number of records drained from one key.
func RecordSyncBatchSize(size int) {
	globalManager.syncBatchSize.Observe(float64(size))
}

// RecordSyncLatency records sync cycle latency in milliseconds.
func RecordSyncLatency(latencyMs float64) {
	globalManager.syncLatency.Observe(latencyMs)
}

// RecordKeyCleaned increments the retention cleanup counter.
func RecordKeyCleaned() {
	globalManager.keysCleaned.Inc()
}

// RecordTrainingRun increments the training run counter for a terminal status.
func RecordTrainingRun(status string) {
	globalManager.trainingRuns.WithLabelValues(status).Inc()
}

// RecordTrainingLatency records training run latency in milliseconds.
func RecordTrainingLatency(latencyMs float64) {
	globalManager.trainingLatency.Observe(latencyMs)
}

// UpdateModelVersion sets the loaded model version gauge.
func UpdateModelVersion(version int64) {
	globalManager.modelVersion.Set(float64(version))
}

// RecordSamplesTrained adds to the trained samples counter.
func RecordSamplesTrained(count int) {
	globalManager.samplesTrained.Add(float64(count))
}

// UpdateBufferQueueDepth sets the staged record count gauge.
func UpdateBufferQueueDepth(depth int64) {
	globalManager.bufferQueueDepth.Set(float64(depth))
}

// UpdateSystemMemoryUsage sets the memory usage gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
