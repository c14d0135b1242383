package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vision_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Lifecycle Metrics
	StreamTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_stream_transitions_total",
			Help: "Total number of committed stream status transitions",
		},
		[]string{"operation", "to"},
	)

	StreamLifecycleFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_stream_lifecycle_failures_total",
			Help: "Total number of failed start/stop operations",
		},
		[]string{"operation", "reason"},
	)

	ActuatorCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vision_actuator_call_duration_seconds",
			Help:    "Media engine call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"operation"},
	)

	StreamsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vision_streams_in_flight",
			Help: "Number of start/stop operations waiting on the media engine",
		},
	)

	// Telemetry Metrics
	TelemetryMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_telemetry_messages_total",
			Help: "Total number of telemetry signals applied",
		},
		[]string{"type", "status"},
	)

	StreamErrorsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_stream_errors_recorded_total",
			Help: "Total number of errors recorded against streams",
		},
		[]string{"source"},
	)

	// Reaper Metrics
	StreamsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vision_streams_reaped_total",
			Help: "Total number of streams auto-stopped for inactivity",
		},
	)

	StreamsReconciledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vision_streams_reconciled_total",
			Help: "Total number of streams recovered from a stuck transient state",
		},
	)

	ReaperRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vision_reaper_run_duration_seconds",
			Help:    "Duration of a reaper pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Registry Metrics, refreshed from the statistics rollup
	StreamsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vision_streams",
			Help: "Number of streams by status",
		},
		[]string{"status"},
	)

	TotalViewers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vision_viewers",
			Help: "Total viewers across active streams",
		},
	)

	// Queue Metrics, sampled by the monitor
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vision_queue_depth",
			Help: "Messages waiting in a queue",
		},
		[]string{"queue"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vision_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_storage_bytes_transferred_total",
			Help: "Total bytes transferred to storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vision_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Queue Metrics
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_events_published_total",
			Help: "Total number of stream events published",
		},
		[]string{"type", "status"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordTransition records a committed status change
func RecordTransition(operation, to string) {
	StreamTransitionsTotal.WithLabelValues(operation, to).Inc()
}

// RecordActuatorCall records a media engine call and its outcome
func RecordActuatorCall(operation string, duration float64, err error, timeout bool) {
	ActuatorCallDuration.WithLabelValues(operation).Observe(duration)
	if err == nil {
		return
	}
	reason := "error"
	if timeout {
		reason = "timeout"
	}
	StreamLifecycleFailuresTotal.WithLabelValues(operation, reason).Inc()
}

// RecordTelemetry records an applied telemetry signal
func RecordTelemetry(msgType, status string) {
	TelemetryMessagesTotal.WithLabelValues(msgType, status).Inc()
}

// RecordStreamError records an error mark written to a stream
func RecordStreamError(source string) {
	StreamErrorsRecordedTotal.WithLabelValues(source).Inc()
}

// RecordReaperRun records the outcome of a reaper pass
func RecordReaperRun(reaped, reconciled int, duration float64) {
	StreamsReapedTotal.Add(float64(reaped))
	StreamsReconciledTotal.Add(float64(reconciled))
	ReaperRunDuration.Observe(duration)
}

// UpdateRegistryMetrics refreshes the per-status gauges
func UpdateRegistryMetrics(statusCounts map[string]int64, viewers int64) {
	StreamsByStatus.Reset()
	for status, n := range statusCounts {
		StreamsByStatus.WithLabelValues(status).Set(float64(n))
	}
	TotalViewers.Set(float64(viewers))
}

// UpdateQueueDepth sets the sampled depth of a queue
func UpdateQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordEventPublished records a publish attempt
func RecordEventPublished(eventType string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	EventsPublishedTotal.WithLabelValues(eventType, status).Inc()
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
