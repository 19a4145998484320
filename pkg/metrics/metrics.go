// Package metrics provides Prometheus metrics for the Fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fern"

var (
	// RunsTotal tracks integration runs by category and outcome
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "runs_total",
			Help:      "Total number of integration runs by category and outcome",
		},
		[]string{"tenant_id", "category", "outcome"},
	)

	// RunDuration tracks integration run duration in seconds
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "run_duration_seconds",
			Help:      "Duration of integration runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"category"},
	)

	// StepRequestsTotal tracks outbound step requests
	StepRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound step requests",
		},
		[]string{"method", "status_class"},
	)

	// StepRequestDuration tracks outbound step request duration
	StepRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound step requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120},
		},
		[]string{"method"},
	)

	// TransportErrorsTotal tracks requests that produced no response
	TransportErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http_client",
			Name:      "transport_errors_total",
			Help:      "Total number of outbound requests that failed before a response",
		},
		[]string{"kind"},
	)

	// PollingAttempts tracks how many attempts a polled step needed
	PollingAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "polling_attempts",
			Help:      "Attempts made by polled steps",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
		},
		[]string{"result"},
	)

	// RetriesScheduled tracks deferred re-runs created for failed runs
	RetriesScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "retries_scheduled_total",
			Help:      "Total number of retries scheduled for failed runs",
		},
	)

	// ImportedRecords tracks records read by bulk imports
	ImportedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "records_total",
			Help:      "Total number of records read by bulk imports",
		},
		[]string{"tenant_id"},
	)

	// ImportPages tracks pages fetched per import
	ImportPages = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "import",
			Name:      "pages_fetched",
			Help:      "Pages fetched per bulk import",
			Buckets:   []float64{1, 2, 3, 5, 10, 20},
		},
	)

	// NotificationsTotal tracks notifications emitted
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "emitted_total",
			Help:      "Total number of notifications emitted",
		},
		[]string{"type"},
	)

	// QueueJobsProcessed tracks jobs processed from the queue
	QueueJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed from the queue",
		},
		[]string{"type", "status"},
	)

	// QueueJobsInFlight tracks jobs currently being processed
	QueueJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_in_flight",
			Help:      "Number of jobs currently being processed",
		},
	)

	// DLQJobsTotal tracks jobs sent to the dead letter queue
	DLQJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "jobs_total",
			Help:      "Total number of jobs sent to dead letter queue",
		},
		[]string{"tenant_id", "reason"},
	)

	// SchedulerRetriesDispatched tracks due retries handed to the queue
	SchedulerRetriesDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "retries_dispatched_total",
			Help:      "Total number of scheduled retries dispatched to the queue",
		},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	// OAuthRefreshes tracks OAuth token refresh operations
	OAuthRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "token_refreshes_total",
			Help:      "Total number of OAuth token refresh operations",
		},
		[]string{"tenant_id", "status"},
	)
)

// RecordRun records a finished run
func RecordRun(tenantID, category, outcome string, durationSeconds float64) {
	RunsTotal.WithLabelValues(tenantID, category, outcome).Inc()
	RunDuration.WithLabelValues(category).Observe(durationSeconds)
}

// RecordStepRequest records an outbound step request
func RecordStepRequest(method, statusClass string, durationSeconds float64) {
	StepRequestsTotal.WithLabelValues(method, statusClass).Inc()
	StepRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordTransportError records a request that failed before a response
func RecordTransportError(kind string) {
	TransportErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordPolling records the attempts a polled step made
func RecordPolling(met bool, attempts int) {
	result := "timed_out"
	if met {
		result = "met"
	}
	PollingAttempts.WithLabelValues(result).Observe(float64(attempts))
}

// RecordImport records one finished bulk import
func RecordImport(tenantID string, records, pages int) {
	ImportedRecords.WithLabelValues(tenantID).Add(float64(records))
	ImportPages.Observe(float64(pages))
}

// RecordQueueJob records a queue job processing metric
func RecordQueueJob(jobType, status string) {
	QueueJobsProcessed.WithLabelValues(jobType, status).Inc()
}

// RecordDLQJob records a dead letter queue job
func RecordDLQJob(tenantID, reason string) {
	DLQJobsTotal.WithLabelValues(tenantID, reason).Inc()
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
