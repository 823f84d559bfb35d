package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP Metrics
var (
	// HTTPRequestsTotal tracks handled requests by route, method and status code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authsession_http_requests_total",
			Help: "Total HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	// HTTPRequestDuration tracks request latency in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authsession_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"route"},
	)
)

// Authentication Metrics
var (
	// AuthEventsTotal counts authentication operations by event and outcome
	// (success, failure)
	AuthEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authsession_auth_events_total",
			Help: "Authentication operations by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	// EmailTasksEnqueued counts email jobs handed to the queue by type and status
	EmailTasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authsession_email_tasks_enqueued_total",
			Help: "Email tasks enqueued by type and status",
		},
		[]string{"type", "status"},
	)
)

// Worker Metrics
var (
	// EmailsSentTotal counts processed email tasks by type and status
	EmailsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authsession_emails_sent_total",
			Help: "Emails processed by type and status",
		},
		[]string{"type", "status"},
	)

	// CleanupRowsDeleted counts rows removed by the cleanup job by kind
	CleanupRowsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authsession_cleanup_rows_deleted_total",
			Help: "Rows removed by the cleanup job by kind",
		},
		[]string{"kind"},
	)
)

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// RecordAuthEvent increments AuthEventsTotal
func RecordAuthEvent(event string, success bool) {
	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
	}
	AuthEventsTotal.WithLabelValues(event, outcome).Inc()
}
