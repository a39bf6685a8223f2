package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	workflowName = "workflow_name"
	outcome      = "outcome"
)

var (
	// Invocations is the number of workflow invocations by outcome. The outcome is either "success" or the
	// kind of the failure.
	Invocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerflow_invocations_total",
		Help: "Number of workflow invocations by outcome",
	}, []string{workflowName, outcome})

	// Latency is how long a workflow invocation takes end to end
	Latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerflow_invocation_latency_seconds",
		Help:    "Workflow invocation latency in seconds",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 60},
	}, []string{workflowName})

	// Notifications is the number of notification sends by outcome, either "sent" or "failed"
	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerflow_notifications_total",
		Help: "Number of notifications dispatched by outcome",
	}, []string{workflowName, outcome})

	// MetadataErrors is the number of times ledger metadata could not be attached to a notification
	MetadataErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerflow_metadata_error_count",
		Help: "Number of failed ledger metadata lookups for notifications",
	}, []string{workflowName})
)

func init() {
	prometheus.MustRegister(
		Invocations,
		Latency,
		Notifications,
		MetadataErrors,
	)
}

func Reset() {
	Invocations.Reset()
	Latency.Reset()
	Notifications.Reset()
	MetadataErrors.Reset()
}
