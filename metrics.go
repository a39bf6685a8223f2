package ledgerflow

import (
	"errors"
	"time"

	"k8s.io/utils/clock"

	"github.com/luno/ledgerflow/internal/metrics"
)

const outcomeSuccess = "success"

// observeInvocation records the outcome and latency of a workflow invocation.
//
// See internal/metrics/metrics.go for the prometheus metrics configured.
func observeInvocation(wf Workflow, start time.Time, c clock.Clock, err error) {
	outcome := outcomeSuccess
	if err != nil {
		outcome = "unknown"
		var f *Failure
		if errors.As(err, &f) {
			outcome = string(f.Kind)
		}
	}

	metrics.Invocations.WithLabelValues(string(wf), outcome).Inc()
	metrics.Latency.WithLabelValues(string(wf)).Observe(c.Since(start).Seconds())
}

func observeNotification(wf Workflow, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}

	metrics.Notifications.WithLabelValues(string(wf), outcome).Inc()
}

func observeMetadataError(wf Workflow) {
	metrics.MetadataErrors.WithLabelValues(string(wf)).Inc()
}
