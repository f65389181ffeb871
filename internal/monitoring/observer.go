package monitoring

import (
	"github.com/guided-traffic/matomo-tracker/pkg/matomo"
)

// TrackerObserver records tracker activity as Prometheus metrics
type TrackerObserver struct{}

var _ matomo.Observer = TrackerObserver{}

// RequestSkipped counts a request excluded from tracking
func (TrackerObserver) RequestSkipped(reason string) {
	TrackerSkippedTotal.WithLabelValues(reason).Inc()
}

// CallFinished counts a tracking call and observes its duration
func (TrackerObserver) CallFinished(result matomo.Result) {
	TrackerCallsTotal.WithLabelValues(Outcome(result)).Inc()
	TrackerCallDuration.Observe(result.Duration.Seconds())
}

// Outcome classifies a tracking result: answered with an error status is
// "rejected", no answer at all is "failed".
func Outcome(result matomo.Result) string {
	switch {
	case result.Err == nil:
		return OutcomeSent
	case result.StatusCode != 0:
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
