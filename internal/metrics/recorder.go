package metrics

import "time"

// OutcomeLabel enumerates response kinds for request counters.
type OutcomeLabel string

const (
	OutcomeCompleted            OutcomeLabel = "completed"
	OutcomeFailed               OutcomeLabel = "failed"
	OutcomeInfrastructureFailed OutcomeLabel = "infrastructure_failed"
)

// Recorder defines observability hooks for the worker runtime. Implementations
// may forward to Prometheus or other backends. NoopRecorder is the default.
type Recorder interface {
	ObserveRequestDuration(action string, d time.Duration)
	IncRequestOutcome(outcome OutcomeLabel)
	IncSessionInit(success bool)
	IncIsolationCache(hit bool)
	IncStreamFailure(reason string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveRequestDuration(string, time.Duration) {}
func (NoopRecorder) IncRequestOutcome(OutcomeLabel)               {}
func (NoopRecorder) IncSessionInit(bool)                          {}
func (NoopRecorder) IncIsolationCache(bool)                       {}
func (NoopRecorder) IncStreamFailure(string)                      {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
