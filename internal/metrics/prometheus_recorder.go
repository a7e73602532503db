package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "actionworker"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	requestDuration *prom.HistogramVec
	requestOutcomes *prom.CounterVec
	sessionInits    *prom.CounterVec
	isolationCache  *prom.CounterVec
	streamFailures  *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.requestDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of action requests executed by the worker",
			Buckets:   prom.DefBuckets,
		}, []string{"action"})
		pr.requestOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "request_outcomes_total",
			Help:      "Request responses by kind",
		}, []string{"outcome"})
		pr.sessionInits = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "session_inits_total",
			Help:      "Worker session initializations by result",
		}, []string{"result"})
		pr.isolationCache = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "isolation_cache_lookups_total",
			Help:      "Hierarchical isolation context cache lookups",
		}, []string{"result"})
		pr.streamFailures = prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stream_failures_total",
			Help:      "Incoming stream failures by reason",
		}, []string{"reason"})
		reg.MustRegister(pr.requestDuration, pr.requestOutcomes, pr.sessionInits, pr.isolationCache, pr.streamFailures)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveRequestDuration(action string, d time.Duration) {
	if p == nil || p.requestDuration == nil {
		return
	}
	p.requestDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRequestOutcome(outcome OutcomeLabel) {
	if p == nil || p.requestOutcomes == nil {
		return
	}
	p.requestOutcomes.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncSessionInit(success bool) {
	if p == nil || p.sessionInits == nil {
		return
	}
	p.sessionInits.WithLabelValues(resultLabel(success, "success", "failed")).Inc()
}

func (p *PrometheusRecorder) IncIsolationCache(hit bool) {
	if p == nil || p.isolationCache == nil {
		return
	}
	p.isolationCache.WithLabelValues(resultLabel(hit, "hit", "miss")).Inc()
}

func (p *PrometheusRecorder) IncStreamFailure(reason string) {
	if p == nil || p.streamFailures == nil {
		return
	}
	p.streamFailures.WithLabelValues(reason).Inc()
}

func resultLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
