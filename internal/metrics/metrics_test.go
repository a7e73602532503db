package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveRequestDuration("compile", 150*time.Millisecond)
	pr.IncRequestOutcome(OutcomeCompleted)
	pr.IncRequestOutcome(OutcomeFailed)
	pr.IncRequestOutcome(OutcomeFailed)
	pr.IncSessionInit(true)
	pr.IncIsolationCache(false)
	pr.IncIsolationCache(true)
	pr.IncStreamFailure("decode")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 5)

	counts := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			for _, lp := range m.GetLabel() {
				counts[mf.GetName()+"/"+lp.GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	assert.InDelta(t, 2, counts["actionworker_request_outcomes_total/failed"], 0)
	assert.InDelta(t, 1, counts["actionworker_isolation_cache_lookups_total/hit"], 0)
	assert.InDelta(t, 1, counts["actionworker_session_inits_total/success"], 0)
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.IncRequestOutcome(OutcomeCompleted)
		pr.ObserveRequestDuration("x", time.Second)
		pr.IncIsolationCache(true)
	})
}

func TestOrNoop(t *testing.T) {
	assert.IsType(t, NoopRecorder{}, OrNoop(nil))
	pr := NewPrometheusRecorder(nil)
	assert.Same(t, pr, OrNoop(pr))
}

func TestHTTPHandlerServesRegistry(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).IncRequestOutcome(OutcomeInfrastructureFailed)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `actionworker_request_outcomes_total{outcome="infrastructure_failed"} 1`))
}
