package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Middleware(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/v1/aircraft/:id", func(ctx echo.Context) error {
		if ctx.Param("id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		return ctx.NoContent(http.StatusNoContent)
	})
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	for _, path := range []string{"/v1/aircraft/a1", "/v1/aircraft/a2", "/v1/aircraft/missing", "/metrics"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "/v1/aircraft/:id", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "/v1/aircraft/:id", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "aeroschool_http_requests_total")
	assert.NotContains(t, rec.Body.String(), `path="/metrics"`)
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.WebhookEvent("decision", "processed")
	m.WebhookEvent("decision", "processed")
	m.WebhookEvent("event", "failed")
	m.JobRun("webhook_retry", true, 20*time.Millisecond)
	m.JobRun("webhook_retry", false, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("decision", "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("event", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("webhook_retry", "false")))

	expected := `
# HELP aeroschool_jobs_runs_total Scheduled job runs.
# TYPE aeroschool_jobs_runs_total counter
aeroschool_jobs_runs_total{job="webhook_retry",success="false"} 1
aeroschool_jobs_runs_total{job="webhook_retry",success="true"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(m.jobRuns, strings.NewReader(expected)))
}
