package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	WorkersProvisioned.Inc()
	WorkersTerminal.WithLabelValues("succeeded").Inc()
	SamplesAggregated.Add(42)
	RunsTotal.WithLabelValues("ok").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "stampede_workers_provisioned_total")
	assert.Contains(t, body, `stampede_workers_terminal_total{state="succeeded"}`)
	assert.Contains(t, body, "stampede_samples_aggregated_total")
	assert.Contains(t, body, `stampede_runs_total{status="ok"}`)
}
