package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagersUseIndependentRegistries(t *testing.T) {
	first := NewManager()
	second := NewManager()

	first.GetPrometheusMetrics().RecordCacheRequest("hot", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(first.GetPrometheusMetrics().CacheRequestsTotal.WithLabelValues("hot", "hit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.GetPrometheusMetrics().CacheRequestsTotal.WithLabelValues("hot", "hit")))
}

func TestHandlerExposesRecordedMetrics(t *testing.T) {
	manager := NewManager()
	pm := manager.GetPrometheusMetrics()
	pm.RecordRPCRequest("primary", "getBalance", "success", 20*time.Millisecond)
	pm.RecordIngestionRun("success", time.Second)
	manager.UpdateSystemMetrics()

	rec := httptest.NewRecorder()
	manager.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `presale_rpc_requests_total{endpoint="primary",method="getBalance",status="success"} 1`))
	assert.Contains(t, body, "presale_ingestion_runs_total")
	assert.Contains(t, body, "presale_goroutines")
}
