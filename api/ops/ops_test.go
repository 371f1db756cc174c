package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"matchcore/logger"
	"matchcore/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fakeSource struct{ state pipeline.State }

func (f *fakeSource) State() pipeline.State { return f.state }

func (f *fakeSource) Stats() pipeline.Stats {
	return pipeline.Stats{State: f.state.String(), Admitted: 42}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestReadyzFollowsPipelineState(t *testing.T) {
	src := &fakeSource{state: pipeline.Running}
	r := NewRouter(src, logger.Discard())

	assert.Equal(t, http.StatusOK, get(t, r, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, r, "/readyz").Code)

	src.state = pipeline.Draining
	w := get(t, r, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "DRAINING")
}

func TestStatsEndpoint(t *testing.T) {
	r := NewRouter(&fakeSource{state: pipeline.Running}, logger.Discard())
	w := get(t, r, "/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var st pipeline.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, uint64(42), st.Admitted)
	assert.Equal(t, "RUNNING", st.State)
}

func TestMetricsEndpoint(t *testing.T) {
	r := NewRouter(&fakeSource{}, logger.Discard())
	w := get(t, r, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGRPCHealth(t *testing.T) {
	src := &fakeSource{state: pipeline.Running}
	h := NewHealth(src)

	resp, err := h.srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	src.state = pipeline.Stopped
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, h.Sync())
	resp, err = h.srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}
