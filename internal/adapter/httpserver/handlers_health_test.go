package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/radar/internal/platform/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHealthServer(t *testing.T, clock clockwork.Clock, checks ...HealthCheck) *Server {
	t.Helper()
	srv, err := NewServer(testConfig(), clock, nil, nil, checks)
	require.NoError(t, err)
	return srv
}

func healthOK(name string) HealthCheck {
	return HealthCheck{Name: name, Check: func(context.Context) error { return nil }}
}

func healthErr(name string, err error) HealthCheck {
	return HealthCheck{Name: name, Check: func(context.Context) error { return err }}
}

func serve(srv *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestLiveness_ReportsUptime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	srv := newHealthServer(t, clock)
	clock.Advance(90 * time.Second)

	rec := serve(srv, http.MethodGet, "/health/live")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.InDelta(t, 90.0, body["uptime"], 0.001)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantStatus int
		wantFailed string
	}{
		{"no checks", nil, http.StatusOK, ""},
		{"all healthy", []HealthCheck{healthOK("hub"), healthOK("other")}, http.StatusOK, ""},
		{"first failing wins", []HealthCheck{healthOK("other"), healthErr("hub", errors.New("hub not responding")), healthErr("later", errors.New("x"))}, http.StatusServiceUnavailable, "hub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newHealthServer(t, clockwork.NewFakeClock(), tt.checks...)

			rec := serve(srv, http.MethodGet, "/health/ready")
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tt.wantFailed == "" {
				assert.Equal(t, "ready", body["status"])
				assert.Equal(t, 0.0, body["connections"])
				return
			}
			assert.Equal(t, "unhealthy", body["status"])
			assert.Equal(t, tt.wantFailed, body["failed_check"])
			assert.Equal(t, "hub not responding", body["error"])
		})
	}
}

func TestReadiness_CheckSeesDeadline(t *testing.T) {
	var hadDeadline bool
	check := HealthCheck{Name: "deadline", Check: func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}}
	srv := newHealthServer(t, clockwork.NewFakeClock(), check)

	serve(srv, http.MethodGet, "/health/ready")
	assert.True(t, hadDeadline)
}

func TestVersionEndpoint(t *testing.T) {
	srv := newHealthServer(t, clockwork.NewFakeClock())

	rec := serve(srv, http.MethodGet, "/version")
	require.Equal(t, http.StatusOK, rec.Code)

	var info version.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, version.Get(), info)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newHealthServer(t, clockwork.NewFakeClock())

	rec := serve(srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "registry_participants_current")
	assert.Contains(t, rec.Body.String(), "websocket_connections_current")
}
