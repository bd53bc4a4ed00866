package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(version string) {
	healthChecker = newHealthChecker()
	healthChecker.version = version
}

func TestRegisterComponent(t *testing.T) {
	resetHealth("")

	RegisterComponent("store", true, "running")

	comp, ok := Component("store")
	require.True(t, ok)
	assert.True(t, comp.Healthy)
	assert.Equal(t, "running", comp.Message)
	assert.False(t, comp.Updated.IsZero())

	_, ok = Component("missing")
	assert.False(t, ok)
}

func TestUpdateComponent(t *testing.T) {
	resetHealth("")

	RegisterComponent("store", true, "ok")
	UpdateComponent("store", false, "error")

	comp, ok := Component("store")
	require.True(t, ok)
	assert.False(t, comp.Healthy)
	assert.Equal(t, "error", comp.Message)
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		want       string
	}{
		{name: "no components", components: nil, want: "healthy"},
		{name: "all healthy", components: map[string]bool{"store": true, "supervisor": true, "bootstrap": true}, want: "healthy"},
		{name: "bootstrap failed", components: map[string]bool{"store": true, "bootstrap": false}, want: "degraded"},
		{name: "store failed", components: map[string]bool{"store": false, "bootstrap": true}, want: "unhealthy"},
		{name: "critical wins over degraded", components: map[string]bool{"store": false, "bootstrap": false}, want: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth("1.0.0")
			for name, healthy := range tt.components {
				RegisterComponent(name, healthy, "broken")
			}

			health := GetHealth()
			assert.Equal(t, tt.want, health.Status)
			assert.Len(t, health.Components, len(tt.components))
			assert.Equal(t, "1.0.0", health.Version)
		})
	}
}

func TestGetHealth_ComponentMessage(t *testing.T) {
	resetHealth("")
	RegisterComponent("bootstrap", false, "directory unavailable")

	health := GetHealth()
	assert.Equal(t, "unhealthy: directory unavailable", health.Components["bootstrap"])
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		healthy    bool
		component  string
		wantCode   int
		wantStatus string
	}{
		{name: "healthy", healthy: true, component: "store", wantCode: http.StatusOK, wantStatus: "healthy"},
		{name: "degraded", healthy: false, component: "bootstrap", wantCode: http.StatusOK, wantStatus: "degraded"},
		{name: "unhealthy", healthy: false, component: "store", wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth("test")
			RegisterComponent(tt.component, tt.healthy, "broken")

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			HealthHandler()(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var health HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Equal(t, "test", health.Version)
		})
	}
}

func passing(detail string) Check {
	return func(ctx context.Context) (string, error) { return detail, nil }
}

func failing(msg string) Check {
	return func(ctx context.Context) (string, error) { return "", errors.New(msg) }
}

func TestReadiness_Check(t *testing.T) {
	tests := []struct {
		name        string
		checks      map[string]Check
		wantStatus  string
		wantMessage string
		wantChecks  map[string]string
	}{
		{
			name:       "no checks",
			wantStatus: StatusReady,
			wantChecks: map[string]string{},
		},
		{
			name:       "all passing",
			checks:     map[string]Check{"supervisor": passing("ready (3 workers)"), "storage": passing("ok")},
			wantStatus: StatusReady,
			wantChecks: map[string]string{"supervisor": "ready (3 workers)", "storage": "ok"},
		},
		{
			name:        "one failing",
			checks:      map[string]Check{"supervisor": passing("ready"), "storage": failing("database not open")},
			wantStatus:  StatusNotReady,
			wantMessage: "waiting for storage",
			wantChecks:  map[string]string{"supervisor": "ready", "storage": "database not open"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth("1.0.0")
			r := NewReadiness(time.Second)
			for name, check := range tt.checks {
				r.Add(name, check)
			}

			status := r.Check(context.Background())
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantMessage, status.Message)
			assert.Equal(t, tt.wantChecks, status.Checks)
			assert.Equal(t, "1.0.0", status.Version)
		})
	}
}

func TestReadiness_FirstFailureNamesMessage(t *testing.T) {
	r := NewReadiness(time.Second)
	r.Add("supervisor", failing("starting"))
	r.Add("storage", failing("closed"))

	assert.Equal(t, "waiting for supervisor", r.Check(context.Background()).Message)

	// re-adding keeps the original position
	r.Add("supervisor", passing("ready"))
	assert.Equal(t, "waiting for storage", r.Check(context.Background()).Message)
}

func TestReadiness_Timeout(t *testing.T) {
	r := NewReadiness(20 * time.Millisecond)
	r.Add("slow", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	status := r.Check(context.Background())
	assert.Equal(t, StatusNotReady, status.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), status.Checks["slow"])
}

func TestReadiness_Handler(t *testing.T) {
	ready := false
	r := NewReadiness(time.Second)
	r.Add("supervisor", func(ctx context.Context) (string, error) {
		if !ready {
			return "", errors.New("starting")
		}
		return "ready", nil
	})

	w := httptest.NewRecorder()
	r.Handler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var status ReadinessStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, StatusNotReady, status.Status)
	assert.Equal(t, "starting", status.Checks["supervisor"])

	ready = true
	w = httptest.NewRecorder()
	r.Handler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLivenessHandler(t *testing.T) {
	resetHealth("")

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "alive", response["status"])
	assert.NotEmpty(t, response["uptime"])
}
