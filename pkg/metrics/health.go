package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Health states reported by /health
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Readiness states reported by /ready
const (
	StatusReady    = "ready"
	StatusNotReady = "not ready"
)

// HealthStatus is the /health response
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// criticalComponents make the process unhealthy when they fail. Any other
// component, such as the bootstrap, only degrades it.
var criticalComponents = []string{"store", "supervisor", "api"}

// ComponentHealth is the last state a component reported about itself
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker keeps the state components push about themselves
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
	version    string
}

var healthChecker = newHealthChecker()

func newHealthChecker() *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// RegisterComponent records the state of a component
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent is RegisterComponent for a component that reported before
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// Component returns the last reported state of a component
func Component(name string) (ComponentHealth, bool) {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	comp, ok := healthChecker.components[name]
	return comp, ok
}

func uptime() string {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()
	return time.Since(healthChecker.startTime).Round(time.Second).String()
}

// GetHealth folds every component into one status
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	health := HealthStatus{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(healthChecker.components)),
		Version:    healthChecker.version,
		Uptime:     time.Since(healthChecker.startTime).Round(time.Second).String(),
	}

	for name, comp := range healthChecker.components {
		if comp.Healthy {
			health.Components[name] = StatusHealthy
			continue
		}
		health.Components[name] = StatusUnhealthy + ": " + comp.Message
		switch {
		case slices.Contains(criticalComponents, name):
			health.Status = StatusUnhealthy
		case health.Status == StatusHealthy:
			health.Status = StatusDegraded
		}
	}
	return health
}

// HealthHandler serves GetHealth. Degraded still answers 200.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	}
}

// LivenessHandler answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": uptime(),
		})
	}
}

// Check tests one dependency. A nil error means ready; detail describes the
// dependency either way and the error text replaces it when not ready.
type Check func(ctx context.Context) (detail string, err error)

// ReadinessStatus is the /ready response
type ReadinessStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
	Version   string            `json:"version,omitempty"`
}

// Readiness runs named checks in registration order
type Readiness struct {
	mu      sync.RWMutex
	names   []string
	checks  map[string]Check
	timeout time.Duration
}

// NewReadiness creates an empty set of checks. timeout bounds one evaluation.
func NewReadiness(timeout time.Duration) *Readiness {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Readiness{
		checks:  make(map[string]Check),
		timeout: timeout,
	}
}

// Add registers a check, replacing one with the same name
func (r *Readiness) Add(name string, check Check) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.checks[name]; !ok {
		r.names = append(r.names, name)
	}
	r.checks[name] = check
}

// Check runs every check. The first failing check names the message.
func (r *Readiness) Check(ctx context.Context) ReadinessStatus {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.mu.RLock()
	names := slices.Clone(r.names)
	checks := make([]Check, len(names))
	for i, name := range names {
		checks[i] = r.checks[name]
	}
	r.mu.RUnlock()

	healthChecker.mu.RLock()
	version := healthChecker.version
	healthChecker.mu.RUnlock()

	status := ReadinessStatus{
		Status:    StatusReady,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(names)),
		Version:   version,
	}
	for i, name := range names {
		detail, err := checks[i](ctx)
		if err != nil {
			status.Checks[name] = err.Error()
			if status.Status == StatusReady {
				status.Status = StatusNotReady
				status.Message = "waiting for " + name
			}
			continue
		}
		status.Checks[name] = detail
	}
	return status
}

// Handler serves Check, answering 503 until every check passes
func (r *Readiness) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		status := r.Check(req.Context())
		code := http.StatusOK
		if status.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
