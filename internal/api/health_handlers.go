package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/TLC405/morganisthebest/internal/middleware"
)

const readinessTimeout = 5 * time.Second

// Check results reported per dependency by /ready.
const (
	checkOK            = "ok"
	checkError         = "error"
	checkNotConfigured = "not_configured"
)

// HealthChecker is satisfied by the checkers in package health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandlersConfig configures the health check handlers. A nil checker
// means the dependency is not in use (in-memory storage, local rate limits).
type HealthHandlersConfig struct {
	DBChecker      HealthChecker
	RedisChecker   HealthChecker
	MetricsEnabled bool
}

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	deps           []dependency
	metricsEnabled bool
}

type dependency struct {
	name    string
	checker HealthChecker
}

func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	return &HealthHandlers{
		deps: []dependency{
			{"database", config.DBChecker},
			{"redis", config.RedisChecker},
		},
		metricsEnabled: config.MetricsEnabled,
	}
}

// HealthResponse is the body of /health and /ready.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health. It answers 200 whenever the process can serve.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}
	writeHealth(w, r.Context(), true, map[string]string{"runtime": checkOK})
}

// Ready handles GET /ready. It answers 503 when a configured dependency
// fails its check within readinessTimeout.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	if !requireGet(w, r) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks, healthy := h.check(ctx)
	if h.metricsEnabled {
		checks["metrics"] = checkOK
	}
	writeHealth(w, r.Context(), healthy, checks)
}

func (h *HealthHandlers) check(ctx context.Context) (map[string]string, bool) {
	checks := make(map[string]string, len(h.deps)+1)
	healthy := true
	for _, dep := range h.deps {
		switch {
		case dep.checker == nil:
			checks[dep.name] = checkNotConfigured
		case dep.checker.HealthCheck(ctx) != nil:
			checks[dep.name] = checkError
			healthy = false
		default:
			checks[dep.name] = checkOK
		}
	}
	if !healthy {
		slog.WarnContext(ctx, "readiness check failed", "checks", checks)
	}
	return checks, healthy
}

func requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return true
	}
	ctx := middleware.SetErrorCode(r.Context(), ErrCodeMethodNotAllowed)
	WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
	return false
}

func writeHealth(w http.ResponseWriter, ctx context.Context, healthy bool, checks map[string]string) {
	resp := HealthResponse{
		Status:    "healthy",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, ctx, code, resp)
}
