package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 3 * time.Second

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves the health-check endpoint. Each registered check is
// probed on every request; the endpoint degrades to 503 when any fails.
type HealthHandler struct {
	checks map[string]HealthCheck
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler with the provided dependency
// checks. checks may be empty for a bare liveness probe.
func NewHealthHandler(checks map[string]HealthCheck, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		logger: logger.With(slog.String("handler", "health")),
	}
}

// Health responds with the aggregate status of every dependency.
// GET /api/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(h.checks))
	healthy := true

	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()

		if err != nil {
			healthy = false
			components[name] = err.Error()
			h.logger.WarnContext(r.Context(), "dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		components[name] = "ok"
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
