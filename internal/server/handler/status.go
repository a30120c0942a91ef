package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/lmsrd/internal/engine"
)

// StatusHandler reports daemon-level runtime information: the configured
// mode, uptime and how many markets the engine currently hosts.
type StatusHandler struct {
	engine    *engine.Engine
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(eng *engine.Engine, mode string, startedAt time.Time, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		engine:    eng,
		mode:      mode,
		startedAt: startedAt,
		logger:    logger.With(slog.String("handler", "status")),
	}
}

// Status returns the runtime snapshot.
// GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": uptime,
		"markets":        len(h.engine.ListMarkets(r.Context())),
	})
}
