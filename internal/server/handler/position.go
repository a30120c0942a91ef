package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/lmsrd/internal/domain"
	"github.com/alanyoungcy/lmsrd/internal/engine"
)

// PositionHandler serves share-balance endpoints. Per-market balances come
// straight from the engine; the cross-market account view needs the
// Postgres position store and is unavailable in memory mode.
type PositionHandler struct {
	engine *engine.Engine
	store  domain.PositionStore // nil in memory mode
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler. store may be nil.
func NewPositionHandler(eng *engine.Engine, store domain.PositionStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		engine: eng,
		store:  store,
		logger: logger.With(slog.String("handler", "position")),
	}
}

// GetPosition returns one holder's balance for one outcome.
// GET /api/markets/{id}/positions/{account}?outcome=yes
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	account := pathParam(r, "account")

	outcome, err := parseOutcome(r.URL.Query().Get("outcome"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	pos, err := h.engine.GetPosition(r.Context(), id, account, outcome)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toPositionView(pos))
}

// ListByAccount returns every position an account holds across markets.
// GET /api/positions?account=alice&limit=50&offset=0
func (h *PositionHandler) ListByAccount(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotImplemented, "account-wide positions require the persistence layer")
		return
	}

	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "missing account parameter")
		return
	}
	opts := parseListOpts(r)

	positions, err := h.store.ListByAccount(r.Context(), account, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed",
			slog.String("account", account),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, toPositionView(p))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"positions": views,
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	})
}
