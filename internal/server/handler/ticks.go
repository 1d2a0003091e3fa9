package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

// TickHandler serves the most recent tick.
type TickHandler struct {
	cache  domain.TickCache
	engine EngineView
	pair   string
	logger *slog.Logger
}

// NewTickHandler creates a TickHandler. cache may be nil, in which case the
// engine's last tick is served.
func NewTickHandler(cache domain.TickCache, view EngineView, pair string, logger *slog.Logger) *TickHandler {
	return &TickHandler{cache: cache, engine: view, pair: pair, logger: logger}
}

// GetLatest returns the latest tick for the configured pair, or 404 before
// the first successful cycle.
// GET /api/ticks/latest
func (h *TickHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	if h.cache != nil {
		tick, err := h.cache.GetLatest(r.Context(), h.pair)
		if err == nil {
			writeJSON(w, http.StatusOK, tick)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.WarnContext(r.Context(), "tick cache read failed, using engine",
				slog.String("error", err.Error()),
			)
		}
	}

	if last := h.engine.Status().LastTick; last != nil {
		writeJSON(w, http.StatusOK, last)
		return
	}
	writeError(w, http.StatusNotFound, "no tick observed yet")
}
