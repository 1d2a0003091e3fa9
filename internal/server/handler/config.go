package handler

import "net/http"

// ConfigHandler exposes the live runtime parameters. Changes go through
// /set in chat only.
type ConfigHandler struct {
	engine EngineView
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(view EngineView) *ConfigHandler {
	return &ConfigHandler{engine: view}
}

// GetConfig returns the current RuntimeConfig.
// GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Config())
}
