// Package handler serves the read-only HTTP API over the engine and stores.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/goldspread/internal/domain"
	"github.com/alanyoungcy/goldspread/internal/engine"
)

// EngineView is the read side of the position engine the handlers need.
type EngineView interface {
	Status() engine.Status
	Positions() []domain.Position
	Config() domain.RuntimeConfig
}

// writeJSON marshals v and writes it with the given status. Marshal
// failures become a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit (default 50, max 500), offset, and the RFC 3339
// since/until bounds from the query string.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, &domain.ValidationError{Field: "limit", Value: v, Reason: "must be a positive integer"}
		}
		opts.Limit = min(n, 500)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, &domain.ValidationError{Field: "offset", Value: v, Reason: "must be a non-negative integer"}
		}
		opts.Offset = n
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := q.Get(bound.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, &domain.ValidationError{Field: bound.name, Value: v, Reason: "must be an RFC 3339 timestamp"}
		}
		*bound.dst = &t
	}
	return opts, nil
}
