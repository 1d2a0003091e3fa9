package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/goldspread/internal/domain"
	"github.com/alanyoungcy/goldspread/internal/engine"
	"github.com/alanyoungcy/goldspread/internal/server/handler"
	"github.com/alanyoungcy/goldspread/internal/store"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type apiFixture struct {
	eng     *engine.Engine
	mem     *store.Memory
	handler http.Handler
}

func newAPIFixture(t *testing.T, cfg Config, checks map[string]handler.Check) *apiFixture {
	t.Helper()
	mem := store.NewMemory()
	eng := engine.New(engine.Options{
		Positions: mem.Positions(),
		Config:    mem.RuntimeConfig(),
		Audit:     mem.Audit(),
		Logger:    discard(),
	})
	if err := eng.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := newHandler(cfg, Handlers{
		Health:    handler.NewHealthHandler(checks, discard()),
		Status:    handler.NewStatusHandler(eng, "monitor", false),
		Positions: handler.NewPositionHandler(eng, mem.Positions(), discard()),
		Config:    handler.NewConfigHandler(eng),
		Ticks:     handler.NewTickHandler(nil, eng, "PAXG-XAUT", discard()),
	}, nil, nil, discard())
	return &apiFixture{eng: eng, mem: mem, handler: h}
}

func (f *apiFixture) get(t *testing.T, path string, header ...string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
		}
	}
	return rec.Code, body
}

func (f *apiFixture) tick(open, closeSpread string) {
	f.eng.OnTick(context.Background(), domain.Tick{
		Pair:        "PAXG-XAUT",
		Timestamp:   time.Now(),
		SpreadOpen:  decimal.RequireFromString(open),
		SpreadClose: decimal.RequireFromString(closeSpread),
	})
	f.eng.Flush(context.Background())
}

func TestAPIPositionsLifecycle(t *testing.T) {
	f := newAPIFixture(t, Config{}, nil)

	code, body := f.get(t, "/api/positions")
	if code != http.StatusOK || len(body["positions"].([]any)) != 0 {
		t.Fatalf("empty positions: %d %v", code, body)
	}

	f.tick("41", "-45")
	code, body = f.get(t, "/api/positions")
	positions := body["positions"].([]any)
	if code != http.StatusOK || len(positions) != 1 {
		t.Fatalf("positions: %d %v", code, body)
	}
	if p := positions[0].(map[string]any); p["status"] != "awaiting_open_confirmation" || p["entry_signal_spread"] != "41" {
		t.Fatalf("position = %v", p)
	}

	ctx := context.Background()
	if _, err := f.eng.ConfirmOpen(ctx, engine.Ref{}, decimal.NewFromInt(40), "op"); err != nil {
		t.Fatal(err)
	}
	f.tick("30", "-39")
	if _, err := f.eng.ConfirmClose(ctx, engine.Ref{}, decimal.NewFromInt(-39), "op"); err != nil {
		t.Fatal(err)
	}
	f.eng.Flush(ctx)

	_, body = f.get(t, "/api/positions/history?limit=10")
	history := body["positions"].([]any)
	if len(history) != 1 || history[0].(map[string]any)["status"] != "closed" {
		t.Fatalf("history = %v", body)
	}
	if code, _ := f.get(t, "/api/positions/history?limit=abc"); code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", code)
	}
}

func TestAPIStatusAndConfig(t *testing.T) {
	f := newAPIFixture(t, Config{}, nil)
	f.tick("12.5", "-13")

	code, body := f.get(t, "/api/status")
	if code != http.StatusOK || body["mode"] != "monitor" || body["ticks_seen"] != float64(1) {
		t.Fatalf("status: %d %v", code, body)
	}
	if last := body["last_tick"].(map[string]any); last["spread_open"] != "12.5" {
		t.Fatalf("last_tick = %v", last)
	}

	_, body = f.get(t, "/api/config")
	if body["open_threshold"] != "40" || body["poll_interval_seconds"] != float64(2) {
		t.Fatalf("config = %v", body)
	}
}

func TestAPILatestTick(t *testing.T) {
	f := newAPIFixture(t, Config{}, nil)
	if code, _ := f.get(t, "/api/ticks/latest"); code != http.StatusNotFound {
		t.Fatalf("before first tick status = %d", code)
	}
	f.tick("3", "-4")
	code, body := f.get(t, "/api/ticks/latest")
	if code != http.StatusOK || body["spread_close"] != "-4" {
		t.Fatalf("latest: %d %v", code, body)
	}
}

func TestAPIAuthAndHealth(t *testing.T) {
	checks := map[string]handler.Check{
		"postgres": func(context.Context) error { return nil },
	}
	f := newAPIFixture(t, Config{APIKey: "k"}, checks)

	if code, body := f.get(t, "/api/health"); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", code, body)
	}
	if code, _ := f.get(t, "/api/status"); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", code)
	}
	if code, _ := f.get(t, "/api/status", "X-API-Key", "k"); code != http.StatusOK {
		t.Fatalf("authenticated status = %d", code)
	}
	if code, _ := f.get(t, "/metrics"); code != http.StatusOK {
		t.Fatalf("metrics status = %d", code)
	}
}

func TestAPIHealthDegraded(t *testing.T) {
	checks := map[string]handler.Check{
		"redis": func(context.Context) error { return io.ErrUnexpectedEOF },
	}
	f := newAPIFixture(t, Config{}, checks)
	code, body := f.get(t, "/api/health")
	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("health: %d %v", code, body)
	}
}
