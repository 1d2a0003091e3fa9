package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/goldspread/internal/command"
	"github.com/alanyoungcy/goldspread/internal/engine"
	"github.com/alanyoungcy/goldspread/internal/pipeline"
	"github.com/alanyoungcy/goldspread/internal/platform/variational"
	"github.com/alanyoungcy/goldspread/internal/server"
	"github.com/alanyoungcy/goldspread/internal/server/handler"
	"github.com/alanyoungcy/goldspread/internal/server/ws"
)

// flushTimeout bounds how long shutdown waits for queued alerts and writes.
const flushTimeout = 15 * time.Second

// MonitorMode runs the spread monitor: the quote collector feeding the
// position engine, the engine's side-effect outbox, the Telegram command
// poller, the retention cron and the read-only HTTP API.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.String("pair", a.cfg.Market.Pair),
		slog.Bool("ticks_only", a.cfg.TicksOnlyMode),
	)

	unlock, err := acquireInstanceLock(ctx, deps, a.cfg.Redis.LockKey)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	a.closers = append(a.closers, unlock)

	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	quotes := variational.NewClient(variational.Config{
		URL:        a.cfg.Market.APIURL,
		PaxgTicker: a.cfg.Market.PaxgTicker,
		XautTicker: a.cfg.Market.XautTicker,
		QuoteSize:  a.cfg.Market.QuoteSize,
		Timeout:    a.cfg.Market.Timeout.Duration,
	})
	collector := pipeline.NewCollector(pipeline.CollectorDeps{
		Source:  quotes,
		Ticks:   deps.Store.Ticks(),
		Engine:  eng,
		Cache:   deps.TickCache,
		Bus:     deps.SignalBus,
		Alerter: deps.Dispatcher,
	}, pipeline.CollectorConfig{
		Pair:             a.cfg.Market.Pair,
		MaxAttempts:      a.cfg.Fetch.MaxAttempts,
		InitialBackoff:   a.cfg.Fetch.InitialBackoff.Duration,
		MaxBackoff:       a.cfg.Fetch.MaxBackoff.Duration,
		FailureThreshold: a.cfg.Alerts.APIFailureThreshold,
		FailureCooldown:  a.cfg.Alerts.APIFailureCooldown.Duration,
	}, a.logger)

	var archiver *pipeline.Archiver
	if a.cfg.Pipeline.ArchiveCron != "" {
		archiver = a.newArchiver(deps)
	}
	orchestrator := pipeline.NewOrchestrator(collector, archiver, a.cfg.Pipeline.ArchiveCron, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return orchestrator.Run(gctx)
	})

	if deps.Telegram != nil {
		router := command.NewRouter(eng, deps.Telegram, deps.RateLimiter, command.RouterConfig{
			AllowedChatIDs: a.cfg.Notify.ChatIDs(),
			RateLimit:      a.cfg.Notify.CommandRateLimit,
			RateWindow:     time.Minute,
			TicksOnly:      a.cfg.TicksOnlyMode,
		}, a.logger)
		poller := command.NewPoller(deps.Telegram, router, a.cfg.Notify.TelegramPollTimeout.Duration, a.logger)
		g.Go(func() error {
			return poller.Run(gctx)
		})
	} else {
		a.logger.WarnContext(ctx, "telegram token not set, operator commands are disabled")
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, eng)
	}

	err = g.Wait()

	// Deliver whatever the outbox still holds before the stores close.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	eng.Flush(flushCtx)

	return err
}

// ArchiveMode runs one retention pass and exits. It is meant for an external
// scheduler when the in-process cron is not wanted.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	unlock, err := acquireInstanceLock(ctx, deps, a.cfg.Redis.LockKey+":archive")
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	defer unlock()

	res, err := a.newArchiver(deps).Run(ctx)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive mode finished",
		slog.Time("cutoff", res.Cutoff),
		slog.Int64("archived", res.Archived),
		slog.Int64("deleted", res.Deleted),
	)
	return nil
}

// buildEngine creates the position engine and restores its persisted state.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies) (*engine.Engine, error) {
	policy, err := engine.ParseOpenPolicy(a.cfg.Strategy.OpenSignalPolicy)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engine.Options{
		Positions: deps.Store.Positions(),
		Config:    deps.Store.RuntimeConfig(),
		Audit:     deps.Store.Audit(),
		Alerter:   deps.Dispatcher,
		Publisher: deps.Dispatcher,
		Defaults:  a.cfg.RuntimeDefaults(),
		Policy:    policy,
		Retry: engine.RetryPolicy{
			Attempts: a.cfg.Alerts.EffectAttempts,
			Backoff:  a.cfg.Alerts.EffectBackoff.Duration,
		},
		Logger: a.logger,
	})
	if err := eng.Load(ctx); err != nil {
		return nil, err
	}
	return eng, nil
}

// newArchiver builds the retention runner. Ticks are exported to S3 first
// only when both S3 and archiving are enabled.
func (a *App) newArchiver(deps *Dependencies) *pipeline.Archiver {
	exporter := deps.TickArchiver
	if !a.cfg.Pipeline.ArchiveEnabled {
		exporter = nil
	}
	return pipeline.NewArchiver(deps.Store.Ticks(), exporter, a.cfg.Pipeline.DataTTLDays, a.logger)
}

// startHTTPServer registers the API handlers and runs the server, plus the
// websocket hub when a signal bus is available.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) {
	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, func() any { return eng.Status() }, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Status:    handler.NewStatusHandler(eng, a.cfg.Mode, a.cfg.TicksOnlyMode),
		Positions: handler.NewPositionHandler(eng, deps.Store.Positions(), a.logger),
		Config:    handler.NewConfigHandler(eng),
		Ticks:     handler.NewTickHandler(deps.TickCache, eng, a.cfg.Market.Pair, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Run(ctx)
	})
}
