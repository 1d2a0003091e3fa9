// Package pipeline runs the background loops of the monitor: the quote
// collector that feeds the position engine and the tick retention job.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/goldspread/internal/domain"
	"github.com/alanyoungcy/goldspread/internal/metrics"
	"github.com/alanyoungcy/goldspread/internal/spread"
)

// TickEvaluator is the slice of the position engine the collector needs.
type TickEvaluator interface {
	OnTick(ctx context.Context, tick domain.Tick) []domain.Signal
	PollInterval() time.Duration
	AnnualFactor() decimal.Decimal
}

// FailureAlerter is told when quote fetching keeps failing.
type FailureAlerter interface {
	APIFailure(ctx context.Context, consecutive int, cause error) error
}

// CollectorConfig bounds retries and failure alerting.
type CollectorConfig struct {
	Pair             string
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	FailureThreshold int
	FailureCooldown  time.Duration
}

// CollectorDeps are the collaborators of a Collector. Cache, Bus and Alerter
// are optional.
type CollectorDeps struct {
	Source  domain.QuoteSource
	Ticks   domain.TickStore
	Engine  TickEvaluator
	Cache   domain.TickCache
	Bus     domain.SignalBus
	Alerter FailureAlerter
}

// ErrCycleSkipped marks a cycle that produced no tick.
var ErrCycleSkipped = errors.New("pipeline: cycle skipped")

// Collector polls the quote source, derives ticks and hands them to the
// engine. The period is re-read from the engine before every sleep, so a
// /set poll takes effect on the next cycle.
type Collector struct {
	deps CollectorDeps
	cfg  CollectorConfig

	failures  int
	lastAlert time.Time

	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	logger *slog.Logger
}

// NewCollector creates a Collector.
func NewCollector(deps CollectorDeps, cfg CollectorConfig, logger *slog.Logger) *Collector {
	if cfg.Pair == "" {
		cfg.Pair = spread.DefaultPair
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 3
	}
	return &Collector{
		deps:   deps,
		cfg:    cfg,
		sleep:  sleepCtx,
		now:    time.Now,
		logger: logger.With(slog.String("component", "collector")),
	}
}

// Run collects until ctx is cancelled. A cycle that fails never stops the
// loop.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "collector started",
		slog.String("pair", c.cfg.Pair),
		slog.Duration("poll_interval", c.deps.Engine.PollInterval()),
	)
	for {
		_, _ = c.RunOnce(ctx)
		if err := c.sleep(ctx, c.deps.Engine.PollInterval()); err != nil {
			c.logger.InfoContext(ctx, "collector stopped")
			return err
		}
	}
}

// RunOnce performs a single cycle and returns the tick it produced. A
// skipped cycle returns an error wrapping ErrCycleSkipped.
func (c *Collector) RunOnce(ctx context.Context) (domain.Tick, error) {
	q, err := c.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Tick{}, ctx.Err()
		}
		reason := "transient"
		if domain.IsFatal(err) {
			reason = "fatal"
		}
		metrics.CyclesSkipped.WithLabelValues(reason).Inc()
		c.logger.WarnContext(ctx, "quote fetch failed, skipping cycle",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		c.recordFailure(ctx, err)
		return domain.Tick{}, fmt.Errorf("%w: %w", ErrCycleSkipped, err)
	}

	tick, err := spread.Compute(q, c.deps.Engine.AnnualFactor())
	if err != nil {
		metrics.CyclesSkipped.WithLabelValues("invalid_quote").Inc()
		c.logger.WarnContext(ctx, "quote rejected, skipping cycle", slog.String("error", err.Error()))
		c.recordFailure(ctx, err)
		return domain.Tick{}, fmt.Errorf("%w: %w", ErrCycleSkipped, err)
	}
	tick.Pair = c.cfg.Pair
	if tick.Timestamp.IsZero() {
		tick.Timestamp = c.now()
	}
	c.failures = 0

	if err := c.deps.Ticks.Save(ctx, tick); err != nil {
		metrics.TickSaveFailures.Inc()
		c.logger.ErrorContext(ctx, "save tick failed", slog.String("error", err.Error()))
	}
	c.share(ctx, tick)

	signals := c.deps.Engine.OnTick(ctx, tick)

	metrics.TicksTotal.Inc()
	metrics.Spread.WithLabelValues("open").Set(tick.SpreadOpen.InexactFloat64())
	metrics.Spread.WithLabelValues("close").Set(tick.SpreadClose.InexactFloat64())
	c.logger.DebugContext(ctx, "tick",
		slog.String("spread_open", tick.SpreadOpen.String()),
		slog.String("spread_close", tick.SpreadClose.String()),
		slog.String("quote_size_paxg", tick.QuoteSizePaxg),
		slog.String("quote_size_xaut", tick.QuoteSizeXaut),
		slog.Duration("latency", tick.Latency),
		slog.Int("signals", len(signals)),
	)
	return tick, nil
}

// fetch retries transient failures with capped exponential backoff.
func (c *Collector) fetch(ctx context.Context) (domain.Quote, error) {
	backoff := c.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		q, err := c.deps.Source.FetchQuote(ctx)
		if err == nil {
			metrics.FetchLatency.Observe(q.Latency.Seconds())
			return q, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return domain.Quote{}, err
		}
		if !domain.IsTransient(err) {
			metrics.FetchFailures.WithLabelValues("fatal").Inc()
			return domain.Quote{}, err
		}
		metrics.FetchFailures.WithLabelValues("transient").Inc()
		if attempt == c.cfg.MaxAttempts {
			break
		}
		c.logger.DebugContext(ctx, "quote fetch failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		if err := c.sleep(ctx, backoff); err != nil {
			return domain.Quote{}, err
		}
		backoff *= 2
		if c.cfg.MaxBackoff > 0 && backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
	return domain.Quote{}, fmt.Errorf("pipeline: fetch quote after %d attempts: %w", c.cfg.MaxAttempts, lastErr)
}

// recordFailure counts consecutive failed cycles and alerts the operator
// once the threshold is reached, at most once per cooldown.
func (c *Collector) recordFailure(ctx context.Context, cause error) {
	c.failures++
	if c.deps.Alerter == nil || c.failures < c.cfg.FailureThreshold {
		return
	}
	now := c.now()
	if !c.lastAlert.IsZero() && now.Sub(c.lastAlert) < c.cfg.FailureCooldown {
		return
	}
	c.lastAlert = now

	actx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := c.deps.Alerter.APIFailure(actx, c.failures, cause); err != nil {
		c.logger.WarnContext(ctx, "api failure alert not delivered", slog.String("error", err.Error()))
	}
}

// share pushes the tick to the cache and bus for the dashboard.
func (c *Collector) share(ctx context.Context, tick domain.Tick) {
	if c.deps.Cache != nil {
		if err := c.deps.Cache.SetLatest(ctx, tick); err != nil {
			c.logger.WarnContext(ctx, "cache tick failed", slog.String("error", err.Error()))
		}
	}
	if c.deps.Bus != nil {
		payload, err := json.Marshal(tick)
		if err != nil {
			return
		}
		if err := c.deps.Bus.Publish(ctx, domain.ChannelTicks, payload); err != nil {
			c.logger.WarnContext(ctx, "publish tick failed", slog.String("error", err.Error()))
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
