package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/goldspread/internal/domain"
	"github.com/alanyoungcy/goldspread/internal/engine"
	"github.com/alanyoungcy/goldspread/internal/store"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func quote(paxgBid, xautAsk string) domain.Quote {
	return domain.Quote{
		PaxgBid:   decimal.RequireFromString(paxgBid),
		PaxgAsk:   decimal.RequireFromString(paxgBid).Add(decimal.NewFromInt(1)),
		XautBid:   decimal.RequireFromString(xautAsk).Sub(decimal.NewFromInt(1)),
		XautAsk:   decimal.RequireFromString(xautAsk),
		FetchedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

type result struct {
	q   domain.Quote
	err error
}

type scriptedSource struct {
	mu      sync.Mutex
	results []result
	calls   int
}

func (s *scriptedSource) FetchQuote(context.Context) (domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.results) == 0 {
		return quote("2650", "2640"), nil
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.q, r.err
}

type fakeEvaluator struct {
	ticks  []domain.Tick
	poll   time.Duration
	annual decimal.Decimal
}

func (f *fakeEvaluator) OnTick(_ context.Context, t domain.Tick) []domain.Signal {
	f.ticks = append(f.ticks, t)
	return nil
}
func (f *fakeEvaluator) PollInterval() time.Duration   { return f.poll }
func (f *fakeEvaluator) AnnualFactor() decimal.Decimal { return f.annual }

type failingTicks struct{ domain.TickStore }

func (failingTicks) Save(context.Context, domain.Tick) error { return errors.New("db down") }

type recordingFailureAlerter struct {
	counts []int
}

func (r *recordingFailureAlerter) APIFailure(_ context.Context, n int, _ error) error {
	r.counts = append(r.counts, n)
	return nil
}

func transient() error { return &domain.TransientError{Op: "fetch", Err: errors.New("timeout")} }

func newCollector(src domain.QuoteSource, ticks domain.TickStore, ev TickEvaluator, alerter FailureAlerter) (*Collector, *[]time.Duration) {
	c := NewCollector(CollectorDeps{Source: src, Ticks: ticks, Engine: ev, Alerter: alerter}, CollectorConfig{
		MaxAttempts:      3,
		InitialBackoff:   100 * time.Millisecond,
		MaxBackoff:       150 * time.Millisecond,
		FailureThreshold: 2,
		FailureCooldown:  time.Minute,
	}, discard())
	var sleeps []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return c, &sleeps
}

func TestCollectorRetriesTransientFailures(t *testing.T) {
	src := &scriptedSource{results: []result{{err: transient()}, {err: transient()}, {q: quote("2650.5", "2640.25")}}}
	ev := &fakeEvaluator{annual: decimal.NewFromInt(365)}
	mem := store.NewMemory()
	c, sleeps := newCollector(src, mem.Ticks(), ev, nil)

	tick, err := c.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if src.calls != 3 {
		t.Fatalf("calls = %d, want 3", src.calls)
	}
	if got := *sleeps; len(got) != 2 || got[0] != 100*time.Millisecond || got[1] != 150*time.Millisecond {
		t.Fatalf("backoff = %v", got)
	}
	if tick.SpreadOpen.String() != "10.25" || tick.Pair != "PAXG-XAUT" {
		t.Fatalf("tick = %+v", tick)
	}
	if len(ev.ticks) != 1 || mem.TickSaves() != 1 {
		t.Fatalf("evaluated %d, saved %d", len(ev.ticks), mem.TickSaves())
	}
}

func TestCollectorSkipsCycleOnFatal(t *testing.T) {
	src := &scriptedSource{results: []result{{err: &domain.FatalError{Op: "decode", Err: errors.New("bad json")}}}}
	ev := &fakeEvaluator{}
	c, sleeps := newCollector(src, store.NewMemory().Ticks(), ev, nil)

	_, err := c.RunOnce(context.Background())
	if !errors.Is(err, ErrCycleSkipped) || !domain.IsFatal(err) {
		t.Fatalf("err = %v", err)
	}
	if src.calls != 1 || len(*sleeps) != 0 || len(ev.ticks) != 0 {
		t.Fatalf("calls=%d sleeps=%v ticks=%d", src.calls, *sleeps, len(ev.ticks))
	}
}

func TestCollectorSkipsCycleWhenRetriesExhausted(t *testing.T) {
	src := &scriptedSource{results: []result{{err: transient()}, {err: transient()}, {err: transient()}}}
	ev := &fakeEvaluator{}
	c, _ := newCollector(src, store.NewMemory().Ticks(), ev, nil)

	_, err := c.RunOnce(context.Background())
	if !errors.Is(err, ErrCycleSkipped) || !domain.IsTransient(err) {
		t.Fatalf("err = %v", err)
	}
	if src.calls != 3 || len(ev.ticks) != 0 {
		t.Fatalf("calls=%d ticks=%d", src.calls, len(ev.ticks))
	}
}

func TestCollectorRejectsNonPositivePrices(t *testing.T) {
	bad := quote("2650", "2640")
	bad.XautAsk = decimal.Zero
	src := &scriptedSource{results: []result{{q: bad}}}
	ev := &fakeEvaluator{}
	c, _ := newCollector(src, store.NewMemory().Ticks(), ev, nil)

	if _, err := c.RunOnce(context.Background()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
	if len(ev.ticks) != 0 {
		t.Fatal("invalid quote reached the engine")
	}
}

func TestCollectorEvaluatesEvenWhenSaveFails(t *testing.T) {
	ev := &fakeEvaluator{}
	c, _ := newCollector(&scriptedSource{}, failingTicks{}, ev, nil)
	if _, err := c.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(ev.ticks) != 1 {
		t.Fatal("tick not evaluated after save failure")
	}
}

func TestCollectorRereadsPollInterval(t *testing.T) {
	ev := &fakeEvaluator{poll: 2 * time.Second}
	c, _ := newCollector(&scriptedSource{}, store.NewMemory().Ticks(), ev, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var waits []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		if len(waits) == 1 {
			ev.poll = 7 * time.Second
		}
		if len(waits) == 3 {
			cancel()
		}
		return ctx.Err()
	}
	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	want := []time.Duration{2 * time.Second, 7 * time.Second, 7 * time.Second}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("waits = %v, want %v", waits, want)
		}
	}
	if len(ev.ticks) != 3 {
		t.Fatalf("cycles = %d, want 3", len(ev.ticks))
	}
}

func TestCollectorAPIFailureAlertThresholdAndCooldown(t *testing.T) {
	fatal := result{err: &domain.FatalError{Op: "stats", Err: errors.New("404")}}
	src := &scriptedSource{results: []result{fatal, fatal, fatal, {q: quote("2650", "2640")}, fatal, fatal, fatal}}
	alerter := &recordingFailureAlerter{}
	c, _ := newCollector(src, store.NewMemory().Ticks(), &fakeEvaluator{}, alerter)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, _ = c.RunOnce(context.Background())
	}
	if len(alerter.counts) != 1 || alerter.counts[0] != 2 {
		t.Fatalf("alerts = %v, want [2]", alerter.counts)
	}

	// A success resets the counter; the cooldown still applies afterwards.
	_, _ = c.RunOnce(context.Background())
	_, _ = c.RunOnce(context.Background())
	_, _ = c.RunOnce(context.Background())
	if len(alerter.counts) != 1 {
		t.Fatalf("alert sent inside cooldown: %v", alerter.counts)
	}

	now = now.Add(2 * time.Minute)
	_, _ = c.RunOnce(context.Background())
	if len(alerter.counts) != 2 || alerter.counts[1] != 3 {
		t.Fatalf("alerts = %v", alerter.counts)
	}
}

func TestTicksOnlyModePersistsOnlyTicks(t *testing.T) {
	mem := store.NewMemory()
	backend := store.TicksOnly(mem)
	eng := engine.New(engine.Options{
		Positions: backend.Positions(),
		Config:    backend.RuntimeConfig(),
		Audit:     backend.Audit(),
		Logger:    discard(),
	})
	if err := eng.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	c, _ := newCollector(&scriptedSource{results: []result{
		{q: quote("2700", "2640")},
		{q: quote("2650", "2640")},
		{q: quote("2650", "2640")},
	}}, backend.Ticks(), eng, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.RunOnce(ctx); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if _, err := eng.ConfirmOpen(ctx, engine.Ref{}, decimal.NewFromInt(59), "op"); err != nil {
		t.Fatalf("ConfirmOpen: %v", err)
	}
	if _, err := eng.SetParameter(ctx, domain.ParamOpen, "25"); err != nil {
		t.Fatalf("SetParameter: %v", err)
	}
	eng.Flush(ctx)

	if mem.TickSaves() != 3 {
		t.Fatalf("tick saves = %d, want 3", mem.TickSaves())
	}
	if mem.ConfigSaves() != 0 || len(mem.AuditEntries()) != 0 {
		t.Fatalf("config saves = %d audit = %d", mem.ConfigSaves(), len(mem.AuditEntries()))
	}
	if _, err := backend.RuntimeConfig().Load(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Load = %v, want ErrNotFound", err)
	}
	if open, _ := mem.Positions().LoadOpen(ctx); len(open) != 0 {
		t.Fatalf("positions persisted: %+v", open)
	}
	if eng.Config().OpenThreshold.String() != "25" {
		t.Fatal("in-memory config not updated")
	}
}
