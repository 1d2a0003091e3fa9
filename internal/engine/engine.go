// Package engine owns the signal and position state machine. All runtime
// parameters and live positions sit behind one mutex; operations mutate
// memory under that lock and hand persistence and alerts to an outbox that
// is drained after the lock is released.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/goldspread/internal/domain"
	"github.com/alanyoungcy/goldspread/internal/metrics"
)

// OpenPolicy decides when a new open signal may be raised.
type OpenPolicy string

const (
	// PolicySinglePending suppresses new open signals while any position is
	// awaiting open confirmation.
	PolicySinglePending OpenPolicy = "single_pending"
	// PolicySingleLive also suppresses them while a position is open or
	// awaiting close confirmation.
	PolicySingleLive OpenPolicy = "single_live"
)

// ParseOpenPolicy maps a config string to an OpenPolicy.
func ParseOpenPolicy(s string) (OpenPolicy, error) {
	switch OpenPolicy(s) {
	case "", PolicySinglePending:
		return PolicySinglePending, nil
	case PolicySingleLive:
		return PolicySingleLive, nil
	}
	return "", fmt.Errorf("engine: unknown open signal policy %q", s)
}

// Alerter delivers signals to the operator.
type Alerter interface {
	Alert(ctx context.Context, sig domain.Signal, pos domain.Position) error
}

// PositionPublisher is told about every position change. It is optional.
type PositionPublisher interface {
	PublishPosition(ctx context.Context, pos domain.Position) error
}

// Options configures an Engine. Positions, Config and Audit are required;
// use store.TicksOnly to make their writes no-ops.
type Options struct {
	Positions domain.PositionStore
	Config    domain.RuntimeConfigStore
	Audit     domain.AuditStore
	Alerter   Alerter
	Publisher PositionPublisher

	Defaults domain.RuntimeConfig
	Policy   OpenPolicy
	Retry    RetryPolicy
	Now      func() time.Time
	Logger   *slog.Logger
}

// Engine is the single owner of RuntimeConfig and the live position set.
type Engine struct {
	mu        sync.Mutex
	cfg       domain.RuntimeConfig
	positions map[int64]*domain.Position
	nextID    int64
	lastTick  *domain.Tick
	ticks     int64
	closedN   int
	startedAt time.Time

	policy    OpenPolicy
	store     domain.PositionStore
	cfgStore  domain.RuntimeConfigStore
	audit     domain.AuditStore
	alerter   Alerter
	publisher PositionPublisher
	outbox    *outbox
	now       func() time.Time
	logger    *slog.Logger
}

// New creates an Engine with the given options. Call Load before use.
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Policy == "" {
		opts.Policy = PolicySinglePending
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetry
	}
	if opts.Defaults.PollIntervalSeconds == 0 {
		opts.Defaults = domain.DefaultRuntimeConfig()
	}
	logger := opts.Logger.With(slog.String("component", "engine"))
	return &Engine{
		cfg:       opts.Defaults,
		positions: make(map[int64]*domain.Position),
		nextID:    1,
		startedAt: opts.Now(),
		policy:    opts.Policy,
		store:     opts.Positions,
		cfgStore:  opts.Config,
		audit:     opts.Audit,
		alerter:   opts.Alerter,
		publisher: opts.Publisher,
		outbox:    newOutbox(opts.Retry, opts.Now, logger),
		now:       opts.Now,
		logger:    logger,
	}
}

// Load restores the persisted runtime config and live positions and seeds
// the id counter past every id already stored. A missing config keeps the
// defaults.
func (e *Engine) Load(ctx context.Context) error {
	cfg, err := e.cfgStore.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return fmt.Errorf("engine: load runtime config: %w", err)
	default:
		if verr := cfg.Validate(); verr != nil {
			e.logger.WarnContext(ctx, "ignoring persisted runtime config",
				slog.String("error", verr.Error()))
			break
		}
		e.mu.Lock()
		e.cfg = cfg
		e.mu.Unlock()
	}

	open, err := e.store.LoadOpen(ctx)
	if err != nil {
		return fmt.Errorf("engine: load open positions: %w", err)
	}
	lastID, err := e.store.LastID(ctx)
	if err != nil {
		return fmt.Errorf("engine: load last position id: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range open {
		p := open[i]
		e.positions[p.ID] = &p
		if p.ID > lastID {
			lastID = p.ID
		}
	}
	if lastID >= e.nextID {
		e.nextID = lastID + 1
	}
	e.observeLocked()

	e.logger.InfoContext(ctx, "engine state loaded",
		slog.Int("live_positions", len(e.positions)),
		slog.Int64("next_id", e.nextID),
		slog.String("open_threshold", e.cfg.OpenThreshold.String()),
		slog.Int("poll_seconds", e.cfg.PollIntervalSeconds),
	)
	return nil
}

// Run drains deferred side effects until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.outbox.run(ctx)
}

// Flush applies every queued side effect before returning.
func (e *Engine) Flush(ctx context.Context) {
	e.outbox.drain(ctx)
}

// OnTick evaluates one tick and returns the signals it raised, reminders
// included.
func (e *Engine) OnTick(ctx context.Context, tick domain.Tick) []domain.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := e.cfg
	now := e.now()
	t := tick
	e.lastTick = &t
	e.ticks++

	var signals []domain.Signal
	fresh := make(map[int64]bool)

	if tick.SpreadOpen.GreaterThanOrEqual(cfg.OpenThreshold) && e.openAllowedLocked() {
		id := e.nextID
		e.nextID++
		pos := &domain.Position{
			ID:                id,
			Status:            domain.PositionAwaitingOpen,
			EntrySignalSpread: tick.SpreadOpen,
			SignalAt:          tick.Timestamp,
			LastOpenAlertAt:   now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		e.positions[id] = pos
		fresh[id] = true
		sig := domain.Signal{
			Kind:      domain.SignalOpen,
			ID:        id,
			Spread:    tick.SpreadOpen,
			TickTime:  tick.Timestamp,
			Threshold: cfg.OpenThreshold,
		}
		signals = append(signals, sig)
		e.emitLocked(sig, *pos)
	}

	for _, id := range e.idsLocked() {
		pos := e.positions[id]
		if pos.Status != domain.PositionOpen {
			continue
		}
		trigger, ok := pos.CloseTrigger(cfg.CloseBuffer)
		if !ok || tick.SpreadClose.LessThan(trigger) {
			continue
		}
		pos.Status = domain.PositionAwaitingClose
		pos.CloseSignalSpread = decimal.NewNullDecimal(tick.SpreadClose)
		pos.CloseSignalledAt = &now
		pos.LastCloseAlertAt = now
		pos.UpdatedAt = now
		fresh[id] = true
		sig := domain.Signal{
			Kind:        domain.SignalClose,
			ID:          id,
			Spread:      tick.SpreadClose,
			TickTime:    tick.Timestamp,
			Threshold:   trigger,
			EntryActual: pos.EntryActualSpread,
		}
		signals = append(signals, sig)
		e.emitLocked(sig, *pos)
	}

	signals = append(signals, e.remindLocked(tick, cfg, now, fresh)...)
	e.observeLocked()
	return signals
}

// remindLocked repeats alerts for positions still waiting on the operator.
// Reminders never change status.
func (e *Engine) remindLocked(tick domain.Tick, cfg domain.RuntimeConfig, now time.Time, skip map[int64]bool) []domain.Signal {
	every := cfg.RepeatInterval()
	if every <= 0 {
		return nil
	}
	var out []domain.Signal
	for _, id := range e.idsLocked() {
		if skip[id] {
			continue
		}
		pos := e.positions[id]
		switch pos.Status {
		case domain.PositionAwaitingOpen:
			if tick.SpreadOpen.LessThan(cfg.OpenThreshold) || now.Sub(pos.LastOpenAlertAt) < every {
				continue
			}
			pos.LastOpenAlertAt = now
			pos.UpdatedAt = now
			sig := domain.Signal{
				Kind:      domain.SignalOpen,
				ID:        id,
				Spread:    tick.SpreadOpen,
				TickTime:  tick.Timestamp,
				Reminder:  true,
				Threshold: cfg.OpenThreshold,
			}
			out = append(out, sig)
			e.emitLocked(sig, *pos)
		case domain.PositionAwaitingClose:
			if now.Sub(pos.LastCloseAlertAt) < every {
				continue
			}
			pos.LastCloseAlertAt = now
			pos.UpdatedAt = now
			trigger, _ := pos.CloseTrigger(cfg.CloseBuffer)
			sig := domain.Signal{
				Kind:        domain.SignalClose,
				ID:          id,
				Spread:      tick.SpreadClose,
				TickTime:    tick.Timestamp,
				Reminder:    true,
				Threshold:   trigger,
				EntryActual: pos.EntryActualSpread,
			}
			out = append(out, sig)
			e.emitLocked(sig, *pos)
		}
	}
	return out
}

// ConfirmOpen records the operator's fill for an open signal.
func (e *Engine) ConfirmOpen(ctx context.Context, ref Ref, actual decimal.Decimal, by string) (domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.targetLocked(ref, domain.PositionAwaitingOpen)
	if err != nil {
		return domain.Position{}, err
	}
	now := e.now()
	pos.EntryActualSpread = decimal.NewNullDecimal(actual)
	pos.Status = domain.PositionOpen
	pos.OpenedAt = &now
	pos.OpenedBy = by
	pos.UpdatedAt = now

	snap := *pos
	e.persistLocked(snap)
	e.auditLocked(domain.EventOpenConfirmed, snap.ID, map[string]any{
		"position_id":         snap.ID,
		"entry_signal_spread": snap.EntrySignalSpread.String(),
		"entry_actual_spread": actual.String(),
		"by":                  by,
	})
	e.observeLocked()
	e.logger.InfoContext(ctx, "position opened",
		slog.Int64("id", snap.ID),
		slog.String("entry_actual_spread", actual.String()),
	)
	return snap, nil
}

// ConfirmClose records the operator's fill for a close signal and retires the
// position from the live set.
func (e *Engine) ConfirmClose(ctx context.Context, ref Ref, actual decimal.Decimal, by string) (domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, err := e.targetLocked(ref, domain.PositionAwaitingClose)
	if err != nil {
		return domain.Position{}, err
	}
	now := e.now()
	pos.CloseActualSpread = decimal.NewNullDecimal(actual)
	pos.Status = domain.PositionClosed
	pos.ClosedAt = &now
	pos.ClosedBy = by
	pos.UpdatedAt = now

	snap := *pos
	delete(e.positions, snap.ID)
	e.closedN++

	e.persistLocked(snap)
	e.auditLocked(domain.EventCloseConfirmed, snap.ID, map[string]any{
		"position_id":         snap.ID,
		"entry_actual_spread": snap.EntryActualSpread.Decimal.String(),
		"close_actual_spread": actual.String(),
		"by":                  by,
	})
	e.observeLocked()
	e.logger.InfoContext(ctx, "position closed",
		slog.Int64("id", snap.ID),
		slog.String("close_actual_spread", actual.String()),
	)
	return snap, nil
}

// SetParameter replaces a single runtime parameter. On error the config is
// left as it was.
func (e *Engine) SetParameter(ctx context.Context, p domain.Parameter, raw string) (domain.RuntimeConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.cfg
	next, err := prev.With(p, raw)
	if err != nil {
		return prev, err
	}
	next.UpdatedAt = e.now()
	e.cfg = next

	e.outbox.enqueue(effect{
		kind: "save_config",
		run:  func(ctx context.Context) error { return e.cfgStore.Save(ctx, next) },
	})
	e.auditLocked(domain.EventConfigUpdated, 0, map[string]any{
		"parameter": string(p),
		"old":       prev.Value(p),
		"new":       next.Value(p),
	})
	e.logger.InfoContext(ctx, "runtime parameter updated",
		slog.String("parameter", string(p)),
		slog.String("old", prev.Value(p)),
		slog.String("new", next.Value(p)),
	)
	return next, nil
}

// Config returns the current runtime parameters.
func (e *Engine) Config() domain.RuntimeConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// PollInterval returns the scheduler period currently in force.
func (e *Engine) PollInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.PollInterval()
}

// AnnualFactor returns the funding annualization factor currently in force.
func (e *Engine) AnnualFactor() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.AnnualFactor
}

// Positions returns a copy of every live position ordered by id.
func (e *Engine) Positions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := e.idsLocked()
	out := make([]domain.Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, *e.positions[id])
	}
	return out
}

// Status is a consistent snapshot of engine state for /status.
type Status struct {
	Config        domain.RuntimeConfig
	Policy        OpenPolicy
	LastTick      *domain.Tick
	TicksSeen     int64
	Counts        map[domain.PositionStatus]int
	ClosedSession int
	NextID        int64
	StartedAt     time.Time

	PendingEffects int
	FailedEffects  int64
	RecentFailures []EffectFailure
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		Config:        e.cfg,
		Policy:        e.policy,
		TicksSeen:     e.ticks,
		Counts:        e.countsLocked(),
		ClosedSession: e.closedN,
		NextID:        e.nextID,
		StartedAt:     e.startedAt,
	}
	if e.lastTick != nil {
		t := *e.lastTick
		st.LastTick = &t
	}
	e.mu.Unlock()

	st.PendingEffects, st.FailedEffects, st.RecentFailures = e.outbox.snapshot()
	return st
}

func (e *Engine) openAllowedLocked() bool {
	for _, p := range e.positions {
		switch p.Status {
		case domain.PositionAwaitingOpen:
			return false
		case domain.PositionOpen, domain.PositionAwaitingClose:
			if e.policy == PolicySingleLive {
				return false
			}
		}
	}
	return true
}

func (e *Engine) targetLocked(ref Ref, want domain.PositionStatus) (*domain.Position, error) {
	if !ref.explicit {
		res := e.resolveLocked(want)
		switch res.Kind {
		case ResolvedNone:
			return nil, &domain.AmbiguousReferenceError{Reason: domain.ReasonNoPendingSignal, Want: want}
		case ResolvedMany:
			return nil, &domain.AmbiguousReferenceError{Reason: domain.ReasonMustDisambiguate, Want: want, Candidates: res.Candidates}
		}
		return e.positions[res.ID], nil
	}

	pos, ok := e.positions[ref.id]
	if !ok {
		// Ids are issued in sequence and only closing removes a live
		// position, so any issued id that is not live has been closed.
		if ref.id > 0 && ref.id < e.nextID {
			return nil, &domain.InvalidStateError{ID: ref.id, Have: domain.PositionClosed, Want: want}
		}
		return nil, fmt.Errorf("position %d: %w", ref.id, domain.ErrNotFound)
	}
	if pos.Status != want {
		return nil, &domain.InvalidStateError{ID: pos.ID, Have: pos.Status, Want: want}
	}
	return pos, nil
}

// resolveLocked finds the live positions in the given status.
func (e *Engine) resolveLocked(status domain.PositionStatus) Resolution {
	var ids []int64
	for _, id := range e.idsLocked() {
		if e.positions[id].Status == status {
			ids = append(ids, id)
		}
	}
	switch len(ids) {
	case 0:
		return Resolution{Kind: ResolvedNone}
	case 1:
		return Resolution{Kind: ResolvedUnique, ID: ids[0]}
	default:
		return Resolution{Kind: ResolvedMany, Candidates: ids}
	}
}

// Resolve reports which live positions an unqualified reference in the given
// status would match.
func (e *Engine) Resolve(status domain.PositionStatus) Resolution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resolveLocked(status)
}

func (e *Engine) idsLocked() []int64 {
	ids := make([]int64, 0, len(e.positions))
	for id := range e.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *Engine) countsLocked() map[domain.PositionStatus]int {
	counts := make(map[domain.PositionStatus]int, 3)
	for _, p := range e.positions {
		counts[p.Status]++
	}
	return counts
}

func (e *Engine) observeLocked() {
	metrics.ObservePositions(e.countsLocked())
}

// emitLocked queues persistence, delivery and audit for a signal.
func (e *Engine) emitLocked(sig domain.Signal, pos domain.Position) {
	metrics.Signals.WithLabelValues(string(sig.Kind), strconv.FormatBool(sig.Reminder)).Inc()
	e.persistLocked(pos)
	if e.alerter != nil {
		e.outbox.enqueue(effect{
			kind: "alert",
			ref:  sig.ID,
			run:  func(ctx context.Context) error { return e.alerter.Alert(ctx, sig, pos) },
		})
	}
	e.auditLocked(sig.EventName(), sig.ID, map[string]any{
		"position_id": sig.ID,
		"spread":      sig.Spread.String(),
		"threshold":   sig.Threshold.String(),
		"tick_time":   sig.TickTime.UTC().Format(time.RFC3339Nano),
	})
	e.logger.Info("signal raised",
		slog.String("event", sig.EventName()),
		slog.Int64("id", sig.ID),
		slog.String("spread", sig.Spread.String()),
		slog.String("threshold", sig.Threshold.String()),
	)
}

func (e *Engine) persistLocked(pos domain.Position) {
	e.outbox.enqueue(effect{
		kind: "save_position",
		ref:  pos.ID,
		run:  func(ctx context.Context) error { return e.store.Save(ctx, pos) },
	})
	if e.publisher != nil {
		e.outbox.enqueue(effect{
			kind: "publish_position",
			ref:  pos.ID,
			run:  func(ctx context.Context) error { return e.publisher.PublishPosition(ctx, pos) },
		})
	}
}

func (e *Engine) auditLocked(event string, ref int64, detail map[string]any) {
	e.outbox.enqueue(effect{
		kind: "audit",
		ref:  ref,
		run:  func(ctx context.Context) error { return e.audit.Log(ctx, event, detail) },
	})
}
