package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/goldspread/internal/metrics"
)

// RetryPolicy bounds how hard the outbox tries to apply a single effect.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetry is three attempts with 200ms doubling backoff.
var DefaultRetry = RetryPolicy{Attempts: 3, Backoff: 200 * time.Millisecond}

const maxRecentFailures = 10

// effect is a deferred side effect produced while the engine lock was held.
type effect struct {
	kind string
	ref  int64
	run  func(ctx context.Context) error
}

// EffectFailure records an effect that exhausted its retries.
type EffectFailure struct {
	Effect   string
	Ref      int64
	Err      string
	Attempts int
	At       time.Time
}

// outbox is a FIFO of side effects drained outside the engine lock. Enqueue
// never blocks on I/O, so callers may hold the engine mutex while using it.
type outbox struct {
	mu      sync.Mutex
	queue   []effect
	failed  []EffectFailure
	total   int64
	wake    chan struct{}
	drainMu sync.Mutex

	retry  RetryPolicy
	now    func() time.Time
	logger *slog.Logger
}

func newOutbox(retry RetryPolicy, now func() time.Time, logger *slog.Logger) *outbox {
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	return &outbox{
		wake:   make(chan struct{}, 1),
		retry:  retry,
		now:    now,
		logger: logger,
	}
}

func (o *outbox) enqueue(effs ...effect) {
	if len(effs) == 0 {
		return
	}
	o.mu.Lock()
	o.queue = append(o.queue, effs...)
	metrics.OutboxPending.Set(float64(len(o.queue)))
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// run drains the queue whenever woken until ctx is cancelled, then makes a
// last pass under a short grace period so queued writes are not dropped.
func (o *outbox) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			grace, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			o.drain(grace)
			cancel()
			return ctx.Err()
		case <-o.wake:
			o.drain(ctx)
		}
	}
}

// drain applies queued effects in order until the queue is empty or ctx is
// done. Effects not yet applied stay queued for the next pass. Concurrent
// callers are serialized so effects are never reordered.
func (o *outbox) drain(ctx context.Context) {
	o.drainMu.Lock()
	defer o.drainMu.Unlock()

	for {
		o.mu.Lock()
		if len(o.queue) == 0 || ctx.Err() != nil {
			o.mu.Unlock()
			return
		}
		e := o.queue[0]
		o.queue[0] = effect{}
		o.queue = o.queue[1:]
		metrics.OutboxPending.Set(float64(len(o.queue)))
		o.mu.Unlock()

		if !o.apply(ctx, e) {
			o.requeueFront(e)
			return
		}
	}
}

// requeueFront puts e back at the head of the queue.
func (o *outbox) requeueFront(e effect) {
	o.mu.Lock()
	o.queue = append([]effect{e}, o.queue...)
	metrics.OutboxPending.Set(float64(len(o.queue)))
	o.mu.Unlock()
}

// apply runs e with retries. It reports false when ctx ended before e could
// succeed, in which case the failure is not recorded and e should be retried.
func (o *outbox) apply(ctx context.Context, e effect) bool {
	var err error
	backoff := o.retry.Backoff
	attempt := 0
	for attempt < o.retry.Attempts {
		attempt++
		if err = e.run(ctx); err == nil {
			metrics.Effects.WithLabelValues(e.kind, "ok").Inc()
			return true
		}
		o.logger.Warn("side effect failed",
			slog.String("effect", e.kind),
			slog.Int64("ref", e.ref),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt == o.retry.Attempts || ctx.Err() != nil {
			break
		}
		if backoff > 0 {
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
			backoff *= 2
		}
	}

	if ctx.Err() != nil {
		return false
	}

	metrics.Effects.WithLabelValues(e.kind, "failed").Inc()
	o.logger.Error("side effect abandoned",
		slog.String("effect", e.kind),
		slog.Int64("ref", e.ref),
		slog.Int("attempts", attempt),
		slog.String("error", err.Error()),
	)

	o.mu.Lock()
	o.total++
	o.failed = append(o.failed, EffectFailure{
		Effect:   e.kind,
		Ref:      e.ref,
		Err:      err.Error(),
		Attempts: attempt,
		At:       o.now(),
	})
	if len(o.failed) > maxRecentFailures {
		o.failed = o.failed[len(o.failed)-maxRecentFailures:]
	}
	o.mu.Unlock()
	return true
}

// snapshot returns the pending count, the total failure count and a copy of
// the most recent failures.
func (o *outbox) snapshot() (pending int, total int64, recent []EffectFailure) {
	o.mu.Lock()
	defer o.mu.Unlock()
	recent = make([]EffectFailure, len(o.failed))
	copy(recent, o.failed)
	return len(o.queue), o.total, recent
}
