// Package alert turns engine signals into operator messages and mirrors
// signals and position changes onto the signal bus for dashboards.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

// Notifier delivers a rendered message for an event.
type Notifier interface {
	Notify(ctx context.Context, event, title, body string) error
}

// Dispatcher implements engine.Alerter and engine.PositionPublisher.
type Dispatcher struct {
	notifier Notifier
	bus      domain.SignalBus
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. bus may be nil when Redis is disabled.
func NewDispatcher(notifier Notifier, bus domain.SignalBus, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		bus:      bus,
		logger:   logger.With(slog.String("component", "alert")),
	}
}

type signalEvent struct {
	Event    string          `json:"event"`
	Signal   domain.Signal   `json:"signal"`
	Position domain.Position `json:"position"`
}

// Alert sends the signal to the operator. Only a delivery failure is
// returned; bus publication is best effort so a retry never duplicates a
// message that already reached the chat.
func (d *Dispatcher) Alert(ctx context.Context, sig domain.Signal, pos domain.Position) error {
	title, body := RenderSignal(sig, pos)
	if err := d.notifier.Notify(ctx, sig.EventName(), title, body); err != nil {
		return fmt.Errorf("alert: deliver %s for position %d: %w", sig.EventName(), sig.ID, err)
	}

	if d.bus == nil {
		return nil
	}
	payload, err := json.Marshal(signalEvent{Event: sig.EventName(), Signal: sig, Position: pos})
	if err != nil {
		d.logger.WarnContext(ctx, "marshal signal event", slog.String("error", err.Error()))
		return nil
	}
	if err := d.bus.Publish(ctx, domain.ChannelSignals, payload); err != nil {
		d.logger.WarnContext(ctx, "publish signal", slog.String("error", err.Error()))
	}
	if err := d.bus.StreamAppend(ctx, domain.StreamKey(domain.ChannelSignals), payload); err != nil {
		d.logger.WarnContext(ctx, "append signal stream", slog.String("error", err.Error()))
	}
	return nil
}

// PublishPosition broadcasts the position on the positions channel.
func (d *Dispatcher) PublishPosition(ctx context.Context, pos domain.Position) error {
	if d.bus == nil {
		return nil
	}
	payload, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("alert: marshal position %d: %w", pos.ID, err)
	}
	if err := d.bus.Publish(ctx, domain.ChannelPositions, payload); err != nil {
		return fmt.Errorf("alert: publish position %d: %w", pos.ID, err)
	}
	return nil
}

// APIFailure reports consecutive quote fetch failures.
func (d *Dispatcher) APIFailure(ctx context.Context, consecutive int, cause error) error {
	title, body := RenderAPIFailure(consecutive, cause)
	if err := d.notifier.Notify(ctx, domain.EventAPIFailure, title, body); err != nil {
		return fmt.Errorf("alert: deliver api failure: %w", err)
	}
	return nil
}
