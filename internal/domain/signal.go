package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalKind distinguishes open from close signals.
type SignalKind string

const (
	SignalOpen  SignalKind = "open"
	SignalClose SignalKind = "close"
)

// Signal is an ephemeral notification emitted by the position engine. ID is
// the position id it refers to. Reminder marks a repeat of an earlier
// signal that the operator has not yet confirmed.
type Signal struct {
	Kind     SignalKind      `json:"kind"`
	ID       int64           `json:"id"`
	Spread   decimal.Decimal `json:"spread"`
	TickTime time.Time       `json:"tick_time"`
	Reminder bool            `json:"reminder"`

	// Threshold is the open threshold or close trigger the spread crossed.
	Threshold decimal.Decimal `json:"threshold"`
	// EntryActual is set on close signals for display.
	EntryActual decimal.NullDecimal `json:"entry_actual"`
}

// Event names used for audit entries and notifier filtering.
const (
	EventOpenSignal          = "open_signal"
	EventOpenSignalReminder  = "open_signal_reminder"
	EventCloseSignal         = "close_signal"
	EventCloseSignalReminder = "close_signal_reminder"
	EventOpenConfirmed       = "open_confirmed"
	EventCloseConfirmed      = "close_confirmed"
	EventConfigUpdated       = "config_updated"
	EventAPIFailure          = "api_failure"
)

// EventName returns the audit event name for s.
func (s Signal) EventName() string {
	switch {
	case s.Kind == SignalOpen && s.Reminder:
		return EventOpenSignalReminder
	case s.Kind == SignalOpen:
		return EventOpenSignal
	case s.Reminder:
		return EventCloseSignalReminder
	default:
		return EventCloseSignal
	}
}
