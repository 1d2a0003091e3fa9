package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle stage of a manually executed spread trade.
type PositionStatus string

const (
	PositionAwaitingOpen  PositionStatus = "awaiting_open_confirmation"
	PositionOpen          PositionStatus = "open"
	PositionAwaitingClose PositionStatus = "awaiting_close_confirmation"
	PositionClosed        PositionStatus = "closed"
)

// Valid reports whether s is one of the four known statuses.
func (s PositionStatus) Valid() bool {
	switch s {
	case PositionAwaitingOpen, PositionOpen, PositionAwaitingClose, PositionClosed:
		return true
	}
	return false
}

// Position tracks one spread trade from its open signal to its confirmed
// close. ID is the id of the open signal that created it.
type Position struct {
	ID     int64          `json:"id"`
	Status PositionStatus `json:"status"`

	EntrySignalSpread decimal.Decimal     `json:"entry_signal_spread"`
	EntryActualSpread decimal.NullDecimal `json:"entry_actual_spread"`
	CloseSignalSpread decimal.NullDecimal `json:"close_signal_spread"`
	CloseActualSpread decimal.NullDecimal `json:"close_actual_spread"`

	SignalAt         time.Time  `json:"signal_at"`
	OpenedAt         *time.Time `json:"opened_at,omitempty"`
	CloseSignalledAt *time.Time `json:"close_signalled_at,omitempty"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`

	// Reminder bookkeeping. Zero means no alert has been sent yet.
	LastOpenAlertAt  time.Time `json:"last_open_alert_at"`
	LastCloseAlertAt time.Time `json:"last_close_alert_at"`

	OpenedBy string `json:"opened_by,omitempty"`
	ClosedBy string `json:"closed_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CloseTrigger is the spread_close level at or above which an open position
// should be closed: -entry_actual_spread + buffer. ok is false when the
// position has no confirmed entry yet.
func (p Position) CloseTrigger(buffer decimal.Decimal) (trigger decimal.Decimal, ok bool) {
	if !p.EntryActualSpread.Valid {
		return decimal.Zero, false
	}
	return p.EntryActualSpread.Decimal.Neg().Add(buffer), true
}

// Live reports whether the position still participates in signal evaluation.
func (p Position) Live() bool {
	return p.Status != PositionClosed
}
