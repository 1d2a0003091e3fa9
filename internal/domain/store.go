package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TickStore persists observed ticks.
type TickStore interface {
	Save(ctx context.Context, tick Tick) error
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Tick, error)
	// DeleteBefore removes ticks observed before the cutoff and returns the
	// number of rows removed.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionStore persists positions. Save is an upsert keyed by ID.
type PositionStore interface {
	Save(ctx context.Context, pos Position) error
	Get(ctx context.Context, id int64) (Position, error)
	// LoadOpen returns every non-closed position ordered by id.
	LoadOpen(ctx context.Context) ([]Position, error)
	// LastID returns the highest id ever saved, or 0 when there is none.
	LastID(ctx context.Context) (int64, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
}

// RuntimeConfigStore persists the operator-tuned runtime parameters. Load
// returns ErrNotFound when nothing has been saved.
type RuntimeConfigStore interface {
	Save(ctx context.Context, cfg RuntimeConfig) error
	Load(ctx context.Context) (RuntimeConfig, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of alerts and confirmations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// Store groups every persistence concern the monitor needs.
type Store interface {
	Ticks() TickStore
	Positions() PositionStore
	RuntimeConfig() RuntimeConfigStore
	Audit() AuditStore
}
