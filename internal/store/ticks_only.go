package store

import (
	"context"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

// TicksOnly wraps inner so that only tick writes and tick maintenance reach
// the backend. Position, runtime config and audit writes are dropped and
// their loads behave as if nothing was ever saved, so positions and config
// live only in memory for the life of the process.
func TicksOnly(inner domain.Store) domain.Store {
	return Bundle{
		TickStore:          inner.Ticks(),
		PositionStore:      discardPositions{},
		RuntimeConfigStore: discardConfig{},
		AuditStore:         discardAudit{},
	}
}

type discardPositions struct{}

func (discardPositions) Save(context.Context, domain.Position) error { return nil }

func (discardPositions) Get(context.Context, int64) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

func (discardPositions) LoadOpen(context.Context) ([]domain.Position, error) { return nil, nil }

func (discardPositions) LastID(context.Context) (int64, error) { return 0, nil }

func (discardPositions) ListHistory(context.Context, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

type discardConfig struct{}

func (discardConfig) Save(context.Context, domain.RuntimeConfig) error { return nil }

func (discardConfig) Load(context.Context) (domain.RuntimeConfig, error) {
	return domain.RuntimeConfig{}, domain.ErrNotFound
}

type discardAudit struct{}

func (discardAudit) Log(context.Context, string, map[string]any) error { return nil }

func (discardAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

var (
	_ domain.PositionStore      = discardPositions{}
	_ domain.RuntimeConfigStore = discardConfig{}
	_ domain.AuditStore         = discardAudit{}
)
