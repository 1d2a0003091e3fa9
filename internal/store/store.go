// Package store assembles the persistence backends used by the monitor and
// provides the ticks-only decorator and an in-memory implementation.
package store

import "github.com/alanyoungcy/goldspread/internal/domain"

// Bundle is a domain.Store built from individual stores.
type Bundle struct {
	TickStore          domain.TickStore
	PositionStore      domain.PositionStore
	RuntimeConfigStore domain.RuntimeConfigStore
	AuditStore         domain.AuditStore
}

func (b Bundle) Ticks() domain.TickStore                  { return b.TickStore }
func (b Bundle) Positions() domain.PositionStore          { return b.PositionStore }
func (b Bundle) RuntimeConfig() domain.RuntimeConfigStore { return b.RuntimeConfigStore }
func (b Bundle) Audit() domain.AuditStore                 { return b.AuditStore }

var _ domain.Store = Bundle{}
