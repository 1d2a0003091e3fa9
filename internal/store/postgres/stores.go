package postgres

import (
	"time"

	"github.com/alanyoungcy/goldspread/internal/store"
)

// Stores returns every Postgres-backed store sharing the client's pool.
func (c *Client) Stores(tickTTL time.Duration) store.Bundle {
	return store.Bundle{
		TickStore:          NewTickStore(c.pool, tickTTL),
		PositionStore:      NewPositionStore(c.pool),
		RuntimeConfigStore: NewRuntimeConfigStore(c.pool),
		AuditStore:         NewAuditStore(c.pool),
	}
}
