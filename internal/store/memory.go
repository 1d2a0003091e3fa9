package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

// Memory is a process-local store. It backs dry runs without a database and
// serves as the fake in tests.
type Memory struct {
	mu        sync.Mutex
	ticks     []domain.Tick
	positions map[int64]domain.Position
	cfg       *domain.RuntimeConfig
	audit     []domain.AuditEntry

	tickSaves   int
	configSaves int
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{positions: make(map[int64]domain.Position)}
}

func (m *Memory) Ticks() domain.TickStore                  { return memTicks{m} }
func (m *Memory) Positions() domain.PositionStore          { return memPositions{m} }
func (m *Memory) RuntimeConfig() domain.RuntimeConfigStore { return memConfig{m} }
func (m *Memory) Audit() domain.AuditStore                 { return memAudit{m} }

// TickSaves returns how many times a tick was saved.
func (m *Memory) TickSaves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickSaves
}

// ConfigSaves returns how many times the runtime config was saved.
func (m *Memory) ConfigSaves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configSaves
}

// AuditEntries returns a copy of the audit log.
func (m *Memory) AuditEntries() []domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

type memTicks struct{ m *Memory }

func (s memTicks) Save(_ context.Context, tick domain.Tick) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.ticks = append(s.m.ticks, tick)
	s.m.tickSaves++
	return nil
}

func (s memTicks) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Tick, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []domain.Tick
	for _, t := range s.m.ticks {
		if t.Timestamp.Before(before) {
			out = append(out, t)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s memTicks) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	kept := s.m.ticks[:0]
	var n int64
	for _, t := range s.m.ticks {
		if t.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, t)
	}
	s.m.ticks = kept
	return n, nil
}

type memPositions struct{ m *Memory }

func (s memPositions) Save(_ context.Context, pos domain.Position) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.positions[pos.ID] = pos
	return nil
}

func (s memPositions) Get(_ context.Context, id int64) (domain.Position, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	pos, ok := s.m.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s memPositions) LoadOpen(_ context.Context) ([]domain.Position, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []domain.Position
	for _, p := range s.m.positions {
		if p.Live() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s memPositions) LastID(_ context.Context) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var last int64
	for id := range s.m.positions {
		if id > last {
			last = id
		}
	}
	return last, nil
}

func (s memPositions) ListHistory(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []domain.Position
	for _, p := range s.m.positions {
		if p.Status != domain.PositionClosed || p.ClosedAt == nil {
			continue
		}
		if opts.Since != nil && p.ClosedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && p.ClosedAt.After(*opts.Until) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ClosedAt.Equal(*out[j].ClosedAt) {
			return out[i].ClosedAt.After(*out[j].ClosedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, opts), nil
}

type memConfig struct{ m *Memory }

func (s memConfig) Save(_ context.Context, cfg domain.RuntimeConfig) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	c := cfg
	s.m.cfg = &c
	s.m.configSaves++
	return nil
}

func (s memConfig) Load(_ context.Context) (domain.RuntimeConfig, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if s.m.cfg == nil {
		return domain.RuntimeConfig{}, domain.ErrNotFound
	}
	return *s.m.cfg, nil
}

type memAudit struct{ m *Memory }

func (s memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.audit = append(s.m.audit, domain.AuditEntry{
		ID:        int64(len(s.m.audit) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s memAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(s.m.audit))
	for i := len(s.m.audit) - 1; i >= 0; i-- {
		out = append(out, s.m.audit[i])
	}
	return page(out, opts), nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.Store = (*Memory)(nil)
