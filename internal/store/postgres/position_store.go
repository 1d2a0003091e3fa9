package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

// PositionStore implements domain.PositionStore on the positions table.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, status, entry_signal_spread, entry_actual_spread,
	close_signal_spread, close_actual_spread, signal_at, opened_at,
	close_signalled_at, closed_at, last_open_alert_at, last_close_alert_at,
	opened_by, closed_by, created_at, updated_at`

// Save upserts a position by id.
func (s *PositionStore) Save(ctx context.Context, p domain.Position) error {
	const q = `
		INSERT INTO positions (` + positionSelectCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			entry_actual_spread = EXCLUDED.entry_actual_spread,
			close_signal_spread = EXCLUDED.close_signal_spread,
			close_actual_spread = EXCLUDED.close_actual_spread,
			opened_at = EXCLUDED.opened_at,
			close_signalled_at = EXCLUDED.close_signalled_at,
			closed_at = EXCLUDED.closed_at,
			last_open_alert_at = EXCLUDED.last_open_alert_at,
			last_close_alert_at = EXCLUDED.last_close_alert_at,
			opened_by = EXCLUDED.opened_by,
			closed_by = EXCLUDED.closed_by,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, q,
		p.ID, string(p.Status), p.EntrySignalSpread, p.EntryActualSpread,
		p.CloseSignalSpread, p.CloseActualSpread, p.SignalAt, p.OpenedAt,
		p.CloseSignalledAt, p.ClosedAt, nullTime(p.LastOpenAlertAt), nullTime(p.LastCloseAlertAt),
		p.OpenedBy, p.ClosedBy, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position %d: %w", p.ID, err)
	}
	return nil
}

// Get returns one position, or domain.ErrNotFound.
func (s *PositionStore) Get(ctx context.Context, id int64) (domain.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %d: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %d: %w", id, err)
	}
	return p, nil
}

// LoadOpen returns every position that is not closed, ordered by id.
func (s *PositionStore) LoadOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE status <> $1 ORDER BY id ASC`,
		string(domain.PositionClosed),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: load open positions: %w", err)
	}
	return collectPositions(rows)
}

// LastID returns the highest id saved so far, or 0.
func (s *PositionStore) LastID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM positions`).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: last position id: %w", err)
	}
	return id, nil
}

// ListHistory returns closed positions, most recently closed first.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	q := newListQuery(`SELECT ` + positionSelectCols + ` FROM positions`)
	q.where("status = ?", string(domain.PositionClosed))
	q.window("closed_at", opts)
	q.page("closed_at DESC, id DESC", opts)

	rows, err := s.pool.Query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: positions rows: %w", err)
	}
	return out, nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string
	var lastOpen, lastClose *time.Time
	err := row.Scan(
		&p.ID, &status, &p.EntrySignalSpread, &p.EntryActualSpread,
		&p.CloseSignalSpread, &p.CloseActualSpread, &p.SignalAt, &p.OpenedAt,
		&p.CloseSignalledAt, &p.ClosedAt, &lastOpen, &lastClose,
		&p.OpenedBy, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	if lastOpen != nil {
		p.LastOpenAlertAt = *lastOpen
	}
	if lastClose != nil {
		p.LastCloseAlertAt = *lastClose
	}
	return p, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ domain.PositionStore = (*PositionStore)(nil)
