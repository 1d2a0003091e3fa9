package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

// TickStore implements domain.TickStore on the ticks table.
type TickStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewTickStore creates a TickStore. ttl sets expires_at on each row.
func NewTickStore(pool *pgxpool.Pool, ttl time.Duration) *TickStore {
	return &TickStore{pool: pool, ttl: ttl}
}

const tickSelectCols = `pair, observed_at, paxg_bid, paxg_ask, xaut_bid, xaut_ask,
	paxg_funding, xaut_funding, spread_open, spread_close,
	funding_diff_raw, funding_diff_annual, annual_factor,
	quote_size_paxg, quote_size_xaut, latency_us`

// Save inserts one tick.
func (s *TickStore) Save(ctx context.Context, t domain.Tick) error {
	const q = `
		INSERT INTO ticks (` + tickSelectCols + `, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := s.pool.Exec(ctx, q,
		t.Pair, t.Timestamp, t.PaxgBid, t.PaxgAsk, t.XautBid, t.XautAsk,
		t.PaxgFunding, t.XautFunding, t.SpreadOpen, t.SpreadClose,
		t.FundingDiffRaw, t.FundingDiffAnnual, t.AnnualFactor,
		t.QuoteSizePaxg, t.QuoteSizeXaut, t.Latency.Microseconds(),
		t.Timestamp.Add(s.ttl),
	)
	if err != nil {
		return fmt.Errorf("postgres: save tick at %s: %w", t.Timestamp.Format(time.RFC3339), err)
	}
	return nil
}

// ListBefore returns up to limit ticks observed before the cutoff, oldest
// first.
func (s *TickStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Tick, error) {
	q := `SELECT ` + tickSelectCols + ` FROM ticks WHERE observed_at < $1 ORDER BY observed_at ASC, id ASC`
	args := []any{before}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ticks before: %w", err)
	}
	defer rows.Close()

	var ticks []domain.Tick
	for rows.Next() {
		t, err := scanTick(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan tick: %w", err)
		}
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list ticks rows: %w", err)
	}
	return ticks, nil
}

// DeleteBefore removes ticks observed before the cutoff.
func (s *TickStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ticks WHERE observed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete ticks before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanTick(row pgx.Row) (domain.Tick, error) {
	var t domain.Tick
	var latencyUS int64
	err := row.Scan(
		&t.Pair, &t.Timestamp, &t.PaxgBid, &t.PaxgAsk, &t.XautBid, &t.XautAsk,
		&t.PaxgFunding, &t.XautFunding, &t.SpreadOpen, &t.SpreadClose,
		&t.FundingDiffRaw, &t.FundingDiffAnnual, &t.AnnualFactor,
		&t.QuoteSizePaxg, &t.QuoteSizeXaut, &latencyUS,
	)
	t.Latency = time.Duration(latencyUS) * time.Microsecond
	return t, err
}

var _ domain.TickStore = (*TickStore)(nil)
