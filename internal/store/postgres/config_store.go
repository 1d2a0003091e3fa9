package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

// RuntimeConfigStore implements domain.RuntimeConfigStore on the single-row
// runtime_config table.
type RuntimeConfigStore struct {
	pool *pgxpool.Pool
}

// NewRuntimeConfigStore creates a RuntimeConfigStore.
func NewRuntimeConfigStore(pool *pgxpool.Pool) *RuntimeConfigStore {
	return &RuntimeConfigStore{pool: pool}
}

// Save overwrites the stored parameters.
func (s *RuntimeConfigStore) Save(ctx context.Context, cfg domain.RuntimeConfig) error {
	const q = `
		INSERT INTO runtime_config (id, open_threshold, close_buffer, annual_factor,
			poll_interval_seconds, repeat_interval_seconds, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			open_threshold = EXCLUDED.open_threshold,
			close_buffer = EXCLUDED.close_buffer,
			annual_factor = EXCLUDED.annual_factor,
			poll_interval_seconds = EXCLUDED.poll_interval_seconds,
			repeat_interval_seconds = EXCLUDED.repeat_interval_seconds,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, q,
		cfg.OpenThreshold, cfg.CloseBuffer, cfg.AnnualFactor,
		cfg.PollIntervalSeconds, cfg.RepeatIntervalSeconds, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save runtime config: %w", err)
	}
	return nil
}

// Load returns the stored parameters, or domain.ErrNotFound when none have
// been saved.
func (s *RuntimeConfigStore) Load(ctx context.Context) (domain.RuntimeConfig, error) {
	var cfg domain.RuntimeConfig
	err := s.pool.QueryRow(ctx, `
		SELECT open_threshold, close_buffer, annual_factor,
			poll_interval_seconds, repeat_interval_seconds, updated_at
		FROM runtime_config WHERE id = 1`,
	).Scan(&cfg.OpenThreshold, &cfg.CloseBuffer, &cfg.AnnualFactor,
		&cfg.PollIntervalSeconds, &cfg.RepeatIntervalSeconds, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RuntimeConfig{}, fmt.Errorf("postgres: runtime config: %w", domain.ErrNotFound)
		}
		return domain.RuntimeConfig{}, fmt.Errorf("postgres: load runtime config: %w", err)
	}
	return cfg, nil
}

var _ domain.RuntimeConfigStore = (*RuntimeConfigStore)(nil)
