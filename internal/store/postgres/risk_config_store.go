package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"signalrunner/internal/domain"
)

// RiskConfigStore implements domain.RiskConfigStore.
type RiskConfigStore struct {
	pool *pgxpool.Pool
}

var _ domain.RiskConfigStore = (*RiskConfigStore)(nil)

// NewRiskConfigStore creates a RiskConfigStore backed by the given pool.
func NewRiskConfigStore(pool *pgxpool.Pool) *RiskConfigStore {
	return &RiskConfigStore{pool: pool}
}

// Upsert validates and writes a user's sizing configuration for one venue.
func (s *RiskConfigStore) Upsert(ctx context.Context, cfg domain.UserRiskConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("postgres: upsert risk config: %w", err)
	}

	const query = `
		INSERT INTO risk_configs (
			user_id, venue, mode, fixed_amount, percentage,
			max_risk_percent, max_leverage, use_venue_min, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id, venue) DO UPDATE SET
			mode = EXCLUDED.mode,
			fixed_amount = EXCLUDED.fixed_amount,
			percentage = EXCLUDED.percentage,
			max_risk_percent = EXCLUDED.max_risk_percent,
			max_leverage = EXCLUDED.max_leverage,
			use_venue_min = EXCLUDED.use_venue_min,
			updated_at = NOW()`
	_, err := s.pool.Exec(ctx, query,
		cfg.UserID, cfg.Venue, string(cfg.Mode), cfg.FixedAmount, cfg.Percentage,
		cfg.MaxRiskPercent, cfg.MaxLeverage, cfg.UseVenueMinimum,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert risk config: %w", err)
	}
	return nil
}

// Get fetches a user's sizing configuration for one venue.
func (s *RiskConfigStore) Get(ctx context.Context, userID, venue string) (domain.UserRiskConfig, error) {
	const query = `
		SELECT user_id, venue, mode, fixed_amount, percentage,
			max_risk_percent, max_leverage, use_venue_min, updated_at
		FROM risk_configs
		WHERE user_id = $1 AND venue = $2`

	var cfg domain.UserRiskConfig
	var mode string
	err := s.pool.QueryRow(ctx, query, userID, venue).Scan(
		&cfg.UserID, &cfg.Venue, &mode, &cfg.FixedAmount, &cfg.Percentage,
		&cfg.MaxRiskPercent, &cfg.MaxLeverage, &cfg.UseVenueMinimum, &cfg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserRiskConfig{}, fmt.Errorf("postgres: risk config %s/%s: %w", userID, venue, domain.ErrNotFound)
	}
	if err != nil {
		return domain.UserRiskConfig{}, fmt.Errorf("postgres: get risk config: %w", err)
	}
	cfg.Mode = domain.SizingMode(mode)
	return cfg, nil
}
