package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"signalrunner/internal/domain"
)

// TradeStore implements domain.TradeStore. Trade records are append-only.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeStore = (*TradeStore)(nil)

// NewTradeStore creates a TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Insert appends a trade record.
func (s *TradeStore) Insert(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades (
			id, position_id, user_id, venue, symbol, side,
			margin, notional, quantity, capped, degraded, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.PositionID, rec.UserID, rec.Venue, rec.Symbol, string(rec.Side),
		rec.Margin, rec.Notional, rec.Quantity, rec.Capped, rec.Degraded, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade: %w", err)
	}
	return nil
}

// ListByUser returns a user's trade records, newest first.
func (s *TradeStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, position_id, user_id, venue, symbol, side,
			margin, notional, quantity, capped, degraded, created_at
		FROM trades
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, userID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var rec domain.TradeRecord
		var side string
		if err := rows.Scan(
			&rec.ID, &rec.PositionID, &rec.UserID, &rec.Venue, &rec.Symbol, &side,
			&rec.Margin, &rec.Notional, &rec.Quantity, &rec.Capped, &rec.Degraded, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		rec.Side = domain.Side(side)
		out = append(out, rec)
	}
	return out, rows.Err()
}
