package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"signalrunner/internal/domain"
)

// PositionStore implements domain.PositionStore. Take-profit levels are
// stored as a JSONB array so the fill flags travel with the row atomically.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, user_id, venue, symbol, side, leverage,
	entry_price, entry_order_id, stop_loss, original_stop_loss, stop_order_id,
	breakeven_applied, take_profits, quantity, remaining, status,
	created_at, updated_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status string
	var tps []byte

	err := row.Scan(
		&p.ID, &p.UserID, &p.Venue, &p.Symbol, &side, &p.Leverage,
		&p.EntryPrice, &p.EntryOrderID, &p.StopLoss, &p.OriginalStopLoss, &p.StopOrderID,
		&p.BreakevenApplied, &tps, &p.Quantity, &p.Remaining, &status,
		&p.CreatedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	if err := json.Unmarshal(tps, &p.TakeProfits); err != nil {
		return domain.Position{}, fmt.Errorf("decode take_profits: %w", err)
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	tps, err := json.Marshal(p.TakeProfits)
	if err != nil {
		return fmt.Errorf("postgres: encode take_profits: %w", err)
	}

	const query = `
		INSERT INTO positions (
			id, user_id, venue, symbol, side, leverage,
			entry_price, entry_order_id, stop_loss, original_stop_loss, stop_order_id,
			breakeven_applied, take_profits, quantity, remaining, status,
			created_at, updated_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19
		)`
	_, err = s.pool.Exec(ctx, query,
		p.ID, p.UserID, p.Venue, p.Symbol, string(p.Side), p.Leverage,
		p.EntryPrice, p.EntryOrderID, p.StopLoss, p.OriginalStopLoss, p.StopOrderID,
		p.BreakevenApplied, tps, p.Quantity, p.Remaining, string(p.Status),
		p.CreatedAt, p.UpdatedAt, p.ClosedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("postgres: position %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create position: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of a position.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	tps, err := json.Marshal(p.TakeProfits)
	if err != nil {
		return fmt.Errorf("postgres: encode take_profits: %w", err)
	}

	const query = `
		UPDATE positions SET
			stop_loss = $2, stop_order_id = $3, breakeven_applied = $4,
			take_profits = $5, remaining = $6, status = $7,
			updated_at = $8, closed_at = $9
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.StopLoss, p.StopOrderID, p.BreakevenApplied,
		tps, p.Remaining, string(p.Status),
		p.UpdatedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: position %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position: %w", err)
	}
	return p, nil
}

// ListOpen returns every position not in a terminal state.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + `
		FROM positions
		WHERE status IN ($1, $2)
		ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query,
		string(domain.PositionOpen), string(domain.PositionPartiallyClosed))
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// ListByUser returns a user's positions, newest first.
func (s *PositionStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Position, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + positionCols + `
		FROM positions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, userID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
