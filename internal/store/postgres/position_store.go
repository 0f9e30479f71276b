package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/propgate/propsim/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Only open
// positions live here; closed ones exist solely in order_history.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, account_id, symbol, side, size, leverage,
	entry_price, stop_loss, take_profit, margin_used, opened_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side string

	err := row.Scan(
		&p.ID, &p.AccountID, &p.Symbol, &side, &p.Size, &p.Leverage,
		&p.EntryPrice, &p.StopLoss, &p.TakeProfit, &p.MarginUsed, &p.OpenedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	return p, nil
}

// Create inserts a new open position.
func (s *PositionStore) Create(ctx context.Context, pos domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, account_id, symbol, side, size, leverage,
			entry_price, stop_loss, take_profit, margin_used, opened_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		pos.ID, pos.AccountID, pos.Symbol, string(pos.Side), pos.Size,
		pos.Leverage, pos.EntryPrice, pos.StopLoss, pos.TakeProfit,
		pos.MarginUsed, pos.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", pos.ID, err)
	}
	return nil
}

// Delete removes a position on close or cancel.
func (s *PositionStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single open position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	pos, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return pos, nil
}

// ListOpen returns all open positions for the given account.
func (s *PositionStore) ListOpen(ctx context.Context, accountID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE account_id = $1
		 ORDER BY opened_at`, accountID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open positions rows: %w", err)
	}
	return positions, nil
}

// UpdateStops replaces the protective levels of an open position.
func (s *PositionStore) UpdateStops(ctx context.Context, id string, stopLoss, takeProfit *float64) error {
	const query = `UPDATE positions SET stop_loss = $2, take_profit = $3 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, stopLoss, takeProfit)
	if err != nil {
		return fmt.Errorf("postgres: update stops %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
