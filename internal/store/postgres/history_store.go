package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/propgate/propsim/internal/domain"
)

// HistoryStore implements domain.HistoryStore using PostgreSQL. Entries are
// append-only; nothing updates or deletes them.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a HistoryStore backed by the given connection pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

var _ domain.HistoryStore = (*HistoryStore)(nil)

const historySelectCols = `id, position_id, account_id, symbol, side, size,
	leverage, entry_price, exit_price, stop_loss, take_profit, margin_used,
	realized_pnl, status, close_reason, opened_at, closed_at`

func scanHistoryRows(rows pgx.Rows) ([]domain.OrderHistoryEntry, error) {
	var entries []domain.OrderHistoryEntry
	for rows.Next() {
		var e domain.OrderHistoryEntry
		var side, status, closeReason string

		if err := rows.Scan(
			&e.ID, &e.PositionID, &e.AccountID, &e.Symbol, &side, &e.Size,
			&e.Leverage, &e.EntryPrice, &e.ExitPrice, &e.StopLoss,
			&e.TakeProfit, &e.MarginUsed, &e.RealizedPnL, &status,
			&closeReason, &e.OpenedAt, &e.ClosedAt,
		); err != nil {
			return nil, err
		}
		e.Side = domain.Side(side)
		e.Status = domain.HistoryStatus(status)
		e.CloseReason = domain.CloseReason(closeReason)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Append inserts a new history entry.
func (s *HistoryStore) Append(ctx context.Context, entry domain.OrderHistoryEntry) error {
	const query = `
		INSERT INTO order_history (
			id, position_id, account_id, symbol, side, size,
			leverage, entry_price, exit_price, stop_loss, take_profit,
			margin_used, realized_pnl, status, close_reason, opened_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17
		)`

	_, err := s.pool.Exec(ctx, query,
		entry.ID, entry.PositionID, entry.AccountID, entry.Symbol,
		string(entry.Side), entry.Size, entry.Leverage, entry.EntryPrice,
		entry.ExitPrice, entry.StopLoss, entry.TakeProfit, entry.MarginUsed,
		entry.RealizedPnL, string(entry.Status), string(entry.CloseReason),
		entry.OpenedAt, entry.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append history entry %s: %w", entry.ID, err)
	}
	return nil
}

// ListByAccount returns history entries for the account, newest first.
func (s *HistoryStore) ListByAccount(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.OrderHistoryEntry, error) {
	query := `SELECT ` + historySelectCols + ` FROM order_history WHERE account_id = $1`
	args := []any{accountID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history: %w", err)
	}
	defer rows.Close()

	entries, err := scanHistoryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan history: %w", err)
	}
	return entries, nil
}

// RealizedLosses sums the losing realized pnl of CLOSED entries since the
// given time, returned as a positive number. A zero since covers everything.
func (s *HistoryStore) RealizedLosses(ctx context.Context, accountID string, since time.Time) (float64, error) {
	return s.sumRealized(ctx, accountID, since, "realized_pnl < 0", true)
}

// RealizedProfits sums the winning realized pnl of CLOSED entries since the
// given time.
func (s *HistoryStore) RealizedProfits(ctx context.Context, accountID string, since time.Time) (float64, error) {
	return s.sumRealized(ctx, accountID, since, "realized_pnl > 0", false)
}

func (s *HistoryStore) sumRealized(ctx context.Context, accountID string, since time.Time, cond string, negate bool) (float64, error) {
	query := `SELECT COALESCE(SUM(realized_pnl), 0) FROM order_history
		WHERE account_id = $1 AND status = 'CLOSED' AND ` + cond
	args := []any{accountID}
	if !since.IsZero() {
		query += " AND closed_at >= $2"
		args = append(args, since)
	}

	var sum float64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&sum); err != nil {
		return 0, fmt.Errorf("postgres: sum realized pnl: %w", err)
	}
	if negate {
		sum = -sum
	}
	return sum, nil
}

// ListBefore returns finished entries with closed_at strictly before the
// cutoff, oldest first, for archival.
func (s *HistoryStore) ListBefore(ctx context.Context, before time.Time) ([]domain.OrderHistoryEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+historySelectCols+` FROM order_history
		 WHERE status <> 'OPEN' AND closed_at IS NOT NULL AND closed_at < $1
		 ORDER BY closed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history before: %w", err)
	}
	defer rows.Close()

	entries, err := scanHistoryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan history before: %w", err)
	}
	return entries, nil
}
