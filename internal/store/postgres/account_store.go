package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/propgate/propsim/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL. Challenge
// stats are flattened into columns on the accounts table.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates an AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

var _ domain.AccountStore = (*AccountStore)(nil)

const accountSelectCols = `id, paper_balance, template_id, status, start_date,
	trades_count, wins_count, total_profit, total_loss, current_profit,
	win_rate, daily_block_date, result_reason, created_at, updated_at`

func scanAccountRow(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	var status string

	err := row.Scan(
		&a.ID, &a.PaperBalance, &a.TemplateID, &status, &a.Stats.StartDate,
		&a.Stats.TradesCount, &a.Stats.WinsCount, &a.Stats.TotalProfit,
		&a.Stats.TotalLoss, &a.Stats.CurrentProfit, &a.Stats.WinRate,
		&a.Stats.DailyBlockDate, &a.Stats.ResultReason,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Account{}, err
	}
	a.Stats.Status = domain.ChallengeStatus(status)
	return a, nil
}

// Create inserts a new account.
func (s *AccountStore) Create(ctx context.Context, acc domain.Account) error {
	const query = `
		INSERT INTO accounts (
			id, paper_balance, template_id, status, start_date,
			trades_count, wins_count, total_profit, total_loss,
			current_profit, win_rate, daily_block_date, result_reason,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			NOW(), NOW()
		)`

	status := acc.Stats.Status
	if status == "" {
		status = domain.ChallengeNotStarted
	}

	_, err := s.pool.Exec(ctx, query,
		acc.ID, acc.PaperBalance, acc.TemplateID, string(status),
		acc.Stats.StartDate, acc.Stats.TradesCount, acc.Stats.WinsCount,
		acc.Stats.TotalProfit, acc.Stats.TotalLoss, acc.Stats.CurrentProfit,
		acc.Stats.WinRate, acc.Stats.DailyBlockDate, acc.Stats.ResultReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: create account %s: %w", acc.ID, err)
	}
	return nil
}

// Update replaces all mutable fields of an account.
func (s *AccountStore) Update(ctx context.Context, acc domain.Account) error {
	const query = `
		UPDATE accounts SET
			paper_balance    = $2,
			template_id      = $3,
			status           = $4,
			start_date       = $5,
			trades_count     = $6,
			wins_count       = $7,
			total_profit     = $8,
			total_loss       = $9,
			current_profit   = $10,
			win_rate         = $11,
			daily_block_date = $12,
			result_reason    = $13,
			updated_at       = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		acc.ID, acc.PaperBalance, acc.TemplateID, string(acc.Stats.Status),
		acc.Stats.StartDate, acc.Stats.TradesCount, acc.Stats.WinsCount,
		acc.Stats.TotalProfit, acc.Stats.TotalLoss, acc.Stats.CurrentProfit,
		acc.Stats.WinRate, acc.Stats.DailyBlockDate, acc.Stats.ResultReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: update account %s: %w", acc.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single account by its ID.
func (s *AccountStore) GetByID(ctx context.Context, id string) (domain.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE id = $1`, id)

	acc, err := scanAccountRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", id, err)
	}
	return acc, nil
}

// ListActive returns the accounts with an active challenge, ordered by id.
// Sessions are spawned from this list at startup.
func (s *AccountStore) ListActive(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE status = $1 ORDER BY id`,
		string(domain.ChallengeActive))
	if err != nil {
		return nil, fmt.Errorf("postgres: list active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		acc, err := scanAccountRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active accounts rows: %w", err)
	}
	return accounts, nil
}
