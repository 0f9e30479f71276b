package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/propgate/propsim/internal/domain"
)

// TemplateStore implements domain.TemplateStore using PostgreSQL.
type TemplateStore struct {
	pool *pgxpool.Pool
}

// NewTemplateStore creates a TemplateStore backed by the given connection pool.
func NewTemplateStore(pool *pgxpool.Pool) *TemplateStore {
	return &TemplateStore{pool: pool}
}

var _ domain.TemplateStore = (*TemplateStore)(nil)

const templateSelectCols = `id, name, fee, paper_balance, profit_target_pct,
	daily_loss_limit_pct, max_loss_limit_pct, max_order_size_pct,
	max_leverage, one_trade_at_time`

func scanTemplateRow(row pgx.Row) (domain.ChallengeTemplate, error) {
	var t domain.ChallengeTemplate
	err := row.Scan(
		&t.ID, &t.Name, &t.Fee, &t.PaperBalance, &t.ProfitTargetPct,
		&t.DailyLossLimitPct, &t.MaxLossLimitPct, &t.MaxOrderSizePct,
		&t.MaxLeverage, &t.OneTradeAtTime,
	)
	return t, err
}

// Upsert inserts or replaces a template. The configured catalog is synced on
// startup, so replacement is keyed only on id.
func (s *TemplateStore) Upsert(ctx context.Context, tpl domain.ChallengeTemplate) error {
	const query = `
		INSERT INTO challenge_templates (
			id, name, fee, paper_balance, profit_target_pct,
			daily_loss_limit_pct, max_loss_limit_pct, max_order_size_pct,
			max_leverage, one_trade_at_time, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name                 = EXCLUDED.name,
			fee                  = EXCLUDED.fee,
			paper_balance        = EXCLUDED.paper_balance,
			profit_target_pct    = EXCLUDED.profit_target_pct,
			daily_loss_limit_pct = EXCLUDED.daily_loss_limit_pct,
			max_loss_limit_pct   = EXCLUDED.max_loss_limit_pct,
			max_order_size_pct   = EXCLUDED.max_order_size_pct,
			max_leverage         = EXCLUDED.max_leverage,
			one_trade_at_time    = EXCLUDED.one_trade_at_time,
			updated_at           = NOW()`

	_, err := s.pool.Exec(ctx, query,
		tpl.ID, tpl.Name, tpl.Fee, tpl.PaperBalance, tpl.ProfitTargetPct,
		tpl.DailyLossLimitPct, tpl.MaxLossLimitPct, tpl.MaxOrderSizePct,
		tpl.MaxLeverage, tpl.OneTradeAtTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert template %s: %w", tpl.ID, err)
	}
	return nil
}

// GetByID retrieves a single template by its ID.
func (s *TemplateStore) GetByID(ctx context.Context, id string) (domain.ChallengeTemplate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+templateSelectCols+` FROM challenge_templates WHERE id = $1`, id)

	tpl, err := scanTemplateRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ChallengeTemplate{}, domain.ErrNotFound
		}
		return domain.ChallengeTemplate{}, fmt.Errorf("postgres: get template %s: %w", id, err)
	}
	return tpl, nil
}

// List returns the whole template catalog ordered by id.
func (s *TemplateStore) List(ctx context.Context) ([]domain.ChallengeTemplate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+templateSelectCols+` FROM challenge_templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list templates: %w", err)
	}
	defer rows.Close()

	var templates []domain.ChallengeTemplate
	for rows.Next() {
		tpl, err := scanTemplateRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan template: %w", err)
		}
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list templates rows: %w", err)
	}
	return templates, nil
}
