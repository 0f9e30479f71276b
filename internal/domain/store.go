package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TemplateStore persists the read-only challenge template catalog.
type TemplateStore interface {
	Upsert(ctx context.Context, tpl ChallengeTemplate) error
	GetByID(ctx context.Context, id string) (ChallengeTemplate, error)
	List(ctx context.Context) ([]ChallengeTemplate, error)
}

// AccountStore persists accounts and their challenge stats.
type AccountStore interface {
	Create(ctx context.Context, acc Account) error
	Update(ctx context.Context, acc Account) error
	GetByID(ctx context.Context, id string) (Account, error)
	ListActive(ctx context.Context) ([]Account, error)
}

// PositionStore persists open positions. Closed positions are removed here
// and live on only as order-history entries.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context, accountID string) ([]Position, error)
	UpdateStops(ctx context.Context, id string, stopLoss, takeProfit *float64) error
}

// HistoryStore persists the append-only order-history log.
type HistoryStore interface {
	Append(ctx context.Context, entry OrderHistoryEntry) error
	ListByAccount(ctx context.Context, accountID string, opts ListOpts) ([]OrderHistoryEntry, error)

	// RealizedLosses sums the negative realized pnl (as a positive number)
	// of CLOSED entries for the account with ClosedAt >= since. A zero
	// since covers the whole history.
	RealizedLosses(ctx context.Context, accountID string, since time.Time) (float64, error)

	// RealizedProfits is the mirror of RealizedLosses for positive pnl.
	RealizedProfits(ctx context.Context, accountID string, since time.Time) (float64, error)

	// ListBefore returns CLOSED and CANCELLED entries finished strictly
	// before the cutoff, for archival.
	ListBefore(ctx context.Context, before time.Time) ([]OrderHistoryEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
