package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/propgate/propsim/internal/domain"
)

// Ledger is the authoritative collection of open positions and the
// append-only order-history log for all accounts. Callers must hold the
// account lock; the ledger itself performs no locking.
type Ledger struct {
	positions domain.PositionStore
	history   domain.HistoryStore
	logger    *slog.Logger
}

// NewLedger creates a Ledger over the given stores.
func NewLedger(positions domain.PositionStore, history domain.HistoryStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		positions: positions,
		history:   history,
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

// Open materializes a validated position and appends its OPEN history
// snapshot. A missing ID is assigned.
func (l *Ledger) Open(ctx context.Context, pos domain.Position) (domain.Position, error) {
	if pos.ID == "" {
		pos.ID = uuid.New().String()
	}
	if pos.OpenedAt.IsZero() {
		pos.OpenedAt = time.Now().UTC()
	}

	if err := l.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: create position: %w", err)
	}

	if err := l.history.Append(ctx, snapshot(pos, domain.HistoryOpen, "", 0, nil)); err != nil {
		return domain.Position{}, fmt.Errorf("ledger: append open entry: %w", err)
	}

	l.logger.InfoContext(ctx, "ledger: position opened",
		slog.String("position_id", pos.ID),
		slog.String("account_id", pos.AccountID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("size", pos.Size),
		slog.Int("leverage", pos.Leverage),
	)
	return pos, nil
}

// Close removes the position, realizes its pnl at exitPrice, and appends the
// CLOSED history entry. Closing a position that is no longer present (already
// closed by a racing caller) is a safe no-op reporting ErrAlreadyClosed. A
// position owned by a different account reports ErrNotFound: positions are
// addressable only through their owning account.
func (l *Ledger) Close(ctx context.Context, accountID, positionID string, exitPrice float64, reason domain.CloseReason) (domain.OrderHistoryEntry, error) {
	pos, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OrderHistoryEntry{}, domain.ErrAlreadyClosed
		}
		return domain.OrderHistoryEntry{}, fmt.Errorf("ledger: get position %s: %w", positionID, err)
	}
	if pos.AccountID != accountID {
		return domain.OrderHistoryEntry{}, domain.ErrNotFound
	}

	pnl := UnrealizedPnL(pos, exitPrice)

	if err := l.positions.Delete(ctx, positionID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OrderHistoryEntry{}, domain.ErrAlreadyClosed
		}
		return domain.OrderHistoryEntry{}, fmt.Errorf("ledger: delete position %s: %w", positionID, err)
	}

	entry := snapshot(pos, domain.HistoryClosed, reason, pnl, &exitPrice)
	if err := l.history.Append(ctx, entry); err != nil {
		return domain.OrderHistoryEntry{}, fmt.Errorf("ledger: append close entry: %w", err)
	}

	l.logger.InfoContext(ctx, "ledger: position closed",
		slog.String("position_id", pos.ID),
		slog.String("account_id", pos.AccountID),
		slog.String("reason", string(reason)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("realized_pnl", pnl),
	)
	return entry, nil
}

// Cancel removes the position without realizing pnl and appends a CANCELLED
// entry. Like Close, it is idempotent-safe under races and hides foreign
// positions behind ErrNotFound.
func (l *Ledger) Cancel(ctx context.Context, accountID, positionID string) (domain.OrderHistoryEntry, error) {
	pos, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OrderHistoryEntry{}, domain.ErrAlreadyClosed
		}
		return domain.OrderHistoryEntry{}, fmt.Errorf("ledger: get position %s: %w", positionID, err)
	}
	if pos.AccountID != accountID {
		return domain.OrderHistoryEntry{}, domain.ErrNotFound
	}

	if err := l.positions.Delete(ctx, positionID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OrderHistoryEntry{}, domain.ErrAlreadyClosed
		}
		return domain.OrderHistoryEntry{}, fmt.Errorf("ledger: delete position %s: %w", positionID, err)
	}

	entry := snapshot(pos, domain.HistoryCancelled, "", 0, nil)
	if err := l.history.Append(ctx, entry); err != nil {
		return domain.OrderHistoryEntry{}, fmt.Errorf("ledger: append cancel entry: %w", err)
	}

	l.logger.InfoContext(ctx, "ledger: position cancelled",
		slog.String("position_id", pos.ID),
		slog.String("account_id", pos.AccountID),
	)
	return entry, nil
}

// UpdateStops replaces the stop-loss / take-profit levels of an open
// position. A stop-loss may only tighten risk: for longs it may only move up
// toward the entry price, for shorts only down. Take-profit moves freely.
// Widening attempts are rejected with ErrRiskIncrease. A position owned by a
// different account reports ErrNotFound.
func (l *Ledger) UpdateStops(ctx context.Context, accountID, positionID string, stopLoss, takeProfit *float64) error {
	pos, err := l.positions.GetByID(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("ledger: get position %s: %w", positionID, err)
	}
	if pos.AccountID != accountID {
		return domain.ErrNotFound
	}

	newSl := pos.StopLoss
	if stopLoss != nil {
		if err := checkTightening(pos, *stopLoss); err != nil {
			return err
		}
		newSl = stopLoss
	}
	newTp := pos.TakeProfit
	if takeProfit != nil {
		newTp = takeProfit
	}

	if err := l.positions.UpdateStops(ctx, positionID, newSl, newTp); err != nil {
		return fmt.Errorf("ledger: update stops %s: %w", positionID, err)
	}
	return nil
}

// checkTightening enforces the monotonic-tightening invariant relative to the
// current stop-loss. The losing side is below entry for longs and above entry
// for shorts; a new level further from entry on that side increases risk.
func checkTightening(pos domain.Position, newSl float64) error {
	if pos.StopLoss == nil {
		return nil
	}
	old := *pos.StopLoss
	if pos.Side == domain.SideLong {
		if newSl < old {
			return domain.ErrRiskIncrease
		}
		return nil
	}
	if newSl > old {
		return domain.ErrRiskIncrease
	}
	return nil
}

// OpenPositions lists the account's open positions.
func (l *Ledger) OpenPositions(ctx context.Context, accountID string) ([]domain.Position, error) {
	positions, err := l.positions.ListOpen(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list open for %s: %w", accountID, err)
	}
	return positions, nil
}

// History lists the account's order-history entries.
func (l *Ledger) History(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.OrderHistoryEntry, error) {
	entries, err := l.history.ListByAccount(ctx, accountID, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: list history for %s: %w", accountID, err)
	}
	return entries, nil
}

func snapshot(pos domain.Position, status domain.HistoryStatus, reason domain.CloseReason, pnl float64, exitPrice *float64) domain.OrderHistoryEntry {
	entry := domain.OrderHistoryEntry{
		ID:          uuid.New().String(),
		PositionID:  pos.ID,
		AccountID:   pos.AccountID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Size:        pos.Size,
		Leverage:    pos.Leverage,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		StopLoss:    pos.StopLoss,
		TakeProfit:  pos.TakeProfit,
		MarginUsed:  pos.MarginUsed,
		RealizedPnL: pnl,
		Status:      status,
		CloseReason: reason,
		OpenedAt:    pos.OpenedAt,
	}
	if status != domain.HistoryOpen {
		now := time.Now().UTC()
		entry.ClosedAt = &now
	}
	return entry
}
