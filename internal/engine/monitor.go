package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/propgate/propsim/internal/domain"
)

// Monitor sweeps the open positions of one account against cached quotes and
// fires protective closes. Sweeps are cheap and idempotent: a position that
// raced a manual close simply yields ErrAlreadyClosed.
type Monitor struct {
	engine *Engine
	logger *slog.Logger
}

// NewMonitor creates a Monitor bound to the engine it closes through.
func NewMonitor(engine *Engine, logger *slog.Logger) *Monitor {
	return &Monitor{
		engine: engine,
		logger: logger.With(slog.String("component", "monitor")),
	}
}

// Sweep checks every open position of the account once. A position with no
// fresh quote is skipped and retried on the next tick; stop-loss is checked
// before take-profit so the protective exit wins when both straddle a gap.
func (m *Monitor) Sweep(ctx context.Context, accountID string) error {
	open, err := m.engine.ledger.OpenPositions(ctx, accountID)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}

	for _, pos := range open {
		quote, err := m.engine.quoteFor(ctx, pos.Symbol)
		if err != nil {
			m.logger.WarnContext(ctx, "monitor: no quote for open position",
				slog.String("position_id", pos.ID),
				slog.String("symbol", pos.Symbol),
			)
			continue
		}

		var reason domain.CloseReason
		switch {
		case hitStopLoss(pos, quote.Price):
			reason = domain.CloseStopLoss
		case hitTakeProfit(pos, quote.Price):
			reason = domain.CloseTakeProfit
		default:
			continue
		}

		if _, err := m.engine.closeAt(ctx, accountID, pos.ID, quote.Price, reason); err != nil {
			if errors.Is(err, domain.ErrAlreadyClosed) {
				continue
			}
			m.logger.ErrorContext(ctx, "monitor: protective close failed",
				slog.String("position_id", pos.ID),
				slog.String("reason", string(reason)),
				slog.String("error", err.Error()),
			)
			continue
		}

		m.logger.InfoContext(ctx, "monitor: protective close",
			slog.String("account_id", accountID),
			slog.String("position_id", pos.ID),
			slog.String("symbol", pos.Symbol),
			slog.String("reason", string(reason)),
			slog.Float64("price", quote.Price),
		)
	}
	return nil
}
