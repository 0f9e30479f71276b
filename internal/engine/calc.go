// Package engine implements the challenge risk engine: pure margin and pnl
// math, pre-trade order validation, the position ledger, the per-position
// risk sweep, and the challenge state machine. All account mutation is
// serialized through the Engine facade's per-account lock.
package engine

import "github.com/propgate/propsim/internal/domain"

// Margin is the capital locked against leverage for a position of the given
// size at the given price, in quote currency.
func Margin(price, size float64, leverage int) float64 {
	return price * size / float64(leverage)
}

// UnrealizedPnL computes the floating profit or loss of an open position at
// the current price, in quote currency. Short positions mirror the sign.
func UnrealizedPnL(pos domain.Position, currentPrice float64) float64 {
	return (currentPrice - pos.EntryPrice) * pos.Size * float64(pos.Leverage) * pos.Side.Sign()
}

// Equity is balance plus the sum of unrealized pnl over the open positions,
// priced from the given quotes. Positions whose symbol has no quote
// contribute nothing.
func Equity(balance float64, positions []domain.Position, quotes map[string]domain.Quote) float64 {
	eq := balance
	for _, pos := range positions {
		q, ok := quotes[pos.Symbol]
		if !ok {
			continue
		}
		eq += UnrealizedPnL(pos, q.Price)
	}
	return eq
}

// AutoStopLoss computes the default protective stop level when the caller
// supplies none: the price at which the position loses lossFrac of its
// margin. The pnl amount converts to a price delta via amount/(size*leverage).
func AutoStopLoss(margin float64, side domain.Side, entryPrice, size float64, leverage int, lossFrac float64) float64 {
	delta := margin * lossFrac / (size * float64(leverage))
	return entryPrice - delta*side.Sign()
}

// AutoTakeProfit is the mirror of AutoStopLoss: the price at which the
// position gains gainFrac of its margin.
func AutoTakeProfit(margin float64, side domain.Side, entryPrice, size float64, leverage int, gainFrac float64) float64 {
	delta := margin * gainFrac / (size * float64(leverage))
	return entryPrice + delta*side.Sign()
}

// hitStopLoss reports whether the quote price has reached the position's
// stop-loss level.
func hitStopLoss(pos domain.Position, price float64) bool {
	if pos.StopLoss == nil {
		return false
	}
	if pos.Side == domain.SideLong {
		return price <= *pos.StopLoss
	}
	return price >= *pos.StopLoss
}

// hitTakeProfit reports whether the quote price has reached the position's
// take-profit level.
func hitTakeProfit(pos domain.Position, price float64) bool {
	if pos.TakeProfit == nil {
		return false
	}
	if pos.Side == domain.SideLong {
		return price >= *pos.TakeProfit
	}
	return price <= *pos.TakeProfit
}
