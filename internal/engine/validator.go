package engine

import (
	"time"

	"github.com/propgate/propsim/internal/domain"
)

// OrderRequest is a proposed order before validation.
type OrderRequest struct {
	AccountID  string
	Symbol     string
	Side       domain.Side
	Size       float64
	Leverage   int
	StopLoss   *float64
	TakeProfit *float64
}

// ValidateInput bundles everything the pre-trade checks read. The caller
// computes the loss percentages from the order-history log under the account
// lock so the validator itself stays pure.
type ValidateInput struct {
	Account       domain.Account
	Template      domain.ChallengeTemplate
	HasTemplate   bool
	OpenPositions []domain.Position
	Quote         domain.Quote
	Order         OrderRequest
	DailyLossPct  float64
	TotalLossPct  float64
	DollarRate    float64
	Now           time.Time
}

// Validate runs the pre-trade checks in fixed order; the first failure wins
// and later checks are not evaluated. On success it returns nil and the
// caller materializes the position atomically under the same account lock.
//
// Checks, in order:
//  1. Challenge exists and was started
//  2. Challenge status is active
//  3. Daily block not set for today
//  4. One-trade-at-a-time limit
//  5. Daily loss limit not already reached
//  6. Cumulative loss limit not already reached
//  7. Available funds positive
//  8. Proposed margin within available funds
//  9. Proposed margin within the per-order cap
//  10. Leverage within the template maximum
func Validate(in ValidateInput) error {
	stats := in.Account.Stats

	if !in.HasTemplate || stats.Status == domain.ChallengeNotStarted {
		return domain.Rejected(domain.RejectChallengeInactive, "no active challenge for account %s", in.Account.ID)
	}

	if stats.Status != domain.ChallengeActive {
		return domain.Rejected(domain.RejectChallengeNotActive, "challenge is %s", stats.Status)
	}

	if stats.BlockedOn(in.Now) {
		return domain.Rejected(domain.RejectDailyBlockActive, "daily loss limit hit on %s", in.Now.UTC().Format("2006-01-02"))
	}

	if in.Template.OneTradeAtTime && len(in.OpenPositions) > 0 {
		return domain.Rejected(domain.RejectOneTradeLimit, "an open position already exists")
	}

	if in.DailyLossPct >= in.Template.DailyLossLimitPct {
		return domain.Rejected(domain.RejectDailyLossLimitReached, "daily loss %.2f%% >= limit %.2f%%", in.DailyLossPct, in.Template.DailyLossLimitPct)
	}

	if in.TotalLossPct >= in.Template.MaxLossLimitPct {
		return domain.Rejected(domain.RejectMaxLossLimitReached, "total loss %.2f%% >= limit %.2f%%", in.TotalLossPct, in.Template.MaxLossLimitPct)
	}

	capital := in.Account.PaperBalance / in.DollarRate
	var used float64
	for _, pos := range in.OpenPositions {
		used += pos.MarginUsed
	}
	available := capital - used
	if available <= 0 {
		return domain.Rejected(domain.RejectInsufficientFunds, "available funds %.2f", available)
	}

	margin := Margin(in.Quote.Price, in.Order.Size, in.Order.Leverage)
	if margin > available {
		return domain.Rejected(domain.RejectInsufficientMargin, "margin %.2f > available %.2f", margin, available)
	}

	orderCap := capital * in.Template.MaxOrderSizePct / 100
	if margin > orderCap {
		return domain.Rejected(domain.RejectOrderSizeExceedsCap, "margin %.2f > cap %.2f", margin, orderCap)
	}

	if in.Order.Leverage > in.Template.MaxLeverage {
		return domain.Rejected(domain.RejectLeverageExceeded, "leverage %d > max %d", in.Order.Leverage, in.Template.MaxLeverage)
	}

	return nil
}
