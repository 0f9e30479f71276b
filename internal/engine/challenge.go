package engine

import (
	"time"

	"github.com/propgate/propsim/internal/domain"
)

// Transition is the outcome of one challenge-rule evaluation. At most one
// transition fires per evaluation.
type Transition string

const (
	TransitionNone       Transition = ""
	TransitionDailyBlock Transition = "daily_block"
	TransitionFailed     Transition = "failed"
	TransitionPassed     Transition = "passed"
)

// LossMetrics are the percentages the challenge rules compare against,
// recomputed from the full order-history log after every close.
type LossMetrics struct {
	DailyLossPct   float64
	TotalLossPct   float64
	TotalProfitPct float64
}

// EvaluateChallenge applies the challenge-rule transitions to stats after a
// position close. Terminal transitions take precedence over the daily block
// when several thresholds are crossed by the same trade, and the loss check
// runs before the profit check to bias toward capital protection.
//
// The daily block is a temporary gate, not a status change: it rejects new
// orders for the rest of the UTC calendar day and lapses implicitly once the
// date differs.
func EvaluateChallenge(stats *domain.ChallengeStats, tpl domain.ChallengeTemplate, m LossMetrics, now time.Time) Transition {
	if stats.Status != domain.ChallengeActive {
		return TransitionNone
	}

	if m.TotalLossPct >= tpl.MaxLossLimitPct {
		stats.Status = domain.ChallengeFailed
		stats.ResultReason = "max loss limit reached"
		return TransitionFailed
	}

	if m.TotalProfitPct >= tpl.ProfitTargetPct {
		stats.Status = domain.ChallengePassed
		stats.ResultReason = "profit target reached"
		return TransitionPassed
	}

	if m.DailyLossPct >= tpl.DailyLossLimitPct && !stats.BlockedOn(now) {
		day := now.UTC().Truncate(24 * time.Hour)
		stats.DailyBlockDate = &day
		return TransitionDailyBlock
	}

	return TransitionNone
}

// recordClose folds one realized pnl into the aggregate stats.
func recordClose(stats *domain.ChallengeStats, pnl float64) {
	stats.TradesCount++
	if pnl > 0 {
		stats.WinsCount++
		stats.TotalProfit += pnl
	} else if pnl < 0 {
		stats.TotalLoss += -pnl
	}
	stats.CurrentProfit = stats.TotalProfit - stats.TotalLoss
	if stats.TradesCount > 0 {
		stats.WinRate = float64(stats.WinsCount) / float64(stats.TradesCount) * 100
	}
}
