// Package domain defines the core types, errors, and store interfaces shared
// by the challenge risk engine and its adapters.
package domain

import "time"

// ChallengeStatus tracks where an account's challenge sits in its lifecycle.
type ChallengeStatus string

const (
	ChallengeNotStarted ChallengeStatus = "not_started"
	ChallengeActive     ChallengeStatus = "active"
	ChallengePassed     ChallengeStatus = "passed"
	ChallengeFailed     ChallengeStatus = "failed"
)

// Terminal reports whether the status can never change again.
func (s ChallengeStatus) Terminal() bool {
	return s == ChallengePassed || s == ChallengeFailed
}

// ChallengeTemplate is an immutable challenge configuration. Templates are
// loaded once from the configured catalog at process start and never mutated.
type ChallengeTemplate struct {
	ID                string
	Name              string
	Fee               float64
	PaperBalance      float64 // starting balance in display currency units
	ProfitTargetPct   float64 // cumulative profit % that passes the challenge
	DailyLossLimitPct float64 // daily loss % that blocks trading for the day
	MaxLossLimitPct   float64 // cumulative loss % that fails the challenge
	MaxOrderSizePct   float64 // max margin per order, as % of trading capital
	MaxLeverage       int
	OneTradeAtTime    bool
}

// ChallengeStats holds the aggregate statistics for one account's challenge.
// Realized profit and loss figures are kept in quote currency (USD).
type ChallengeStats struct {
	Status        ChallengeStatus
	StartDate     *time.Time
	TradesCount   int
	WinsCount     int
	TotalProfit   float64
	TotalLoss     float64
	CurrentProfit float64 // TotalProfit - TotalLoss
	WinRate       float64 // percent of closed trades with positive pnl

	// DailyBlockDate is the last UTC calendar day on which the daily-loss
	// limit was hit. It blocks new orders only for that exact day.
	DailyBlockDate *time.Time

	// ResultReason records why a terminal transition happened.
	ResultReason string
}

// BlockedOn reports whether the daily block applies on the given day. The
// comparison is by UTC calendar date; a block set yesterday has no effect
// today.
func (s ChallengeStats) BlockedOn(day time.Time) bool {
	if s.DailyBlockDate == nil {
		return false
	}
	by, bm, bd := s.DailyBlockDate.UTC().Date()
	ny, nm, nd := day.UTC().Date()
	return by == ny && bm == nm && bd == nd
}

// Account is a single trader's paper-money account. All mutations go through
// the engine under the account lock.
type Account struct {
	ID           string
	PaperBalance float64 // display currency units
	TemplateID   string  // empty when no challenge has been started
	Stats        ChallengeStats
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
