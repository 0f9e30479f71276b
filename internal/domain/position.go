package domain

import "time"

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Sign returns +1 for long positions and -1 for short positions.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// CloseReason records what triggered a position closure.
type CloseReason string

const (
	CloseManual      CloseReason = "MANUAL"
	CloseManualChart CloseReason = "MANUAL_CHART"
	CloseStopLoss    CloseReason = "STOP_LOSS"
	CloseTakeProfit  CloseReason = "TAKE_PROFIT"
)

// Position is an open leveraged trade. Positions exist only while open; on
// close or cancel they are removed and an OrderHistoryEntry is appended.
type Position struct {
	ID         string
	AccountID  string
	Symbol     string
	Side       Side
	Size       float64 // > 0
	Leverage   int     // >= 1, <= template.MaxLeverage
	EntryPrice float64 // > 0
	StopLoss   *float64
	TakeProfit *float64
	MarginUsed float64 // EntryPrice * Size / Leverage, quote currency
	OpenedAt   time.Time
}

// HistoryStatus is the lifecycle state captured by a history entry.
type HistoryStatus string

const (
	HistoryOpen      HistoryStatus = "OPEN"
	HistoryClosed    HistoryStatus = "CLOSED"
	HistoryCancelled HistoryStatus = "CANCELLED"
)

// OrderHistoryEntry is an immutable snapshot of a position at a lifecycle
// transition. Entries are append-only and never mutated once written.
type OrderHistoryEntry struct {
	ID          string
	PositionID  string
	AccountID   string
	Symbol      string
	Side        Side
	Size        float64
	Leverage    int
	EntryPrice  float64
	ExitPrice   *float64
	StopLoss    *float64
	TakeProfit  *float64
	MarginUsed  float64
	RealizedPnL float64 // quote currency; zero for OPEN and CANCELLED entries
	Status      HistoryStatus
	CloseReason CloseReason // empty for OPEN entries
	OpenedAt    time.Time
	ClosedAt    *time.Time
}

// Quote is the latest observed price for an instrument. The feed adapter is
// the sole writer; only the most recent quote per symbol is retained.
type Quote struct {
	Symbol     string
	Price      float64
	ObservedAt time.Time
}
