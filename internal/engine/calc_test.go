package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/propgate/propsim/internal/domain"
)

func TestMargin(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 9.0, Margin(90000, 0.001, 10), 1e-9)
	assert.InDelta(t, 90.0, Margin(90000, 0.001, 1), 1e-9)
	assert.InDelta(t, 450.0, Margin(1800, 1, 4), 1e-9)
}

func TestUnrealizedPnL(t *testing.T) {
	t.Parallel()

	long := domain.Position{Side: domain.SideLong, Size: 0.001, Leverage: 10, EntryPrice: 90000}
	short := domain.Position{Side: domain.SideShort, Size: 0.001, Leverage: 10, EntryPrice: 90000}

	assert.InDelta(t, -11.0, UnrealizedPnL(long, 88900), 1e-9)
	assert.InDelta(t, 10.0, UnrealizedPnL(long, 91000), 1e-9)
	assert.InDelta(t, 11.0, UnrealizedPnL(short, 88900), 1e-9)
	assert.InDelta(t, -10.0, UnrealizedPnL(short, 91000), 1e-9)
	assert.InDelta(t, 0.0, UnrealizedPnL(long, 90000), 1e-9)
}

func TestEquity(t *testing.T) {
	t.Parallel()

	positions := []domain.Position{
		{Symbol: "BTCUSDT", Side: domain.SideLong, Size: 0.001, Leverage: 10, EntryPrice: 90000},
		{Symbol: "ETHUSDT", Side: domain.SideShort, Size: 0.1, Leverage: 5, EntryPrice: 3000},
	}
	quotes := map[string]domain.Quote{
		"BTCUSDT": {Symbol: "BTCUSDT", Price: 91000},
		"ETHUSDT": {Symbol: "ETHUSDT", Price: 2900},
	}

	// 1000 + 10 (long) + 50 (short gain).
	assert.InDelta(t, 1060.0, Equity(1000, positions, quotes), 1e-9)

	// A symbol with no quote contributes nothing.
	delete(quotes, "ETHUSDT")
	assert.InDelta(t, 1010.0, Equity(1000, positions, quotes), 1e-9)
}

func TestAutoStops(t *testing.T) {
	t.Parallel()

	margin := Margin(90000, 0.001, 10) // 9 USD

	t.Run("long", func(t *testing.T) {
		t.Parallel()

		sl := AutoStopLoss(margin, domain.SideLong, 90000, 0.001, 10, 0.30)
		tp := AutoTakeProfit(margin, domain.SideLong, 90000, 0.001, 10, 0.60)

		// Losing 30% of margin (2.7 USD) over size*leverage 0.01 is 270 of price.
		assert.InDelta(t, 89730.0, sl, 1e-6)
		assert.InDelta(t, 90540.0, tp, 1e-6)

		pos := domain.Position{Side: domain.SideLong, Size: 0.001, Leverage: 10, EntryPrice: 90000, StopLoss: &sl, TakeProfit: &tp}
		assert.InDelta(t, -2.7, UnrealizedPnL(pos, sl), 1e-6)
		assert.InDelta(t, 5.4, UnrealizedPnL(pos, tp), 1e-6)
	})

	t.Run("short mirrors", func(t *testing.T) {
		t.Parallel()

		sl := AutoStopLoss(margin, domain.SideShort, 90000, 0.001, 10, 0.30)
		tp := AutoTakeProfit(margin, domain.SideShort, 90000, 0.001, 10, 0.60)

		assert.InDelta(t, 90270.0, sl, 1e-6)
		assert.InDelta(t, 89460.0, tp, 1e-6)
	})
}

func TestHitPredicates(t *testing.T) {
	t.Parallel()

	long := domain.Position{Side: domain.SideLong, StopLoss: fptr(89000), TakeProfit: fptr(92000)}
	short := domain.Position{Side: domain.SideShort, StopLoss: fptr(92000), TakeProfit: fptr(89000)}

	assert.True(t, hitStopLoss(long, 88900))
	assert.True(t, hitStopLoss(long, 89000))
	assert.False(t, hitStopLoss(long, 89001))
	assert.True(t, hitTakeProfit(long, 92000))
	assert.False(t, hitTakeProfit(long, 91999))

	assert.True(t, hitStopLoss(short, 92100))
	assert.False(t, hitStopLoss(short, 91900))
	assert.True(t, hitTakeProfit(short, 88900))
	assert.False(t, hitTakeProfit(short, 89100))

	bare := domain.Position{Side: domain.SideLong}
	assert.False(t, hitStopLoss(bare, 1))
	assert.False(t, hitTakeProfit(bare, 1e9))
}
