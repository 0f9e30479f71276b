package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propgate/propsim/internal/domain"
)

type engineFixture struct {
	engine    *Engine
	ledger    *Ledger
	accounts  *memAccounts
	templates *memTemplates
	positions *memPositions
	history   *memHistory
	quotes    *memQuotes
	audit     *memAudit
	bus       *memBus
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()

	f := &engineFixture{
		accounts:  newMemAccounts(),
		templates: newMemTemplates(),
		positions: newMemPositions(),
		history:   newMemHistory(),
		quotes:    newMemQuotes(),
		audit:     newMemAudit(),
		bus:       newMemBus(),
	}
	f.ledger = NewLedger(f.positions, f.history, testLogger())
	f.engine = New(f.accounts, f.templates, f.ledger, f.history, f.quotes, f.audit, f.bus, Config{
		DollarRate:         90,
		AutoStopLossFrac:   0.30,
		AutoTakeProfitFrac: 0.60,
		DefaultQuotes:      map[string]float64{"BTCUSDT": 90000},
	}, testLogger())

	require.NoError(t, f.templates.Upsert(ctx, baseTemplate()))
	require.NoError(t, f.accounts.Create(ctx, domain.Account{
		ID:           "acc-1",
		PaperBalance: 20000,
		TemplateID:   "tpl-20k",
		Stats:        domain.ChallengeStats{Status: domain.ChallengeActive},
	}))
	require.NoError(t, f.quotes.SetQuote(ctx, domain.Quote{
		Symbol: "BTCUSDT", Price: 90000, ObservedAt: time.Now().UTC(),
	}))
	return f
}

// seedPosition opens a long through the ledger, bypassing validation.
func (f *engineFixture) seedPosition(t *testing.T, sl, tp *float64) domain.Position {
	t.Helper()
	pos, err := f.ledger.Open(context.Background(), domain.Position{
		AccountID:  "acc-1",
		Symbol:     "BTCUSDT",
		Side:       domain.SideLong,
		Size:       0.001,
		Leverage:   10,
		EntryPrice: 90000,
		StopLoss:   sl,
		TakeProfit: tp,
		MarginUsed: 9,
	})
	require.NoError(t, err)
	return pos
}

func (f *engineFixture) account(t *testing.T) domain.Account {
	t.Helper()
	acc, err := f.accounts.GetByID(context.Background(), "acc-1")
	require.NoError(t, err)
	return acc
}

func TestStartChallenge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	require.NoError(t, f.accounts.Create(ctx, domain.Account{ID: "acc-2"}))

	acc, err := f.engine.StartChallenge(ctx, "acc-2", "tpl-20k")
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeActive, acc.Stats.Status)
	assert.Equal(t, "tpl-20k", acc.TemplateID)
	assert.InDelta(t, 20000.0, acc.PaperBalance, 1e-9)
	require.NotNil(t, acc.Stats.StartDate)

	_, err = f.engine.StartChallenge(ctx, "acc-2", "tpl-20k")
	assert.ErrorIs(t, err, domain.ErrChallengeActive)

	_, err = f.engine.StartChallenge(ctx, "acc-2", "tpl-missing")
	assert.Error(t, err)
}

func TestPlaceOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("accepts and fills auto stops", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		pos, err := f.engine.PlaceOrder(ctx, OrderRequest{
			AccountID: "acc-1",
			Symbol:    "BTCUSDT",
			Side:      domain.SideLong,
			Size:      0.001,
			Leverage:  10,
		})
		require.NoError(t, err)
		assert.InDelta(t, 90000.0, pos.EntryPrice, 1e-9)
		assert.InDelta(t, 9.0, pos.MarginUsed, 1e-9)
		require.NotNil(t, pos.StopLoss)
		assert.InDelta(t, 89730.0, *pos.StopLoss, 1e-6)
		require.NotNil(t, pos.TakeProfit)
		assert.InDelta(t, 90540.0, *pos.TakeProfit, 1e-6)

		open, err := f.ledger.OpenPositions(ctx, "acc-1")
		require.NoError(t, err)
		assert.Len(t, open, 1)
		assert.Len(t, f.history.byStatus(domain.HistoryOpen), 1)
	})

	t.Run("keeps explicit stops", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		pos, err := f.engine.PlaceOrder(ctx, OrderRequest{
			AccountID:  "acc-1",
			Symbol:     "BTCUSDT",
			Side:       domain.SideLong,
			Size:       0.001,
			Leverage:   10,
			StopLoss:   fptr(89000),
			TakeProfit: fptr(92000),
		})
		require.NoError(t, err)
		assert.InDelta(t, 89000.0, *pos.StopLoss, 1e-9)
		assert.InDelta(t, 92000.0, *pos.TakeProfit, 1e-9)
	})

	t.Run("rejection is audited and opens nothing", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.engine.PlaceOrder(ctx, OrderRequest{
			AccountID: "acc-1",
			Symbol:    "BTCUSDT",
			Side:      domain.SideLong,
			Size:      0.001,
			Leverage:  50,
		})
		requireReject(t, err, domain.RejectLeverageExceeded)
		assert.Contains(t, f.audit.events, "order_rejected")
		assert.Empty(t, f.history.byStatus(domain.HistoryOpen))
	})

	t.Run("falls back to configured default quote", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		delete(f.quotes.quotes, "BTCUSDT")

		pos, err := f.engine.PlaceOrder(ctx, OrderRequest{
			AccountID: "acc-1",
			Symbol:    "BTCUSDT",
			Side:      domain.SideLong,
			Size:      0.001,
			Leverage:  10,
		})
		require.NoError(t, err)
		assert.InDelta(t, 90000.0, pos.EntryPrice, 1e-9)
	})

	t.Run("unknown symbol without fallback fails", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, err := f.engine.PlaceOrder(ctx, OrderRequest{
			AccountID: "acc-1",
			Symbol:    "DOGEUSDT",
			Side:      domain.SideLong,
			Size:      1,
			Leverage:  2,
		})
		assert.ErrorIs(t, err, domain.ErrFeedUnavailable)
	})
}

func TestClosePosition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("profit settles into balance", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		pos := f.seedPosition(t, nil, nil)
		require.NoError(t, f.quotes.SetQuote(ctx, domain.Quote{Symbol: "BTCUSDT", Price: 91000}))

		entry, err := f.engine.ClosePosition(ctx, "acc-1", pos.ID, domain.CloseManual)
		require.NoError(t, err)
		assert.InDelta(t, 10.0, entry.RealizedPnL, 1e-9)

		acc := f.account(t)
		assert.InDelta(t, 20900.0, acc.PaperBalance, 1e-6)
		assert.Equal(t, 1, acc.Stats.TradesCount)
		assert.Equal(t, 1, acc.Stats.WinsCount)
		assert.Equal(t, domain.ChallengeActive, acc.Stats.Status)
	})

	t.Run("flat close leaves balance unchanged", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		pos := f.seedPosition(t, nil, nil)

		entry, err := f.engine.ClosePosition(ctx, "acc-1", pos.ID, domain.CloseManualChart)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, entry.RealizedPnL, 1e-9)
		assert.Equal(t, domain.CloseManualChart, entry.CloseReason)

		acc := f.account(t)
		assert.InDelta(t, 20000.0, acc.PaperBalance, 1e-6)
		assert.Equal(t, 1, acc.Stats.TradesCount)
		assert.Equal(t, 0, acc.Stats.WinsCount)
	})

	t.Run("loss past daily limit blocks new orders for the day", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		pos := f.seedPosition(t, nil, nil)
		require.NoError(t, f.quotes.SetQuote(ctx, domain.Quote{Symbol: "BTCUSDT", Price: 88900}))

		// -11 on 222.22 of capital is a 4.95% daily loss, over the 4% limit.
		entry, err := f.engine.ClosePosition(ctx, "acc-1", pos.ID, domain.CloseManual)
		require.NoError(t, err)
		assert.InDelta(t, -11.0, entry.RealizedPnL, 1e-9)

		acc := f.account(t)
		assert.InDelta(t, 19010.0, acc.PaperBalance, 1e-6)
		assert.Equal(t, domain.ChallengeActive, acc.Stats.Status)
		require.NotNil(t, acc.Stats.DailyBlockDate)
		assert.True(t, acc.Stats.BlockedOn(time.Now()))

		_, err = f.engine.PlaceOrder(ctx, OrderRequest{
			AccountID: "acc-1",
			Symbol:    "BTCUSDT",
			Side:      domain.SideLong,
			Size:      0.001,
			Leverage:  10,
		})
		requireReject(t, err, domain.RejectDailyBlockActive)
	})

	t.Run("cumulative loss past max fails the challenge at the close", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		first := f.seedPosition(t, nil, nil)
		second := f.seedPosition(t, nil, nil)
		require.NoError(t, f.quotes.SetQuote(ctx, domain.Quote{Symbol: "BTCUSDT", Price: 88900}))

		_, err := f.engine.ClosePosition(ctx, "acc-1", first.ID, domain.CloseManual)
		require.NoError(t, err)
		assert.Equal(t, domain.ChallengeActive, f.account(t).Stats.Status)

		// Second -11 brings total loss to 22, a 9.9% drawdown over the 8% max.
		_, err = f.engine.ClosePosition(ctx, "acc-1", second.ID, domain.CloseManual)
		require.NoError(t, err)

		acc := f.account(t)
		assert.Equal(t, domain.ChallengeFailed, acc.Stats.Status)
		assert.Equal(t, "max loss limit reached", acc.Stats.ResultReason)

		_, err = f.engine.PlaceOrder(ctx, OrderRequest{
			AccountID: "acc-1",
			Symbol:    "BTCUSDT",
			Side:      domain.SideLong,
			Size:      0.001,
			Leverage:  10,
		})
		requireReject(t, err, domain.RejectChallengeNotActive)
	})

	t.Run("profit target passes the challenge", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		pos := f.seedPosition(t, nil, nil)
		require.NoError(t, f.quotes.SetQuote(ctx, domain.Quote{Symbol: "BTCUSDT", Price: 92500}))

		// +25 on 222.22 of capital is 11.25%, over the 10% target.
		_, err := f.engine.ClosePosition(ctx, "acc-1", pos.ID, domain.CloseManual)
		require.NoError(t, err)

		acc := f.account(t)
		assert.Equal(t, domain.ChallengePassed, acc.Stats.Status)
		assert.Equal(t, "profit target reached", acc.Stats.ResultReason)
		assert.InDelta(t, 22250.0, acc.PaperBalance, 1e-6)
	})

	t.Run("another account's position reads as not found", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		pos := f.seedPosition(t, nil, nil)
		require.NoError(t, f.accounts.Create(ctx, domain.Account{
			ID:           "acc-2",
			PaperBalance: 20000,
			TemplateID:   "tpl-20k",
			Stats:        domain.ChallengeStats{Status: domain.ChallengeActive},
		}))
		require.NoError(t, f.quotes.SetQuote(ctx, domain.Quote{Symbol: "BTCUSDT", Price: 91000}))

		_, err := f.engine.ClosePosition(ctx, "acc-2", pos.ID, domain.CloseManual)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		// Neither account settles anything and the position stays open.
		owner := f.account(t)
		assert.InDelta(t, 20000.0, owner.PaperBalance, 1e-6)
		assert.Equal(t, 0, owner.Stats.TradesCount)

		other, err := f.accounts.GetByID(ctx, "acc-2")
		require.NoError(t, err)
		assert.InDelta(t, 20000.0, other.PaperBalance, 1e-6)
		assert.Equal(t, 0, other.Stats.TradesCount)

		_, err = f.positions.GetByID(ctx, pos.ID)
		assert.NoError(t, err)
	})

	t.Run("double close is already closed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		pos := f.seedPosition(t, nil, nil)

		_, err := f.engine.ClosePosition(ctx, "acc-1", pos.ID, domain.CloseManual)
		require.NoError(t, err)
		_, err = f.engine.ClosePosition(ctx, "acc-1", pos.ID, domain.CloseManual)
		assert.ErrorIs(t, err, domain.ErrAlreadyClosed)

		acc := f.account(t)
		assert.Equal(t, 1, acc.Stats.TradesCount)
	})
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	pos := f.seedPosition(t, nil, nil)

	require.NoError(t, f.engine.CancelOrder(ctx, "acc-1", pos.ID))

	acc := f.account(t)
	assert.InDelta(t, 20000.0, acc.PaperBalance, 1e-6)
	assert.Equal(t, 0, acc.Stats.TradesCount)
	assert.Len(t, f.history.byStatus(domain.HistoryCancelled), 1)

	assert.ErrorIs(t, f.engine.CancelOrder(ctx, "acc-1", pos.ID), domain.ErrAlreadyClosed)

	other := f.seedPosition(t, nil, nil)
	assert.ErrorIs(t, f.engine.CancelOrder(ctx, "acc-2", other.ID), domain.ErrNotFound)
}

func TestUpdateStopTake(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	pos := f.seedPosition(t, fptr(89000), fptr(92000))

	require.NoError(t, f.engine.UpdateStopTake(ctx, "acc-1", pos.ID, fptr(89500), fptr(91000)))
	assert.ErrorIs(t, f.engine.UpdateStopTake(ctx, "acc-1", pos.ID, fptr(88000), nil), domain.ErrRiskIncrease)
	assert.ErrorIs(t, f.engine.UpdateStopTake(ctx, "acc-2", pos.ID, fptr(89600), nil), domain.ErrNotFound)
	assert.Contains(t, f.audit.events, "stops_updated")
}

func TestGetSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := newFixture(t)
	f.seedPosition(t, nil, nil)
	require.NoError(t, f.quotes.SetQuote(ctx, domain.Quote{Symbol: "BTCUSDT", Price: 91000}))

	snap, err := f.engine.GetSnapshot(ctx, "acc-1")
	require.NoError(t, err)

	assert.InDelta(t, 20000.0, snap.Account.PaperBalance, 1e-6)
	assert.InDelta(t, 20900.0, snap.Equity, 1e-6) // +10 unrealized at rate 90
	assert.InDelta(t, 20000.0/90-9, snap.AvailableFunds, 1e-6)
	require.Len(t, snap.OpenPositions, 1)
	assert.InDelta(t, 91000.0, snap.OpenPositions[0].CurrentPrice, 1e-9)
	assert.InDelta(t, 10.0, snap.OpenPositions[0].UnrealizedPnL, 1e-9)
}
