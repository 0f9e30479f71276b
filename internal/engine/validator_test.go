package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propgate/propsim/internal/domain"
)

func baseTemplate() domain.ChallengeTemplate {
	return domain.ChallengeTemplate{
		ID:                "tpl-20k",
		Name:              "20K Challenge",
		PaperBalance:      20000,
		ProfitTargetPct:   10,
		DailyLossLimitPct: 4,
		MaxLossLimitPct:   8,
		MaxOrderSizePct:   20,
		MaxLeverage:       10,
	}
}

func baseInput() ValidateInput {
	return ValidateInput{
		Account: domain.Account{
			ID:           "acc-1",
			PaperBalance: 20000,
			TemplateID:   "tpl-20k",
			Stats:        domain.ChallengeStats{Status: domain.ChallengeActive},
		},
		Template:    baseTemplate(),
		HasTemplate: true,
		Quote:       domain.Quote{Symbol: "BTCUSDT", Price: 90000},
		Order: OrderRequest{
			AccountID: "acc-1",
			Symbol:    "BTCUSDT",
			Side:      domain.SideLong,
			Size:      0.001,
			Leverage:  10,
		},
		DollarRate: 90,
		Now:        time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}
}

func requireReject(t *testing.T, err error, want domain.RejectReason) {
	t.Helper()
	require.Error(t, err)
	ve, ok := domain.AsValidation(err)
	require.True(t, ok, "expected a validation error, got %v", err)
	assert.Equal(t, want, ve.Reason)
}

func TestValidateAccepts(t *testing.T) {
	t.Parallel()

	// 20000 balance at rate 90 gives 222.22 of capital; a 0.001 BTC order
	// at 90000 with 10x needs 9 of margin under a 44.44 cap.
	require.NoError(t, Validate(baseInput()))
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	t.Run("no challenge started", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		in.HasTemplate = false
		in.Account.TemplateID = ""
		in.Account.Stats = domain.ChallengeStats{Status: domain.ChallengeNotStarted}
		requireReject(t, Validate(in), domain.RejectChallengeInactive)
	})

	t.Run("terminal challenge", func(t *testing.T) {
		t.Parallel()
		for _, status := range []domain.ChallengeStatus{domain.ChallengePassed, domain.ChallengeFailed} {
			in := baseInput()
			in.Account.Stats.Status = status
			requireReject(t, Validate(in), domain.RejectChallengeNotActive)
		}
	})

	t.Run("daily block same day", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
		in.Account.Stats.DailyBlockDate = &day
		requireReject(t, Validate(in), domain.RejectDailyBlockActive)
	})

	t.Run("daily block lapses next day", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
		in.Account.Stats.DailyBlockDate = &day
		require.NoError(t, Validate(in))
	})

	t.Run("daily block respects UTC date not local", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
		in.Account.Stats.DailyBlockDate = &day
		// 01:00 on March 11 in UTC+2 is still March 10 in UTC.
		in.Now = time.Date(2026, 3, 11, 1, 0, 0, 0, time.FixedZone("EET", 2*3600))
		requireReject(t, Validate(in), domain.RejectDailyBlockActive)
	})

	t.Run("one trade at a time", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		in.Template.OneTradeAtTime = true
		in.OpenPositions = []domain.Position{{ID: "pos-1", AccountID: "acc-1"}}
		requireReject(t, Validate(in), domain.RejectOneTradeLimit)
	})

	t.Run("daily loss limit reached", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		in.DailyLossPct = 4.0
		requireReject(t, Validate(in), domain.RejectDailyLossLimitReached)
	})

	t.Run("max loss limit reached", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		in.TotalLossPct = 8.0
		requireReject(t, Validate(in), domain.RejectMaxLossLimitReached)
	})

	t.Run("no available funds", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		in.OpenPositions = []domain.Position{{MarginUsed: 250}}
		requireReject(t, Validate(in), domain.RejectInsufficientFunds)
	})

	t.Run("margin exceeds available", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		in.OpenPositions = []domain.Position{{MarginUsed: 220}}
		requireReject(t, Validate(in), domain.RejectInsufficientMargin)
	})

	t.Run("margin exceeds per-order cap", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		// margin 45 > cap 44.44 but well under available 222.22.
		in.Order.Size = 0.005
		requireReject(t, Validate(in), domain.RejectOrderSizeExceedsCap)
	})

	t.Run("leverage above template max", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		in.Order.Leverage = 20
		in.Order.Size = 0.0001
		requireReject(t, Validate(in), domain.RejectLeverageExceeded)
	})

	t.Run("first failure wins", func(t *testing.T) {
		t.Parallel()
		in := baseInput()
		in.Account.Stats.Status = domain.ChallengeFailed
		in.DailyLossPct = 10
		in.TotalLossPct = 10
		requireReject(t, Validate(in), domain.RejectChallengeNotActive)
	})
}
