package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/propgate/propsim/internal/domain"
)

// engineEvent is the JSON shape the engine publishes on the "challenges" and
// "positions" channels.
type engineEvent struct {
	Event      string  `json:"event"`
	AccountID  string  `json:"account_id"`
	PositionID string  `json:"position_id"`
	Symbol     string  `json:"symbol"`
	Reason     string  `json:"reason"`
	Profit     float64 `json:"profit"`
	Pnl        float64 `json:"realized_pnl"`
	ExitPrice  float64 `json:"exit_price"`
}

// Bridge subscribes to the engine's event channels and forwards the
// interesting ones to the Notifier. It is the only consumer that turns bus
// payloads into operator-facing messages.
type Bridge struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewBridge creates a Bridge.
func NewBridge(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Bridge {
	return &Bridge{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_bridge")),
	}
}

// Run consumes the "challenges" and "positions" channels until the context is
// cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	challenges, err := b.bus.Subscribe(ctx, "challenges")
	if err != nil {
		return fmt.Errorf("notify: subscribe challenges: %w", err)
	}
	positions, err := b.bus.Subscribe(ctx, "positions")
	if err != nil {
		return fmt.Errorf("notify: subscribe positions: %w", err)
	}

	b.logger.Info("notify bridge started")
	defer b.logger.Info("notify bridge stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-challenges:
			if !ok {
				return nil
			}
			b.handle(ctx, data)
		case data, ok := <-positions:
			if !ok {
				return nil
			}
			b.handle(ctx, data)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, data []byte) {
	var ev engineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		b.logger.DebugContext(ctx, "notify: bad event payload",
			slog.Int("payload_len", len(data)),
		)
		return
	}

	var title, message string
	switch ev.Event {
	case "challenge_passed":
		title = "Challenge passed"
		message = fmt.Sprintf("Account %s passed its challenge with %.2f profit.", ev.AccountID, ev.Profit)
	case "challenge_failed":
		title = "Challenge failed"
		message = fmt.Sprintf("Account %s failed its challenge: %s.", ev.AccountID, ev.Reason)
	case "daily_block_set":
		title = "Daily loss limit hit"
		message = fmt.Sprintf("Account %s is blocked from trading for the rest of the day.", ev.AccountID)
	case "position_closed":
		if ev.Reason != string(domain.CloseStopLoss) && ev.Reason != string(domain.CloseTakeProfit) {
			return
		}
		title = "Protective close"
		message = fmt.Sprintf("Account %s: %s closed %s at %.4f, pnl %.2f.",
			ev.AccountID, ev.Reason, ev.Symbol, ev.ExitPrice, ev.Pnl)
	default:
		return
	}

	if err := b.notifier.Notify(ctx, ev.Event, title, message); err != nil {
		b.logger.WarnContext(ctx, "notify: dispatch failed",
			slog.String("event", ev.Event),
			slog.String("error", err.Error()),
		)
	}
}
