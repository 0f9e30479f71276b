package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/propgate/propsim/internal/domain"
)

// Config holds the engine tunables.
type Config struct {
	// DollarRate converts the display-currency paper balance into trading
	// capital (quote currency).
	DollarRate float64

	// AutoStopLossFrac / AutoTakeProfitFrac are the fractions of margin
	// risked / rewarded used for default protective levels when the caller
	// supplies none.
	AutoStopLossFrac   float64
	AutoTakeProfitFrac float64

	// DefaultQuotes are fallback prices per symbol, used when the feed and
	// the quote cache both have nothing. Without a fallback the request
	// fails with ErrFeedUnavailable.
	DefaultQuotes map[string]float64
}

// Engine is the facade over the validator, ledger, and challenge state
// machine. Every mutation of an account's positions, stats, or balance runs
// under that account's lock; the lock is never held across a feed await.
type Engine struct {
	accounts  domain.AccountStore
	templates domain.TemplateStore
	ledger    *Ledger
	history   domain.HistoryStore
	quotes    domain.QuoteCache
	audit     domain.AuditStore
	bus       domain.SignalBus
	cfg       Config
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Engine with all required dependencies.
func New(
	accounts domain.AccountStore,
	templates domain.TemplateStore,
	ledger *Ledger,
	history domain.HistoryStore,
	quotes domain.QuoteCache,
	audit domain.AuditStore,
	bus domain.SignalBus,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	if cfg.DollarRate <= 0 {
		cfg.DollarRate = 1
	}
	if cfg.AutoStopLossFrac <= 0 {
		cfg.AutoStopLossFrac = 0.30
	}
	if cfg.AutoTakeProfitFrac <= 0 {
		cfg.AutoTakeProfitFrac = 0.60
	}
	return &Engine{
		accounts:  accounts,
		templates: templates,
		ledger:    ledger,
		history:   history,
		quotes:    quotes,
		audit:     audit,
		bus:       bus,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "engine")),
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockAccount serializes all mutation for one account. The returned unlock
// must be called on every exit path.
func (e *Engine) lockAccount(accountID string) func() {
	e.mu.Lock()
	l, ok := e.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[accountID] = l
	}
	e.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// StartChallenge activates a challenge from the template catalog for an
// account that has none running.
func (e *Engine) StartChallenge(ctx context.Context, accountID, templateID string) (domain.Account, error) {
	unlock := e.lockAccount(accountID)
	defer unlock()

	acc, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return domain.Account{}, fmt.Errorf("engine: get account %s: %w", accountID, err)
	}
	if acc.Stats.Status == domain.ChallengeActive {
		return domain.Account{}, fmt.Errorf("engine: account %s: %w", accountID, domain.ErrChallengeActive)
	}

	tpl, err := e.templates.GetByID(ctx, templateID)
	if err != nil {
		return domain.Account{}, fmt.Errorf("engine: get template %s: %w", templateID, err)
	}

	now := time.Now().UTC()
	acc.TemplateID = tpl.ID
	acc.PaperBalance = tpl.PaperBalance
	acc.Stats = domain.ChallengeStats{
		Status:    domain.ChallengeActive,
		StartDate: &now,
	}
	acc.UpdatedAt = now

	if err := e.accounts.Update(ctx, acc); err != nil {
		return domain.Account{}, fmt.Errorf("engine: update account %s: %w", accountID, err)
	}

	e.auditLog(ctx, "challenge_started", map[string]any{
		"account_id":  accountID,
		"template_id": tpl.ID,
		"balance":     tpl.PaperBalance,
	})
	e.publish(ctx, "challenges", map[string]any{
		"event":       "challenge_started",
		"account_id":  accountID,
		"template_id": tpl.ID,
	})
	return acc, nil
}

// PlaceOrder validates and opens a position. The quote is read before the
// lock is taken; validation and the ledger write happen atomically under it.
func (e *Engine) PlaceOrder(ctx context.Context, req OrderRequest) (domain.Position, error) {
	quote, err := e.quoteFor(ctx, req.Symbol)
	if err != nil {
		return domain.Position{}, err
	}

	unlock := e.lockAccount(req.AccountID)
	defer unlock()

	acc, err := e.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("engine: get account %s: %w", req.AccountID, err)
	}

	var tpl domain.ChallengeTemplate
	hasTemplate := acc.TemplateID != ""
	if hasTemplate {
		tpl, err = e.templates.GetByID(ctx, acc.TemplateID)
		if err != nil {
			return domain.Position{}, fmt.Errorf("engine: get template %s: %w", acc.TemplateID, err)
		}
	}

	open, err := e.ledger.OpenPositions(ctx, req.AccountID)
	if err != nil {
		return domain.Position{}, err
	}

	metrics, err := e.lossMetrics(ctx, acc, tpl)
	if err != nil {
		return domain.Position{}, err
	}

	if err := Validate(ValidateInput{
		Account:       acc,
		Template:      tpl,
		HasTemplate:   hasTemplate,
		OpenPositions: open,
		Quote:         quote,
		Order:         req,
		DailyLossPct:  metrics.DailyLossPct,
		TotalLossPct:  metrics.TotalLossPct,
		DollarRate:    e.cfg.DollarRate,
		Now:           time.Now(),
	}); err != nil {
		if ve, ok := domain.AsValidation(err); ok {
			e.auditLog(ctx, "order_rejected", map[string]any{
				"account_id": req.AccountID,
				"symbol":     req.Symbol,
				"reason":     string(ve.Reason),
			})
		}
		return domain.Position{}, err
	}

	margin := Margin(quote.Price, req.Size, req.Leverage)
	pos := domain.Position{
		AccountID:  req.AccountID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       req.Size,
		Leverage:   req.Leverage,
		EntryPrice: quote.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		MarginUsed: margin,
	}
	if pos.StopLoss == nil {
		sl := AutoStopLoss(margin, pos.Side, pos.EntryPrice, pos.Size, pos.Leverage, e.cfg.AutoStopLossFrac)
		pos.StopLoss = &sl
	}
	if pos.TakeProfit == nil {
		tp := AutoTakeProfit(margin, pos.Side, pos.EntryPrice, pos.Size, pos.Leverage, e.cfg.AutoTakeProfitFrac)
		pos.TakeProfit = &tp
	}

	pos, err = e.ledger.Open(ctx, pos)
	if err != nil {
		return domain.Position{}, err
	}

	e.auditLog(ctx, "position_opened", map[string]any{
		"account_id":  req.AccountID,
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice,
		"margin_used": pos.MarginUsed,
	})
	e.publish(ctx, "positions", map[string]any{
		"event":       "position_opened",
		"account_id":  req.AccountID,
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice,
		"size":        pos.Size,
		"leverage":    pos.Leverage,
	})
	return pos, nil
}

// ClosePosition realizes pnl at the latest quote and runs the challenge-rule
// evaluation in the same locked section that recorded the close. Racing
// closes on the same position are benign: the loser gets ErrAlreadyClosed.
func (e *Engine) ClosePosition(ctx context.Context, accountID, positionID string, reason domain.CloseReason) (domain.OrderHistoryEntry, error) {
	pos, err := e.ledger.positions.GetByID(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OrderHistoryEntry{}, domain.ErrAlreadyClosed
		}
		return domain.OrderHistoryEntry{}, fmt.Errorf("engine: get position %s: %w", positionID, err)
	}
	if pos.AccountID != accountID {
		return domain.OrderHistoryEntry{}, domain.ErrNotFound
	}
	quote, err := e.quoteFor(ctx, pos.Symbol)
	if err != nil {
		return domain.OrderHistoryEntry{}, err
	}
	return e.closeAt(ctx, accountID, positionID, quote.Price, reason)
}

// closeAt is the locked close path shared by manual closes and the risk
// monitor. The exit price is fixed before the lock is taken.
func (e *Engine) closeAt(ctx context.Context, accountID, positionID string, exitPrice float64, reason domain.CloseReason) (domain.OrderHistoryEntry, error) {
	unlock := e.lockAccount(accountID)
	defer unlock()

	entry, err := e.ledger.Close(ctx, accountID, positionID, exitPrice, reason)
	if err != nil {
		return domain.OrderHistoryEntry{}, err
	}

	acc, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return domain.OrderHistoryEntry{}, fmt.Errorf("engine: get account %s: %w", accountID, err)
	}
	tpl, err := e.templates.GetByID(ctx, acc.TemplateID)
	if err != nil {
		return domain.OrderHistoryEntry{}, fmt.Errorf("engine: get template %s: %w", acc.TemplateID, err)
	}

	acc.PaperBalance += entry.RealizedPnL * e.cfg.DollarRate
	recordClose(&acc.Stats, entry.RealizedPnL)

	metrics, err := e.lossMetrics(ctx, acc, tpl)
	if err != nil {
		return domain.OrderHistoryEntry{}, err
	}

	now := time.Now()
	transition := EvaluateChallenge(&acc.Stats, tpl, metrics, now)
	acc.UpdatedAt = now.UTC()

	if err := e.accounts.Update(ctx, acc); err != nil {
		return domain.OrderHistoryEntry{}, fmt.Errorf("engine: update account %s: %w", accountID, err)
	}

	e.auditLog(ctx, "position_closed", map[string]any{
		"account_id":   accountID,
		"position_id":  positionID,
		"reason":       string(reason),
		"exit_price":   exitPrice,
		"realized_pnl": entry.RealizedPnL,
	})
	e.publish(ctx, "positions", map[string]any{
		"event":        "position_closed",
		"account_id":   accountID,
		"position_id":  positionID,
		"symbol":       entry.Symbol,
		"reason":       string(reason),
		"exit_price":   exitPrice,
		"realized_pnl": entry.RealizedPnL,
	})

	switch transition {
	case TransitionFailed, TransitionPassed:
		e.auditLog(ctx, "challenge_"+string(transition), map[string]any{
			"account_id": accountID,
			"reason":     acc.Stats.ResultReason,
		})
		e.publish(ctx, "challenges", map[string]any{
			"event":      "challenge_" + string(transition),
			"account_id": accountID,
			"reason":     acc.Stats.ResultReason,
			"profit":     acc.Stats.CurrentProfit,
		})
	case TransitionDailyBlock:
		e.auditLog(ctx, "daily_block_set", map[string]any{
			"account_id": accountID,
			"day":        acc.Stats.DailyBlockDate.Format("2006-01-02"),
		})
		e.publish(ctx, "challenges", map[string]any{
			"event":      "daily_block_set",
			"account_id": accountID,
			"day":        acc.Stats.DailyBlockDate.Format("2006-01-02"),
		})
	}

	return entry, nil
}

// CancelOrder removes a position without realizing pnl.
func (e *Engine) CancelOrder(ctx context.Context, accountID, positionID string) error {
	unlock := e.lockAccount(accountID)
	defer unlock()

	entry, err := e.ledger.Cancel(ctx, accountID, positionID)
	if err != nil {
		return err
	}

	e.auditLog(ctx, "position_cancelled", map[string]any{
		"account_id":  accountID,
		"position_id": entry.PositionID,
	})
	e.publish(ctx, "positions", map[string]any{
		"event":       "position_cancelled",
		"account_id":  accountID,
		"position_id": entry.PositionID,
	})
	return nil
}

// UpdateStopTake edits the protective levels of an open position under the
// account lock, enforcing the monotonic stop-loss tightening rule.
func (e *Engine) UpdateStopTake(ctx context.Context, accountID, positionID string, stopLoss, takeProfit *float64) error {
	unlock := e.lockAccount(accountID)
	defer unlock()

	if err := e.ledger.UpdateStops(ctx, accountID, positionID, stopLoss, takeProfit); err != nil {
		return err
	}

	e.auditLog(ctx, "stops_updated", map[string]any{
		"account_id":  accountID,
		"position_id": positionID,
	})
	return nil
}

// OpenPositionView is a position decorated with live pricing for snapshots.
type OpenPositionView struct {
	domain.Position
	CurrentPrice  float64
	UnrealizedPnL float64
}

// Snapshot is the UI-facing view of one account: balance, live equity,
// remaining margin capacity, and the open positions.
type Snapshot struct {
	Account        domain.Account
	Equity         float64
	AvailableFunds float64
	OpenPositions  []OpenPositionView
}

// GetSnapshot returns balance, equity, open positions with live unrealized
// pnl, and challenge stats for one account.
func (e *Engine) GetSnapshot(ctx context.Context, accountID string) (Snapshot, error) {
	acc, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("engine: get account %s: %w", accountID, err)
	}

	open, err := e.ledger.OpenPositions(ctx, accountID)
	if err != nil {
		return Snapshot{}, err
	}

	symbols := make([]string, 0, len(open))
	for _, pos := range open {
		symbols = append(symbols, pos.Symbol)
	}
	quotes, err := e.quotes.GetQuotes(ctx, symbols)
	if err != nil {
		e.logger.WarnContext(ctx, "engine: quote lookup failed for snapshot",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		quotes = map[string]domain.Quote{}
	}

	capital := acc.PaperBalance / e.cfg.DollarRate
	var used float64
	views := make([]OpenPositionView, 0, len(open))
	for _, pos := range open {
		used += pos.MarginUsed
		view := OpenPositionView{Position: pos}
		if q, ok := quotes[pos.Symbol]; ok {
			view.CurrentPrice = q.Price
			view.UnrealizedPnL = UnrealizedPnL(pos, q.Price)
		}
		views = append(views, view)
	}

	return Snapshot{
		Account:        acc,
		Equity:         acc.PaperBalance + (Equity(0, open, quotes) * e.cfg.DollarRate),
		AvailableFunds: capital - used,
		OpenPositions:  views,
	}, nil
}

// lossMetrics recomputes the challenge-rule percentages from the full
// order-history log. Percentages are relative to the template's starting
// capital in quote currency. Must be called under the account lock when the
// result feeds a transition.
func (e *Engine) lossMetrics(ctx context.Context, acc domain.Account, tpl domain.ChallengeTemplate) (LossMetrics, error) {
	if tpl.PaperBalance <= 0 {
		return LossMetrics{}, nil
	}
	capital := tpl.PaperBalance / e.cfg.DollarRate

	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
	dailyLoss, err := e.history.RealizedLosses(ctx, acc.ID, startOfDay)
	if err != nil {
		return LossMetrics{}, fmt.Errorf("engine: daily losses for %s: %w", acc.ID, err)
	}
	totalLoss, err := e.history.RealizedLosses(ctx, acc.ID, time.Time{})
	if err != nil {
		return LossMetrics{}, fmt.Errorf("engine: total losses for %s: %w", acc.ID, err)
	}
	totalProfit, err := e.history.RealizedProfits(ctx, acc.ID, time.Time{})
	if err != nil {
		return LossMetrics{}, fmt.Errorf("engine: total profits for %s: %w", acc.ID, err)
	}

	return LossMetrics{
		DailyLossPct:   dailyLoss / capital * 100,
		TotalLossPct:   totalLoss / capital * 100,
		TotalProfitPct: (totalProfit - totalLoss) / capital * 100,
	}, nil
}

// quoteFor reads the latest completed quote, falling back to the configured
// default price when the cache has nothing for the symbol.
func (e *Engine) quoteFor(ctx context.Context, symbol string) (domain.Quote, error) {
	q, err := e.quotes.GetQuote(ctx, symbol)
	if err == nil {
		return q, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		e.logger.WarnContext(ctx, "engine: quote cache read failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
	if price, ok := e.cfg.DefaultQuotes[symbol]; ok {
		return domain.Quote{Symbol: symbol, Price: price, ObservedAt: time.Now().UTC()}, nil
	}
	return domain.Quote{}, domain.ErrFeedUnavailable
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "engine: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Engine) publish(ctx context.Context, channel string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, channel, data); err != nil {
		e.logger.WarnContext(ctx, "engine: publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
