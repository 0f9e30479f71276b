package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/propgate/propsim/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fptr(v float64) *float64 { return &v }

// memAccounts is an in-memory AccountStore.
type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: make(map[string]domain.Account)}
}

func (s *memAccounts) Create(_ context.Context, acc domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.ID] = acc
	return nil
}

func (s *memAccounts) Update(_ context.Context, acc domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[acc.ID]; !ok {
		return domain.ErrNotFound
	}
	s.accounts[acc.ID] = acc
	return nil
}

func (s *memAccounts) GetByID(_ context.Context, id string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return acc, nil
}

func (s *memAccounts) ListActive(_ context.Context) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Account
	for _, acc := range s.accounts {
		if acc.Stats.Status == domain.ChallengeActive {
			out = append(out, acc)
		}
	}
	return out, nil
}

// memTemplates is an in-memory TemplateStore.
type memTemplates struct {
	mu        sync.Mutex
	templates map[string]domain.ChallengeTemplate
}

func newMemTemplates() *memTemplates {
	return &memTemplates{templates: make(map[string]domain.ChallengeTemplate)}
}

func (s *memTemplates) Upsert(_ context.Context, tpl domain.ChallengeTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tpl.ID] = tpl
	return nil
}

func (s *memTemplates) GetByID(_ context.Context, id string) (domain.ChallengeTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[id]
	if !ok {
		return domain.ChallengeTemplate{}, domain.ErrNotFound
	}
	return tpl, nil
}

func (s *memTemplates) List(_ context.Context) ([]domain.ChallengeTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChallengeTemplate, 0, len(s.templates))
	for _, tpl := range s.templates {
		out = append(out, tpl)
	}
	return out, nil
}

// memPositions is an in-memory PositionStore.
type memPositions struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func newMemPositions() *memPositions {
	return &memPositions{positions: make(map[string]domain.Position)}
}

func (s *memPositions) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = pos
	return nil
}

func (s *memPositions) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.positions, id)
	return nil
}

func (s *memPositions) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositions) ListOpen(_ context.Context, accountID string) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, pos := range s.positions {
		if pos.AccountID == accountID {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *memPositions) UpdateStops(_ context.Context, id string, stopLoss, takeProfit *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	s.positions[id] = pos
	return nil
}

// memHistory is an in-memory HistoryStore.
type memHistory struct {
	mu      sync.Mutex
	entries []domain.OrderHistoryEntry
}

func newMemHistory() *memHistory { return &memHistory{} }

func (s *memHistory) Append(_ context.Context, entry domain.OrderHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memHistory) ListByAccount(_ context.Context, accountID string, _ domain.ListOpts) ([]domain.OrderHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderHistoryEntry
	for _, e := range s.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memHistory) RealizedLosses(_ context.Context, accountID string, since time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, e := range s.entries {
		if e.AccountID != accountID || e.Status != domain.HistoryClosed || e.RealizedPnL >= 0 {
			continue
		}
		if !since.IsZero() && (e.ClosedAt == nil || e.ClosedAt.Before(since)) {
			continue
		}
		sum += -e.RealizedPnL
	}
	return sum, nil
}

func (s *memHistory) RealizedProfits(_ context.Context, accountID string, since time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum float64
	for _, e := range s.entries {
		if e.AccountID != accountID || e.Status != domain.HistoryClosed || e.RealizedPnL <= 0 {
			continue
		}
		if !since.IsZero() && (e.ClosedAt == nil || e.ClosedAt.Before(since)) {
			continue
		}
		sum += e.RealizedPnL
	}
	return sum, nil
}

func (s *memHistory) ListBefore(_ context.Context, before time.Time) ([]domain.OrderHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderHistoryEntry
	for _, e := range s.entries {
		if e.Status == domain.HistoryOpen {
			continue
		}
		if e.ClosedAt != nil && e.ClosedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memHistory) byStatus(status domain.HistoryStatus) []domain.OrderHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OrderHistoryEntry
	for _, e := range s.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// memQuotes is an in-memory QuoteCache.
type memQuotes struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
}

func newMemQuotes() *memQuotes {
	return &memQuotes{quotes: make(map[string]domain.Quote)}
}

func (s *memQuotes) SetQuote(_ context.Context, q domain.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.Symbol] = q
	return nil
}

func (s *memQuotes) GetQuote(_ context.Context, symbol string) (domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	return q, nil
}

func (s *memQuotes) GetQuotes(_ context.Context, symbols []string) (map[string]domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Quote, len(symbols))
	for _, sym := range symbols {
		if q, ok := s.quotes[sym]; ok {
			out[sym] = q
		}
	}
	return out, nil
}

// memAudit records audit events in memory.
type memAudit struct {
	mu     sync.Mutex
	events []string
}

func newMemAudit() *memAudit { return &memAudit{} }

func (s *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// memBus records published events in memory.
type memBus struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{payloads: make(map[string][][]byte)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.payloads[channel] = append(b.payloads[channel], payload)
	return nil
}

func (b *memBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

var (
	_ domain.AccountStore  = (*memAccounts)(nil)
	_ domain.TemplateStore = (*memTemplates)(nil)
	_ domain.PositionStore = (*memPositions)(nil)
	_ domain.HistoryStore  = (*memHistory)(nil)
	_ domain.QuoteCache    = (*memQuotes)(nil)
	_ domain.AuditStore    = (*memAudit)(nil)
	_ domain.SignalBus     = (*memBus)(nil)
)
