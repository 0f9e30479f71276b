package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/propgate/propsim/internal/domain"
)

// Refresher polls the provider for the configured symbols and writes
// completed quotes into the cache. One refresher runs per process; it is the
// single writer for every symbol, so readers never observe a quote update in
// progress. A failed fetch keeps the last cached quote and retries on the
// next tick.
type Refresher struct {
	provider domain.QuoteProvider
	cache    domain.QuoteCache
	bus      domain.SignalBus
	symbols  []string
	interval time.Duration
	logger   *slog.Logger
}

// NewRefresher creates a Refresher for the given symbols.
func NewRefresher(
	provider domain.QuoteProvider,
	cache domain.QuoteCache,
	bus domain.SignalBus,
	symbols []string,
	interval time.Duration,
	logger *slog.Logger,
) *Refresher {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Refresher{
		provider: provider,
		cache:    cache,
		bus:      bus,
		symbols:  symbols,
		interval: interval,
		logger:   logger.With(slog.String("component", "refresher")),
	}
}

// Run polls until the context is cancelled. It refreshes once immediately so
// sessions starting right after boot have quotes to work with.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info("quote refresher started",
		slog.Int("symbols", len(r.symbols)),
		slog.Duration("interval", r.interval),
	)
	defer r.logger.Info("quote refresher stopped")

	r.refreshAll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

func (r *Refresher) refreshAll(ctx context.Context) {
	for _, symbol := range r.symbols {
		quote, err := r.provider.GetQuote(ctx, symbol)
		if err != nil {
			r.logger.WarnContext(ctx, "feed: quote fetch failed, keeping last known",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := r.cache.SetQuote(ctx, quote); err != nil {
			r.logger.WarnContext(ctx, "feed: quote cache write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}

		r.publish(ctx, quote)
	}
}

func (r *Refresher) publish(ctx context.Context, quote domain.Quote) {
	if r.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":  "quote",
		"symbol": quote.Symbol,
		"price":  quote.Price,
		"ts":     quote.ObservedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	if err := r.bus.Publish(ctx, "quotes", payload); err != nil {
		r.logger.DebugContext(ctx, "feed: publish quote failed",
			slog.String("symbol", quote.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
