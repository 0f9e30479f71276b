// Package feed provides the external price feed adapter and the shared quote
// refresher that keeps the quote cache current.
package feed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/propgate/propsim/internal/domain"
)

// BinanceProvider implements domain.QuoteProvider against the Binance spot
// ticker API. Price reads are public and need no API credentials.
type BinanceProvider struct {
	client *binance.Client
}

// NewBinanceProvider creates a provider using the public ticker endpoints.
func NewBinanceProvider() *BinanceProvider {
	return &BinanceProvider{client: binance.NewClient("", "")}
}

var _ domain.QuoteProvider = (*BinanceProvider)(nil)

// GetQuote fetches the latest ticker price for a symbol. Transport failures
// are wrapped in domain.ErrFeedUnavailable so callers fall back to the
// last-known cached quote.
func (p *BinanceProvider) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	prices, err := p.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("feed: ticker %s: %w: %v", symbol, domain.ErrFeedUnavailable, err)
	}
	if len(prices) == 0 {
		return domain.Quote{}, fmt.Errorf("feed: ticker %s: empty response: %w", symbol, domain.ErrFeedUnavailable)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("feed: parse price %q for %s: %w", prices[0].Price, symbol, err)
	}

	return domain.Quote{
		Symbol:     symbol,
		Price:      price,
		ObservedAt: time.Now().UTC(),
	}, nil
}
