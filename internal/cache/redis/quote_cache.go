package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/propgate/propsim/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each symbol's
// quote is stored at key "quote:{symbol}" with fields "price" and "ts"
// (Unix nanosecond timestamp). The feed refresher is the sole writer.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

var _ domain.QuoteCache = (*QuoteCache)(nil)

func quoteKey(symbol string) string {
	return "quote:" + symbol
}

// SetQuote stores the latest quote for a symbol.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.Quote) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(q.Price, 'f', -1, 64),
		"ts":    strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}
	if err := qc.rdb.HSet(ctx, quoteKey(q.Symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a symbol. It returns
// domain.ErrNotFound when no quote has been cached yet.
func (qc *QuoteCache) GetQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(symbol)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	return parseQuote(symbol, vals)
}

// GetQuotes retrieves quotes for multiple symbols using a pipeline. Symbols
// with no cached quote are omitted from the result map.
func (qc *QuoteCache) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.HGetAll(ctx, quoteKey(sym))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.Quote, len(symbols))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		q, err := parseQuote(sym, vals)
		if err != nil {
			continue
		}
		result[sym] = q
	}
	return result, nil
}

func parseQuote(symbol string, vals map[string]string) (domain.Quote, error) {
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote price %s: %w", symbol, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse quote ts %s: %w", symbol, err)
	}

	return domain.Quote{
		Symbol:     symbol,
		Price:      price,
		ObservedAt: time.Unix(0, tsNano),
	}, nil
}
