package domain

import (
	"context"
	"io"
	"time"
)

// QuoteCache stores the latest completed quote per symbol. The feed refresher
// is the single writer; risk sweeps and validators are readers and never see
// a quote update in progress.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, symbol string) (Quote, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]Quote, error)
}

// QuoteProvider is the external price feed boundary. GetQuote fails with
// ErrFeedUnavailable on transient network errors; callers fall back to the
// last-known quote rather than blocking.
type QuoteProvider interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking, used to guarantee a single
// session owner per account across processes.
type LockManager interface {
	// Acquire obtains the lock and returns an unlock function, or
	// ErrLockHeld when another party holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)

	// Refresh extends the TTL of a held lock.
	Refresh(ctx context.Context, key string, ttl time.Duration) error
}

// SignalBus provides pub/sub fan-out of engine events to the WebSocket hub
// and other consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
