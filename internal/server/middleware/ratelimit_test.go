package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeLimiter struct {
	allowed bool
	err     error
	lastKey string
	lastCtx context.Context
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	f.lastCtx = ctx
	f.lastKey = key
	return f.allowed, f.err
}

// serveLimited routes through a real ServeMux so the {id} path value is
// populated the way it is in production.
func serveLimited(limiter *fakeLimiter, req *http.Request) *httptest.ResponseRecorder {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux := http.NewServeMux()
	mux.Handle("POST /api/accounts/{id}/orders", RateLimit(limiter, 5, time.Second)(next))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	t.Run("keys by account and passes through when allowed", func(t *testing.T) {
		t.Parallel()
		limiter := &fakeLimiter{allowed: true}
		req := httptest.NewRequest(http.MethodPost, "/api/accounts/acc-1/orders", nil)

		rec := serveLimited(limiter, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "orders:account:acc-1", limiter.lastKey)
	})

	t.Run("rejects with 429 when over the window", func(t *testing.T) {
		t.Parallel()
		limiter := &fakeLimiter{allowed: false}
		req := httptest.NewRequest(http.MethodPost, "/api/accounts/acc-1/orders", nil)

		rec := serveLimited(limiter, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	})

	t.Run("fails open on limiter errors", func(t *testing.T) {
		t.Parallel()
		limiter := &fakeLimiter{err: errors.New("redis down")}
		req := httptest.NewRequest(http.MethodPost, "/api/accounts/acc-1/orders", nil)

		rec := serveLimited(limiter, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("limiter sees the request context", func(t *testing.T) {
		t.Parallel()
		type ctxKey struct{}
		limiter := &fakeLimiter{allowed: true}
		req := httptest.NewRequest(http.MethodPost, "/api/accounts/acc-1/orders", nil)
		req = req.WithContext(context.WithValue(req.Context(), ctxKey{}, "v"))

		serveLimited(limiter, req)

		if assert.NotNil(t, limiter.lastCtx) {
			assert.Equal(t, "v", limiter.lastCtx.Value(ctxKey{}))
		}
	})

	t.Run("falls back to client ip without a path id", func(t *testing.T) {
		t.Parallel()
		limiter := &fakeLimiter{allowed: true}
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		handler := RateLimit(limiter, 5, time.Second)(next)

		req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
		req.RemoteAddr = "203.0.113.9:4242"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "orders:ip:203.0.113.9", limiter.lastKey)
	})
}
