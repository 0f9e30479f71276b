package ws

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memBus is an in-memory SignalBus with buffered per-channel subscriptions.
type memBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newMemBus() *memBus {
	return &memBus{subs: make(map[string]chan []byte)}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch, ok := b.subs[channel]
	b.mu.Unlock()
	if ok {
		ch <- payload
	}
	return nil
}

func (b *memBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subs[channel] = ch
	return ch, nil
}

func (b *memBus) subscribed(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[channel]
	return ok
}

func TestHubFansOutToSubscribedClients(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newMemBus()
	h := NewHub(bus, testLogger())
	go func() { _ = h.Run(ctx) }()

	require.Eventually(t, func() bool { return bus.subscribed("quotes") },
		time.Second, 5*time.Millisecond)

	c := &client{
		hub:  h,
		send: make(chan []byte, 4),
		subs: map[string]bool{"quotes": true},
	}
	h.register <- c

	payload := []byte(`{"event":"quote","symbol":"BTCUSDT"}`)
	require.NoError(t, bus.Publish(ctx, "quotes", payload))

	select {
	case data := <-c.send:
		assert.Equal(t, payload, data)
	case <-time.After(time.Second):
		t.Fatal("quote was not fanned out to the subscribed client")
	}

	// A channel the client has not subscribed to is filtered out.
	require.Eventually(t, func() bool { return bus.subscribed("positions") },
		time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Publish(ctx, "positions", []byte(`{}`)))

	select {
	case <-c.send:
		t.Fatal("received a message for an unsubscribed channel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestForwarderStopsAfterShutdown(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newMemBus()
	h := NewHub(bus, testLogger())

	// Fill the broadcast buffer so the forwarder's send blocks with nobody
	// draining, as happens when Run has already returned.
	for i := 0; i < cap(h.broadcast); i++ {
		h.broadcast <- broadcastMsg{channel: "quotes"}
	}

	done := make(chan struct{})
	go func() {
		h.subscribeToChannel(ctx, "quotes")
		close(done)
	}()

	require.Eventually(t, func() bool { return bus.subscribed("quotes") },
		time.Second, 5*time.Millisecond)
	require.NoError(t, bus.Publish(ctx, "quotes", []byte(`{}`)))

	// Let the forwarder reach the blocked send before cancelling.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder kept blocking on broadcast after shutdown")
	}
}
