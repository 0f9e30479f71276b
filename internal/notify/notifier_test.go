package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	name string
	err  error
	sent []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, title)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifierFiltersByEventType(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tg := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{tg}, []string{"challenge_failed"}, testLogger())

	require.NoError(t, n.Notify(ctx, "position_closed", "Protective close", "x"))
	assert.Empty(t, tg.sent)

	require.NoError(t, n.Notify(ctx, "challenge_failed", "Challenge failed", "x"))
	assert.Equal(t, []string{"Challenge failed"}, tg.sent)

	require.NoError(t, n.NotifyAll(ctx, "Heads up", "x"))
	assert.Equal(t, []string{"Challenge failed", "Heads up"}, tg.sent)
}

func TestNotifierKeepsDeliveringPastFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	down := errors.New("webhook gone")
	discord := &fakeSender{name: "discord", err: down}
	tg := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{discord, tg}, nil, testLogger())

	err := n.Notify(ctx, "challenge_passed", "Challenge passed", "x")
	assert.ErrorIs(t, err, down)
	assert.Equal(t, []string{"Challenge passed"}, tg.sent)
}
