package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propgate/propsim/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memAccounts is a minimal in-memory AccountStore.
type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]domain.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: make(map[string]domain.Account)}
}

func (m *memAccounts) Create(ctx context.Context, acc domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acc.ID] = acc
	return nil
}

func (m *memAccounts) Update(ctx context.Context, acc domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[acc.ID]; !ok {
		return domain.ErrNotFound
	}
	m.accounts[acc.ID] = acc
	return nil
}

func (m *memAccounts) GetByID(ctx context.Context, id string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrNotFound
	}
	return acc, nil
}

func (m *memAccounts) ListActive(ctx context.Context) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Account
	for _, acc := range m.accounts {
		if acc.Stats.Status == domain.ChallengeActive {
			out = append(out, acc)
		}
	}
	return out, nil
}

// fakeLocks grants or denies locks per key and counts refreshes.
type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	denied   map[string]bool
	refresh  map[string]int
	failNext map[string]bool
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{
		held:     make(map[string]bool),
		denied:   make(map[string]bool),
		refresh:  make(map[string]int),
		failNext: make(map[string]bool),
	}
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied[key] || f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}, nil
}

func (f *fakeLocks) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext[key] {
		return domain.ErrLockHeld
	}
	f.refresh[key]++
	return nil
}

// fakeSweeper counts sweeps per account.
type fakeSweeper struct {
	mu     sync.Mutex
	sweeps map[string]int
}

func newFakeSweeper() *fakeSweeper {
	return &fakeSweeper{sweeps: make(map[string]int)}
}

func (f *fakeSweeper) Sweep(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps[accountID]++
	return nil
}

func (f *fakeSweeper) count(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps[accountID]
}

var _ domain.AccountStore = (*memAccounts)(nil)
var _ domain.LockManager = (*fakeLocks)(nil)
var _ Sweeper = (*fakeSweeper)(nil)

func fastConfig() Config {
	return Config{
		SweepInterval:  5 * time.Millisecond,
		LockTTL:        60 * time.Millisecond,
		RescanInterval: 10 * time.Millisecond,
	}
}

func activeAccount(id string) domain.Account {
	return domain.Account{
		ID:    id,
		Stats: domain.ChallengeStats{Status: domain.ChallengeActive},
	}
}

func TestManagerSweepsActiveAccounts(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	accounts := newMemAccounts()
	require.NoError(t, accounts.Create(ctx, activeAccount("acc-1")))
	require.NoError(t, accounts.Create(ctx, activeAccount("acc-2")))

	sweeper := newFakeSweeper()
	mgr := NewManager(accounts, newFakeLocks(), sweeper, fastConfig(), testLogger())

	err := mgr.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Greater(t, sweeper.count("acc-1"), 0)
	assert.Greater(t, sweeper.count("acc-2"), 0)
}

func TestManagerSkipsHeldLocks(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	accounts := newMemAccounts()
	require.NoError(t, accounts.Create(ctx, activeAccount("acc-1")))

	locks := newFakeLocks()
	locks.denied["session:acc-1"] = true

	sweeper := newFakeSweeper()
	mgr := NewManager(accounts, locks, sweeper, fastConfig(), testLogger())

	_ = mgr.Run(ctx)
	assert.Zero(t, sweeper.count("acc-1"))
}

func TestManagerStopsTerminalChallenge(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	accounts := newMemAccounts()
	acc := activeAccount("acc-1")
	require.NoError(t, accounts.Create(ctx, acc))

	locks := newFakeLocks()
	sweeper := newFakeSweeper()
	mgr := NewManager(accounts, locks, sweeper, fastConfig(), testLogger())

	// Fail the challenge shortly after start; the session should notice and
	// release the lock well before the context deadline.
	go func() {
		time.Sleep(30 * time.Millisecond)
		acc.Stats.Status = domain.ChallengeFailed
		_ = accounts.Update(context.Background(), acc)
	}()

	_ = mgr.Run(ctx)

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.False(t, locks.held["session:acc-1"])
}

func TestManagerIgnoresInactiveAccounts(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	accounts := newMemAccounts()
	require.NoError(t, accounts.Create(ctx, domain.Account{
		ID:    "acc-idle",
		Stats: domain.ChallengeStats{Status: domain.ChallengeNotStarted},
	}))

	sweeper := newFakeSweeper()
	mgr := NewManager(accounts, newFakeLocks(), sweeper, fastConfig(), testLogger())

	_ = mgr.Run(ctx)
	assert.Zero(t, sweeper.count("acc-idle"))
}
