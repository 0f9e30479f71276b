// Package session runs one supervised risk-sweep session per active account.
// A distributed lock guarantees a single session owner per account across
// processes; the owner heartbeats the lock and sweeps the account's open
// positions on a fixed interval.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/propgate/propsim/internal/domain"
)

// Sweeper checks one account's open positions against their protective
// levels. Satisfied by engine.Monitor.
type Sweeper interface {
	Sweep(ctx context.Context, accountID string) error
}

// Config holds the session manager tunables.
type Config struct {
	// SweepInterval is how often each session checks protective levels.
	SweepInterval time.Duration

	// LockTTL is the session ownership lock TTL. The heartbeat refreshes at
	// a third of it.
	LockTTL time.Duration

	// RescanInterval is how often the manager re-reads the active account
	// list and spawns sessions for newcomers.
	RescanInterval time.Duration
}

func (c *Config) defaults() {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 2 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 15 * time.Second
	}
	if c.RescanInterval <= 0 {
		c.RescanInterval = 30 * time.Second
	}
}

// Manager supervises per-account sessions.
type Manager struct {
	accounts domain.AccountStore
	locks    domain.LockManager
	monitor  Sweeper
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}
}

// NewManager creates a Manager.
func NewManager(
	accounts domain.AccountStore,
	locks domain.LockManager,
	monitor Sweeper,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	cfg.defaults()
	return &Manager{
		accounts: accounts,
		locks:    locks,
		monitor:  monitor,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "session")),
		running:  make(map[string]struct{}),
	}
}

// Run spawns sessions for all active accounts and keeps rescanning for new
// ones until the context is cancelled. Sessions that lose their lock or whose
// challenge goes terminal end on their own and are respawned (or not) by the
// next rescan.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(m.cfg.RescanInterval)
		defer ticker.Stop()

		m.spawnMissing(ctx, g)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				m.spawnMissing(ctx, g)
			}
		}
	})

	return g.Wait()
}

func (m *Manager) spawnMissing(ctx context.Context, g *errgroup.Group) {
	active, err := m.accounts.ListActive(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "session: list active accounts failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, acc := range active {
		accountID := acc.ID

		m.mu.Lock()
		_, exists := m.running[accountID]
		if !exists {
			m.running[accountID] = struct{}{}
		}
		m.mu.Unlock()
		if exists {
			continue
		}

		g.Go(func() error {
			defer func() {
				m.mu.Lock()
				delete(m.running, accountID)
				m.mu.Unlock()
			}()
			m.runSession(ctx, accountID)
			return nil
		})
	}
}

// runSession owns one account until the context ends, the lock is lost, or
// the challenge goes terminal. Errors never propagate: a broken session is
// retried by the next rescan.
func (m *Manager) runSession(ctx context.Context, accountID string) {
	lockName := "session:" + accountID

	unlock, err := m.locks.Acquire(ctx, lockName, m.cfg.LockTTL)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			m.logger.WarnContext(ctx, "session: lock acquire failed",
				slog.String("account_id", accountID),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	defer unlock()

	m.logger.InfoContext(ctx, "session started", slog.String("account_id", accountID))
	defer m.logger.InfoContext(ctx, "session stopped", slog.String("account_id", accountID))

	sweep := time.NewTicker(m.cfg.SweepInterval)
	defer sweep.Stop()
	heartbeat := time.NewTicker(m.cfg.LockTTL / 3)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-heartbeat.C:
			if err := m.locks.Refresh(ctx, lockName, m.cfg.LockTTL); err != nil {
				m.logger.WarnContext(ctx, "session: lock lost, stopping",
					slog.String("account_id", accountID),
					slog.String("error", err.Error()),
				)
				return
			}

		case <-sweep.C:
			acc, err := m.accounts.GetByID(ctx, accountID)
			if err != nil {
				m.logger.WarnContext(ctx, "session: account read failed",
					slog.String("account_id", accountID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if acc.Stats.Status != domain.ChallengeActive {
				return
			}

			if err := m.monitor.Sweep(ctx, accountID); err != nil {
				m.logger.WarnContext(ctx, "session: sweep failed",
					slog.String("account_id", accountID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
