package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/propgate/propsim/internal/feed"
	"github.com/propgate/propsim/internal/notify"
	"github.com/propgate/propsim/internal/server"
	"github.com/propgate/propsim/internal/server/handler"
	"github.com/propgate/propsim/internal/server/ws"
	"github.com/propgate/propsim/internal/session"
)

// ServeMode runs the full stack: quote refresher, per-account monitoring
// sessions, the notification bridge, the WebSocket hub, and the HTTP API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startFeed(ctx, g, deps)
	a.startSessions(ctx, g, deps)
	a.startNotifyBridge(ctx, g, deps)

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && err != context.Canceled {
			return fmt.Errorf("serve mode: ws hub: %w", err)
		}
		return nil
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, hub)
	}

	return g.Wait()
}

// MonitorMode runs only the headless parts: quote refresher, per-account
// monitoring sessions, and the notification bridge. Useful as a companion
// process next to a serve instance, or standalone without the HTTP API.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startFeed(ctx, g, deps)
	a.startSessions(ctx, g, deps)
	a.startNotifyBridge(ctx, g, deps)

	return g.Wait()
}

// ArchiveMode uploads order-history and audit rows older than the retention
// window to object storage, then exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	historyCount, err := deps.Archiver.ArchiveHistory(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: order history: %w", err)
	}
	auditCount, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: audit log: %w", err)
	}

	a.logger.InfoContext(ctx, "archive complete",
		slog.Int64("history_rows", historyCount),
		slog.Int64("audit_rows", auditCount),
	)
	return nil
}

// startFeed launches the quote refresher over the configured symbols.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	refresher := feed.NewRefresher(
		feed.NewBinanceProvider(),
		deps.QuoteCache,
		deps.SignalBus,
		a.cfg.Feed.Symbols,
		a.cfg.Feed.RefreshInterval.Duration,
		a.logger,
	)
	g.Go(func() error {
		if err := refresher.Run(ctx); err != nil && err != context.Canceled {
			return fmt.Errorf("feed: %w", err)
		}
		return nil
	})
}

// startSessions launches the per-account session manager that sweeps open
// positions for protective closes.
func (a *App) startSessions(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	mgr := session.NewManager(
		deps.AccountStore,
		deps.LockManager,
		deps.Monitor,
		session.Config{
			SweepInterval:  a.cfg.Session.SweepInterval.Duration,
			LockTTL:        a.cfg.Session.LockTTL.Duration,
			RescanInterval: a.cfg.Session.RescanInterval.Duration,
		},
		a.logger,
	)
	g.Go(func() error {
		if err := mgr.Run(ctx); err != nil && err != context.Canceled {
			return fmt.Errorf("sessions: %w", err)
		}
		return nil
	})
}

// startNotifyBridge forwards engine events to the configured notification
// channels. A notifier without senders is a no-op, so the bridge always runs.
func (a *App) startNotifyBridge(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	bridge := notify.NewBridge(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		if err := bridge.Run(ctx); err != nil && err != context.Canceled {
			return fmt.Errorf("notify bridge: %w", err)
		}
		return nil
	})
}

// startHTTPServer assembles the handlers and runs the API server with
// graceful shutdown tied to the group context.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": deps.Postgres,
			"redis":    deps.Redis,
		}, a.logger),
		Templates: handler.NewTemplateHandler(deps.TemplateStore, a.logger),
		Accounts:  handler.NewAccountHandler(deps.Engine, deps.HistoryStore, a.logger),
		Orders:    handler.NewOrderHandler(deps.Engine, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		OrderRateLimit:  a.cfg.Engine.OrderRateLimit,
		OrderRateWindow: a.cfg.Engine.OrderRateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
