package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/propgate/propsim/internal/blob/s3"
	"github.com/propgate/propsim/internal/cache/redis"
	"github.com/propgate/propsim/internal/config"
	"github.com/propgate/propsim/internal/domain"
	"github.com/propgate/propsim/internal/engine"
	"github.com/propgate/propsim/internal/notify"
	"github.com/propgate/propsim/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Infrastructure clients, kept for health checks and teardown.
	Postgres *postgres.Client
	Redis    *redis.Client

	// Stores
	TemplateStore domain.TemplateStore
	AccountStore  domain.AccountStore
	PositionStore domain.PositionStore
	HistoryStore  domain.HistoryStore
	AuditStore    domain.AuditStore

	// Caches
	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Engine
	Engine  *engine.Engine
	Monitor *engine.Monitor

	// Blob storage (archive mode only)
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Postgres = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.TemplateStore = postgres.NewTemplateStore(pool)
	deps.AccountStore = postgres.NewAccountStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.HistoryStore = postgres.NewHistoryStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// Sync the template catalog into the database so accounts can reference
	// templates by foreign key.
	for _, tpl := range cfg.Templates {
		err := deps.TemplateStore.Upsert(ctx, domain.ChallengeTemplate{
			ID:                tpl.ID,
			Name:              tpl.Name,
			Fee:               tpl.Fee,
			PaperBalance:      tpl.PaperBalance,
			ProfitTargetPct:   tpl.ProfitTargetPct,
			DailyLossLimitPct: tpl.DailyLossLimitPct,
			MaxLossLimitPct:   tpl.MaxLossLimitPct,
			MaxOrderSizePct:   tpl.MaxOrderSizePct,
			MaxLeverage:       tpl.MaxLeverage,
			OneTradeAtTime:    tpl.OneTradeAtTime,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sync template %s: %w", tpl.ID, err)
		}
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient

	deps.QuoteCache = redis.NewQuoteCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Risk engine ---
	ledger := engine.NewLedger(deps.PositionStore, deps.HistoryStore, logger)
	deps.Engine = engine.New(
		deps.AccountStore,
		deps.TemplateStore,
		ledger,
		deps.HistoryStore,
		deps.QuoteCache,
		deps.AuditStore,
		deps.SignalBus,
		engine.Config{
			DollarRate:         cfg.Engine.DollarRate,
			AutoStopLossFrac:   cfg.Engine.AutoStopLossFrac,
			AutoTakeProfitFrac: cfg.Engine.AutoTakeProfitFrac,
			DefaultQuotes:      cfg.Feed.DefaultQuotes,
		},
		logger,
	)
	deps.Monitor = engine.NewMonitor(deps.Engine, logger)

	// --- S3 blob storage (archive mode only) ---
	if cfg.Mode == "archive" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(writer, deps.HistoryStore, deps.AuditStore, deps.AuditStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
