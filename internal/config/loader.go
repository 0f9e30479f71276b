package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PROPSIM_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PROPSIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PROPSIM_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PROPSIM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PROPSIM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PROPSIM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PROPSIM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PROPSIM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PROPSIM_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PROPSIM_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PROPSIM_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PROPSIM_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PROPSIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PROPSIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PROPSIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PROPSIM_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PROPSIM_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PROPSIM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PROPSIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PROPSIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "PROPSIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PROPSIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PROPSIM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PROPSIM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PROPSIM_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setStringSlice(&cfg.Feed.Symbols, "PROPSIM_FEED_SYMBOLS")
	setDuration(&cfg.Feed.RefreshInterval, "PROPSIM_FEED_REFRESH_INTERVAL")

	// ── Engine ──
	setFloat64(&cfg.Engine.DollarRate, "PROPSIM_ENGINE_DOLLAR_RATE")
	setFloat64(&cfg.Engine.AutoStopLossFrac, "PROPSIM_ENGINE_AUTO_STOP_LOSS_FRAC")
	setFloat64(&cfg.Engine.AutoTakeProfitFrac, "PROPSIM_ENGINE_AUTO_TAKE_PROFIT_FRAC")
	setInt(&cfg.Engine.OrderRateLimit, "PROPSIM_ENGINE_ORDER_RATE_LIMIT")
	setDuration(&cfg.Engine.OrderRateWindow, "PROPSIM_ENGINE_ORDER_RATE_WINDOW")

	// ── Session ──
	setDuration(&cfg.Session.SweepInterval, "PROPSIM_SESSION_SWEEP_INTERVAL")
	setDuration(&cfg.Session.LockTTL, "PROPSIM_SESSION_LOCK_TTL")
	setDuration(&cfg.Session.RescanInterval, "PROPSIM_SESSION_RESCAN_INTERVAL")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "PROPSIM_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PROPSIM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PROPSIM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PROPSIM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PROPSIM_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PROPSIM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PROPSIM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PROPSIM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PROPSIM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PROPSIM_MODE")
	setStr(&cfg.LogLevel, "PROPSIM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
