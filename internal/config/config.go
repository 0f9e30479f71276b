// Package config defines the top-level configuration for the challenge
// simulator and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PROPSIM_* environment variables.
type Config struct {
	Postgres  PostgresConfig   `toml:"postgres"`
	Redis     RedisConfig      `toml:"redis"`
	S3        S3Config         `toml:"s3"`
	Feed      FeedConfig       `toml:"feed"`
	Engine    EngineConfig     `toml:"engine"`
	Session   SessionConfig    `toml:"session"`
	Archive   ArchiveConfig    `toml:"archive"`
	Server    ServerConfig     `toml:"server"`
	Notify    NotifyConfig     `toml:"notify"`
	Templates []TemplateConfig `toml:"templates"`
	Mode      string           `toml:"mode"`
	LogLevel  string           `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedConfig holds the price feed poller parameters. DefaultQuotes provides
// per-symbol fallback prices used when the feed has never delivered a quote.
type FeedConfig struct {
	Symbols         []string           `toml:"symbols"`
	RefreshInterval duration           `toml:"refresh_interval"`
	DefaultQuotes   map[string]float64 `toml:"default_quotes"`
}

// EngineConfig holds the risk engine parameters.
type EngineConfig struct {
	// DollarRate converts display-currency balances into trading capital:
	// capital = paper_balance / dollar_rate.
	DollarRate float64 `toml:"dollar_rate"`

	// AutoStopLossFrac and AutoTakeProfitFrac size the default protective
	// levels as a fraction of the position margin.
	AutoStopLossFrac   float64 `toml:"auto_stop_loss_frac"`
	AutoTakeProfitFrac float64 `toml:"auto_take_profit_frac"`

	// OrderRateLimit caps order placements per account per
	// OrderRateWindow. Zero disables the limiter.
	OrderRateLimit  int      `toml:"order_rate_limit"`
	OrderRateWindow duration `toml:"order_rate_window"`
}

// SessionConfig holds the per-account monitoring session parameters.
type SessionConfig struct {
	SweepInterval  duration `toml:"sweep_interval"`
	LockTTL        duration `toml:"lock_ttl"`
	RescanInterval duration `toml:"rescan_interval"`
}

// ArchiveConfig holds the order-history archival parameters.
type ArchiveConfig struct {
	RetentionDays int `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// TemplateConfig is one entry of the challenge template catalog. The catalog
// is synced into the database at start and treated as immutable afterwards.
type TemplateConfig struct {
	ID                string  `toml:"id"`
	Name              string  `toml:"name"`
	Fee               float64 `toml:"fee"`
	PaperBalance      float64 `toml:"paper_balance"`
	ProfitTargetPct   float64 `toml:"profit_target_pct"`
	DailyLossLimitPct float64 `toml:"daily_loss_limit_pct"`
	MaxLossLimitPct   float64 `toml:"max_loss_limit_pct"`
	MaxOrderSizePct   float64 `toml:"max_order_size_pct"`
	MaxLeverage       int     `toml:"max_leverage"`
	OneTradeAtTime    bool    `toml:"one_trade_at_time"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "propsim",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "propsim-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Feed: FeedConfig{
			Symbols:         []string{"BTCUSDT", "ETHUSDT"},
			RefreshInterval: duration{3 * time.Second},
			DefaultQuotes:   map[string]float64{},
		},
		Engine: EngineConfig{
			DollarRate:         90,
			AutoStopLossFrac:   0.30,
			AutoTakeProfitFrac: 0.60,
			OrderRateLimit:     10,
			OrderRateWindow:    duration{time.Second},
		},
		Session: SessionConfig{
			SweepInterval:  duration{2 * time.Second},
			LockTTL:        duration{15 * time.Second},
			RescanInterval: duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"challenge_passed", "challenge_failed", "daily_block_set", "position_closed"},
		},
		Templates: []TemplateConfig{
			{
				ID:                "tpl-20k",
				Name:              "20K Challenge",
				Fee:               149,
				PaperBalance:      20000,
				ProfitTargetPct:   10,
				DailyLossLimitPct: 4,
				MaxLossLimitPct:   8,
				MaxOrderSizePct:   20,
				MaxLeverage:       10,
				OneTradeAtTime:    false,
			},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"monitor": true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, monitor, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only the archive mode touches object storage.
	if c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty for archive mode")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty for archive mode")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Feed
	if len(c.Feed.Symbols) == 0 {
		errs = append(errs, "feed: at least one symbol must be configured")
	}
	if c.Feed.RefreshInterval.Duration <= 0 {
		errs = append(errs, "feed: refresh_interval must be positive")
	}

	// Engine
	if c.Engine.DollarRate <= 0 {
		errs = append(errs, "engine: dollar_rate must be > 0")
	}
	if c.Engine.AutoStopLossFrac <= 0 || c.Engine.AutoStopLossFrac >= 1 {
		errs = append(errs, "engine: auto_stop_loss_frac must be in (0, 1)")
	}
	if c.Engine.AutoTakeProfitFrac <= 0 {
		errs = append(errs, "engine: auto_take_profit_frac must be > 0")
	}

	// Session
	if c.Session.SweepInterval.Duration <= 0 {
		errs = append(errs, "session: sweep_interval must be positive")
	}
	if c.Session.LockTTL.Duration <= 0 {
		errs = append(errs, "session: lock_ttl must be positive")
	}
	if c.Session.LockTTL.Duration <= c.Session.SweepInterval.Duration {
		errs = append(errs, "session: lock_ttl must exceed sweep_interval")
	}

	// Templates
	if len(c.Templates) == 0 {
		errs = append(errs, "templates: at least one challenge template must be configured")
	}
	seen := make(map[string]bool, len(c.Templates))
	for i, tpl := range c.Templates {
		prefix := fmt.Sprintf("templates[%d]", i)
		if tpl.ID == "" {
			errs = append(errs, prefix+": id must not be empty")
		} else if seen[tpl.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate id %q", prefix, tpl.ID))
		} else {
			seen[tpl.ID] = true
		}
		if tpl.PaperBalance <= 0 {
			errs = append(errs, prefix+": paper_balance must be > 0")
		}
		if tpl.ProfitTargetPct <= 0 {
			errs = append(errs, prefix+": profit_target_pct must be > 0")
		}
		if tpl.DailyLossLimitPct <= 0 {
			errs = append(errs, prefix+": daily_loss_limit_pct must be > 0")
		}
		if tpl.MaxLossLimitPct <= 0 {
			errs = append(errs, prefix+": max_loss_limit_pct must be > 0")
		}
		if tpl.DailyLossLimitPct > tpl.MaxLossLimitPct {
			errs = append(errs, prefix+": daily_loss_limit_pct must not exceed max_loss_limit_pct")
		}
		if tpl.MaxOrderSizePct <= 0 || tpl.MaxOrderSizePct > 100 {
			errs = append(errs, prefix+": max_order_size_pct must be in (0, 100]")
		}
		if tpl.MaxLeverage < 1 {
			errs = append(errs, prefix+": max_leverage must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
