// Package config defines the top-level configuration for the chainarb engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CHAINARB_* environment variables.
type Config struct {
	Scheduler SchedulerConfig `toml:"scheduler"`
	Risk      RiskConfig      `toml:"risk"`
	Engine    EngineConfig    `toml:"engine"`
	Networks  []NetworkConfig `toml:"networks"`
	Feed      FeedConfig      `toml:"feed"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Notify    NotifyConfig    `toml:"notify"`
	Broker    BrokerConfig    `toml:"broker"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// SchedulerConfig holds the tick loop and prioritization parameters.
type SchedulerConfig struct {
	TickInterval  duration `toml:"tick_interval"`
	DispatchDelay duration `toml:"dispatch_delay"`
	HistoryLimit  int      `toml:"history_limit"`
	Ranker        string   `toml:"ranker"`
}

// RiskConfig holds the shared risk gate limits.
type RiskConfig struct {
	MaxTradeUSD            float64 `toml:"max_trade_usd"`
	DailyLossBudgetUSD     float64 `toml:"daily_loss_budget_usd"`
	MaxOpenPositions       int     `toml:"max_open_positions"`
	MaxConsecutiveFailures int     `toml:"max_consecutive_failures"`
	MinConfidence          float64 `toml:"min_confidence"`
}

// EngineConfig holds execution engine parameters.
type EngineConfig struct {
	StepTimeout duration `toml:"step_timeout"`
	GasPerStep  uint64   `toml:"gas_per_step"`
}

// NetworkConfig describes one blockchain network the engine executes on.
type NetworkConfig struct {
	Name                string         `toml:"name"`
	MaxConcurrent       int64          `toml:"max_concurrent"`
	MinProfitUSD        float64        `toml:"min_profit_usd"`
	GasPriceGwei        float64        `toml:"gas_price_gwei"`
	NativeUSD           float64        `toml:"native_usd"`
	BlockTime           duration       `toml:"block_time"`
	DailyBorrowLimitUSD float64        `toml:"daily_borrow_limit_usd"`
	BorrowSources       []BorrowConfig `toml:"borrow_sources"`
	Paused              bool           `toml:"paused"`
}

// BorrowConfig describes one flash-borrow liquidity source on a network.
// FeeKind selects the schedule: "bps" (FeeBps), "flat" (FeeUSD), or "free".
type BorrowConfig struct {
	Name    string  `toml:"name"`
	Pool    string  `toml:"pool"` // hex contract address
	FeeKind string  `toml:"fee_kind"`
	FeeBps  float64 `toml:"fee_bps"`
	FeeUSD  float64 `toml:"fee_usd"`
}

// FeedConfig holds opportunity feed sources.
type FeedConfig struct {
	WSEnabled    bool   `toml:"ws_enabled"`
	WSURL        string `toml:"ws_url"`
	RedisEnabled bool   `toml:"redis_enabled"`
	RedisChannel string `toml:"redis_channel"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr          string `toml:"addr"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	PoolSize      int    `toml:"pool_size"`
	MaxRetries    int    `toml:"max_retries"`
	TLSEnabled    bool   `toml:"tls_enabled"`
	EventsChannel string `toml:"events_channel"`
}

// PostgresConfig holds PostgreSQL connection parameters for the optional
// durable execution history.
type PostgresConfig struct {
	Enabled      bool   `toml:"enabled"`
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// S3Config holds S3-compatible object storage parameters for the optional
// history archiver.
type S3Config struct {
	Enabled          bool     `toml:"enabled"`
	Endpoint         string   `toml:"endpoint"`
	Region           string   `toml:"region"`
	Bucket           string   `toml:"bucket"`
	AccessKey        string   `toml:"access_key"`
	SecretKey        string   `toml:"secret_key"`
	UseSSL           bool     `toml:"use_ssl"`
	ForcePathStyle   bool     `toml:"force_path_style"`
	ArchiveInterval  duration `toml:"archive_interval"`
	ArchiveRetention duration `toml:"archive_retention"`
}

// MetricsConfig holds the Prometheus endpoint parameters.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// BrokerConfig holds the external execution broker endpoint used in live mode.
// The broker owns signing and broadcast; the engine only submits steps.
type BrokerConfig struct {
	URL     string   `toml:"url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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
// Networks must come from the TOML file; there is no sensible default set.
func Defaults() Config {
	return Config{
		Scheduler: SchedulerConfig{
			TickInterval:  duration{1 * time.Second},
			DispatchDelay: duration{50 * time.Millisecond},
			HistoryLimit:  512,
			Ranker:        "default",
		},
		Risk: RiskConfig{
			MaxTradeUSD:            250_000,
			DailyLossBudgetUSD:     1_500_000,
			MaxOpenPositions:       12,
			MaxConsecutiveFailures: 5,
			MinConfidence:          0.55,
		},
		Engine: EngineConfig{
			StepTimeout: duration{30 * time.Second},
			GasPerStep:  180_000,
		},
		Feed: FeedConfig{
			WSEnabled:    false,
			WSURL:        "",
			RedisEnabled: false,
			RedisChannel: "chainarb.opportunities",
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			DB:            0,
			PoolSize:      20,
			MaxRetries:    3,
			TLSEnabled:    false,
			EventsChannel: "chainarb.events",
		},
		Postgres: PostgresConfig{
			Enabled:      false,
			Host:         "localhost",
			Port:         5432,
			Database:     "chainarb",
			User:         "chainarb",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		S3: S3Config{
			Enabled:          false,
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "chainarb-history",
			UseSSL:           false,
			ForcePathStyle:   true,
			ArchiveInterval:  duration{1 * time.Hour},
			ArchiveRetention: duration{24 * time.Hour},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Notify: NotifyConfig{
			Events: []string{"stranded", "breaker_tripped"},
		},
		Broker: BrokerConfig{
			Timeout: duration{10 * time.Second},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper": true,
	"live":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validFeeKinds enumerates the accepted values for BorrowConfig.FeeKind.
var validFeeKinds = map[string]bool{
	"bps":  true,
	"flat": true,
	"free": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Scheduler
	if c.Scheduler.TickInterval.Duration <= 0 {
		errs = append(errs, "scheduler: tick_interval must be > 0")
	}
	if c.Scheduler.DispatchDelay.Duration < 0 {
		errs = append(errs, "scheduler: dispatch_delay must be >= 0")
	}
	if c.Scheduler.HistoryLimit < 1 {
		errs = append(errs, "scheduler: history_limit must be >= 1")
	}
	if c.Scheduler.Ranker == "" {
		errs = append(errs, "scheduler: ranker must not be empty")
	}

	// Risk
	if c.Risk.MaxTradeUSD <= 0 {
		errs = append(errs, "risk: max_trade_usd must be > 0")
	}
	if c.Risk.DailyLossBudgetUSD <= 0 {
		errs = append(errs, "risk: daily_loss_budget_usd must be > 0")
	}
	if c.Risk.MaxOpenPositions < 1 {
		errs = append(errs, "risk: max_open_positions must be >= 1")
	}
	if c.Risk.MaxConsecutiveFailures < 1 {
		errs = append(errs, "risk: max_consecutive_failures must be >= 1")
	}
	if c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 1 {
		errs = append(errs, fmt.Sprintf("risk: min_confidence must be in [0,1], got %.3f", c.Risk.MinConfidence))
	}

	// Engine
	if c.Engine.StepTimeout.Duration <= 0 {
		errs = append(errs, "engine: step_timeout must be > 0")
	}
	if c.Engine.GasPerStep == 0 {
		errs = append(errs, "engine: gas_per_step must be > 0")
	}

	// Networks
	if len(c.Networks) == 0 {
		errs = append(errs, "networks: at least one network must be configured")
	}
	seen := make(map[string]bool, len(c.Networks))
	for i, n := range c.Networks {
		if n.Name == "" {
			errs = append(errs, fmt.Sprintf("networks[%d]: name must not be empty", i))
			continue
		}
		if seen[n.Name] {
			errs = append(errs, fmt.Sprintf("networks: duplicate network %q", n.Name))
		}
		seen[n.Name] = true
		if n.MaxConcurrent < 1 {
			errs = append(errs, fmt.Sprintf("networks[%s]: max_concurrent must be >= 1", n.Name))
		}
		if n.MinProfitUSD < 0 {
			errs = append(errs, fmt.Sprintf("networks[%s]: min_profit_usd must be >= 0", n.Name))
		}
		if n.GasPriceGwei <= 0 {
			errs = append(errs, fmt.Sprintf("networks[%s]: gas_price_gwei must be > 0", n.Name))
		}
		if n.NativeUSD <= 0 {
			errs = append(errs, fmt.Sprintf("networks[%s]: native_usd must be > 0", n.Name))
		}
		if n.DailyBorrowLimitUSD < 0 {
			errs = append(errs, fmt.Sprintf("networks[%s]: daily_borrow_limit_usd must be >= 0", n.Name))
		}
		for j, b := range n.BorrowSources {
			if b.Name == "" {
				errs = append(errs, fmt.Sprintf("networks[%s].borrow_sources[%d]: name must not be empty", n.Name, j))
			}
			if !validFeeKinds[b.FeeKind] {
				errs = append(errs, fmt.Sprintf("networks[%s].borrow_sources[%s]: fee_kind must be bps, flat, or free", n.Name, b.Name))
			}
			if b.FeeKind == "bps" && b.FeeBps < 0 {
				errs = append(errs, fmt.Sprintf("networks[%s].borrow_sources[%s]: fee_bps must be >= 0", n.Name, b.Name))
			}
			if b.FeeKind == "flat" && b.FeeUSD < 0 {
				errs = append(errs, fmt.Sprintf("networks[%s].borrow_sources[%s]: fee_usd must be >= 0", n.Name, b.Name))
			}
		}
	}

	// Feed
	if c.Feed.WSEnabled && c.Feed.WSURL == "" {
		errs = append(errs, "feed: ws_url is required when ws_enabled")
	}
	if c.Feed.RedisEnabled && c.Feed.RedisChannel == "" {
		errs = append(errs, "feed: redis_channel is required when redis_enabled")
	}

	// Redis — needed whenever a redis-backed component is on.
	if (c.Feed.RedisEnabled || c.Redis.EventsChannel != "") && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
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
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.ArchiveInterval.Duration <= 0 {
			errs = append(errs, "s3: archive_interval must be > 0")
		}
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty")
	}

	// Broker — required in live mode.
	if strings.ToLower(c.Mode) == "live" {
		if c.Broker.URL == "" {
			errs = append(errs, "broker: url is required for live mode")
		}
		if c.Broker.Timeout.Duration <= 0 {
			errs = append(errs, "broker: timeout must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
