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
// built-in defaults, applies CHAINARB_* environment variable overrides, and
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

// applyEnvOverrides reads well-known CHAINARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file. Per-network settings have no env form; they live in TOML only.
func applyEnvOverrides(cfg *Config) {
	// ── Scheduler ──
	setDuration(&cfg.Scheduler.TickInterval, "CHAINARB_SCHEDULER_TICK_INTERVAL")
	setDuration(&cfg.Scheduler.DispatchDelay, "CHAINARB_SCHEDULER_DISPATCH_DELAY")
	setInt(&cfg.Scheduler.HistoryLimit, "CHAINARB_SCHEDULER_HISTORY_LIMIT")
	setStr(&cfg.Scheduler.Ranker, "CHAINARB_SCHEDULER_RANKER")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxTradeUSD, "CHAINARB_RISK_MAX_TRADE_USD")
	setFloat64(&cfg.Risk.DailyLossBudgetUSD, "CHAINARB_RISK_DAILY_LOSS_BUDGET_USD")
	setInt(&cfg.Risk.MaxOpenPositions, "CHAINARB_RISK_MAX_OPEN_POSITIONS")
	setInt(&cfg.Risk.MaxConsecutiveFailures, "CHAINARB_RISK_MAX_CONSECUTIVE_FAILURES")
	setFloat64(&cfg.Risk.MinConfidence, "CHAINARB_RISK_MIN_CONFIDENCE")

	// ── Engine ──
	setDuration(&cfg.Engine.StepTimeout, "CHAINARB_ENGINE_STEP_TIMEOUT")
	setUint64(&cfg.Engine.GasPerStep, "CHAINARB_ENGINE_GAS_PER_STEP")

	// ── Feed ──
	setBool(&cfg.Feed.WSEnabled, "CHAINARB_FEED_WS_ENABLED")
	setStr(&cfg.Feed.WSURL, "CHAINARB_FEED_WS_URL")
	setBool(&cfg.Feed.RedisEnabled, "CHAINARB_FEED_REDIS_ENABLED")
	setStr(&cfg.Feed.RedisChannel, "CHAINARB_FEED_REDIS_CHANNEL")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CHAINARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CHAINARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CHAINARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CHAINARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CHAINARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CHAINARB_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.EventsChannel, "CHAINARB_REDIS_EVENTS_CHANNEL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CHAINARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CHAINARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CHAINARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CHAINARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CHAINARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CHAINARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CHAINARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CHAINARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CHAINARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CHAINARB_POSTGRES_POOL_MIN_CONNS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CHAINARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CHAINARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CHAINARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "CHAINARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CHAINARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CHAINARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CHAINARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CHAINARB_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "CHAINARB_S3_ARCHIVE_INTERVAL")
	setDuration(&cfg.S3.ArchiveRetention, "CHAINARB_S3_ARCHIVE_RETENTION")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "CHAINARB_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "CHAINARB_METRICS_ADDR")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CHAINARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CHAINARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CHAINARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CHAINARB_NOTIFY_EVENTS")

	// ── Broker ──
	setStr(&cfg.Broker.URL, "CHAINARB_BROKER_URL")
	setStr(&cfg.Broker.APIKey, "CHAINARB_BROKER_API_KEY")
	setDuration(&cfg.Broker.Timeout, "CHAINARB_BROKER_TIMEOUT")

	// ── Top-level ──
	setStr(&cfg.Mode, "CHAINARB_MODE")
	setStr(&cfg.LogLevel, "CHAINARB_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
