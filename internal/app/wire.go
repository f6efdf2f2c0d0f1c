package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/chainarb/chainarb/internal/blob/s3"
	busredis "github.com/chainarb/chainarb/internal/bus/redis"
	"github.com/chainarb/chainarb/internal/chainreg"
	"github.com/chainarb/chainarb/internal/config"
	"github.com/chainarb/chainarb/internal/domain"
	"github.com/chainarb/chainarb/internal/engine"
	"github.com/chainarb/chainarb/internal/events"
	"github.com/chainarb/chainarb/internal/feed"
	"github.com/chainarb/chainarb/internal/fees"
	"github.com/chainarb/chainarb/internal/notify"
	"github.com/chainarb/chainarb/internal/ranking"
	"github.com/chainarb/chainarb/internal/risk"
	"github.com/chainarb/chainarb/internal/scheduler"
	"github.com/chainarb/chainarb/internal/store/postgres"
	"github.com/chainarb/chainarb/internal/submit"
)

// Dependencies bundles everything the operating modes need. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Chains    *chainreg.Registry
	Gate      *risk.Gate
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler

	Redis    *busredis.Client    // nil unless a redis component is enabled
	History  domain.HistoryStore // nil unless postgres is enabled
	Archiver *s3blob.Archiver    // nil unless s3 is enabled
	Notifier *notify.Notifier

	WSFeed    *feed.WSFeed    // nil unless enabled
	RedisFeed *feed.RedisFeed // nil unless enabled
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Chain registry ---
	specs, err := networkSpecs(cfg.Networks)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: networks: %w", err)
	}
	deps.Chains, err = chainreg.New(specs)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: chain registry: %w", err)
	}

	// --- Risk gate ---
	deps.Gate = risk.New(risk.Limits{
		MaxTradeUSD:            cfg.Risk.MaxTradeUSD,
		DailyLossBudgetUSD:     cfg.Risk.DailyLossBudgetUSD,
		MaxOpenPositions:       cfg.Risk.MaxOpenPositions,
		MaxConsecutiveFailures: cfg.Risk.MaxConsecutiveFailures,
		MinConfidence:          cfg.Risk.MinConfidence,
	}, logger)

	// --- Submitter and execution engine ---
	var submitter engine.Submitter
	if strings.ToLower(cfg.Mode) == "live" {
		submitter = submit.NewBroker(cfg.Broker.URL, cfg.Broker.APIKey, cfg.Broker.Timeout.Duration, logger)
	} else {
		submitter = submit.NewSimulator(submit.DefaultSimConfig())
	}
	deps.Engine = engine.New(submitter, cfg.Engine.StepTimeout.Duration, cfg.Engine.GasPerStep, logger)

	// --- Redis (shared by the feed and the event sink) ---
	needsRedis := cfg.Feed.RedisEnabled || cfg.Redis.EventsChannel != ""
	if needsRedis {
		redisClient, err := busredis.New(ctx, busredis.ClientConfig{
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

	// --- Event sinks ---
	sinks := []events.Sink{events.NewLogSink(logger)}
	if deps.Redis != nil && cfg.Redis.EventsChannel != "" {
		sinks = append(sinks, events.NewRedisSink(deps.Redis, cfg.Redis.EventsChannel, logger))
	}
	if len(senders) > 0 {
		sinks = append(sinks, events.NewAlertSink(deps.Notifier, logger))
	}
	sink := events.NewMultiSink(sinks...)

	// --- Ranker ---
	rankers := ranking.NewRegistry()
	ranker, err := rankers.Get(cfg.Scheduler.Ranker)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	// --- Postgres history (optional) ---
	if cfg.Postgres.Enabled {
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

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		deps.History = postgres.NewExecutionStore(pgClient.Pool())
	}

	// --- Scheduler ---
	deps.Scheduler = scheduler.New(
		scheduler.Config{
			TickInterval:  cfg.Scheduler.TickInterval.Duration,
			DispatchDelay: cfg.Scheduler.DispatchDelay.Duration,
			HistoryLimit:  cfg.Scheduler.HistoryLimit,
		},
		deps.Chains,
		deps.Gate,
		deps.Engine,
		ranker,
		sink,
		deps.History,
		logger,
	)

	// --- S3 history archiver (optional) ---
	if cfg.S3.Enabled {
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

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Scheduler,
			cfg.S3.ArchiveInterval.Duration,
			cfg.S3.ArchiveRetention.Duration,
			logger,
		)
	}

	// --- Feeds ---
	if cfg.Feed.WSEnabled {
		deps.WSFeed = feed.NewWSFeed(cfg.Feed.WSURL, deps.Scheduler, logger)
	}
	if cfg.Feed.RedisEnabled && deps.Redis != nil {
		deps.RedisFeed = feed.NewRedisFeed(deps.Redis, cfg.Feed.RedisChannel, deps.Scheduler, logger)
	}

	return deps, cleanup, nil
}

// networkSpecs maps network configuration into chain registry specs,
// resolving each borrow source's fee schedule.
func networkSpecs(networks []config.NetworkConfig) ([]chainreg.NetworkSpec, error) {
	specs := make([]chainreg.NetworkSpec, 0, len(networks))
	for _, n := range networks {
		spec := chainreg.NetworkSpec{
			Name:                n.Name,
			MaxConcurrent:       n.MaxConcurrent,
			MinProfitUSD:        n.MinProfitUSD,
			GasPriceGwei:        n.GasPriceGwei,
			NativeUSD:           n.NativeUSD,
			BlockTime:           n.BlockTime.Duration,
			DailyBorrowLimitUSD: n.DailyBorrowLimitUSD,
			Paused:              n.Paused,
		}
		for _, b := range n.BorrowSources {
			var schedule fees.FeeSchedule
			switch b.FeeKind {
			case "bps":
				schedule = fees.BpsFee{Bps: b.FeeBps}
			case "flat":
				schedule = fees.FlatFee{USD: b.FeeUSD}
			case "free":
				schedule = fees.FreeFee{}
			default:
				return nil, fmt.Errorf("network %s: borrow source %s: unknown fee kind %q", n.Name, b.Name, b.FeeKind)
			}
			spec.Sources = append(spec.Sources, fees.BorrowSource{
				Name:     b.Name,
				Pool:     common.HexToAddress(b.Pool),
				Schedule: schedule,
			})
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
