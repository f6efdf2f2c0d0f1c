package feed

import (
	"context"
	"log/slog"

	busredis "github.com/chainarb/chainarb/internal/bus/redis"
)

// RedisFeed subscribes to a Redis Pub/Sub channel that detectors publish
// candidates on.
type RedisFeed struct {
	client   *busredis.Client
	channel  string
	ingester Ingester
	logger   *slog.Logger
}

// NewRedisFeed creates a feed reading candidates from the given channel.
func NewRedisFeed(client *busredis.Client, channel string, ingester Ingester, logger *slog.Logger) *RedisFeed {
	return &RedisFeed{
		client:   client,
		channel:  channel,
		ingester: ingester,
		logger:   logger.With(slog.String("component", "redis_feed")),
	}
}

// Run consumes the channel until ctx is cancelled.
func (f *RedisFeed) Run(ctx context.Context) error {
	ch, err := f.client.Subscribe(ctx, f.channel)
	if err != nil {
		return err
	}
	f.logger.Info("feed subscribed", slog.String("channel", f.channel))
	defer f.logger.Info("feed stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			candidates, err := decodeCandidates(data)
			if err != nil {
				f.logger.Debug("malformed feed message",
					slog.Int("payload_len", len(data)),
					slog.String("error", err.Error()),
				)
				continue
			}
			f.ingester.Ingest(ctx, candidates)
		}
	}
}
