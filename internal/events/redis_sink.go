package events

import (
	"context"
	"encoding/json"
	"log/slog"

	busredis "github.com/chainarb/chainarb/internal/bus/redis"
	"github.com/chainarb/chainarb/internal/domain"
)

// RedisSink publishes events as JSON onto a Redis Pub/Sub channel so external
// consumers (dashboards, recorders) can follow the lifecycle stream.
type RedisSink struct {
	client  *busredis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisSink creates a RedisSink publishing on the given channel.
func NewRedisSink(client *busredis.Client, channel string, logger *slog.Logger) *RedisSink {
	return &RedisSink{
		client:  client,
		channel: channel,
		logger:  logger.With(slog.String("component", "events_redis")),
	}
}

func (s *RedisSink) Emit(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("event marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := s.client.Publish(ctx, s.channel, payload); err != nil {
		s.logger.Warn("event publish failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}
