package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSFeed connects to a detector's WebSocket endpoint and forwards every
// candidate message into the ingester. It reconnects with backoff on
// disconnect and runs until its context is cancelled.
type WSFeed struct {
	url       string
	ingester  Ingester
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewWSFeed creates a feed reading candidates from url.
func NewWSFeed(url string, ingester Ingester, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:      url,
		ingester: ingester,
		logger:   logger.With(slog.String("component", "ws_feed")),
		done:     make(chan struct{}),
	}
}

// Run connects and reads until ctx is cancelled, reconnecting on failure.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("url", f.url),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *WSFeed) runConnection(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()
	f.logger.Info("feed connected", slog.String("url", f.url))

	// Unblock ReadMessage when the context ends.
	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
		}
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
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

// Close stops the feed permanently.
func (f *WSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
