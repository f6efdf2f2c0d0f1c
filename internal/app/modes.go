package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/chainarb/chainarb/internal/metrics"
)

// PaperMode runs the full scheduling loop against the deterministic
// simulator. No capital moves; results come from the simulator's price
// model.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	return a.runEngine(ctx, deps)
}

// LiveMode runs the same loop with steps submitted to the external broker.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")
	return a.runEngine(ctx, deps)
}

// runEngine starts the scheduler, feeds, archiver, and metrics endpoint and
// blocks until the context is cancelled or a component fails.
func (a *App) runEngine(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics.Enabled {
		metrics.Serve(ctx, a.cfg.Metrics.Addr, deps.Scheduler, a.logger)
	}

	g.Go(func() error {
		return deps.Scheduler.Run(ctx)
	})

	if deps.WSFeed != nil {
		wsFeed := deps.WSFeed
		g.Go(func() error {
			defer wsFeed.Close()
			return wsFeed.Run(ctx)
		})
	}
	if deps.RedisFeed != nil {
		redisFeed := deps.RedisFeed
		g.Go(func() error {
			return redisFeed.Run(ctx)
		})
	}
	if deps.Archiver != nil {
		archiver := deps.Archiver
		g.Go(func() error {
			return archiver.Run(ctx)
		})
	}
	if deps.WSFeed == nil && deps.RedisFeed == nil {
		a.logger.WarnContext(ctx, "no opportunity feed enabled; scheduler will idle",
			slog.String("hint", "enable feed.ws_enabled or feed.redis_enabled"),
		)
	}

	return g.Wait()
}
