package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/chainarb/chainarb/internal/scheduler"
)

// HistorySource drains retired scheduler entries older than a cutoff. The
// scheduler implements it; the archiver owns no opportunity state itself.
type HistorySource interface {
	DrainHistoryBefore(t time.Time) []scheduler.HistoryEntry
}

// ObjectPutter uploads one object. Satisfied by Writer; tests substitute
// their own.
type ObjectPutter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver periodically moves retired history entries out of the scheduler's
// bounded in-memory ring into object storage as JSONL, one object per drain.
// Archived entries leave the dedup set, so the retention window should be
// comfortably longer than any detector's candidate re-emission horizon.
type Archiver struct {
	writer    ObjectPutter
	source    HistorySource
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	// pending holds drained entries until their upload lands; a failed put
	// is retried on the next pass instead of losing the batch. Run is the
	// only caller, so no lock.
	pending []scheduler.HistoryEntry
}

// NewArchiver creates an Archiver draining entries retired more than
// retention ago, every interval.
func NewArchiver(w ObjectPutter, source HistorySource, interval, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    w,
		source:    source,
		interval:  interval,
		retention: retention,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// Run archives on a fixed interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("archiver started",
		slog.Duration("interval", a.interval),
		slog.Duration("retention", a.retention),
	)
	defer a.logger.Info("archiver stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := a.ArchiveOnce(ctx); err != nil {
				a.logger.Warn("archive pass failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.Info("archived history entries", slog.Int("count", n))
			}
		}
	}
}

// ArchiveOnce drains and uploads one batch, including any entries carried
// over from a failed upload. It returns the number of entries archived; zero
// with a nil error means nothing was old enough.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int, error) {
	cutoff := a.now().UTC().Add(-a.retention)
	a.pending = append(a.pending, a.source.DrainHistoryBefore(cutoff)...)
	if len(a.pending) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, entry := range a.pending {
		if err := enc.Encode(entry); err != nil {
			return 0, fmt.Errorf("s3blob: encode history entry: %w", err)
		}
	}

	path := archivePath(a.now().UTC())
	if err := a.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return 0, err
	}
	n := len(a.pending)
	a.pending = nil
	return n, nil
}

// archivePath keys batches by drain time so objects sort chronologically.
func archivePath(at time.Time) string {
	return fmt.Sprintf("history/%s/%s.jsonl", at.Format("2006-01-02"), at.Format("150405.000000000"))
}
