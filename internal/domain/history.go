package domain

import (
	"context"
	"time"
)

// HistoryStore persists terminal execution results for audit and PnL review.
// The scheduler's in-memory ring remains the authoritative working set; the
// store is an optional durable sink.
type HistoryStore interface {
	Insert(ctx context.Context, res ExecutionResult) error
	ListRecent(ctx context.Context, limit int) ([]ExecutionResult, error)
	SumProfit(ctx context.Context, since time.Time) (float64, error)
}
