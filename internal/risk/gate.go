// Package risk implements the shared pre-dispatch risk gate. One Gate guards
// every execution across all networks; its state is the daily realized PnL,
// the open-position count, the consecutive-failure streak, and the circuit
// breaker those feed.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chainarb/chainarb/internal/domain"
)

// Limits holds the tunable parameters for authorization checks.
type Limits struct {
	MaxTradeUSD            float64
	DailyLossBudgetUSD     float64
	MaxOpenPositions       int
	MaxConsecutiveFailures int
	MinConfidence          float64
}

// Snapshot is a point-in-time copy of the gate's state for observability.
type Snapshot struct {
	DailyPnLUSD         float64
	OpenPositions       int
	ConsecutiveFailures int
	BreakerOpen         bool
	BreakerReason       string
	TrippedAt           time.Time
}

// Gate authorizes executions and records their outcomes. Safe for concurrent
// use. An authorization reserves one open-position slot until the matching
// RecordResult, so the cap binds even while executions are in flight.
type Gate struct {
	limits Limits
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	pnlUSD        float64
	pnlDay        string // UTC date of the current PnL window
	open          int
	consecFails   int
	breakerOpen   bool
	breakerReason string
	trippedAt     time.Time
}

// New creates a Gate with the given limits.
func New(limits Limits, logger *slog.Logger) *Gate {
	return &Gate{
		limits: limits,
		logger: logger.With(slog.String("component", "risk_gate")),
		now:    time.Now,
	}
}

// Authorize decides whether an execution of amountUSD at the given confidence
// may proceed. It returns false with a human-readable reason on denial. On
// approval the open-position count is incremented; the caller must follow up
// with RecordResult exactly once.
//
// Checks performed, in order:
//  1. Circuit breaker open
//  2. Confidence floor
//  3. Per-trade size cap
//  4. Open-position cap
//  5. Daily loss budget, assuming worst-case loss of the full amount
func (g *Gate) Authorize(network string, amountUSD, confidence float64) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	if g.breakerOpen {
		return false, "circuit breaker open: " + g.breakerReason
	}
	if confidence < g.limits.MinConfidence {
		return g.denyLocked(network, fmt.Sprintf("confidence %.2f below floor %.2f", confidence, g.limits.MinConfidence))
	}
	if amountUSD > g.limits.MaxTradeUSD {
		return g.denyLocked(network, fmt.Sprintf("amount %.2f exceeds max trade %.2f", amountUSD, g.limits.MaxTradeUSD))
	}
	if g.open >= g.limits.MaxOpenPositions {
		return g.denyLocked(network, fmt.Sprintf("open positions at cap (%d/%d)", g.open, g.limits.MaxOpenPositions))
	}
	loss := -g.pnlUSD
	if loss < 0 {
		loss = 0
	}
	if loss+amountUSD > g.limits.DailyLossBudgetUSD {
		return g.denyLocked(network, fmt.Sprintf("worst-case loss %.2f would exceed daily budget %.2f", loss+amountUSD, g.limits.DailyLossBudgetUSD))
	}

	g.open++
	return true, ""
}

func (g *Gate) denyLocked(network, reason string) (bool, string) {
	g.logger.Warn("authorization denied",
		slog.String("network", network),
		slog.String("reason", reason),
	)
	return false, reason
}

// RecordResult applies a finished execution to the gate's state and returns
// whether this call tripped the breaker, with the trip reason. Only results
// whose execution was authorized may be recorded here; denials never reach
// the gate again.
func (g *Gate) RecordResult(res domain.ExecutionResult) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()

	if g.open > 0 {
		g.open--
	}
	if res.Success {
		g.pnlUSD += res.ProfitUSD
		g.consecFails = 0
		return false, ""
	}

	// Failed executions realize no profit but still burned gas.
	g.pnlUSD -= res.GasUSD
	g.consecFails++

	if g.breakerOpen {
		return false, ""
	}
	if g.consecFails >= g.limits.MaxConsecutiveFailures {
		return true, g.tripLocked(fmt.Sprintf("%d consecutive failures", g.consecFails))
	}
	if -g.pnlUSD >= g.limits.DailyLossBudgetUSD {
		return true, g.tripLocked(fmt.Sprintf("daily loss %.2f reached budget %.2f", -g.pnlUSD, g.limits.DailyLossBudgetUSD))
	}
	return false, ""
}

func (g *Gate) tripLocked(reason string) string {
	g.breakerOpen = true
	g.breakerReason = reason
	g.trippedAt = g.now()
	g.logger.Warn("circuit breaker tripped", slog.String("reason", reason))
	return reason
}

// Reset closes the breaker and clears the failure streak. It is the only way
// the breaker closes; there is no automatic cool-down. Returns false when the
// breaker was not open.
func (g *Gate) Reset() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.breakerOpen {
		return false
	}
	g.breakerOpen = false
	g.breakerReason = ""
	g.consecFails = 0
	g.logger.Info("circuit breaker reset")
	return true
}

// BreakerOpen reports whether dispatch is currently halted.
func (g *Gate) BreakerOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.breakerOpen
}

// Snapshot returns a copy of the gate's current state.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked()
	return Snapshot{
		DailyPnLUSD:         g.pnlUSD,
		OpenPositions:       g.open,
		ConsecutiveFailures: g.consecFails,
		BreakerOpen:         g.breakerOpen,
		BreakerReason:       g.breakerReason,
		TrippedAt:           g.trippedAt,
	}
}

// rolloverLocked resets the daily PnL window at UTC midnight. The breaker
// survives rollover; only Reset closes it.
func (g *Gate) rolloverLocked() {
	day := g.now().UTC().Format("2006-01-02")
	if day != g.pnlDay {
		g.pnlDay = day
		g.pnlUSD = 0
	}
}
