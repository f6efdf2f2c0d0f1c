package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainarb/chainarb/internal/domain"
)

func testLimits() Limits {
	return Limits{
		MaxTradeUSD:            250_000,
		DailyLossBudgetUSD:     1_500_000,
		MaxOpenPositions:       3,
		MaxConsecutiveFailures: 3,
		MinConfidence:          0.6,
	}
}

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	return New(testLimits(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func failure(gasUSD float64) domain.ExecutionResult {
	return domain.ExecutionResult{Success: false, GasUSD: gasUSD, Class: domain.FailStep}
}

func success(profitUSD float64) domain.ExecutionResult {
	return domain.ExecutionResult{Success: true, ProfitUSD: profitUSD}
}

func TestAuthorizeChecksInOrder(t *testing.T) {
	g := newTestGate(t)

	allowed, reason := g.Authorize("ethereum", 1000, 0.5)
	assert.False(t, allowed)
	assert.Contains(t, reason, "confidence")

	allowed, reason = g.Authorize("ethereum", 300_000, 0.9)
	assert.False(t, allowed)
	assert.Contains(t, reason, "max trade")

	allowed, _ = g.Authorize("ethereum", 1000, 0.9)
	assert.True(t, allowed)
}

func TestAuthorizeReservesOpenPositionSlot(t *testing.T) {
	g := newTestGate(t)

	for i := 0; i < 3; i++ {
		allowed, _ := g.Authorize("ethereum", 1000, 0.9)
		require.True(t, allowed, "authorization %d", i)
	}
	allowed, reason := g.Authorize("ethereum", 1000, 0.9)
	assert.False(t, allowed)
	assert.Contains(t, reason, "open positions")

	// Recording a result frees the slot.
	g.RecordResult(success(50))
	allowed, _ = g.Authorize("ethereum", 1000, 0.9)
	assert.True(t, allowed)
}

func TestDailyLossBudgetDeniesRegardlessOfInputs(t *testing.T) {
	g := newTestGate(t)

	// Drive realized PnL down to the budget via failed executions burning gas.
	for i := 0; i < 3; i++ {
		allowed, _ := g.Authorize("ethereum", 1000, 0.9)
		require.True(t, allowed)
		g.RecordResult(failure(500_000))
		g.Reset() // failures also trip the consecutive counter; isolate the budget check
	}
	require.InDelta(t, -1_500_000, g.Snapshot().DailyPnLUSD, 1e-9)

	// Budget exhausted: the breaker tripped on the loss and stays open.
	allowed, reason := g.Authorize("ethereum", 1, 1.0)
	assert.False(t, allowed)
	assert.NotEmpty(t, reason)
}

func TestProjectedExposureAgainstBudget(t *testing.T) {
	g := newTestGate(t)

	// Lose 1.4M, then ask for 200k: worst case breaches the 1.5M budget.
	a, _ := g.Authorize("ethereum", 1000, 0.9)
	require.True(t, a)
	g.RecordResult(failure(1_400_000))
	g.Reset()

	allowed, reason := g.Authorize("ethereum", 200_000, 0.9)
	assert.False(t, allowed)
	assert.Contains(t, reason, "daily budget")

	allowed, _ = g.Authorize("ethereum", 50_000, 0.9)
	assert.True(t, allowed)
}

func TestConsecutiveFailuresTripBreaker(t *testing.T) {
	g := newTestGate(t)

	for i := 0; i < 2; i++ {
		a, _ := g.Authorize("ethereum", 1000, 0.9)
		require.True(t, a)
		tripped, _ := g.RecordResult(failure(10))
		assert.False(t, tripped, "failure %d should not trip", i)
	}

	a, _ := g.Authorize("ethereum", 1000, 0.9)
	require.True(t, a)
	tripped, reason := g.RecordResult(failure(10))
	assert.True(t, tripped)
	assert.Contains(t, reason, "consecutive failures")
	assert.True(t, g.BreakerOpen())

	// While open, authorize always denies.
	allowed, reason := g.Authorize("ethereum", 1, 1.0)
	assert.False(t, allowed)
	assert.Contains(t, reason, "circuit breaker open")

	// Never auto-cleared; only Reset closes it.
	assert.True(t, g.Reset())
	assert.False(t, g.BreakerOpen())
	allowed, _ = g.Authorize("ethereum", 1000, 0.9)
	assert.True(t, allowed)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	g := newTestGate(t)

	for i := 0; i < 2; i++ {
		a, _ := g.Authorize("ethereum", 1000, 0.9)
		require.True(t, a)
		g.RecordResult(failure(10))
	}
	a, _ := g.Authorize("ethereum", 1000, 0.9)
	require.True(t, a)
	g.RecordResult(success(100))
	assert.Zero(t, g.Snapshot().ConsecutiveFailures)

	// The streak starts over; two more failures still do not trip.
	for i := 0; i < 2; i++ {
		a, _ := g.Authorize("ethereum", 1000, 0.9)
		require.True(t, a)
		tripped, _ := g.RecordResult(failure(10))
		assert.False(t, tripped)
	}
	assert.False(t, g.BreakerOpen())
}

func TestPnLRollsOverAtUTCMidnight(t *testing.T) {
	g := newTestGate(t)
	day1 := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return day1 }

	a, _ := g.Authorize("ethereum", 1000, 0.9)
	require.True(t, a)
	g.RecordResult(failure(200_000))
	require.InDelta(t, -200_000, g.Snapshot().DailyPnLUSD, 1e-9)

	g.now = func() time.Time { return day1.Add(2 * time.Hour) }
	assert.Zero(t, g.Snapshot().DailyPnLUSD)
}
