package chainreg

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainarb/chainarb/internal/fees"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New([]NetworkSpec{
		{
			Name:                "ethereum",
			MaxConcurrent:       3,
			MinProfitUSD:        50,
			GasPriceGwei:        25,
			NativeUSD:           3000,
			BlockTime:           12 * time.Second,
			DailyBorrowLimitUSD: 1_000_000,
			Sources: []fees.BorrowSource{
				{Name: "aavev3", Schedule: fees.BpsFee{Bps: 9}},
				{Name: "balancer", Schedule: fees.FreeFee{}},
			},
		},
		{Name: "polygon", MaxConcurrent: 2, GasPriceGwei: 80, NativeUSD: 0.8},
	})
	require.NoError(t, err)
	return r
}

func TestNewRejectsBadSpecs(t *testing.T) {
	_, err := New([]NetworkSpec{{Name: "", MaxConcurrent: 1}})
	assert.Error(t, err)

	_, err = New([]NetworkSpec{{Name: "eth", MaxConcurrent: 0}})
	assert.Error(t, err)

	_, err = New([]NetworkSpec{
		{Name: "eth", MaxConcurrent: 1},
		{Name: "eth", MaxConcurrent: 2},
	})
	assert.Error(t, err)
}

func TestSlotReservationRespectsCap(t *testing.T) {
	r := testRegistry(t)

	for i := 0; i < 3; i++ {
		require.True(t, r.TryReserveSlot("ethereum"), "slot %d", i)
	}
	assert.False(t, r.TryReserveSlot("ethereum"))
	assert.EqualValues(t, 3, r.InFlight("ethereum"))

	r.ReleaseSlot("ethereum")
	assert.EqualValues(t, 2, r.InFlight("ethereum"))
	assert.True(t, r.TryReserveSlot("ethereum"))

	// Unknown networks never reserve.
	assert.False(t, r.TryReserveSlot("solana"))
}

func TestSlotReservationUnderConcurrency(t *testing.T) {
	r := testRegistry(t)

	var mu sync.Mutex
	granted := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryReserveSlot("ethereum") {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, granted)
	assert.EqualValues(t, 3, r.InFlight("ethereum"))
}

func TestPauseBlocksReservation(t *testing.T) {
	r := testRegistry(t)
	cc, ok := r.Get("ethereum")
	require.True(t, ok)

	cc.SetPaused(true)
	assert.False(t, r.TryReserveSlot("ethereum"))

	cc.SetPaused(false)
	assert.True(t, r.TryReserveSlot("ethereum"))
}

func TestBorrowBudgetAccrualAndRollover(t *testing.T) {
	r := testRegistry(t)
	cc, ok := r.Get("ethereum")
	require.True(t, ok)

	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.True(t, cc.ReserveBorrow(600_000, day1))
	require.True(t, cc.ReserveBorrow(400_000, day1))
	assert.False(t, cc.ReserveBorrow(1, day1))
	assert.InDelta(t, 1_000_000, cc.BorrowUsed(day1), 1e-9)

	// Usage resets at UTC midnight.
	day2 := day1.Add(24 * time.Hour)
	assert.Zero(t, cc.BorrowUsed(day2))
	assert.True(t, cc.ReserveBorrow(500_000, day2))

	// Non-positive reservations are rejected.
	assert.False(t, cc.ReserveBorrow(0, day2))
}

func TestReleaseBorrowReturnsReservation(t *testing.T) {
	r := testRegistry(t)
	cc, ok := r.Get("ethereum")
	require.True(t, ok)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.True(t, cc.ReserveBorrow(600_000, now))
	require.True(t, cc.ReserveBorrow(400_000, now))
	require.False(t, cc.ReserveBorrow(60_000, now))

	// A released reservation frees budget for the next candidate.
	cc.ReleaseBorrow(400_000, now)
	assert.InDelta(t, 600_000, cc.BorrowUsed(now), 1e-9)
	assert.True(t, cc.ReserveBorrow(60_000, now))

	// Usage floors at zero and non-positive releases are ignored.
	cc.ReleaseBorrow(10_000_000, now)
	assert.Zero(t, cc.BorrowUsed(now))
	cc.ReleaseBorrow(-1, now)
	assert.Zero(t, cc.BorrowUsed(now))
}

func TestReleaseBorrowIgnoresStaleDay(t *testing.T) {
	r := testRegistry(t)
	cc, ok := r.Get("ethereum")
	require.True(t, ok)

	day1 := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	require.True(t, cc.ReserveBorrow(500_000, day1))

	day2 := day1.Add(2 * time.Hour)
	require.True(t, cc.ReserveBorrow(300_000, day2))

	// A release dated before the rollover must not touch today's usage.
	cc.ReleaseBorrow(500_000, day1)
	assert.InDelta(t, 300_000, cc.BorrowUsed(day2), 1e-9)
}

func TestBorrowBudgetUnlimitedWhenZero(t *testing.T) {
	r := testRegistry(t)
	cc, ok := r.Get("polygon")
	require.True(t, ok)

	now := time.Now()
	assert.True(t, cc.ReserveBorrow(10_000_000, now))
	assert.True(t, cc.ReserveBorrow(10_000_000, now))
}

func TestSourceLookup(t *testing.T) {
	r := testRegistry(t)
	cc, _ := r.Get("ethereum")

	src, ok := cc.Source("aavev3")
	require.True(t, ok)
	assert.Equal(t, "aavev3", src.Name)

	_, ok = cc.Source("dydx")
	assert.False(t, ok)
}

func TestNames(t *testing.T) {
	r := testRegistry(t)
	assert.Equal(t, []string{"ethereum", "polygon"}, r.Names())
}
