package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainarb/chainarb/internal/chainreg"
	"github.com/chainarb/chainarb/internal/domain"
	"github.com/chainarb/chainarb/internal/fees"
	"github.com/chainarb/chainarb/internal/submit"
)

// recordingSubmitter wraps another submitter and records every step kind it
// saw, so tests can assert which steps were and were not attempted.
type recordingSubmitter struct {
	inner Submitter
	mu    sync.Mutex
	kinds []domain.StepKind
}

func (r *recordingSubmitter) Submit(ctx context.Context, step domain.Step) (domain.StepReceipt, error) {
	r.mu.Lock()
	r.kinds = append(r.kinds, step.Kind)
	r.mu.Unlock()
	return r.inner.Submit(ctx, step)
}

func (r *recordingSubmitter) saw(kind domain.StepKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testChains(t *testing.T) (src, dst *chainreg.ChainContext) {
	t.Helper()
	reg, err := chainreg.New([]chainreg.NetworkSpec{
		{
			// 100k gas at 1 gwei on a $1 native token: $1e-4 per transaction.
			Name: "ethereum", MaxConcurrent: 4, GasPriceGwei: 1, NativeUSD: 1,
			Sources: []fees.BorrowSource{
				{Name: "aavev3", Schedule: fees.BpsFee{Bps: 9}},
			},
		},
		{Name: "polygon", MaxConcurrent: 4, GasPriceGwei: 1, NativeUSD: 1},
	})
	require.NoError(t, err)
	src, _ = reg.Get("ethereum")
	dst, _ = reg.Get("polygon")
	return src, dst
}

func flashOpp() *domain.Opportunity {
	now := time.Now().UTC()
	return &domain.Opportunity{
		ID:                "flash-1",
		Kind:              domain.OppFlashSwap,
		Network:           "ethereum",
		Pair:              "WETH/USDC",
		ExpectedProfitUSD: 0.003,
		Confidence:        0.9,
		PositionUSD:       1,
		BorrowUSD:         1,
		BorrowSource:      "aavev3",
		Route: []domain.SwapHop{
			{Venue: "uniswap", TokenIn: "WETH", TokenOut: "USDC"},
			{Venue: "sushiswap", TokenIn: "USDC", TokenOut: "WETH"},
		},
		DetectedAt: now,
		ExpiresAt:  now.Add(time.Minute),
		Status:     domain.OppPending,
	}
}

func crossOpp() *domain.Opportunity {
	now := time.Now().UTC()
	return &domain.Opportunity{
		ID:                "cross-1",
		Kind:              domain.OppBridgeArb,
		Network:           "ethereum",
		DestNetwork:       "polygon",
		Pair:              "WETH/USDC",
		ExpectedProfitUSD: 5,
		Confidence:        0.8,
		PositionUSD:       1000,
		Bridge:            domain.BridgeLockMint,
		Route:             []domain.SwapHop{{Venue: "uniswap", TokenIn: "USDC", TokenOut: "WETH"}},
		DestRoute:         []domain.SwapHop{{Venue: "quickswap", TokenIn: "WETH", TokenOut: "USDC"}},
		DetectedAt:        now,
		ExpiresAt:         now.Add(time.Minute),
		Status:            domain.OppPending,
	}
}

func newTestEngine(sub Submitter) *Engine {
	return New(sub, 100*time.Millisecond, 100_000, discardLogger())
}

func TestBuildPlanFlashSwap(t *testing.T) {
	src, _ := testChains(t)
	e := newTestEngine(submit.NewSimulator(submit.DefaultSimConfig()))

	plan, err := e.BuildPlan(flashOpp(), src, nil)
	require.NoError(t, err)

	kinds := make([]domain.StepKind, len(plan.Steps))
	for i, s := range plan.Steps {
		kinds[i] = s.Kind
	}
	assert.Equal(t, []domain.StepKind{domain.StepBorrow, domain.StepSwap, domain.StepSwap, domain.StepRepay}, kinds)
	assert.InDelta(t, 0.0009, plan.BorrowFeeUSD, 1e-12)
	// Borrow and repay ride inside the bundle: two transactions of gas.
	assert.InDelta(t, 2e-4, plan.EstGasUSD, 1e-12)
	assert.InDelta(t, 1.0009, plan.Steps[3].AmountUSD, 1e-12)
}

func TestBuildPlanCross(t *testing.T) {
	src, dst := testChains(t)
	e := newTestEngine(submit.NewSimulator(submit.DefaultSimConfig()))

	plan, err := e.BuildPlan(crossOpp(), src, dst)
	require.NoError(t, err)

	kinds := make([]domain.StepKind, len(plan.Steps))
	for i, s := range plan.Steps {
		kinds[i] = s.Kind
	}
	assert.Equal(t, []domain.StepKind{domain.StepBuy, domain.StepBridge, domain.StepSell}, kinds)
	assert.Equal(t, "polygon", plan.Steps[2].Network)
	assert.InDelta(t, fees.BridgeFee(domain.BridgeLockMint, 1000), plan.BridgeFeeUSD, 1e-12)

	_, err = e.BuildPlan(crossOpp(), src, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownNetwork)
}

func TestBuildPlanUnknownBorrowSource(t *testing.T) {
	src, _ := testChains(t)
	e := newTestEngine(submit.NewSimulator(submit.DefaultSimConfig()))

	opp := flashOpp()
	opp.BorrowSource = "dydx"
	_, err := e.BuildPlan(opp, src, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownBorrow)
}

// Two-hop flash swap borrowing 1 unit at 9 bps, 0.15% gain per hop, two
// transactions of gas: the realized profit must match the closed form.
func TestFlashSwapRealizedProfitClosedForm(t *testing.T) {
	src, _ := testChains(t)
	e := newTestEngine(submit.NewSimulator(submit.DefaultSimConfig()))

	plan, err := e.BuildPlan(flashOpp(), src, nil)
	require.NoError(t, err)

	res := e.Execute(context.Background(), plan)
	require.True(t, res.Success, "error: %s", res.Err)

	final := 1.0 * 1.0015 * 1.0015
	want := final - (1 + 0.0009) - 2e-4
	assert.InDelta(t, want, res.ProfitUSD, 1e-9)
	assert.InDelta(t, 2e-4, res.GasUSD, 1e-12)
	assert.Len(t, res.Refs, 4)
	assert.Equal(t, domain.FailNone, res.Class)
}

// shortingSubmitter grants less principal than the borrow step asks for and
// records every repay amount it is asked to settle.
type shortingSubmitter struct {
	inner   Submitter
	granted float64

	mu     sync.Mutex
	repays []float64
}

func (s *shortingSubmitter) Submit(ctx context.Context, step domain.Step) (domain.StepReceipt, error) {
	if step.Kind == domain.StepRepay {
		s.mu.Lock()
		s.repays = append(s.repays, step.AmountUSD)
		s.mu.Unlock()
	}
	rcpt, err := s.inner.Submit(ctx, step)
	if err == nil && step.Kind == domain.StepBorrow {
		rcpt.AmountOutUSD = s.granted
	}
	return rcpt, err
}

// The pool grants 0.8 against a 1.0 request: the repay and the profit must
// settle on the confirmed draw, not the plan-time principal.
func TestPartialBorrowSettlesConfirmedDraw(t *testing.T) {
	src, _ := testChains(t)
	short := &shortingSubmitter{inner: submit.NewSimulator(submit.DefaultSimConfig()), granted: 0.8}
	e := newTestEngine(short)

	plan, err := e.BuildPlan(flashOpp(), src, nil)
	require.NoError(t, err)

	res := e.Execute(context.Background(), plan)
	require.True(t, res.Success, "error: %s", res.Err)

	owed := 0.8 * 1.0009 // 9 bps on the confirmed draw
	require.Len(t, short.repays, 1)
	assert.InDelta(t, owed, short.repays[0], 1e-12)

	final := 0.8 * 1.0015 * 1.0015
	assert.InDelta(t, final-owed-2e-4, res.ProfitUSD, 1e-9)
}

// The unwind after a mid-chain failure settles the confirmed draw as well.
func TestPartialBorrowUnwindSettlesConfirmedDraw(t *testing.T) {
	src, _ := testChains(t)
	sim := submit.NewSimulator(submit.DefaultSimConfig())
	sim.FailVenue("sushiswap", "insufficient liquidity")
	short := &shortingSubmitter{inner: sim, granted: 0.8}
	e := newTestEngine(short)

	plan, err := e.BuildPlan(flashOpp(), src, nil)
	require.NoError(t, err)

	res := e.Execute(context.Background(), plan)
	require.False(t, res.Success)
	assert.Equal(t, domain.FailStep, res.Class)

	require.Len(t, short.repays, 1)
	assert.InDelta(t, 0.8*1.0009, short.repays[0], 1e-12)
}

func TestMidChainSwapFailureIsAtomic(t *testing.T) {
	src, _ := testChains(t)
	sim := submit.NewSimulator(submit.DefaultSimConfig())
	sim.FailVenue("sushiswap", "insufficient liquidity")
	rec := &recordingSubmitter{inner: sim}
	e := newTestEngine(rec)

	plan, err := e.BuildPlan(flashOpp(), src, nil)
	require.NoError(t, err)

	res := e.Execute(context.Background(), plan)
	require.False(t, res.Success)
	assert.Equal(t, domain.FailStep, res.Class)
	assert.Zero(t, res.ProfitUSD)

	// The borrow was unwound: repay submitted once, after the failure.
	assert.True(t, rec.saw(domain.StepRepay))
	// Borrow, first swap, unwind repay.
	assert.Len(t, res.Refs, 3)
}

func TestBorrowFailureSkipsRepay(t *testing.T) {
	src, _ := testChains(t)
	sim := submit.NewSimulator(submit.DefaultSimConfig())
	sim.FailVenue("aavev3", "pool frozen")
	rec := &recordingSubmitter{inner: sim}
	e := newTestEngine(rec)

	plan, err := e.BuildPlan(flashOpp(), src, nil)
	require.NoError(t, err)

	res := e.Execute(context.Background(), plan)
	require.False(t, res.Success)
	assert.Zero(t, res.ProfitUSD)
	assert.Empty(t, res.Refs)
	// Repay must never run without a successful borrow.
	assert.False(t, rec.saw(domain.StepRepay))
	assert.False(t, rec.saw(domain.StepSwap))
}

func TestStepTimeoutClassification(t *testing.T) {
	src, _ := testChains(t)
	sim := submit.NewSimulator(submit.DefaultSimConfig())
	sim.HangVenue("uniswap")
	e := New(sim, 20*time.Millisecond, 100_000, discardLogger())

	opp := flashOpp()
	plan, err := e.BuildPlan(opp, src, nil)
	require.NoError(t, err)

	res := e.Execute(context.Background(), plan)
	require.False(t, res.Success)
	// First swap timed out; the borrow is unwound and the timeout stands.
	assert.Equal(t, domain.FailTimeout, res.Class)
	assert.Contains(t, res.Err, "timed out")
}

func TestCrossNetworkSuccess(t *testing.T) {
	src, dst := testChains(t)
	cfg := submit.DefaultSimConfig()
	e := newTestEngine(submit.NewSimulator(cfg))

	plan, err := e.BuildPlan(crossOpp(), src, dst)
	require.NoError(t, err)

	res := e.Execute(context.Background(), plan)
	require.True(t, res.Success, "error: %s", res.Err)

	carry := 1000.0 * (1 + cfg.HopGainBps/10_000)
	carry *= 1 - cfg.BridgeFeeBps/10_000
	carry *= 1 + cfg.HopGainBps/10_000
	want := carry - 1000 - 3e-4
	assert.InDelta(t, want, res.ProfitUSD, 1e-9)
	assert.Len(t, res.Refs, 3)
}

// Buy succeeds, bridge times out: the asset is stranded between networks and
// the sell leg is never attempted.
func TestBridgeTimeoutStrandsAsset(t *testing.T) {
	src, dst := testChains(t)
	sim := submit.NewSimulator(submit.DefaultSimConfig())
	sim.HangVenue(string(domain.BridgeLockMint))
	rec := &recordingSubmitter{inner: sim}
	e := New(rec, 20*time.Millisecond, 100_000, discardLogger())

	plan, err := e.BuildPlan(crossOpp(), src, dst)
	require.NoError(t, err)

	res := e.Execute(context.Background(), plan)
	require.False(t, res.Success)
	assert.Equal(t, domain.FailStranded, res.Class)
	assert.Zero(t, res.ProfitUSD)
	// Only the buy confirmed; its ref is what manual recovery needs.
	assert.Len(t, res.Refs, 1)
	assert.False(t, rec.saw(domain.StepSell))
}

func TestSellFailureAfterBridgeIsStranded(t *testing.T) {
	src, dst := testChains(t)
	sim := submit.NewSimulator(submit.DefaultSimConfig())
	sim.FailVenue("quickswap", "pair delisted")
	e := newTestEngine(sim)

	plan, err := e.BuildPlan(crossOpp(), src, dst)
	require.NoError(t, err)

	res := e.Execute(context.Background(), plan)
	require.False(t, res.Success)
	assert.Equal(t, domain.FailStranded, res.Class)
	assert.Len(t, res.Refs, 2)
}

func TestBuyFailureIsPlainStepFailure(t *testing.T) {
	src, dst := testChains(t)
	sim := submit.NewSimulator(submit.DefaultSimConfig())
	sim.FailVenue("uniswap", "slippage")
	rec := &recordingSubmitter{inner: sim}
	e := newTestEngine(rec)

	plan, err := e.BuildPlan(crossOpp(), src, dst)
	require.NoError(t, err)

	res := e.Execute(context.Background(), plan)
	require.False(t, res.Success)
	// Nothing left the source network; this is not a stranding.
	assert.Equal(t, domain.FailStep, res.Class)
	assert.False(t, rec.saw(domain.StepSell))
}

func TestEstimateNet(t *testing.T) {
	src, _ := testChains(t)
	e := newTestEngine(submit.NewSimulator(submit.DefaultSimConfig()))

	opp := flashOpp()
	net, err := e.EstimateNet(opp, src, nil)
	require.NoError(t, err)
	assert.InDelta(t, opp.ExpectedProfitUSD-0.0009-2e-4, net, 1e-12)
}
