package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSwap() Opportunity {
	now := time.Now().UTC()
	return Opportunity{
		ID:                "opp-1",
		Kind:              OppSingleSwap,
		Network:           "ethereum",
		Pair:              "WETH/USDC",
		ExpectedProfitUSD: 120,
		Confidence:        0.8,
		PositionUSD:       10_000,
		Route:             []SwapHop{{Venue: "uniswap", TokenIn: "USDC", TokenOut: "WETH"}},
		DetectedAt:        now,
		ExpiresAt:         now.Add(30 * time.Second),
		Status:            OppPending,
	}
}

func TestValidateAcceptsSoundCandidate(t *testing.T) {
	opp := validSwap()
	require.NoError(t, opp.Validate())
}

func TestValidateRejectsExpiryNotAfterDetection(t *testing.T) {
	opp := validSwap()
	opp.ExpiresAt = opp.DetectedAt
	err := opp.Validate()
	require.ErrorIs(t, err, ErrInvalidOpportunity)

	opp.ExpiresAt = opp.DetectedAt.Add(-time.Second)
	require.ErrorIs(t, opp.Validate(), ErrInvalidOpportunity)
}

func TestValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Opportunity)
	}{
		{"empty id", func(o *Opportunity) { o.ID = "" }},
		{"empty network", func(o *Opportunity) { o.Network = "" }},
		{"confidence above one", func(o *Opportunity) { o.Confidence = 1.2 }},
		{"negative confidence", func(o *Opportunity) { o.Confidence = -0.1 }},
		{"zero position", func(o *Opportunity) { o.PositionUSD = 0 }},
		{"empty route", func(o *Opportunity) { o.Route = nil }},
		{"unknown kind", func(o *Opportunity) { o.Kind = "teleport" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opp := validSwap()
			tc.mutate(&opp)
			assert.ErrorIs(t, opp.Validate(), ErrInvalidOpportunity)
		})
	}
}

func TestValidateFlashSwapRequirements(t *testing.T) {
	opp := validSwap()
	opp.Kind = OppFlashSwap
	require.ErrorIs(t, opp.Validate(), ErrInvalidOpportunity) // no borrow amount

	opp.BorrowUSD = 25_000
	require.ErrorIs(t, opp.Validate(), ErrInvalidOpportunity) // no source

	opp.BorrowSource = "aavev3"
	require.NoError(t, opp.Validate())
}

func TestValidateCrossRequirements(t *testing.T) {
	opp := validSwap()
	opp.Kind = OppBridgeArb
	opp.DestRoute = []SwapHop{{Venue: "quickswap", TokenIn: "WETH", TokenOut: "USDC"}}
	opp.Bridge = BridgeLockMint

	require.ErrorIs(t, opp.Validate(), ErrInvalidOpportunity) // no dest network

	opp.DestNetwork = opp.Network
	require.ErrorIs(t, opp.Validate(), ErrInvalidOpportunity) // same network

	opp.DestNetwork = "polygon"
	require.NoError(t, opp.Validate())

	opp.Bridge = BridgeNone
	require.ErrorIs(t, opp.Validate(), ErrInvalidOpportunity)
}

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	assert.True(t, OppPending.CanTransition(OppQueued))
	assert.True(t, OppPending.CanTransition(OppExpired))
	assert.True(t, OppQueued.CanTransition(OppExecuting))
	assert.True(t, OppExecuting.CanTransition(OppSuccess))
	assert.True(t, OppExecuting.CanTransition(OppFailed))

	// No path re-enters pending and terminal states have no successors.
	for _, from := range []OppStatus{OppQueued, OppExecuting, OppSuccess, OppFailed, OppExpired} {
		assert.False(t, from.CanTransition(OppPending), "from %s", from)
	}
	for _, terminal := range []OppStatus{OppSuccess, OppFailed, OppExpired} {
		assert.True(t, terminal.Terminal())
		for _, to := range []OppStatus{OppPending, OppQueued, OppExecuting, OppSuccess, OppFailed, OppExpired} {
			assert.False(t, terminal.CanTransition(to), "%s -> %s", terminal, to)
		}
	}
}

func TestExpired(t *testing.T) {
	opp := validSwap()
	assert.False(t, opp.Expired(opp.ExpiresAt.Add(-time.Millisecond)))
	assert.True(t, opp.Expired(opp.ExpiresAt))
	assert.True(t, opp.Expired(opp.ExpiresAt.Add(time.Second)))
}
