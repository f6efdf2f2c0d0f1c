package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainarb/chainarb/internal/domain"
)

func TestDecodeCandidatesSingleObject(t *testing.T) {
	data := []byte(`{
		"id": "opp-1",
		"kind": "single_swap",
		"network": "ethereum",
		"pair": "WETH/USDC",
		"expected_profit_usd": 42.5,
		"confidence": 0.8,
		"position_usd": 10000,
		"route": [{"venue": "uniswap", "token_in": "USDC", "token_out": "WETH"}],
		"detected_at": "2026-03-02T12:00:00Z",
		"expires_at": "2026-03-02T12:01:00Z"
	}`)

	opps, err := decodeCandidates(data)
	require.NoError(t, err)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, "opp-1", opp.ID)
	assert.Equal(t, domain.OppSingleSwap, opp.Kind)
	assert.Equal(t, "ethereum", opp.Network)
	assert.Equal(t, 42.5, opp.ExpectedProfitUSD)
	assert.Equal(t, 10_000.0, opp.PositionUSD)
	require.Len(t, opp.Route, 1)
	assert.Equal(t, "uniswap", opp.Route[0].Venue)
	assert.True(t, opp.ExpiresAt.After(opp.DetectedAt))
}

func TestDecodeCandidatesArray(t *testing.T) {
	data := []byte(`[
		{"id": "a", "kind": "single_swap", "network": "ethereum"},
		{"id": "b", "kind": "bridge_arb", "network": "ethereum", "dest_network": "polygon",
		 "bridge": "lock_mint",
		 "route": [{"venue": "uniswap", "token_in": "USDC", "token_out": "WETH"}],
		 "dest_route": [{"venue": "quickswap", "token_in": "WETH", "token_out": "USDC"}]}
	]`)

	opps, err := decodeCandidates(data)
	require.NoError(t, err)
	require.Len(t, opps, 2)

	assert.Equal(t, "a", opps[0].ID)
	assert.Equal(t, "b", opps[1].ID)
	assert.Equal(t, domain.OppBridgeArb, opps[1].Kind)
	assert.Equal(t, "polygon", opps[1].DestNetwork)
	assert.Equal(t, domain.BridgeLockMint, opps[1].Bridge)
	require.Len(t, opps[1].DestRoute, 1)
	assert.Equal(t, "quickswap", opps[1].DestRoute[0].Venue)
}

func TestDecodeCandidatesFlashFields(t *testing.T) {
	data := []byte(`{
		"id": "f-1", "kind": "flash_swap", "network": "ethereum",
		"borrow_usd": 50000, "borrow_source": "aavev3",
		"route": [{"venue": "uniswap", "token_in": "USDC", "token_out": "WETH"},
		          {"venue": "curve", "token_in": "WETH", "token_out": "USDC"}]
	}`)

	opps, err := decodeCandidates(data)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, domain.OppFlashSwap, opps[0].Kind)
	assert.Equal(t, 50_000.0, opps[0].BorrowUSD)
	assert.Equal(t, "aavev3", opps[0].BorrowSource)
	assert.Len(t, opps[0].Route, 2)
}

func TestDecodeCandidatesMalformed(t *testing.T) {
	_, err := decodeCandidates([]byte(`{"id": `))
	assert.Error(t, err)

	_, err = decodeCandidates([]byte(`"just a string"`))
	assert.Error(t, err)
}

func TestDecodeCandidatesEmptyArray(t *testing.T) {
	opps, err := decodeCandidates([]byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, opps)
}
