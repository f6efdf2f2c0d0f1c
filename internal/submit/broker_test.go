package submit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainarb/chainarb/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBrokerSubmitSuccess(t *testing.T) {
	var gotPath, gotKey string
	var gotReq stepRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-API-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(stepResponse{
			Ref:          "0xdeadbeef",
			AmountOutUSD: 10_010,
			Success:      true,
		})
	}))
	defer srv.Close()

	b := NewBroker(srv.URL, "secret", 5*time.Second, testLogger())
	rcpt, err := b.Submit(context.Background(), domain.Step{
		Kind:      domain.StepSwap,
		Network:   "ethereum",
		Venue:     "uniswap",
		TokenIn:   "USDC",
		TokenOut:  "WETH",
		AmountUSD: 10_000,
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/steps", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "swap", gotReq.Kind)
	assert.Equal(t, 10_000.0, gotReq.AmountUSD)
	assert.Equal(t, "0xdeadbeef", rcpt.Ref)
	assert.Equal(t, 10_010.0, rcpt.AmountOutUSD)
}

func TestBrokerSubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(stepResponse{Success: false, Error: "insufficient liquidity"})
	}))
	defer srv.Close()

	b := NewBroker(srv.URL, "", 5*time.Second, testLogger())
	_, err := b.Submit(context.Background(), domain.Step{Kind: domain.StepSwap, Network: "ethereum"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient liquidity")
}

func TestBrokerSubmitHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewBroker(srv.URL, "", 5*time.Second, testLogger())
	_, err := b.Submit(context.Background(), domain.Step{Kind: domain.StepBuy, Network: "polygon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestBrokerSubmitRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects client disconnect and
		// cancels the request context; otherwise Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	b := NewBroker(srv.URL, "", 5*time.Second, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Submit(ctx, domain.Step{Kind: domain.StepSwap, Network: "ethereum"})
	assert.Error(t, err)
}
