// Package feed consumes opportunity candidates from external detectors and
// pushes them into the scheduler. Feeds only decode and forward; validation
// and deduplication happen at ingest.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chainarb/chainarb/internal/domain"
)

// Ingester receives decoded candidates. The scheduler implements it.
type Ingester interface {
	Ingest(ctx context.Context, candidates []domain.Opportunity) int
}

// candidate is the JSON wire shape detectors publish. One message carries
// either a single candidate object or an array of them.
type candidate struct {
	ID           string         `json:"id"`
	Kind         string         `json:"kind"`
	Network      string         `json:"network"`
	DestNetwork  string         `json:"dest_network,omitempty"`
	Pair         string         `json:"pair"`
	ProfitUSD    float64        `json:"expected_profit_usd"`
	Confidence   float64        `json:"confidence"`
	PositionUSD  float64        `json:"position_usd"`
	BorrowUSD    float64        `json:"borrow_usd,omitempty"`
	BorrowSource string         `json:"borrow_source,omitempty"`
	Route        []candidateHop `json:"route"`
	DestRoute    []candidateHop `json:"dest_route,omitempty"`
	Bridge       string         `json:"bridge,omitempty"`
	DetectedAt   time.Time      `json:"detected_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
}

type candidateHop struct {
	Venue    string `json:"venue"`
	TokenIn  string `json:"token_in"`
	TokenOut string `json:"token_out"`
}

func (c candidate) toDomain() domain.Opportunity {
	opp := domain.Opportunity{
		ID:                c.ID,
		Kind:              domain.OppKind(c.Kind),
		Network:           c.Network,
		DestNetwork:       c.DestNetwork,
		Pair:              c.Pair,
		ExpectedProfitUSD: c.ProfitUSD,
		Confidence:        c.Confidence,
		PositionUSD:       c.PositionUSD,
		BorrowUSD:         c.BorrowUSD,
		BorrowSource:      c.BorrowSource,
		Bridge:            domain.BridgeKind(c.Bridge),
		DetectedAt:        c.DetectedAt,
		ExpiresAt:         c.ExpiresAt,
	}
	for _, h := range c.Route {
		opp.Route = append(opp.Route, domain.SwapHop{Venue: h.Venue, TokenIn: h.TokenIn, TokenOut: h.TokenOut})
	}
	for _, h := range c.DestRoute {
		opp.DestRoute = append(opp.DestRoute, domain.SwapHop{Venue: h.Venue, TokenIn: h.TokenIn, TokenOut: h.TokenOut})
	}
	return opp
}

// decodeCandidates accepts both a single JSON object and a JSON array.
func decodeCandidates(data []byte) ([]domain.Opportunity, error) {
	var many []candidate
	if err := json.Unmarshal(data, &many); err == nil {
		out := make([]domain.Opportunity, 0, len(many))
		for _, c := range many {
			out = append(out, c.toDomain())
		}
		return out, nil
	}
	var one candidate
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("feed: decode candidate: %w", err)
	}
	return []domain.Opportunity{one.toDomain()}, nil
}
