// Package ranking orders opportunity candidates for dispatch. Rankers are
// pluggable; the scheduler only sees the interface.
package ranking

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chainarb/chainarb/internal/domain"
)

// Ranker orders candidates in place, best first. Implementations must be
// deterministic and stable: the same input set always yields the same order.
type Ranker interface {
	Name() string
	Rank(candidates []*domain.Opportunity)
}

// DefaultRanker orders by expected profit descending, breaking ties by
// confidence descending and finally by ID ascending.
type DefaultRanker struct{}

func (DefaultRanker) Name() string { return "default" }

func (DefaultRanker) Rank(candidates []*domain.Opportunity) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ExpectedProfitUSD != b.ExpectedProfitUSD {
			return a.ExpectedProfitUSD > b.ExpectedProfitUSD
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.ID < b.ID
	})
}

// ConfidenceWeightedRanker orders by profit scaled by confidence, so a
// high-confidence modest edge can outrank a speculative large one.
type ConfidenceWeightedRanker struct{}

func (ConfidenceWeightedRanker) Name() string { return "confidence_weighted" }

func (ConfidenceWeightedRanker) Rank(candidates []*domain.Opportunity) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		wa := a.ExpectedProfitUSD * a.Confidence
		wb := b.ExpectedProfitUSD * b.Confidence
		if wa != wb {
			return wa > wb
		}
		return a.ID < b.ID
	})
}

// Registry manages a named collection of rankers that can be looked up at
// runtime. It is safe for concurrent use.
type Registry struct {
	rankers map[string]Ranker
	mu      sync.RWMutex
}

// NewRegistry returns a Registry preloaded with the built-in rankers.
func NewRegistry() *Registry {
	r := &Registry{rankers: make(map[string]Ranker)}
	r.Register(DefaultRanker{})
	r.Register(ConfidenceWeightedRanker{})
	return r
}

// Register adds a ranker under its own name. An existing ranker with the
// same name is replaced.
func (r *Registry) Register(rk Ranker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rankers[rk.Name()] = rk
}

// Get retrieves a ranker by name. It returns an error when the name is not
// registered.
func (r *Registry) Get(name string) (Ranker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rk, ok := r.rankers[name]
	if !ok {
		return nil, fmt.Errorf("ranker %q: not registered", name)
	}
	return rk, nil
}

// List returns the names of all registered rankers in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rankers))
	for n := range r.rankers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
