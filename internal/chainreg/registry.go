// Package chainreg tracks per-network execution capacity: concurrency slots,
// flash-borrow budgets, gas pricing, and profit floors. One ChainContext
// exists per configured network; the Registry is safe for concurrent use.
package chainreg

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/chainarb/chainarb/internal/fees"
)

// NetworkSpec is the static description of one network, mapped from config
// at wire time.
type NetworkSpec struct {
	Name                string
	MaxConcurrent       int64
	MinProfitUSD        float64
	GasPriceGwei        float64
	NativeUSD           float64
	BlockTime           time.Duration
	DailyBorrowLimitUSD float64 // 0 means no limit
	Sources             []fees.BorrowSource
	Paused              bool
}

// ChainContext holds the live execution state for one network. Slots are a
// weighted semaphore so a full network never blocks the dispatch loop; the
// scheduler skips and retries on a later tick.
type ChainContext struct {
	Name                string
	MaxConcurrent       int64
	MinProfitUSD        float64
	GasPriceGwei        float64
	NativeUSD           float64
	BlockTime           time.Duration
	DailyBorrowLimitUSD float64

	sem      *semaphore.Weighted
	inFlight atomic.Int64
	paused   atomic.Bool

	mu         sync.Mutex
	borrowUsed float64
	borrowDay  string // UTC date of the current usage window

	sources map[string]fees.BorrowSource
}

func newChainContext(spec NetworkSpec) *ChainContext {
	cc := &ChainContext{
		Name:                spec.Name,
		MaxConcurrent:       spec.MaxConcurrent,
		MinProfitUSD:        spec.MinProfitUSD,
		GasPriceGwei:        spec.GasPriceGwei,
		NativeUSD:           spec.NativeUSD,
		BlockTime:           spec.BlockTime,
		DailyBorrowLimitUSD: spec.DailyBorrowLimitUSD,
		sem:                 semaphore.NewWeighted(spec.MaxConcurrent),
		sources:             make(map[string]fees.BorrowSource, len(spec.Sources)),
	}
	cc.paused.Store(spec.Paused)
	for _, s := range spec.Sources {
		cc.sources[s.Name] = s
	}
	return cc
}

// TryAcquire takes one execution slot without blocking. It fails when the
// network is paused or at capacity.
func (c *ChainContext) TryAcquire() bool {
	if c.paused.Load() {
		return false
	}
	if !c.sem.TryAcquire(1) {
		return false
	}
	c.inFlight.Add(1)
	return true
}

// Release returns one execution slot. Callers must pair every successful
// TryAcquire with exactly one Release.
func (c *ChainContext) Release() {
	c.inFlight.Add(-1)
	c.sem.Release(1)
}

// InFlight returns the number of executions currently holding a slot.
func (c *ChainContext) InFlight() int64 {
	return c.inFlight.Load()
}

// Paused reports whether dispatch to this network is suspended.
func (c *ChainContext) Paused() bool {
	return c.paused.Load()
}

// SetPaused toggles dispatch suspension. In-flight executions finish.
func (c *ChainContext) SetPaused(v bool) {
	c.paused.Store(v)
}

// Source looks up a flash-borrow source by name.
func (c *ChainContext) Source(name string) (fees.BorrowSource, bool) {
	s, ok := c.sources[name]
	return s, ok
}

// ReserveBorrow accrues amountUSD against the network's daily borrow budget.
// Usage resets at UTC midnight. The budget bounds gross borrow volume per
// day, not outstanding principal; an execution's reservation is not returned
// when it finishes. Only a reservation whose borrow step was never submitted
// may be handed back via ReleaseBorrow.
func (c *ChainContext) ReserveBorrow(amountUSD float64, now time.Time) bool {
	if amountUSD <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	day := now.UTC().Format("2006-01-02")
	if day != c.borrowDay {
		c.borrowDay = day
		c.borrowUsed = 0
	}
	if c.DailyBorrowLimitUSD > 0 && c.borrowUsed+amountUSD > c.DailyBorrowLimitUSD {
		return false
	}
	c.borrowUsed += amountUSD
	return true
}

// ReleaseBorrow hands back a reservation whose borrow step was never
// submitted, such as a candidate denied by the risk gate after reserving.
// Releases from a previous UTC day are ignored and usage never drops
// below zero.
func (c *ChainContext) ReleaseBorrow(amountUSD float64, now time.Time) {
	if amountUSD <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if now.UTC().Format("2006-01-02") != c.borrowDay {
		return
	}
	c.borrowUsed -= amountUSD
	if c.borrowUsed < 0 {
		c.borrowUsed = 0
	}
}

// BorrowUsed returns the borrow volume accrued in the current UTC day.
func (c *ChainContext) BorrowUsed(now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.UTC().Format("2006-01-02") != c.borrowDay {
		return 0
	}
	return c.borrowUsed
}

// Registry is the set of configured networks.
type Registry struct {
	mu     sync.RWMutex
	chains map[string]*ChainContext
}

// New builds a Registry from network specs. Duplicate names are an error.
func New(specs []NetworkSpec) (*Registry, error) {
	r := &Registry{chains: make(map[string]*ChainContext, len(specs))}
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("chainreg: empty network name")
		}
		if _, dup := r.chains[spec.Name]; dup {
			return nil, fmt.Errorf("chainreg: duplicate network %q", spec.Name)
		}
		if spec.MaxConcurrent < 1 {
			return nil, fmt.Errorf("chainreg: network %q: max_concurrent must be >= 1", spec.Name)
		}
		r.chains[spec.Name] = newChainContext(spec)
	}
	return r, nil
}

// Get retrieves a network by name.
func (r *Registry) Get(network string) (*ChainContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[network]
	return c, ok
}

// Names returns all configured network names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.chains))
	for n := range r.chains {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TryReserveSlot takes an execution slot on the named network. Unknown
// networks always fail.
func (r *Registry) TryReserveSlot(network string) bool {
	c, ok := r.Get(network)
	if !ok {
		return false
	}
	return c.TryAcquire()
}

// ReleaseSlot returns an execution slot on the named network.
func (r *Registry) ReleaseSlot(network string) {
	if c, ok := r.Get(network); ok {
		c.Release()
	}
}

// InFlight returns the number of in-flight executions on the named network.
func (r *Registry) InFlight(network string) int64 {
	c, ok := r.Get(network)
	if !ok {
		return 0
	}
	return c.InFlight()
}
