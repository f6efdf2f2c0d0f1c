package domain

import (
	"fmt"
	"time"
)

// OppKind classifies the shape of an arbitrage opportunity.
type OppKind string

const (
	// OppSingleSwap is a plain same-network swap chain funded by inventory.
	OppSingleSwap OppKind = "single_swap"
	// OppFlashSwap is a same-network swap chain funded by a flash borrow.
	OppFlashSwap OppKind = "flash_swap"
	// OppBridgeArb buys on one network, bridges, and sells on another.
	OppBridgeArb OppKind = "bridge_arb"
	// OppCrossSwap is a bridge arb whose legs are themselves swap chains.
	OppCrossSwap OppKind = "cross_swap"
)

// IsCross reports whether the kind spans two networks.
func (k OppKind) IsCross() bool {
	return k == OppBridgeArb || k == OppCrossSwap
}

// IsBorrowed reports whether the kind is funded by a flash borrow.
func (k OppKind) IsBorrowed() bool {
	return k == OppFlashSwap
}

// Tier is the dispatch priority band assigned by ranking.
type Tier int

const (
	TierLow Tier = iota // never dispatched
	TierMedium
	TierHigh
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "critical"
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	default:
		return "low"
	}
}

// OppStatus is the lifecycle state of an opportunity.
type OppStatus string

const (
	OppPending   OppStatus = "pending"
	OppQueued    OppStatus = "queued"
	OppExecuting OppStatus = "executing"
	OppSuccess   OppStatus = "success"
	OppFailed    OppStatus = "failed"
	OppExpired   OppStatus = "expired"
)

// Terminal reports whether the status ends the lifecycle.
func (s OppStatus) Terminal() bool {
	return s == OppSuccess || s == OppFailed || s == OppExpired
}

// CanTransition reports whether moving to next is a legal lifecycle step.
// Transitions are monotonic: terminal states have no successors.
func (s OppStatus) CanTransition(next OppStatus) bool {
	switch s {
	case OppPending:
		return next == OppQueued || next == OppExpired || next == OppFailed
	case OppQueued:
		return next == OppExecuting || next == OppFailed || next == OppExpired
	case OppExecuting:
		return next == OppSuccess || next == OppFailed
	default:
		return false
	}
}

// SwapHop is one venue hop in a swap route.
type SwapHop struct {
	Venue    string
	TokenIn  string
	TokenOut string
}

// BridgeKind names the bridge used by cross-network opportunities.
type BridgeKind string

const (
	BridgeNone      BridgeKind = ""
	BridgeNative    BridgeKind = "native"
	BridgeLockMint  BridgeKind = "lock_mint"
	BridgeLiquidity BridgeKind = "liquidity"
)

// Opportunity is a time-limited candidate detected by an external scanner.
// The scheduler owns it from ingest until a terminal status.
type Opportunity struct {
	ID                string
	Kind              OppKind
	Network           string
	DestNetwork       string // cross kinds only
	Pair              string // display pair, e.g. "WETH/USDC"
	ExpectedProfitUSD float64
	Confidence        float64 // [0,1]
	PositionUSD       float64
	BorrowUSD         float64 // flash_swap only
	BorrowSource      string  // flash_swap only
	Route             []SwapHop
	DestRoute         []SwapHop // cross_swap only
	Bridge            BridgeKind
	DetectedAt        time.Time
	ExpiresAt         time.Time
	Tier              Tier
	Status            OppStatus
}

// Expired reports whether the opportunity's window has closed at now.
func (o *Opportunity) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// Validate checks structural soundness at ingest time.
func (o *Opportunity) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("opportunity: %w: empty id", ErrInvalidOpportunity)
	}
	if o.Network == "" {
		return fmt.Errorf("opportunity %s: %w: empty network", o.ID, ErrInvalidOpportunity)
	}
	if !o.ExpiresAt.After(o.DetectedAt) {
		return fmt.Errorf("opportunity %s: %w: expires_at not after detected_at", o.ID, ErrInvalidOpportunity)
	}
	if o.Confidence < 0 || o.Confidence > 1 {
		return fmt.Errorf("opportunity %s: %w: confidence %.3f out of range", o.ID, ErrInvalidOpportunity, o.Confidence)
	}
	if o.PositionUSD <= 0 {
		return fmt.Errorf("opportunity %s: %w: non-positive position", o.ID, ErrInvalidOpportunity)
	}
	switch o.Kind {
	case OppSingleSwap:
		if len(o.Route) == 0 {
			return fmt.Errorf("opportunity %s: %w: empty route", o.ID, ErrInvalidOpportunity)
		}
	case OppFlashSwap:
		if len(o.Route) == 0 {
			return fmt.Errorf("opportunity %s: %w: empty route", o.ID, ErrInvalidOpportunity)
		}
		if o.BorrowUSD <= 0 {
			return fmt.Errorf("opportunity %s: %w: non-positive borrow", o.ID, ErrInvalidOpportunity)
		}
		if o.BorrowSource == "" {
			return fmt.Errorf("opportunity %s: %w: empty borrow source", o.ID, ErrInvalidOpportunity)
		}
	case OppBridgeArb, OppCrossSwap:
		if o.DestNetwork == "" || o.DestNetwork == o.Network {
			return fmt.Errorf("opportunity %s: %w: bad dest network", o.ID, ErrInvalidOpportunity)
		}
		if o.Bridge == BridgeNone {
			return fmt.Errorf("opportunity %s: %w: missing bridge", o.ID, ErrInvalidOpportunity)
		}
		// The buy leg comes from Route, the sell leg from DestRoute.
		if len(o.Route) == 0 || len(o.DestRoute) == 0 {
			return fmt.Errorf("opportunity %s: %w: cross kinds need both routes", o.ID, ErrInvalidOpportunity)
		}
	default:
		return fmt.Errorf("opportunity %s: %w: unknown kind %q", o.ID, ErrInvalidOpportunity, o.Kind)
	}
	return nil
}
