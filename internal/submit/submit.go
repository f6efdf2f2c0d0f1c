// Package submit provides the step submission collaborators the execution
// engine drives. The live submitter posts each step to an external broker
// that owns signing and broadcast; the simulator computes deterministic
// outcomes for paper trading and tests.
package submit

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/chainarb/chainarb/internal/domain"
)

// SimConfig tunes the simulator's deterministic price model.
type SimConfig struct {
	// HopGainBps is the net gain applied by every swap, buy, and sell step,
	// in basis points on the step's input notional.
	HopGainBps float64
	// BridgeFeeBps is the fee taken by every bridge step.
	BridgeFeeBps float64
}

// DefaultSimConfig mirrors the fee assumptions the detector prices with.
func DefaultSimConfig() SimConfig {
	return SimConfig{HopGainBps: 15, BridgeFeeBps: 10}
}

// Simulator is a deterministic Submitter for paper mode and tests. Outputs
// are pure functions of the step and the submission sequence number; there
// is no randomness and no sleeping. Venues can be scripted to fail or hang
// so failure paths are reproducible.
type Simulator struct {
	cfg SimConfig
	seq atomic.Uint64

	mu      sync.Mutex
	failing map[string]string // venue -> error message
	hanging map[string]bool   // venue -> block until ctx deadline
}

// NewSimulator creates a Simulator with the given price model.
func NewSimulator(cfg SimConfig) *Simulator {
	return &Simulator{
		cfg:     cfg,
		failing: make(map[string]string),
		hanging: make(map[string]bool),
	}
}

// FailVenue scripts every subsequent step on venue to fail with msg.
func (s *Simulator) FailVenue(venue, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[venue] = msg
}

// HangVenue scripts every subsequent step on venue to block until the
// submission context expires, exercising the per-step timeout path.
func (s *Simulator) HangVenue(venue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hanging[venue] = true
}

// ClearVenue removes any scripted behavior for venue.
func (s *Simulator) ClearVenue(venue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failing, venue)
	delete(s.hanging, venue)
}

// Submit implements engine.Submitter.
func (s *Simulator) Submit(ctx context.Context, step domain.Step) (domain.StepReceipt, error) {
	s.mu.Lock()
	failMsg, failed := s.failing[step.Venue]
	hang := s.hanging[step.Venue]
	s.mu.Unlock()

	if hang {
		<-ctx.Done()
		return domain.StepReceipt{}, ctx.Err()
	}
	if failed {
		return domain.StepReceipt{}, fmt.Errorf("sim: %s on %s: %s", step.Kind, step.Venue, failMsg)
	}

	n := s.seq.Add(1)
	rcpt := domain.StepReceipt{Ref: simRef(step, n)}

	switch step.Kind {
	case domain.StepBorrow:
		rcpt.AmountOutUSD = step.AmountUSD
	case domain.StepRepay:
		// Settlement leg; nothing tradable comes out.
	case domain.StepBridge:
		rcpt.AmountOutUSD = step.AmountUSD * (1 - s.cfg.BridgeFeeBps/10_000)
	default: // swap, buy, sell
		rcpt.AmountOutUSD = step.AmountUSD * (1 + s.cfg.HopGainBps/10_000)
	}
	return rcpt, nil
}

// simRef derives a stable transaction-hash-shaped reference from the step
// identity and the submission sequence number.
func simRef(step domain.Step, seq uint64) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(step.Network))
	h.Write([]byte(step.Venue))
	h.Write([]byte(step.Kind))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	h.Write(buf[:])
	return common.BytesToHash(h.Sum(nil)).Hex()
}
