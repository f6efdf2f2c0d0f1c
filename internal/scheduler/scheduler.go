// Package scheduler owns the opportunity lifecycle: ingest, prioritization,
// risk-gated dispatch, and retirement. It runs a single coordinating tick
// loop; each dispatched execution runs as its own goroutine, bounded per
// network by the chain registry's slots.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainarb/chainarb/internal/chainreg"
	"github.com/chainarb/chainarb/internal/domain"
	"github.com/chainarb/chainarb/internal/engine"
	"github.com/chainarb/chainarb/internal/events"
	"github.com/chainarb/chainarb/internal/metrics"
	"github.com/chainarb/chainarb/internal/ranking"
	"github.com/chainarb/chainarb/internal/risk"
)

// Config holds the tick loop and history parameters.
type Config struct {
	TickInterval  time.Duration
	DispatchDelay time.Duration
	HistoryLimit  int
}

// HistoryEntry is one retired opportunity with its execution result, when an
// execution happened. Expired and never-dispatched entries carry a nil
// result.
type HistoryEntry struct {
	Opportunity domain.Opportunity
	Result      *domain.ExecutionResult
	RetiredAt   time.Time
}

// Scheduler coordinates opportunities from ingest to a terminal state. All
// opportunity mutation happens here; feeds only push candidates in and the
// engine only turns plans into results.
type Scheduler struct {
	cfg    Config
	chains *chainreg.Registry
	gate   *risk.Gate
	engine *engine.Engine
	ranker ranking.Ranker
	sink   events.Sink
	store  domain.HistoryStore // optional durable history
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	pending    map[string]*domain.Opportunity
	history    []HistoryEntry
	historyIDs map[string]struct{}

	wg sync.WaitGroup // in-flight executions
}

// New creates a Scheduler. store may be nil to keep history in memory only.
func New(
	cfg Config,
	chains *chainreg.Registry,
	gate *risk.Gate,
	eng *engine.Engine,
	ranker ranking.Ranker,
	sink events.Sink,
	store domain.HistoryStore,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		chains:     chains,
		gate:       gate,
		engine:     eng,
		ranker:     ranker,
		sink:       sink,
		store:      store,
		logger:     logger.With(slog.String("component", "scheduler")),
		now:        time.Now,
		pending:    make(map[string]*domain.Opportunity),
		historyIDs: make(map[string]struct{}),
	}
}

// Ingest validates candidates and adds the sound ones to the pending set.
// Malformed candidates are rejected and counted; duplicate ids, including
// ids already retired, are silently ignored. Returns the accepted count.
func (s *Scheduler) Ingest(ctx context.Context, candidates []domain.Opportunity) int {
	accepted := 0
	for i := range candidates {
		opp := candidates[i]
		if err := s.validate(&opp); err != nil {
			metrics.ValidationRejectedTotal.Inc()
			s.logger.Warn("candidate rejected",
				slog.String("opportunity_id", opp.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.mu.Lock()
		_, inPending := s.pending[opp.ID]
		_, inHistory := s.historyIDs[opp.ID]
		if inPending || inHistory {
			s.mu.Unlock()
			s.logger.Debug("duplicate candidate ignored", slog.String("opportunity_id", opp.ID))
			continue
		}
		opp.Status = domain.OppPending
		opp.Tier = domain.TierLow
		s.pending[opp.ID] = &opp
		s.mu.Unlock()

		accepted++
		metrics.IngestedTotal.Inc()
		s.emit(ctx, domain.Event{
			Type:          domain.EventDetected,
			Severity:      domain.SeverityInfo,
			OpportunityID: opp.ID,
			Network:       opp.Network,
		})
	}
	return accepted
}

// validate extends the structural check with registry lookups: the networks
// and the borrow source must be configured.
func (s *Scheduler) validate(opp *domain.Opportunity) error {
	if err := opp.Validate(); err != nil {
		return err
	}
	src, ok := s.chains.Get(opp.Network)
	if !ok {
		return fmt.Errorf("scheduler: %w: %s", domain.ErrUnknownNetwork, opp.Network)
	}
	if opp.Kind.IsCross() {
		if _, ok := s.chains.Get(opp.DestNetwork); !ok {
			return fmt.Errorf("scheduler: %w: %s", domain.ErrUnknownNetwork, opp.DestNetwork)
		}
	}
	if opp.Kind.IsBorrowed() {
		if _, ok := src.Source(opp.BorrowSource); !ok {
			return fmt.Errorf("scheduler: network %s: %w: %s", opp.Network, domain.ErrUnknownBorrow, opp.BorrowSource)
		}
	}
	return nil
}

// Run drives the tick loop until ctx is cancelled, then waits for in-flight
// executions to finish. Executions are never cancelled mid-flight; steps
// already submitted cannot be unwound.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		slog.Duration("tick", s.cfg.TickInterval),
		slog.String("ranker", s.ranker.Name()),
	)
	defer s.logger.Info("scheduler stopped")

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("waiting for in-flight executions")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one scheduling round: prioritize, dispatch, retire.
func (s *Scheduler) tick(ctx context.Context) {
	ranked := s.prioritize()
	s.dispatch(ctx, ranked)
	s.retire(ctx)
	s.updateGauges()
}

// prioritize ranks the dispatchable pending set and assigns tiers. Candidates
// whose estimated net profit is below their network's floor are excluded from
// ranking; they stay pending and eventually expire.
func (s *Scheduler) prioritize() []*domain.Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	candidates := make([]*domain.Opportunity, 0, len(s.pending))
	for _, opp := range s.pending {
		if opp.Status != domain.OppPending || opp.Expired(now) {
			continue
		}
		src, ok := s.chains.Get(opp.Network)
		if !ok {
			continue
		}
		var dst *chainreg.ChainContext
		if opp.Kind.IsCross() {
			dst, _ = s.chains.Get(opp.DestNetwork)
		}
		net, err := s.engine.EstimateNet(opp, src, dst)
		if err != nil || net < src.MinProfitUSD {
			continue
		}
		candidates = append(candidates, opp)
	}

	s.ranker.Rank(candidates)
	assignTiers(candidates)
	return candidates
}

// assignTiers buckets a ranked list by percentile: the top 5% is CRITICAL,
// the next 10% HIGH, the next 15% MEDIUM, and the remainder LOW. Boundaries
// round up so small sets still produce a CRITICAL head.
func assignTiers(ranked []*domain.Opportunity) {
	n := len(ranked)
	nCrit := ceilFrac(n, 5)
	nHigh := ceilFrac(n, 10)
	nMed := ceilFrac(n, 15)
	for i, opp := range ranked {
		switch {
		case i < nCrit:
			opp.Tier = domain.TierCritical
		case i < nCrit+nHigh:
			opp.Tier = domain.TierHigh
		case i < nCrit+nHigh+nMed:
			opp.Tier = domain.TierMedium
		default:
			opp.Tier = domain.TierLow
		}
	}
}

func ceilFrac(n, pct int) int {
	return (n*pct + 99) / 100
}

// dispatch walks the ranked candidates best first and hands authorized ones
// to the engine, one goroutine per execution. A failure to dispatch one
// candidate never halts the loop; an open breaker halts dispatch globally
// while leaving candidates pending.
func (s *Scheduler) dispatch(ctx context.Context, ranked []*domain.Opportunity) {
	for _, opp := range ranked {
		if opp.Tier == domain.TierLow {
			continue
		}
		if s.gate.BreakerOpen() {
			s.logger.Debug("dispatch halted: circuit breaker open")
			return
		}

		// Last-moment expiry check. Dispatch is the point of no return, so
		// the window is verified immediately before it.
		s.mu.Lock()
		cur, ok := s.pending[opp.ID]
		if !ok || cur.Status != domain.OppPending {
			s.mu.Unlock()
			continue
		}
		if cur.Expired(s.now().UTC()) {
			s.setStatusLocked(cur, domain.OppExpired)
			s.moveToHistoryLocked(cur, nil)
			s.mu.Unlock()
			metrics.ExpiredTotal.Inc()
			s.emit(ctx, domain.Event{
				Type:          domain.EventExpired,
				Severity:      domain.SeverityInfo,
				OpportunityID: opp.ID,
				Network:       opp.Network,
				Class:         domain.FailExpired,
			})
			continue
		}
		s.mu.Unlock()

		src, ok := s.chains.Get(opp.Network)
		if !ok {
			continue
		}
		var dst *chainreg.ChainContext
		if opp.Kind.IsCross() {
			dst, _ = s.chains.Get(opp.DestNetwork)
		}

		plan, err := s.engine.BuildPlan(opp, src, dst)
		if err != nil {
			s.terminalFail(ctx, opp, domain.FailValidation, err.Error())
			continue
		}

		if !s.chains.TryReserveSlot(opp.Network) {
			continue // stays pending, retried next tick
		}
		if opp.Kind.IsBorrowed() && !src.ReserveBorrow(opp.BorrowUSD, s.now()) {
			s.chains.ReleaseSlot(opp.Network)
			s.logger.Debug("daily borrow budget exhausted",
				slog.String("network", opp.Network),
				slog.String("opportunity_id", opp.ID),
			)
			continue // stays pending until budget rolls over or it expires
		}

		allowed, reason := s.gate.Authorize(opp.Network, opp.PositionUSD, opp.Confidence)
		if !allowed {
			s.chains.ReleaseSlot(opp.Network)
			if opp.Kind.IsBorrowed() {
				// The borrow step never ran, so the reservation goes back.
				src.ReleaseBorrow(opp.BorrowUSD, s.now())
			}
			metrics.RiskDeniedTotal.Inc()
			s.terminalFail(ctx, opp, domain.FailRiskDenied, reason)
			continue
		}

		s.mu.Lock()
		s.setStatusLocked(opp, domain.OppQueued)
		s.mu.Unlock()

		metrics.DispatchedTotal.Inc()
		metrics.ExecutingGauge.WithLabelValues(opp.Network).Inc()
		s.emit(ctx, domain.Event{
			Type:          domain.EventDispatched,
			Severity:      domain.SeverityInfo,
			OpportunityID: opp.ID,
			Network:       opp.Network,
		})

		// Executions survive scheduler shutdown; submitted steps cannot be
		// recalled, so the goroutine keeps a non-cancellable context and the
		// per-step deadlines inside the engine bound its lifetime.
		execCtx := context.WithoutCancel(ctx)
		s.wg.Add(1)
		go s.runExecution(execCtx, opp, plan)

		if s.cfg.DispatchDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.DispatchDelay):
			}
		}
	}
}

// runExecution drives one plan through the engine and records the outcome.
// The slot is released on every path, panics included, so a crashed
// execution cannot leak network capacity or a risk reservation.
func (s *Scheduler) runExecution(ctx context.Context, opp *domain.Opportunity, plan domain.ExecutionPlan) {
	defer s.wg.Done()
	defer s.chains.ReleaseSlot(opp.Network)
	defer func() {
		if r := recover(); r != nil {
			now := s.now().UTC()
			s.logger.Error("execution panicked",
				slog.String("opportunity_id", opp.ID),
				slog.String("network", opp.Network),
				slog.Any("panic", r),
			)
			s.complete(ctx, opp, domain.ExecutionResult{
				ID:            uuid.New().String(),
				OpportunityID: opp.ID,
				Kind:          opp.Kind,
				Network:       opp.Network,
				Class:         domain.FailStep,
				Err:           fmt.Sprintf("panic: %v", r),
				StartedAt:     now,
				CompletedAt:   now,
			})
		}
	}()

	s.mu.Lock()
	s.setStatusLocked(opp, domain.OppExecuting)
	s.mu.Unlock()

	res := s.engine.Execute(ctx, plan)
	s.complete(ctx, opp, res)
}

// complete finalizes an authorized execution: terminal status, history,
// risk accounting, metrics, events, and the optional durable record.
func (s *Scheduler) complete(ctx context.Context, opp *domain.Opportunity, res domain.ExecutionResult) {
	status := domain.OppFailed
	if res.Success {
		status = domain.OppSuccess
	}
	s.mu.Lock()
	s.setStatusLocked(opp, status)
	s.moveToHistoryLocked(opp, &res)
	s.mu.Unlock()

	tripped, tripReason := s.gate.RecordResult(res)

	metrics.ExecutingGauge.WithLabelValues(opp.Network).Dec()
	metrics.ExecutionSeconds.Observe(res.Duration().Seconds())
	if res.Success {
		metrics.ExecutionsTotal.WithLabelValues("success").Inc()
		metrics.ProfitUSD.Observe(res.ProfitUSD)
	} else {
		metrics.ExecutionsTotal.WithLabelValues("failed").Inc()
		metrics.FailuresTotal.WithLabelValues(string(res.Class)).Inc()
	}
	snap := s.gate.Snapshot()
	metrics.DailyPnLUSD.Set(snap.DailyPnLUSD)
	metrics.OpenPositions.Set(float64(snap.OpenPositions))

	ev := domain.Event{
		Type:          domain.EventSuccess,
		Severity:      domain.SeverityInfo,
		OpportunityID: opp.ID,
		Network:       opp.Network,
		ProfitUSD:     res.ProfitUSD,
		Refs:          res.Refs,
	}
	if !res.Success {
		ev.Type = domain.EventFailed
		ev.Class = res.Class
		ev.Reason = res.Err
		if res.Class == domain.FailStranded {
			// Stranded assets need a human: the refs identify the buy and
			// bridge legs for manual recovery.
			ev.Type = domain.EventStranded
			ev.Severity = domain.SeverityHigh
		}
	}
	s.emit(ctx, ev)

	if tripped {
		metrics.BreakerTripsTotal.Inc()
		s.emit(ctx, domain.Event{
			Type:     domain.EventBreakerTripped,
			Severity: domain.SeverityHigh,
			Network:  opp.Network,
			Reason:   tripReason,
		})
	}

	if s.store != nil {
		insCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.store.Insert(insCtx, res); err != nil {
			s.logger.Warn("history insert failed",
				slog.String("execution_id", res.ID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

// terminalFail retires a pending opportunity without an execution: risk
// denials and plan-building failures. The risk gate never saw an authorized
// execution here, so no result is recorded against it.
func (s *Scheduler) terminalFail(ctx context.Context, opp *domain.Opportunity, class domain.FailureClass, reason string) {
	now := s.now().UTC()
	res := &domain.ExecutionResult{
		ID:            uuid.New().String(),
		OpportunityID: opp.ID,
		Kind:          opp.Kind,
		Network:       opp.Network,
		Class:         class,
		Err:           reason,
		StartedAt:     now,
		CompletedAt:   now,
	}

	s.mu.Lock()
	s.setStatusLocked(opp, domain.OppFailed)
	s.moveToHistoryLocked(opp, res)
	s.mu.Unlock()

	metrics.ExecutionsTotal.WithLabelValues("failed").Inc()
	metrics.FailuresTotal.WithLabelValues(string(class)).Inc()
	s.emit(ctx, domain.Event{
		Type:          domain.EventFailed,
		Severity:      domain.SeverityInfo,
		OpportunityID: opp.ID,
		Network:       opp.Network,
		Class:         class,
		Reason:        reason,
	})
}

// retire expires pending opportunities whose window has closed.
func (s *Scheduler) retire(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	var expired []*domain.Opportunity
	for _, opp := range s.pending {
		if opp.Status == domain.OppPending && opp.Expired(now) {
			s.setStatusLocked(opp, domain.OppExpired)
			s.moveToHistoryLocked(opp, nil)
			expired = append(expired, opp)
		}
	}
	s.mu.Unlock()

	for _, opp := range expired {
		metrics.ExpiredTotal.Inc()
		s.emit(ctx, domain.Event{
			Type:          domain.EventExpired,
			Severity:      domain.SeverityInfo,
			OpportunityID: opp.ID,
			Network:       opp.Network,
			Class:         domain.FailExpired,
		})
	}
}

// setStatusLocked applies a lifecycle transition. Illegal transitions are a
// programming error; they are logged and dropped rather than corrupting the
// state machine.
func (s *Scheduler) setStatusLocked(opp *domain.Opportunity, next domain.OppStatus) {
	if !opp.Status.CanTransition(next) {
		s.logger.Error("illegal status transition",
			slog.String("opportunity_id", opp.ID),
			slog.String("from", string(opp.Status)),
			slog.String("to", string(next)),
		)
		return
	}
	opp.Status = next
}

// moveToHistoryLocked retires an opportunity into the bounded history ring.
// Retired ids stay deduplicated until their entry is evicted or drained.
func (s *Scheduler) moveToHistoryLocked(opp *domain.Opportunity, res *domain.ExecutionResult) {
	delete(s.pending, opp.ID)
	s.historyIDs[opp.ID] = struct{}{}
	s.history = append(s.history, HistoryEntry{
		Opportunity: *opp,
		Result:      res,
		RetiredAt:   s.now().UTC(),
	})
	for s.cfg.HistoryLimit > 0 && len(s.history) > s.cfg.HistoryLimit {
		delete(s.historyIDs, s.history[0].Opportunity.ID)
		s.history = s.history[1:]
	}
}

// emit stamps and delivers one lifecycle event.
func (s *Scheduler) emit(ctx context.Context, ev domain.Event) {
	ev.ID = uuid.New().String()
	ev.At = s.now().UTC()
	s.sink.Emit(ctx, ev)
}

// updateGauges refreshes the pending and per-network in-flight gauges.
func (s *Scheduler) updateGauges() {
	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()
	metrics.PendingGauge.Set(float64(pending))

	for _, name := range s.chains.Names() {
		metrics.ExecutingGauge.WithLabelValues(name).Set(float64(s.chains.InFlight(name)))
	}
}

// ResetBreaker clears a tripped circuit breaker and emits breaker_reset.
// Returns false, with no event, when the breaker was not open. Dispatch
// resumes on the next tick.
func (s *Scheduler) ResetBreaker(ctx context.Context) bool {
	if !s.gate.Reset() {
		return false
	}
	s.emit(ctx, domain.Event{
		Type:     domain.EventBreakerReset,
		Severity: domain.SeverityInfo,
	})
	return true
}

// Pending returns a copy of the not-yet-terminal opportunities.
func (s *Scheduler) Pending() []domain.Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Opportunity, 0, len(s.pending))
	for _, opp := range s.pending {
		out = append(out, *opp)
	}
	return out
}

// History returns a copy of the retained terminal entries, oldest first.
func (s *Scheduler) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// DrainHistoryBefore removes and returns terminal entries retired before t.
// The archiver uses this to move old entries into object storage.
func (s *Scheduler) DrainHistoryBefore(t time.Time) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var drained []HistoryEntry
	kept := s.history[:0]
	for _, entry := range s.history {
		if entry.RetiredAt.Before(t) {
			delete(s.historyIDs, entry.Opportunity.ID)
			drained = append(drained, entry)
			continue
		}
		kept = append(kept, entry)
	}
	s.history = kept
	return drained
}
