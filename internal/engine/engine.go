// Package engine executes one opportunity as an atomic step sequence. Either
// every step completes and profit is realized, or the execution is failed
// with zero committed profit and no further step is attempted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chainarb/chainarb/internal/domain"
)

// Submitter is the collaborator that signs, broadcasts, and confirms a single
// step on its network. A nil error means the step confirmed; the engine never
// signs or broadcasts itself. Implementations must respect ctx deadlines.
type Submitter interface {
	Submit(ctx context.Context, step domain.Step) (domain.StepReceipt, error)
}

// Engine turns execution plans into definitive results. Steps run strictly
// in plan order; each step gets its own deadline. A timed-out step is a
// failure and is never resubmitted, since a second submission could land
// both.
type Engine struct {
	submitter   Submitter
	stepTimeout time.Duration
	gasPerStep  uint64
	logger      *slog.Logger
	now         func() time.Time
}

// New creates an Engine submitting through sub. stepTimeout is the per-step
// deadline; gasPerStep is the gas-unit estimate for one transaction, used by
// plan building.
func New(sub Submitter, stepTimeout time.Duration, gasPerStep uint64, logger *slog.Logger) *Engine {
	return &Engine{
		submitter:   sub,
		stepTimeout: stepTimeout,
		gasPerStep:  gasPerStep,
		logger:      logger.With(slog.String("component", "engine")),
		now:         time.Now,
	}
}

// Execute runs the plan to a definitive result. It never returns an error;
// every outcome is encoded in the result's Success flag and FailureClass.
func (e *Engine) Execute(ctx context.Context, plan domain.ExecutionPlan) domain.ExecutionResult {
	res := domain.ExecutionResult{
		ID:            uuid.New().String(),
		OpportunityID: plan.OpportunityID,
		Kind:          plan.Kind,
		Network:       plan.Network,
		StartedAt:     e.now().UTC(),
	}
	if plan.Kind.IsCross() {
		res = e.executeCross(ctx, plan, res)
	} else {
		res = e.executeSingle(ctx, plan, res)
	}
	res.CompletedAt = e.now().UTC()

	log := e.logger.With(
		slog.String("execution_id", res.ID),
		slog.String("opportunity_id", res.OpportunityID),
		slog.String("network", res.Network),
		slog.String("kind", string(res.Kind)),
	)
	if res.Success {
		log.Info("execution succeeded",
			slog.Float64("profit_usd", res.ProfitUSD),
			slog.Float64("gas_usd", res.GasUSD),
			slog.Int("steps", len(plan.Steps)),
		)
	} else {
		log.Warn("execution failed",
			slog.String("class", string(res.Class)),
			slog.String("error", res.Err),
			slog.Float64("gas_usd", res.GasUSD),
		)
	}
	return res
}

// executeSingle runs borrow → swap chain → repay (or a bare swap chain when
// nothing is borrowed). Each swap's input is the previous step's confirmed
// output. Repay is only ever attempted after a successful borrow, and only
// for the amount actually borrowed.
func (e *Engine) executeSingle(ctx context.Context, plan domain.ExecutionPlan, res domain.ExecutionResult) domain.ExecutionResult {
	var (
		borrowed  bool
		principal float64 // confirmed borrow draw from the receipt
		owed      float64 // principal plus fee, priced on the confirmed draw
		carry     float64 // confirmed notional flowing into the next step
		outlay    float64 // own capital committed by the first step
	)

	for i := range plan.Steps {
		step := plan.Steps[i]

		switch step.Kind {
		case domain.StepBorrow:
			// Principal comes from the plan, never from carry.
		case domain.StepRepay:
			step.AmountUSD = owed
		default:
			if carry > 0 {
				step.AmountUSD = carry
			} else if outlay == 0 {
				outlay = step.AmountUSD
			}
		}

		rcpt, class, err := e.submitStep(ctx, step)
		res.GasUSD += step.GasUSD
		if err != nil {
			if borrowed && step.Kind == domain.StepSwap {
				// Unwind: settle the pool before reporting failure so the
				// borrow does not stay open past this execution.
				res.Refs = e.unwindRepay(ctx, plan, principal, res.Refs)
			}
			return failResult(res, class, err)
		}
		res.Refs = append(res.Refs, rcpt.Ref)

		switch step.Kind {
		case domain.StepBorrow:
			borrowed = true
			principal = rcpt.AmountOutUSD
			owed = repayOwed(plan, principal)
			carry = principal
		case domain.StepRepay:
			// Settlement; output is not tradable proceeds.
		default:
			carry = rcpt.AmountOutUSD
		}
	}

	res.Success = true
	if borrowed {
		res.ProfitUSD = carry - owed - res.GasUSD
	} else {
		res.ProfitUSD = carry - outlay - res.GasUSD
	}
	return res
}

// repayOwed prices the settlement for the borrow draw the pool confirmed,
// which can be less than the plan asked for.
func repayOwed(plan domain.ExecutionPlan, principalUSD float64) float64 {
	if plan.RepayQuote != nil {
		return plan.RepayQuote(principalUSD)
	}
	return plan.BorrowUSD + plan.BorrowFeeUSD
}

// executeCross runs buy → bridge → sell across two networks. Bridging starts
// only after the buy confirmed, selling only after the bridge confirmed. A
// bridge failure or timeout after a successful buy strands the asset between
// networks: the result is terminal, carries the refs needed for manual
// recovery, and is never retried, since replaying the buy would double-spend.
// A failure on the destination leg after a confirmed bridge is equally
// stranded; the asset already lives on the far network.
func (e *Engine) executeCross(ctx context.Context, plan domain.ExecutionPlan, res domain.ExecutionResult) domain.ExecutionResult {
	var (
		bought  float64 // own capital committed by the buy
		bridged bool
		carry   float64
	)

	for i := range plan.Steps {
		step := plan.Steps[i]
		if carry > 0 {
			step.AmountUSD = carry
		}
		if step.Kind == domain.StepBuy && bought == 0 {
			bought = step.AmountUSD
		}

		rcpt, class, err := e.submitStep(ctx, step)
		res.GasUSD += step.GasUSD
		if err != nil {
			if step.Kind == domain.StepBridge || bridged {
				return failResult(res, domain.FailStranded,
					fmt.Errorf("engine: asset stranded after %s: %w", step.Kind, err))
			}
			return failResult(res, class, err)
		}
		res.Refs = append(res.Refs, rcpt.Ref)
		carry = rcpt.AmountOutUSD
		if step.Kind == domain.StepBridge {
			bridged = true
		}
	}

	res.Success = true
	res.ProfitUSD = carry - bought - res.GasUSD
	return res
}

// submitStep runs one step against the submitter under the per-step
// deadline and classifies any failure.
func (e *Engine) submitStep(ctx context.Context, step domain.Step) (domain.StepReceipt, domain.FailureClass, error) {
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	rcpt, err := e.submitter.Submit(stepCtx, step)
	if err == nil {
		return rcpt, domain.FailNone, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return rcpt, domain.FailTimeout, fmt.Errorf("engine: %s on %s: %w: %w", step.Kind, step.Network, domain.ErrStepTimeout, err)
	}
	return rcpt, domain.FailStep, fmt.Errorf("engine: %s on %s: %w: %w", step.Kind, step.Network, domain.ErrStepFailed, err)
}

// unwindRepay settles the flash borrow after a mid-chain swap failure. The
// amount owed is priced on the principal the pool confirmed, not the
// plan-time request. Unwind failures are logged but do not change the
// execution's classification; the original swap failure stands.
func (e *Engine) unwindRepay(ctx context.Context, plan domain.ExecutionPlan, principalUSD float64, refs []string) []string {
	var repay *domain.Step
	for i := range plan.Steps {
		if plan.Steps[i].Kind == domain.StepRepay {
			repay = &plan.Steps[i]
			break
		}
	}
	if repay == nil {
		return refs
	}

	step := *repay
	step.AmountUSD = repayOwed(plan, principalUSD)
	rcpt, _, err := e.submitStep(ctx, step)
	if err != nil {
		e.logger.Error("unwind repay failed, borrow left open",
			slog.String("opportunity_id", plan.OpportunityID),
			slog.String("source", plan.BorrowSource),
			slog.Float64("owed_usd", step.AmountUSD),
			slog.String("error", err.Error()),
		)
		return refs
	}
	e.logger.Warn("unwound flash borrow after swap failure",
		slog.String("opportunity_id", plan.OpportunityID),
		slog.String("source", plan.BorrowSource),
		slog.Float64("repaid_usd", step.AmountUSD),
	)
	return append(refs, rcpt.Ref)
}

// failResult finalizes a failed execution. Profit is exactly zero on every
// failure path.
func failResult(res domain.ExecutionResult, class domain.FailureClass, err error) domain.ExecutionResult {
	res.Success = false
	res.ProfitUSD = 0
	res.Class = class
	res.Err = err.Error()
	return res
}
