package domain

import "time"

// StepKind is the primitive action a single execution step performs.
type StepKind string

const (
	StepBorrow StepKind = "borrow"
	StepSwap   StepKind = "swap"
	StepRepay  StepKind = "repay"
	StepBuy    StepKind = "buy"
	StepBridge StepKind = "bridge"
	StepSell   StepKind = "sell"
)

// Step is one ordered action inside an execution plan. AmountUSD is the
// notional entering the step; the realized output comes back in the receipt.
// GasUSD is the estimated gas for this step alone. Borrow and repay steps
// carry zero gas: they ride inside the swap bundle rather than standing as
// their own transactions.
type Step struct {
	Kind      StepKind
	Network   string
	Venue     string
	TokenIn   string
	TokenOut  string
	AmountUSD float64
	GasUSD    float64
}

// StepReceipt is the confirmed outcome of a submitted step.
type StepReceipt struct {
	Ref          string // transaction reference on the step's network
	AmountOutUSD float64
}

// ExecutionPlan is the ordered step sequence derived from an opportunity at
// dispatch time. Plans are immutable once built.
type ExecutionPlan struct {
	OpportunityID string
	Kind          OppKind
	Network       string
	DestNetwork   string
	Steps         []Step
	BorrowUSD     float64
	BorrowSource  string
	BorrowFeeUSD  float64
	BridgeFeeUSD  float64
	EstGasUSD     float64
	EstProfitUSD  float64

	// RepayQuote prices principal plus fee against the borrow source's
	// schedule. The pool can grant less than requested, so the repay is
	// settled for the amount actually borrowed, not the plan-time principal.
	// Nil for kinds that borrow nothing.
	RepayQuote func(principalUSD float64) float64
}

// FailureClass buckets every definitive non-success outcome.
type FailureClass string

const (
	FailNone        FailureClass = ""
	FailValidation  FailureClass = "validation"
	FailRiskDenied  FailureClass = "risk_rejected"
	FailStep        FailureClass = "step_failed"
	FailTimeout     FailureClass = "timeout"
	FailExpired     FailureClass = "expired"
	FailStranded    FailureClass = "stranded_asset"
	FailBreakerOpen FailureClass = "breaker_open"
)

// ExecutionResult is the definitive record of one execution attempt.
// ProfitUSD is realized net profit; it is exactly zero on failure.
type ExecutionResult struct {
	ID            string
	OpportunityID string
	Kind          OppKind
	Network       string
	Success       bool
	ProfitUSD     float64
	GasUSD        float64
	Refs          []string // step tx references in execution order
	Class         FailureClass
	Err           string
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Duration is the wall time the execution took.
func (r ExecutionResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
