// Package fees provides deterministic fee schedules and gas cost accounting.
// Everything here is pure: same inputs, same outputs, no clocks or I/O.
package fees

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/chainarb/chainarb/internal/domain"
)

// FeeSchedule computes the fee charged on a notional amount in USD.
type FeeSchedule interface {
	Fee(amountUSD float64) float64
}

// BpsFee charges a fixed number of basis points on the amount.
type BpsFee struct {
	Bps float64
}

func (f BpsFee) Fee(amountUSD float64) float64 {
	return amountUSD * f.Bps / 10_000
}

// FlatFee charges a fixed USD amount regardless of size.
type FlatFee struct {
	USD float64
}

func (f FlatFee) Fee(float64) float64 {
	return f.USD
}

// FreeFee charges nothing. Some pools rebate flash borrows entirely.
type FreeFee struct{}

func (FreeFee) Fee(float64) float64 {
	return 0
}

// BorrowSource is one flash-borrow liquidity provider on a network. The
// engine treats every source through this shape; nothing downstream branches
// on provider names.
type BorrowSource struct {
	Name     string
	Pool     common.Address
	Schedule FeeSchedule
}

// Fee returns the borrow fee for the given principal.
func (b BorrowSource) Fee(principalUSD float64) float64 {
	return b.Schedule.Fee(principalUSD)
}

// RepayAmount returns principal plus fee, the amount owed back to the pool.
func (b BorrowSource) RepayAmount(principalUSD float64) float64 {
	return principalUSD + b.Schedule.Fee(principalUSD)
}

// BorrowStep returns the plan step that draws principalUSD from the pool.
// Token is the borrowed asset. The step carries no standalone gas; the draw
// executes inside the swap bundle.
func (b BorrowSource) BorrowStep(network, token string, principalUSD float64) domain.Step {
	return domain.Step{
		Kind:      domain.StepBorrow,
		Network:   network,
		Venue:     b.Name,
		TokenIn:   token,
		TokenOut:  token,
		AmountUSD: principalUSD,
	}
}

// RepayStep returns the plan step that settles principal plus fee back to
// the pool.
func (b BorrowSource) RepayStep(network, token string, principalUSD float64) domain.Step {
	return domain.Step{
		Kind:      domain.StepRepay,
		Network:   network,
		Venue:     b.Name,
		TokenIn:   token,
		TokenOut:  token,
		AmountUSD: b.RepayAmount(principalUSD),
	}
}

// bridgeFeeBps is the published fee per bridge kind, in basis points on the
// bridged amount.
var bridgeFeeBps = map[domain.BridgeKind]float64{
	domain.BridgeNative:    5,
	domain.BridgeLockMint:  10,
	domain.BridgeLiquidity: 30,
}

// BridgeFee returns the transfer fee for moving amountUSD over the given
// bridge kind. Unknown kinds price at zero.
func BridgeFee(kind domain.BridgeKind, amountUSD float64) float64 {
	return amountUSD * bridgeFeeBps[kind] / 10_000
}

// GasCost estimates the USD cost of a transaction sequence. Each step is one
// transaction of gasPerStep units at gasPriceGwei, priced against the
// network's native token.
func GasCost(stepCount int, gasPerStep uint64, gasPriceGwei, nativeUSD float64) float64 {
	if stepCount <= 0 {
		return 0
	}
	wei := float64(stepCount) * float64(gasPerStep) * gasPriceGwei * params.GWei
	return wei / params.Ether * nativeUSD
}
