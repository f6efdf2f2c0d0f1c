package engine

import (
	"fmt"

	"github.com/chainarb/chainarb/internal/chainreg"
	"github.com/chainarb/chainarb/internal/domain"
	"github.com/chainarb/chainarb/internal/fees"
)

// BuildPlan derives the concrete step sequence for an opportunity at dispatch
// time. src is the opportunity's network; dst is nil except for cross kinds.
// Swap, buy, sell, and bridge steps each price one transaction of gas on
// their network; borrow and repay add none.
func (e *Engine) BuildPlan(opp *domain.Opportunity, src, dst *chainreg.ChainContext) (domain.ExecutionPlan, error) {
	plan := domain.ExecutionPlan{
		OpportunityID: opp.ID,
		Kind:          opp.Kind,
		Network:       opp.Network,
		DestNetwork:   opp.DestNetwork,
	}
	srcGas := fees.GasCost(1, e.gasPerStep, src.GasPriceGwei, src.NativeUSD)

	switch opp.Kind {
	case domain.OppSingleSwap:
		amount := opp.PositionUSD
		for _, hop := range opp.Route {
			plan.Steps = append(plan.Steps, swapStep(src.Name, hop, amount, srcGas))
			amount = 0 // later inputs come from confirmed outputs
		}

	case domain.OppFlashSwap:
		source, ok := src.Source(opp.BorrowSource)
		if !ok {
			return plan, fmt.Errorf("engine: network %s: %w: %s", src.Name, domain.ErrUnknownBorrow, opp.BorrowSource)
		}
		plan.BorrowUSD = opp.BorrowUSD
		plan.BorrowSource = source.Name
		plan.BorrowFeeUSD = source.Fee(opp.BorrowUSD)
		plan.RepayQuote = source.RepayAmount

		token := opp.Route[0].TokenIn
		plan.Steps = append(plan.Steps, source.BorrowStep(src.Name, token, opp.BorrowUSD))
		amount := opp.BorrowUSD
		for _, hop := range opp.Route {
			plan.Steps = append(plan.Steps, swapStep(src.Name, hop, amount, srcGas))
			amount = 0
		}
		plan.Steps = append(plan.Steps, source.RepayStep(src.Name, token, opp.BorrowUSD))

	case domain.OppBridgeArb, domain.OppCrossSwap:
		if dst == nil {
			return plan, fmt.Errorf("engine: %w: %s", domain.ErrUnknownNetwork, opp.DestNetwork)
		}
		dstGas := fees.GasCost(1, e.gasPerStep, dst.GasPriceGwei, dst.NativeUSD)
		plan.BridgeFeeUSD = fees.BridgeFee(opp.Bridge, opp.PositionUSD)

		buy := opp.Route[0]
		plan.Steps = append(plan.Steps, domain.Step{
			Kind:      domain.StepBuy,
			Network:   src.Name,
			Venue:     buy.Venue,
			TokenIn:   buy.TokenIn,
			TokenOut:  buy.TokenOut,
			AmountUSD: opp.PositionUSD,
			GasUSD:    srcGas,
		})
		for _, hop := range opp.Route[1:] {
			plan.Steps = append(plan.Steps, swapStep(src.Name, hop, 0, srcGas))
		}

		held := opp.Route[len(opp.Route)-1].TokenOut
		plan.Steps = append(plan.Steps, domain.Step{
			Kind:     domain.StepBridge,
			Network:  src.Name,
			Venue:    string(opp.Bridge),
			TokenIn:  held,
			TokenOut: opp.DestRoute[0].TokenIn,
			GasUSD:   srcGas,
		})

		for _, hop := range opp.DestRoute[:len(opp.DestRoute)-1] {
			plan.Steps = append(plan.Steps, swapStep(dst.Name, hop, 0, dstGas))
		}
		sell := opp.DestRoute[len(opp.DestRoute)-1]
		plan.Steps = append(plan.Steps, domain.Step{
			Kind:     domain.StepSell,
			Network:  dst.Name,
			Venue:    sell.Venue,
			TokenIn:  sell.TokenIn,
			TokenOut: sell.TokenOut,
			GasUSD:   dstGas,
		})

	default:
		return plan, fmt.Errorf("engine: %w: unknown kind %q", domain.ErrInvalidOpportunity, opp.Kind)
	}

	for _, s := range plan.Steps {
		plan.EstGasUSD += s.GasUSD
	}
	plan.EstProfitUSD = opp.ExpectedProfitUSD - plan.BorrowFeeUSD - plan.BridgeFeeUSD - plan.EstGasUSD
	return plan, nil
}

// EstimateNet returns the expected profit net of borrow fee, bridge fee, and
// gas. The scheduler compares this against the network's profit floor.
func (e *Engine) EstimateNet(opp *domain.Opportunity, src, dst *chainreg.ChainContext) (float64, error) {
	plan, err := e.BuildPlan(opp, src, dst)
	if err != nil {
		return 0, err
	}
	return plan.EstProfitUSD, nil
}

func swapStep(network string, hop domain.SwapHop, amountUSD, gasUSD float64) domain.Step {
	return domain.Step{
		Kind:      domain.StepSwap,
		Network:   network,
		Venue:     hop.Venue,
		TokenIn:   hop.TokenIn,
		TokenOut:  hop.TokenOut,
		AmountUSD: amountUSD,
		GasUSD:    gasUSD,
	}
}
