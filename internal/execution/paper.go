// Package execution fills trade decisions (paper-simulated or live), polls
// markets for resolution, settles the portfolio, and sweeps open positions
// for adverse price moves. It is the only package that writes portfolio
// state.
package execution

import (
	"math"

	"polymarket-predictor/pkg/types"
)

// Paper fill model constants. Taker fills always happen but pay slippage
// proportional to how much of the book the order consumes; maker fills pay
// no slippage but may not happen, with fill probability highest near even
// odds where the book churns most.
const (
	takerBaseSlippage   = 0.005
	takerImpactSlippage = 0.01
	makerBaseFill       = 0.4
	makerFillRange      = 0.4
)

// SimulateFill models one paper execution. Tier 1 trades fill as takers,
// tier 2 as makers. rand01 supplies the uniform draw for maker fills so
// tests can pin it.
func SimulateFill(side types.Side, price, sizeUSD float64, tier int, orderbookDepth float64, rand01 func() float64) types.ExecutionResult {
	if tier == 2 {
		fillProb := makerBaseFill + makerFillRange*(1-math.Abs(price-0.5))
		return types.ExecutionResult{
			ExecutedPrice:   price,
			Slippage:        0,
			FillProbability: fillProb,
			Filled:          rand01() < fillProb,
		}
	}

	slippage := takerBaseSlippage + takerImpactSlippage*math.Min(sizeUSD/math.Max(orderbookDepth, 1), 1)
	executed := price
	if side == types.BuyYes {
		executed += slippage
	} else {
		executed -= slippage
	}
	executed = math.Max(0.01, math.Min(0.99, executed))
	return types.ExecutionResult{
		ExecutedPrice:   executed,
		Slippage:        slippage,
		FillProbability: 1,
		Filled:          true,
	}
}
