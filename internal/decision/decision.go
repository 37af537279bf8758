// Package decision turns adjusted estimates into sized, ranked, risk-gated
// trade decisions. Nothing here touches the network; everything is pure
// arithmetic over candidates, the portfolio, and trade history queries.
package decision

import (
	"math"

	"polymarket-predictor/pkg/types"
)

// Edge is the exploitable discrepancy after costs: the absolute gap between
// the adjusted probability and the market price, minus the fee and any
// extra edge the market type's track record demands.
func Edge(adjustedProb, marketPrice, feeRate, extraEdge float64) float64 {
	return math.Abs(adjustedProb-marketPrice) - feeRate - extraEdge
}

// Side picks the trade direction from probability vs price. Equal values
// mean no edge and no side.
func Side(adjustedProb, marketPrice float64) types.Side {
	switch {
	case adjustedProb > marketPrice:
		return types.BuyYes
	case adjustedProb < marketPrice:
		return types.BuyNo
	default:
		return types.Skip
	}
}

// KellySize returns the position size in USD for a binary market:
//
//	BUY_YES: f* = (p − price) / (1 − price)
//	BUY_NO:  f* = (price − p) / price
//
// scaled by the configured Kelly fraction and capped at
// maxPositionPct of bankroll. Returns 0 when the side has no edge.
func KellySize(adjustedProb, marketPrice float64, side types.Side, bankroll, kellyFraction, maxPositionPct float64) float64 {
	var fStar float64
	switch side {
	case types.BuyYes:
		if adjustedProb <= marketPrice || marketPrice >= 1 {
			return 0
		}
		fStar = (adjustedProb - marketPrice) / (1 - marketPrice)
	case types.BuyNo:
		if adjustedProb >= marketPrice || marketPrice <= 0 {
			return 0
		}
		fStar = (marketPrice - adjustedProb) / marketPrice
	default:
		return 0
	}

	position := fStar * kellyFraction * bankroll
	if cap := maxPositionPct * bankroll; position > cap {
		position = cap
	}
	return position
}

// Score ranks candidates by edge, confidence, and urgency. Resolution hours
// are floored at 0.5 so imminent markets don't blow up the score.
func Score(edge, adjustedConfidence, resolutionHours float64) float64 {
	return edge * adjustedConfidence * (1 / math.Max(resolutionHours, 0.5))
}
