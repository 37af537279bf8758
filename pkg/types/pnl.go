package types

// SettlePnL computes the realized profit for a $1-payout binary position.
// entryYesPrice is the YES price at decision time; a BUY_NO position's
// effective entry price is 1 − entryYesPrice. A winning position converts
// size USD into size/entry shares each paying $1; a losing position loses
// the full stake. The entry fee is charged on wins and losses alike at
// order placement, so it is deducted from the winning payout here and the
// losing stake already includes it.
func SettlePnL(action Side, sizeUSD, entryYesPrice, feeRate float64, outcomeYes bool) float64 {
	if sizeUSD <= 0 {
		return 0
	}
	switch action {
	case BuyYes:
		if outcomeYes {
			return payout(sizeUSD, entryYesPrice) - sizeUSD*feeRate
		}
		return -sizeUSD
	case BuyNo:
		if !outcomeYes {
			return payout(sizeUSD, 1-entryYesPrice) - sizeUSD*feeRate
		}
		return -sizeUSD
	}
	return 0
}

func payout(size, entry float64) float64 {
	if entry <= 0 {
		return 0
	}
	return size/entry - size
}

// HypotheticalPnL is the counterfactual settlement for a skipped record: the
// pnl it would have realized had the recorded side and size been executed.
// Zero when unresolved or when no size was ever computed for the skip.
func HypotheticalPnL(r *TradeRecord) float64 {
	if r.ActualOutcome == nil {
		return 0
	}
	side := r.Action
	if side == Skip {
		// Counterfactual side follows the adjusted estimate.
		if r.AdjustedProbability > r.MarketPriceAtDecision {
			side = BuyYes
		} else {
			side = BuyNo
		}
	}
	return SettlePnL(side, r.PositionSizeUSD, r.MarketPriceAtDecision, r.FeeRate, *r.ActualOutcome)
}
