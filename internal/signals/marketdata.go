package signals

import (
	"fmt"
	"time"

	"polymarket-predictor/pkg/types"
)

// skewSignalThreshold is the absolute order-book skew above which price
// action is worth surfacing as a signal.
const skewSignalThreshold = 0.3

// MarketDataSignal derives a price-action signal from the order book when
// the book is meaningfully skewed. Returns nil when the book is balanced or
// empty; not every market deserves a market-data signal.
func MarketDataSignal(market types.Market, book types.OrderBook) *types.Signal {
	depth := book.Depth()
	if depth <= 0 {
		return nil
	}
	skew := book.Skew()
	if skew < skewSignalThreshold && skew > -skewSignalThreshold {
		return nil
	}

	direction := "buy"
	if skew < 0 {
		direction = "sell"
	}
	return &types.Signal{
		SourceKind:  "market_data",
		SourceTier:  types.TierS5,
		InfoType:    types.InfoI6,
		Text:        fmt.Sprintf("Order book shows %s-side pressure: skew %+.2f on $%.0f depth, YES at %.3f", direction, skew, depth, market.YesPrice),
		Credibility: types.TierS5.Credibility(),
		Author:      "orderbook",
		Timestamp:   time.Now(),
	}
}
