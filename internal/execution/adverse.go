package execution

import (
	"context"
	"log/slog"
	"math"

	"polymarket-predictor/internal/store"
	"polymarket-predictor/pkg/types"
)

// Sweeper tracks unrealized adverse price moves on open positions for the
// cooldown circuit breaker.
type Sweeper struct {
	markets MarketGetter
	store   *store.Store
	logger  *slog.Logger
}

// NewSweeper builds an adverse-move sweeper.
func NewSweeper(markets MarketGetter, st *store.Store, logger *slog.Logger) *Sweeper {
	return &Sweeper{markets: markets, store: st, logger: logger.With("component", "adverse_sweep")}
}

// Sweep refreshes the adverse move on every open record. The current value
// is always persisted — decreases included — so a position that recovers
// stops counting toward the cooldown streak on the next gate check.
func (s *Sweeper) Sweep(ctx context.Context) {
	records, err := s.store.OpenRecords()
	if err != nil {
		s.logger.Error("open records query failed", "error", err)
		return
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		market, err := s.markets.GetMarket(ctx, rec.MarketID)
		if err != nil {
			s.logger.Warn("adverse check fetch failed", "market_id", rec.MarketID, "error", err)
			continue
		}

		move := AdverseMove(rec.Action, rec.MarketPriceAtDecision, market.YesPrice)
		if err := s.store.UpdateAdverseMove(rec.RecordID, move); err != nil {
			s.logger.Error("adverse move update failed", "record_id", rec.RecordID, "error", err)
			continue
		}
		if move > 0.10 {
			s.logger.Warn("adverse move detected", "market_id", rec.MarketID, "adverse_move", move)
		}
	}
}

// AdverseMove is how far the YES price has moved against the position's
// entry, floored at zero.
func AdverseMove(action types.Side, entryYesPrice, currentYesPrice float64) float64 {
	switch action {
	case types.BuyYes:
		return math.Max(0, entryYesPrice-currentYesPrice)
	case types.BuyNo:
		return math.Max(0, currentYesPrice-entryYesPrice)
	}
	return 0
}
