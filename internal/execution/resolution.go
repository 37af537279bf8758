package execution

import (
	"context"
	"log/slog"
	"time"

	"polymarket-predictor/internal/store"
	"polymarket-predictor/pkg/types"
)

// MarketGetter fetches one market's current state. Satisfied by
// *polymarket.GammaClient.
type MarketGetter interface {
	GetMarket(ctx context.Context, marketID string) (*types.Market, error)
}

// ResolvedHandler consumes a resolved record for learning. Satisfied by
// *learning.Service.
type ResolvedHandler interface {
	OnTradeResolved(rec *types.TradeRecord) error
}

// Poller resolves open and skipped records against market state, settles
// the portfolio, and feeds every resolution to the learning layer exactly
// once.
type Poller struct {
	markets  MarketGetter
	store    *store.Store
	learning ResolvedHandler
	logger   *slog.Logger
}

// NewPoller builds a resolution poller.
func NewPoller(markets MarketGetter, st *store.Store, learning ResolvedHandler, logger *slog.Logger) *Poller {
	return &Poller{markets: markets, store: st, learning: learning, logger: logger.With("component", "resolution")}
}

// Poll checks every unresolved record. A record resolves when its market
// reports resolution, or — for crypto 15-minute markets the API is slow to
// close — when the resolution window has passed, in which case the current
// price decides the outcome. Per-record failures are logged and skipped.
func (p *Poller) Poll(ctx context.Context, now time.Time) {
	records, err := p.store.UnresolvedRecords()
	if err != nil {
		p.logger.Error("unresolved query failed", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}

	resolved := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		outcome, ok := p.outcomeFor(ctx, rec, now)
		if !ok {
			continue
		}
		if err := p.resolve(rec, outcome, now); err != nil {
			p.logger.Error("resolution failed", "record_id", rec.RecordID, "error", err)
			continue
		}
		resolved++
	}
	if resolved > 0 {
		p.logger.Info("resolution cycle complete", "resolved", resolved)
	}
}

// outcomeFor determines whether a record can resolve now and, if so, the
// YES/NO outcome.
func (p *Poller) outcomeFor(ctx context.Context, rec *types.TradeRecord, now time.Time) (bool, bool) {
	market, err := p.markets.GetMarket(ctx, rec.MarketID)
	if err != nil {
		p.logger.Warn("market fetch failed", "market_id", rec.MarketID, "error", err)
		return false, false
	}

	if market.Resolved {
		return market.Resolution == "YES", true
	}
	if rec.MarketType == types.MarketCrypto15m {
		expected := rec.Timestamp.Add(time.Duration(rec.ResolutionWindowHours * float64(time.Hour)))
		if now.After(expected) {
			// Past the window with no official resolution: the price is
			// effectively settled.
			return market.YesPrice > 0.5, true
		}
	}
	return false, false
}

// resolve writes the outcome, settles the portfolio for executed trades,
// and feeds the learning layer.
func (p *Poller) resolve(rec *types.TradeRecord, outcome bool, now time.Time) error {
	actual := 0.0
	if outcome {
		actual = 1.0
	}
	brierRaw := (rec.RawProbability - actual) * (rec.RawProbability - actual)
	brierAdjusted := (rec.AdjustedProbability - actual) * (rec.AdjustedProbability - actual)

	if rec.Action == types.Skip {
		if err := p.store.MarkSkipResolved(rec.RecordID, outcome, brierRaw, brierAdjusted, now); err != nil {
			return err
		}
	} else {
		pnl := types.SettlePnL(rec.Action, rec.PositionSizeUSD, rec.MarketPriceAtDecision, rec.FeeRate, outcome)
		if err := p.store.MarkResolved(rec.RecordID, outcome, pnl, brierRaw, brierAdjusted, now); err != nil {
			return err
		}
		if err := p.settlePortfolio(rec, pnl); err != nil {
			return err
		}
		p.logger.Info("trade resolved",
			"market_id", rec.MarketID,
			"outcome", outcomeLabel(outcome),
			"pnl", pnl,
			"brier_raw", brierRaw,
			"brier_adjusted", brierAdjusted,
		)
	}

	updated, err := p.store.GetRecord(rec.RecordID)
	if err != nil {
		return err
	}
	return p.learning.OnTradeResolved(updated)
}

// settlePortfolio returns the stake plus pnl to cash, closes the position,
// and refreshes equity, peak, and drawdown.
func (p *Poller) settlePortfolio(rec *types.TradeRecord, pnl float64) error {
	portfolio, err := p.store.LoadPortfolio()
	if err != nil {
		return err
	}

	portfolio.TotalPnL += pnl
	portfolio.CashBalance += rec.PositionSizeUSD + pnl

	kept := portfolio.OpenPositions[:0]
	for _, pos := range portfolio.OpenPositions {
		if pos.RecordID != rec.RecordID {
			kept = append(kept, pos)
		}
	}
	portfolio.OpenPositions = kept
	portfolio.TotalEquity = portfolio.CashBalance + portfolio.OpenExposure()

	if portfolio.TotalEquity > portfolio.PeakEquity {
		portfolio.PeakEquity = portfolio.TotalEquity
	}
	if portfolio.PeakEquity > 0 {
		drawdown := (portfolio.PeakEquity - portfolio.TotalEquity) / portfolio.PeakEquity
		if drawdown > portfolio.MaxDrawdown {
			portfolio.MaxDrawdown = drawdown
		}
	}
	return p.store.SavePortfolio(portfolio)
}

func outcomeLabel(outcome bool) string {
	if outcome {
		return "YES"
	}
	return "NO"
}
