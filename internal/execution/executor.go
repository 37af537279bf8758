package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"polymarket-predictor/internal/polymarket"
	"polymarket-predictor/internal/store"
	"polymarket-predictor/pkg/types"
)

// OrderPlacer places live orders. Satisfied by *polymarket.CLOBClient.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order polymarket.Order) (*polymarket.OrderStatus, error)
}

// Executor fills executable candidates and persists the audit record. In
// paper mode fills are simulated; in live mode orders go to the CLOB.
type Executor struct {
	live   bool
	clob   OrderPlacer
	store  *store.Store
	rand01 func() float64
	logger *slog.Logger
}

// NewExecutor builds an executor. clob may be nil in paper mode.
func NewExecutor(live bool, clob OrderPlacer, st *store.Store, logger *slog.Logger) *Executor {
	return &Executor{
		live:   live,
		clob:   clob,
		store:  st,
		rand01: rand.Float64,
		logger: logger.With("component", "executor"),
	}
}

// Execute fills one candidate, updates the portfolio, and writes the trade
// record. Returns (nil, nil) when a maker order goes unfilled; that is a
// non-event, not an error.
func (e *Executor) Execute(ctx context.Context, c *types.TradeCandidate, portfolio *types.Portfolio, runID, model string, now time.Time) (*types.TradeRecord, error) {
	var result types.ExecutionResult
	if e.live {
		side := "BUY"
		token := c.Market.YesTokenID
		price := c.MarketPrice
		if c.Side == types.BuyNo {
			token = c.Market.NoTokenID
			price = 1 - c.MarketPrice
		}
		status, err := e.clob.PlaceOrder(ctx, polymarket.Order{
			TokenID: token,
			Side:    side,
			Price:   price,
			SizeUSD: c.PositionSize,
		})
		if err != nil {
			return nil, fmt.Errorf("live execution: %w", err)
		}
		e.logger.Info("live order accepted", "market_id", c.Market.ID, "order_id", status.OrderID)
		result = types.ExecutionResult{ExecutedPrice: c.MarketPrice, FillProbability: 1, Filled: true}
	} else {
		result = SimulateFill(c.Side, c.MarketPrice, c.PositionSize, c.Tier, c.OrderbookDepth, e.rand01)
	}

	if !result.Filled {
		e.logger.Info("order not filled", "market_id", c.Market.ID, "side", c.Side, "fill_probability", result.FillProbability)
		return nil, nil
	}

	record := e.buildRecord(c, runID, model, now)
	if err := e.store.InsertRecord(record); err != nil {
		return nil, fmt.Errorf("record trade: %w", err)
	}

	portfolio.CashBalance -= c.PositionSize
	portfolio.OpenPositions = append(portfolio.OpenPositions, types.Position{
		MarketID:   c.Market.ID,
		RecordID:   record.RecordID,
		Side:       c.Side,
		EntryPrice: result.ExecutedPrice,
		SizeUSD:    c.PositionSize,
		ClusterID:  c.ClusterID,
		OpenedAt:   now,
	})
	if err := e.store.SavePortfolio(portfolio); err != nil {
		return nil, fmt.Errorf("save portfolio: %w", err)
	}

	e.logger.Info("trade executed",
		"market_id", c.Market.ID,
		"side", c.Side,
		"size_usd", c.PositionSize,
		"price", result.ExecutedPrice,
		"slippage", result.Slippage,
	)
	return record, nil
}

// RecordSkip writes the audit record for a skipped candidate.
func (e *Executor) RecordSkip(c *types.TradeCandidate, runID, model string, now time.Time) (*types.TradeRecord, error) {
	record := e.buildRecord(c, runID, model, now)
	record.Action = types.Skip
	record.SkipReason = c.SkipReason
	if err := e.store.InsertRecord(record); err != nil {
		return nil, fmt.Errorf("record skip: %w", err)
	}
	return record, nil
}

func (e *Executor) buildRecord(c *types.TradeCandidate, runID, model string, now time.Time) *types.TradeRecord {
	return &types.TradeRecord{
		RecordID:      uuid.New().String(),
		ExperimentRun: runID,
		Timestamp:     now,
		ModelUsed:     model,

		MarketID:              c.Market.ID,
		MarketQuestion:        c.Market.Question,
		MarketType:            c.Market.Type,
		ResolutionWindowHours: c.Market.HoursToResolution,
		ResolutionTime:        c.Market.ResolutionTime,
		Tier:                  c.Tier,

		RawProbability:     c.RawProbability,
		RawConfidence:      c.RawConfidence,
		Reasoning:          c.Reasoning,
		SignalTags:         c.SignalTags,
		HeadlineOnlySignal: c.HeadlineOnlySignal,

		CalibrationAdjustment:  c.CalibrationAdjustment,
		MarketTypeAdjustment:   c.MarketTypeAdjustment,
		SignalWeightAdjustment: c.SignalWeightAdjustment,
		AdjustedProbability:    c.AdjustedProbability,
		AdjustedConfidence:     c.AdjustedConfidence,

		MarketPriceAtDecision: c.MarketPrice,
		OrderbookDepthUSD:     c.OrderbookDepth,
		FeeRate:               c.FeeRate,
		CalculatedEdge:        c.CalculatedEdge,
		TradeScore:            c.Score,

		Action:            c.Side,
		SkipReason:        c.SkipReason,
		PositionSizeUSD:   c.PositionSize,
		KellyFractionUsed: c.KellyFractionUsed,
		ClusterID:         c.ClusterID,
	}
}
