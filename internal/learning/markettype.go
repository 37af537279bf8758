package learning

import (
	"encoding/json"
	"fmt"
	"math"

	"polymarket-predictor/internal/store"
	"polymarket-predictor/pkg/types"
)

// swapBrierKeep is how many recent Brier scores survive a model swap.
const swapBrierKeep = 15

// MarketTypePerformance accumulates per-market-type results. Executed
// trades contribute pnl; skips contribute counterfactual pnl so the system
// can tell whether its caution is costing money.
type MarketTypePerformance struct {
	MarketType        types.MarketType `json:"market_type"`
	TotalTrades       int              `json:"total_trades"`
	TotalPnL          float64          `json:"total_pnl"`
	BrierScores       []float64        `json:"brier_scores"`
	TotalObserved     int              `json:"total_observed"`
	CounterfactualPnL float64          `json:"counterfactual_pnl"`
}

// AvgBrier is the recency-weighted mean adjusted Brier score, newest
// heaviest with decay 0.95 per step. 0.25 (coin-flip) with no history.
func (p *MarketTypePerformance) AvgBrier() float64 {
	if len(p.BrierScores) == 0 {
		return 0.25
	}
	var sum, wsum float64
	n := len(p.BrierScores)
	for i, b := range p.BrierScores {
		w := math.Pow(0.95, float64(n-1-i))
		sum += b * w
		wsum += w
	}
	return sum / wsum
}

// EdgeAdjustment is the extra edge required in this market type, stepped by
// how badly calibrated recent predictions have been. Zero until the type
// has a meaningful trade history.
func (p *MarketTypePerformance) EdgeAdjustment() float64 {
	if p.TotalTrades < 15 {
		return 0
	}
	avg := p.AvgBrier()
	switch {
	case avg > 0.30:
		return 0.05
	case avg > 0.25:
		return 0.03
	case avg > 0.20:
		return 0.01
	}
	return 0
}

// ShouldDisable reports whether this market type has lost enough, over
// enough trades, that it should be skipped outright.
func (p *MarketTypePerformance) ShouldDisable() bool {
	return p.TotalTrades >= 30 && p.TotalPnL < -0.15*float64(p.TotalTrades)
}

// MarketTypeManager tracks performance per market type.
type MarketTypeManager struct {
	Performances map[types.MarketType]*MarketTypePerformance
}

func NewMarketTypeManager() *MarketTypeManager {
	return &MarketTypeManager{Performances: make(map[types.MarketType]*MarketTypePerformance)}
}

func (m *MarketTypeManager) ensure(mt types.MarketType) *MarketTypePerformance {
	p, ok := m.Performances[mt]
	if !ok {
		p = &MarketTypePerformance{MarketType: mt}
		m.Performances[mt] = p
	}
	return p
}

// Update folds a resolved record into its market type. Uses the ADJUSTED
// Brier score: this layer measures the whole system, adjustments included.
func (m *MarketTypeManager) Update(rec *types.TradeRecord, counterfactualPnL float64) {
	if rec.ActualOutcome == nil || rec.Voided {
		return
	}
	p := m.ensure(rec.MarketType)
	p.TotalTrades++
	if rec.BrierAdjusted != nil {
		p.BrierScores = append(p.BrierScores, *rec.BrierAdjusted)
	}
	if rec.Action != types.Skip {
		if rec.PnL != nil {
			p.TotalPnL += *rec.PnL
		}
	} else {
		p.TotalObserved++
		p.CounterfactualPnL += counterfactualPnL
	}
}

// EdgeAdjustment returns the extra edge requirement for a market type.
func (m *MarketTypeManager) EdgeAdjustment(mt types.MarketType) float64 {
	if p, ok := m.Performances[mt]; ok {
		return p.EdgeAdjustment()
	}
	return 0
}

// ShouldDisable reports whether the market type is disabled by losses.
func (m *MarketTypeManager) ShouldDisable(mt types.MarketType) bool {
	if p, ok := m.Performances[mt]; ok {
		return p.ShouldDisable()
	}
	return false
}

// DampenOnSwap truncates each type's Brier history to the most recent
// scores. Market-type difficulty partially transfers across models, so the
// history is dampened rather than reset.
func (m *MarketTypeManager) DampenOnSwap() {
	for _, p := range m.Performances {
		if len(p.BrierScores) > swapBrierKeep {
			p.BrierScores = p.BrierScores[len(p.BrierScores)-swapBrierKeep:]
		}
	}
}

// Reset clears all performance state (learning rebuild).
func (m *MarketTypeManager) Reset() {
	m.Performances = make(map[types.MarketType]*MarketTypePerformance)
}

// Load restores state from the store.
func (m *MarketTypeManager) Load(s *store.Store) error {
	saved, err := s.LoadMarketTypeStates()
	if err != nil {
		return fmt.Errorf("load market types: %w", err)
	}
	m.Reset()
	for key, raw := range saved {
		var p MarketTypePerformance
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode market type %s: %w", key, err)
		}
		m.Performances[types.MarketType(key)] = &p
	}
	return nil
}

// Save persists all performance rows.
func (m *MarketTypeManager) Save(w store.StateWriter) error {
	for mt, p := range m.Performances {
		if err := w.SaveMarketTypeState(string(mt), p); err != nil {
			return err
		}
	}
	return nil
}
