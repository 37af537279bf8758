package decision

import (
	"fmt"
	"log/slog"
	"time"

	"polymarket-predictor/internal/config"
	"polymarket-predictor/internal/store"
	"polymarket-predictor/pkg/types"
)

// Gate is the pre-trade circuit breaker. Every executable candidate passes
// through Check immediately before execution; the checks run in a fixed
// order and the first failure wins.
type Gate struct {
	trading config.TradingConfig
	risk    config.RiskConfig
	tier1   config.TierConfig
	tier2   config.TierConfig
	budget  float64 // daily LM spend cap in USD
	store   *store.Store
	logger  *slog.Logger
}

// NewGate builds the gate from config.
func NewGate(cfg *config.Config, st *store.Store, logger *slog.Logger) *Gate {
	return &Gate{
		trading: cfg.Trading,
		risk:    cfg.Risk,
		tier1:   cfg.Tier1,
		tier2:   cfg.Tier2,
		budget:  cfg.LM.DailyBudgetUSD,
		store:   st,
		logger:  logger.With("component", "gate"),
	}
}

// Check runs the ordered circuit-breaker checks for one candidate. Returns
// (true, "") when the trade may proceed, otherwise (false, reason). Query
// errors block the trade; failing open on a broken store is not an option.
func (g *Gate) Check(tier int, positionSize float64, portfolio *types.Portfolio, now time.Time) (bool, string, error) {
	dayStart := now.UTC().Truncate(24 * time.Hour)
	weekStart := now.Add(-7 * 24 * time.Hour)

	// 1. Per-tier daily trade cap.
	cap := g.tier1.DailyTradeCap
	if tier == 2 {
		cap = g.tier2.DailyTradeCap
	}
	executed, err := g.store.ExecutedCountSince(tier, dayStart)
	if err != nil {
		return false, "", fmt.Errorf("gate: executed count: %w", err)
	}
	if executed >= cap {
		return false, "tier_daily_cap_reached", nil
	}

	equity := portfolio.TotalEquity

	// 2. Daily realized loss limit.
	dayPnL, err := g.store.RealizedPnLSince(dayStart)
	if err != nil {
		return false, "", fmt.Errorf("gate: daily pnl: %w", err)
	}
	if equity > 0 && dayPnL/equity < -g.risk.DailyLossLimitPct {
		return false, "daily_loss_limit", nil
	}

	// 3. Weekly realized loss limit.
	weekPnL, err := g.store.RealizedPnLSince(weekStart)
	if err != nil {
		return false, "", fmt.Errorf("gate: weekly pnl: %w", err)
	}
	if equity > 0 && weekPnL/equity < -g.risk.WeeklyLossLimitPct {
		return false, "weekly_loss_limit", nil
	}

	// 4. Consecutive-adverse cooldown. Walks recent trades newest first
	// counting resolved losses and open positions past the adverse
	// threshold; the streak breaks at the first good trade, and the sweeper
	// overwrites adverse fractions each pass so recovered positions stop
	// counting.
	adverse, err := g.store.AdverseCount(now.Add(-g.risk.CooldownWindow), g.risk.AdverseMovePct)
	if err != nil {
		return false, "", fmt.Errorf("gate: adverse count: %w", err)
	}
	if adverse >= g.risk.ConsecutiveAdverse {
		return false, "cooldown", nil
	}

	// 5. Total exposure cap including the candidate itself.
	if equity > 0 && (portfolio.OpenExposure()+positionSize)/equity > g.trading.MaxTotalExposurePct {
		return false, "max_exposure", nil
	}

	// 6. Daily LM budget. Spend exactly at the budget is still allowed;
	// only exceeding it blocks.
	spend, err := g.store.APISpendToday(now)
	if err != nil {
		return false, "", fmt.Errorf("gate: api spend: %w", err)
	}
	if spend > g.budget {
		return false, "api_budget_exceeded", nil
	}

	return true, "", nil
}

// ObserveOnly reports whether tier 1 has hit its daily cap, which switches
// the scan loop into observe-only mode: markets are still scanned and
// skipped with reason daily_cap_observe_only, but no LM calls are made.
func (g *Gate) ObserveOnly(now time.Time) (bool, int, error) {
	dayStart := now.UTC().Truncate(24 * time.Hour)
	executed, err := g.store.ExecutedCountSince(1, dayStart)
	if err != nil {
		return false, 0, fmt.Errorf("gate: executed count: %w", err)
	}
	return executed >= g.tier1.DailyTradeCap, executed, nil
}
