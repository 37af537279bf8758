package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"polymarket-predictor/internal/config"
	"polymarket-predictor/internal/decision"
	"polymarket-predictor/internal/llm"
	"polymarket-predictor/internal/signals"
	"polymarket-predictor/pkg/types"
)

// scanConcurrency bounds the per-market fan-out. The LM endpoint is the
// bottleneck; more workers just queue there.
const scanConcurrency = 4

// runScan executes one full scan cycle for a tier: discover markets,
// collect news once, fan out the per-market pipeline, rank survivors, and
// execute the winners through the gate. Per-market failures are absorbed;
// a scan never aborts because one market misbehaved.
func (e *Engine) runScan(ctx context.Context, tier int, tierCfg config.TierConfig) {
	now := time.Now().UTC()
	logger := e.logger.With("tier", tier)

	if !e.scanBusy[tier].TryLock() {
		logger.Warn("previous scan still running, tick skipped")
		return
	}
	defer e.scanBusy[tier].Unlock()

	run, err := e.deps.Store.CurrentRun()
	if err != nil {
		logger.Error("scan aborted: no current run", "error", err)
		return
	}
	model := e.deps.LM.Model()

	markets, err := e.deps.Markets.ActiveMarkets(ctx, tier, tierCfg)
	if err != nil {
		logger.Error("market discovery failed", "error", err)
		return
	}
	if len(markets) == 0 {
		logger.Debug("no markets to scan")
		e.markScanDone()
		return
	}
	if len(markets) > tierCfg.MaxMarketsPerScan {
		markets = markets[:tierCfg.MaxMarketsPerScan]
	}

	news := e.deps.News.Collect(ctx)
	e.noteTier2Signals(news, now)

	// Observe-only is a tier-1 concept: once the daily cap is hit, scans
	// keep running (signal collection and tier-2 detection stay live) but
	// every market is recorded as a skip with no LM spend.
	observe := false
	executed := 0
	if tier == 1 {
		observe, executed, err = e.deps.Gate.ObserveOnly(now)
		if err != nil {
			logger.Error("observe-only check failed", "error", err)
			return
		}
		if observe {
			day := now.Truncate(24 * time.Hour)
			if err := e.deps.Store.LogObserveOnly(day, executed, len(markets)); err != nil {
				logger.Warn("observe-only log failed", "error", err)
			}
		}
	}

	portfolio, err := e.deps.Store.LoadPortfolio()
	if err != nil {
		logger.Error("portfolio load failed", "error", err)
		return
	}

	var (
		candMu     sync.Mutex
		candidates []*types.TradeCandidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)
	for _, m := range markets {
		m := m
		g.Go(func() error {
			c := e.processMarket(gctx, m, tier, tierCfg, news, observe, portfolio.TotalEquity, run.RunID, model, now)
			if c != nil {
				candMu.Lock()
				candidates = append(candidates, c)
				candMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	remaining := tierCfg.DailyTradeCap - executed
	if remaining < 0 {
		remaining = 0
	}
	execute, skips := decision.SelectBest(candidates, remaining, portfolio,
		e.cfg.Trading.MaxClusterExposurePct, portfolio.TotalEquity)

	for _, c := range skips {
		if _, err := e.deps.Executor.RecordSkip(c, run.RunID, model, now); err != nil {
			logger.Error("skip record failed", "market_id", c.Market.ID, "error", err)
		}
	}

	filled := 0
	for _, c := range execute {
		allowed, reason, err := e.deps.Gate.Check(tier, c.PositionSize, portfolio, now)
		if err != nil {
			// The gate fails closed; a broken store never lets a trade out.
			logger.Error("gate check failed, trade blocked", "market_id", c.Market.ID, "error", err)
			continue
		}
		if !allowed {
			c.Side = types.Skip
			c.SkipReason = reason
			if _, err := e.deps.Executor.RecordSkip(c, run.RunID, model, now); err != nil {
				logger.Error("skip record failed", "market_id", c.Market.ID, "error", err)
			}
			continue
		}

		rec, err := e.deps.Executor.Execute(ctx, c, portfolio, run.RunID, model, now)
		if err != nil {
			logger.Error("execution failed", "market_id", c.Market.ID, "error", err)
			continue
		}
		if rec == nil {
			continue // maker order went unfilled
		}
		filled++
		if e.deps.Tracker != nil && c.Market.YesTokenID != "" {
			e.deps.Tracker.Track(c.Market.ID, c.Market.YesTokenID)
		}
	}

	logger.Info("scan complete",
		"markets", len(markets),
		"candidates", len(candidates),
		"executed", filled,
		"observe_only", observe,
	)
	e.markScanDone()
}

// markScanDone stamps the scan completion time the staleness watchdog and
// health endpoint read. Aborted scans deliberately do not stamp it; a scan
// loop that keeps failing must eventually read as stale.
func (e *Engine) markScanDone() {
	e.mu.Lock()
	e.lastScan = time.Now().UTC()
	e.mu.Unlock()
}

// processMarket runs the per-market pipeline and returns an executable
// candidate, or nil when the market was skipped (the skip record is written
// here) or errored (logged and absorbed).
func (e *Engine) processMarket(
	ctx context.Context,
	m types.Market,
	tier int,
	tierCfg config.TierConfig,
	news []types.Signal,
	observe bool,
	bankroll float64,
	runID, model string,
	now time.Time,
) *types.TradeCandidate {
	logger := e.logger.With("market_id", m.ID)
	c := &types.TradeCandidate{
		Market:      m,
		Tier:        tier,
		MarketPrice: m.YesPrice,
		FeeRate:     tierCfg.FeeRate,
	}

	recordSkip := func(reason string) {
		c.Side = types.Skip
		c.SkipReason = reason
		if _, err := e.deps.Executor.RecordSkip(c, runID, model, now); err != nil {
			logger.Error("skip record failed", "reason", reason, "error", err)
		}
	}

	// A market type the learning layer has disabled is skipped before any
	// signal gathering or LM spend.
	if e.deps.Learning.ShouldDisable(m.Type) {
		recordSkip("market_type_disabled")
		return nil
	}

	kws := e.extractor.Keywords(m.ID, m.Question, m.Type)
	sigs := e.deps.Social.Collect(ctx, kws)
	sigs = append(sigs, relevantNews(news, kws)...)
	e.noteTier2Signals(sigs, now)

	if observe {
		recordSkip("daily_cap_observe_only")
		return nil
	}

	book := e.deps.Books.OrderBook(ctx, m.YesTokenID, m.ID)
	c.OrderbookDepth = book.Depth()
	if md := signals.MarketDataSignal(m, book); md != nil {
		sigs = append(sigs, *md)
	}

	prompt := llm.BuildContext(m, sigs, book)
	est, err := e.deps.LM.Estimate(ctx, m.ID, prompt)
	if err != nil {
		// Retries exhausted; the parse-failure row is already recorded.
		logger.Warn("estimate failed, market skipped", "error", err)
		return nil
	}
	c.RawProbability = est.Probability
	c.RawConfidence = est.Confidence
	c.Reasoning = est.Reasoning
	c.SignalTags = est.SignalTags

	adj := e.deps.Learning.Adjust(est.Probability, est.Confidence, m.Type, est.SignalTags, now)
	c.AdjustedProbability = adj.Probability
	c.AdjustedConfidence = adj.Confidence
	c.CalibrationAdjustment = adj.CalibrationDelta
	c.SignalWeightAdjustment = adj.SignalWeightDelta
	c.MarketTypeAdjustment = adj.ExtraEdge

	c.CalculatedEdge = decision.Edge(adj.Probability, m.YesPrice, tierCfg.FeeRate, adj.ExtraEdge)
	side := decision.Side(adj.Probability, m.YesPrice)
	if side == types.Skip || c.CalculatedEdge <= tierCfg.MinEdge {
		recordSkip("edge_below_threshold")
		return nil
	}
	c.Side = side

	c.KellyFractionUsed = e.cfg.Trading.KellyFraction
	c.PositionSize = decision.KellySize(adj.Probability, m.YesPrice, side, bankroll,
		e.cfg.Trading.KellyFraction, e.cfg.Trading.MaxPositionPct)
	if c.PositionSize < e.cfg.Trading.MinPositionUSD {
		recordSkip("position_too_small")
		return nil
	}

	c.HeadlineOnlySignal = allHeadlineOnly(sigs)
	return c
}

// relevantNews keeps the news signals that mention any of the market's
// first few keywords. News is collected once per scan for every feed; this
// is the per-market cut.
func relevantNews(news []types.Signal, kws []string) []types.Signal {
	if len(kws) > 5 {
		kws = kws[:5]
	}
	var out []types.Signal
	for _, s := range news {
		text := strings.ToLower(s.Text)
		for _, kw := range kws {
			if strings.Contains(text, strings.ToLower(kw)) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// allHeadlineOnly reports whether every gathered signal is a headline with
// no body text. Such candidates are flagged on their record for later
// analysis of thin-information trades.
func allHeadlineOnly(sigs []types.Signal) bool {
	if len(sigs) == 0 {
		return false
	}
	for _, s := range sigs {
		if !s.HeadlineOnly {
			return false
		}
	}
	return true
}
