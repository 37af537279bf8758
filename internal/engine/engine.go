// Package engine is the central orchestrator of the prediction trader.
//
// It wires together all subsystems:
//
//  1. Cron jobs drive the periodic work: tier-1 scans, resolution polling,
//     adverse-move sweeps, the daily summary, and a staleness watchdog.
//  2. Each scan fans out over discovered markets, runs the per-market
//     pipeline (signals → estimate → adjust → size), ranks the surviving
//     candidates, and executes the winners through the risk gate.
//  3. Crypto news bursts activate a second, faster scan lane for
//     15-minute crypto markets; the lane deactivates itself when the
//     burst window expires.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"polymarket-predictor/internal/config"
	"polymarket-predictor/internal/keywords"
	"polymarket-predictor/internal/learning"
	"polymarket-predictor/internal/llm"
	"polymarket-predictor/internal/store"
	"polymarket-predictor/pkg/types"
)

// staleCheckInterval is how often the watchdog compares the last scan time
// against the configured staleness threshold.
const staleCheckInterval = 5 * time.Minute

// MarketSource discovers and fetches markets. Satisfied by
// *polymarket.GammaClient.
type MarketSource interface {
	ActiveMarkets(ctx context.Context, tier int, tierCfg config.TierConfig) ([]types.Market, error)
	GetMarket(ctx context.Context, marketID string) (*types.Market, error)
}

// BookSource fetches order books. Satisfied by *polymarket.CLOBClient.
type BookSource interface {
	OrderBook(ctx context.Context, tokenID, marketID string) types.OrderBook
}

// Estimator produces probability estimates. Satisfied by *llm.Client.
type Estimator interface {
	Estimate(ctx context.Context, marketID, prompt string) (*llm.Estimate, error)
	Model() string
}

// NewsSource collects news signals once per scan cycle.
type NewsSource interface {
	Collect(ctx context.Context) []types.Signal
}

// SocialSource collects social signals for one market's keywords.
type SocialSource interface {
	Collect(ctx context.Context, marketKeywords []string) []types.Signal
}

// Adjuster applies the learning layers to a raw estimate. Satisfied by
// *learning.Service.
type Adjuster interface {
	Adjust(rawProbability, rawConfidence float64, marketType types.MarketType, tags []types.SignalTag, now time.Time) learning.Adjustment
	ShouldDisable(mt types.MarketType) bool
}

// TradeGate is the pre-trade circuit breaker. Satisfied by *decision.Gate.
type TradeGate interface {
	Check(tier int, positionSize float64, portfolio *types.Portfolio, now time.Time) (bool, string, error)
	ObserveOnly(now time.Time) (bool, int, error)
}

// TradeExecutor fills candidates and writes audit records. Satisfied by
// *execution.Executor.
type TradeExecutor interface {
	Execute(ctx context.Context, c *types.TradeCandidate, portfolio *types.Portfolio, runID, model string, now time.Time) (*types.TradeRecord, error)
	RecordSkip(c *types.TradeCandidate, runID, model string, now time.Time) (*types.TradeRecord, error)
}

// Resolver settles records against market state. Satisfied by
// *execution.Poller.
type Resolver interface {
	Poll(ctx context.Context, now time.Time)
}

// AdverseTracker refreshes adverse moves on open positions. Satisfied by
// *execution.Sweeper.
type AdverseTracker interface {
	Sweep(ctx context.Context)
}

// PositionTracker is notified when a trade opens so its price can be
// streamed instead of polled. Satisfied by *polymarket.CachedMarkets; nil
// disables tracking.
type PositionTracker interface {
	Track(marketID, yesTokenID string)
}

// Deps are the injected subsystems. All fields except Tracker are required.
type Deps struct {
	Markets  MarketSource
	Books    BookSource
	LM       Estimator
	News     NewsSource
	Social   SocialSource
	Learning Adjuster
	Gate     TradeGate
	Executor TradeExecutor
	Resolver Resolver
	Adverse  AdverseTracker
	Tracker  PositionTracker
	Store    *store.Store
}

// Engine owns the cron schedule and the scan pipeline.
type Engine struct {
	cfg       *config.Config
	deps      Deps
	extractor *keywords.SearchExtractor
	cron      *cron.Cron
	logger    *slog.Logger
	started   time.Time

	// mu guards the mutable scan state below.
	mu         sync.Mutex
	lastScan   time.Time
	tier2Until time.Time
	tier2Entry cron.EntryID

	// scanBusy[tier] is held for the duration of that tier's scan; a tick
	// that cannot take it is skipped instead of double-starting the scan.
	scanBusy [3]sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the engine and bootstraps persistent state: a fresh database
// gets an initial experiment run and a portfolio seeded with the starting
// bankroll.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	if _, err := deps.Store.CurrentRun(); err != nil {
		if !errors.Is(err, store.ErrNoExperiment) {
			return nil, fmt.Errorf("engine: current run: %w", err)
		}
		mode := "paper"
		if cfg.Live {
			mode = "live"
		}
		run, err := deps.Store.StartRun(deps.LM.Model(), "initial run",
			map[string]string{"mode": mode}, true)
		if err != nil {
			return nil, fmt.Errorf("engine: start initial run: %w", err)
		}
		logger.Info("initial experiment run started", "run_id", run.RunID, "model", deps.LM.Model())
	}

	if _, err := deps.Store.LoadPortfolio(); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("engine: load portfolio: %w", err)
		}
		bankroll := cfg.Trading.InitialBankroll
		fresh := &types.Portfolio{
			CashBalance: bankroll,
			TotalEquity: bankroll,
			PeakEquity:  bankroll,
		}
		if err := deps.Store.SavePortfolio(fresh); err != nil {
			return nil, fmt.Errorf("engine: seed portfolio: %w", err)
		}
		logger.Info("portfolio initialized", "bankroll", bankroll)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		deps:      deps,
		extractor: keywords.NewSearchExtractor(),
		cron:      cron.New(cron.WithLocation(time.UTC)),
		logger:    logger.With("component", "engine"),
		started:   time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start registers the periodic jobs and kicks off an immediate tier-1 scan
// so a restart does not wait a full interval before trading again.
func (e *Engine) Start() error {
	jobs := []struct {
		spec string
		fn   func()
	}{
		{"@every " + e.cfg.Tier1.ScanInterval.String(), e.runTier1Scan},
		{"@every " + e.cfg.Schedule.ResolutionPoll.String(), e.runResolution},
		{"@every " + e.cfg.Schedule.AdverseSweep.String(), e.runAdverseSweep},
		{"0 0 * * *", e.runDailySummary},
		{"@every " + staleCheckInterval.String(), e.checkStale},
	}
	for _, j := range jobs {
		if _, err := e.cron.AddFunc(j.spec, j.fn); err != nil {
			return fmt.Errorf("engine: schedule %q: %w", j.spec, err)
		}
	}

	e.cron.Start()
	go e.runTier1Scan()

	e.logger.Info("engine started",
		"tier1_interval", e.cfg.Tier1.ScanInterval,
		"resolution_poll", e.cfg.Schedule.ResolutionPoll,
		"live", e.cfg.Live,
	)
	return nil
}

// Stop cancels in-flight work and waits for running jobs to finish.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()
	<-e.cron.Stop().Done()
	e.logger.Info("shutdown complete")
}

func (e *Engine) runTier1Scan() {
	e.runScan(e.ctx, 1, e.cfg.Tier1)
}

func (e *Engine) runResolution() {
	e.deps.Resolver.Poll(e.ctx, time.Now().UTC())
}

func (e *Engine) runAdverseSweep() {
	e.deps.Adverse.Sweep(e.ctx)
}

// runDailySummary logs the aggregate stats for the UTC day that just ended.
func (e *Engine) runDailySummary() {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour).Add(-24 * time.Hour)
	stats, err := e.deps.Store.StatsForDay(dayStart)
	if err != nil {
		e.logger.Error("daily summary failed", "error", err)
		return
	}
	portfolio, err := e.deps.Store.LoadPortfolio()
	if err != nil {
		e.logger.Error("daily summary portfolio load failed", "error", err)
		return
	}
	e.logger.Info("daily summary",
		"day", dayStart.Format("2006-01-02"),
		"scanned", stats.Scanned,
		"executed", stats.Executed,
		"skipped", stats.Skipped,
		"resolved", stats.Resolved,
		"realized_pnl", stats.RealizedPnL,
		"avg_brier_raw", stats.AvgBrierRaw,
		"avg_brier_adjusted", stats.AvgBrierAdj,
		"parse_failures", stats.ParseFailures,
		"equity", portfolio.TotalEquity,
		"max_drawdown", portfolio.MaxDrawdown,
	)
}

// checkStale alerts when no scan has completed within the configured
// threshold. The scheduler still running but scans silently failing is the
// failure mode this catches.
func (e *Engine) checkStale() {
	e.mu.Lock()
	last := e.lastScan
	e.mu.Unlock()

	if last.IsZero() {
		return
	}
	if since := time.Since(last); since > e.cfg.Schedule.StaleAfter {
		e.logger.Error("scans are stale", "last_scan", last, "since", since)
	}
}

// Snapshot is the engine state exposed on the health endpoint. Mode is
// "initializing" until the first scan completes, then "active" or
// "observe_only" depending on the tier-1 daily cap.
type Snapshot struct {
	LastScan         time.Time        `json:"last_scan"`
	Mode             string           `json:"mode"`
	Tier2Active      bool             `json:"tier2_active"`
	Live             bool             `json:"live"`
	Model            string           `json:"model"`
	OpenTrades       int              `json:"open_trades"`
	TradesToday      int              `json:"trades_today"`
	ParseFailures24h int              `json:"parse_failures_24h"`
	UptimeSeconds    int64            `json:"uptime_seconds"`
	Portfolio        *types.Portfolio `json:"portfolio"`
}

// Snapshot assembles the current health view. Store failures surface as
// partial snapshots rather than errors; the endpoint must stay up when the
// store is hurting.
func (e *Engine) Snapshot() Snapshot {
	now := time.Now().UTC()

	e.mu.Lock()
	snap := Snapshot{
		LastScan:      e.lastScan,
		Mode:          "active",
		Tier2Active:   now.Before(e.tier2Until),
		Live:          e.cfg.Live,
		Model:         e.deps.LM.Model(),
		UptimeSeconds: int64(now.Sub(e.started).Seconds()),
	}
	e.mu.Unlock()

	if snap.LastScan.IsZero() {
		snap.Mode = "initializing"
	} else if observe, _, err := e.deps.Gate.ObserveOnly(now); err == nil && observe {
		snap.Mode = "observe_only"
	}
	if open, err := e.deps.Store.OpenRecords(); err == nil {
		snap.OpenTrades = len(open)
	}
	dayStart := now.Truncate(24 * time.Hour)
	for _, tier := range []int{1, 2} {
		if n, err := e.deps.Store.ExecutedCountSince(tier, dayStart); err == nil {
			snap.TradesToday += n
		}
	}
	if failures, err := e.deps.Store.ParseFailuresSince(now.Add(-24 * time.Hour)); err == nil {
		snap.ParseFailures24h = failures
	}
	if portfolio, err := e.deps.Store.LoadPortfolio(); err == nil {
		snap.Portfolio = portfolio
	}
	return snap
}
