package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"polymarket-predictor/internal/config"
	"polymarket-predictor/internal/decision"
	"polymarket-predictor/internal/execution"
	"polymarket-predictor/internal/learning"
	"polymarket-predictor/internal/llm"
	"polymarket-predictor/internal/store"
	"polymarket-predictor/pkg/types"
)

// ————————————————————————————————————————————————————————————————————————
// Fakes
// ————————————————————————————————————————————————————————————————————————

type fakeMarkets struct {
	markets []types.Market
	err     error
}

func (f *fakeMarkets) ActiveMarkets(_ context.Context, _ int, _ config.TierConfig) ([]types.Market, error) {
	return f.markets, f.err
}

func (f *fakeMarkets) GetMarket(_ context.Context, id string) (*types.Market, error) {
	for _, m := range f.markets {
		if m.ID == id {
			m := m
			return &m, nil
		}
	}
	return &types.Market{ID: id, YesPrice: 0.5, NoPrice: 0.5}, nil
}

// blockingMarkets parks discovery until released, for overlap tests.
type blockingMarkets struct {
	calls   atomic.Int64
	release chan struct{}
}

func (b *blockingMarkets) ActiveMarkets(_ context.Context, _ int, _ config.TierConfig) ([]types.Market, error) {
	b.calls.Add(1)
	<-b.release
	return nil, nil
}

func (b *blockingMarkets) GetMarket(_ context.Context, id string) (*types.Market, error) {
	return &types.Market{ID: id, YesPrice: 0.5, NoPrice: 0.5}, nil
}

type fakeBooks struct{}

func (fakeBooks) OrderBook(_ context.Context, _, marketID string) types.OrderBook {
	return types.OrderBook{
		MarketID:  marketID,
		Bids:      []float64{500, 400},
		Asks:      []float64{450, 350},
		Timestamp: time.Now().UTC(),
	}
}

// fakeLM returns a canned estimate per market ID and counts calls.
type fakeLM struct {
	estimates map[string]*llm.Estimate
	calls     atomic.Int64
}

func (f *fakeLM) Estimate(_ context.Context, marketID, _ string) (*llm.Estimate, error) {
	f.calls.Add(1)
	if est, ok := f.estimates[marketID]; ok {
		return est, nil
	}
	return &llm.Estimate{Probability: 0.5, Confidence: 0.5}, nil
}

func (f *fakeLM) Model() string { return "test-model" }

type fakeNews struct {
	signals []types.Signal
}

func (f *fakeNews) Collect(_ context.Context) []types.Signal { return f.signals }

type fakeSocial struct{}

func (fakeSocial) Collect(_ context.Context, _ []string) []types.Signal { return nil }

// identityAdjuster passes estimates through unchanged, optionally disabling
// one market type.
type identityAdjuster struct {
	disabled types.MarketType
}

func (a identityAdjuster) Adjust(p, c float64, _ types.MarketType, _ []types.SignalTag, _ time.Time) learning.Adjustment {
	return learning.Adjustment{Probability: p, Confidence: c}
}

func (a identityAdjuster) ShouldDisable(mt types.MarketType) bool {
	return a.disabled != "" && mt == a.disabled
}

// ————————————————————————————————————————————————————————————————————————
// Harness
// ————————————————————————————————————————————————————————————————————————

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			InitialBankroll:       2000,
			KellyFraction:         0.25,
			MaxPositionPct:        0.08,
			MaxTotalExposurePct:   0.30,
			MaxClusterExposurePct: 0.12,
			MinPositionUSD:        1,
		},
		Tier1: config.TierConfig{
			ScanInterval:       15 * time.Minute,
			FeeRate:            0.02,
			MinEdge:            0.04,
			DailyTradeCap:      5,
			MaxMarketsPerScan:  20,
			MinResolutionHours: 0.25,
			MaxResolutionHours: 168,
		},
		Tier2: config.TierConfig{
			ScanInterval:      3 * time.Minute,
			FeeRate:           0.04,
			MinEdge:           0.05,
			DailyTradeCap:     3,
			MaxMarketsPerScan: 10,
		},
		Risk: config.RiskConfig{
			DailyLossLimitPct:  0.05,
			WeeklyLossLimitPct: 0.10,
			ConsecutiveAdverse: 3,
			CooldownWindow:     2 * time.Hour,
			AdverseMovePct:     0.10,
		},
		LM: config.LMConfig{DailyBudgetUSD: 8},
		Signals: config.SignalsConfig{
			Tier2Window:     30 * time.Minute,
			Tier2MinSignals: 2,
		},
		Schedule: config.ScheduleConfig{
			ResolutionPoll: 5 * time.Minute,
			AdverseSweep:   10 * time.Minute,
			StaleAfter:     30 * time.Minute,
		},
	}
}

func testEngine(t *testing.T, cfg *config.Config, markets *fakeMarkets, lm *fakeLM, adj Adjuster, news NewsSource) (*Engine, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	poller := execution.NewPoller(markets, st, nopLearning{}, logger)
	deps := Deps{
		Markets:  markets,
		Books:    fakeBooks{},
		LM:       lm,
		News:     news,
		Social:   fakeSocial{},
		Learning: adj,
		Gate:     decision.NewGate(cfg, st, logger),
		Executor: execution.NewExecutor(false, nil, st, logger),
		Resolver: poller,
		Adverse:  execution.NewSweeper(markets, st, logger),
		Store:    st,
	}
	eng, err := New(cfg, deps, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng, st
}

type nopLearning struct{}

func (nopLearning) OnTradeResolved(*types.TradeRecord) error { return nil }

func market(id string, mt types.MarketType, yes float64, hours float64) types.Market {
	return types.Market{
		ID:                id,
		Question:          "will the " + id + " event happen?",
		YesPrice:          yes,
		NoPrice:           1 - yes,
		ResolutionTime:    time.Now().UTC().Add(time.Duration(hours * float64(time.Hour))),
		HoursToResolution: hours,
		Volume24h:         50000,
		Liquidity:         20000,
		Type:              mt,
		Keywords:          []string{id},
		YesTokenID:        "tok-" + id,
		NoTokenID:         "ntok-" + id,
	}
}

func recordsByReason(t *testing.T, st *store.Store) map[string]int {
	t.Helper()
	recs, err := st.UnresolvedRecords()
	if err != nil {
		t.Fatalf("UnresolvedRecords: %v", err)
	}
	out := make(map[string]int)
	for _, r := range recs {
		key := string(r.Action)
		if r.Action == types.Skip {
			key = r.SkipReason
		}
		out[key]++
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Scan pipeline
// ————————————————————————————————————————————————————————————————————————

func TestScanExecutesPositiveEdgeAndSkipsRest(t *testing.T) {
	cfg := testConfig()
	markets := &fakeMarkets{markets: []types.Market{
		market("alpha", types.MarketPolitical, 0.60, 48),
		market("beta", types.MarketEconomic, 0.50, 48),
	}}
	lm := &fakeLM{estimates: map[string]*llm.Estimate{
		"alpha": {Probability: 0.80, Confidence: 0.8, Reasoning: "strong"},
		"beta":  {Probability: 0.51, Confidence: 0.6, Reasoning: "weak"},
	}}
	eng, st := testEngine(t, cfg, markets, lm, identityAdjuster{}, &fakeNews{})

	eng.runScan(context.Background(), 1, cfg.Tier1)

	byReason := recordsByReason(t, st)
	if byReason[string(types.BuyYes)] != 1 {
		t.Errorf("records = %v, want one BUY_YES for alpha", byReason)
	}
	// beta: |0.51-0.50| - 0.02 = -0.01 <= min edge.
	if byReason["edge_below_threshold"] != 1 {
		t.Errorf("records = %v, want one edge_below_threshold for beta", byReason)
	}

	portfolio, err := st.LoadPortfolio()
	if err != nil {
		t.Fatalf("LoadPortfolio: %v", err)
	}
	if len(portfolio.OpenPositions) != 1 {
		t.Fatalf("open positions = %d, want 1", len(portfolio.OpenPositions))
	}
	if portfolio.CashBalance >= cfg.Trading.InitialBankroll {
		t.Errorf("cash = %v, want below bankroll after fill", portfolio.CashBalance)
	}
}

func TestScanObserveOnlySkipsWithoutLMCalls(t *testing.T) {
	cfg := testConfig()
	cfg.Tier1.DailyTradeCap = 1
	markets := &fakeMarkets{markets: []types.Market{
		market("alpha", types.MarketPolitical, 0.60, 48),
		market("beta", types.MarketEconomic, 0.50, 48),
	}}
	lm := &fakeLM{}
	eng, st := testEngine(t, cfg, markets, lm, identityAdjuster{}, &fakeNews{})

	// One executed tier-1 trade today saturates the cap.
	run, err := st.CurrentRun()
	if err != nil {
		t.Fatalf("CurrentRun: %v", err)
	}
	if err := st.InsertRecord(&types.TradeRecord{
		RecordID:              "pre",
		ExperimentRun:         run.RunID,
		Timestamp:             time.Now().UTC(),
		ModelUsed:             "test-model",
		MarketID:              "pre-market",
		MarketQuestion:        "q",
		MarketType:            types.MarketPolitical,
		Tier:                  1,
		Action:                types.BuyYes,
		MarketPriceAtDecision: 0.6,
		PositionSizeUSD:       50,
	}); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}

	eng.runScan(context.Background(), 1, cfg.Tier1)

	if got := lm.calls.Load(); got != 0 {
		t.Errorf("LM calls = %d, want 0 in observe-only mode", got)
	}
	byReason := recordsByReason(t, st)
	if byReason["daily_cap_observe_only"] != 2 {
		t.Errorf("records = %v, want both markets skipped daily_cap_observe_only", byReason)
	}
}

func TestScanSkipsDisabledMarketTypeBeforeEstimation(t *testing.T) {
	cfg := testConfig()
	markets := &fakeMarkets{markets: []types.Market{
		market("alpha", types.MarketSports, 0.60, 48),
	}}
	lm := &fakeLM{}
	eng, st := testEngine(t, cfg, markets, lm, identityAdjuster{disabled: types.MarketSports}, &fakeNews{})

	eng.runScan(context.Background(), 1, cfg.Tier1)

	if got := lm.calls.Load(); got != 0 {
		t.Errorf("LM calls = %d, want 0 for disabled market type", got)
	}
	byReason := recordsByReason(t, st)
	if byReason["market_type_disabled"] != 1 {
		t.Errorf("records = %v, want market_type_disabled skip", byReason)
	}
}

func TestScanRecordsPositionTooSmall(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.MinPositionUSD = 1e6 // force every size under the floor
	markets := &fakeMarkets{markets: []types.Market{
		market("alpha", types.MarketPolitical, 0.60, 48),
	}}
	lm := &fakeLM{estimates: map[string]*llm.Estimate{
		"alpha": {Probability: 0.80, Confidence: 0.8},
	}}
	eng, st := testEngine(t, cfg, markets, lm, identityAdjuster{}, &fakeNews{})

	eng.runScan(context.Background(), 1, cfg.Tier1)

	byReason := recordsByReason(t, st)
	if byReason["position_too_small"] != 1 {
		t.Errorf("records = %v, want position_too_small skip", byReason)
	}
}

func TestRelevantNewsFiltersByKeyword(t *testing.T) {
	t.Parallel()

	news := []types.Signal{
		{Text: "Bitcoin surges past resistance", SourceKind: "news"},
		{Text: "Local team wins championship", SourceKind: "news"},
	}
	got := relevantNews(news, []string{"bitcoin", "fed"})
	if len(got) != 1 || got[0].Text != "Bitcoin surges past resistance" {
		t.Errorf("relevantNews = %v, want only the bitcoin item", got)
	}
}

func TestAllHeadlineOnly(t *testing.T) {
	t.Parallel()

	if allHeadlineOnly(nil) {
		t.Error("empty signal set must not count as headline-only")
	}
	mixed := []types.Signal{{HeadlineOnly: true}, {HeadlineOnly: false}}
	if allHeadlineOnly(mixed) {
		t.Error("mixed signals must not count as headline-only")
	}
	all := []types.Signal{{HeadlineOnly: true}, {HeadlineOnly: true}}
	if !allHeadlineOnly(all) {
		t.Error("uniform headline-only set not detected")
	}
}

func TestScanStampsCompletionOnlyOnSuccess(t *testing.T) {
	cfg := testConfig()
	markets := &fakeMarkets{err: errors.New("discovery down")}
	eng, _ := testEngine(t, cfg, markets, &fakeLM{}, identityAdjuster{}, &fakeNews{})

	// An aborted scan must not read as fresh on the health endpoint.
	eng.runScan(context.Background(), 1, cfg.Tier1)
	if snap := eng.Snapshot(); !snap.LastScan.IsZero() {
		t.Errorf("aborted scan stamped completion time %v", snap.LastScan)
	}

	markets.err = nil
	eng.runScan(context.Background(), 1, cfg.Tier1)
	if snap := eng.Snapshot(); snap.LastScan.IsZero() {
		t.Error("completed scan did not stamp completion time")
	}
}

func TestScanTickSkippedWhileRunning(t *testing.T) {
	cfg := testConfig()
	eng, _ := testEngine(t, cfg, &fakeMarkets{}, &fakeLM{}, identityAdjuster{}, &fakeNews{})

	bm := &blockingMarkets{release: make(chan struct{})}
	eng.deps.Markets = bm

	done := make(chan struct{})
	go func() {
		eng.runScan(context.Background(), 1, cfg.Tier1)
		close(done)
	}()
	for bm.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	// A tick firing while the scan is parked in discovery must not start a
	// second one.
	eng.runScan(context.Background(), 1, cfg.Tier1)
	if got := bm.calls.Load(); got != 1 {
		t.Errorf("discovery calls = %d, want 1 (overlapping tick skipped)", got)
	}

	close(bm.release)
	<-done
}

// ————————————————————————————————————————————————————————————————————————
// Tier-2 burst lane
// ————————————————————————————————————————————————————————————————————————

func tier2Signal(tier types.SourceTier, followers int, text string) types.Signal {
	return types.Signal{
		SourceKind: "social",
		SourceTier: tier,
		Followers:  followers,
		Text:       text,
		Timestamp:  time.Now().UTC(),
	}
}

func TestTier2ActivationRequiresStrongSource(t *testing.T) {
	cfg := testConfig()
	eng, _ := testEngine(t, cfg, &fakeMarkets{}, &fakeLM{}, identityAdjuster{}, &fakeNews{})
	now := time.Now().UTC()

	// Two crypto signals, both weak: no activation.
	eng.noteTier2Signals([]types.Signal{
		tier2Signal(types.TierS6, 500, "bitcoin is pumping"),
		tier2Signal(types.TierS6, 900, "ethereum breakout incoming"),
	}, now)
	if eng.tier2Active(now) {
		t.Fatal("tier 2 activated without a strong source")
	}

	// One S1 source flips it on.
	eng.noteTier2Signals([]types.Signal{
		tier2Signal(types.TierS1, 0, "SEC approves bitcoin ETF"),
		tier2Signal(types.TierS6, 500, "crypto markets reacting"),
	}, now)
	if !eng.tier2Active(now) {
		t.Fatal("tier 2 not activated by S1 + weak crypto pair")
	}
	if eng.tier2Active(now.Add(cfg.Signals.Tier2Window + time.Minute)) {
		t.Error("tier 2 still active past the window with no new signals")
	}
}

func TestTier2WindowExtendsOnNewCryptoSignal(t *testing.T) {
	cfg := testConfig()
	eng, _ := testEngine(t, cfg, &fakeMarkets{}, &fakeLM{}, identityAdjuster{}, &fakeNews{})
	now := time.Now().UTC()

	eng.noteTier2Signals([]types.Signal{
		tier2Signal(types.TierS1, 0, "bitcoin halving complete"),
		tier2Signal(types.TierS2, 0, "exchanges report record crypto volume"),
	}, now)

	// A single weak crypto signal 20 minutes in pushes the window out.
	later := now.Add(20 * time.Minute)
	eng.noteTier2Signals([]types.Signal{
		tier2Signal(types.TierS6, 100, "btc still moving"),
	}, later)

	if !eng.tier2Active(now.Add(45 * time.Minute)) {
		t.Error("window not extended by follow-up crypto signal")
	}
	if eng.tier2Active(later.Add(cfg.Signals.Tier2Window + time.Minute)) {
		t.Error("extended window did not expire")
	}
}

func TestTier2IgnoresNonCryptoBurst(t *testing.T) {
	cfg := testConfig()
	eng, _ := testEngine(t, cfg, &fakeMarkets{}, &fakeLM{}, identityAdjuster{}, &fakeNews{})
	now := time.Now().UTC()

	eng.noteTier2Signals([]types.Signal{
		tier2Signal(types.TierS1, 0, "president signs the budget bill"),
		tier2Signal(types.TierS1, 0, "election results certified"),
	}, now)
	if eng.tier2Active(now) {
		t.Error("tier 2 activated by non-crypto signals")
	}
}

// ————————————————————————————————————————————————————————————————————————
// Bootstrap
// ————————————————————————————————————————————————————————————————————————

func TestNewBootstrapsRunAndPortfolio(t *testing.T) {
	cfg := testConfig()
	_, st := testEngine(t, cfg, &fakeMarkets{}, &fakeLM{}, identityAdjuster{}, &fakeNews{})

	run, err := st.CurrentRun()
	if err != nil {
		t.Fatalf("CurrentRun after New: %v", err)
	}
	if run.ModelUsed != "test-model" || !run.IncludeInLearning {
		t.Errorf("bootstrap run = %+v", run)
	}

	portfolio, err := st.LoadPortfolio()
	if err != nil {
		t.Fatalf("LoadPortfolio after New: %v", err)
	}
	if portfolio.CashBalance != cfg.Trading.InitialBankroll || portfolio.TotalEquity != cfg.Trading.InitialBankroll {
		t.Errorf("seed portfolio = %+v, want bankroll %v", portfolio, cfg.Trading.InitialBankroll)
	}
}

func TestSnapshotReflectsState(t *testing.T) {
	cfg := testConfig()
	eng, _ := testEngine(t, cfg, &fakeMarkets{}, &fakeLM{}, identityAdjuster{}, &fakeNews{})

	eng.runScan(context.Background(), 1, cfg.Tier1)
	snap := eng.Snapshot()

	if snap.LastScan.IsZero() {
		t.Error("snapshot missing last scan time")
	}
	if snap.Model != "test-model" {
		t.Errorf("snapshot model = %q", snap.Model)
	}
	if snap.Portfolio == nil || snap.Portfolio.TotalEquity != cfg.Trading.InitialBankroll {
		t.Errorf("snapshot portfolio = %+v", snap.Portfolio)
	}
	if snap.Tier2Active || snap.Mode != "active" {
		t.Errorf("fresh engine reports tier2=%v mode=%q", snap.Tier2Active, snap.Mode)
	}
}
