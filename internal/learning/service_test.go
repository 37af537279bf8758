package learning

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"polymarket-predictor/internal/store"
	"polymarket-predictor/pkg/types"
)

func testService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	svc, err := NewService(st, logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, st
}

func resolvedRecord(runID, id string, correct bool) *types.TradeRecord {
	outcome := true
	pnl := 50.0
	if !correct {
		pnl = -100
	}
	brierRaw, brierAdj := 0.1, 0.12
	rt := time.Now()
	prob := 0.75
	if !correct {
		prob = 0.25 // predicts NO while outcome is YES
	}
	return &types.TradeRecord{
		RecordID:              id,
		ExperimentRun:         runID,
		Timestamp:             time.Now(),
		ModelUsed:             "m",
		MarketID:              "mkt-" + id,
		MarketQuestion:        "q",
		MarketType:            types.MarketPolitical,
		ResolutionWindowHours: 24,
		ResolutionTime:        rt,
		Tier:                  1,
		RawProbability:        prob,
		RawConfidence:         0.75,
		AdjustedProbability:   prob,
		AdjustedConfidence:    0.72,
		MarketPriceAtDecision: 0.6,
		FeeRate:               0.02,
		CalculatedEdge:        0.08,
		Action:                types.BuyYes,
		PositionSizeUSD:       100,
		SignalTags:            []types.SignalTag{{SourceTier: types.TierS2, InfoType: types.InfoI2}},
		ActualOutcome:         &outcome,
		PnL:                   &pnl,
		BrierRaw:              &brierRaw,
		BrierAdjusted:         &brierAdj,
		ResolvedAt:            &rt,
	}
}

func TestOnTradeResolvedFeedsAllLayers(t *testing.T) {
	svc, st := testService(t)
	run, _ := st.StartRun("m", "", nil, true)

	rec := resolvedRecord(run.RunID, "r1", true)
	if err := st.InsertRecord(rec); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := svc.OnTradeResolved(rec); err != nil {
		t.Fatalf("OnTradeResolved: %v", err)
	}

	b := svc.cal.FindBucket(0.75)
	if b.Alpha <= 1 {
		t.Error("calibration bucket not updated")
	}
	p := svc.mt.Performances[types.MarketPolitical]
	if p == nil || p.TotalTrades != 1 || p.TotalPnL != 50 {
		t.Errorf("market type performance = %+v, want 1 trade / +50", p)
	}
	tr := svc.st.Trackers[trackerKey{types.TierS2, types.InfoI2, types.MarketPolitical}]
	if tr == nil || tr.PresentInWinning != 1 {
		t.Errorf("signal tracker = %+v, want 1 present-winning", tr)
	}

	// State survives a reload.
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc2, err := NewService(st, logger)
	if err != nil {
		t.Fatalf("NewService reload: %v", err)
	}
	if svc2.cal.FindBucket(0.75).Alpha <= 1 {
		t.Error("calibration state not persisted")
	}
	if svc2.mt.Performances[types.MarketPolitical].TotalTrades != 1 {
		t.Error("market type state not persisted")
	}
}

func TestModelSwapProtocol(t *testing.T) {
	svc, st := testService(t)
	run, _ := st.StartRun("old-model", "", nil, true)

	for i, id := range []string{"a", "b", "c"} {
		rec := resolvedRecord(run.RunID, id, i != 1)
		if err := st.InsertRecord(rec); err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
		if err := svc.OnTradeResolved(rec); err != nil {
			t.Fatalf("OnTradeResolved: %v", err)
		}
	}
	tracker := svc.st.Trackers[trackerKey{types.TierS2, types.InfoI2, types.MarketPolitical}]
	presentBefore := tracker.PresentInWinning + tracker.PresentInLosing

	newRun, err := svc.HandleModelSwap("old-model", "new-model", "upgrade")
	if err != nil {
		t.Fatalf("HandleModelSwap: %v", err)
	}

	// Calibration reset to priors.
	for _, b := range svc.cal.Buckets {
		if b.Alpha != 1 || b.Beta != 1 {
			t.Errorf("bucket %.2f not reset: alpha=%v beta=%v", b.Low, b.Alpha, b.Beta)
		}
	}
	// Signal trackers preserved.
	tracker = svc.st.Trackers[trackerKey{types.TierS2, types.InfoI2, types.MarketPolitical}]
	if tracker.PresentInWinning+tracker.PresentInLosing != presentBefore {
		t.Error("signal trackers not preserved across swap")
	}
	// Market type history kept (dampened, under the keep limit here).
	if svc.mt.Performances[types.MarketPolitical].TotalTrades != 3 {
		t.Error("market type trade count lost on swap")
	}

	// New experiment run is current and carries the new model.
	cur, err := st.CurrentRun()
	if err != nil {
		t.Fatalf("CurrentRun: %v", err)
	}
	if cur.RunID != newRun.RunID || cur.ModelUsed != "new-model" {
		t.Errorf("current run = %+v, want swap run", cur)
	}
}

func TestVoidTriggersRebuild(t *testing.T) {
	svc, st := testService(t)
	run, _ := st.StartRun("m", "", nil, true)

	good := resolvedRecord(run.RunID, "good", true)
	bad := resolvedRecord(run.RunID, "bad", false)
	for _, rec := range []*types.TradeRecord{good, bad} {
		if err := st.InsertRecord(rec); err != nil {
			t.Fatalf("InsertRecord: %v", err)
		}
		if err := svc.OnTradeResolved(rec); err != nil {
			t.Fatalf("OnTradeResolved: %v", err)
		}
	}
	if svc.mt.Performances[types.MarketPolitical].TotalTrades != 2 {
		t.Fatal("setup: want 2 trades counted")
	}

	voided, err := svc.VoidTrade("bad", "oracle failure")
	if err != nil {
		t.Fatalf("VoidTrade: %v", err)
	}
	if !voided.Voided {
		t.Error("record not marked voided")
	}

	// Rebuild replayed only the surviving record.
	p := svc.mt.Performances[types.MarketPolitical]
	if p.TotalTrades != 1 || p.TotalPnL != 50 {
		t.Errorf("after rebuild: %+v, want 1 trade / +50", p)
	}
	b := svc.cal.FindBucket(0.75)
	if b.Beta != 1 {
		t.Errorf("voided loss still in calibration: beta=%v", b.Beta)
	}
}

func TestRebuildHonorsRunExclusion(t *testing.T) {
	svc, st := testService(t)
	run, _ := st.StartRun("m", "", nil, true)

	rec := resolvedRecord(run.RunID, "r1", true)
	if err := st.InsertRecord(rec); err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if err := svc.OnTradeResolved(rec); err != nil {
		t.Fatalf("OnTradeResolved: %v", err)
	}

	if err := st.SetRunLearningIncluded(run.RunID, false); err != nil {
		t.Fatalf("SetRunLearningIncluded: %v", err)
	}
	if err := svc.Rebuild(); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if len(svc.mt.Performances) != 0 {
		t.Error("excluded run's records survived rebuild")
	}
	if svc.cal.FindBucket(0.75).Alpha != 1 {
		t.Error("excluded run's records survived in calibration")
	}
}
