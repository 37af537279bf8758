package learning

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polymarket-predictor/internal/store"
	"polymarket-predictor/pkg/types"
)

// Service owns the three learning managers and keeps them consistent with
// the store. All mutation goes through the service so the mutex covers the
// managers as a unit.
type Service struct {
	mu     sync.Mutex
	cal    *CalibrationManager
	mt     *MarketTypeManager
	st     *SignalTrackerManager
	store  *store.Store
	logger *slog.Logger
}

// NewService builds a service with fresh managers and loads any persisted
// state.
func NewService(s *store.Store, logger *slog.Logger) (*Service, error) {
	svc := &Service{
		cal:    NewCalibrationManager(),
		mt:     NewMarketTypeManager(),
		st:     NewSignalTrackerManager(),
		store:  s,
		logger: logger.With("component", "learning"),
	}
	if err := svc.cal.Load(s); err != nil {
		return nil, err
	}
	if err := svc.mt.Load(s); err != nil {
		return nil, err
	}
	if err := svc.st.Load(s); err != nil {
		return nil, err
	}
	return svc, nil
}

// Adjust runs the adjustment pipeline under the service lock.
func (s *Service) Adjust(rawProbability, rawConfidence float64, marketType types.MarketType, tags []types.SignalTag, now time.Time) Adjustment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Adjust(rawProbability, rawConfidence, marketType, tags, s.cal, s.mt, s.st, now)
}

// ShouldDisable reports whether a market type is disabled by losses.
func (s *Service) ShouldDisable(mt types.MarketType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mt.ShouldDisable(mt)
}

// OnTradeResolved feeds a resolved record through all three layers and
// persists their state. The record must already carry its Brier scores and
// (for executed trades) pnl.
func (s *Service) OnTradeResolved(rec *types.TradeRecord) error {
	if rec.ActualOutcome == nil || rec.Voided {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.cal.Update(rec, now)

	counterfactual := 0.0
	if rec.Action == types.Skip {
		counterfactual = types.HypotheticalPnL(rec)
	}
	s.mt.Update(rec, counterfactual)
	s.st.Update(rec)

	if err := s.saveAllLocked(); err != nil {
		return err
	}
	s.logger.Info("learning updated",
		"record_id", rec.RecordID,
		"market_type", rec.MarketType,
		"brier_adjusted", deref(rec.BrierAdjusted))
	return nil
}

// HandleModelSwap runs the swap protocol: audit row, new experiment run,
// calibration reset, market-type dampening. Signal trackers are preserved.
func (s *Service) HandleModelSwap(oldModel, newModel, reason string) (*types.ExperimentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.store.StartRun(newModel,
		fmt.Sprintf("model swap: %s -> %s (%s)", oldModel, newModel, reason),
		map[string]string{"old_model": oldModel, "new_model": newModel},
		true)
	if err != nil {
		return nil, fmt.Errorf("start swap run: %w", err)
	}
	if err := s.store.RecordSwap(&types.ModelSwapEvent{
		Timestamp:            time.Now(),
		OldModel:             oldModel,
		NewModel:             newModel,
		Reason:               reason,
		ExperimentRunStarted: run.RunID,
	}); err != nil {
		return nil, err
	}

	s.cal.ResetToPriors()
	s.mt.DampenOnSwap()

	if err := s.saveAllLocked(); err != nil {
		return nil, err
	}
	s.logger.Info("model swap complete", "old", oldModel, "new", newModel, "run_id", run.RunID)
	return run, nil
}

// VoidTrade marks a record void and rebuilds all learning state from the
// surviving history. Returns the voided record so callers can reverse its
// portfolio effects.
func (s *Service) VoidTrade(recordID, reason string) (*types.TradeRecord, error) {
	rec, err := s.store.VoidRecord(recordID, reason)
	if err != nil {
		return nil, err
	}
	if err := s.Rebuild(); err != nil {
		return nil, err
	}
	s.logger.Info("trade voided", "record_id", recordID, "reason", reason)
	return rec, nil
}

// Rebuild resets all three layers and replays every resolved, non-voided
// record from learning-included runs in resolution order.
func (s *Service) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.store.ResolvedForLearning()
	if err != nil {
		return err
	}

	s.cal.ResetToPriors()
	s.mt.Reset()
	s.st.Reset()

	now := time.Now()
	for _, rec := range recs {
		s.cal.Update(rec, now)
		counterfactual := 0.0
		if rec.Action == types.Skip {
			counterfactual = types.HypotheticalPnL(rec)
		}
		s.mt.Update(rec, counterfactual)
		s.st.Update(rec)
	}

	// Clearing the old rows and writing the replayed state commit together;
	// a failure leaves the pre-rebuild state untouched.
	if err := s.store.SaveLearningState(func(w store.StateWriter) error {
		if err := w.ResetLearningState(); err != nil {
			return err
		}
		return s.writeStateLocked(w)
	}); err != nil {
		return err
	}
	s.logger.Info("learning rebuilt", "records", len(recs))
	return nil
}

// saveAllLocked persists all three layers in one transaction so a crash
// cannot leave calibration, market-type, and tracker state inconsistent.
func (s *Service) saveAllLocked() error {
	return s.store.SaveLearningState(s.writeStateLocked)
}

func (s *Service) writeStateLocked(w store.StateWriter) error {
	if err := s.cal.Save(w); err != nil {
		return err
	}
	if err := s.mt.Save(w); err != nil {
		return err
	}
	return s.st.Save(w)
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
