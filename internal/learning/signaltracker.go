package learning

import (
	"encoding/json"
	"fmt"
	"strings"

	"polymarket-predictor/internal/store"
	"polymarket-predictor/pkg/types"
)

// minLiftSamples is the per-side sample floor below which lift is neutral.
const minLiftSamples = 5

// SignalTracker counts trade outcomes conditioned on whether one
// (source tier, info type) combination was present, per market type. The
// four counters support a lift estimate: does this signal kind being
// present predict winning?
type SignalTracker struct {
	SourceTier types.SourceTier `json:"source_tier"`
	InfoType   types.InfoType   `json:"info_type"`
	MarketType types.MarketType `json:"market_type"`

	PresentInWinning int `json:"present_in_winning_trades"`
	PresentInLosing  int `json:"present_in_losing_trades"`
	AbsentInWinning  int `json:"absent_in_winning_trades"`
	AbsentInLosing   int `json:"absent_in_losing_trades"`
}

// Lift is win-rate-present / win-rate-absent, neutral (1.0) until both
// sides have at least minLiftSamples observations.
func (t *SignalTracker) Lift() float64 {
	present := t.PresentInWinning + t.PresentInLosing
	absent := t.AbsentInWinning + t.AbsentInLosing
	if present < minLiftSamples || absent < minLiftSamples {
		return 1.0
	}
	winAbsent := float64(t.AbsentInWinning) / float64(absent)
	if winAbsent == 0 {
		return 1.0
	}
	winPresent := float64(t.PresentInWinning) / float64(present)
	return winPresent / winAbsent
}

// Weight maps lift into a bounded confidence multiplier around 1.0.
func (t *SignalTracker) Weight() float64 {
	raw := 1.0 + (t.Lift()-1.0)*0.3
	if raw < 0.8 {
		return 0.8
	}
	if raw > 1.2 {
		return 1.2
	}
	return raw
}

type trackerKey struct {
	tier types.SourceTier
	info types.InfoType
	mt   types.MarketType
}

func (k trackerKey) String() string {
	return string(k.tier) + "|" + string(k.info) + "|" + string(k.mt)
}

// SignalTrackerManager owns all trackers, keyed by (tier, info, type).
type SignalTrackerManager struct {
	Trackers map[trackerKey]*SignalTracker
}

func NewSignalTrackerManager() *SignalTrackerManager {
	return &SignalTrackerManager{Trackers: make(map[trackerKey]*SignalTracker)}
}

func (m *SignalTrackerManager) ensure(k trackerKey) *SignalTracker {
	t, ok := m.Trackers[k]
	if !ok {
		t = &SignalTracker{SourceTier: k.tier, InfoType: k.info, MarketType: k.mt}
		m.Trackers[k] = t
	}
	return t
}

// Weight returns the confidence multiplier for one combination.
func (m *SignalTrackerManager) Weight(tier types.SourceTier, info types.InfoType, mt types.MarketType) float64 {
	if t, ok := m.Trackers[trackerKey{tier, info, mt}]; ok {
		return t.Weight()
	}
	return 1.0
}

// Update folds a resolved record into every tracker relevant to its market
// type. Correctness is judged by the ADJUSTED probability. Absence counts
// are updated for every combination ever observed in this market type, so
// lift compares like with like.
func (m *SignalTrackerManager) Update(rec *types.TradeRecord) {
	if rec.ActualOutcome == nil || rec.Voided {
		return
	}
	adjustedPredictedYes := rec.AdjustedProbability > 0.5
	wasCorrect := adjustedPredictedYes == *rec.ActualOutcome

	present := make(map[trackerKey]bool)
	for _, tag := range rec.SignalTags {
		if tag.SourceTier == "" || tag.InfoType == "" {
			continue
		}
		present[trackerKey{tag.SourceTier, tag.InfoType, rec.MarketType}] = true
	}

	all := make(map[trackerKey]bool, len(present))
	for k := range m.Trackers {
		if k.mt == rec.MarketType {
			all[k] = true
		}
	}
	for k := range present {
		all[k] = true
	}

	for k := range all {
		t := m.ensure(k)
		switch {
		case present[k] && wasCorrect:
			t.PresentInWinning++
		case present[k]:
			t.PresentInLosing++
		case wasCorrect:
			t.AbsentInWinning++
		default:
			t.AbsentInLosing++
		}
	}
}

// Reset clears all trackers (learning rebuild). Note that a model swap does
// NOT reset trackers: signal quality is a property of the sources, not the
// model.
func (m *SignalTrackerManager) Reset() {
	m.Trackers = make(map[trackerKey]*SignalTracker)
}

// Load restores trackers from the store.
func (m *SignalTrackerManager) Load(s *store.Store) error {
	saved, err := s.LoadSignalTrackers()
	if err != nil {
		return fmt.Errorf("load signal trackers: %w", err)
	}
	m.Reset()
	for key, raw := range saved {
		var t SignalTracker
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("decode signal tracker %s: %w", key, err)
		}
		parts := strings.SplitN(key, "|", 3)
		if len(parts) != 3 {
			return fmt.Errorf("malformed tracker key %q", key)
		}
		k := trackerKey{types.SourceTier(parts[0]), types.InfoType(parts[1]), types.MarketType(parts[2])}
		m.Trackers[k] = &t
	}
	return nil
}

// Save persists all trackers.
func (m *SignalTrackerManager) Save(w store.StateWriter) error {
	for k, t := range m.Trackers {
		if err := w.SaveSignalTracker(k.String(), t); err != nil {
			return err
		}
	}
	return nil
}
