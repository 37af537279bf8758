// Package learning implements the three-layer feedback system: Bayesian
// confidence calibration, per-market-type performance tracking, and
// two-dimensional signal quality tracking. The layers are updated on every
// trade resolution and read back during the adjustment pipeline that turns
// raw model estimates into tradeable ones.
//
// Invariant: calibration learns from RAW model outputs, while the market
// type and signal layers learn from ADJUSTED outputs. Feeding adjusted
// values into calibration would make the correction chase itself.
package learning

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"polymarket-predictor/internal/store"
	"polymarket-predictor/pkg/types"
)

// bucketRanges are the [low, high) confidence buckets. The last bucket is
// closed above so confidence 1.0 lands in it.
var bucketRanges = [][2]float64{
	{0.50, 0.60},
	{0.60, 0.70},
	{0.70, 0.80},
	{0.80, 0.90},
	{0.90, 0.95},
	{0.95, 1.00},
}

// minBucketSamples is how many observations a bucket needs before its
// correction applies.
const minBucketSamples = 10

// CalibrationBucket tracks one confidence range as a Beta(alpha, beta)
// posterior over "the model was right". Observations are recency-weighted,
// so alpha and beta are fractional.
type CalibrationBucket struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// ExpectedAccuracy is the posterior mean.
func (b *CalibrationBucket) ExpectedAccuracy() float64 {
	return b.Alpha / (b.Alpha + b.Beta)
}

// SampleCount is the (weighted) number of observations beyond the prior.
func (b *CalibrationBucket) SampleCount() int {
	return int(b.Alpha + b.Beta - 2)
}

// Uncertainty is the width of the central 95% interval of the posterior.
func (b *CalibrationBucket) Uncertainty() float64 {
	dist := distuv.Beta{Alpha: b.Alpha, Beta: b.Beta}
	return dist.Quantile(0.975) - dist.Quantile(0.025)
}

// Update folds one observation into the posterior with the given weight.
func (b *CalibrationBucket) Update(wasCorrect bool, weight float64) {
	if wasCorrect {
		b.Alpha += weight
	} else {
		b.Beta += weight
	}
}

// Correction is the additive confidence correction this bucket suggests:
// the gap between observed accuracy and the bucket midpoint, discounted by
// posterior uncertainty. Zero until the bucket has enough samples.
func (b *CalibrationBucket) Correction() float64 {
	if b.SampleCount() < minBucketSamples {
		return 0
	}
	midpoint := (b.Low + b.High) / 2
	correction := b.ExpectedAccuracy() - midpoint
	certainty := math.Max(0, 1-b.Uncertainty()*2)
	return correction * certainty
}

// CalibrationManager holds the fixed set of confidence buckets.
type CalibrationManager struct {
	Buckets []*CalibrationBucket
}

// NewCalibrationManager starts every bucket at the uniform Beta(1,1) prior.
func NewCalibrationManager() *CalibrationManager {
	m := &CalibrationManager{}
	for _, br := range bucketRanges {
		m.Buckets = append(m.Buckets, &CalibrationBucket{Low: br[0], High: br[1], Alpha: 1, Beta: 1})
	}
	return m
}

// FindBucket maps a raw confidence to its bucket. Values at or above the
// top bucket's floor go to the top bucket; values below 0.50 to the first.
func (m *CalibrationManager) FindBucket(confidence float64) *CalibrationBucket {
	for _, b := range m.Buckets {
		if confidence >= b.Low && confidence < b.High {
			return b
		}
	}
	if confidence >= m.Buckets[len(m.Buckets)-1].Low {
		return m.Buckets[len(m.Buckets)-1]
	}
	return m.Buckets[0]
}

// Correction returns the additive correction for a raw confidence.
func (m *CalibrationManager) Correction(confidence float64) float64 {
	return m.FindBucket(confidence).Correction()
}

// Update folds a resolved record into the bucket its RAW confidence selects,
// judging correctness by the RAW probability. Recency weight 0.95^days
// keeps old trades from dominating.
func (m *CalibrationManager) Update(rec *types.TradeRecord, now time.Time) {
	if rec.ActualOutcome == nil || rec.Voided {
		return
	}
	bucket := m.FindBucket(rec.RawConfidence)

	rawPredictedYes := rec.RawProbability > 0.5
	wasCorrect := rawPredictedYes == *rec.ActualOutcome

	daysSince := math.Max(0, now.Sub(rec.Timestamp).Hours()/24)
	bucket.Update(wasCorrect, math.Pow(0.95, daysSince))
}

// ResetToPriors wipes all buckets back to Beta(1,1). Part of the model swap
// protocol: a new model's confidence distribution owes nothing to the old.
func (m *CalibrationManager) ResetToPriors() {
	for _, b := range m.Buckets {
		b.Alpha = 1
		b.Beta = 1
	}
}

// Load restores bucket state from the store, keeping priors for any bucket
// never persisted.
func (m *CalibrationManager) Load(s *store.Store) error {
	saved, err := s.LoadCalibrationBuckets()
	if err != nil {
		return fmt.Errorf("load calibration: %w", err)
	}
	for _, b := range m.Buckets {
		raw, ok := saved[b.Low]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, b); err != nil {
			return fmt.Errorf("decode calibration bucket %.2f: %w", b.Low, err)
		}
	}
	return nil
}

// Save persists all buckets.
func (m *CalibrationManager) Save(w store.StateWriter) error {
	for _, b := range m.Buckets {
		if err := w.SaveCalibrationBucket(b.Low, b); err != nil {
			return err
		}
	}
	return nil
}
