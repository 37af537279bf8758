package learning

import (
	"math"
	"time"

	"polymarket-predictor/pkg/types"
)

// Adjustment is the outcome of the five-step pipeline plus the per-step
// deltas recorded for audit.
type Adjustment struct {
	Probability float64 // adjusted probability, clamped to [0.01, 0.99]
	Confidence  float64 // adjusted confidence, clamped to [0.50, 0.99]
	ExtraEdge   float64 // additional edge required for this market type

	CalibrationDelta  float64 // confidence delta from step 1
	SignalWeightDelta float64 // confidence delta from step 2
}

// Adjust runs the five-step pipeline over a raw model estimate:
//
//  1. calibration correction on confidence
//  2. signal-weight nudge on confidence
//  3. probability shrinkage toward 0.5 when the bucket says the model
//     overstates accuracy
//  4. market-type extra edge requirement (returned, applied by decision)
//  5. temporal confidence decay by signal age, with a boost for a fresh
//     verified fact
func Adjust(
	rawProbability, rawConfidence float64,
	marketType types.MarketType,
	signalTags []types.SignalTag,
	cal *CalibrationManager,
	mt *MarketTypeManager,
	st *SignalTrackerManager,
	now time.Time,
) Adjustment {
	adj := Adjustment{Probability: rawProbability, Confidence: rawConfidence}

	// Step 1: Bayesian calibration.
	correction := cal.Correction(rawConfidence)
	adj.Confidence = clampConfidence(adj.Confidence + correction)
	adj.CalibrationDelta = correction

	// Step 2: signal-type weighting.
	if len(signalTags) > 0 {
		var sum float64
		for _, tag := range signalTags {
			tier := tag.SourceTier
			if tier == "" {
				tier = types.TierS6
			}
			info := tag.InfoType
			if info == "" {
				info = types.InfoI5
			}
			sum += st.Weight(tier, info, marketType)
		}
		avg := sum / float64(len(signalTags))
		delta := (avg - 1.0) * 0.1
		adj.Confidence = clampConfidence(adj.Confidence + delta)
		adj.SignalWeightDelta = delta
	}

	// Step 3: probability shrinkage toward 0.5.
	bucket := cal.FindBucket(rawConfidence)
	if bucket.SampleCount() >= minBucketSamples {
		midpoint := (bucket.Low + bucket.High) / 2
		if midpoint > 0 {
			shrinkage := bucket.ExpectedAccuracy() / midpoint
			adj.Probability = clampProbability(0.5 + (rawProbability-0.5)*shrinkage)
		}
	}

	// Step 4: market-type edge penalty, consumed by the decision engine.
	adj.ExtraEdge = mt.EdgeAdjustment(marketType)

	// Step 5: temporal confidence decay by signal age.
	hasRecentFact := false
	maxAgeHours := 0.0
	for _, tag := range signalTags {
		if tag.Timestamp == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, tag.Timestamp)
		if err != nil {
			continue
		}
		age := now.Sub(ts).Hours()
		maxAgeHours = math.Max(maxAgeHours, age)
		if tag.InfoType == types.InfoI1 && age < 0.5 {
			hasRecentFact = true
		}
	}
	if hasRecentFact {
		adj.Confidence = math.Min(0.99, adj.Confidence*1.05)
	} else if maxAgeHours > 1.0 {
		decay := math.Max(0.85, 1.0-0.05*(maxAgeHours-1.0))
		adj.Confidence = math.Max(0.50, adj.Confidence*decay)
	}

	return adj
}

func clampConfidence(c float64) float64 {
	return math.Max(0.50, math.Min(0.99, c))
}

func clampProbability(p float64) float64 {
	return math.Max(0.01, math.Min(0.99, p))
}
