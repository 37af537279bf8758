package decision

import (
	"sort"

	"polymarket-predictor/pkg/types"
)

// SelectBest scores, ranks, and selects candidates within the remaining
// daily cap and the per-cluster exposure limit. Candidates are mutated in
// place: Score and ClusterID are set for everyone, SkipReason for the
// losers. Returns (execute, skip).
func SelectBest(candidates []*types.TradeCandidate, remainingCap int, portfolio *types.Portfolio, maxClusterPct, bankroll float64) (execute, skip []*types.TradeCandidate) {
	if len(candidates) == 0 {
		return nil, nil
	}

	for _, c := range candidates {
		c.Score = Score(c.CalculatedEdge, c.AdjustedConfidence, c.Market.HoursToResolution)
	}
	ranked := make([]*types.TradeCandidate, len(candidates))
	copy(ranked, candidates)
	// Candidates arrive in goroutine-completion order; the market-id
	// tiebreak keeps equal-score selection deterministic across scans.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Market.ID < ranked[j].Market.ID
	})

	clusters := DetectClusters(candidates)

	for _, c := range ranked {
		c.ClusterID = clusters[c.Market.ID]

		if len(execute) >= remainingCap {
			c.Side = types.Skip
			c.SkipReason = "ranked_below_cutoff"
			skip = append(skip, c)
			continue
		}
		if c.ClusterID != "" && !clusterFits(c, c.ClusterID, portfolio, execute, clusters, maxClusterPct, bankroll) {
			c.Side = types.Skip
			c.SkipReason = "cluster_exposure_limit"
			skip = append(skip, c)
			continue
		}
		execute = append(execute, c)
	}
	return execute, skip
}
