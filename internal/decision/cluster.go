package decision

import (
	"fmt"
	"sort"

	"polymarket-predictor/internal/keywords"
	"polymarket-predictor/pkg/types"
)

// Cluster correlation thresholds: markets of the same type resolving within
// an hour of each other with half their keywords shared move together.
const (
	clusterResolutionWindow = 1.0  // hours
	clusterKeywordOverlap   = 0.50 // Jaccard
)

// DetectClusters groups correlated candidates. Within each market type,
// candidates are sorted by resolution time and linked when both the
// resolution window and keyword overlap thresholds hold. Returns
// market ID -> cluster ID for every candidate.
func DetectClusters(candidates []*types.TradeCandidate) map[string]string {
	if len(candidates) == 0 {
		return nil
	}

	byType := make(map[types.MarketType][]*types.TradeCandidate)
	for _, c := range candidates {
		byType[c.Market.Type] = append(byType[c.Market.Type], c)
	}

	clusters := make(map[string]string)
	counter := 0

	// Stable iteration so cluster IDs are reproducible across runs.
	for _, mt := range types.AllMarketTypes {
		group := byType[mt]
		if len(group) == 0 {
			continue
		}
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Market.HoursToResolution < group[j].Market.HoursToResolution
		})

		assigned := make(map[int]bool)
		for i, c1 := range group {
			if assigned[i] {
				continue
			}
			counter++
			cid := fmt.Sprintf("cluster_%d", counter)
			clusters[c1.Market.ID] = cid
			assigned[i] = true

			for j := i + 1; j < len(group); j++ {
				if assigned[j] {
					continue
				}
				c2 := group[j]
				gap := c2.Market.HoursToResolution - c1.Market.HoursToResolution
				if gap < 0 {
					gap = -gap
				}
				if gap > clusterResolutionWindow {
					continue
				}
				if keywords.Jaccard(c1.Market.Keywords, c2.Market.Keywords) >= clusterKeywordOverlap {
					clusters[c2.Market.ID] = cid
					assigned[j] = true
				}
			}
		}
	}
	return clusters
}

// clusterFits reports whether adding the candidate keeps its cluster's
// exposure (open positions + already-selected pending trades) within the
// cap.
func clusterFits(c *types.TradeCandidate, clusterID string, portfolio *types.Portfolio, pending []*types.TradeCandidate, clusters map[string]string, maxClusterPct, bankroll float64) bool {
	existing := 0.0
	for _, pos := range portfolio.OpenPositions {
		if clusters[pos.MarketID] == clusterID || pos.ClusterID == clusterID {
			existing += pos.SizeUSD
		}
	}
	for _, p := range pending {
		if clusters[p.Market.ID] == clusterID {
			existing += p.PositionSize
		}
	}
	return existing+c.PositionSize <= maxClusterPct*bankroll
}
