// Package keywords classifies market questions into market types and
// extracts the keyword sets used for correlation clustering.
package keywords

import (
	"strings"

	"polymarket-predictor/pkg/types"
)

// marketTypeKeywords maps each market type to the question substrings that
// select it. Checked in order; first hit wins; default is political.
var marketTypeKeywords = []struct {
	mt   types.MarketType
	kws  []string
}{
	{types.MarketPolitical, []string{"president", "election", "congress", "senate", "vote", "political", "trump", "biden", "governor", "democrat", "republican"}},
	{types.MarketEconomic, []string{"gdp", "inflation", "fed", "interest rate", "unemployment", "economy", "recession", "jobs", "cpi", "fomc"}},
	{types.MarketCrypto15m, []string{"bitcoin", "btc", "ethereum", "eth", "crypto", "solana", "sol"}},
	{types.MarketSports, []string{"nba", "nfl", "mlb", "nhl", "soccer", "football", "basketball", "baseball", "championship", "super bowl"}},
	{types.MarketCultural, []string{"oscar", "grammy", "emmy", "movie", "album", "show", "celebrity", "entertainment"}},
	{types.MarketRegulatory, []string{"sec", "regulation", "law", "ban", "approve", "fda", "ruling", "court"}},
}

// CryptoKeywords are the burst-detection keywords that qualify a signal for
// tier-2 activation.
var CryptoKeywords = []string{"bitcoin", "btc", "ethereum", "eth", "crypto", "solana", "sol"}

// ClassifyMarketType maps a question to a market type by keyword match.
func ClassifyMarketType(question string) types.MarketType {
	q := strings.ToLower(question)
	for _, entry := range marketTypeKeywords {
		for _, kw := range entry.kws {
			if strings.Contains(q, kw) {
				return entry.mt
			}
		}
	}
	return types.MarketPolitical
}

// maxKeywords caps the keyword set per question.
const maxKeywords = 10

// Extract returns up to maxKeywords lowercase words longer than three
// characters from a question, punctuation stripped, in question order.
func Extract(question string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(question)) {
		w = strings.Trim(w, ".,?!:;\"'()[]")
		if len(w) <= 3 || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// Jaccard is the intersection-over-union similarity of two keyword sets.
// Zero when either set is empty.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, w := range a {
		setA[w] = true
	}
	setB := make(map[string]bool, len(b))
	inter := 0
	for _, w := range b {
		if setB[w] {
			continue
		}
		setB[w] = true
		if setA[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// MentionsCrypto reports whether text contains any burst-detection keyword.
func MentionsCrypto(text string) bool {
	t := strings.ToLower(text)
	for _, kw := range CryptoKeywords {
		if containsWord(t, kw) {
			return true
		}
	}
	return false
}

// containsWord matches kw at word boundaries so "sol" does not fire on
// "solution".
func containsWord(text, kw string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}
