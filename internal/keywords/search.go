package keywords

import (
	"regexp"
	"strings"
	"sync"

	"polymarket-predictor/pkg/types"
)

// Entity patterns pull the searchable nouns out of a question: capitalized
// multi-word names, acronyms, and tickers.
var entityPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Z][a-z]+(?:\s[A-Z][a-z]+)+\b`),
	regexp.MustCompile(`\b[A-Z]{2,6}\b`),
	regexp.MustCompile(`\$[A-Z]{1,5}\b`),
}

// entityStopwords are capitalized words that look like entities but aren't.
var entityStopwords = map[string]bool{
	"THE": true, "AND": true, "FOR": true, "BUT": true, "NOT": true,
	"YES": true, "WILL": true, "BE": true, "BY": true, "IN": true,
	"ON": true, "AT": true, "TO": true,
}

// typeSupplements pad the search set when a question yields too few
// entities.
var typeSupplements = map[types.MarketType][]string{
	types.MarketPolitical:  {"election", "vote", "polls"},
	types.MarketEconomic:   {"economy", "market", "federal reserve"},
	types.MarketCrypto15m:  {"crypto", "bitcoin", "trading"},
	types.MarketSports:     {"game", "match", "score"},
	types.MarketCultural:   {"entertainment", "media"},
	types.MarketRegulatory: {"regulation", "policy", "ruling"},
}

// SearchExtractor derives the social-search keywords for a market and
// caches them per market ID; a market's question never changes, so the
// extraction is done once.
type SearchExtractor struct {
	mu    sync.Mutex
	cache map[string][]string
}

// NewSearchExtractor builds an empty extractor.
func NewSearchExtractor() *SearchExtractor {
	return &SearchExtractor{cache: make(map[string][]string)}
}

// Keywords returns the search keywords for a market: regex-extracted
// entities, padded with market-type supplements when fewer than two are
// found, falling back to significant question words.
func (e *SearchExtractor) Keywords(marketID, question string, mt types.MarketType) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if kws, ok := e.cache[marketID]; ok {
		return kws
	}

	seen := make(map[string]bool)
	var out []string
	for _, pattern := range entityPatterns {
		for _, m := range pattern.FindAllString(question, -1) {
			cleaned := strings.TrimPrefix(strings.TrimSpace(m), "$")
			if len(cleaned) <= 1 || entityStopwords[strings.ToUpper(cleaned)] || seen[cleaned] {
				continue
			}
			seen[cleaned] = true
			out = append(out, cleaned)
		}
	}

	if len(out) < 2 {
		supplements := typeSupplements[mt]
		if len(supplements) > 3 {
			supplements = supplements[:3]
		}
		out = append(out, supplements...)
	}
	if len(out) == 0 {
		for _, w := range strings.Fields(question) {
			if len(w) > 4 {
				out = append(out, w)
			}
			if len(out) == 5 {
				break
			}
		}
	}

	e.cache[marketID] = out
	return out
}
