package llm

import (
	"fmt"
	"sort"
	"strings"

	"polymarket-predictor/pkg/types"
)

// maxContextSignals caps how many signals go into the prompt.
const maxContextSignals = 7

// maxSignalChars truncates each signal's text in the prompt.
const maxSignalChars = 200

// BuildContext assembles the estimation prompt for one market: market
// state, order book summary, and the highest-credibility signals, followed
// by the response contract.
func BuildContext(market types.Market, signals []types.Signal, book types.OrderBook) string {
	ranked := make([]types.Signal, len(signals))
	copy(ranked, signals)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Credibility > ranked[j].Credibility
	})
	if len(ranked) > maxContextSignals {
		ranked = ranked[:maxContextSignals]
	}

	var lines []string
	for i, s := range ranked {
		text := s.Text
		if len(text) > maxSignalChars {
			text = text[:maxSignalChars]
		}
		headlineTag := ""
		if s.HeadlineOnly {
			headlineTag = " [HEADLINE-ONLY]"
		}
		lines = append(lines, fmt.Sprintf("  %d. [%s|%s] @%s (cred=%.2f): %s%s",
			i+1, s.SourceTier, s.SourceKind, s.Author, s.Credibility, text, headlineTag))
	}
	signalsText := "  No signals available."
	if len(lines) > 0 {
		signalsText = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(`MARKET ANALYSIS REQUEST

Market Question: %s
Current YES price: %.4f
Current NO price: %.4f
Resolution: %.1f hours
Volume (24h): $%.0f
Liquidity: $%.0f
Orderbook depth: $%.0f (skew: %+.2f)

SIGNALS:
%s

INSTRUCTIONS:
1. Analyze the signals and market context
2. Classify each signal's information type:
   - I1: Verified fact (official announcement, confirmed event)
   - I2: Authoritative analysis (expert opinion, institutional report)
   - I3: Statistical/data-driven (polls, economic indicators)
   - I4: Market intelligence (order flow, whale movements)
   - I5: Rumor/speculation (unconfirmed reports, social media buzz)
3. Estimate the probability of YES outcome
4. Rate your confidence in the estimate

Respond with ONLY this JSON (no markdown, no extra text):
{"estimated_probability": 0.XX, "confidence": 0.XX, "reasoning": "...", "signal_info_types": [{"source_tier": "SX", "info_type": "IX", "content_summary": "..."}]}`,
		market.Question, market.YesPrice, market.NoPrice, market.HoursToResolution,
		market.Volume24h, market.Liquidity, book.Depth(), book.Skew(), signalsText)
}
