package keywords

import (
	"math"
	"testing"

	"polymarket-predictor/pkg/types"
)

func TestClassifyMarketType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		question string
		want     types.MarketType
	}{
		{"Will Trump win the election?", types.MarketPolitical},
		{"Will CPI come in above 3.5%?", types.MarketEconomic},
		{"Will Bitcoin close above $100k?", types.MarketCrypto15m},
		{"Will the Chiefs win the Super Bowl?", types.MarketSports},
		{"Will the movie win an Oscar?", types.MarketCultural},
		{"Will the FDA approve the drug?", types.MarketRegulatory},
		{"Will it rain tomorrow?", types.MarketPolitical}, // default
	}
	for _, tt := range tests {
		if got := ClassifyMarketType(tt.question); got != tt.want {
			t.Errorf("ClassifyMarketType(%q) = %s, want %s", tt.question, got, tt.want)
		}
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	got := Extract("Will the Fed cut interest rates in March, or hold rates steady?")
	want := []string{"will", "interest", "rates", "march", "hold", "steady"}
	if len(got) != len(want) {
		t.Fatalf("Extract() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Extract()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractCapsAtTen(t *testing.T) {
	t.Parallel()

	got := Extract("alpha bravo charlie delta echoes foxtrot golfing hotels india juliet kilos limas")
	if len(got) != 10 {
		t.Errorf("Extract() returned %d keywords, want 10", len(got))
	}
}

func TestJaccard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"fed", "rates"}, []string{"fed", "rates"}, 1.0},
		{"disjoint", []string{"fed"}, []string{"nba"}, 0.0},
		{"half overlap", []string{"fed", "rates", "march"}, []string{"fed", "rates", "cuts"}, 0.5},
		{"empty", nil, []string{"fed"}, 0.0},
		{"duplicates collapse", []string{"fed", "fed"}, []string{"fed"}, 1.0},
	}
	for _, tt := range tests {
		if got := Jaccard(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: Jaccard(%v, %v) = %v, want %v", tt.name, tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMentionsCrypto(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"BTC just broke $100k", true},
		{"Ethereum merge complete", true},
		{"The solution is obvious", false}, // "sol" must not match inside a word
		{"SOL pumping hard", true},
		{"Fed raises rates", false},
	}
	for _, tt := range tests {
		if got := MentionsCrypto(tt.text); got != tt.want {
			t.Errorf("MentionsCrypto(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
