package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"polymarket-predictor/internal/config"
	"polymarket-predictor/internal/store"
	"polymarket-predictor/pkg/types"
)

const goodJSON = `{"estimated_probability": 0.72, "confidence": 0.8, "reasoning": "strong signals", "signal_info_types": [{"source_tier": "S1", "info_type": "I1"}]}`

func TestParseEstimateTolerance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"direct", goodJSON, true},
		{"fenced", "```json\n" + goodJSON + "\n```", true},
		{"embedded in prose", "Here is my analysis:\n" + goodJSON + "\nLet me know.", true},
		{"string numerics", `{"estimated_probability": "0.6", "confidence": "0.7", "reasoning": "r", "signal_info_types": []}`, true},
		{"missing field", `{"estimated_probability": 0.6, "confidence": 0.7, "reasoning": "r"}`, false},
		{"probability above one", `{"estimated_probability": 1.2, "confidence": 0.7, "reasoning": "r", "signal_info_types": []}`, false},
		{"negative confidence", `{"estimated_probability": 0.6, "confidence": -0.1, "reasoning": "r", "signal_info_types": []}`, false},
		{"not json at all", "I think YES is likely around 70%", false},
	}

	for _, tt := range tests {
		est, err := parseEstimate(tt.raw)
		if tt.ok && err != nil {
			t.Errorf("%s: parseEstimate() error = %v, want ok", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%s: parseEstimate() = %+v, want error", tt.name, est)
		}
	}

	est, err := parseEstimate("```json\n" + goodJSON + "\n```")
	if err != nil {
		t.Fatalf("parseEstimate fenced: %v", err)
	}
	if est.Probability != 0.72 || est.Confidence != 0.8 {
		t.Errorf("parsed values = %v/%v, want 0.72/0.8", est.Probability, est.Confidence)
	}
	if len(est.SignalTags) != 1 || est.SignalTags[0].SourceTier != types.TierS1 {
		t.Errorf("signal tags = %+v", est.SignalTags)
	}
}

func testClient(t *testing.T, baseURL string, maxAttempts int) (*Client, *store.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	cfg := config.LMConfig{
		BaseURL:         baseURL,
		Model:           "test-model",
		Timeout:         5 * time.Second,
		MaxAttempts:     maxAttempts,
		MaxTokens:       500,
		InputCostPer1M:  1.0,
		OutputCostPer1M: 2.0,
	}
	return NewClient(cfg, st, logger), st
}

func chatReply(content string, promptTokens, completionTokens int) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]int{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestEstimateRetriesThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			fmt.Fprint(w, chatReply("not json, sorry", 100, 10))
			return
		}
		fmt.Fprint(w, chatReply(goodJSON, 1000, 500))
	}))
	defer srv.Close()

	c, st := testClient(t, srv.URL, 3)
	est, err := c.Estimate(context.Background(), "mkt-1", "prompt")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.Probability != 0.72 {
		t.Errorf("probability = %v, want 0.72", est.Probability)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (one garbage, one good)", calls)
	}

	// Both calls were cost-accounted: (100/1M*1 + 10/1M*2) + (1000/1M*1 + 500/1M*2)
	spend, err := st.APISpendToday(time.Now())
	if err != nil {
		t.Fatalf("APISpendToday: %v", err)
	}
	want := 100.0/1e6 + 20.0/1e6 + 1000.0/1e6 + 1000.0/1e6
	if diff := spend - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("spend = %v, want %v", spend, want)
	}
}

func TestEstimateExhaustionRecordsParseFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatReply("still not json", 10, 1))
	}))
	defer srv.Close()

	c, st := testClient(t, srv.URL, 2)
	if _, err := c.Estimate(context.Background(), "mkt-1", "prompt"); err == nil {
		t.Fatal("Estimate succeeded on garbage, want error")
	}

	n, err := st.ParseFailuresSince(time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ParseFailuresSince: %v", err)
	}
	if n != 1 {
		t.Errorf("parse failures = %d, want 1", n)
	}
}

func TestBuildContext(t *testing.T) {
	t.Parallel()

	market := types.Market{
		Question:          "Will X happen?",
		YesPrice:          0.61,
		NoPrice:           0.39,
		HoursToResolution: 18,
		Volume24h:         120000,
		Liquidity:         30000,
	}
	var signals []types.Signal
	for i := 0; i < 10; i++ {
		signals = append(signals, types.Signal{
			SourceKind:  "social",
			SourceTier:  types.TierS6,
			Credibility: float64(i) / 10,
			Author:      fmt.Sprintf("user%d", i),
			Text:        fmt.Sprintf("signal %d", i),
		})
	}
	signals[3].HeadlineOnly = true
	signals[3].Credibility = 0.99 // should rank first

	prompt := BuildContext(market, signals, types.OrderBook{Bids: []float64{300}, Asks: []float64{100}})

	if !strings.Contains(prompt, "Will X happen?") {
		t.Error("prompt missing question")
	}
	if !strings.Contains(prompt, "[HEADLINE-ONLY]") {
		t.Error("prompt missing headline-only marker")
	}
	if strings.Count(prompt, "@user") != 7 {
		t.Errorf("prompt has %d signals, want top 7", strings.Count(prompt, "@user"))
	}
	if !strings.Contains(prompt, "1. [S6|social] @user3") {
		t.Error("highest-credibility signal not ranked first")
	}
	if !strings.Contains(prompt, "skew: +0.50") {
		t.Error("prompt missing orderbook skew")
	}
	if !strings.Contains(prompt, `"estimated_probability"`) {
		t.Error("prompt missing response contract")
	}
}
