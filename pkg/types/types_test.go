package types

import (
	"math"
	"testing"
	"time"
)

func TestSourceTierCredibility(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tier SourceTier
		want float64
	}{
		{TierS1, 0.95},
		{TierS2, 0.90},
		{TierS3, 0.80},
		{TierS4, 0.65},
		{TierS5, 0.70},
		{TierS6, 0.30},
		{SourceTier("S9"), 0.30}, // unknown falls back to S6
	}

	for _, tt := range tests {
		if got := tt.tier.Credibility(); got != tt.want {
			t.Errorf("SourceTier(%q).Credibility() = %v, want %v", tt.tier, got, tt.want)
		}
	}
}

func TestOrderBookDepthAndSkew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		bids      []float64
		asks      []float64
		wantDepth float64
		wantSkew  float64
	}{
		{"balanced", []float64{100, 50}, []float64{100, 50}, 300, 0},
		{"buy pressure", []float64{300}, []float64{100}, 400, 0.5},
		{"sell pressure", []float64{100}, []float64{300}, 400, -0.5},
		{"empty", nil, nil, 0, 0},
	}

	for _, tt := range tests {
		ob := OrderBook{Bids: tt.bids, Asks: tt.asks}
		if got := ob.Depth(); got != tt.wantDepth {
			t.Errorf("%s: Depth() = %v, want %v", tt.name, got, tt.wantDepth)
		}
		if got := ob.Skew(); math.Abs(got-tt.wantSkew) > 1e-9 {
			t.Errorf("%s: Skew() = %v, want %v", tt.name, got, tt.wantSkew)
		}
	}
}

func TestTradeRecordOpen(t *testing.T) {
	t.Parallel()

	outcome := true
	tests := []struct {
		name string
		rec  TradeRecord
		want bool
	}{
		{"executed pending", TradeRecord{Action: BuyYes}, true},
		{"skip", TradeRecord{Action: Skip}, false},
		{"resolved", TradeRecord{Action: BuyNo, ActualOutcome: &outcome}, false},
		{"voided", TradeRecord{Action: BuyYes, Voided: true}, false},
	}

	for _, tt := range tests {
		if got := tt.rec.Open(); got != tt.want {
			t.Errorf("%s: Open() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPortfolioExposure(t *testing.T) {
	t.Parallel()

	p := Portfolio{
		CashBalance: 1500,
		OpenPositions: []Position{
			{MarketID: "m1", SizeUSD: 200, ClusterID: "c1", OpenedAt: time.Now()},
			{MarketID: "m2", SizeUSD: 100, ClusterID: "c1"},
			{MarketID: "m3", SizeUSD: 50, ClusterID: "c2"},
		},
	}

	if got := p.OpenExposure(); got != 350 {
		t.Errorf("OpenExposure() = %v, want 350", got)
	}
	if got := p.ClusterExposure("c1"); got != 300 {
		t.Errorf("ClusterExposure(c1) = %v, want 300", got)
	}
	if got := p.ClusterExposure("missing"); got != 0 {
		t.Errorf("ClusterExposure(missing) = %v, want 0", got)
	}
}
