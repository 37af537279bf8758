// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the trader — signals, market
// snapshots, trade candidates, the persisted trade record, and portfolio
// state. It has no dependencies on internal packages, so it can be imported
// by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the decision for a candidate: buy YES, buy NO, or stand aside.
type Side string

const (
	BuyYes Side = "BUY_YES"
	BuyNo  Side = "BUY_NO"
	Skip   Side = "SKIP"
)

// SourceTier is the programmatic credibility classification of a signal
// source, S1 (official primary) down to S6 (unknown).
type SourceTier string

const (
	TierS1 SourceTier = "S1" // official government / institutional primary
	TierS2 SourceTier = "S2" // wire services
	TierS3 SourceTier = "S3" // institutional media
	TierS4 SourceTier = "S4" // verified domain experts
	TierS5 SourceTier = "S5" // market data feeds
	TierS6 SourceTier = "S6" // unverified / unknown
)

// TierCredibility maps a source tier to its baseline credibility score.
var TierCredibility = map[SourceTier]float64{
	TierS1: 0.95,
	TierS2: 0.90,
	TierS3: 0.80,
	TierS4: 0.65,
	TierS5: 0.70,
	TierS6: 0.30,
}

// Credibility returns the baseline credibility for a tier (S6 if unknown).
func (t SourceTier) Credibility() float64 {
	if c, ok := TierCredibility[t]; ok {
		return c
	}
	return TierCredibility[TierS6]
}

// InfoType is the semantic classification of a signal's informational
// character. I1–I5 are assigned by the language model during estimation;
// I6 is assigned by the collector when a signal is pure price action.
type InfoType string

const (
	InfoI1 InfoType = "I1" // verified fact / deterministic outcome
	InfoI2 InfoType = "I2" // strong directional, authoritative analysis
	InfoI3 InfoType = "I3" // weak directional, statistical or data-driven
	InfoI4 InfoType = "I4" // sentiment shift / market intelligence
	InfoI5 InfoType = "I5" // contradictory or rumor
	InfoI6 InfoType = "I6" // market-derived price action
)

// MarketType buckets markets by subject so the learning layer can track
// per-type performance. Classification is keyword-based on question text.
type MarketType string

const (
	MarketPolitical  MarketType = "political"
	MarketEconomic   MarketType = "economic"
	MarketCrypto15m  MarketType = "crypto_15m"
	MarketSports     MarketType = "sports"
	MarketCultural   MarketType = "cultural"
	MarketRegulatory MarketType = "regulatory"
)

// AllMarketTypes lists every known market type, in display order.
var AllMarketTypes = []MarketType{
	MarketPolitical,
	MarketEconomic,
	MarketCrypto15m,
	MarketSports,
	MarketCultural,
	MarketRegulatory,
}

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// Signal is one normalized piece of evidence about a market: a news item,
// a social post, or a market-data observation. Immutable once classified.
// InfoType is empty at collection time and assigned during estimation.
type Signal struct {
	SourceKind   string     // "news", "social", "market_data"
	SourceTier   SourceTier // S1-S6, set by the classifier
	InfoType     InfoType   // I1-I6, empty until assigned
	Text         string
	Credibility  float64 // [0,1], derived from tier
	Author       string  // handle or feed name
	Followers    int
	Engagement   int
	Timestamp    time.Time
	HeadlineOnly bool // news item with headline but no body text
}

// SignalTag is the (tier, info type) pair the model reports for each signal
// it actually used, echoed back in its JSON response and persisted with the
// trade record for signal-quality learning.
type SignalTag struct {
	SourceTier SourceTier `json:"source_tier"`
	InfoType   InfoType   `json:"info_type"`
	Summary    string     `json:"content_summary,omitempty"`
	Timestamp  string     `json:"timestamp,omitempty"`
}

// ————————————————————————————————————————————————————————————————————————
// Markets
// ————————————————————————————————————————————————————————————————————————

// Market is a point-in-time snapshot of one binary market. Snapshots are
// refetched every scan cycle and never cached across cycles.
type Market struct {
	ID                string
	Question          string
	YesPrice          float64
	NoPrice           float64
	ResolutionTime    time.Time
	HoursToResolution float64
	Volume24h         float64
	Liquidity         float64
	Type              MarketType
	FeeRate           float64
	Keywords          []string

	YesTokenID string // CLOB token ID for the YES outcome
	NoTokenID  string

	Resolved   bool
	Resolution string // "YES" or "NO" once resolved
}

// OrderBook holds the top bid/ask level sizes for a market's YES token.
type OrderBook struct {
	MarketID  string
	Bids      []float64 // top 5 bid level sizes in USD, best first
	Asks      []float64 // top 5 ask level sizes in USD, best first
	Timestamp time.Time
}

// Depth returns the total book depth (bid sizes + ask sizes).
func (ob OrderBook) Depth() float64 {
	var total float64
	for _, b := range ob.Bids {
		total += b
	}
	for _, a := range ob.Asks {
		total += a
	}
	return total
}

// Skew returns (bids − asks) / depth in [-1, 1], zero on an empty book.
// Positive skew means buy-side pressure.
func (ob OrderBook) Skew() float64 {
	var bids, asks float64
	for _, b := range ob.Bids {
		bids += b
	}
	for _, a := range ob.Asks {
		asks += a
	}
	depth := bids + asks
	if depth <= 0 {
		return 0
	}
	return (bids - asks) / depth
}

// ————————————————————————————————————————————————————————————————————————
// Candidates and records
// ————————————————————————————————————————————————————————————————————————

// TradeCandidate is the working state of one market moving through a scan:
// gathered signals, raw model estimates, adjusted estimates, edge, sizing,
// and the final decision.
type TradeCandidate struct {
	Market  Market
	Signals []Signal
	Tier    int // 1 or 2

	RawProbability float64 // model estimate, before any adjustment
	RawConfidence  float64
	Reasoning      string
	SignalTags     []SignalTag

	AdjustedProbability float64
	AdjustedConfidence  float64
	CalculatedEdge      float64
	Side                Side
	PositionSize        float64
	KellyFractionUsed   float64
	Score               float64
	ClusterID           string
	SkipReason          string

	MarketPrice        float64 // YES price at decision time
	FeeRate            float64
	OrderbookDepth     float64
	HeadlineOnlySignal bool

	CalibrationAdjustment  float64
	MarketTypeAdjustment   float64
	SignalWeightAdjustment float64
}

// TradeRecord is the audit row persisted for every candidate, executed or
// skipped. It is written at decision time and updated exactly once at
// resolution; after the learning layer has consumed a resolved record the
// only permitted mutation is voiding.
type TradeRecord struct {
	RecordID      string
	ExperimentRun string
	Timestamp     time.Time
	ModelUsed     string

	MarketID              string
	MarketQuestion        string
	MarketType            MarketType
	ResolutionWindowHours float64
	ResolutionTime        time.Time
	Tier                  int

	RawProbability     float64
	RawConfidence      float64
	Reasoning          string
	SignalTags         []SignalTag
	HeadlineOnlySignal bool

	CalibrationAdjustment  float64
	MarketTypeAdjustment   float64
	SignalWeightAdjustment float64
	AdjustedProbability    float64
	AdjustedConfidence     float64

	MarketPriceAtDecision float64
	OrderbookDepthUSD     float64
	FeeRate               float64
	CalculatedEdge        float64
	TradeScore            float64

	Action            Side
	SkipReason        string
	PositionSizeUSD   float64
	KellyFractionUsed float64
	ClusterID         string

	ActualOutcome         *bool // nil until resolved; true = YES
	PnL                   *float64
	BrierRaw              *float64
	BrierAdjusted         *float64
	ResolvedAt            *time.Time
	UnrealizedAdverseMove *float64

	Voided     bool
	VoidReason string
}

// Open reports whether the record is an executed trade awaiting resolution.
func (r *TradeRecord) Open() bool {
	return r.Action != Skip && r.ActualOutcome == nil && !r.Voided
}

// ExecutionResult is the fill outcome of a paper or live order.
type ExecutionResult struct {
	ExecutedPrice   float64
	Slippage        float64
	FillProbability float64
	Filled          bool
}

// ————————————————————————————————————————————————————————————————————————
// Portfolio
// ————————————————————————————————————————————————————————————————————————

// Position is one open holding.
type Position struct {
	MarketID   string
	RecordID   string
	Side       Side
	EntryPrice float64
	SizeUSD    float64
	ClusterID  string
	OpenedAt   time.Time
}

// Portfolio is the single-row account state: cash, equity, pnl, drawdown,
// and open positions. Read by the risk gate, written by execution and the
// resolution poller.
type Portfolio struct {
	CashBalance   float64
	TotalEquity   float64
	TotalPnL      float64
	PeakEquity    float64
	MaxDrawdown   float64
	OpenPositions []Position
}

// OpenExposure returns the sum of open position sizes in USD.
func (p *Portfolio) OpenExposure() float64 {
	var total float64
	for _, pos := range p.OpenPositions {
		total += pos.SizeUSD
	}
	return total
}

// ClusterExposure returns the summed open size for one cluster ID.
func (p *Portfolio) ClusterExposure(clusterID string) float64 {
	var total float64
	for _, pos := range p.OpenPositions {
		if pos.ClusterID == clusterID {
			total += pos.SizeUSD
		}
	}
	return total
}

// ————————————————————————————————————————————————————————————————————————
// Experiments
// ————————————————————————————————————————————————————————————————————————

// ExperimentRun identifies an uninterrupted trading period under one model
// and configuration. Every TradeRecord references a run; exactly one run is
// current at any time.
type ExperimentRun struct {
	RunID             string
	StartedAt         time.Time
	EndedAt           *time.Time
	ConfigSnapshot    map[string]string
	Description       string
	ModelUsed         string
	IncludeInLearning bool
	TotalTrades       int
	TotalPnL          float64
	AvgBrier          float64
}

// ModelSwapEvent is the audit row written when the active model changes.
type ModelSwapEvent struct {
	Timestamp            time.Time
	OldModel             string
	NewModel             string
	Reason               string
	ExperimentRunStarted string
}
