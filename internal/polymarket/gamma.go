// Package polymarket implements the Polymarket Gamma and CLOB clients.
//
// The Gamma client (read-only) lists active markets and fetches single
// markets for resolution polling. The CLOB client reads order books and,
// in live mode, places orders with L2 HMAC auth. A WebSocket feed streams
// book updates for markets with open positions.
//
// The Gamma API is loose with types: outcomePrices and clobTokenIds arrive
// as JSON-encoded strings or as lists, numbers arrive as strings, and the
// market ID can be either. Parsing here is tolerant by necessity.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-predictor/internal/config"
	"polymarket-predictor/internal/keywords"
	"polymarket-predictor/pkg/types"
)

// gammaListLimit is how many markets one listing request asks for.
const gammaListLimit = 100

// GammaClient is the read-only market discovery client.
type GammaClient struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewGammaClient builds a Gamma client with retry on 5xx.
func NewGammaClient(cfg config.APIConfig, logger *slog.Logger) *GammaClient {
	http := resty.New().
		SetBaseURL(cfg.GammaBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &GammaClient{http: http, logger: logger.With("component", "gamma")}
}

// gammaMarket is the raw Gamma market document. Fields that arrive with
// unstable types are held as RawMessage and decoded leniently.
type gammaMarket struct {
	ID               json.RawMessage `json:"id"`
	ConditionID      string          `json:"condition_id"`
	Question         string          `json:"question"`
	OutcomePrices    json.RawMessage `json:"outcomePrices"`
	ClobTokenIDs     json.RawMessage `json:"clobTokenIds"`
	EndDate          string          `json:"endDate"`
	EndDateISO       string          `json:"end_date_iso"`
	Volume24h        json.RawMessage `json:"volume24hr"`
	Liquidity        json.RawMessage `json:"liquidity"`
	Closed           bool            `json:"closed"`
	Resolved         bool            `json:"resolved"`
	ResolutionPrices map[string]json.RawMessage `json:"resolutionPrices"`
}

// ActiveMarkets lists active markets and applies the tier's filters.
// Tier 1 filters on the resolution window and liquidity floor; tier 2 keeps
// only crypto_15m markets inside its window. Individual markets that fail
// to parse are logged and dropped, never the whole scan.
func (c *GammaClient) ActiveMarkets(ctx context.Context, tier int, tierCfg config.TierConfig) ([]types.Market, error) {
	var raw []gammaMarket
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"active": "true",
			"closed": "false",
			"limit":  strconv.Itoa(gammaListLimit),
		}).
		SetResult(&raw).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	if resp.StatusCode() == 429 {
		c.logger.Warn("gamma rate limited")
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list markets: status %d", resp.StatusCode())
	}

	now := time.Now().UTC()
	var out []types.Market
	var badResolution, badLiquidity int
	for _, gm := range raw {
		m, err := parseMarket(gm, now)
		if err != nil {
			c.logger.Warn("market parse failed", "market_id", rawString(gm.ID), "error", err)
			continue
		}
		m.FeeRate = tierCfg.FeeRate

		switch tier {
		case 1:
			if m.HoursToResolution < tierCfg.MinResolutionHours || m.HoursToResolution > tierCfg.MaxResolutionHours {
				badResolution++
				continue
			}
			if m.Liquidity < tierCfg.MinLiquidity {
				badLiquidity++
				continue
			}
		case 2:
			if m.Type != types.MarketCrypto15m {
				continue
			}
			if m.HoursToResolution < tierCfg.MinResolutionHours || m.HoursToResolution > tierCfg.MaxResolutionHours {
				badResolution++
				continue
			}
		}
		out = append(out, m)
	}

	c.logger.Info("market scan filtered",
		"tier", tier,
		"fetched", len(raw),
		"passed", len(out),
		"filtered_resolution", badResolution,
		"filtered_liquidity", badLiquidity,
	)
	return out, nil
}

// GetMarket fetches one market by ID, including resolution status. Used by
// the resolution poller.
func (c *GammaClient) GetMarket(ctx context.Context, marketID string) (*types.Market, error) {
	var gm gammaMarket
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&gm).
		Get("/markets/" + marketID)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", marketID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get market %s: status %d", marketID, resp.StatusCode())
	}
	m, err := parseMarket(gm, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", marketID, err)
	}
	return &m, nil
}

// parseMarket converts a raw Gamma document into a Market snapshot.
func parseMarket(gm gammaMarket, now time.Time) (types.Market, error) {
	id := rawString(gm.ID)
	if id == "" {
		id = gm.ConditionID
	}
	if id == "" {
		return types.Market{}, fmt.Errorf("market has no id")
	}
	if gm.Question == "" {
		return types.Market{}, fmt.Errorf("market %s has no question", id)
	}

	prices := flexFloats(gm.OutcomePrices)
	yes, no := 0.5, 0.5
	if len(prices) > 0 {
		yes = prices[0]
		no = 1 - yes
	}
	if len(prices) > 1 {
		no = prices[1]
	}

	var resolutionTime time.Time
	var hours float64
	endDate := gm.EndDate
	if endDate == "" {
		endDate = gm.EndDateISO
	}
	if endDate != "" {
		if t, err := time.Parse(time.RFC3339, strings.Replace(endDate, "Z", "+00:00", 1)); err == nil {
			resolutionTime = t
		} else if t, err := time.Parse(time.RFC3339, endDate); err == nil {
			resolutionTime = t
		}
		if !resolutionTime.IsZero() {
			hours = resolutionTime.Sub(now).Hours()
			if hours < 0 {
				hours = 0
			}
		}
	}

	tokens := flexStrings(gm.ClobTokenIDs)
	var yesToken, noToken string
	if len(tokens) > 0 {
		yesToken = tokens[0]
	}
	if len(tokens) > 1 {
		noToken = tokens[1]
	}

	resolved := gm.Closed || gm.Resolved
	var resolution string
	if resolved && len(gm.ResolutionPrices) > 0 {
		if v, ok := gm.ResolutionPrices["0"]; ok {
			if flexFloat(v) > 0.5 {
				resolution = "YES"
			} else {
				resolution = "NO"
			}
		}
	}

	return types.Market{
		ID:                id,
		Question:          gm.Question,
		YesPrice:          yes,
		NoPrice:           no,
		ResolutionTime:    resolutionTime,
		HoursToResolution: hours,
		Volume24h:         flexFloat(gm.Volume24h),
		Liquidity:         flexFloat(gm.Liquidity),
		Type:              keywords.ClassifyMarketType(gm.Question),
		Keywords:          keywords.Extract(gm.Question),
		YesTokenID:        yesToken,
		NoTokenID:         noToken,
		Resolved:          resolved,
		Resolution:        resolution,
	}, nil
}

// flexFloats decodes a numeric list that may arrive as a JSON array, a
// JSON-encoded string containing an array, with elements that are numbers
// or strings.
func flexFloats(raw json.RawMessage) []float64 {
	if len(raw) == 0 {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		// Maybe a string wrapping the array.
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(s), &elems); err != nil {
			return nil
		}
	}
	out := make([]float64, 0, len(elems))
	for _, e := range elems {
		out = append(out, flexFloat(e))
	}
	return out
}

// flexStrings decodes a string list with the same tolerance as flexFloats.
func flexStrings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err == nil {
		return out
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

// flexFloat decodes a number that may arrive as a number or a string.
func flexFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}

// rawString decodes an ID that may be a JSON string or number.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.Trim(string(raw), `"`)
}
