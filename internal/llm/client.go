// Package llm talks to the probability-estimation model over an
// OpenAI-compatible chat-completions endpoint. The response contract is a
// single JSON object; parsing is deliberately tolerant because models wrap
// JSON in prose and markdown fences more often than not.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-predictor/internal/config"
	"polymarket-predictor/internal/store"
	"polymarket-predictor/pkg/types"
)

// Estimate is the validated model output for one market.
type Estimate struct {
	Probability float64
	Confidence  float64
	Reasoning   string
	SignalTags  []types.SignalTag
}

// Client wraps the chat-completions endpoint with retries and per-call cost
// accounting.
type Client struct {
	http   *resty.Client
	cfg    config.LMConfig
	store  *store.Store
	logger *slog.Logger
}

// NewClient builds a client from config. Transport-level retries are left
// off; the estimation loop owns retry policy so parse failures and HTTP
// failures share one attempt budget.
func NewClient(cfg config.LMConfig, st *store.Store, logger *slog.Logger) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	return &Client{http: http, cfg: cfg, store: st, logger: logger.With("component", "llm")}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.cfg.Model }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// complete issues one raw completion call and records its cost.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       c.cfg.Model,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("chat completion: status %d: %s", resp.StatusCode(), resp.String())
	}

	cost := float64(out.Usage.PromptTokens)/1e6*c.cfg.InputCostPer1M +
		float64(out.Usage.CompletionTokens)/1e6*c.cfg.OutputCostPer1M
	if err := c.store.AddAPICost(time.Now(), "lm", 1, cost); err != nil {
		c.logger.Warn("cost accounting failed", "error", err)
	}

	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

// Estimate calls the model for one market with the full retry pipeline:
// HTTP errors, unparseable output, and invalid fields all consume attempts,
// with linear backoff between them. On exhaustion a parse-failure row is
// recorded and an error returned; the caller skips the market.
func (c *Client) Estimate(ctx context.Context, marketID, prompt string) (*Estimate, error) {
	var lastErr error
	var lastRaw string

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		raw, err := c.complete(ctx, prompt)
		if err != nil {
			lastErr = err
			c.logger.Warn("completion failed", "market_id", marketID, "attempt", attempt, "error", err)
			continue
		}
		lastRaw = raw

		est, err := parseEstimate(raw)
		if err != nil {
			lastErr = err
			c.logger.Warn("response rejected", "market_id", marketID, "attempt", attempt, "error", err)
			continue
		}
		return est, nil
	}

	errMsg := "unknown"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	if err := c.store.RecordParseFailure(marketID, c.cfg.Model, c.cfg.MaxAttempts, errMsg, lastRaw); err != nil {
		c.logger.Warn("parse failure not recorded", "error", err)
	}
	return nil, fmt.Errorf("estimate %s: attempts exhausted: %w", marketID, lastErr)
}

var (
	fenceOpenRe  = regexp.MustCompile("(?m)^```(?:json)?\\s*\n?")
	fenceCloseRe = regexp.MustCompile("(?m)\n?```\\s*$")
	jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

// parseJSONSafe tries a direct parse, then a fence-stripped parse, then the
// first {...} block in the text.
func parseJSONSafe(raw string) (map[string]json.RawMessage, bool) {
	try := func(s string) (map[string]json.RawMessage, bool) {
		var m map[string]json.RawMessage
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, false
		}
		return m, true
	}
	if m, ok := try(raw); ok {
		return m, true
	}
	stripped := fenceCloseRe.ReplaceAllString(fenceOpenRe.ReplaceAllString(raw, ""), "")
	if m, ok := try(stripped); ok {
		return m, true
	}
	if block := jsonObjectRe.FindString(raw); block != "" {
		if m, ok := try(block); ok {
			return m, true
		}
	}
	return nil, false
}

// parseEstimate validates the required fields and coerces numerics that
// arrive as strings.
func parseEstimate(raw string) (*Estimate, error) {
	obj, ok := parseJSONSafe(raw)
	if !ok {
		return nil, fmt.Errorf("no JSON object in response")
	}
	for _, field := range []string{"estimated_probability", "confidence", "reasoning", "signal_info_types"} {
		if _, ok := obj[field]; !ok {
			return nil, fmt.Errorf("missing field %s", field)
		}
	}

	prob, err := coerceFloat(obj["estimated_probability"])
	if err != nil {
		return nil, fmt.Errorf("estimated_probability: %w", err)
	}
	conf, err := coerceFloat(obj["confidence"])
	if err != nil {
		return nil, fmt.Errorf("confidence: %w", err)
	}
	if prob < 0 || prob > 1 || conf < 0 || conf > 1 {
		return nil, fmt.Errorf("values out of range: prob=%v conf=%v", prob, conf)
	}

	var reasoning string
	if err := json.Unmarshal(obj["reasoning"], &reasoning); err != nil {
		return nil, fmt.Errorf("reasoning: %w", err)
	}
	var tags []types.SignalTag
	if err := json.Unmarshal(obj["signal_info_types"], &tags); err != nil {
		return nil, fmt.Errorf("signal_info_types: %w", err)
	}

	return &Estimate{Probability: prob, Confidence: conf, Reasoning: reasoning, SignalTags: tags}, nil
}

func coerceFloat(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	return 0, fmt.Errorf("not a number")
}
