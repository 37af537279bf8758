package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polymarket-predictor/internal/config"
	"polymarket-predictor/pkg/types"
)

// bookLevels is how many levels of each book side we keep.
const bookLevels = 5

// tickSize is the CLOB price increment for binary outcome tokens.
var tickSize = decimal.New(1, -2) // 0.01

// CLOBClient reads order books and places live orders.
type CLOBClient struct {
	http   *resty.Client
	creds  Credentials
	rl     *rateLimiter
	logger *slog.Logger
}

// NewCLOBClient builds a CLOB client. Credentials may be empty in paper
// mode; only PlaceOrder requires them.
func NewCLOBClient(cfg config.APIConfig, logger *slog.Logger) *CLOBClient {
	http := resty.New().
		SetBaseURL(cfg.CLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
	return &CLOBClient{
		http:   http,
		creds:  Credentials{APIKey: cfg.ApiKey, Secret: cfg.Secret, Passphrase: cfg.Passphrase},
		rl:     newRateLimiter(),
		logger: logger.With("component", "clob"),
	}
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

// OrderBook fetches the top book levels for a token. A missing token ID or
// fetch failure degrades to an empty book; book data is advisory, not
// load-bearing.
func (c *CLOBClient) OrderBook(ctx context.Context, tokenID, marketID string) types.OrderBook {
	book := types.OrderBook{MarketID: marketID, Timestamp: time.Now().UTC()}
	if tokenID == "" {
		c.logger.Warn("orderbook skipped, no token id", "market_id", marketID)
		return book
	}
	if err := c.rl.book.Wait(ctx); err != nil {
		return book
	}

	var result bookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		c.logger.Warn("orderbook fetch failed", "market_id", marketID, "error", err)
		return book
	}
	if resp.IsError() {
		c.logger.Warn("orderbook fetch rejected", "market_id", marketID, "status", resp.StatusCode())
		return book
	}

	book.Bids = levelSizes(result.Bids)
	book.Asks = levelSizes(result.Asks)
	return book
}

func levelSizes(levels []bookLevel) []float64 {
	if len(levels) > bookLevels {
		levels = levels[:bookLevels]
	}
	out := make([]float64, 0, len(levels))
	for _, l := range levels {
		d, err := decimal.NewFromString(l.Size)
		if err != nil {
			continue
		}
		f, _ := d.Float64()
		out = append(out, f)
	}
	return out
}

// Order is a live order request against one outcome token.
type Order struct {
	TokenID string
	Side    string // "BUY" or "SELL"
	Price   float64
	SizeUSD float64
}

type orderPayload struct {
	TokenID string `json:"tokenID"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Type    string `json:"type"`
}

// OrderStatus is the CLOB's acknowledgement of an order.
type OrderStatus struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderID"`
	Status  string `json:"status"`
	Error   string `json:"errorMsg"`
}

// PlaceOrder submits a live order with L2 auth. The price is rounded to the
// tick and size to two decimals before signing so the signed body matches
// what the API validates.
func (c *CLOBClient) PlaceOrder(ctx context.Context, order Order) (*OrderStatus, error) {
	if !c.creds.Valid() {
		return nil, fmt.Errorf("place order: missing L2 credentials")
	}
	if err := c.rl.order.Wait(ctx); err != nil {
		return nil, err
	}

	price := decimal.NewFromFloat(order.Price).Div(tickSize).Round(0).Mul(tickSize)
	size := decimal.NewFromFloat(order.SizeUSD).RoundDown(2)

	payload := orderPayload{
		TokenID: order.TokenID,
		Side:    order.Side,
		Price:   price.String(),
		Size:    size.String(),
		Type:    "GTC",
	}
	body, err := jsonBody(payload)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	headers, err := c.creds.l2Headers("POST", "/order", body)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	var result OrderStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("place order: status %d: %s", resp.StatusCode(), resp.String())
	}
	if !result.Success {
		return &result, fmt.Errorf("place order rejected: %s", result.Error)
	}

	c.logger.Info("order placed",
		"token_id", order.TokenID,
		"side", order.Side,
		"price", price.String(),
		"size", size.String(),
		"order_id", result.OrderID,
	)
	return &result, nil
}

// jsonBody marshals the payload once so the signed body and the sent body
// are byte-identical.
func jsonBody(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
