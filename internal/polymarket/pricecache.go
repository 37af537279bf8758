package polymarket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"polymarket-predictor/pkg/types"
)

// marketFetcher is the fallback for tokens without a fresh streamed price.
type marketFetcher interface {
	GetMarket(ctx context.Context, marketID string) (*types.Market, error)
}

// CachedMarkets serves current YES prices for tracked positions from the
// WebSocket feed, falling back to the REST source when the stream has no
// fresh value. It only answers price questions; resolution state always
// comes from the REST source, so resolution polling must not go through
// this cache.
type CachedMarkets struct {
	source marketFetcher
	feed   *PriceFeed
	maxAge time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	prices map[string]PriceUpdate // marketID → latest update
	tokens map[string]string      // tokenID → marketID
}

// NewCachedMarkets wraps a REST market source with the streamed price
// cache. maxAge bounds how stale a streamed price may be before the cache
// falls back to REST.
func NewCachedMarkets(source marketFetcher, feed *PriceFeed, maxAge time.Duration, logger *slog.Logger) *CachedMarkets {
	return &CachedMarkets{
		source: source,
		feed:   feed,
		maxAge: maxAge,
		logger: logger.With("component", "price_cache"),
		prices: make(map[string]PriceUpdate),
		tokens: make(map[string]string),
	}
}

// Run consumes the feed's update stream until ctx is cancelled. The feed's
// own Run must be started separately.
func (c *CachedMarkets) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-c.feed.Updates():
			c.mu.Lock()
			if marketID, ok := c.tokens[u.TokenID]; ok {
				c.prices[marketID] = u
			}
			c.mu.Unlock()
		}
	}
}

// Track subscribes a market's YES token so its price streams in.
func (c *CachedMarkets) Track(marketID, yesTokenID string) {
	c.mu.Lock()
	c.tokens[yesTokenID] = marketID
	c.mu.Unlock()
	if err := c.feed.Subscribe([]string{yesTokenID}); err != nil {
		c.logger.Debug("subscribe deferred until reconnect", "token_id", yesTokenID, "error", err)
	}
}

// Untrack drops a market's token from the stream once its position closes.
func (c *CachedMarkets) Untrack(marketID, yesTokenID string) {
	c.mu.Lock()
	delete(c.tokens, yesTokenID)
	delete(c.prices, marketID)
	c.mu.Unlock()
	if err := c.feed.Unsubscribe([]string{yesTokenID}); err != nil {
		c.logger.Debug("unsubscribe failed", "token_id", yesTokenID, "error", err)
	}
}

// GetMarket returns a price-only market snapshot from the stream when a
// fresh update exists, otherwise delegates to the REST source.
func (c *CachedMarkets) GetMarket(ctx context.Context, marketID string) (*types.Market, error) {
	c.mu.RLock()
	u, ok := c.prices[marketID]
	c.mu.RUnlock()

	if ok && time.Since(u.Timestamp) <= c.maxAge {
		return &types.Market{
			ID:       marketID,
			YesPrice: u.Price,
			NoPrice:  1 - u.Price,
		}, nil
	}
	return c.source.GetMarket(ctx, marketID)
}
