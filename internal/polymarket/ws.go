// ws.go streams real-time prices for tokens with open positions.
//
// The feed subscribes to the public market channel by asset (token) ID and
// reduces "book", "price_change", and "last_trade_price" events down to a
// single PriceUpdate stream the adverse-move sweeper consumes. It
// auto-reconnects with exponential backoff (1s to 30s) and re-subscribes to
// every tracked token on reconnection; a read deadline catches silent
// server failures within about two missed pings.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	writeTimeout     = 10 * time.Second
	maxReconnectWait = 30 * time.Second
	priceBufferSize  = 256
)

// PriceUpdate is one observed price for a token.
type PriceUpdate struct {
	TokenID   string
	Price     float64
	Timestamp time.Time
}

// PriceFeed maintains the market-channel WebSocket connection.
type PriceFeed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	updates chan PriceUpdate
	logger  *slog.Logger
}

// NewPriceFeed creates a feed for the public market channel.
func NewPriceFeed(wsURL string, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		url:        wsURL,
		subscribed: make(map[string]bool),
		updates:    make(chan PriceUpdate, priceBufferSize),
		logger:     logger.With("component", "ws_market"),
	}
}

// Updates returns the read-only price update stream.
func (f *PriceFeed) Updates() <-chan PriceUpdate { return f.updates }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *PriceFeed) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds token IDs to the feed.
func (f *PriceFeed) Subscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		f.subscribed[id] = true
	}
	f.subscribedMu.Unlock()
	return f.writeJSON(map[string]any{"operation": "subscribe", "assets_ids": ids})
}

// Unsubscribe removes token IDs from the feed.
func (f *PriceFeed) Unsubscribe(ids []string) error {
	f.subscribedMu.Lock()
	for _, id := range ids {
		delete(f.subscribed, id)
	}
	f.subscribedMu.Unlock()
	return f.writeJSON(map[string]any{"operation": "unsubscribe", "assets_ids": ids})
}

// Close closes the current connection; Run will return once ctx is done.
func (f *PriceFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *PriceFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.subscribedMu.RLock()
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.subscribedMu.RUnlock()
	if err := f.writeJSON(map[string]any{"type": "market", "assets_ids": ids}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("websocket connected", "tracked", len(ids))

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *PriceFeed) dispatch(data []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
		AssetID   string `json:"asset_id"`
		Price     string `json:"price"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return
	}

	switch envelope.EventType {
	case "last_trade_price", "price_change":
		price, err := strconv.ParseFloat(envelope.Price, 64)
		if err != nil || envelope.AssetID == "" {
			return
		}
		f.emit(PriceUpdate{TokenID: envelope.AssetID, Price: price, Timestamp: time.Now().UTC()})

	case "book":
		var evt struct {
			AssetID string `json:"asset_id"`
			Bids    []bookLevel `json:"bids"`
			Asks    []bookLevel `json:"asks"`
		}
		if err := json.Unmarshal(data, &evt); err != nil || evt.AssetID == "" {
			return
		}
		if mid, ok := midPrice(evt.Bids, evt.Asks); ok {
			f.emit(PriceUpdate{TokenID: evt.AssetID, Price: mid, Timestamp: time.Now().UTC()})
		}

	default:
		f.logger.Debug("ignoring ws event", "type", envelope.EventType)
	}
}

func (f *PriceFeed) emit(u PriceUpdate) {
	select {
	case f.updates <- u:
	default:
		f.logger.Warn("price channel full, dropping update", "token_id", u.TokenID)
	}
}

// midPrice returns the best-bid/best-ask midpoint from a book snapshot.
func midPrice(bids, asks []bookLevel) (float64, bool) {
	if len(bids) == 0 || len(asks) == 0 {
		return 0, false
	}
	bid, err1 := strconv.ParseFloat(bids[0].Price, 64)
	ask, err2 := strconv.ParseFloat(asks[0].Price, 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return (bid + ask) / 2, true
}

func (f *PriceFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.TextMessage, []byte("PING")); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *PriceFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *PriceFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
