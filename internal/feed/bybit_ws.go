// Package feed streams live mark prices over the Bybit public WebSocket.
// The stream is advisory: execution and monitoring always confirm prices
// against the REST API, so a stale feed degrades freshness, not safety.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultWSURL = "wss://stream.bybit.com/v5/public/linear"

	pingInterval   = 20 * time.Second
	reconnectDelay = 2 * time.Second
	writeTimeout   = 5 * time.Second
)

// PriceUpdate is one mark price observation.
type PriceUpdate struct {
	Symbol     string    `json:"symbol"`
	MarkPrice  float64   `json:"mark_price"`
	ObservedAt time.Time `json:"observed_at"`
}

// PriceHandler is called for each received update.
type PriceHandler func(ctx context.Context, update PriceUpdate)

// tickerMessage is the v5 tickers push frame. Snapshot frames carry all
// fields, delta frames only the changed ones.
type tickerMessage struct {
	Topic string `json:"topic"`
	Data  struct {
		Symbol    string `json:"symbol"`
		MarkPrice string `json:"markPrice"`
	} `json:"data"`
}

// BybitWSFeed subscribes to tickers for the configured symbols and invokes
// the handler on every mark price push. It reconnects on disconnect.
type BybitWSFeed struct {
	wsURL   string
	symbols []string // normalized base assets, e.g. "BTC"
	handler PriceHandler
	logger  *slog.Logger

	mu     sync.RWMutex
	latest map[string]PriceUpdate

	closeOnce sync.Once
	done      chan struct{}
}

// NewBybitWSFeed creates a feed for the given base-asset symbols. An empty
// wsURL uses the public mainnet stream.
func NewBybitWSFeed(wsURL string, symbols []string, handler PriceHandler, logger *slog.Logger) *BybitWSFeed {
	if wsURL == "" {
		wsURL = defaultWSURL
	}
	return &BybitWSFeed{
		wsURL:   wsURL,
		symbols: symbols,
		handler: handler,
		logger:  logger.With(slog.String("component", "price_feed")),
		latest:  make(map[string]PriceUpdate),
		done:    make(chan struct{}),
	}
}

// Latest returns the most recent observation for a symbol, if any arrived.
func (f *BybitWSFeed) Latest(symbol string) (PriceUpdate, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	u, ok := f.latest[symbol]
	return u, ok
}

// Run connects and streams until ctx is cancelled, reconnecting with a flat
// backoff on disconnect.
func (f *BybitWSFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to stream, feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		if err := f.runConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn("price stream disconnected, reconnecting",
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// Close stops the feed.
func (f *BybitWSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *BybitWSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := f.subscribe(conn); err != nil {
		return err
	}
	f.logger.Info("price stream subscribed", slog.Int("symbols", len(f.symbols)))

	// Close the connection when the context ends so ReadMessage unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-f.done:
			conn.Close()
		case <-stop:
		}
	}()

	go f.pingLoop(conn, stop)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(ctx, raw)
	}
}

// subscribe sends the tickers subscription for every configured symbol.
func (f *BybitWSFeed) subscribe(conn *websocket.Conn) error {
	args := make([]string, 0, len(f.symbols))
	for _, s := range f.symbols {
		args = append(args, "tickers."+s+"USDT")
	}
	sub := map[string]any{"op": "subscribe", "args": args}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(sub)
}

// pingLoop keeps the connection alive; Bybit closes idle streams after a
// missed ping window.
func (f *BybitWSFeed) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(map[string]string{"op": "ping"}); err != nil {
				return
			}
		}
	}
}

func (f *BybitWSFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Data.Symbol == "" || msg.Data.MarkPrice == "" {
		// Subscription acks, pongs and delta frames without a mark price.
		return
	}

	price, err := strconv.ParseFloat(msg.Data.MarkPrice, 64)
	if err != nil || price <= 0 {
		return
	}

	update := PriceUpdate{
		Symbol:     baseSymbol(msg.Data.Symbol),
		MarkPrice:  price,
		ObservedAt: time.Now().UTC(),
	}

	f.mu.Lock()
	f.latest[update.Symbol] = update
	f.mu.Unlock()

	if f.handler != nil {
		f.handler(ctx, update)
	}
}

func baseSymbol(symbol string) string {
	if len(symbol) > 4 && symbol[len(symbol)-4:] == "USDT" {
		return symbol[:len(symbol)-4]
	}
	return symbol
}
