// Package hyperliquid implements the exchange connector for Hyperliquid
// perpetuals. The /info endpoint answers unauthenticated state queries; the
// /exchange endpoint requires every action to be wallet-signed.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"signalrunner/internal/crypto"
	"signalrunner/internal/domain"
)

const (
	mainnetURL = "https://api.hyperliquid.xyz"
	testnetURL = "https://api.hyperliquid-testnet.xyz"

	rateLimitKey = "venue:hyperliquid"

	// minOrderValueUSD is the exchange-wide minimum notional per order.
	minOrderValueUSD = 10.0
)

// asset caches the universe entry for one coin.
type asset struct {
	index      int
	szDecimals int
	tradeable  bool
}

// Client is the Hyperliquid connector. It satisfies domain.ExchangeConnector.
type Client struct {
	baseURL    string
	signer     *crypto.Signer
	source     string // "a" mainnet, "b" testnet
	httpClient *http.Client
	limiter    domain.RateLimiter

	mu     sync.Mutex
	assets map[string]asset
}

var _ domain.ExchangeConnector = (*Client)(nil)

// NewClient creates a Hyperliquid connector signing with the given wallet
// private key. limiter may be nil.
func NewClient(privateKeyHex string, testnet bool, limiter domain.RateLimiter) (*Client, error) {
	signer, err := crypto.NewSigner(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: %w", err)
	}

	baseURL, source := mainnetURL, "a"
	if testnet {
		baseURL, source = testnetURL, "b"
	}
	return &Client{
		baseURL: baseURL,
		signer:  signer,
		source:  source,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: limiter,
		assets:  make(map[string]asset),
	}, nil
}

// Name returns the venue identifier.
func (c *Client) Name() string { return "hyperliquid" }

// Address returns the wallet address trades are placed from.
func (c *Client) Address() string { return c.signer.Address() }

// GetBalance returns the perp account value and withdrawable margin.
func (c *Client) GetBalance(ctx context.Context) (domain.Balance, error) {
	state, err := c.state(ctx)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("hyperliquid: get balance: %w", err)
	}
	total := parseFloat(state.MarginSummary.AccountValue)
	return domain.Balance{
		Total:     total,
		Available: parseFloat(state.Withdrawable),
		ByAsset:   map[string]float64{"USDC": total},
	}, nil
}

// GetPositions returns all open perp positions.
func (c *Client) GetPositions(ctx context.Context) ([]domain.VenuePosition, error) {
	state, err := c.state(ctx)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: get positions: %w", err)
	}

	out := make([]domain.VenuePosition, 0, len(state.AssetPositions))
	for _, ap := range state.AssetPositions {
		szi := parseFloat(ap.Position.Szi)
		if szi == 0 {
			continue
		}
		side := domain.SideLong
		if szi < 0 {
			side = domain.SideShort
		}
		mark, _ := c.GetMarkPrice(ctx, ap.Position.Coin)
		out = append(out, domain.VenuePosition{
			Symbol:        ap.Position.Coin,
			Side:          side,
			Size:          math.Abs(szi),
			EntryPrice:    parseFloat(ap.Position.EntryPx),
			MarkPrice:     mark,
			Leverage:      ap.Position.Leverage.Value,
			UnrealizedPnL: parseFloat(ap.Position.UnrealizedPnl),
		})
	}
	return out, nil
}

// GetMarkPrice returns the current mid price for the coin. Hyperliquid's
// allMids query returns every market in one response keyed by coin.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	var mids map[string]string
	if err := c.info(ctx, map[string]any{"type": "allMids"}, &mids); err != nil {
		return 0, fmt.Errorf("hyperliquid: all mids: %w", err)
	}
	mid, ok := mids[symbol]
	if !ok {
		return 0, fmt.Errorf("hyperliquid: mark price %s: %w", symbol, domain.ErrSymbolUnavailable)
	}
	return parseFloat(mid), nil
}

// SetLeverage updates cross leverage for the asset.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	a, err := c.asset(ctx, symbol)
	if err != nil {
		return err
	}
	action := leverageAction{
		Type:     "updateLeverage",
		Asset:    a.index,
		IsCross:  true,
		Leverage: leverage,
	}
	var resp exchangeResponse
	if err := c.exchange(ctx, action, &resp); err != nil {
		return fmt.Errorf("hyperliquid: set leverage %s %dx: %w", symbol, leverage, err)
	}
	return nil
}

// PlaceMarketOrder places an aggressive IOC order. Hyperliquid has no
// native market order type; an IOC limit far through the book is the
// conventional equivalent.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, quantity float64) (string, error) {
	a, err := c.asset(ctx, symbol)
	if err != nil {
		return "", err
	}
	mark, err := c.GetMarkPrice(ctx, symbol)
	if err != nil {
		return "", err
	}

	// 5% through the mark caps slippage while guaranteeing a cross.
	price := mark * 1.05
	if side == domain.SideShort {
		price = mark * 0.95
	}

	wire := orderWire{
		Asset:  a.index,
		IsBuy:  side == domain.SideLong,
		Price:  formatPrice(price),
		Size:   formatSize(quantity, a.szDecimals),
		Kind:   orderKind{Limit: &limitKind{Tif: "Ioc"}},
	}
	oid, err := c.placeOrder(ctx, wire)
	if err != nil {
		return "", fmt.Errorf("hyperliquid: place market order %s: %w", symbol, err)
	}
	return oid, nil
}

// PlaceStopOrder places a reduce-only stop-market trigger order.
func (c *Client) PlaceStopOrder(ctx context.Context, symbol string, side domain.Side, triggerPrice, quantity float64) (string, error) {
	a, err := c.asset(ctx, symbol)
	if err != nil {
		return "", err
	}
	wire := orderWire{
		Asset:      a.index,
		IsBuy:      side == domain.SideLong,
		Price:      formatPrice(triggerPrice),
		Size:       formatSize(quantity, a.szDecimals),
		ReduceOnly: true,
		Kind: orderKind{Trigger: &triggerKind{
			TriggerPx: formatPrice(triggerPrice),
			IsMarket:  true,
			Tpsl:      "sl",
		}},
	}
	oid, err := c.placeOrder(ctx, wire)
	if err != nil {
		return "", fmt.Errorf("hyperliquid: place stop order %s: %w", symbol, err)
	}
	return oid, nil
}

// PlaceLimitOrder places a GTC limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, price, quantity float64, reduceOnly bool) (string, error) {
	a, err := c.asset(ctx, symbol)
	if err != nil {
		return "", err
	}
	wire := orderWire{
		Asset:      a.index,
		IsBuy:      side == domain.SideLong,
		Price:      formatPrice(price),
		Size:       formatSize(quantity, a.szDecimals),
		ReduceOnly: reduceOnly,
		Kind:       orderKind{Limit: &limitKind{Tif: "Gtc"}},
	}
	oid, err := c.placeOrder(ctx, wire)
	if err != nil {
		return "", fmt.Errorf("hyperliquid: place limit order %s: %w", symbol, err)
	}
	return oid, nil
}

// CancelOrder cancels an open order by oid.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	a, err := c.asset(ctx, symbol)
	if err != nil {
		return err
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("hyperliquid: cancel order: bad oid %q: %w", orderID, err)
	}
	action := cancelAction{
		Type:    "cancel",
		Cancels: []cancelWire{{Asset: a.index, Oid: oid}},
	}
	var resp exchangeResponse
	if err := c.exchange(ctx, action, &resp); err != nil {
		return fmt.Errorf("hyperliquid: cancel order %s: %w", orderID, err)
	}
	return nil
}

// OrderFilled reports whether the order appears in the account's fills. An
// order still resting in the open set has by definition not fully filled.
func (c *Client) OrderFilled(ctx context.Context, symbol, orderID string) (bool, error) {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("hyperliquid: order status: bad oid %q: %w", orderID, err)
	}

	var open []openOrder
	if err := c.info(ctx, map[string]any{"type": "frontendOpenOrders", "user": c.signer.Address()}, &open); err != nil {
		return false, fmt.Errorf("hyperliquid: open orders: %w", err)
	}
	for _, o := range open {
		if o.Oid == oid {
			return false, nil
		}
	}

	var fills []orderFill
	if err := c.info(ctx, map[string]any{"type": "userFills", "user": c.signer.Address()}, &fills); err != nil {
		return false, fmt.Errorf("hyperliquid: user fills: %w", err)
	}
	for _, f := range fills {
		if f.Oid == oid {
			return true, nil
		}
	}
	return false, nil
}

// ValidateSymbol checks the coin exists in the perp universe.
func (c *Client) ValidateSymbol(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	a, err := c.asset(ctx, symbol)
	if err != nil {
		return domain.SymbolInfo{}, err
	}
	return domain.SymbolInfo{
		Tradeable:     a.tradeable,
		MinOrderValue: minOrderValueUSD,
		QtyStep:       math.Pow(10, -float64(a.szDecimals)),
	}, nil
}

// RoundQuantity floors the raw quantity to the coin's size decimals.
func (c *Client) RoundQuantity(ctx context.Context, symbol string, raw float64) (float64, error) {
	a, err := c.asset(ctx, symbol)
	if err != nil {
		return 0, err
	}
	scale := math.Pow(10, float64(a.szDecimals))
	return math.Floor(raw*scale) / scale, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) state(ctx context.Context) (clearinghouseState, error) {
	var state clearinghouseState
	payload := map[string]any{"type": "clearinghouseState", "user": c.signer.Address()}
	if err := c.info(ctx, payload, &state); err != nil {
		return clearinghouseState{}, err
	}
	return state, nil
}

func (c *Client) asset(ctx context.Context, symbol string) (asset, error) {
	c.mu.Lock()
	if a, ok := c.assets[symbol]; ok {
		c.mu.Unlock()
		return a, nil
	}
	c.mu.Unlock()

	var meta metaResponse
	if err := c.info(ctx, map[string]any{"type": "meta"}, &meta); err != nil {
		return asset{}, fmt.Errorf("hyperliquid: meta: %w", err)
	}

	c.mu.Lock()
	for i, u := range meta.Universe {
		c.assets[u.Name] = asset{index: i, szDecimals: u.SzDecimals, tradeable: !u.IsDelisted}
	}
	a, ok := c.assets[symbol]
	c.mu.Unlock()

	if !ok {
		return asset{}, fmt.Errorf("hyperliquid: %s: %w", symbol, domain.ErrSymbolUnavailable)
	}
	return a, nil
}

func (c *Client) placeOrder(ctx context.Context, wire orderWire) (string, error) {
	action := orderAction{Type: "order", Orders: []orderWire{wire}, Grouping: "na"}
	var resp exchangeResponse
	if err := c.exchange(ctx, action, &resp); err != nil {
		return "", err
	}

	statuses := resp.Response.Data.Statuses
	if len(statuses) == 0 {
		return "", fmt.Errorf("empty order status")
	}
	st := statuses[0]
	if st.Error != "" {
		return "", fmt.Errorf("order rejected: %s", st.Error)
	}
	if st.Filled.Oid != 0 {
		return strconv.FormatInt(st.Filled.Oid, 10), nil
	}
	return strconv.FormatInt(st.Resting.Oid, 10), nil
}

// info posts an unsigned query to /info.
func (c *Client) info(ctx context.Context, payload, out any) error {
	return c.post(ctx, "/info", payload, out)
}

// exchange signs the action and posts it to /exchange. The signature covers
// the serialized action plus the nonce, so replays are rejected.
func (c *Client) exchange(ctx context.Context, action any, out *exchangeResponse) error {
	actionBytes, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	nonce := time.Now().UnixMilli()
	signed := append(actionBytes, []byte(strconv.FormatInt(nonce, 10))...)
	r, s, v, err := c.signer.SignAction(signed, c.source)
	if err != nil {
		return err
	}

	req := exchangeRequest{
		Action:    json.RawMessage(actionBytes),
		Nonce:     nonce,
		Signature: signature{R: r, S: s, V: v},
	}
	if err := c.post(ctx, "/exchange", req, out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("exchange status %q", out.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// formatPrice renders a price with at most 5 significant figures, the
// exchange's tick convention.
func formatPrice(v float64) string {
	return strconv.FormatFloat(roundSigFigs(v, 5), 'f', -1, 64)
}

func formatSize(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

func roundSigFigs(v float64, figs int) float64 {
	if v == 0 {
		return 0
	}
	magnitude := math.Pow(10, float64(figs)-math.Ceil(math.Log10(math.Abs(v))))
	return math.Round(v*magnitude) / magnitude
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
