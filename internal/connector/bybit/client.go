// Package bybit implements the exchange connector for Bybit linear
// perpetuals against the v5 REST API.
package bybit

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
	mainnetURL = "https://api.bybit.com"
	testnetURL = "https://api-testnet.bybit.com"

	recvWindowMillis = 5000
	rateLimitKey     = "venue:bybit"
)

// instrument caches the lot filters for one symbol. Filters change rarely,
// so one fetch per symbol per process is enough.
type instrument struct {
	tradeable     bool
	qtyStep       float64
	minOrderQty   float64
	minOrderValue float64
}

// Client is the Bybit v5 REST connector. It satisfies
// domain.ExchangeConnector for linear USDT perpetuals.
type Client struct {
	baseURL    string
	auth       crypto.HMACAuth
	httpClient *http.Client
	limiter    domain.RateLimiter

	mu          sync.Mutex
	instruments map[string]instrument
}

var _ domain.ExchangeConnector = (*Client)(nil)

// NewClient creates a Bybit connector. limiter may be nil to disable
// client-side rate limiting.
func NewClient(apiKey, apiSecret string, testnet bool, limiter domain.RateLimiter) *Client {
	baseURL := mainnetURL
	if testnet {
		baseURL = testnetURL
	}
	return &Client{
		baseURL: baseURL,
		auth:    crypto.HMACAuth{Key: apiKey, Secret: apiSecret},
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter:     limiter,
		instruments: make(map[string]instrument),
	}
}

// Name returns the venue identifier.
func (c *Client) Name() string { return "bybit" }

// venueSymbol maps a normalized base asset to the Bybit linear contract
// symbol, e.g. BTC -> BTCUSDT.
func venueSymbol(symbol string) string { return symbol + "USDT" }

// GetBalance returns the unified account balance in USDT terms.
func (c *Client) GetBalance(ctx context.Context) (domain.Balance, error) {
	var resp walletBalanceResponse
	if err := c.get(ctx, "/v5/account/wallet-balance", "accountType=UNIFIED", &resp); err != nil {
		return domain.Balance{}, fmt.Errorf("bybit: get balance: %w", err)
	}
	if len(resp.Result.List) == 0 {
		return domain.Balance{}, fmt.Errorf("bybit: get balance: empty account list")
	}

	acct := resp.Result.List[0]
	bal := domain.Balance{
		Total:     parseFloat(acct.TotalEquity),
		Available: parseFloat(acct.TotalAvailable),
		ByAsset:   make(map[string]float64, len(acct.Coin)),
	}
	for _, coin := range acct.Coin {
		bal.ByAsset[coin.Coin] = parseFloat(coin.WalletBalance)
	}
	return bal, nil
}

// GetPositions returns all open linear positions settled in USDT.
func (c *Client) GetPositions(ctx context.Context) ([]domain.VenuePosition, error) {
	var resp positionListResponse
	if err := c.get(ctx, "/v5/position/list", "category=linear&settleCoin=USDT", &resp); err != nil {
		return nil, fmt.Errorf("bybit: get positions: %w", err)
	}

	out := make([]domain.VenuePosition, 0, len(resp.Result.List))
	for _, p := range resp.Result.List {
		size := parseFloat(p.Size)
		if size == 0 {
			continue
		}
		side := domain.SideLong
		if p.Side == "Sell" {
			side = domain.SideShort
		}
		lev, _ := strconv.Atoi(p.Leverage)
		out = append(out, domain.VenuePosition{
			Symbol:        baseSymbol(p.Symbol),
			Side:          side,
			Size:          size,
			EntryPrice:    parseFloat(p.AvgPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			Leverage:      lev,
			UnrealizedPnL: parseFloat(p.UnrealisedPnl),
		})
	}
	return out, nil
}

// GetMarkPrice returns the current mark price for the symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	query := "category=linear&symbol=" + venueSymbol(symbol)
	var resp tickersResponse
	if err := c.get(ctx, "/v5/market/tickers", query, &resp); err != nil {
		return 0, fmt.Errorf("bybit: get mark price %s: %w", symbol, err)
	}
	if len(resp.Result.List) == 0 {
		return 0, fmt.Errorf("bybit: get mark price %s: %w", symbol, domain.ErrSymbolUnavailable)
	}
	price := parseFloat(resp.Result.List[0].MarkPrice)
	if price <= 0 {
		price = parseFloat(resp.Result.List[0].LastPrice)
	}
	return price, nil
}

// SetLeverage sets buy and sell leverage for the symbol. Bybit returns
// retCode 110043 when the leverage is already at the requested value, which
// is not an error here.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	req := setLeverageRequest{
		Category:     "linear",
		Symbol:       venueSymbol(symbol),
		BuyLeverage:  strconv.Itoa(leverage),
		SellLeverage: strconv.Itoa(leverage),
	}
	var resp envelope
	err := c.post(ctx, "/v5/position/set-leverage", req, &resp)
	if err != nil && resp.RetCode == 110043 {
		return nil
	}
	if err != nil {
		return fmt.Errorf("bybit: set leverage %s %dx: %w", symbol, leverage, err)
	}
	return nil
}

// PlaceMarketOrder places a market order and returns the venue order ID.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, quantity float64) (string, error) {
	req := orderRequest{
		Category:  "linear",
		Symbol:    venueSymbol(symbol),
		Side:      orderSide(side),
		OrderType: "Market",
		Qty:       formatQty(quantity),
	}
	var resp orderCreateResponse
	if err := c.post(ctx, "/v5/order/create", req, &resp); err != nil {
		return "", fmt.Errorf("bybit: place market order %s: %w", symbol, err)
	}
	return resp.Result.OrderID, nil
}

// PlaceStopOrder places a reduce-only conditional market order triggered at
// triggerPrice. side is the closing side, so the trigger direction follows
// from it: a sell stop fires on falling price, a buy stop on rising price.
func (c *Client) PlaceStopOrder(ctx context.Context, symbol string, side domain.Side, triggerPrice, quantity float64) (string, error) {
	direction := 2 // falling
	if side == domain.SideLong {
		direction = 1 // rising, closes a short
	}
	req := orderRequest{
		Category:         "linear",
		Symbol:           venueSymbol(symbol),
		Side:             orderSide(side),
		OrderType:        "Market",
		Qty:              formatQty(quantity),
		TriggerPrice:     formatQty(triggerPrice),
		TriggerDirection: direction,
		TimeInForce:      "GTC",
		ReduceOnly:       true,
	}
	var resp orderCreateResponse
	if err := c.post(ctx, "/v5/order/create", req, &resp); err != nil {
		return "", fmt.Errorf("bybit: place stop order %s: %w", symbol, err)
	}
	return resp.Result.OrderID, nil
}

// PlaceLimitOrder places a GTC limit order, reduce-only when requested.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, price, quantity float64, reduceOnly bool) (string, error) {
	req := orderRequest{
		Category:    "linear",
		Symbol:      venueSymbol(symbol),
		Side:        orderSide(side),
		OrderType:   "Limit",
		Qty:         formatQty(quantity),
		Price:       formatQty(price),
		TimeInForce: "GTC",
		ReduceOnly:  reduceOnly,
	}
	var resp orderCreateResponse
	if err := c.post(ctx, "/v5/order/create", req, &resp); err != nil {
		return "", fmt.Errorf("bybit: place limit order %s: %w", symbol, err)
	}
	return resp.Result.OrderID, nil
}

// CancelOrder cancels an open order by venue order ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	req := cancelOrderRequest{
		Category: "linear",
		Symbol:   venueSymbol(symbol),
		OrderID:  orderID,
	}
	var resp orderCreateResponse
	if err := c.post(ctx, "/v5/order/cancel", req, &resp); err != nil {
		return fmt.Errorf("bybit: cancel order %s: %w", orderID, err)
	}
	return nil
}

// OrderFilled reports whether the order has fully filled. Open orders are
// checked first, then recent history for orders that already left the book.
func (c *Client) OrderFilled(ctx context.Context, symbol, orderID string) (bool, error) {
	query := "category=linear&symbol=" + venueSymbol(symbol) + "&orderId=" + orderID

	var open orderListResponse
	if err := c.get(ctx, "/v5/order/realtime", query, &open); err != nil {
		return false, fmt.Errorf("bybit: order status %s: %w", orderID, err)
	}
	for _, o := range open.Result.List {
		if o.OrderID == orderID {
			return o.OrderStatus == "Filled", nil
		}
	}

	var hist orderListResponse
	if err := c.get(ctx, "/v5/order/history", query, &hist); err != nil {
		return false, fmt.Errorf("bybit: order history %s: %w", orderID, err)
	}
	for _, o := range hist.Result.List {
		if o.OrderID == orderID {
			return o.OrderStatus == "Filled", nil
		}
	}
	return false, fmt.Errorf("bybit: order %s: %w", orderID, domain.ErrNotFound)
}

// ValidateSymbol checks the contract exists and returns its trading limits.
func (c *Client) ValidateSymbol(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	inst, err := c.instrument(ctx, symbol)
	if err != nil {
		return domain.SymbolInfo{}, err
	}
	return domain.SymbolInfo{
		Tradeable:     inst.tradeable,
		MinOrderValue: inst.minOrderValue,
		QtyStep:       inst.qtyStep,
	}, nil
}

// RoundQuantity floors the raw quantity to the symbol's lot step. Flooring
// never rounds a position above what the margin pays for.
func (c *Client) RoundQuantity(ctx context.Context, symbol string, raw float64) (float64, error) {
	inst, err := c.instrument(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if inst.qtyStep <= 0 {
		return raw, nil
	}
	rounded := math.Floor(raw/inst.qtyStep) * inst.qtyStep
	if rounded < inst.minOrderQty {
		return 0, fmt.Errorf("bybit: quantity %.8f below minimum %.8f for %s", rounded, inst.minOrderQty, symbol)
	}
	return rounded, nil
}

func (c *Client) instrument(ctx context.Context, symbol string) (instrument, error) {
	c.mu.Lock()
	if inst, ok := c.instruments[symbol]; ok {
		c.mu.Unlock()
		return inst, nil
	}
	c.mu.Unlock()

	query := "category=linear&symbol=" + venueSymbol(symbol)
	var resp instrumentsResponse
	if err := c.get(ctx, "/v5/market/instruments-info", query, &resp); err != nil {
		return instrument{}, fmt.Errorf("bybit: instrument info %s: %w", symbol, err)
	}
	if len(resp.Result.List) == 0 {
		return instrument{}, fmt.Errorf("bybit: %s: %w", symbol, domain.ErrSymbolUnavailable)
	}

	info := resp.Result.List[0]
	inst := instrument{
		tradeable:     info.Status == "Trading",
		qtyStep:       parseFloat(info.LotSizeFilter.QtyStep),
		minOrderQty:   parseFloat(info.LotSizeFilter.MinOrderQty),
		minOrderValue: parseFloat(info.LotSizeFilter.MinNotionalValue),
	}

	c.mu.Lock()
	c.instruments[symbol] = inst
	c.mu.Unlock()
	return inst, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// get performs a signed GET request. The query string participates in the
// signature payload, so it must be passed pre-encoded.
func (c *Client) get(ctx context.Context, path, query string, out any) error {
	if err := c.waitLimiter(ctx); err != nil {
		return err
	}

	fullURL := c.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, query)

	return c.do(req, out)
}

// post performs a signed POST request with a JSON body. The raw body bytes
// participate in the signature payload.
func (c *Client) post(ctx context.Context, path string, reqBody, out any) error {
	if err := c.waitLimiter(ctx); err != nil {
		return err
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req, string(jsonBody))

	return c.do(req, out)
}

func (c *Client) setHeaders(req *http.Request, payload string) {
	for k, v := range c.auth.V5Headers(payload, recvWindowMillis) {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) do(req *http.Request, out any) error {
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

	// Every payload embeds the envelope; re-decode it to check retCode.
	var env envelope
	if err := json.Unmarshal(respBody, &env); err == nil && env.RetCode != 0 {
		if env.RetCode == 10006 {
			return domain.ErrRateLimited
		}
		return fmt.Errorf("retCode %d: %s", env.RetCode, env.RetMsg)
	}
	return nil
}

func (c *Client) waitLimiter(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func orderSide(side domain.Side) string {
	if side == domain.SideLong {
		return "Buy"
	}
	return "Sell"
}

// baseSymbol strips the USDT quote from a venue symbol.
func baseSymbol(symbol string) string {
	if len(symbol) > 4 && symbol[len(symbol)-4:] == "USDT" {
		return symbol[:len(symbol)-4]
	}
	return symbol
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// formatQty renders a float without exponent notation, trimming trailing
// zeros so the API accepts it.
func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
