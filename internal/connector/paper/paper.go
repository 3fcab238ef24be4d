// Package paper implements an in-memory exchange connector. Orders fill
// instantly at the simulated mark price, stop and limit orders rest until a
// price update crosses them. It backs the paper trading mode and makes the
// whole execution path runnable without venue credentials.
package paper

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"

	"signalrunner/internal/domain"
)

const defaultQtyStep = 0.001

type restingOrder struct {
	id         string
	symbol     string
	side       domain.Side
	quantity   float64
	price      float64 // limit price, 0 for stops
	trigger    float64 // trigger price, 0 for limits
	reduceOnly bool
	filled     bool
	cancelled  bool
}

type simPosition struct {
	side       domain.Side
	size       float64
	entryPrice float64
	leverage   int
}

// Connector simulates a venue. Prices only move when SetMarkPrice is called,
// so tests and paper runs control time explicitly.
type Connector struct {
	mu       sync.Mutex
	balance  float64
	marks    map[string]float64
	resting  map[string]*restingOrder
	position map[string]*simPosition
	seq      int
}

var _ domain.ExchangeConnector = (*Connector)(nil)

// New creates a paper venue with the given starting balance.
func New(balance float64) *Connector {
	return &Connector{
		balance:  balance,
		marks:    make(map[string]float64),
		resting:  make(map[string]*restingOrder),
		position: make(map[string]*simPosition),
	}
}

// Name returns the venue identifier.
func (c *Connector) Name() string { return "paper" }

// SetMarkPrice moves the simulated price and fills any resting orders the
// move crosses, applying their effect on the position.
func (c *Connector) SetMarkPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[symbol] = price

	for _, o := range c.resting {
		if o.symbol != symbol || o.filled || o.cancelled {
			continue
		}
		if c.crosses(o, price) {
			o.filled = true
			c.applyFill(o)
		}
	}
}

// crosses reports whether the new price fills a resting order.
func (c *Connector) crosses(o *restingOrder, price float64) bool {
	if o.trigger > 0 {
		// Stop: a closing sell fires when price falls to the trigger, a
		// closing buy when it rises.
		if o.side == domain.SideShort {
			return price <= o.trigger
		}
		return price >= o.trigger
	}
	// Limit: a sell fills at or above its price, a buy at or below.
	if o.side == domain.SideShort {
		return price >= o.price
	}
	return price <= o.price
}

// applyFill adjusts the simulated position for a filled closing order.
// Caller holds the lock.
func (c *Connector) applyFill(o *restingOrder) {
	pos, ok := c.position[o.symbol]
	if !ok {
		return
	}
	if o.reduceOnly || o.side == pos.side.Opposite() {
		pos.size -= o.quantity
		if pos.size <= 1e-12 {
			delete(c.position, o.symbol)
		}
	}
}

func (c *Connector) GetBalance(context.Context) (domain.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Balance{
		Total:     c.balance,
		Available: c.balance,
		ByAsset:   map[string]float64{"USDT": c.balance},
	}, nil
}

func (c *Connector) GetPositions(context.Context) ([]domain.VenuePosition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.VenuePosition, 0, len(c.position))
	for symbol, pos := range c.position {
		mark := c.marks[symbol]
		pnl := (mark - pos.entryPrice) * pos.size
		if pos.side == domain.SideShort {
			pnl = -pnl
		}
		out = append(out, domain.VenuePosition{
			Symbol:        symbol,
			Side:          pos.side,
			Size:          pos.size,
			EntryPrice:    pos.entryPrice,
			MarkPrice:     mark,
			Leverage:      pos.leverage,
			UnrealizedPnL: pnl,
		})
	}
	return out, nil
}

func (c *Connector) GetMarkPrice(_ context.Context, symbol string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mark, ok := c.marks[symbol]
	if !ok {
		return 0, fmt.Errorf("paper: %s: %w", symbol, domain.ErrSymbolUnavailable)
	}
	return mark, nil
}

func (c *Connector) SetLeverage(_ context.Context, symbol string, leverage int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pos, ok := c.position[symbol]; ok {
		pos.leverage = leverage
	}
	return nil
}

// PlaceMarketOrder fills immediately at the current mark and opens or
// extends the position.
func (c *Connector) PlaceMarketOrder(_ context.Context, symbol string, side domain.Side, quantity float64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mark, ok := c.marks[symbol]
	if !ok {
		return "", fmt.Errorf("paper: %s: %w", symbol, domain.ErrSymbolUnavailable)
	}

	pos, exists := c.position[symbol]
	if exists && pos.side == side {
		pos.entryPrice = (pos.entryPrice*pos.size + mark*quantity) / (pos.size + quantity)
		pos.size += quantity
	} else {
		c.position[symbol] = &simPosition{side: side, size: quantity, entryPrice: mark, leverage: 1}
	}
	return c.nextID(), nil
}

func (c *Connector) PlaceStopOrder(_ context.Context, symbol string, side domain.Side, triggerPrice, quantity float64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID()
	c.resting[id] = &restingOrder{
		id: id, symbol: symbol, side: side,
		quantity: quantity, trigger: triggerPrice, reduceOnly: true,
	}
	return id, nil
}

func (c *Connector) PlaceLimitOrder(_ context.Context, symbol string, side domain.Side, price, quantity float64, reduceOnly bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID()
	c.resting[id] = &restingOrder{
		id: id, symbol: symbol, side: side,
		quantity: quantity, price: price, reduceOnly: reduceOnly,
	}
	return id, nil
}

func (c *Connector) CancelOrder(_ context.Context, _ string, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.resting[orderID]
	if !ok {
		return fmt.Errorf("paper: cancel order %s: %w", orderID, domain.ErrNotFound)
	}
	if o.filled {
		return fmt.Errorf("paper: cancel order %s: already filled", orderID)
	}
	o.cancelled = true
	return nil
}

func (c *Connector) OrderFilled(_ context.Context, _ string, orderID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.resting[orderID]
	if !ok {
		// Market orders are not tracked as resting; they always filled.
		return true, nil
	}
	return o.filled, nil
}

func (c *Connector) ValidateSymbol(_ context.Context, symbol string) (domain.SymbolInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.marks[symbol]; !ok {
		return domain.SymbolInfo{}, nil
	}
	return domain.SymbolInfo{Tradeable: true, MinOrderValue: 5, QtyStep: defaultQtyStep}, nil
}

func (c *Connector) RoundQuantity(_ context.Context, _ string, raw float64) (float64, error) {
	return math.Floor(raw/defaultQtyStep) * defaultQtyStep, nil
}

func (c *Connector) nextID() string {
	c.seq++
	return "paper-" + strconv.Itoa(c.seq)
}
