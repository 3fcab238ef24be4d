package domain

import "context"

// Balance is a point-in-time snapshot of an account's funds on one venue.
type Balance struct {
	Total     float64
	Available float64
	ByAsset   map[string]float64
}

// VenuePosition is a venue-reported open position, used by the monitor as
// the source of truth during reconciliation.
type VenuePosition struct {
	Symbol        string
	Side          Side
	Size          float64 // absolute base-asset quantity
	EntryPrice    float64
	MarkPrice     float64
	Leverage      int
	UnrealizedPnL float64
}

// SymbolInfo describes whether a symbol is tradeable and the venue's
// order-size constraints for it.
type SymbolInfo struct {
	Tradeable     bool
	MinOrderValue float64 // minimum notional in quote currency
	QtyStep       float64 // lot-size increment, 0 when unknown
}

// ExchangeConnector is the per-venue capability interface the engine depends
// on. One implementation exists per venue; new venues are added by
// implementing this interface, never by branching on venue names inside the
// engine.
//
// Order placement is not idempotent and is never blindly retried; callers
// must check resulting venue state before re-submitting. All methods honour
// context cancellation and deadlines.
type ExchangeConnector interface {
	// Name returns the venue identifier, e.g. "bybit".
	Name() string

	GetBalance(ctx context.Context) (Balance, error)
	GetPositions(ctx context.Context) ([]VenuePosition, error)

	// GetMarkPrice returns the current mark price for a symbol. Used to
	// resolve market-entry signals and for target-touch checks.
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error

	PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity float64) (string, error)
	PlaceStopOrder(ctx context.Context, symbol string, side Side, triggerPrice, quantity float64) (string, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side Side, price, quantity float64, reduceOnly bool) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// OrderFilled reports whether the given order has fully filled. Venues
	// that cannot answer return ErrUnsupported; callers fall back to
	// size-delta reconciliation.
	OrderFilled(ctx context.Context, symbol, orderID string) (bool, error)

	ValidateSymbol(ctx context.Context, symbol string) (SymbolInfo, error)

	// RoundQuantity snaps a raw quantity down to the venue's lot size.
	RoundQuantity(ctx context.Context, symbol string, raw float64) (float64, error)
}
