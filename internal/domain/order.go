package domain

// OrderKind distinguishes the three order roles in a trade plan.
type OrderKind string

const (
	OrderKindEntry      OrderKind = "entry"
	OrderKindStopLoss   OrderKind = "stop_loss"
	OrderKindTakeProfit OrderKind = "take_profit"
)

// OrderIntent is a venue-agnostic order request produced by the planner.
// The connector translates it into the venue's wire format.
type OrderIntent struct {
	Kind     OrderKind
	Symbol   string
	Side     Side // direction of this order, not of the position
	Quantity float64
	// Price is the limit price for take-profit orders; zero for market entry.
	Price float64
	// TriggerPrice is set for stop orders.
	TriggerPrice float64
	ReduceOnly   bool
	// TPIndex is the zero-based take-profit level this intent closes;
	// -1 for entry and stop orders.
	TPIndex int
}

// OrderResult is the venue's answer to a single order placement.
type OrderResult struct {
	OrderID string
	Err     error
}

// OK reports whether the placement succeeded.
func (r OrderResult) OK() bool {
	return r.Err == nil && r.OrderID != ""
}
