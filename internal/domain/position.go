package domain

import "time"

// PositionStatus tracks a position through its lifecycle. Transitions are
// monotonic: a position never returns to open after reaching any closed_*
// state.
type PositionStatus string

const (
	PositionOpen            PositionStatus = "open"
	PositionPartiallyClosed PositionStatus = "partially_closed"
	PositionClosedTP        PositionStatus = "closed_tp"
	PositionClosedSL        PositionStatus = "closed_sl"
	PositionClosedManual    PositionStatus = "closed_manual"
	PositionFailed          PositionStatus = "failed"
)

// Terminal reports whether the status stops monitoring.
func (s PositionStatus) Terminal() bool {
	switch s {
	case PositionClosedTP, PositionClosedSL, PositionClosedManual, PositionFailed:
		return true
	}
	return false
}

// TPState tracks a single take-profit level on a position. Filled is
// monotonic: once set it never reverts.
type TPState struct {
	Price    float64
	Quantity float64
	OrderID  string // venue order ID when placement succeeded
	Filled   bool
}

// Position is the persisted record of an executed signal on one venue. The
// executor owns it during creation; ownership passes to the monitor once the
// position is registered for polling.
type Position struct {
	ID       string
	UserID   string
	Venue    string
	Symbol   string
	Side     Side
	Leverage int

	EntryPrice   float64
	EntryOrderID string

	// StopLoss is the current stop price; it moves to the entry price when
	// breakeven is applied and never moves back toward the original level.
	StopLoss          float64
	OriginalStopLoss  float64
	StopOrderID       string
	BreakevenApplied  bool

	TakeProfits []TPState

	Quantity  float64 // original quantity at entry
	Remaining float64 // quantity still open

	Status    PositionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time
}

// FilledQuantity returns the summed quantity of take-profit levels marked
// filled. Invariant: FilledQuantity + Remaining == Quantity.
func (p Position) FilledQuantity() float64 {
	var q float64
	for _, tp := range p.TakeProfits {
		if tp.Filled {
			q += tp.Quantity
		}
	}
	return q
}

// NextPendingTP returns the index of the first unfilled take-profit level,
// or -1 when all are filled.
func (p Position) NextPendingTP() int {
	for i, tp := range p.TakeProfits {
		if !tp.Filled {
			return i
		}
	}
	return -1
}

// AllTPsFilled reports whether every take-profit level has filled.
func (p Position) AllTPsFilled() bool {
	return p.NextPendingTP() == -1
}
