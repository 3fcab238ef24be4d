package domain

import (
	"context"
	"fmt"
	"time"
)

// EventKind identifies a position lifecycle event.
type EventKind string

const (
	EventPositionOpened   EventKind = "position_opened"
	EventTakeProfitHit    EventKind = "take_profit_hit"
	EventStopLossHit      EventKind = "stop_loss_hit"
	EventBreakevenApplied EventKind = "breakeven_applied"
	EventPositionClosed   EventKind = "position_closed"
	EventMonitoringFailed EventKind = "monitoring_failed"
	EventDegradedTrade    EventKind = "degraded_trade"
)

// PositionEvent is emitted by the executor and the monitor as a position
// moves through its lifecycle. Delivery is at-least-once; consumers
// deduplicate on Identity.
type PositionEvent struct {
	PositionID string
	Kind       EventKind
	Symbol     string
	Side       Side
	// TPIndex is the zero-based take-profit level for take_profit_hit
	// events; -1 otherwise.
	TPIndex    int
	Price      float64
	Quantity   float64
	Detail     string
	OccurredAt time.Time
}

// Identity is the deduplication key for the event: a given position emits a
// given (kind, TP-index) pair at most once.
func (e PositionEvent) Identity() string {
	if e.Kind == EventTakeProfitHit {
		return fmt.Sprintf("%s:%s:%d", e.PositionID, e.Kind, e.TPIndex)
	}
	return fmt.Sprintf("%s:%s", e.PositionID, e.Kind)
}

// EventSink receives lifecycle events. Implementations must not block
// indefinitely; slow consumers drop or buffer on their side.
type EventSink interface {
	Emit(ctx context.Context, evt PositionEvent)
}
