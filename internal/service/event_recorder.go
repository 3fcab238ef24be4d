package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"signalrunner/internal/domain"
)

// EventRecorder implements domain.EventSink by publishing lifecycle events on
// a Pub/Sub channel for live consumers and appending them to a durable stream
// for replay.
type EventRecorder struct {
	bus     domain.EventBus
	channel string
	stream  string
	logger  *slog.Logger
}

// NewEventRecorder creates an EventRecorder writing to the given channel and
// stream. stream may be empty to disable durable recording.
func NewEventRecorder(bus domain.EventBus, channel, stream string, logger *slog.Logger) *EventRecorder {
	return &EventRecorder{
		bus:     bus,
		channel: channel,
		stream:  stream,
		logger:  logger.With(slog.String("component", "event_recorder")),
	}
}

// Emit serializes the event and hands it to the bus. Bus failures are logged;
// event delivery must never stall the executor or the monitor.
func (r *EventRecorder) Emit(ctx context.Context, evt domain.PositionEvent) {
	payload, err := json.Marshal(map[string]any{
		"identity":    evt.Identity(),
		"position_id": evt.PositionID,
		"kind":        string(evt.Kind),
		"symbol":      evt.Symbol,
		"side":        string(evt.Side),
		"tp_index":    evt.TPIndex,
		"price":       evt.Price,
		"quantity":    evt.Quantity,
		"detail":      evt.Detail,
		"occurred_at": evt.OccurredAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "event encode failed",
			slog.String("position_id", evt.PositionID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := r.bus.Publish(ctx, r.channel, payload); err != nil {
		r.logger.WarnContext(ctx, "event publish failed",
			slog.String("identity", evt.Identity()),
			slog.String("error", err.Error()),
		)
	}
	if r.stream != "" {
		if err := r.bus.StreamAppend(ctx, r.stream, payload); err != nil {
			r.logger.WarnContext(ctx, "event stream append failed",
				slog.String("identity", evt.Identity()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []domain.EventSink

// Emit delivers the event to every member sink.
func (m MultiSink) Emit(ctx context.Context, evt domain.PositionEvent) {
	for _, sink := range m {
		sink.Emit(ctx, evt)
	}
}

var (
	_ domain.EventSink = (*EventRecorder)(nil)
	_ domain.EventSink = (MultiSink)(nil)
)
