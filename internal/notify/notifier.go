// Package notify delivers position lifecycle events to operators over one or
// more channels (Telegram, Discord). Events can be filtered by kind so
// operators receive only the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"signalrunner/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier fans position lifecycle events out to its Senders. It keeps a set
// of already-delivered event identities so that at-least-once upstream
// delivery still produces at most one message per event.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool // allowed event kinds; empty means all
	logger  *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewNotifier creates a Notifier that delivers to the given senders. Only
// events whose kind appears in kinds are forwarded; an empty kinds slice
// allows everything.
func NewNotifier(senders []Sender, kinds []domain.EventKind, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[k] = true
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
		seen:    make(map[string]struct{}),
	}
}

// Emit implements domain.EventSink. Delivery failures are logged, not
// returned; a notification channel being down must never stall the engine.
func (n *Notifier) Emit(ctx context.Context, evt domain.PositionEvent) {
	if len(n.kinds) > 0 && !n.kinds[evt.Kind] {
		return
	}

	id := evt.Identity()
	n.mu.Lock()
	if _, dup := n.seen[id]; dup {
		n.mu.Unlock()
		return
	}
	n.seen[id] = struct{}{}
	n.mu.Unlock()

	title, message := formatEvent(evt)
	if err := n.dispatch(ctx, title, message); err != nil {
		n.logger.ErrorContext(ctx, "event delivery incomplete",
			slog.String("event", id),
			slog.String("error", err.Error()),
		)
	}
}

// formatEvent renders a lifecycle event into a title and body.
func formatEvent(evt domain.PositionEvent) (string, string) {
	var title string
	switch evt.Kind {
	case domain.EventPositionOpened:
		title = fmt.Sprintf("Opened %s %s", strings.ToUpper(string(evt.Side)), evt.Symbol)
	case domain.EventTakeProfitHit:
		title = fmt.Sprintf("TP%d hit on %s", evt.TPIndex+1, evt.Symbol)
	case domain.EventStopLossHit:
		title = fmt.Sprintf("Stop loss hit on %s", evt.Symbol)
	case domain.EventBreakevenApplied:
		title = fmt.Sprintf("Stop moved to breakeven on %s", evt.Symbol)
	case domain.EventPositionClosed:
		title = fmt.Sprintf("Position closed on %s", evt.Symbol)
	case domain.EventMonitoringFailed:
		title = fmt.Sprintf("Monitoring failed on %s", evt.Symbol)
	case domain.EventDegradedTrade:
		title = fmt.Sprintf("Degraded trade on %s", evt.Symbol)
	default:
		title = fmt.Sprintf("%s on %s", evt.Kind, evt.Symbol)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Position %s", evt.PositionID)
	if evt.Price > 0 {
		fmt.Fprintf(&b, "\nPrice: %g", evt.Price)
	}
	if evt.Quantity > 0 {
		fmt.Fprintf(&b, "\nQuantity: %g", evt.Quantity)
	}
	if evt.Detail != "" {
		fmt.Fprintf(&b, "\n%s", evt.Detail)
	}
	return title, b.String()
}

// dispatch sends the message to every sender. Errors from individual senders
// are collected and combined; one sender failing does not prevent delivery to
// the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventSink = (*Notifier)(nil)
