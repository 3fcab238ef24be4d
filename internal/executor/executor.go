// Package executor orchestrates one trade end to end: symbol validation,
// risk sizing, order planning, placement on the venue, persistence and
// hand-off to the position monitor.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"signalrunner/internal/domain"
	"signalrunner/internal/plan"
	"signalrunner/internal/sizing"
)

// ErrDuplicateSignal is returned when the same trade was executed within the
// dedup window.
var ErrDuplicateSignal = errors.New("duplicate signal")

// ErrLeverageSetFailed is returned when the venue rejects the leverage
// change. No capital is placed at an unintended leverage.
var ErrLeverageSetFailed = errors.New("leverage set failed")

// Tracker receives positions for lifecycle monitoring after execution. It is
// implemented by the monitor package.
type Tracker interface {
	Track(pos domain.Position, conn domain.ExchangeConnector)
}

// OrderOutcome reports the result of a single order in the placement
// sequence, so callers can retry exactly the missing pieces instead of
// re-executing the whole trade.
type OrderOutcome struct {
	Attempted bool
	OrderID   string
	Err       error
}

// OK reports whether this order was placed successfully.
func (o OrderOutcome) OK() bool { return o.Attempted && o.Err == nil }

// Report is the structured result of one execution. Degraded means the
// position is open but missing one or more protective orders.
type Report struct {
	Position    domain.Position
	Sized       sizing.SizedPosition
	Entry       OrderOutcome
	StopLoss    OrderOutcome
	TakeProfits []OrderOutcome
	Degraded    bool
}

// Executor executes sized trades against a venue and records the outcome.
type Executor struct {
	positions domain.PositionStore
	trades    domain.TradeStore
	balances  domain.BalanceCache
	events    domain.EventSink
	tracker   Tracker
	dedup     *Dedup
	logger    *slog.Logger
}

// New creates an Executor. balances may be nil, in which case every sizing
// call reads a fresh balance from the venue.
func New(
	positions domain.PositionStore,
	trades domain.TradeStore,
	balances domain.BalanceCache,
	events domain.EventSink,
	tracker Tracker,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		positions: positions,
		trades:    trades,
		balances:  balances,
		events:    events,
		tracker:   tracker,
		dedup:     NewDedup(2 * time.Minute),
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// SetDedupWindow replaces the default signal dedup TTL.
func (e *Executor) SetDedupWindow(ttl time.Duration) {
	if ttl > 0 {
		e.dedup = NewDedup(ttl)
	}
}

// Execute runs the full placement sequence for one signal. Failures before
// the entry order abort the trade with an error; failures after the entry
// leave the position open and are reported as a degraded Report instead,
// with the position still persisted and handed to monitoring.
func (e *Executor) Execute(ctx context.Context, cfg domain.UserRiskConfig, sig domain.Signal, conn domain.ExchangeConnector) (Report, error) {
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("venue", conn.Name()),
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(sig.Side)),
	)

	if e.dedup.Seen(Fingerprint(sig)) {
		log.Warn("signal deduplicated, skipping")
		return Report{}, ErrDuplicateSignal
	}

	// 1. Symbol must be tradeable before any capital moves.
	info, err := conn.ValidateSymbol(ctx, sig.Symbol)
	if err != nil {
		return Report{}, fmt.Errorf("executor: validate symbol %s: %w", sig.Symbol, err)
	}
	if !info.Tradeable {
		return Report{}, fmt.Errorf("executor: %s on %s: %w", sig.Symbol, conn.Name(), domain.ErrSymbolUnavailable)
	}

	// 2. Size against a point-in-time balance snapshot.
	balance, err := e.snapshotBalance(ctx, cfg.UserID, conn)
	if err != nil {
		return Report{}, fmt.Errorf("executor: balance snapshot: %w", err)
	}

	if sig.MarketEntry() {
		mark, err := conn.GetMarkPrice(ctx, sig.Symbol)
		if err != nil {
			return Report{}, fmt.Errorf("executor: resolve market entry: %w", err)
		}
		sig.Entry = mark
	}

	sized, err := sizing.Size(sig, cfg, balance.Available, sizing.VenueLimits{MinOrderValue: info.MinOrderValue})
	if err != nil {
		return Report{}, err
	}
	if sized.Capped {
		log.Warn("position reduced by max-risk cap",
			slog.Float64("scale_factor", sized.ScaleFactor),
			slog.Float64("margin", sized.Margin),
		)
	}

	// 3. Leverage must be in place before the entry; a failure here is fatal.
	if err := conn.SetLeverage(ctx, sig.Symbol, sized.Leverage); err != nil {
		return Report{}, fmt.Errorf("executor: %w: %v", ErrLeverageSetFailed, err)
	}

	orderPlan := plan.Build(sized, sig, e.rounder(ctx, conn, sig.Symbol))
	report := Report{Sized: sized}

	// 4. Entry. Nothing further is attempted when it fails.
	entryID, err := conn.PlaceMarketOrder(ctx, sig.Symbol, orderPlan.Entry.Side, orderPlan.Entry.Quantity)
	report.Entry = OrderOutcome{Attempted: true, OrderID: entryID, Err: err}
	if err != nil {
		return report, fmt.Errorf("executor: place entry: %w", err)
	}
	log.Info("entry order placed",
		slog.String("order_id", entryID),
		slog.Float64("quantity", orderPlan.Entry.Quantity),
	)

	// 5. Stop-loss. The position is open now, so a failure is degraded, not
	// fatal: the trade record is still created and monitored.
	slID, err := conn.PlaceStopOrder(ctx, sig.Symbol, orderPlan.StopLoss.Side, orderPlan.StopLoss.TriggerPrice, orderPlan.StopLoss.Quantity)
	report.StopLoss = OrderOutcome{Attempted: true, OrderID: slID, Err: err}
	if err != nil {
		report.Degraded = true
		log.Error("stop-loss placement failed, position unprotected",
			slog.String("error", err.Error()),
		)
	}

	// 6. Take-profits, each independently flagged.
	report.TakeProfits = make([]OrderOutcome, 0, len(orderPlan.TakeProfits))
	for _, tp := range orderPlan.TakeProfits {
		tpID, err := conn.PlaceLimitOrder(ctx, sig.Symbol, tp.Side, tp.Price, tp.Quantity, true)
		report.TakeProfits = append(report.TakeProfits, OrderOutcome{Attempted: true, OrderID: tpID, Err: err})
		if err != nil {
			report.Degraded = true
			log.Error("take-profit placement failed",
				slog.Int("tp_index", tp.TPIndex),
				slog.String("error", err.Error()),
			)
		}
	}

	// 7. Persist exactly what succeeded and hand off to the monitor.
	pos := e.buildPosition(cfg, sig, orderPlan, report)
	report.Position = pos

	if err := e.positions.Create(ctx, pos); err != nil {
		log.Error("position persist failed", slog.String("error", err.Error()))
		return report, fmt.Errorf("executor: persist position: %w", err)
	}
	e.recordTrade(ctx, pos, report, log)

	e.events.Emit(ctx, domain.PositionEvent{
		PositionID: pos.ID,
		Kind:       domain.EventPositionOpened,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		TPIndex:    -1,
		Price:      pos.EntryPrice,
		Quantity:   pos.Quantity,
		OccurredAt: time.Now().UTC(),
	})
	if report.Degraded {
		e.events.Emit(ctx, domain.PositionEvent{
			PositionID: pos.ID,
			Kind:       domain.EventDegradedTrade,
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			TPIndex:    -1,
			Detail:     report.degradedDetail(),
			OccurredAt: time.Now().UTC(),
		})
	}

	if e.tracker != nil {
		e.tracker.Track(pos, conn)
	}

	log.Info("trade executed",
		slog.String("position_id", pos.ID),
		slog.Bool("degraded", report.Degraded),
		slog.Float64("margin", sized.Margin),
		slog.Float64("quantity", pos.Quantity),
	)
	return report, nil
}

// snapshotBalance reads the account balance, preferring a recent cached
// snapshot when a balance cache is configured.
func (e *Executor) snapshotBalance(ctx context.Context, userID string, conn domain.ExchangeConnector) (domain.Balance, error) {
	if e.balances != nil {
		if bal, ok, err := e.balances.Get(ctx, conn.Name(), userID); err == nil && ok {
			return bal, nil
		}
	}
	bal, err := conn.GetBalance(ctx)
	if err != nil {
		return domain.Balance{}, err
	}
	if e.balances != nil {
		if err := e.balances.Set(ctx, conn.Name(), userID, bal); err != nil {
			e.logger.Warn("balance cache set failed", slog.String("error", err.Error()))
		}
	}
	return bal, nil
}

// rounder adapts the connector's lot rounding into the planner's Rounder,
// falling back to identity when the venue cannot answer.
func (e *Executor) rounder(ctx context.Context, conn domain.ExchangeConnector, symbol string) plan.Rounder {
	return func(raw float64) float64 {
		q, err := conn.RoundQuantity(ctx, symbol, raw)
		if err != nil {
			return raw
		}
		return q
	}
}

// buildPosition assembles the persisted Position record, reflecting exactly
// which orders succeeded.
func (e *Executor) buildPosition(cfg domain.UserRiskConfig, sig domain.Signal, p plan.Plan, report Report) domain.Position {
	now := time.Now().UTC()
	pos := domain.Position{
		ID:               uuid.New().String(),
		UserID:           cfg.UserID,
		Venue:            cfg.Venue,
		Symbol:           sig.Symbol,
		Side:             sig.Side,
		Leverage:         report.Sized.Leverage,
		EntryPrice:       sig.Entry,
		EntryOrderID:     report.Entry.OrderID,
		StopLoss:         sig.StopLoss,
		OriginalStopLoss: sig.StopLoss,
		Quantity:         p.Entry.Quantity,
		Remaining:        p.Entry.Quantity,
		Status:           domain.PositionOpen,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if report.StopLoss.OK() {
		pos.StopOrderID = report.StopLoss.OrderID
	}
	pos.TakeProfits = make([]domain.TPState, 0, len(p.TakeProfits))
	for i, tp := range p.TakeProfits {
		state := domain.TPState{Price: tp.Price, Quantity: tp.Quantity}
		if i < len(report.TakeProfits) && report.TakeProfits[i].OK() {
			state.OrderID = report.TakeProfits[i].OrderID
		}
		pos.TakeProfits = append(pos.TakeProfits, state)
	}
	return pos
}

func (e *Executor) recordTrade(ctx context.Context, pos domain.Position, report Report, log *slog.Logger) {
	rec := domain.TradeRecord{
		ID:         uuid.New().String(),
		PositionID: pos.ID,
		UserID:     pos.UserID,
		Venue:      pos.Venue,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Margin:     report.Sized.Margin,
		Notional:   report.Sized.Notional,
		Quantity:   pos.Quantity,
		Capped:     report.Sized.Capped,
		Degraded:   report.Degraded,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.trades.Insert(ctx, rec); err != nil {
		log.Warn("trade record insert failed", slog.String("error", err.Error()))
	}
}

// degradedDetail names the protective orders that are missing.
func (r Report) degradedDetail() string {
	missing := ""
	if !r.StopLoss.OK() {
		missing = "stop-loss"
	}
	failedTPs := 0
	for _, tp := range r.TakeProfits {
		if !tp.OK() {
			failedTPs++
		}
	}
	if failedTPs > 0 {
		if missing != "" {
			missing += ", "
		}
		missing += fmt.Sprintf("%d take-profit(s)", failedTPs)
	}
	return "missing protective orders: " + missing
}
