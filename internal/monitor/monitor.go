// Package monitor drives open positions through their lifecycle state
// machine by polling venue position data at a fixed interval, applying
// breakeven stop adjustments and emitting lifecycle events.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"signalrunner/internal/domain"
)

// Config holds the monitor's tunables.
type Config struct {
	// PollInterval is the delay between poll cycles.
	PollInterval time.Duration
	// CallTimeout bounds every connector call; a timeout is treated as a
	// transient failure for that cycle.
	CallTimeout time.Duration
	// MaxConsecutiveFailures is how many reconciliation failures in a row
	// move a position to FAILED.
	MaxConsecutiveFailures int
	// FillTolerance is the fraction of a take-profit tranche by which the
	// observed size delta may deviate and still match that tranche.
	FillTolerance float64
	// VenueConcurrency bounds in-flight polls per venue.
	VenueConcurrency int64
}

// Fill in defaults for zero-valued fields.
func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.FillTolerance <= 0 {
		c.FillTolerance = 0.1
	}
	if c.VenueConcurrency <= 0 {
		c.VenueConcurrency = 2
	}
	return c
}

// Monitor owns the active-position registry and the polling loop.
type Monitor struct {
	cfg       Config
	registry  *Registry
	positions domain.PositionStore
	events    domain.EventSink
	logger    *slog.Logger

	semMu     sync.Mutex
	venueSems map[string]*semaphore.Weighted
}

// New creates a Monitor around the given registry and store.
func New(cfg Config, registry *Registry, positions domain.PositionStore, events domain.EventSink, logger *slog.Logger) *Monitor {
	return &Monitor{
		cfg:       cfg.withDefaults(),
		registry:  registry,
		positions: positions,
		events:    events,
		logger:    logger.With(slog.String("component", "monitor")),
		venueSems: make(map[string]*semaphore.Weighted),
	}
}

// Track registers a freshly executed position for monitoring. Implements
// executor.Tracker.
func (m *Monitor) Track(pos domain.Position, conn domain.ExchangeConnector) {
	m.registry.Add(pos, conn)
	m.logger.Info("position tracked",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.Int("active", m.registry.Len()),
	)
}

// Cancel removes a position from monitoring cooperatively: the flag is
// honoured between poll cycles, never by interrupting an in-flight call.
func (m *Monitor) Cancel(positionID string) bool {
	return m.registry.Cancel(positionID)
}

// Restore reloads open positions from the store into the registry, matching
// each to its venue connector. Called once at startup so monitoring survives
// restarts.
func (m *Monitor) Restore(ctx context.Context, connectors map[string]domain.ExchangeConnector) error {
	open, err := m.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("monitor: restore open positions: %w", err)
	}
	for _, pos := range open {
		conn, ok := connectors[pos.Venue]
		if !ok {
			m.logger.Warn("no connector for restored position",
				slog.String("position_id", pos.ID),
				slog.String("venue", pos.Venue),
			)
			continue
		}
		m.registry.Add(pos, conn)
	}
	m.logger.Info("positions restored", slog.Int("count", m.registry.Len()))
	return nil
}

// Run executes poll cycles until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor started", slog.Duration("poll_interval", m.cfg.PollInterval))
	defer m.logger.Info("monitor stopped")

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.pollAll(ctx)
		}
	}
}

// pollAll runs one cycle over every active position. Positions on the same
// venue share a semaphore so venue rate limits are respected; each position
// is processed as one atomic unit under its own lock.
func (m *Monitor) pollAll(ctx context.Context) {
	entries := m.registry.snapshot()
	if len(entries) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, en := range entries {
		g.Go(func() error {
			sem := m.venueSem(en.conn.Name())
			if err := sem.Acquire(gctx, 1); err != nil {
				return nil // context cancelled
			}
			defer sem.Release(1)

			en.mu.Lock()
			defer en.mu.Unlock()

			if en.cancelled {
				m.registry.Remove(en.pos.ID)
				m.logger.Info("position removed on request", slog.String("position_id", en.pos.ID))
				return nil
			}
			m.pollOne(gctx, en)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) venueSem(venue string) *semaphore.Weighted {
	m.semMu.Lock()
	defer m.semMu.Unlock()
	sem, ok := m.venueSems[venue]
	if !ok {
		sem = semaphore.NewWeighted(m.cfg.VenueConcurrency)
		m.venueSems[venue] = sem
	}
	return sem
}

// pollOne reconciles a single position against the venue and applies at most
// one batch of state transitions. Caller holds the entry lock.
func (m *Monitor) pollOne(ctx context.Context, en *entry) {
	log := m.logger.With(
		slog.String("position_id", en.pos.ID),
		slog.String("symbol", en.pos.Symbol),
		slog.String("venue", en.conn.Name()),
	)

	cctx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()

	live, found, err := m.findLive(cctx, en)
	if err != nil {
		en.failures++
		if en.failures >= m.cfg.MaxConsecutiveFailures {
			log.Error("position reconciliation failed repeatedly, giving up",
				slog.Int("failures", en.failures),
				slog.String("error", err.Error()),
			)
			m.fail(ctx, en, err)
			return
		}
		log.Warn("poll failed, will retry next cycle",
			slog.Int("failures", en.failures),
			slog.String("error", err.Error()),
		)
		return
	}
	en.failures = 0

	if !found {
		// The final take-profit fill and the position disappearing are
		// usually observed in the same cycle; sweep pending fills before
		// classifying the close.
		mark, _ := en.conn.GetMarkPrice(cctx, en.pos.Symbol)
		m.matchTakeProfits(cctx, en, 0, mark, log)
		m.closeGone(ctx, en, log)
		return
	}

	mark := live.MarkPrice
	if mark <= 0 {
		if p, err := en.conn.GetMarkPrice(cctx, en.pos.Symbol); err == nil {
			mark = p
		}
	}

	changed := m.matchTakeProfits(cctx, en, live.Size, mark, log)

	// Breakeven: first TP fill schedules it; keep retrying the stop
	// replacement until a stop order exists or the position closes.
	if en.breakevenPending && !en.pos.BreakevenApplied {
		m.applyBreakeven(cctx, en, log)
		changed = true
	}

	if changed {
		en.pos.UpdatedAt = time.Now().UTC()
		if err := m.positions.Update(ctx, en.pos); err != nil {
			log.Error("position update failed", slog.String("error", err.Error()))
		}
	}
}

// findLive locates the venue-reported position for this entry. found=false
// with nil error means the venue reports no remaining size.
func (m *Monitor) findLive(ctx context.Context, en *entry) (domain.VenuePosition, bool, error) {
	positions, err := en.conn.GetPositions(ctx)
	if err != nil {
		return domain.VenuePosition{}, false, err
	}
	for _, vp := range positions {
		if vp.Symbol == en.pos.Symbol && vp.Side == en.pos.Side && vp.Size > 0 {
			return vp, true, nil
		}
	}
	return domain.VenuePosition{}, false, nil
}

// matchTakeProfits compares the live size against the recorded remaining
// quantity and marks take-profit levels filled. Order-ID correlation is
// preferred; the size-delta heuristic with a price-touch check is the
// fallback for venues that cannot report per-order fill state.
func (m *Monitor) matchTakeProfits(ctx context.Context, en *entry, liveSize, mark float64, log *slog.Logger) bool {
	changed := false
	delta := en.pos.Remaining - liveSize

	for i := range en.pos.TakeProfits {
		tp := &en.pos.TakeProfits[i]
		if tp.Filled {
			continue
		}

		matched := false
		if tp.OrderID != "" {
			filled, err := en.conn.OrderFilled(ctx, en.pos.Symbol, tp.OrderID)
			switch {
			case err == nil:
				matched = filled
			case errors.Is(err, domain.ErrUnsupported):
				matched = m.deltaMatches(delta, tp.Quantity) && priceTouched(en.pos.Side, mark, tp.Price)
			default:
				// Transient; try the heuristic this cycle.
				matched = m.deltaMatches(delta, tp.Quantity) && priceTouched(en.pos.Side, mark, tp.Price)
			}
		} else {
			matched = m.deltaMatches(delta, tp.Quantity) && priceTouched(en.pos.Side, mark, tp.Price)
		}
		if !matched {
			continue
		}

		tp.Filled = true
		en.pos.Remaining -= tp.Quantity
		if en.pos.Remaining < 0 {
			en.pos.Remaining = 0
		}
		delta -= tp.Quantity
		changed = true

		if en.pos.Status == domain.PositionOpen {
			en.pos.Status = domain.PositionPartiallyClosed
		}
		if !en.pos.BreakevenApplied && !en.breakevenPending {
			en.breakevenPending = true
		}

		log.Info("take-profit filled",
			slog.Int("tp_index", i),
			slog.Float64("price", tp.Price),
			slog.Float64("quantity", tp.Quantity),
		)
		m.events.Emit(ctx, domain.PositionEvent{
			PositionID: en.pos.ID,
			Kind:       domain.EventTakeProfitHit,
			Symbol:     en.pos.Symbol,
			Side:       en.pos.Side,
			TPIndex:    i,
			Price:      tp.Price,
			Quantity:   tp.Quantity,
			OccurredAt: time.Now().UTC(),
		})
	}
	return changed
}

// deltaMatches reports whether the observed size decrease approximately
// equals a take-profit tranche, within the fee/slippage tolerance.
func (m *Monitor) deltaMatches(delta, tranche float64) bool {
	if tranche <= 0 || delta <= 0 {
		return false
	}
	return math.Abs(delta-tranche) <= tranche*m.cfg.FillTolerance
}

// priceTouched reports whether the mark price has reached the target on the
// profit side.
func priceTouched(side domain.Side, mark, target float64) bool {
	if mark <= 0 {
		return false
	}
	if side == domain.SideLong {
		return mark >= target
	}
	return mark <= target
}

// applyBreakeven relocates the stop to the entry price: cancel the old stop,
// place a new one covering the remaining quantity. The gap between the two
// calls is an accepted, minimized risk window; a failed placement leaves
// breakevenPending set so the next cycle retries until a stop exists.
func (m *Monitor) applyBreakeven(ctx context.Context, en *entry, log *slog.Logger) {
	if en.pos.StopOrderID != "" {
		if err := en.conn.CancelOrder(ctx, en.pos.Symbol, en.pos.StopOrderID); err != nil {
			// The old stop may have already been consumed; log and move on
			// to placing the replacement.
			log.Warn("cancel old stop failed", slog.String("error", err.Error()))
		}
		en.pos.StopOrderID = ""
	}

	orderID, err := en.conn.PlaceStopOrder(ctx, en.pos.Symbol, en.pos.Side.Opposite(), en.pos.EntryPrice, en.pos.Remaining)
	if err != nil {
		log.Error("breakeven stop placement failed, will retry",
			slog.String("error", err.Error()),
		)
		return
	}

	en.pos.StopOrderID = orderID
	en.pos.StopLoss = en.pos.EntryPrice
	en.pos.BreakevenApplied = true
	en.breakevenPending = false

	log.Info("stop moved to breakeven",
		slog.Float64("new_stop", en.pos.EntryPrice),
		slog.Float64("old_stop", en.pos.OriginalStopLoss),
	)
	m.events.Emit(ctx, domain.PositionEvent{
		PositionID: en.pos.ID,
		Kind:       domain.EventBreakevenApplied,
		Symbol:     en.pos.Symbol,
		Side:       en.pos.Side,
		TPIndex:    -1,
		Price:      en.pos.EntryPrice,
		OccurredAt: time.Now().UTC(),
	})
}

// closeGone classifies a position the venue no longer reports: all TPs
// filled, stop filled, or closed outside the bot's own orders.
func (m *Monitor) closeGone(ctx context.Context, en *entry, log *slog.Logger) {
	var status domain.PositionStatus
	var evtKind domain.EventKind
	var price float64

	switch {
	case en.pos.AllTPsFilled():
		status = domain.PositionClosedTP
		evtKind = domain.EventPositionClosed
		if n := len(en.pos.TakeProfits); n > 0 {
			price = en.pos.TakeProfits[n-1].Price
		}
	case m.stopConsumed(ctx, en):
		status = domain.PositionClosedSL
		evtKind = domain.EventStopLossHit
		price = en.pos.StopLoss
	default:
		status = domain.PositionClosedManual
		evtKind = domain.EventPositionClosed
	}

	m.finish(ctx, en, status, log)

	m.events.Emit(ctx, domain.PositionEvent{
		PositionID: en.pos.ID,
		Kind:       evtKind,
		Symbol:     en.pos.Symbol,
		Side:       en.pos.Side,
		TPIndex:    -1,
		Price:      price,
		Quantity:   en.pos.Quantity,
		OccurredAt: time.Now().UTC(),
	})
	if evtKind != domain.EventPositionClosed {
		m.events.Emit(ctx, domain.PositionEvent{
			PositionID: en.pos.ID,
			Kind:       domain.EventPositionClosed,
			Symbol:     en.pos.Symbol,
			Side:       en.pos.Side,
			TPIndex:    -1,
			Price:      price,
			OccurredAt: time.Now().UTC(),
		})
	}
}

// stopConsumed checks whether the most recent exit was the stop order: by
// order-ID fill report where supported, by mark price at or through the stop
// otherwise.
func (m *Monitor) stopConsumed(ctx context.Context, en *entry) bool {
	if en.pos.StopOrderID != "" {
		if filled, err := en.conn.OrderFilled(ctx, en.pos.Symbol, en.pos.StopOrderID); err == nil {
			return filled
		}
	}
	mark, err := en.conn.GetMarkPrice(ctx, en.pos.Symbol)
	if err != nil || mark <= 0 {
		return false
	}
	if en.pos.Side == domain.SideLong {
		return mark <= en.pos.StopLoss
	}
	return mark >= en.pos.StopLoss
}

// fail moves a position to FAILED and alerts the operator. Never silently
// drops monitoring.
func (m *Monitor) fail(ctx context.Context, en *entry, cause error) {
	m.finish(ctx, en, domain.PositionFailed, m.logger)
	m.events.Emit(ctx, domain.PositionEvent{
		PositionID: en.pos.ID,
		Kind:       domain.EventMonitoringFailed,
		Symbol:     en.pos.Symbol,
		Side:       en.pos.Side,
		TPIndex:    -1,
		Detail:     cause.Error(),
		OccurredAt: time.Now().UTC(),
	})
}

// finish records a terminal status and removes the position from the active
// set. Transitions are monotonic: an already-terminal position is left alone.
func (m *Monitor) finish(ctx context.Context, en *entry, status domain.PositionStatus, log *slog.Logger) {
	if en.pos.Status.Terminal() {
		m.registry.Remove(en.pos.ID)
		return
	}
	now := time.Now().UTC()
	en.pos.Status = status
	en.pos.UpdatedAt = now
	en.pos.ClosedAt = &now
	if status != domain.PositionFailed {
		en.pos.Remaining = 0
	}

	if err := m.positions.Update(ctx, en.pos); err != nil {
		log.Error("terminal position update failed",
			slog.String("position_id", en.pos.ID),
			slog.String("error", err.Error()),
		)
	}
	m.registry.Remove(en.pos.ID)

	log.Info("position left monitoring",
		slog.String("position_id", en.pos.ID),
		slog.String("status", string(status)),
	)
}
