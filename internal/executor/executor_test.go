package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalrunner/internal/domain"
)

type placedOrder struct {
	kind     string
	side     domain.Side
	price    float64
	trigger  float64
	quantity float64
	reduce   bool
}

type fakeConn struct {
	mu sync.Mutex

	balance     float64
	mark        float64
	info        domain.SymbolInfo
	infoErr     error
	leverageErr error
	entryErr    error
	stopErr     error
	limitFailAt int // 1-based index of the limit order to fail, 0 = none
	qtyStep     float64

	leverage int
	orders   []placedOrder
	seq      int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		balance: 1000,
		mark:    50000,
		info:    domain.SymbolInfo{Tradeable: true, MinOrderValue: 5, QtyStep: 0.001},
		qtyStep: 0.001,
	}
}

func (c *fakeConn) Name() string { return "fake" }

func (c *fakeConn) GetBalance(context.Context) (domain.Balance, error) {
	return domain.Balance{Total: c.balance, Available: c.balance}, nil
}

func (c *fakeConn) GetPositions(context.Context) ([]domain.VenuePosition, error) { return nil, nil }

func (c *fakeConn) GetMarkPrice(context.Context, string) (float64, error) { return c.mark, nil }

func (c *fakeConn) SetLeverage(_ context.Context, _ string, leverage int) error {
	if c.leverageErr != nil {
		return c.leverageErr
	}
	c.leverage = leverage
	return nil
}

func (c *fakeConn) nextID() string {
	c.seq++
	return "order-" + strconv.Itoa(c.seq)
}

func (c *fakeConn) PlaceMarketOrder(_ context.Context, _ string, side domain.Side, quantity float64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entryErr != nil {
		return "", c.entryErr
	}
	c.orders = append(c.orders, placedOrder{kind: "market", side: side, quantity: quantity})
	return c.nextID(), nil
}

func (c *fakeConn) PlaceStopOrder(_ context.Context, _ string, side domain.Side, trigger, quantity float64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopErr != nil {
		return "", c.stopErr
	}
	c.orders = append(c.orders, placedOrder{kind: "stop", side: side, trigger: trigger, quantity: quantity})
	return c.nextID(), nil
}

func (c *fakeConn) PlaceLimitOrder(_ context.Context, _ string, side domain.Side, price, quantity float64, reduceOnly bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	limits := 0
	for _, o := range c.orders {
		if o.kind == "limit" {
			limits++
		}
	}
	if c.limitFailAt > 0 && limits+1 == c.limitFailAt {
		return "", errors.New("limit order rejected")
	}
	c.orders = append(c.orders, placedOrder{kind: "limit", side: side, price: price, quantity: quantity, reduce: reduceOnly})
	return c.nextID(), nil
}

func (c *fakeConn) CancelOrder(context.Context, string, string) error { return nil }

func (c *fakeConn) OrderFilled(context.Context, string, string) (bool, error) {
	return false, domain.ErrUnsupported
}

func (c *fakeConn) ValidateSymbol(context.Context, string) (domain.SymbolInfo, error) {
	if c.infoErr != nil {
		return domain.SymbolInfo{}, c.infoErr
	}
	return c.info, nil
}

func (c *fakeConn) RoundQuantity(_ context.Context, _ string, raw float64) (float64, error) {
	if c.qtyStep <= 0 {
		return raw, nil
	}
	return math.Floor(raw/c.qtyStep) * c.qtyStep, nil
}

func (c *fakeConn) ordersOfKind(kind string) []placedOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []placedOrder
	for _, o := range c.orders {
		if o.kind == kind {
			out = append(out, o)
		}
	}
	return out
}

type memPositions struct {
	mu   sync.Mutex
	byID map[string]domain.Position
}

func newMemPositions() *memPositions { return &memPositions{byID: make(map[string]domain.Position)} }

func (s *memPositions) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.byID[pos.ID] = pos
	return nil
}

func (s *memPositions) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[pos.ID] = pos
	return nil
}

func (s *memPositions) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byID[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memPositions) ListOpen(context.Context) ([]domain.Position, error) { return nil, nil }

func (s *memPositions) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (s *memPositions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

type memTrades struct {
	mu   sync.Mutex
	recs []domain.TradeRecord
}

func (s *memTrades) Insert(_ context.Context, rec domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memTrades) ListByUser(context.Context, string, domain.ListOpts) ([]domain.TradeRecord, error) {
	return nil, nil
}

type recordSink struct {
	mu     sync.Mutex
	events []domain.PositionEvent
}

func (s *recordSink) Emit(_ context.Context, evt domain.PositionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordSink) kinds() []domain.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventKind, 0, len(s.events))
	for _, evt := range s.events {
		out = append(out, evt.Kind)
	}
	return out
}

type recordTracker struct {
	mu      sync.Mutex
	tracked []domain.Position
}

func (tr *recordTracker) Track(pos domain.Position, _ domain.ExchangeConnector) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.tracked = append(tr.tracked, pos)
}

type harness struct {
	exec      *Executor
	positions *memPositions
	trades    *memTrades
	sink      *recordSink
	tracker   *recordTracker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		positions: newMemPositions(),
		trades:    &memTrades{},
		sink:      &recordSink{},
		tracker:   &recordTracker{},
	}
	h.exec = New(h.positions, h.trades, nil, h.sink, h.tracker,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return h
}

func testConfig() domain.UserRiskConfig {
	return domain.UserRiskConfig{
		UserID:         "user-1",
		Venue:          "fake",
		Mode:           domain.SizingFixed,
		FixedAmount:    100,
		MaxRiskPercent: 5,
		MaxLeverage:    20,
	}
}

func testSignal() domain.Signal {
	return domain.Signal{
		ID:         "sig-1",
		Source:     "channel-a",
		Symbol:     "BTCUSDT",
		Side:       domain.SideLong,
		Entry:      50000,
		TakeProfit: []float64{51000, 52000},
		StopLoss:   49000,
		Leverage:   10,
	}
}

func TestExecutePlacesFullOrderSequence(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()

	report, err := h.exec.Execute(context.Background(), testConfig(), testSignal(), conn)
	require.NoError(t, err)
	assert.False(t, report.Degraded)

	// fixed 100 at 10x, uncapped: notional 1000, quantity 0.02.
	assert.InDelta(t, 0.02, report.Position.Quantity, 1e-9)
	assert.Equal(t, 10, conn.leverage)

	entries := conn.ordersOfKind("market")
	require.Len(t, entries, 1)
	assert.Equal(t, domain.SideLong, entries[0].side)

	stops := conn.ordersOfKind("stop")
	require.Len(t, stops, 1)
	assert.Equal(t, domain.SideShort, stops[0].side)
	assert.Equal(t, 49000.0, stops[0].trigger)
	assert.InDelta(t, 0.02, stops[0].quantity, 1e-9)

	tps := conn.ordersOfKind("limit")
	require.Len(t, tps, 2)
	var tpQty float64
	for _, tp := range tps {
		assert.True(t, tp.reduce)
		assert.Equal(t, domain.SideShort, tp.side)
		tpQty += tp.quantity
	}
	assert.InDelta(t, 0.02, tpQty, 1e-9, "take-profit tranches cover the entry quantity")

	pos := report.Position
	assert.Equal(t, domain.PositionOpen, pos.Status)
	assert.NotEmpty(t, pos.StopOrderID)
	require.Len(t, pos.TakeProfits, 2)
	assert.NotEmpty(t, pos.TakeProfits[0].OrderID)
	assert.NotEmpty(t, pos.TakeProfits[1].OrderID)
	assert.Equal(t, 49000.0, pos.OriginalStopLoss)

	assert.Equal(t, 1, h.positions.len())
	assert.Len(t, h.trades.recs, 1)
	assert.Len(t, h.tracker.tracked, 1)
	assert.Equal(t, []domain.EventKind{domain.EventPositionOpened}, h.sink.kinds())
}

func TestExecuteStopFailureIsDegradedNotFatal(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	conn.stopErr = errors.New("stop rejected")

	report, err := h.exec.Execute(context.Background(), testConfig(), testSignal(), conn)
	require.NoError(t, err, "the position is already open, so the trade must not error")

	assert.True(t, report.Degraded)
	assert.False(t, report.StopLoss.OK())
	assert.Empty(t, report.Position.StopOrderID)

	// Still persisted, recorded and monitored; the operator is alerted.
	assert.Equal(t, 1, h.positions.len())
	assert.Len(t, h.tracker.tracked, 1)
	require.Len(t, h.trades.recs, 1)
	assert.True(t, h.trades.recs[0].Degraded)
	assert.Contains(t, h.sink.kinds(), domain.EventDegradedTrade)
}

func TestExecuteTakeProfitFailureFlagsOnlyThatOrder(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	conn.limitFailAt = 2

	report, err := h.exec.Execute(context.Background(), testConfig(), testSignal(), conn)
	require.NoError(t, err)

	assert.True(t, report.Degraded)
	require.Len(t, report.TakeProfits, 2)
	assert.True(t, report.TakeProfits[0].OK())
	assert.False(t, report.TakeProfits[1].OK())

	assert.NotEmpty(t, report.Position.TakeProfits[0].OrderID)
	assert.Empty(t, report.Position.TakeProfits[1].OrderID)
	assert.NotEmpty(t, report.Position.StopOrderID, "stop placement is unaffected")
}

func TestExecuteEntryFailureAbortsTrade(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	conn.entryErr = errors.New("insufficient margin")

	_, err := h.exec.Execute(context.Background(), testConfig(), testSignal(), conn)
	require.Error(t, err)

	assert.Empty(t, conn.ordersOfKind("stop"), "no protective orders without an entry")
	assert.Empty(t, conn.ordersOfKind("limit"))
	assert.Equal(t, 0, h.positions.len())
	assert.Empty(t, h.tracker.tracked)
	assert.Empty(t, h.sink.kinds())
}

func TestExecuteLeverageFailureAbortsBeforeEntry(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	conn.leverageErr = errors.New("leverage not allowed")

	_, err := h.exec.Execute(context.Background(), testConfig(), testSignal(), conn)
	require.ErrorIs(t, err, ErrLeverageSetFailed)
	assert.Empty(t, conn.orders)
	assert.Equal(t, 0, h.positions.len())
}

func TestExecuteRejectsUntradeableSymbol(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	conn.info.Tradeable = false

	_, err := h.exec.Execute(context.Background(), testConfig(), testSignal(), conn)
	require.ErrorIs(t, err, domain.ErrSymbolUnavailable)
	assert.Empty(t, conn.orders)
}

func TestExecuteDeduplicatesRepeatedSignal(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()

	_, err := h.exec.Execute(context.Background(), testConfig(), testSignal(), conn)
	require.NoError(t, err)

	_, err = h.exec.Execute(context.Background(), testConfig(), testSignal(), conn)
	require.ErrorIs(t, err, ErrDuplicateSignal)
	assert.Equal(t, 1, h.positions.len())
}

func TestExecuteResolvesMarketEntryToMarkPrice(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()
	conn.mark = 49500

	sig := testSignal()
	sig.Entry = 0

	report, err := h.exec.Execute(context.Background(), testConfig(), sig, conn)
	require.NoError(t, err)
	assert.Equal(t, 49500.0, report.Position.EntryPrice)
}

func TestExecuteCapsOversizedRisk(t *testing.T) {
	h := newHarness(t)
	conn := newFakeConn()

	cfg := testConfig()
	cfg.MaxRiskPercent = 1 // max allowed loss 10 against expected loss 20

	report, err := h.exec.Execute(context.Background(), cfg, testSignal(), conn)
	require.NoError(t, err)
	assert.True(t, report.Sized.Capped)
	assert.InDelta(t, 0.5, report.Sized.ScaleFactor, 1e-9)
	assert.InDelta(t, 50, report.Sized.Margin, 1e-9)
	require.Len(t, h.trades.recs, 1)
	assert.True(t, h.trades.recs[0].Capped)
}
