package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalrunner/internal/domain"
)

type fakeConn struct {
	mu sync.Mutex

	positions      []domain.VenuePosition
	positionsErr   error
	markPrice      float64
	filled         map[string]bool
	orderFilledErr error
	stopErr        error
	cancelled      []string
	placedStops    []float64
	nextStop       int
}

func (c *fakeConn) Name() string { return "fake" }

func (c *fakeConn) GetBalance(context.Context) (domain.Balance, error) {
	return domain.Balance{}, nil
}

func (c *fakeConn) GetPositions(context.Context) ([]domain.VenuePosition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.positionsErr != nil {
		return nil, c.positionsErr
	}
	out := make([]domain.VenuePosition, len(c.positions))
	copy(out, c.positions)
	return out, nil
}

func (c *fakeConn) GetMarkPrice(context.Context, string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markPrice, nil
}

func (c *fakeConn) SetLeverage(context.Context, string, int) error { return nil }

func (c *fakeConn) PlaceMarketOrder(context.Context, string, domain.Side, float64) (string, error) {
	return "", domain.ErrUnsupported
}

func (c *fakeConn) PlaceStopOrder(_ context.Context, _ string, _ domain.Side, trigger, _ float64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopErr != nil {
		return "", c.stopErr
	}
	c.nextStop++
	c.placedStops = append(c.placedStops, trigger)
	return fmt.Sprintf("stop-%d", c.nextStop), nil
}

func (c *fakeConn) PlaceLimitOrder(context.Context, string, domain.Side, float64, float64, bool) (string, error) {
	return "", domain.ErrUnsupported
}

func (c *fakeConn) CancelOrder(_ context.Context, _ string, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, orderID)
	return nil
}

func (c *fakeConn) OrderFilled(_ context.Context, _ string, orderID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.orderFilledErr != nil {
		return false, c.orderFilledErr
	}
	return c.filled[orderID], nil
}

func (c *fakeConn) ValidateSymbol(context.Context, string) (domain.SymbolInfo, error) {
	return domain.SymbolInfo{Tradeable: true}, nil
}

func (c *fakeConn) RoundQuantity(_ context.Context, _ string, raw float64) (float64, error) {
	return raw, nil
}

type memStore struct {
	mu   sync.Mutex
	byID map[string]domain.Position
}

func newMemStore() *memStore { return &memStore{byID: make(map[string]domain.Position)} }

func (s *memStore) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[pos.ID] = pos
	return nil
}

func (s *memStore) Update(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[pos.ID] = pos
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byID[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memStore) ListOpen(context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, pos := range s.byID {
		if !pos.Status.Terminal() {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *memStore) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Position, error) {
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

func (s *recordSink) count(kind domain.EventKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, evt := range s.events {
		if evt.Kind == kind {
			n++
		}
	}
	return n
}

func testPosition() domain.Position {
	return domain.Position{
		ID:               "pos-1",
		UserID:           "user-1",
		Venue:            "fake",
		Symbol:           "BTCUSDT",
		Side:             domain.SideLong,
		Leverage:         10,
		EntryPrice:       50000,
		EntryOrderID:     "entry-1",
		StopLoss:         49000,
		OriginalStopLoss: 49000,
		StopOrderID:      "sl-1",
		TakeProfits: []domain.TPState{
			{Price: 51000, Quantity: 0.02, OrderID: "tp-1"},
			{Price: 52000, Quantity: 0.02, OrderID: "tp-2"},
		},
		Quantity:  0.04,
		Remaining: 0.04,
		Status:    domain.PositionOpen,
	}
}

func newTestHarness(t *testing.T) (*Monitor, *memStore, *recordSink) {
	t.Helper()
	store := newMemStore()
	sink := &recordSink{}
	m := New(Config{MaxConsecutiveFailures: 3}, NewRegistry(), store, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return m, store, sink
}

func trackedEntry(t *testing.T, m *Monitor, pos domain.Position, conn domain.ExchangeConnector) *entry {
	t.Helper()
	m.Track(pos, conn)
	entries := m.registry.snapshot()
	require.Len(t, entries, 1)
	return entries[0]
}

func TestFirstTakeProfitMovesStopToBreakeven(t *testing.T) {
	m, store, sink := newTestHarness(t)
	conn := &fakeConn{
		positions: []domain.VenuePosition{{Symbol: "BTCUSDT", Side: domain.SideLong, Size: 0.02, MarkPrice: 51100}},
		filled:    map[string]bool{"tp-1": true},
		markPrice: 51100,
	}
	pos := testPosition()
	require.NoError(t, store.Create(context.Background(), pos))
	en := trackedEntry(t, m, pos, conn)

	m.pollOne(context.Background(), en)

	assert.True(t, en.pos.TakeProfits[0].Filled)
	assert.False(t, en.pos.TakeProfits[1].Filled)
	assert.Equal(t, domain.PositionPartiallyClosed, en.pos.Status)
	assert.InDelta(t, 0.02, en.pos.Remaining, 1e-9)

	assert.True(t, en.pos.BreakevenApplied)
	assert.Equal(t, 50000.0, en.pos.StopLoss)
	assert.Equal(t, 49000.0, en.pos.OriginalStopLoss)
	assert.Equal(t, []string{"sl-1"}, conn.cancelled)
	assert.Equal(t, []float64{50000}, conn.placedStops)

	assert.Equal(t, 1, sink.count(domain.EventTakeProfitHit))
	assert.Equal(t, 1, sink.count(domain.EventBreakevenApplied))

	stored, err := store.GetByID(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionPartiallyClosed, stored.Status)
}

func TestBreakevenAppliedExactlyOnce(t *testing.T) {
	m, store, sink := newTestHarness(t)
	conn := &fakeConn{
		positions: []domain.VenuePosition{{Symbol: "BTCUSDT", Side: domain.SideLong, Size: 0.02, MarkPrice: 51100}},
		filled:    map[string]bool{"tp-1": true},
		markPrice: 51100,
	}
	pos := testPosition()
	require.NoError(t, store.Create(context.Background(), pos))
	en := trackedEntry(t, m, pos, conn)

	m.pollOne(context.Background(), en)
	m.pollOne(context.Background(), en)
	m.pollOne(context.Background(), en)

	assert.Equal(t, 1, sink.count(domain.EventBreakevenApplied))
	assert.Equal(t, 1, sink.count(domain.EventTakeProfitHit))
	assert.Len(t, conn.placedStops, 1)
}

func TestBreakevenRetriesUntilStopExists(t *testing.T) {
	m, _, sink := newTestHarness(t)
	conn := &fakeConn{
		positions: []domain.VenuePosition{{Symbol: "BTCUSDT", Side: domain.SideLong, Size: 0.02, MarkPrice: 51100}},
		filled:    map[string]bool{"tp-1": true},
		markPrice: 51100,
		stopErr:   errors.New("venue rejected order"),
	}
	en := trackedEntry(t, m, testPosition(), conn)

	m.pollOne(context.Background(), en)
	assert.False(t, en.pos.BreakevenApplied)
	assert.True(t, en.breakevenPending)
	assert.Empty(t, en.pos.StopOrderID)
	assert.Equal(t, 0, sink.count(domain.EventBreakevenApplied))

	conn.mu.Lock()
	conn.stopErr = nil
	conn.mu.Unlock()

	m.pollOne(context.Background(), en)
	assert.True(t, en.pos.BreakevenApplied)
	assert.False(t, en.breakevenPending)
	assert.Equal(t, "stop-1", en.pos.StopOrderID)
	assert.Equal(t, 1, sink.count(domain.EventBreakevenApplied))
}

func TestAllTakeProfitsFilledClosesPosition(t *testing.T) {
	m, store, sink := newTestHarness(t)
	conn := &fakeConn{
		positions: []domain.VenuePosition{{Symbol: "BTCUSDT", Side: domain.SideLong, Size: 0.02, MarkPrice: 51100}},
		filled:    map[string]bool{"tp-1": true},
		markPrice: 51100,
	}
	pos := testPosition()
	require.NoError(t, store.Create(context.Background(), pos))
	en := trackedEntry(t, m, pos, conn)

	m.pollOne(context.Background(), en)
	require.Equal(t, domain.PositionPartiallyClosed, en.pos.Status)

	conn.mu.Lock()
	conn.filled["tp-2"] = true
	conn.positions = nil
	conn.markPrice = 52100
	conn.mu.Unlock()

	m.pollOne(context.Background(), en)

	// The venue reports the position gone only after the last fill; the
	// next cycle sweeps the remaining fill and classifies the close.
	assert.Equal(t, domain.PositionClosedTP, en.pos.Status)
	assert.True(t, en.pos.TakeProfits[1].Filled)
	assert.Equal(t, 2, sink.count(domain.EventTakeProfitHit))
	assert.NotNil(t, en.pos.ClosedAt)
	assert.Zero(t, en.pos.Remaining)
	assert.Equal(t, 0, m.registry.Len())
	assert.Equal(t, 1, sink.count(domain.EventPositionClosed))

	stored, err := store.GetByID(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosedTP, stored.Status)
}

func TestStopLossCloseEmitsStopEvent(t *testing.T) {
	m, _, sink := newTestHarness(t)
	conn := &fakeConn{
		filled:    map[string]bool{"sl-1": true},
		markPrice: 48900,
	}
	en := trackedEntry(t, m, testPosition(), conn)

	m.pollOne(context.Background(), en)

	assert.Equal(t, domain.PositionClosedSL, en.pos.Status)
	assert.Equal(t, 1, sink.count(domain.EventStopLossHit))
	assert.Equal(t, 1, sink.count(domain.EventPositionClosed))
	assert.Equal(t, 0, m.registry.Len())
}

func TestManualCloseDetected(t *testing.T) {
	m, _, sink := newTestHarness(t)
	conn := &fakeConn{
		filled:    map[string]bool{},
		markPrice: 50500, // between stop and first target
	}
	en := trackedEntry(t, m, testPosition(), conn)

	m.pollOne(context.Background(), en)

	assert.Equal(t, domain.PositionClosedManual, en.pos.Status)
	assert.Equal(t, 0, sink.count(domain.EventStopLossHit))
	assert.Equal(t, 1, sink.count(domain.EventPositionClosed))
	assert.Equal(t, 0, m.registry.Len())
}

func TestConsecutiveFailuresEscalate(t *testing.T) {
	m, store, sink := newTestHarness(t)
	conn := &fakeConn{positionsErr: errors.New("venue unavailable")}
	pos := testPosition()
	require.NoError(t, store.Create(context.Background(), pos))
	en := trackedEntry(t, m, pos, conn)

	m.pollOne(context.Background(), en)
	m.pollOne(context.Background(), en)
	assert.Equal(t, domain.PositionOpen, en.pos.Status)
	assert.Equal(t, 2, en.failures)

	m.pollOne(context.Background(), en)
	assert.Equal(t, domain.PositionFailed, en.pos.Status)
	assert.Equal(t, 1, sink.count(domain.EventMonitoringFailed))
	assert.Equal(t, 0, m.registry.Len())

	stored, err := store.GetByID(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionFailed, stored.Status)
}

func TestFailureCounterResetsOnSuccess(t *testing.T) {
	m, _, _ := newTestHarness(t)
	conn := &fakeConn{
		positionsErr: errors.New("timeout"),
	}
	en := trackedEntry(t, m, testPosition(), conn)

	m.pollOne(context.Background(), en)
	m.pollOne(context.Background(), en)
	require.Equal(t, 2, en.failures)

	conn.mu.Lock()
	conn.positionsErr = nil
	conn.positions = []domain.VenuePosition{{Symbol: "BTCUSDT", Side: domain.SideLong, Size: 0.04, MarkPrice: 50200}}
	conn.mu.Unlock()

	m.pollOne(context.Background(), en)
	assert.Equal(t, 0, en.failures)
	assert.Equal(t, domain.PositionOpen, en.pos.Status)
}

func TestSizeDeltaFallbackMatchesTranche(t *testing.T) {
	m, _, sink := newTestHarness(t)
	conn := &fakeConn{
		positions:      []domain.VenuePosition{{Symbol: "BTCUSDT", Side: domain.SideLong, Size: 0.02, MarkPrice: 51050}},
		orderFilledErr: domain.ErrUnsupported,
		markPrice:      51050,
	}
	en := trackedEntry(t, m, testPosition(), conn)

	m.pollOne(context.Background(), en)

	assert.True(t, en.pos.TakeProfits[0].Filled)
	assert.False(t, en.pos.TakeProfits[1].Filled, "second target not touched yet")
	assert.Equal(t, 1, sink.count(domain.EventTakeProfitHit))
}

func TestSizeDeltaFallbackRequiresPriceTouch(t *testing.T) {
	m, _, sink := newTestHarness(t)
	conn := &fakeConn{
		// Size dropped by one tranche but price never reached the target:
		// treated as a manual partial close, not a take-profit fill.
		positions:      []domain.VenuePosition{{Symbol: "BTCUSDT", Side: domain.SideLong, Size: 0.02, MarkPrice: 50400}},
		orderFilledErr: domain.ErrUnsupported,
		markPrice:      50400,
	}
	en := trackedEntry(t, m, testPosition(), conn)

	m.pollOne(context.Background(), en)

	assert.False(t, en.pos.TakeProfits[0].Filled)
	assert.Equal(t, 0, sink.count(domain.EventTakeProfitHit))
	assert.Equal(t, domain.PositionOpen, en.pos.Status)
}

func TestCancelRemovesWithoutClosing(t *testing.T) {
	m, store, sink := newTestHarness(t)
	conn := &fakeConn{
		positions: []domain.VenuePosition{{Symbol: "BTCUSDT", Side: domain.SideLong, Size: 0.04, MarkPrice: 50100}},
		markPrice: 50100,
	}
	pos := testPosition()
	require.NoError(t, store.Create(context.Background(), pos))
	m.Track(pos, conn)

	require.True(t, m.Cancel("pos-1"))
	m.pollAll(context.Background())

	assert.Equal(t, 0, m.registry.Len())
	assert.Empty(t, sink.events)

	stored, err := store.GetByID(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionOpen, stored.Status, "cancel stops monitoring, never mutates the position")
}

func TestRestoreReloadsOpenPositions(t *testing.T) {
	m, store, _ := newTestHarness(t)
	conn := &fakeConn{}

	open := testPosition()
	closed := testPosition()
	closed.ID = "pos-2"
	closed.Status = domain.PositionClosedTP
	require.NoError(t, store.Create(context.Background(), open))
	require.NoError(t, store.Create(context.Background(), closed))

	err := m.Restore(context.Background(), map[string]domain.ExchangeConnector{"fake": conn})
	require.NoError(t, err)
	assert.Equal(t, 1, m.registry.Len())
}

func TestShortSideBreakevenAndStopTouch(t *testing.T) {
	m, _, sink := newTestHarness(t)
	conn := &fakeConn{
		positions:      []domain.VenuePosition{{Symbol: "ETHUSDT", Side: domain.SideShort, Size: 0.5, MarkPrice: 2900}},
		orderFilledErr: domain.ErrUnsupported,
		markPrice:      2900,
	}
	pos := domain.Position{
		ID:               "pos-3",
		UserID:           "user-1",
		Venue:            "fake",
		Symbol:           "ETHUSDT",
		Side:             domain.SideShort,
		EntryPrice:       3000,
		StopLoss:         3100,
		OriginalStopLoss: 3100,
		StopOrderID:      "sl-3",
		TakeProfits: []domain.TPState{
			{Price: 2900, Quantity: 0.5, OrderID: ""},
			{Price: 2800, Quantity: 0.5, OrderID: ""},
		},
		Quantity:  1.0,
		Remaining: 1.0,
		Status:    domain.PositionOpen,
	}
	en := trackedEntry(t, m, pos, conn)

	m.pollOne(context.Background(), en)

	assert.True(t, en.pos.TakeProfits[0].Filled)
	assert.Equal(t, 1, sink.count(domain.EventTakeProfitHit))
	assert.True(t, en.pos.BreakevenApplied)
	assert.Equal(t, 3000.0, en.pos.StopLoss)
}
