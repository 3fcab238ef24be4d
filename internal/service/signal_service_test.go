package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalrunner/internal/connector/paper"
	"signalrunner/internal/domain"
	"signalrunner/internal/executor"
	"signalrunner/internal/parser"
	"signalrunner/internal/store/memory"
)

type stubBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
	subCh     chan []byte
}

func newStubBus() *stubBus {
	return &stubBus{
		published: make(map[string][][]byte),
		streams:   make(map[string][][]byte),
		subCh:     make(chan []byte, 16),
	}
}

func (b *stubBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *stubBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return b.subCh, nil
}

func (b *stubBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *stubBus) StreamRead(_ context.Context, _, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type noopTracker struct{}

func (noopTracker) Track(domain.Position, domain.ExchangeConnector) {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const btcSignal = `BTCUSDT LONG
Entry: 50000
TP1: 51000
TP2: 52000
SL: 49000
Leverage: 10x`

func newTestService(t *testing.T) (*SignalService, *memory.PositionStore, *paper.Connector) {
	t.Helper()

	positions := memory.NewPositionStore()
	trades := memory.NewTradeStore()
	risk := memory.NewRiskConfigStore()

	venue := paper.New(10_000)
	venue.SetMarkPrice("BTC", 50_000)

	exec := executor.New(positions, trades, nil, recorderSink{}, noopTracker{}, testLogger())

	defaults := domain.UserRiskConfig{
		Mode:           domain.SizingFixed,
		FixedAmount:    100,
		MaxRiskPercent: 5,
		MaxLeverage:    20,
	}

	svc := NewSignalService(
		parser.New(testLogger()),
		exec,
		risk,
		newStubBus(),
		map[string]domain.ExchangeConnector{"paper": venue},
		defaults,
		"signals:raw", "test", "user-1",
		testLogger(),
	)
	return svc, positions, venue
}

// recorderSink drops events; executor wiring requires a sink.
type recorderSink struct{}

func (recorderSink) Emit(context.Context, domain.PositionEvent) {}

func TestHandleRawOpensPosition(t *testing.T) {
	svc, positions, _ := newTestService(t)

	svc.HandleRaw(context.Background(), btcSignal)

	open, err := positions.ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "BTC", open[0].Symbol)
	assert.Equal(t, domain.SideLong, open[0].Side)
	assert.Equal(t, "user-1", open[0].UserID)
}

func TestHandleRawIgnoresGarbage(t *testing.T) {
	svc, positions, _ := newTestService(t)

	svc.HandleRaw(context.Background(), "gm everyone, market looking spicy today")

	open, err := positions.ListOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestHandleRawSkipsUnknownSymbol(t *testing.T) {
	svc, positions, _ := newTestService(t)

	// A symbol the venue has no mark price for is rejected pre-trade.
	svc.HandleRaw(context.Background(), `DOGEUSDT LONG
Entry: 0.1
TP1: 0.12
SL: 0.09`)

	open, err := positions.ListOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRunConsumesFromBus(t *testing.T) {
	positions := memory.NewPositionStore()
	trades := memory.NewTradeStore()
	risk := memory.NewRiskConfigStore()

	venue := paper.New(10_000)
	venue.SetMarkPrice("BTC", 50_000)

	bus := newStubBus()
	exec := executor.New(positions, trades, nil, recorderSink{}, noopTracker{}, testLogger())
	svc := NewSignalService(
		parser.New(testLogger()),
		exec,
		risk,
		bus,
		map[string]domain.ExchangeConnector{"paper": venue},
		domain.UserRiskConfig{Mode: domain.SizingFixed, FixedAmount: 100, MaxRiskPercent: 5, MaxLeverage: 20},
		"signals:raw", "test", "user-1",
		testLogger(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	bus.subCh <- []byte(btcSignal)

	require.Eventually(t, func() bool {
		open, err := positions.ListOpen(context.Background())
		return err == nil && len(open) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestStoredRiskConfigOverridesDefaults(t *testing.T) {
	svc, positions, _ := newTestService(t)

	stored := domain.UserRiskConfig{
		UserID:         "user-1",
		Venue:          "paper",
		Mode:           domain.SizingFixed,
		FixedAmount:    200,
		MaxRiskPercent: 5,
		MaxLeverage:    20,
	}
	require.NoError(t, svc.riskStore.Upsert(context.Background(), stored))

	svc.HandleRaw(context.Background(), btcSignal)

	open, err := positions.ListOpen(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	// Fixed 200 at 10x on a 50k entry sizes 0.04 instead of the default 0.02.
	assert.InDelta(t, 0.04, open[0].Quantity, 1e-9)
}
