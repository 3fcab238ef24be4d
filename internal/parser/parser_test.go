package parser

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalrunner/internal/domain"
)

func newTestParser() *Parser {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestParseMultiLineSignal(t *testing.T) {
	text := `BTC/USDT LONG
Leverage: 10x
Entry: 50,000
TP1: 51000
TP2: 52,500
SL: 49000`

	signals := newTestParser().Parse("channel-a", text)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, "BTC", sig.Symbol)
	assert.Equal(t, domain.SideLong, sig.Side)
	assert.Equal(t, 50000.0, sig.Entry)
	assert.Equal(t, []float64{51000, 52500}, sig.TakeProfit)
	assert.Equal(t, 49000.0, sig.StopLoss)
	assert.Equal(t, 10, sig.Leverage)
	assert.Equal(t, "channel-a", sig.Source)
	assert.Equal(t, text, sig.RawText)
	assert.NotEmpty(t, sig.ID)
}

func TestParseShortWithSectionHeaders(t *testing.T) {
	text := `SHORT ETHUSDT 20x
Entry zone: 3000 - 3050
Targets:
1) 2900
2) 2800
3) 2700
Stop loss: 3100`

	signals := newTestParser().Parse("channel-b", text)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, "ETH", sig.Symbol)
	assert.Equal(t, domain.SideShort, sig.Side)
	assert.Equal(t, 3000.0, sig.Entry, "a range trades the first stated level")
	assert.Equal(t, []float64{2900, 2800, 2700}, sig.TakeProfit)
	assert.Equal(t, 3100.0, sig.StopLoss)
	assert.Equal(t, 20, sig.Leverage)
}

func TestParseMarketEntrySignal(t *testing.T) {
	text := `LONG SOL/USDT
Entry: CMP
TP: 160
SL: 140`

	signals := newTestParser().Parse("channel-a", text)
	require.Len(t, signals, 1)
	assert.True(t, signals[0].MarketEntry())
	assert.Equal(t, "SOL", signals[0].Symbol)
}

func TestParseSmallCapPrices(t *testing.T) {
	text := `PEPE/USDT LONG
Entry: 0.00001120
TP: 0.00001200
SL: 0.00001050`

	signals := newTestParser().Parse("channel-a", text)
	require.Len(t, signals, 1)
	assert.Equal(t, 0.0000112, signals[0].Entry)
	assert.Equal(t, []float64{0.000012}, signals[0].TakeProfit)
	assert.Equal(t, 0.0000105, signals[0].StopLoss)
}

func TestParseRejectsWithoutStopLoss(t *testing.T) {
	text := `BTC/USDT LONG
Entry: 50000
TP: 52000`

	signals := newTestParser().Parse("channel-a", text)
	assert.Empty(t, signals, "a signal with no stop-loss cannot be risk-sized")
}

func TestParseRejectsStopOnWrongSide(t *testing.T) {
	text := `BTC/USDT LONG
Entry: 50000
TP: 52000
SL: 51000`

	signals := newTestParser().Parse("channel-a", text)
	assert.Empty(t, signals)
}

func TestParseIgnoresGarbage(t *testing.T) {
	cases := []string{
		"",
		"gm everyone",
		"BTC looking bullish on the 4h",
		"Entry: 50000",
	}
	p := newTestParser()
	for _, text := range cases {
		assert.Empty(t, p.Parse("channel-a", text), "input: %q", text)
	}
}

func TestParseMultipleSignalsSeparated(t *testing.T) {
	text := `BTC/USDT LONG Entry: 50000 TP: 52000 SL: 49000 / ETH/USDT SHORT Entry: 3000 TP: 2800 SL: 3100`

	signals := newTestParser().Parse("channel-a", text)
	require.Len(t, signals, 2)
	assert.Equal(t, "BTC", signals[0].Symbol)
	assert.Equal(t, domain.SideLong, signals[0].Side)
	assert.Equal(t, "ETH", signals[1].Symbol)
	assert.Equal(t, domain.SideShort, signals[1].Side)
}

func TestNormalizeSymbol(t *testing.T) {
	cases := map[string]string{
		"BTC/USDT":  "BTC",
		"BTC/USD":   "BTC",
		"btc-usdt":  "BTC",
		"ETHUSDT":   "ETH",
		"SOLUSD":    "SOL",
		"BTCPERP":   "BTC",
		"0G/USDT":   "0G",
		"BTC":       "BTC",
		" doge ":    "DOGE",
		"BROCCOLI":  "BROCCOLI",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeSymbol(in), "input: %q", in)
	}
}

func TestParseNumberedEntryPrefixesStripped(t *testing.T) {
	text := `LINK/USDT LONG 5x
Entries:
1. 14.50
2. 14.20
TP: 15.50
SL: 13.80`

	signals := newTestParser().Parse("channel-a", text)
	require.Len(t, signals, 1)
	assert.Equal(t, 14.50, signals[0].Entry)
}
