package paper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalrunner/internal/domain"
)

func TestMarketOrderOpensPosition(t *testing.T) {
	c := New(1000)
	c.SetMarkPrice("BTC", 50000)

	id, err := c.PlaceMarketOrder(context.Background(), "BTC", domain.SideLong, 0.02)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	positions, err := c.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 0.02, positions[0].Size)
	assert.Equal(t, 50000.0, positions[0].EntryPrice)
	assert.Equal(t, domain.SideLong, positions[0].Side)
}

func TestLimitOrderFillsOnPriceCross(t *testing.T) {
	c := New(1000)
	c.SetMarkPrice("BTC", 50000)
	_, err := c.PlaceMarketOrder(context.Background(), "BTC", domain.SideLong, 0.02)
	require.NoError(t, err)

	tpID, err := c.PlaceLimitOrder(context.Background(), "BTC", domain.SideShort, 51000, 0.01, true)
	require.NoError(t, err)

	filled, err := c.OrderFilled(context.Background(), "BTC", tpID)
	require.NoError(t, err)
	assert.False(t, filled)

	c.SetMarkPrice("BTC", 51200)

	filled, err = c.OrderFilled(context.Background(), "BTC", tpID)
	require.NoError(t, err)
	assert.True(t, filled)

	positions, err := c.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 0.01, positions[0].Size, 1e-9)
}

func TestStopOrderClosesOnFallingPrice(t *testing.T) {
	c := New(1000)
	c.SetMarkPrice("ETH", 3000)
	_, err := c.PlaceMarketOrder(context.Background(), "ETH", domain.SideLong, 1)
	require.NoError(t, err)

	slID, err := c.PlaceStopOrder(context.Background(), "ETH", domain.SideShort, 2900, 1)
	require.NoError(t, err)

	c.SetMarkPrice("ETH", 2950)
	filled, _ := c.OrderFilled(context.Background(), "ETH", slID)
	assert.False(t, filled)

	c.SetMarkPrice("ETH", 2890)
	filled, _ = c.OrderFilled(context.Background(), "ETH", slID)
	assert.True(t, filled)

	positions, err := c.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestCancelledOrderNeverFills(t *testing.T) {
	c := New(1000)
	c.SetMarkPrice("BTC", 50000)
	_, err := c.PlaceMarketOrder(context.Background(), "BTC", domain.SideLong, 0.02)
	require.NoError(t, err)

	slID, err := c.PlaceStopOrder(context.Background(), "BTC", domain.SideShort, 49000, 0.02)
	require.NoError(t, err)
	require.NoError(t, c.CancelOrder(context.Background(), "BTC", slID))

	c.SetMarkPrice("BTC", 48000)
	filled, _ := c.OrderFilled(context.Background(), "BTC", slID)
	assert.False(t, filled)
}

func TestValidateSymbolRequiresKnownMark(t *testing.T) {
	c := New(1000)
	info, err := c.ValidateSymbol(context.Background(), "BTC")
	require.NoError(t, err)
	assert.False(t, info.Tradeable)

	c.SetMarkPrice("BTC", 50000)
	info, err = c.ValidateSymbol(context.Background(), "BTC")
	require.NoError(t, err)
	assert.True(t, info.Tradeable)
}
