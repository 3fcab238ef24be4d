package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalrunner/internal/domain"
)

func TestPositionStoreLifecycle(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()

	pos := domain.Position{
		ID: "p1", UserID: "u1", Venue: "paper", Symbol: "BTC",
		Side: domain.SideLong, Status: domain.PositionOpen,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.Create(ctx, pos))
	assert.ErrorIs(t, s.Create(ctx, pos), domain.ErrAlreadyExists)

	pos.Status = domain.PositionClosedTP
	require.NoError(t, s.Update(ctx, pos))

	got, err := s.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionClosedTP, got.Status)

	open, err := s.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open, "terminal positions are not open")

	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, domain.Position{ID: "missing"}), domain.ErrNotFound)
}

func TestListOpenOrdersByCreation(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Create(ctx, domain.Position{
			ID: id, Status: domain.PositionOpen,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	open, err := s.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 3)
	assert.Equal(t, "c", open[0].ID)
	assert.Equal(t, "b", open[2].ID)
}

func TestRiskConfigStoreValidatesOnUpsert(t *testing.T) {
	s := NewRiskConfigStore()
	ctx := context.Background()

	bad := domain.UserRiskConfig{UserID: "u1", Venue: "paper", Mode: "bogus"}
	assert.Error(t, s.Upsert(ctx, bad))

	good := domain.UserRiskConfig{
		UserID: "u1", Venue: "paper",
		Mode: domain.SizingFixed, FixedAmount: 100,
		MaxRiskPercent: 5, MaxLeverage: 10,
	}
	require.NoError(t, s.Upsert(ctx, good))

	got, err := s.Get(ctx, "u1", "paper")
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.FixedAmount)

	_, err = s.Get(ctx, "u1", "bybit")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTradeStorePagination(t *testing.T) {
	s := NewTradeStore()
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Insert(ctx, domain.TradeRecord{
			ID: string(rune('a' + i)), UserID: "u1",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	recs, err := s.ListByUser(ctx, "u1", domain.ListOpts{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "d", recs[0].ID, "newest first, offset skips the newest")
	assert.Equal(t, "c", recs[1].ID)
}
