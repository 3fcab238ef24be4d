package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions across restarts. The monitor reloads open
// positions from it on startup.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Position, error)
}

// RiskConfigStore persists per-user, per-venue sizing configuration.
type RiskConfigStore interface {
	Upsert(ctx context.Context, cfg UserRiskConfig) error
	Get(ctx context.Context, userID, venue string) (UserRiskConfig, error)
}

// TradeRecord captures the outcome of one executed signal for analytics.
type TradeRecord struct {
	ID         string
	PositionID string
	UserID     string
	Venue      string
	Symbol     string
	Side       Side
	Margin     float64
	Notional   float64
	Quantity   float64
	Capped     bool
	Degraded   bool
	CreatedAt  time.Time
}

// TradeStore persists trade records.
type TradeStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]TradeRecord, error)
}

// StreamMessage is a single entry read from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus publishes lifecycle events for external consumers and carries raw
// signal text into the engine. Pub/Sub is ephemeral; streams are durable and
// ordered.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}

// BalanceCache stores short-lived account balance snapshots so repeated
// sizing calls within one poll window do not hammer the venue.
type BalanceCache interface {
	Get(ctx context.Context, venue, userID string) (Balance, bool, error)
	Set(ctx context.Context, venue, userID string, bal Balance) error
}

// RateLimiter bounds the request rate against a venue API.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
