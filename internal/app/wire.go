package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"signalrunner/internal/cache/redis"
	"signalrunner/internal/config"
	"signalrunner/internal/connector/bybit"
	"signalrunner/internal/connector/hyperliquid"
	"signalrunner/internal/connector/paper"
	"signalrunner/internal/domain"
	"signalrunner/internal/notify"
	"signalrunner/internal/service"
	"signalrunner/internal/store/memory"
	"signalrunner/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	TradeStore    domain.TradeStore
	RiskStore     domain.RiskConfigStore

	// Redis-backed infrastructure
	Bus      domain.EventBus
	Balances domain.BalanceCache
	Limiter  domain.RateLimiter

	// Venue connectors keyed by venue name.
	Connectors map[string]domain.ExchangeConnector

	// Event consumers
	Notifier *notify.Notifier
	Sink     domain.EventSink
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Connectors: make(map[string]domain.ExchangeConnector),
	}

	paperMode := strings.EqualFold(cfg.Mode, "paper")

	// --- Stores: Postgres for live trading, in-memory for paper ---
	if paperMode {
		deps.PositionStore = memory.NewPositionStore()
		deps.TradeStore = memory.NewTradeStore()
		deps.RiskStore = memory.NewRiskConfigStore()
	} else {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.RiskStore = postgres.NewRiskConfigStore(pool)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Bus = redis.NewEventBus(redisClient)
	deps.Balances = redis.NewBalanceCache(redisClient, cfg.Executor.BalanceTTL.Duration)
	deps.Limiter = redis.NewRateLimiter(redisClient, cfg.Executor.RateLimit, cfg.Executor.RateWindow.Duration)

	// --- Venue connectors ---
	if paperMode {
		deps.Connectors["paper"] = paper.New(cfg.Paper.InitialBalance)
	} else {
		if cfg.Bybit.Enabled {
			deps.Connectors["bybit"] = bybit.NewClient(
				cfg.Bybit.ApiKey,
				cfg.Bybit.ApiSecret,
				cfg.Bybit.Testnet,
				deps.Limiter,
			)
		}
		if cfg.Hyperliquid.Enabled {
			hl, err := hyperliquid.NewClient(cfg.Hyperliquid.PrivateKey, cfg.Hyperliquid.Testnet, deps.Limiter)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: hyperliquid: %w", err)
			}
			deps.Connectors["hyperliquid"] = hl
		}
	}

	// --- Notifications and event recording ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	kinds := make([]domain.EventKind, 0, len(cfg.Notify.Events))
	for _, e := range cfg.Notify.Events {
		kinds = append(kinds, domain.EventKind(strings.TrimSpace(e)))
	}
	deps.Notifier = notify.NewNotifier(senders, kinds, logger)

	recorder := service.NewEventRecorder(deps.Bus, "events:live", cfg.Signals.EventStream, logger)
	deps.Sink = service.MultiSink{recorder, deps.Notifier}

	return deps, cleanup, nil
}

// riskDefaults converts the configured default sizing parameters into a
// domain risk configuration template. UserID and Venue are filled in at
// dispatch time.
func riskDefaults(cfg config.RiskConfig) domain.UserRiskConfig {
	return domain.UserRiskConfig{
		Mode:            domain.SizingMode(strings.ToLower(cfg.Mode)),
		FixedAmount:     cfg.FixedAmount,
		Percentage:      cfg.Percentage,
		MaxRiskPercent:  cfg.MaxRiskPercent,
		MaxLeverage:     cfg.MaxLeverage,
		UseVenueMinimum: cfg.UseVenueMinimum,
	}
}
