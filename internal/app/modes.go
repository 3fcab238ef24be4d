package app

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"signalrunner/internal/config"
	"signalrunner/internal/connector/paper"
	"signalrunner/internal/executor"
	"signalrunner/internal/feed"
	"signalrunner/internal/monitor"
	"signalrunner/internal/parser"
	"signalrunner/internal/service"
)

// TradeMode starts signal intake, trade execution, and position monitoring.
// It is also used for paper and full mode; the difference is in what Wire
// put into the dependency set.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Int("venues", len(deps.Connectors)),
	)

	g, ctx := errgroup.WithContext(ctx)

	mon := monitor.New(
		monitorConfig(a.cfg.Monitor),
		monitor.NewRegistry(),
		deps.PositionStore,
		deps.Sink,
		a.logger,
	)
	if err := mon.Restore(ctx, deps.Connectors); err != nil {
		a.logger.WarnContext(ctx, "restore of open positions failed",
			slog.String("error", err.Error()),
		)
	}
	g.Go(func() error {
		return mon.Run(ctx)
	})

	exec := executor.New(
		deps.PositionStore,
		deps.TradeStore,
		deps.Balances,
		deps.Sink,
		mon,
		a.logger,
	)
	exec.SetDedupWindow(a.cfg.Executor.DedupWindow.Duration)

	svc := service.NewSignalService(
		parser.New(a.logger),
		exec,
		deps.RiskStore,
		deps.Bus,
		deps.Connectors,
		riskDefaults(a.cfg.Risk),
		a.cfg.Signals.Channel,
		a.cfg.Signals.Source,
		a.cfg.Signals.UserID,
		a.logger,
	)
	g.Go(func() error {
		return svc.Run(ctx)
	})

	a.startFeed(ctx, g, deps)

	return g.Wait()
}

// MonitorMode runs only the position monitor against already-stored open
// positions. No signal intake happens.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	mon := monitor.New(
		monitorConfig(a.cfg.Monitor),
		monitor.NewRegistry(),
		deps.PositionStore,
		deps.Sink,
		a.logger,
	)
	if err := mon.Restore(ctx, deps.Connectors); err != nil {
		a.logger.WarnContext(ctx, "restore of open positions failed",
			slog.String("error", err.Error()),
		)
	}
	return mon.Run(ctx)
}

// startFeed launches the market data feed when enabled. Updates are published
// on the bus for external consumers; in paper mode they also drive the
// simulated venue's mark prices.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Feed.Enabled || len(a.cfg.Feed.Symbols) == 0 {
		return
	}

	paperVenue := paperConnector(deps)
	handler := func(ctx context.Context, update feed.PriceUpdate) {
		if paperVenue != nil {
			paperVenue.SetMarkPrice(update.Symbol, update.MarkPrice)
		}
		payload, err := json.Marshal(update)
		if err != nil {
			return
		}
		if err := deps.Bus.Publish(ctx, "prices", payload); err != nil {
			a.logger.DebugContext(ctx, "price publish failed",
				slog.String("symbol", update.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	wsFeed := feed.NewBybitWSFeed(a.cfg.Feed.WsURL, a.cfg.Feed.Symbols, handler, a.logger)
	g.Go(func() error {
		defer wsFeed.Close()
		return wsFeed.Run(ctx)
	})
}

// paperConnector returns the simulated venue when one is wired, so the feed
// can drive its mark prices.
func paperConnector(deps *Dependencies) *paper.Connector {
	for _, conn := range deps.Connectors {
		if p, ok := conn.(*paper.Connector); ok {
			return p
		}
	}
	return nil
}

// monitorConfig maps the TOML monitor section onto the monitor package
// config, leaving zero fields to its own defaulting.
func monitorConfig(cfg config.MonitorConfig) monitor.Config {
	return monitor.Config{
		PollInterval:           cfg.PollInterval.Duration,
		CallTimeout:            cfg.CallTimeout.Duration,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		FillTolerance:          cfg.FillTolerance,
		VenueConcurrency:       int64(cfg.VenueConcurrency),
	}
}
