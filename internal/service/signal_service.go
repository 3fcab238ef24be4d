// Package service coordinates the engine's components: raw signal intake,
// risk configuration lookup, and trade dispatch.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"signalrunner/internal/domain"
	"signalrunner/internal/executor"
	"signalrunner/internal/parser"
)

// SignalService consumes raw signal text from the event bus, parses it, and
// dispatches each resulting signal to every enabled venue.
type SignalService struct {
	parser     *parser.Parser
	exec       *executor.Executor
	riskStore  domain.RiskConfigStore
	bus        domain.EventBus
	connectors map[string]domain.ExchangeConnector

	// defaults is applied to users without a stored risk configuration.
	defaults domain.UserRiskConfig
	channel  string
	source   string
	userID   string
	logger   *slog.Logger
}

// NewSignalService creates a SignalService with all required dependencies.
func NewSignalService(
	p *parser.Parser,
	exec *executor.Executor,
	riskStore domain.RiskConfigStore,
	bus domain.EventBus,
	connectors map[string]domain.ExchangeConnector,
	defaults domain.UserRiskConfig,
	channel, source, userID string,
	logger *slog.Logger,
) *SignalService {
	return &SignalService{
		parser:     p,
		exec:       exec,
		riskStore:  riskStore,
		bus:        bus,
		connectors: connectors,
		defaults:   defaults,
		channel:    channel,
		source:     source,
		userID:     userID,
		logger:     logger.With(slog.String("component", "signal_service")),
	}
}

// Run subscribes to the raw signal channel and processes messages until the
// context is cancelled.
func (s *SignalService) Run(ctx context.Context) error {
	msgs, err := s.bus.Subscribe(ctx, s.channel)
	if err != nil {
		return fmt.Errorf("signal_service: subscribe %s: %w", s.channel, err)
	}

	s.logger.InfoContext(ctx, "listening for signals",
		slog.String("channel", s.channel),
		slog.Int("venues", len(s.connectors)),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			s.HandleRaw(ctx, string(raw))
		}
	}
}

// HandleRaw parses one raw message and executes every signal it contains.
// Parse failures and per-venue execution failures are logged, not returned;
// one bad message must not stop the intake loop.
func (s *SignalService) HandleRaw(ctx context.Context, text string) {
	signals := s.parser.Parse(s.source, text)
	if len(signals) == 0 {
		s.logger.WarnContext(ctx, "message produced no signals",
			slog.Int("length", len(text)),
		)
		return
	}

	for _, sig := range signals {
		for venue, conn := range s.connectors {
			cfg := s.riskConfig(ctx, venue)
			report, err := s.exec.Execute(ctx, cfg, sig, conn)
			if err != nil {
				s.logger.ErrorContext(ctx, "trade rejected",
					slog.String("signal_id", sig.ID),
					slog.String("venue", venue),
					slog.String("symbol", sig.Symbol),
					slog.String("error", err.Error()),
				)
				continue
			}
			s.logger.InfoContext(ctx, "trade executed",
				slog.String("signal_id", sig.ID),
				slog.String("venue", venue),
				slog.String("position_id", report.Position.ID),
				slog.Bool("degraded", report.Degraded),
			)
		}
	}
}

// riskConfig returns the stored risk configuration for the service user on a
// venue, falling back to the configured defaults when none exists.
func (s *SignalService) riskConfig(ctx context.Context, venue string) domain.UserRiskConfig {
	cfg, err := s.riskStore.Get(ctx, s.userID, venue)
	if err == nil {
		return cfg
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "risk config lookup failed, using defaults",
			slog.String("venue", venue),
			slog.String("error", err.Error()),
		)
	}

	cfg = s.defaults
	cfg.UserID = s.userID
	cfg.Venue = venue
	return cfg
}
