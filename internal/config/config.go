// Package config defines the top-level configuration for the signal runner
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SIGRUNNER_* environment variables.
type Config struct {
	Bybit       BybitConfig       `toml:"bybit"`
	Hyperliquid HyperliquidConfig `toml:"hyperliquid"`
	Paper       PaperConfig       `toml:"paper"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	Risk        RiskConfig        `toml:"risk"`
	Executor    ExecutorConfig    `toml:"executor"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Feed        FeedConfig        `toml:"feed"`
	Signals     SignalsConfig     `toml:"signals"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// BybitConfig holds Bybit API credentials and endpoint selection.
type BybitConfig struct {
	Enabled   bool   `toml:"enabled"`
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
	Testnet   bool   `toml:"testnet"`
}

// HyperliquidConfig holds the Hyperliquid agent wallet key and endpoint
// selection.
type HyperliquidConfig struct {
	Enabled    bool   `toml:"enabled"`
	PrivateKey string `toml:"private_key"`
	Testnet    bool   `toml:"testnet"`
}

// PaperConfig holds parameters for the simulated venue.
type PaperConfig struct {
	Enabled        bool    `toml:"enabled"`
	InitialBalance float64 `toml:"initial_balance"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// RiskConfig holds the default sizing parameters applied to users that have
// no stored per-venue risk configuration.
type RiskConfig struct {
	Mode            string  `toml:"mode"` // "fixed" or "percentage"
	FixedAmount     float64 `toml:"fixed_amount"`
	Percentage      float64 `toml:"percentage"`
	MaxRiskPercent  float64 `toml:"max_risk_percent"`
	MaxLeverage     int     `toml:"max_leverage"`
	UseVenueMinimum bool    `toml:"use_venue_minimum"`
}

// ExecutorConfig holds trade execution parameters.
type ExecutorConfig struct {
	// DedupWindow is how long a signal fingerprint blocks identical
	// re-submissions.
	DedupWindow duration `toml:"dedup_window"`
	// RateLimit and RateWindow bound venue API calls per key.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	BalanceTTL duration `toml:"balance_ttl"`
}

// MonitorConfig holds position monitoring parameters.
type MonitorConfig struct {
	PollInterval           duration `toml:"poll_interval"`
	CallTimeout            duration `toml:"call_timeout"`
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures"`
	FillTolerance          float64  `toml:"fill_tolerance"`
	VenueConcurrency       int      `toml:"venue_concurrency"`
}

// FeedConfig holds market data feed parameters.
type FeedConfig struct {
	Enabled bool     `toml:"enabled"`
	WsURL   string   `toml:"ws_url"`
	Symbols []string `toml:"symbols"`
}

// SignalsConfig names the Redis channels the engine consumes and produces.
type SignalsConfig struct {
	// Channel is the Pub/Sub channel raw signal text arrives on.
	Channel string `toml:"channel"`
	// EventStream is the durable stream lifecycle events are appended to.
	EventStream string `toml:"event_stream"`
	// Source tags parsed signals with their origin.
	Source string `toml:"source"`
	// UserID is the account the engine trades for.
	UserID string `toml:"user_id"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "3s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "3s" or "5m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Bybit: BybitConfig{
			Enabled: true,
			Testnet: false,
		},
		Hyperliquid: HyperliquidConfig{
			Enabled: false,
			Testnet: false,
		},
		Paper: PaperConfig{
			Enabled:        false,
			InitialBalance: 10_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "signalrunner",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Risk: RiskConfig{
			Mode:           "percentage",
			Percentage:     2.0,
			MaxRiskPercent: 5.0,
			MaxLeverage:    20,
		},
		Executor: ExecutorConfig{
			DedupWindow: duration{5 * time.Minute},
			RateLimit:   5,
			RateWindow:  duration{time.Second},
			BalanceTTL:  duration{10 * time.Second},
		},
		Monitor: MonitorConfig{
			PollInterval:           duration{3 * time.Second},
			CallTimeout:            duration{10 * time.Second},
			MaxConsecutiveFailures: 5,
			FillTolerance:          0.1,
			VenueConcurrency:       2,
		},
		Feed: FeedConfig{
			Enabled: false,
		},
		Signals: SignalsConfig{
			Channel:     "signals:raw",
			EventStream: "events:positions",
			Source:      "manual",
			UserID:      "default",
		},
		Notify: NotifyConfig{
			Events: []string{},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"paper":   true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validRiskModes enumerates the accepted values for RiskConfig.Mode.
var validRiskModes = map[string]bool{
	"fixed":      true,
	"percentage": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, paper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	live := c.Mode != "paper"
	if live && !c.Bybit.Enabled && !c.Hyperliquid.Enabled {
		errs = append(errs, "at least one venue must be enabled for mode "+c.Mode)
	}
	if live && c.Bybit.Enabled {
		if c.Bybit.ApiKey == "" || c.Bybit.ApiSecret == "" {
			errs = append(errs, "bybit: api_key and api_secret are required when enabled")
		}
	}
	if live && c.Hyperliquid.Enabled && c.Hyperliquid.PrivateKey == "" {
		errs = append(errs, "hyperliquid: private_key is required when enabled")
	}
	if c.Mode == "paper" && c.Paper.InitialBalance <= 0 {
		errs = append(errs, "paper: initial_balance must be > 0")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if !validRiskModes[strings.ToLower(c.Risk.Mode)] {
		errs = append(errs, fmt.Sprintf("risk: unknown mode %q (valid: fixed, percentage)", c.Risk.Mode))
	}
	if c.Risk.Mode == "fixed" && c.Risk.FixedAmount <= 0 {
		errs = append(errs, "risk: fixed_amount must be > 0 in fixed mode")
	}
	if c.Risk.Mode == "percentage" && (c.Risk.Percentage <= 0 || c.Risk.Percentage > 100) {
		errs = append(errs, "risk: percentage must be in (0, 100]")
	}
	if c.Risk.MaxRiskPercent <= 0 || c.Risk.MaxRiskPercent > 100 {
		errs = append(errs, "risk: max_risk_percent must be in (0, 100]")
	}
	if c.Risk.MaxLeverage < 1 {
		errs = append(errs, "risk: max_leverage must be >= 1")
	}

	if c.Monitor.PollInterval.Duration < 0 {
		errs = append(errs, "monitor: poll_interval must not be negative")
	}
	if c.Monitor.FillTolerance < 0 || c.Monitor.FillTolerance >= 1 {
		errs = append(errs, "monitor: fill_tolerance must be in [0, 1)")
	}

	if c.Signals.Channel == "" {
		errs = append(errs, "signals: channel must not be empty")
	}
	if c.Signals.UserID == "" {
		errs = append(errs, "signals: user_id must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
