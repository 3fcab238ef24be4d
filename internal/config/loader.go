package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SIGRUNNER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SIGRUNNER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setBool(&cfg.Bybit.Enabled, "SIGRUNNER_BYBIT_ENABLED")
	setStr(&cfg.Bybit.ApiKey, "SIGRUNNER_BYBIT_API_KEY")
	setStr(&cfg.Bybit.ApiSecret, "SIGRUNNER_BYBIT_API_SECRET")
	setBool(&cfg.Bybit.Testnet, "SIGRUNNER_BYBIT_TESTNET")

	setBool(&cfg.Hyperliquid.Enabled, "SIGRUNNER_HYPERLIQUID_ENABLED")
	setStr(&cfg.Hyperliquid.PrivateKey, "SIGRUNNER_HYPERLIQUID_PRIVATE_KEY")
	setBool(&cfg.Hyperliquid.Testnet, "SIGRUNNER_HYPERLIQUID_TESTNET")

	setBool(&cfg.Paper.Enabled, "SIGRUNNER_PAPER_ENABLED")
	setFloat64(&cfg.Paper.InitialBalance, "SIGRUNNER_PAPER_INITIAL_BALANCE")

	setStr(&cfg.Postgres.DSN, "SIGRUNNER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SIGRUNNER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SIGRUNNER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SIGRUNNER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SIGRUNNER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SIGRUNNER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SIGRUNNER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SIGRUNNER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SIGRUNNER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SIGRUNNER_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "SIGRUNNER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIGRUNNER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIGRUNNER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIGRUNNER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SIGRUNNER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SIGRUNNER_REDIS_TLS_ENABLED")

	setStr(&cfg.Risk.Mode, "SIGRUNNER_RISK_MODE")
	setFloat64(&cfg.Risk.FixedAmount, "SIGRUNNER_RISK_FIXED_AMOUNT")
	setFloat64(&cfg.Risk.Percentage, "SIGRUNNER_RISK_PERCENTAGE")
	setFloat64(&cfg.Risk.MaxRiskPercent, "SIGRUNNER_RISK_MAX_RISK_PERCENT")
	setInt(&cfg.Risk.MaxLeverage, "SIGRUNNER_RISK_MAX_LEVERAGE")
	setBool(&cfg.Risk.UseVenueMinimum, "SIGRUNNER_RISK_USE_VENUE_MINIMUM")

	setDuration(&cfg.Executor.DedupWindow, "SIGRUNNER_EXECUTOR_DEDUP_WINDOW")
	setInt(&cfg.Executor.RateLimit, "SIGRUNNER_EXECUTOR_RATE_LIMIT")
	setDuration(&cfg.Executor.RateWindow, "SIGRUNNER_EXECUTOR_RATE_WINDOW")
	setDuration(&cfg.Executor.BalanceTTL, "SIGRUNNER_EXECUTOR_BALANCE_TTL")

	setDuration(&cfg.Monitor.PollInterval, "SIGRUNNER_MONITOR_POLL_INTERVAL")
	setDuration(&cfg.Monitor.CallTimeout, "SIGRUNNER_MONITOR_CALL_TIMEOUT")
	setInt(&cfg.Monitor.MaxConsecutiveFailures, "SIGRUNNER_MONITOR_MAX_CONSECUTIVE_FAILURES")
	setFloat64(&cfg.Monitor.FillTolerance, "SIGRUNNER_MONITOR_FILL_TOLERANCE")
	setInt(&cfg.Monitor.VenueConcurrency, "SIGRUNNER_MONITOR_VENUE_CONCURRENCY")

	setBool(&cfg.Feed.Enabled, "SIGRUNNER_FEED_ENABLED")
	setStr(&cfg.Feed.WsURL, "SIGRUNNER_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Symbols, "SIGRUNNER_FEED_SYMBOLS")

	setStr(&cfg.Signals.Channel, "SIGRUNNER_SIGNALS_CHANNEL")
	setStr(&cfg.Signals.EventStream, "SIGRUNNER_SIGNALS_EVENT_STREAM")
	setStr(&cfg.Signals.Source, "SIGRUNNER_SIGNALS_SOURCE")
	setStr(&cfg.Signals.UserID, "SIGRUNNER_SIGNALS_USER_ID")

	setStr(&cfg.Notify.TelegramToken, "SIGRUNNER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIGRUNNER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIGRUNNER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SIGRUNNER_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "SIGRUNNER_MODE")
	setStr(&cfg.LogLevel, "SIGRUNNER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
