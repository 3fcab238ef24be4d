package domain

import (
	"fmt"
	"time"
)

// SizingMode selects how the base amount of a trade is derived.
type SizingMode string

const (
	// SizingFixed uses an absolute currency amount per trade.
	SizingFixed SizingMode = "fixed"
	// SizingPercentage uses a fraction of the current account balance.
	SizingPercentage SizingMode = "percentage"
)

// UserRiskConfig is a user's position-sizing configuration. It is read-only
// to the engine; changes apply to future trades only, never retroactively.
type UserRiskConfig struct {
	UserID      string
	Venue       string
	Mode        SizingMode
	FixedAmount float64 // currency units, used in fixed mode
	Percentage  float64 // percent of balance (0..100], used in percentage mode
	// MaxRiskPercent caps the fraction of the balance that may be lost if
	// the stop-loss fills, expressed as a percent.
	MaxRiskPercent float64
	// MaxLeverage is the per-venue leverage ceiling; signal leverage above
	// it is clamped.
	MaxLeverage int
	// UseVenueMinimum substitutes the venue minimum order value when the
	// sized notional falls below it; when false the trade is aborted instead.
	UseVenueMinimum bool
	UpdatedAt       time.Time
}

// Validate checks that the configuration is internally consistent.
func (c UserRiskConfig) Validate() error {
	switch c.Mode {
	case SizingFixed:
		if c.FixedAmount <= 0 {
			return fmt.Errorf("risk config: fixed amount must be positive, got %.2f", c.FixedAmount)
		}
	case SizingPercentage:
		if c.Percentage <= 0 || c.Percentage > 100 {
			return fmt.Errorf("risk config: percentage must be in (0,100], got %.2f", c.Percentage)
		}
	default:
		return fmt.Errorf("risk config: unknown sizing mode %q", c.Mode)
	}
	if c.MaxRiskPercent <= 0 || c.MaxRiskPercent > 100 {
		return fmt.Errorf("risk config: max risk percent must be in (0,100], got %.2f", c.MaxRiskPercent)
	}
	if c.MaxLeverage < 1 {
		return fmt.Errorf("risk config: max leverage must be >= 1, got %d", c.MaxLeverage)
	}
	return nil
}

// CapLeverage clamps the requested leverage to the configured ceiling.
func (c UserRiskConfig) CapLeverage(requested int) int {
	if requested < 1 {
		return 1
	}
	if c.MaxLeverage >= 1 && requested > c.MaxLeverage {
		return c.MaxLeverage
	}
	return requested
}
