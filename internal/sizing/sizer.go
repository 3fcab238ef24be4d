// Package sizing computes risk-bounded position sizes. It is pure: no I/O,
// deterministic for given inputs, so every sized trade is exactly
// reproducible for audit.
package sizing

import (
	"errors"
	"fmt"
	"math"

	"signalrunner/internal/domain"
)

// Reason classifies why sizing rejected a trade.
type Reason string

const (
	ReasonInvalidSignal       Reason = "invalid_signal"
	ReasonBelowMinimum        Reason = "below_minimum_order_value"
	ReasonInsufficientBalance Reason = "insufficient_balance"
)

// Error is a sizing rejection with a machine-readable reason.
type Error struct {
	Reason Reason
	msg    string
}

func (e *Error) Error() string { return fmt.Sprintf("sizing: %s: %s", e.Reason, e.msg) }

// ReasonOf extracts the sizing reason from err, or "" when err is not a
// sizing error.
func ReasonOf(err error) Reason {
	var se *Error
	if errors.As(err, &se) {
		return se.Reason
	}
	return ""
}

func rejectf(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, msg: fmt.Sprintf(format, args...)}
}

// SizedPosition is the ephemeral result of sizing one signal against one
// account. It is computed fresh per trade and never persisted beyond the
// trade record.
type SizedPosition struct {
	// Margin is the (possibly scaled) base amount committed to the trade.
	Margin float64
	// Notional is Margin x leverage after any risk cap.
	Notional float64
	// Quantity is the base-asset quantity derived from the final notional,
	// before venue lot rounding (the connector's job, not the sizer's).
	Quantity float64
	// Leverage is the effective leverage after the per-venue ceiling.
	Leverage int
	// Capped is true when the max-risk safety cap reduced the requested size.
	Capped bool
	// ScaleFactor is the factor applied by the cap; 1.0 when uncapped.
	ScaleFactor float64
	// ExpectedLoss is the loss if the stop fills at the sized quantity.
	ExpectedLoss float64
}

// VenueLimits carries the venue constraints sizing must respect. Values come
// from ExchangeConnector.ValidateSymbol at execution time.
type VenueLimits struct {
	MinOrderValue float64
}

// Size computes the capital-safe position size for a signal given the user's
// risk configuration and a point-in-time balance snapshot.
//
// The quantity is derived from the final scaled notional in one step so no
// rounding error accumulates across intermediate values.
func Size(sig domain.Signal, cfg domain.UserRiskConfig, balance float64, limits VenueLimits) (SizedPosition, error) {
	if err := sig.Validate(); err != nil {
		return SizedPosition{}, rejectf(ReasonInvalidSignal, "%v", err)
	}
	if sig.MarketEntry() {
		// Sizing needs a concrete entry; the executor resolves market
		// entries to the current mark price before calling Size.
		return SizedPosition{}, rejectf(ReasonInvalidSignal, "market entry not resolved to a price")
	}
	if err := cfg.Validate(); err != nil {
		return SizedPosition{}, rejectf(ReasonInvalidSignal, "%v", err)
	}
	if balance <= 0 {
		return SizedPosition{}, rejectf(ReasonInsufficientBalance, "balance %.2f", balance)
	}

	leverage := cfg.CapLeverage(sig.Leverage)

	// 1. Base amount.
	var base float64
	switch cfg.Mode {
	case domain.SizingFixed:
		base = cfg.FixedAmount
	case domain.SizingPercentage:
		base = balance * (cfg.Percentage / 100)
	}

	// 3. Relative distance of the stop from entry.
	riskDistance := math.Abs(sig.Entry-sig.StopLoss) / sig.Entry
	if riskDistance == 0 {
		return SizedPosition{}, rejectf(ReasonInvalidSignal, "stop-loss equals entry %.8f", sig.Entry)
	}

	// 4-6. Cap the expected loss at the configured fraction of balance.
	expectedLoss := base * riskDistance * float64(leverage)
	maxAllowedLoss := balance * (cfg.MaxRiskPercent / 100)

	scale := 1.0
	capped := false
	if expectedLoss > maxAllowedLoss {
		scale = maxAllowedLoss / expectedLoss
		base *= scale
		expectedLoss = maxAllowedLoss
		capped = true
	}

	notional := base * float64(leverage)

	// Venue minimum order value check, after scaling.
	if limits.MinOrderValue > 0 && notional < limits.MinOrderValue {
		if !cfg.UseVenueMinimum {
			return SizedPosition{}, rejectf(ReasonBelowMinimum,
				"notional %.2f below venue minimum %.2f", notional, limits.MinOrderValue)
		}
		notional = limits.MinOrderValue
		base = notional / float64(leverage)
		expectedLoss = base * riskDistance * float64(leverage)
	}

	if base > balance {
		return SizedPosition{}, rejectf(ReasonInsufficientBalance,
			"margin %.2f exceeds available balance %.2f", base, balance)
	}

	// 7. Quantity from the final scaled notional.
	return SizedPosition{
		Margin:       base,
		Notional:     notional,
		Quantity:     notional / sig.Entry,
		Leverage:     leverage,
		Capped:       capped,
		ScaleFactor:  scale,
		ExpectedLoss: expectedLoss,
	}, nil
}
