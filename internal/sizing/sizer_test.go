package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalrunner/internal/domain"
)

func testSignal() domain.Signal {
	return domain.Signal{
		ID:         "sig-1",
		Symbol:     "ETH",
		Side:       domain.SideLong,
		Entry:      2650,
		StopLoss:   2570,
		TakeProfit: []float64{2720, 2800},
		Leverage:   25,
	}
}

func testConfig() domain.UserRiskConfig {
	return domain.UserRiskConfig{
		UserID:         "u1",
		Venue:          "bybit",
		Mode:           domain.SizingFixed,
		FixedAmount:    15,
		MaxRiskPercent: 5,
		MaxLeverage:    50,
	}
}

func TestSize_CapAppliedMatchesReference(t *testing.T) {
	// Reference scenario: $100 balance, $15 fixed, 25x, entry 2650, SL 2570,
	// 5% max risk. Expected loss ~$11.32 exceeds the $5 allowance, so the
	// position scales by ~0.4417 down to ~0.0625 units.
	sp, err := Size(testSignal(), testConfig(), 100, VenueLimits{})
	require.NoError(t, err)

	assert.True(t, sp.Capped)
	assert.InDelta(t, 0.4417, sp.ScaleFactor, 1e-2)
	assert.InDelta(t, 6.63, sp.Margin, 1e-2)
	assert.InDelta(t, 0.0625, sp.Quantity, 1e-2)
	assert.Equal(t, 25, sp.Leverage)

	// The cap is tight: the post-scaling expected loss recomputes to the
	// max allowed loss.
	assert.InDelta(t, 5.00, sp.ExpectedLoss, 1e-6)
}

func TestSize_UncappedKeepsBaseAmount(t *testing.T) {
	sig := testSignal()
	sig.Leverage = 2

	sp, err := Size(sig, testConfig(), 1000, VenueLimits{})
	require.NoError(t, err)

	assert.False(t, sp.Capped)
	assert.Equal(t, 1.0, sp.ScaleFactor)
	assert.InDelta(t, 15.0, sp.Margin, 1e-9)
	assert.InDelta(t, 30.0, sp.Notional, 1e-9)
	assert.InDelta(t, 30.0/2650, sp.Quantity, 1e-9)
}

func TestSize_PercentageMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = domain.SizingPercentage
	cfg.Percentage = 10
	sig := testSignal()
	sig.Leverage = 1

	sp, err := Size(sig, cfg, 500, VenueLimits{})
	require.NoError(t, err)
	assert.InDelta(t, 50.0, sp.Margin, 1e-9)
}

func TestSize_LeverageCeilingClamped(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLeverage = 10
	cfg.MaxRiskPercent = 100 // keep the cap out of the way

	sp, err := Size(testSignal(), cfg, 1000, VenueLimits{})
	require.NoError(t, err)
	assert.Equal(t, 10, sp.Leverage)
	assert.InDelta(t, 150.0, sp.Notional, 1e-9)
}

func TestSize_BelowMinimumAborts(t *testing.T) {
	sig := testSignal()
	sig.Leverage = 1

	_, err := Size(sig, testConfig(), 100, VenueLimits{MinOrderValue: 100})
	require.Error(t, err)
	assert.Equal(t, ReasonBelowMinimum, ReasonOf(err))
}

func TestSize_BelowMinimumSubstitutedWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.UseVenueMinimum = true
	sig := testSignal()
	sig.Leverage = 5

	sp, err := Size(sig, cfg, 100, VenueLimits{MinOrderValue: 100})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, sp.Notional, 1e-9)
	assert.InDelta(t, 20.0, sp.Margin, 1e-9)
}

func TestSize_InsufficientBalance(t *testing.T) {
	cfg := testConfig()
	cfg.FixedAmount = 200
	cfg.MaxRiskPercent = 100
	sig := testSignal()
	sig.Leverage = 1

	_, err := Size(sig, cfg, 100, VenueLimits{})
	require.Error(t, err)
	assert.Equal(t, ReasonInsufficientBalance, ReasonOf(err))
}

func TestSize_InvalidSignals(t *testing.T) {
	cases := map[string]func(*domain.Signal){
		"stop equals entry":        func(s *domain.Signal) { s.StopLoss = s.Entry },
		"long stop above entry":    func(s *domain.Signal) { s.StopLoss = 2700 },
		"no take profits":          func(s *domain.Signal) { s.TakeProfit = nil },
		"unordered take profits":   func(s *domain.Signal) { s.TakeProfit = []float64{2800, 2720} },
		"tp on loss side":          func(s *domain.Signal) { s.TakeProfit = []float64{2600} },
		"zero leverage":            func(s *domain.Signal) { s.Leverage = 0 },
		"market entry not resolved": func(s *domain.Signal) { s.Entry = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			sig := testSignal()
			mutate(&sig)
			_, err := Size(sig, testConfig(), 100, VenueLimits{})
			require.Error(t, err)
			assert.Equal(t, ReasonInvalidSignal, ReasonOf(err))
		})
	}
}

func TestSize_Deterministic(t *testing.T) {
	a, err := Size(testSignal(), testConfig(), 100, VenueLimits{})
	require.NoError(t, err)
	b, err := Size(testSignal(), testConfig(), 100, VenueLimits{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
