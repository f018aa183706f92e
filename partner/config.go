/*
config.go - Static program configuration (levels, rates, tax tables)

PURPOSE:
  Holds every tunable table the engine reads: partner tier thresholds,
  commission rates by ancestor distance, and tax withholding rates.
  Config is an injected, immutable value passed to each component at
  construction - never a package-level singleton - so tests can substitute
  alternate tables.

SEE ALSO:
  - levels.go: Consumes Levels for tier progression
  - commission.go: Consumes CommissionRates
  - tax.go: Consumes TaxRates
*/
package partner

import "github.com/shopspring/decimal"

// =============================================================================
// LEVEL CONFIGURATION
// =============================================================================

// LevelConfig defines one partner tier. A partner qualifies for a tier only
// when BOTH thresholds hold simultaneously; partial qualification does not
// promote.
type LevelConfig struct {
	Level         int
	Name          string
	MinReferrals  int
	MinTeamVolume decimal.Decimal
}

// =============================================================================
// CONFIG
// =============================================================================

// Config is the full program configuration.
type Config struct {
	// MaxDepth caps the closure table and commission fan-out. Ancestors
	// beyond this distance are never linked to a new referral.
	MaxDepth int

	// Levels, ascending by Level. Level 1 must have zero minimums so every
	// partner qualifies for it.
	Levels []LevelConfig

	// CommissionRates maps ancestor distance (1..MaxDepth) to the commission
	// rate applied to a descendant's transaction amount. A missing entry
	// means rate zero: no commission at that distance.
	CommissionRates map[int]decimal.Decimal

	// TaxRates maps tax status to the withholding rate applied to payouts.
	TaxRates map[TaxStatus]decimal.Decimal

	// DefaultTaxStatus is used when a withdrawal carries an unknown status.
	DefaultTaxStatus TaxStatus
}

// RateAt returns the commission rate for an ancestor at the given distance,
// zero if none is configured.
func (c Config) RateAt(level int) decimal.Decimal {
	if r, ok := c.CommissionRates[level]; ok {
		return r
	}
	return decimal.Zero
}

// LevelAt returns the configuration for a tier number, nil if undefined.
func (c Config) LevelAt(level int) *LevelConfig {
	for i := range c.Levels {
		if c.Levels[i].Level == level {
			return &c.Levels[i]
		}
	}
	return nil
}

// MaxLevel returns the highest configured tier number.
func (c Config) MaxLevel() int {
	max := 1
	for _, l := range c.Levels {
		if l.Level > max {
			max = l.Level
		}
	}
	return max
}

// DefaultConfig returns the production tables: five tiers, five commission
// depths with decreasing rates, and the four withholding categories.
func DefaultConfig() Config {
	return Config{
		MaxDepth: 5,
		Levels: []LevelConfig{
			{Level: 1, Name: "Starter", MinReferrals: 0, MinTeamVolume: decimal.Zero},
			{Level: 2, Name: "Bronze", MinReferrals: 5, MinTeamVolume: MustDecimal("50000")},
			{Level: 3, Name: "Silver", MinReferrals: 20, MinTeamVolume: MustDecimal("500000")},
			{Level: 4, Name: "Gold", MinReferrals: 50, MinTeamVolume: MustDecimal("2000000")},
			{Level: 5, Name: "Platinum", MinReferrals: 100, MinTeamVolume: MustDecimal("10000000")},
		},
		CommissionRates: map[int]decimal.Decimal{
			1: MustDecimal("0.10"),
			2: MustDecimal("0.05"),
			3: MustDecimal("0.03"),
			4: MustDecimal("0.02"),
			5: MustDecimal("0.01"),
		},
		TaxRates: map[TaxStatus]decimal.Decimal{
			TaxIndividual:   MustDecimal("0.13"),
			TaxSelfEmployed: MustDecimal("0.04"),
			TaxEntrepreneur: MustDecimal("0.06"),
			TaxCompany:      decimal.Zero,
		},
		DefaultTaxStatus: TaxIndividual,
	}
}
