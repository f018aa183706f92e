/*
levels.go - Tier progression

PURPOSE:
  Derives a partner's current tier from two inputs: direct-referral count
  and aggregated downline transaction volume (any depth). Both thresholds
  must hold simultaneously; the scan runs from the top tier down and the
  bottom tier has zero minimums, so every partner lands somewhere.

PROGRESS REPORTING:
  Progress toward the next tier averages referral progress and volume
  progress, each capped at 100. At the top tier there is no next tier to
  extrapolate: progress is reported against the top tier's own thresholds,
  which the partner already meets, so it reads 100. Terminal state, not a
  gap in the table.
*/
package partner

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// LevelProgress is the computed tier state for a partner.
type LevelProgress struct {
	Level           int
	Name            string
	DirectReferrals int
	TeamVolume      decimal.Decimal

	// Progress toward NextLevel. Each component capped at 100; Progress is
	// their average rounded half away from zero.
	NextLevel        int
	ReferralProgress decimal.Decimal
	VolumeProgress   decimal.Decimal
	Progress         int
}

// LevelCalculator derives tier state from the closure table and the payments
// subsystem's volume aggregation.
type LevelCalculator struct {
	Relationships RelationshipStore
	Volume        VolumeProvider
	Config        Config
}

func NewLevelCalculator(rels RelationshipStore, volume VolumeProvider, cfg Config) *LevelCalculator {
	return &LevelCalculator{Relationships: rels, Volume: volume, Config: cfg}
}

// ComputeLevel returns the partner's current tier and progress to the next.
func (c *LevelCalculator) ComputeLevel(ctx context.Context, partnerID UserID) (LevelProgress, error) {
	direct, err := c.Relationships.CountDirectReferrals(ctx, partnerID)
	if err != nil {
		return LevelProgress{}, fmt.Errorf("count direct referrals: %w", err)
	}

	descendants, err := c.Relationships.Descendants(ctx, partnerID)
	if err != nil {
		return LevelProgress{}, fmt.Errorf("load downline: %w", err)
	}
	ids := make([]UserID, len(descendants))
	for i, d := range descendants {
		ids[i] = d.ReferralID
	}

	volume, err := c.Volume.SumCompletedTransactions(ctx, ids)
	if err != nil {
		return LevelProgress{}, fmt.Errorf("aggregate team volume: %w", err)
	}

	current := c.qualifiedLevel(direct, volume)

	next := current.Level + 1
	if next > c.Config.MaxLevel() {
		next = c.Config.MaxLevel()
	}
	target := c.Config.LevelAt(next)
	if target == nil {
		// Gapped or truncated tier table: nothing to progress toward, so the
		// current tier is terminal.
		return LevelProgress{
			Level:            current.Level,
			Name:             current.Name,
			DirectReferrals:  direct,
			TeamVolume:       volume,
			NextLevel:        current.Level,
			ReferralProgress: hundred,
			VolumeProgress:   hundred,
			Progress:         100,
		}, nil
	}

	referralProgress := thresholdProgress(decimal.NewFromInt(int64(direct)), decimal.NewFromInt(int64(target.MinReferrals)))
	volumeProgress := thresholdProgress(volume, target.MinTeamVolume)
	progress := referralProgress.Add(volumeProgress).Div(decimal.NewFromInt(2)).Round(0)

	return LevelProgress{
		Level:            current.Level,
		Name:             current.Name,
		DirectReferrals:  direct,
		TeamVolume:       volume,
		NextLevel:        target.Level,
		ReferralProgress: referralProgress,
		VolumeProgress:   volumeProgress,
		Progress:         int(progress.IntPart()),
	}, nil
}

// qualifiedLevel scans from the top tier down and returns the first whose
// thresholds both hold. Tier 1 has zero minimums and always matches.
func (c *LevelCalculator) qualifiedLevel(direct int, volume decimal.Decimal) LevelConfig {
	best := LevelConfig{Level: 1, Name: "Starter"}
	for lvl := c.Config.MaxLevel(); lvl >= 1; lvl-- {
		cfg := c.Config.LevelAt(lvl)
		if cfg == nil {
			continue
		}
		if direct >= cfg.MinReferrals && volume.GreaterThanOrEqual(cfg.MinTeamVolume) {
			return *cfg
		}
		if lvl == 1 {
			best = *cfg
		}
	}
	return best
}

// thresholdProgress returns min(100, current/min*100); a zero minimum is
// already satisfied and reads 100.
func thresholdProgress(current, min decimal.Decimal) decimal.Decimal {
	if min.IsZero() {
		return hundred
	}
	p := current.Div(min).Mul(hundred)
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}
