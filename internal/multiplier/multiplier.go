// Package multiplier composes the single effective mining multiplier
// from active card effects and the streak/quality feedback terms, per
// §4.5 of the reward engine's design. It is a pure function over
// explicit inputs, in the same style as the mining and rp packages: no
// store or clock access, so every stacking rule is table-testable.
package multiplier

import (
	"sort"
	"time"

	"github.com/finova-network/reward-engine/internal/domain"
)

// GlobalCeiling is the hard cap §4.5 places on the effective multiplier.
const GlobalCeiling = 50.0

// GroupCeiling is the per-synergy-group cap on the product of same-group
// card multipliers.
const GroupCeiling = 5.0

// CrossGroupBonusPerGroup is the bonus granted for each additional
// distinct active synergy group beyond the first.
const CrossGroupBonusPerGroup = 0.15

// CrossGroupBonusCeiling is the maximum total cross-group bonus.
const CrossGroupBonusCeiling = 0.30

// Result is the composed multiplier plus a readout of how it was
// reached, so callers can journal a MultiplierClamped event when
// Clamped is true.
type Result struct {
	GroupProducts      map[string]float64 // per-synergy-group product, pre-ceiling
	CrossGroupBonus    float64
	QualityOverride    float64 // only meaningful when HasQualityOverride
	HasQualityOverride bool
	Raw                float64 // composed value before the global ceiling
	Effective          float64 // after the global ceiling
	Clamped            bool
}

// Compose combines the given active card effects (the caller is
// responsible for having already filtered to effects where
// effect.Active(now) is true) into a single effective multiplier.
func Compose(effects []domain.CardEffect, baseFactor float64) Result {
	groupProducts := map[string]float64{}
	groupSet := map[string]bool{}
	res := Result{GroupProducts: groupProducts}

	for _, e := range effects {
		switch e.EffectKind {
		case domain.CardEffectMiningBoost:
			group := e.SynergyGroup
			if group == "" {
				group = e.CardType
			}
			groupSet[group] = true
			if _, ok := groupProducts[group]; !ok {
				groupProducts[group] = 1.0
			}
			if e.Stackable {
				groupProducts[group] *= e.Multiplier
			} else if e.Multiplier > groupProducts[group] {
				// Non-stackable cards in the same group don't multiply;
				// the best single multiplier in the group applies.
				groupProducts[group] = e.Multiplier
			}
		case domain.CardEffectQualityOverride:
			res.HasQualityOverride = true
			if e.Multiplier > res.QualityOverride {
				res.QualityOverride = e.Multiplier
			}
		}
	}

	// Cap each group's product at GroupCeiling.
	groups := make([]string, 0, len(groupProducts))
	for g, p := range groupProducts {
		if p > GroupCeiling {
			groupProducts[g] = GroupCeiling
		}
		groups = append(groups, g)
	}
	sort.Strings(groups) // deterministic iteration for reproducible composition

	cardFactor := 1.0
	for _, g := range groups {
		cardFactor *= groupProducts[g]
	}

	// Cross-group synergy: +15% per additional distinct active group
	// beyond the first, capped at +30% total.
	extraGroups := len(groupSet) - 1
	if extraGroups < 0 {
		extraGroups = 0
	}
	bonus := float64(extraGroups) * CrossGroupBonusPerGroup
	if bonus > CrossGroupBonusCeiling {
		bonus = CrossGroupBonusCeiling
	}
	res.CrossGroupBonus = bonus

	quality := baseFactor
	if res.HasQualityOverride {
		quality = res.QualityOverride
	}

	res.Raw = cardFactor * (1 + bonus) * quality
	res.Effective = res.Raw
	if res.Effective > GlobalCeiling {
		res.Effective = GlobalCeiling
		res.Clamped = true
	}
	return res
}

// ActiveEffects filters effects to those active at t, the form Compose
// expects its input already narrowed to.
func ActiveEffects(effects []domain.CardEffect, t time.Time) []domain.CardEffect {
	active := make([]domain.CardEffect, 0, len(effects))
	for _, e := range effects {
		if e.Active(t) {
			active = append(active, e)
		}
	}
	return active
}
