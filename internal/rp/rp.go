// Package rp computes referral-point valuation over the up-to-3-level
// referral graph, per §4.4 of the reward engine's design.
package rp

import (
	"math"
	"time"

	"github.com/finova-network/reward-engine/internal/domain"
)

// BasePoints is the per-referee base RP contribution before activity,
// time-decay, and quality weighting. Not given a literal value by the
// design; chosen as a round, documented assumption.
const BasePoints = 10.0

// ActivityFactor is min(10, referee_XP/1000).
func ActivityFactor(refereeXP int64) float64 {
	f := float64(refereeXP) / 1000.0
	if f > 10 {
		return 10
	}
	return f
}

// TimeDecay is exp(-0.01 * days_since_active).
func TimeDecay(daysSinceActive float64) float64 {
	return math.Exp(-0.01 * daysSinceActive)
}

// Referee is one referral-graph participant's contribution inputs.
type Referee struct {
	UserID          string
	XP              int64
	DaysSinceActive float64
	QualityEMA      float64
}

func contribution(r Referee) float64 {
	return BasePoints * ActivityFactor(r.XP) * TimeDecay(r.DaysSinceActive) * r.QualityEMA
}

// DirectRP sums the direct (level-1) referee contributions.
func DirectRP(direct []Referee) float64 {
	var sum float64
	for _, r := range direct {
		sum += contribution(r)
	}
	return sum
}

// NetworkRP combines level-2 and level-3 referee contributions at their
// documented weights (0.3 and 0.1 respectively).
func NetworkRP(level2, level3 []Referee) float64 {
	var sum2, sum3 float64
	for _, r := range level2 {
		sum2 += contribution(r)
	}
	for _, r := range level3 {
		sum3 += contribution(r)
	}
	return 0.3*sum2 + 0.1*sum3
}

// QualityBonus is active_ratio * (1 + avg_level/100) * retention_30d,
// defaulting to 1.0 when the user has no referees at all.
func QualityBonus(totalReferees, activeReferees int, avgLevel, retention30d float64) float64 {
	if totalReferees == 0 {
		return 1.0
	}
	activeRatio := float64(activeReferees) / float64(totalReferees)
	return activeRatio * (1 + avgLevel/100.0) * retention30d
}

// NetworkRegression bounds megadownlines: exp(-0.0001 * total_network_size * quality_bonus).
func NetworkRegression(totalNetworkSize uint64, qualityBonus float64) float64 {
	return math.Exp(-0.0001 * float64(totalNetworkSize) * qualityBonus)
}

// Total is floor((RP_direct + RP_network) * quality_bonus * network_regression).
func Total(directRP, networkRP, qualityBonus, networkRegression float64) int64 {
	return int64(math.Floor((directRP + networkRP) * qualityBonus * networkRegression))
}

// tierFloors gives the minimum RP for each tier, in tier order.
var tierFloors = [5]int64{0, 1000, 5000, 15000, 50000}

// RawTierFor returns the tier the given RP total currently maps to,
// ignoring demotion hysteresis.
func RawTierFor(totalRP int64) domain.RPTier {
	tier := domain.RPTierAmbassador
	for i := len(tierFloors) - 1; i >= 0; i-- {
		if totalRP >= tierFloors[i] {
			tier = domain.RPTier(i)
			break
		}
	}
	return tier
}

// EffectiveTier applies the 30-day demotion hysteresis: a tier upgrade
// is always immediate, but a tier downgrade only takes effect once the
// user has held a raw tier below their current tier continuously for
// at least hysteresis. belowFloorSince is the zero time when the user
// is currently at or above their current tier's floor.
func EffectiveTier(currentTier, rawTier domain.RPTier, belowFloorSince, now time.Time, hysteresis time.Duration) domain.RPTier {
	if rawTier >= currentTier {
		return rawTier
	}
	if belowFloorSince.IsZero() {
		return currentTier
	}
	if now.Sub(belowFloorSince) >= hysteresis {
		return rawTier
	}
	return currentTier
}

// AncestorLookup resolves a user's single inbound referrer, if any.
type AncestorLookup func(userID string) (referrerID string, ok bool)

// WouldCreateCycle reports whether adding a referrerID -> refereeID edge
// would close a cycle within maxDepth steps up referrerID's existing
// ancestor chain. Since every user has at most one inbound referral
// edge (a tree), a cycle can only form if refereeID is already one of
// referrerID's own ancestors.
func WouldCreateCycle(lookup AncestorLookup, referrerID, refereeID string, maxDepth int) bool {
	if referrerID == refereeID {
		return true
	}
	cur := referrerID
	for d := 0; d < maxDepth; d++ {
		parent, ok := lookup(cur)
		if !ok {
			return false
		}
		if parent == refereeID {
			return true
		}
		cur = parent
	}
	return false
}

// MaterializeEdges builds the up-to-3 referral edges created when
// refereeID signs up under referrerID: the direct edge, plus edges from
// referrerID's first two ancestors, per §4.4's "up to three ancestors
// materialised... by walking the referrer's first two inbound edges".
func MaterializeEdges(lookup AncestorLookup, referrerID, refereeID string, now time.Time) []domain.ReferralEdge {
	edges := []domain.ReferralEdge{
		{ReferrerID: referrerID, RefereeID: refereeID, Level: 1, CreatedAt: now},
	}
	cur := referrerID
	for level := 2; level <= 3; level++ {
		parent, ok := lookup(cur)
		if !ok {
			break
		}
		edges = append(edges, domain.ReferralEdge{ReferrerID: parent, RefereeID: refereeID, Level: level, CreatedAt: now})
		cur = parent
	}
	return edges
}
