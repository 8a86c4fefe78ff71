// Package xp computes XP gained per accepted activity event and the
// level/tier derived from a user's cumulative XP, per §4.3 of the
// reward engine's design.
package xp

import (
	"math"

	"github.com/finova-network/reward-engine/internal/domain"
)

// BaseXP is the base XP award per activity kind before any multiplier
// is applied. Values are a documented assumption: the design names the
// formula term but not its literal constants per kind.
var BaseXP = map[domain.ActivityKind]int64{
	domain.ActivityKindLogin:   10,
	domain.ActivityKindLike:    5,
	domain.ActivityKindComment: 20,
	domain.ActivityKindStory:   25,
	domain.ActivityKindShare:   30,
	domain.ActivityKindFollow:  15,
	domain.ActivityKindPost:    50,
	domain.ActivityKindVideo:   40,
	domain.ActivityKindLive:    60,
	domain.ActivityKindQuest:   100,
}

// DailyLimit is the per-(user, kind, day) accepted-event ceiling beyond
// which submissions are rejected with DailyLimit, per §3's ActivityEvent
// invariant and §8 scenario S5 (101st daily like is rejected).
var DailyLimit = map[domain.ActivityKind]int{
	domain.ActivityKindLogin:   1,
	domain.ActivityKindLike:    100,
	domain.ActivityKindComment: 50,
	domain.ActivityKindStory:   20,
	domain.ActivityKindShare:   30,
	domain.ActivityKindFollow:  50,
	domain.ActivityKindPost:    20,
	domain.ActivityKindVideo:   10,
	domain.ActivityKindLive:    5,
	domain.ActivityKindQuest:   10,
}

// DefaultDailyLimit applies when a kind has no explicit entry above.
const DefaultDailyLimit = 20

// PlatformMultiplier looks up a platform's XP multiplier, clamped to
// the specified [1.0, 1.4] range. Unknown platforms get the floor.
func PlatformMultiplier(platforms map[string]float64, platform string) float64 {
	v, ok := platforms[platform]
	if !ok {
		return 1.0
	}
	return clamp(v, 1.0, 1.4)
}

// QualityScore clamps an externally-supplied quality score into its
// documented range.
func QualityScore(raw float64) float64 {
	return clamp(raw, 0.5, 2.0)
}

// StreakMultiplier implements the consecutive-active-days table.
func StreakMultiplier(streakDays int) float64 {
	switch {
	case streakDays >= 30:
		return 3.0
	case streakDays >= 14:
		return 2.0
	case streakDays >= 7:
		return 1.5
	case streakDays >= 3:
		return 1.2
	default:
		return 1.0
	}
}

// LevelDecay is exp(-0.01 * current_level).
func LevelDecay(currentLevel int) float64 {
	return math.Exp(-0.01 * float64(currentLevel))
}

// ViralBonus is 1 + 0.3*log10(views/1000) for views >= 1000, else 1.0,
// clamped to a maximum of 3.0.
func ViralBonus(views int64) float64 {
	if views < 1000 {
		return 1.0
	}
	bonus := 1.0 + 0.3*math.Log10(float64(views)/1000.0)
	if bonus > 3.0 {
		return 3.0
	}
	return bonus
}

// GainInput carries every signal XP computation needs for one activity.
type GainInput struct {
	Kind             domain.ActivityKind
	PlatformMultiplier float64 // already resolved via PlatformMultiplier
	QualityScore     float64   // already resolved via QualityScore
	StreakDays       int
	CurrentLevel     int
	Views            int64
}

// Gain computes the floored XP awarded for one accepted activity event.
func Gain(in GainInput) int64 {
	base := float64(BaseXP[in.Kind])
	platform := clamp(in.PlatformMultiplier, 1.0, 1.4)
	quality := QualityScore(in.QualityScore)
	streak := StreakMultiplier(in.StreakDays)
	decay := LevelDecay(in.CurrentLevel)
	viral := ViralBonus(in.Views)

	gained := base * platform * quality * streak * decay * viral
	return int64(math.Floor(gained))
}

// tierFloor is the minimum cumulative XP for each tier, in tier order.
var tierFloors = [6]int64{0, 1000, 5000, 20000, 50000, 100000}

// tierCeilingForLevel is the cumulative-XP ceiling used only to compute
// a within-tier sublevel by equal partition; the Mythic tier has no
// ceiling so its sublevel saturates at 10 once reached.
var tierCeilings = [6]int64{999, 4999, 19999, 49999, 99999, 0}

// TierFor returns the XP tier for a given cumulative XP total.
func TierFor(cumulativeXP int64) domain.XPTier {
	tier := domain.XPTierMythic
	for i := len(tierFloors) - 1; i >= 0; i-- {
		if cumulativeXP >= tierFloors[i] {
			tier = domain.XPTier(i)
			break
		}
	}
	return tier
}

// LevelFor returns the global 1-60 level (tier*10 + sublevel) for a
// cumulative XP total, by equal partition of each tier's XP range into
// ten sublevels, matching the level banding the mining package's
// xpLevelFactor interpolates across.
func LevelFor(cumulativeXP int64) int {
	tier := TierFor(cumulativeXP)
	floor := tierFloors[tier]
	ceiling := tierCeilings[tier]

	var sublevel int
	if tier == domain.XPTierMythic {
		// Open-ended tier: sublevel rises roughly logarithmically and
		// saturates at 10 (Mythic X) rather than requiring an upper bound.
		excess := cumulativeXP - floor
		sublevel = int(math.Min(9, math.Floor(float64(excess)/20000.0)))
	} else {
		span := ceiling - floor + 1
		sublevel = int((cumulativeXP - floor) * 10 / span)
		if sublevel > 9 {
			sublevel = 9
		}
	}
	return int(tier)*10 + sublevel + 1
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
