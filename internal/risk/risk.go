// Package risk implements the anti-bot/anti-sybil risk gate described
// in §4.6: a damping coefficient derived from a user's risk level, and
// the sticky-critical transition rule.
package risk

import (
	"time"

	"github.com/finova-network/reward-engine/internal/domain"
)

// StickyCriticalWindow is the minimum duration a critical risk level
// remains in force regardless of subsequent signals.
const StickyCriticalWindow = time.Hour

// ReverificationInterval is how often a medium-risk user's claims
// require a fresh re-verification touchpoint.
const ReverificationInterval = 24 * time.Hour

// Damping returns the effective-reward damping coefficient for a risk
// level, applied as the final multiplicative factor after all other
// mining-rate composition.
func Damping(level domain.RiskLevel) float64 {
	switch level {
	case domain.RiskLow:
		return 1.0
	case domain.RiskMedium:
		return 0.75
	case domain.RiskHigh:
		return 0.25
	case domain.RiskCritical:
		return 0.0
	default:
		return 1.0
	}
}

// RequiresReverification reports whether a medium-risk user's last
// re-verification touchpoint has expired as of now.
func RequiresReverification(level domain.RiskLevel, lastVerifiedAt, now time.Time) bool {
	if level != domain.RiskMedium {
		return false
	}
	if lastVerifiedAt.IsZero() {
		return true
	}
	return now.Sub(lastVerifiedAt) >= ReverificationInterval
}

// ClaimsHeld reports whether a user's claims are held pending a
// human-probability check, per the high-risk damping rule.
func ClaimsHeld(level domain.RiskLevel, humanProbabilityChecked bool) bool {
	return level == domain.RiskHigh && !humanProbabilityChecked
}

// Assessment is the outcome of evaluating a user's anti-bot signals.
type Assessment struct {
	HumanProbability        float64
	ClickVelocityAnomaly    bool
	ContentDuplicationRatio float64
	DeviceFingerprintStable bool
	ReferralClusteringScore float64
}

// LevelFor derives a risk level from an Assessment. The exact scoring
// weights are a documented assumption: the design names the signal set
// but not a literal formula, so thresholds are chosen to be
// monotonically stricter as more signals degrade.
func LevelFor(a Assessment) domain.RiskLevel {
	score := 0
	if a.HumanProbability < 0.3 {
		score += 3
	} else if a.HumanProbability < 0.6 {
		score += 1
	}
	if a.ClickVelocityAnomaly {
		score++
	}
	if a.ContentDuplicationRatio > 0.5 {
		score++
	}
	if !a.DeviceFingerprintStable {
		score++
	}
	if a.ReferralClusteringScore > 0.7 {
		score++
	}

	switch {
	case score >= 5:
		return domain.RiskCritical
	case score >= 3:
		return domain.RiskHigh
	case score >= 1:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Transition applies the sticky-critical rule: once a user enters
// critical, the level cannot change away from critical until
// StickyCriticalWindow has elapsed since criticalSince, regardless of
// what the freshly computed level says.
func Transition(current domain.RiskLevel, criticalSince time.Time, proposed domain.RiskLevel, now time.Time) domain.RiskLevel {
	if current == domain.RiskCritical && !criticalSince.IsZero() && now.Sub(criticalSince) < StickyCriticalWindow {
		return domain.RiskCritical
	}
	return proposed
}
