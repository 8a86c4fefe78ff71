// Package mining composes the per-hour FIN mining rate from the ten
// factors described in the reward engine's design: phase base rate,
// pioneer factor, referral factor, security factor, whale regression,
// XP-level factor, RP-tier factor, staking factor, active-card factor,
// and quality factor.
package mining

import (
	"math"

	svcerrors "github.com/finova-network/reward-engine/infrastructure/errors"
	"github.com/finova-network/reward-engine/internal/config"
	"github.com/finova-network/reward-engine/internal/domain"
)

// Input carries every signal the rate formula reads. All fields are
// supplied by the caller (the engine orchestrator); this package never
// reaches into a store or a clock itself so the formula stays a pure,
// table-testable function.
type Input struct {
	NetworkCtx       domain.NetworkContext
	ActiveReferrals  int
	KYCVerified      bool
	RiskLevel        domain.RiskLevel
	LifetimeMinedFIN float64 // cumulative FIN ever mined, float for the regression exponent
	XPLevel          int     // 1-60, drives both the XP-level factor and the tier cap
	RPTier           domain.RPTier
	StakedFIN        float64
	ActiveCardFactor float64 // from the multiplier composer; 1.0 if no cards active
	QualityEMA       float64 // 7-day trailing EMA of activity quality, already clamped by the caller
}

// Result is the composed rate plus the individual factor readout, so
// callers and tests can assert on intermediate values (§8 boundary
// tests reference specific factors directly).
type Result struct {
	Phase           domain.Phase
	BaseRate        float64
	PioneerFactor   float64
	ReferralFactor  float64
	SecurityFactor  float64
	RegressionFactor float64
	XPLevelFactor   float64
	RPTierFactor    float64
	StakingFactor   float64
	CardFactor      float64
	QualityFactor   float64
	HourlyRate      float64 // FIN per hour
	DailyCap        float64 // FIN per day
}

// Compose returns the composed hourly FIN rate, or a RateUnavailable
// service error if the network context cannot support a phase lookup
// (e.g. an empty base-rate table). A critical risk level never errors:
// per the specification it forces the rate to zero rather than failing
// the composition.
func Compose(cfg config.EngineConfig, in Input) (Result, error) {
	phase := phaseFor(cfg, in.NetworkCtx.TotalUsers)
	if int(phase) >= len(cfg.BaseRatesByPhase) {
		return Result{}, svcerrors.RateUnavailable("no base rate configured for phase")
	}

	res := Result{Phase: phase}
	res.BaseRate = cfg.BaseRatesByPhase[phase]
	res.PioneerFactor = pioneerFactor(in.NetworkCtx.TotalUsers)
	res.ReferralFactor = referralFactor(in.ActiveReferrals)
	res.SecurityFactor = securityFactor(in.KYCVerified, in.RiskLevel)
	res.RegressionFactor = whaleRegression(in.LifetimeMinedFIN)
	res.XPLevelFactor = xpLevelFactor(in.XPLevel)
	res.RPTierFactor = rpTierFactor(in.RPTier)
	res.StakingFactor = stakingFactor(in.StakedFIN)
	res.CardFactor = in.ActiveCardFactor
	if res.CardFactor == 0 {
		res.CardFactor = 1.0
	}
	res.QualityFactor = clamp(in.QualityEMA, 0.5, 2.0)

	res.HourlyRate = res.BaseRate *
		res.PioneerFactor *
		res.ReferralFactor *
		res.SecurityFactor *
		res.RegressionFactor *
		res.XPLevelFactor *
		res.RPTierFactor *
		res.StakingFactor *
		res.CardFactor *
		res.QualityFactor

	if in.RiskLevel == domain.RiskCritical {
		res.HourlyRate = 0
	}

	// DailyCap is the rolling 24h cumulative-accrual cap, keyed only by
	// the user's XP level (0.5 FIN/day at Bronze I up to 15 FIN/day at
	// Mythic X). The phase's absolute ceiling below is a distinct,
	// coarser bound on the *instantaneous rate itself*, independent of
	// tier, so extreme multiplier stacking can never make a single hour
	// worth more than a phase-appropriate fraction of a full day.
	res.DailyCap = tierCapFactor(in.XPLevel)

	ceiling := cfg.MaxDailyByPhase[phase] / 24.0
	if res.HourlyRate > ceiling {
		res.HourlyRate = ceiling
	}

	return res, nil
}

func phaseFor(cfg config.EngineConfig, totalUsers uint64) domain.Phase {
	for i, threshold := range cfg.PhaseThresholds {
		if totalUsers < threshold {
			return domain.Phase(i)
		}
	}
	return domain.Phase(len(cfg.PhaseThresholds))
}

// pioneerFactor rewards early adopters: max(1.0, 2.0 - total_users/1_000_000).
func pioneerFactor(totalUsers uint64) float64 {
	f := 2.0 - float64(totalUsers)/1_000_000.0
	if f < 1.0 {
		return 1.0
	}
	return f
}

// referralFactor is 1 + 0.1*active_referral_count, capped at 3.5.
func referralFactor(activeReferrals int) float64 {
	f := 1.0 + 0.1*float64(activeReferrals)
	if f > 3.5 {
		return 3.5
	}
	return f
}

// securityFactor rewards verified KYC and damps unverified accounts;
// a critical risk level caps the factor at 0.25 regardless of KYC
// (the rate is still separately forced to zero by Compose, but the
// factor itself is reported for audit purposes).
func securityFactor(kycVerified bool, risk domain.RiskLevel) float64 {
	f := 0.8
	if kycVerified {
		f = 1.2
	}
	if risk == domain.RiskCritical && f > 0.25 {
		return 0.25
	}
	return f
}

// whaleRegression damps large cumulative holders: exp(-0.001*lifetime_mined_FIN).
func whaleRegression(lifetimeMinedFIN float64) float64 {
	return math.Exp(-0.001 * lifetimeMinedFIN)
}

// xpLevelBands gives the [low, high] mining-rate factor band for each
// of the six XP tiers. Levels run 1-10 within a tier (Bronze I .. Bronze
// X, etc.), interpolated linearly across the band.
var xpLevelBands = [6][2]float64{
	{1.0, 1.2}, // Bronze
	{1.3, 1.8}, // Silver
	{1.9, 2.5}, // Gold
	{2.6, 3.2}, // Platinum
	{3.3, 4.0}, // Diamond
	{4.1, 5.0}, // Mythic
}

// xpLevelFactor is piecewise-linear within each tier's band, per §4.2
// item 6. level is a 1-60 global level number (tier*10 + sublevel).
func xpLevelFactor(level int) float64 {
	if level < 1 {
		level = 1
	}
	if level > 60 {
		level = 60
	}
	tier := (level - 1) / 10
	sublevel := (level - 1) % 10 // 0-9 within the tier
	band := xpLevelBands[tier]
	return band[0] + float64(sublevel)/9.0*(band[1]-band[0])
}

func rpTierFactor(tier domain.RPTier) float64 {
	switch tier {
	case domain.RPTierExplorer:
		return 1.0
	case domain.RPTierConnector:
		return 1.2
	case domain.RPTierInfluencer:
		return 1.5
	case domain.RPTierLeader:
		return 2.0
	case domain.RPTierAmbassador:
		return 3.0
	default:
		return 1.0
	}
}

// stakingFactor is tiered by staked FIN: 1.0/1.2/1.35/1.5/1.75/2.0 at
// thresholds 0/100/500/1000/5000/10000.
func stakingFactor(stakedFIN float64) float64 {
	switch {
	case stakedFIN >= 10000:
		return 2.0
	case stakedFIN >= 5000:
		return 1.75
	case stakedFIN >= 1000:
		return 1.5
	case stakedFIN >= 500:
		return 1.35
	case stakedFIN >= 100:
		return 1.2
	default:
		return 1.0
	}
}

// DailyCapForLevel exposes tierCapFactor for callers outside this
// package (the session/claim settlement path enforces it against
// cumulative daily accrual, separately from rate composition itself).
func DailyCapForLevel(level int) float64 {
	return tierCapFactor(level)
}

// tierCapFactor scales the phase daily cap from 0.5 FIN/day at level 1
// (Bronze I) to 15 FIN/day at level 60 (Mythic X).
func tierCapFactor(level int) float64 {
	if level < 1 {
		level = 1
	}
	if level > 60 {
		level = 60
	}
	return 0.5 + float64(level-1)/59.0*(15.0-0.5)
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
