package config

import (
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// EngineConfig carries the tunables the reward engine's design notes call out
// as configuration rather than formula constants: phase thresholds and base
// rates, card/multiplier caps, risk dampings, session/claim budgets, and
// staleness windows. Per-tier and per-activity tables that the specification
// treats as fixed formula data (XP tiers, RP tiers, staking tiers, base XP
// per activity kind) live as package-level constants next to the code that
// consumes them, not here.
type EngineConfig struct {
	// PhaseThresholds are the upper bound (exclusive) of total network users
	// for each phase except the last, which has no upper bound. Ordered
	// Finizen, Growth, Maturity (Stability has no threshold).
	PhaseThresholds []uint64 `json:"phase_thresholds" yaml:"phase_thresholds"`
	// BaseRatesByPhase are hourly FIN base rates, one per phase, in phase order.
	BaseRatesByPhase []float64 `json:"base_rates_by_phase" yaml:"base_rates_by_phase"`
	// MaxDailyByPhase is a per-phase absolute ceiling (FIN/day) on the
	// instantaneous mining rate itself (divided by 24 for the hourly
	// clamp), distinct from the per-XP-tier daily accrual cap below.
	MaxDailyByPhase []float64 `json:"max_daily_by_phase" yaml:"max_daily_by_phase"`

	// CardSynergyGroupCap bounds the product of same-synergy-group card multipliers.
	CardSynergyGroupCap float64 `json:"card_synergy_group_cap" yaml:"card_synergy_group_cap" env:"ENGINE_CARD_SYNERGY_GROUP_CAP"`
	// CrossGroupSynergyBonus is the per-additional-group multiplier bonus.
	CrossGroupSynergyBonus float64 `json:"cross_group_synergy_bonus" yaml:"cross_group_synergy_bonus" env:"ENGINE_CROSS_GROUP_SYNERGY_BONUS"`
	// CrossGroupSynergyCap bounds the total cross-group synergy bonus.
	CrossGroupSynergyCap float64 `json:"cross_group_synergy_cap" yaml:"cross_group_synergy_cap" env:"ENGINE_CROSS_GROUP_SYNERGY_CAP"`
	// MultiplierCeiling is the global ceiling on the composed effective multiplier.
	MultiplierCeiling float64 `json:"multiplier_ceiling" yaml:"multiplier_ceiling" env:"ENGINE_MULTIPLIER_CEILING"`

	// RiskDampings maps a risk level name to its damping coefficient.
	RiskDampings map[string]float64 `json:"risk_dampings" yaml:"risk_dampings"`
	// CriticalStickyFor is the minimum duration a critical risk level holds
	// regardless of subsequent improving signals.
	CriticalStickyFor time.Duration `json:"critical_sticky_for" yaml:"critical_sticky_for" env:"ENGINE_RISK_CRITICAL_STICKY_FOR"`

	// SessionMaxDuration is the server-enforced maximum Active session lifetime.
	SessionMaxDuration time.Duration `json:"session_max_duration" yaml:"session_max_duration" env:"ENGINE_SESSION_MAX_DURATION"`
	// ClaimRetryBudget is the maximum number of retryable settlement attempts
	// before a claim is cancelled.
	ClaimRetryBudget int `json:"claim_retry_budget" yaml:"claim_retry_budget" env:"ENGINE_CLAIM_RETRY_BUDGET"`

	// NetworkSizeStaleness bounds how stale a cached network-size reading may
	// be before rate composition must refresh it.
	NetworkSizeStaleness time.Duration `json:"network_size_staleness" yaml:"network_size_staleness" env:"ENGINE_NETWORK_SIZE_STALENESS"`

	// ReferralDepth is the fixed maximum referral graph depth (documented as
	// fixed at 3 by the specification; exposed for tests and clarity).
	ReferralDepth int `json:"rp_depth" yaml:"rp_depth" env:"ENGINE_RP_DEPTH"`
	// QualityEMAWindowDays is the trailing window for the activity quality EMA.
	QualityEMAWindowDays int `json:"quality_ema_window_days" yaml:"quality_ema_window_days" env:"ENGINE_QUALITY_EMA_WINDOW_DAYS"`
	// TierDemotionHysteresis is how long RP may sit below a tier floor before
	// the tier is allowed to demote.
	TierDemotionHysteresis time.Duration `json:"tier_demotion_hysteresis" yaml:"tier_demotion_hysteresis" env:"ENGINE_TIER_DEMOTION_HYSTERESIS"`
	// ActivityDedupWindow is the rolling window within which a repeated
	// content fingerprint from the same user is rejected as a duplicate.
	ActivityDedupWindow time.Duration `json:"activity_dedup_window" yaml:"activity_dedup_window" env:"ENGINE_ACTIVITY_DEDUP_WINDOW"`
}

// DefaultEngineConfig returns the engine tunables at their specified values.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PhaseThresholds:  []uint64{100_000, 1_000_000, 10_000_000},
		BaseRatesByPhase: []float64{0.1, 0.05, 0.025, 0.01},
		MaxDailyByPhase:  []float64{10.0, 6.0, 3.0, 1.5},

		CardSynergyGroupCap:    5.0,
		CrossGroupSynergyBonus: 0.15,
		CrossGroupSynergyCap:   0.30,
		MultiplierCeiling:      50.0,

		RiskDampings: map[string]float64{
			"low":      1.0,
			"medium":   0.75,
			"high":     0.25,
			"critical": 0.0,
		},
		CriticalStickyFor: time.Hour,

		SessionMaxDuration: 24 * time.Hour,
		ClaimRetryBudget:   5,

		NetworkSizeStaleness: 60 * time.Second,

		ReferralDepth:          3,
		QualityEMAWindowDays:   7,
		TierDemotionHysteresis: 30 * 24 * time.Hour,
		ActivityDedupWindow:    24 * time.Hour,
	}
}

// applyEngineEnv overlays environment variable overrides declared via `env`
// struct tags onto the engine configuration already loaded from defaults/file.
func applyEngineEnv(cfg *EngineConfig) {
	var overrides struct {
		CardSynergyGroupCap    float64       `env:"ENGINE_CARD_SYNERGY_GROUP_CAP"`
		CrossGroupSynergyBonus float64       `env:"ENGINE_CROSS_GROUP_SYNERGY_BONUS"`
		CrossGroupSynergyCap   float64       `env:"ENGINE_CROSS_GROUP_SYNERGY_CAP"`
		MultiplierCeiling      float64       `env:"ENGINE_MULTIPLIER_CEILING"`
		CriticalStickyFor      time.Duration `env:"ENGINE_RISK_CRITICAL_STICKY_FOR"`
		SessionMaxDuration     time.Duration `env:"ENGINE_SESSION_MAX_DURATION"`
		ClaimRetryBudget       int           `env:"ENGINE_CLAIM_RETRY_BUDGET"`
		NetworkSizeStaleness   time.Duration `env:"ENGINE_NETWORK_SIZE_STALENESS"`
		ReferralDepth          int           `env:"ENGINE_RP_DEPTH"`
		QualityEMAWindowDays   int           `env:"ENGINE_QUALITY_EMA_WINDOW_DAYS"`
		TierDemotionHysteresis time.Duration `env:"ENGINE_TIER_DEMOTION_HYSTERESIS"`
		ActivityDedupWindow    time.Duration `env:"ENGINE_ACTIVITY_DEDUP_WINDOW"`
	}
	// envdecode only overwrites fields whose environment variable is set, so
	// zero-valuing the scratch struct and copying from cfg first lets it act
	// as a selective overlay.
	overrides.CardSynergyGroupCap = cfg.CardSynergyGroupCap
	overrides.CrossGroupSynergyBonus = cfg.CrossGroupSynergyBonus
	overrides.CrossGroupSynergyCap = cfg.CrossGroupSynergyCap
	overrides.MultiplierCeiling = cfg.MultiplierCeiling
	overrides.CriticalStickyFor = cfg.CriticalStickyFor
	overrides.SessionMaxDuration = cfg.SessionMaxDuration
	overrides.ClaimRetryBudget = cfg.ClaimRetryBudget
	overrides.NetworkSizeStaleness = cfg.NetworkSizeStaleness
	overrides.ReferralDepth = cfg.ReferralDepth
	overrides.QualityEMAWindowDays = cfg.QualityEMAWindowDays
	overrides.TierDemotionHysteresis = cfg.TierDemotionHysteresis
	overrides.ActivityDedupWindow = cfg.ActivityDedupWindow

	if err := envdecode.Decode(&overrides); err != nil && !strings.Contains(err.Error(), "none of the target fields were set") {
		return
	}

	cfg.CardSynergyGroupCap = overrides.CardSynergyGroupCap
	cfg.CrossGroupSynergyBonus = overrides.CrossGroupSynergyBonus
	cfg.CrossGroupSynergyCap = overrides.CrossGroupSynergyCap
	cfg.MultiplierCeiling = overrides.MultiplierCeiling
	cfg.CriticalStickyFor = overrides.CriticalStickyFor
	cfg.SessionMaxDuration = overrides.SessionMaxDuration
	cfg.ClaimRetryBudget = overrides.ClaimRetryBudget
	cfg.NetworkSizeStaleness = overrides.NetworkSizeStaleness
	cfg.ReferralDepth = overrides.ReferralDepth
	cfg.QualityEMAWindowDays = overrides.QualityEMAWindowDays
	cfg.TierDemotionHysteresis = overrides.TierDemotionHysteresis
	cfg.ActivityDedupWindow = overrides.ActivityDedupWindow
}
