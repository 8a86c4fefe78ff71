package risk

import (
	"testing"
	"time"

	"github.com/finova-network/reward-engine/internal/domain"
)

func TestDamping_AllLevels(t *testing.T) {
	cases := map[domain.RiskLevel]float64{
		domain.RiskLow:      1.0,
		domain.RiskMedium:   0.75,
		domain.RiskHigh:     0.25,
		domain.RiskCritical: 0.0,
	}
	for level, want := range cases {
		if got := Damping(level); got != want {
			t.Errorf("Damping(%v) = %v, want %v", level, got, want)
		}
	}
}

func TestRequiresReverification_MediumOnly(t *testing.T) {
	now := time.Unix(100_000, 0)
	if RequiresReverification(domain.RiskLow, time.Time{}, now) {
		t.Fatal("low risk should never require re-verification")
	}
	if !RequiresReverification(domain.RiskMedium, time.Time{}, now) {
		t.Fatal("medium risk with no prior verification should require one")
	}
	recent := now.Add(-1 * time.Hour)
	if RequiresReverification(domain.RiskMedium, recent, now) {
		t.Fatal("medium risk verified 1h ago should not yet require re-verification")
	}
	stale := now.Add(-25 * time.Hour)
	if !RequiresReverification(domain.RiskMedium, stale, now) {
		t.Fatal("medium risk verified 25h ago should require re-verification")
	}
}

func TestClaimsHeld_HighRiskUntilChecked(t *testing.T) {
	if !ClaimsHeld(domain.RiskHigh, false) {
		t.Fatal("high risk with no human-probability check should hold claims")
	}
	if ClaimsHeld(domain.RiskHigh, true) {
		t.Fatal("high risk with a passed check should release claims")
	}
	if ClaimsHeld(domain.RiskLow, false) {
		t.Fatal("low risk should never hold claims")
	}
}

func TestTransition_StickyCriticalWithinWindow(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	criticalSince := now.Add(-30 * time.Minute)
	got := Transition(domain.RiskCritical, criticalSince, domain.RiskLow, now)
	if got != domain.RiskCritical {
		t.Fatalf("Transition = %v, want sticky critical within the 1h window", got)
	}
}

func TestTransition_ReleasesCriticalAfterWindow(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	criticalSince := now.Add(-2 * time.Hour)
	got := Transition(domain.RiskCritical, criticalSince, domain.RiskLow, now)
	if got != domain.RiskLow {
		t.Fatalf("Transition = %v, want released to proposed level after the window elapses", got)
	}
}

func TestTransition_NonCriticalCurrentFollowsProposed(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	got := Transition(domain.RiskLow, time.Time{}, domain.RiskHigh, now)
	if got != domain.RiskHigh {
		t.Fatalf("Transition = %v, want immediate move to proposed level", got)
	}
}

func TestLevelFor_CleanSignalsAreLow(t *testing.T) {
	a := Assessment{HumanProbability: 0.95, DeviceFingerprintStable: true}
	if got := LevelFor(a); got != domain.RiskLow {
		t.Fatalf("LevelFor(clean) = %v, want low", got)
	}
}

func TestLevelFor_VeryLowHumanProbabilityIsCritical(t *testing.T) {
	a := Assessment{
		HumanProbability:        0.1,
		ClickVelocityAnomaly:    true,
		ContentDuplicationRatio: 0.9,
		DeviceFingerprintStable: false,
		ReferralClusteringScore: 0.9,
	}
	if got := LevelFor(a); got != domain.RiskCritical {
		t.Fatalf("LevelFor(all bad) = %v, want critical", got)
	}
}
