package mining

import (
	"math"
	"testing"

	"github.com/finova-network/reward-engine/internal/config"
	"github.com/finova-network/reward-engine/internal/domain"
)

func freshUserInput(totalUsers uint64, risk domain.RiskLevel, lifetimeMined float64) Input {
	return Input{
		NetworkCtx:       domain.NetworkContext{TotalUsers: totalUsers},
		ActiveReferrals:  0,
		KYCVerified:      true,
		RiskLevel:        risk,
		LifetimeMinedFIN: lifetimeMined,
		XPLevel:          1,
		RPTier:           domain.RPTierExplorer,
		StakedFIN:        0,
		ActiveCardFactor: 1.0,
		QualityEMA:       1.0,
	}
}

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestCompose_S1FinizenBaseAccrual(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	res, err := Compose(cfg, freshUserInput(10_000, domain.RiskLow, 0))
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !almostEqual(res.HourlyRate, 0.2388, 1e-9) {
		t.Fatalf("HourlyRate = %v, want 0.2388", res.HourlyRate)
	}
	if res.DailyCap != 0.5 {
		t.Fatalf("DailyCap = %v, want 0.5", res.DailyCap)
	}
}

func TestCompose_S2WhaleRegression(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	res, err := Compose(cfg, freshUserInput(10_000, domain.RiskLow, 1000))
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !almostEqual(res.RegressionFactor, 0.3679, 1e-4) {
		t.Fatalf("RegressionFactor = %v, want ~0.3679", res.RegressionFactor)
	}
	if !almostEqual(res.HourlyRate, 0.0878, 1e-3) {
		t.Fatalf("HourlyRate = %v, want ~0.0878", res.HourlyRate)
	}
}

func TestCompose_S3CriticalRiskForcesZero(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	res, err := Compose(cfg, freshUserInput(10_000, domain.RiskCritical, 0))
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if res.HourlyRate != 0 {
		t.Fatalf("HourlyRate = %v, want 0 under critical risk", res.HourlyRate)
	}
}

func TestPhaseFor_HalfOpenBoundary(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	if p := phaseFor(cfg, 99_999); p != domain.PhaseFinizen {
		t.Fatalf("phase(99999) = %v, want Finizen", p)
	}
	if p := phaseFor(cfg, 100_000); p != domain.PhaseGrowth {
		t.Fatalf("phase(100000) = %v, want Growth (half-open [lo,hi))", p)
	}
}

func TestWhaleRegression_ZeroYieldsOne(t *testing.T) {
	if f := whaleRegression(0); f != 1.0 {
		t.Fatalf("whaleRegression(0) = %v, want 1.0", f)
	}
	if f := whaleRegression(1_000_000); f <= 0 {
		t.Fatalf("whaleRegression(huge) = %v, must stay positive", f)
	}
}

func TestReferralFactor_CappedAt3_5(t *testing.T) {
	if f := referralFactor(100); f != 3.5 {
		t.Fatalf("referralFactor(100) = %v, want capped 3.5", f)
	}
}

func TestSecurityFactor_CriticalRiskCaps(t *testing.T) {
	if f := securityFactor(true, domain.RiskCritical); f != 0.25 {
		t.Fatalf("securityFactor(verified, critical) = %v, want 0.25", f)
	}
	if f := securityFactor(true, domain.RiskLow); f != 1.2 {
		t.Fatalf("securityFactor(verified, low) = %v, want 1.2", f)
	}
	if f := securityFactor(false, domain.RiskLow); f != 0.8 {
		t.Fatalf("securityFactor(unverified, low) = %v, want 0.8", f)
	}
}

func TestStakingFactor_Tiers(t *testing.T) {
	cases := []struct {
		staked float64
		want   float64
	}{
		{0, 1.0}, {99, 1.0}, {100, 1.2}, {500, 1.35}, {1000, 1.5}, {5000, 1.75}, {10000, 2.0}, {20000, 2.0},
	}
	for _, c := range cases {
		if f := stakingFactor(c.staked); f != c.want {
			t.Errorf("stakingFactor(%v) = %v, want %v", c.staked, f, c.want)
		}
	}
}

func TestXPLevelFactor_BandBoundaries(t *testing.T) {
	if f := xpLevelFactor(1); f != 1.0 {
		t.Errorf("xpLevelFactor(1) = %v, want 1.0 (Bronze I)", f)
	}
	if f := xpLevelFactor(10); f != 1.2 {
		t.Errorf("xpLevelFactor(10) = %v, want 1.2 (Bronze X)", f)
	}
	if f := xpLevelFactor(60); f != 5.0 {
		t.Errorf("xpLevelFactor(60) = %v, want 5.0 (Mythic X)", f)
	}
}

func TestTierCapFactor_RangeBounds(t *testing.T) {
	if f := tierCapFactor(1); f != 0.5 {
		t.Errorf("tierCapFactor(1) = %v, want 0.5", f)
	}
	if f := tierCapFactor(60); f != 15.0 {
		t.Errorf("tierCapFactor(60) = %v, want 15.0", f)
	}
}
