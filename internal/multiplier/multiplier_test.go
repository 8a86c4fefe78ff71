package multiplier

import (
	"testing"
	"time"

	"github.com/finova-network/reward-engine/internal/domain"
)

func TestCompose_SameGroupMultipliesAndCaps(t *testing.T) {
	effects := []domain.CardEffect{
		{EffectKind: domain.CardEffectMiningBoost, SynergyGroup: "booster", Multiplier: 3.0, Stackable: true},
		{EffectKind: domain.CardEffectMiningBoost, SynergyGroup: "booster", Multiplier: 3.0, Stackable: true},
	}
	res := Compose(effects, 1.0)
	if res.GroupProducts["booster"] != GroupCeiling {
		t.Fatalf("group product = %v, want capped at %v", res.GroupProducts["booster"], GroupCeiling)
	}
}

func TestCompose_CrossGroupBonusCapped(t *testing.T) {
	effects := []domain.CardEffect{
		{EffectKind: domain.CardEffectMiningBoost, SynergyGroup: "a", Multiplier: 1.1, Stackable: true},
		{EffectKind: domain.CardEffectMiningBoost, SynergyGroup: "b", Multiplier: 1.1, Stackable: true},
		{EffectKind: domain.CardEffectMiningBoost, SynergyGroup: "c", Multiplier: 1.1, Stackable: true},
		{EffectKind: domain.CardEffectMiningBoost, SynergyGroup: "d", Multiplier: 1.1, Stackable: true},
		{EffectKind: domain.CardEffectMiningBoost, SynergyGroup: "e", Multiplier: 1.1, Stackable: true},
	}
	res := Compose(effects, 1.0)
	if res.CrossGroupBonus != CrossGroupBonusCeiling {
		t.Fatalf("cross-group bonus = %v, want capped at %v", res.CrossGroupBonus, CrossGroupBonusCeiling)
	}
}

func TestCompose_NoCardsIsIdentity(t *testing.T) {
	res := Compose(nil, 1.25)
	if res.Effective != 1.25 {
		t.Fatalf("Effective = %v, want 1.25 (pass-through quality factor, no cards)", res.Effective)
	}
	if res.Clamped {
		t.Fatal("should not be clamped with no cards active")
	}
}

func TestCompose_QualityOverrideReplacesBaseFactor(t *testing.T) {
	effects := []domain.CardEffect{
		{EffectKind: domain.CardEffectQualityOverride, Multiplier: 2.0},
	}
	res := Compose(effects, 0.5)
	if res.Raw != 2.0 {
		t.Fatalf("Raw = %v, want quality override value 2.0 to replace base factor 0.5", res.Raw)
	}
}

func TestCompose_GlobalCeilingClampsAndFlags(t *testing.T) {
	effects := []domain.CardEffect{
		{EffectKind: domain.CardEffectMiningBoost, SynergyGroup: "a", Multiplier: 5.0, Stackable: true},
		{EffectKind: domain.CardEffectMiningBoost, SynergyGroup: "b", Multiplier: 5.0, Stackable: true},
		{EffectKind: domain.CardEffectMiningBoost, SynergyGroup: "c", Multiplier: 5.0, Stackable: true},
	}
	res := Compose(effects, 2.0)
	if res.Effective != GlobalCeiling {
		t.Fatalf("Effective = %v, want clamped to %v", res.Effective, GlobalCeiling)
	}
	if !res.Clamped {
		t.Fatal("expected Clamped = true when raw exceeds global ceiling")
	}
	if res.Raw <= GlobalCeiling {
		t.Fatalf("Raw = %v, want a value exceeding the ceiling to exercise the clamp", res.Raw)
	}
}

func TestCompose_NonStackableTakesBestSingle(t *testing.T) {
	effects := []domain.CardEffect{
		{EffectKind: domain.CardEffectMiningBoost, SynergyGroup: "a", Multiplier: 2.0, Stackable: false},
		{EffectKind: domain.CardEffectMiningBoost, SynergyGroup: "a", Multiplier: 3.0, Stackable: false},
	}
	res := Compose(effects, 1.0)
	if res.GroupProducts["a"] != 3.0 {
		t.Fatalf("group product = %v, want best single non-stackable multiplier 3.0", res.GroupProducts["a"])
	}
}

func TestActiveEffects_FiltersExpired(t *testing.T) {
	now := mustParse(t, "2026-01-01T00:00:00Z")
	effects := []domain.CardEffect{
		{CardType: "expired", ExpiresAt: mustParse(t, "2025-12-31T00:00:00Z")},
		{CardType: "live", ExpiresAt: mustParse(t, "2026-06-01T00:00:00Z")},
	}
	active := ActiveEffects(effects, now)
	if len(active) != 1 || active[0].CardType != "live" {
		t.Fatalf("ActiveEffects = %+v, want only the unexpired effect", active)
	}
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return parsed
}
