package cards

import (
	"testing"
	"time"

	"github.com/finova-network/reward-engine/internal/domain"
)

func TestActivate_RejectsUnknownCardType(t *testing.T) {
	_, err := Activate(Definition{}, nil, 5, "u1", 1, time.Now())
	if err == nil {
		t.Fatal("expected error for zero-value definition")
	}
}

func TestActivate_RejectsAtCap(t *testing.T) {
	now := time.Now()
	active := []domain.CardEffect{
		{ExpiresAt: now.Add(time.Hour)},
		{ExpiresAt: now.Add(time.Hour)},
	}
	def := Definition{CardType: "boost", EffectKind: domain.CardEffectMiningBoost, Multiplier: 1.5, Duration: time.Hour}
	_, err := Activate(def, active, 2, "u1", 3, now)
	if err == nil {
		t.Fatal("expected cap-reached error")
	}
}

func TestActivate_TimeBoundEffect(t *testing.T) {
	now := time.Unix(1000, 0)
	def := Definition{CardType: "boost", EffectKind: domain.CardEffectMiningBoost, Multiplier: 2.0, Duration: time.Hour}
	effect, err := Activate(def, nil, 5, "u1", 1, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if effect.ExpiresAt != now.Add(time.Hour) {
		t.Fatalf("ExpiresAt = %v, want %v", effect.ExpiresAt, now.Add(time.Hour))
	}
	if !effect.Active(now.Add(30 * time.Minute)) {
		t.Fatal("effect should be active before expiry")
	}
	if effect.Active(now.Add(2 * time.Hour)) {
		t.Fatal("effect should not be active after expiry")
	}
}

func TestActivate_UseCountBoundEffect(t *testing.T) {
	now := time.Unix(1000, 0)
	def := Definition{CardType: "shield", EffectKind: domain.CardEffectStreakShield, Uses: 3}
	effect, err := Activate(def, nil, 5, "u1", 1, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if effect.UsesLeft != 3 {
		t.Fatalf("UsesLeft = %d, want 3", effect.UsesLeft)
	}
	effect = ConsumeUse(effect)
	effect = ConsumeUse(effect)
	effect = ConsumeUse(effect)
	if effect.Active(now) {
		t.Fatal("effect should be inactive once uses are exhausted")
	}
}

func TestLiveAndExpired_Partition(t *testing.T) {
	now := time.Unix(1000, 0)
	effects := []domain.CardEffect{
		{CardType: "a", ExpiresAt: now.Add(time.Hour)},
		{CardType: "b", ExpiresAt: now.Add(-time.Hour)},
	}
	live := Live(effects, now)
	expired := Expired(effects, now)
	if len(live) != 1 || live[0].CardType != "a" {
		t.Fatalf("Live = %+v", live)
	}
	if len(expired) != 1 || expired[0].CardType != "b" {
		t.Fatalf("Expired = %+v", expired)
	}
}

func TestConsumeUse_IgnoresTimeBoundEffects(t *testing.T) {
	now := time.Unix(1000, 0)
	e := domain.CardEffect{ExpiresAt: now.Add(time.Hour), UsesLeft: 0}
	got := ConsumeUse(e)
	if got.UsesLeft != 0 {
		t.Fatalf("UsesLeft = %d, want unaffected 0 for a time-bound effect", got.UsesLeft)
	}
}
