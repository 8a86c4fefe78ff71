package store

import (
	"context"
	"testing"
	"time"

	"github.com/finova-network/reward-engine/internal/domain"
)

func TestMemoryStore_UserRoundTrip(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	u := domain.User{UserID: "u1", CumulativeXP: 100}
	if err := ms.Put(ctx, u); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok, err := ms.Get(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v, %v", got, ok, err)
	}
	if got.CumulativeXP != 100 {
		t.Fatalf("CumulativeXP = %d, want 100", got.CumulativeXP)
	}
}

func TestMemoryStore_SessionActiveTracking(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	s := domain.MiningSession{SessionID: "s1", UserID: "u1", State: domain.SessionActive}
	if err := ms.PutSession(ctx, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok, err := ms.GetActive(ctx, "u1")
	if err != nil || !ok || got.SessionID != "s1" {
		t.Fatalf("GetActive = %+v, %v, %v", got, ok, err)
	}

	s.State = domain.SessionSettled
	if err := ms.PutSession(ctx, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, ok, _ = ms.GetActive(ctx, "u1")
	if ok {
		t.Fatal("expected no active session once settled")
	}
}

func TestMemoryStore_ReferralEdgesRejectsDuplicateAncestor(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	edges := []domain.ReferralEdge{{ReferrerID: "a", RefereeID: "b", Level: 1}}
	if err := ms.PutEdges(ctx, edges); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dup := []domain.ReferralEdge{{ReferrerID: "c", RefereeID: "b", Level: 1}}
	if err := ms.PutEdges(ctx, dup); err == nil {
		t.Fatal("expected conflict on duplicate inbound edge")
	}
	ref, ok, err := ms.AncestorOf(ctx, "b")
	if err != nil || !ok || ref != "a" {
		t.Fatalf("AncestorOf = %q, %v, %v; want a, true, nil", ref, ok, err)
	}
}

func TestMemoryStore_IncrementActivityEnforcesLimit(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	day := time.Unix(0, 0)
	for i := 0; i < 3; i++ {
		_, allowed, err := ms.IncrementActivity(ctx, "u1", domain.ActivityKindLike, day, 3)
		if err != nil || !allowed {
			t.Fatalf("attempt %d: allowed=%v err=%v", i, allowed, err)
		}
	}
	_, allowed, err := ms.IncrementActivity(ctx, "u1", domain.ActivityKindLike, day, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("4th activity should be rejected at limit 3")
	}
}

func TestMemoryStore_AddAccrualEnforcesCapAndConsumption(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	day := time.Unix(0, 0)
	cap := domain.FINFromFloat(1.0)

	total, allowed, err := ms.AddAccrual(ctx, "u1", day, domain.FINFromFloat(0.5), cap)
	if err != nil || !allowed {
		t.Fatalf("first accrual: allowed=%v err=%v", allowed, err)
	}
	if total != domain.FINFromFloat(0.5) {
		t.Fatalf("total = %v, want 0.5", total)
	}

	_, allowed, err = ms.AddAccrual(ctx, "u1", day, domain.FINFromFloat(0.6), cap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("accrual exceeding the daily cap should be rejected")
	}

	if err := ms.MarkCapConsumed(ctx, "u1", day); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, allowed, err = ms.AddAccrual(ctx, "u1", day, domain.FINFromFloat(0.01), cap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("accrual should stay rejected once the cap is marked consumed")
	}
}

func TestMemoryStore_CardEffectsUpsert(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	e := domain.CardEffect{ID: 1, UserID: "u1", CardType: "boost"}
	if err := ms.PutCardEffect(ctx, e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e.Multiplier = 2.0
	if err := ms.PutCardEffect(ctx, e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list, err := ms.ListCardEffects(ctx, "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 1 || list[0].Multiplier != 2.0 {
		t.Fatalf("list = %+v, want single upserted effect", list)
	}
}
