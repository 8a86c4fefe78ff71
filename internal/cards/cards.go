// Package cards implements card-effect activation, expiration, and the
// per-user active-card bound described in §4.8. Stacking composition
// itself lives in the multiplier package, per §4.5; this package only
// owns the lifecycle of a CardEffect record.
package cards

import (
	"time"

	svcerrors "github.com/finova-network/reward-engine/infrastructure/errors"
	"github.com/finova-network/reward-engine/internal/domain"
)

// Definition is a card's static configuration, looked up by CardType
// when a user activates it.
type Definition struct {
	CardType     string
	EffectKind   domain.CardEffectKind
	Multiplier   float64
	SynergyGroup string
	Stackable    bool
	Duration     time.Duration // zero means use-count based instead
	Uses         int           // consumed uses when Duration is zero
}

// Activate consumes one card unit and produces a new effect record. It
// rejects when the user is already at the configured max active cards,
// or when def is the zero value (meaning the card type was Unknown to
// the caller's lookup).
func Activate(def Definition, active []domain.CardEffect, maxActiveCards int, userID string, effectID int64, now time.Time) (domain.CardEffect, error) {
	if def.CardType == "" {
		return domain.CardEffect{}, svcerrors.UnknownCard(def.CardType)
	}
	live := Live(active, now)
	if len(live) >= maxActiveCards {
		return domain.CardEffect{}, svcerrors.CapReached(def.CardType).
			WithDetails("user_id", userID).
			WithDetails("max_active_cards", maxActiveCards)
	}

	effect := domain.CardEffect{
		ID:           effectID,
		UserID:       userID,
		CardType:     def.CardType,
		EffectKind:   def.EffectKind,
		Multiplier:   def.Multiplier,
		SynergyGroup: def.SynergyGroup,
		Stackable:    def.Stackable,
		ActivatedAt:  now,
	}
	if def.Duration > 0 {
		effect.ExpiresAt = now.Add(def.Duration)
		effect.UsesLeft = 0
	} else {
		effect.UsesLeft = def.Uses
	}
	return effect, nil
}

// Live filters effects to those still in force at t.
func Live(effects []domain.CardEffect, t time.Time) []domain.CardEffect {
	live := make([]domain.CardEffect, 0, len(effects))
	for _, e := range effects {
		if e.Active(t) {
			live = append(live, e)
		}
	}
	return live
}

// Expired filters effects to those no longer in force at t, the set a
// sweeper should emit CardExpired journal entries for.
func Expired(effects []domain.CardEffect, t time.Time) []domain.CardEffect {
	expired := make([]domain.CardEffect, 0)
	for _, e := range effects {
		if !e.Active(t) {
			expired = append(expired, e)
		}
	}
	return expired
}

// ConsumeUse decrements a use-count-bound effect's remaining uses by
// one, e.g. after it contributes to one activity event's XP boost. A
// time-bound effect (UsesLeft already 0 with a non-zero ExpiresAt) is
// unaffected.
func ConsumeUse(e domain.CardEffect) domain.CardEffect {
	if !e.ExpiresAt.IsZero() {
		return e
	}
	if e.UsesLeft > 0 {
		e.UsesLeft--
	}
	return e
}
