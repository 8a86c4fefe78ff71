// Package session implements the mining session / claim state machine
// described in §4.7: Idle -> Active -> Claimable -> Settling ->
// Settled|Cancelled, with idempotency on open_session and
// request_claim and a bounded settlement retry budget.
package session

import (
	"time"

	svcerrors "github.com/finova-network/reward-engine/infrastructure/errors"
	"github.com/finova-network/reward-engine/infrastructure/resilience"
	"github.com/finova-network/reward-engine/internal/domain"
)

// settlementRetryConfig is the backoff schedule request_claim's internal
// retry-then-surface loop advances on each SettlementRetryable outcome.
var settlementRetryConfig = resilience.RetryConfig{
	MaxAttempts:  resilience.DefaultRetryConfig().MaxAttempts,
	InitialDelay: 1 * time.Second,
	MaxDelay:     30 * time.Second,
	Multiplier:   2.0,
	Jitter:       0.1,
}

// Open transitions Idle -> Active. idempotencyKey matching an existing
// session's key on a non-terminal or just-opened session returns that
// session unchanged rather than erroring, per the idempotency
// guarantee; callers detect that case by comparing the returned
// session's IdempotencyKey before calling Open (the orchestrator, which
// owns the idempotency-key index, is expected to short-circuit before
// reaching this function on a replay).
func Open(existing *domain.MiningSession, riskLevel domain.RiskLevel, userID, sessionID, idempotencyKey string, rate float64, now time.Time) (domain.MiningSession, error) {
	if existing != nil && existing.State == domain.SessionActive {
		return domain.MiningSession{}, svcerrors.AlreadyActive(existing.SessionID)
	}
	if riskLevel == domain.RiskCritical {
		return domain.MiningSession{}, svcerrors.Blocked("risk level is critical")
	}
	return domain.MiningSession{
		SessionID:      sessionID,
		UserID:         userID,
		State:          domain.SessionActive,
		OpenedAt:       now,
		RateSnapshot:   rate,
		IdempotencyKey: idempotencyKey,
		UpdatedAt:      now,
	}, nil
}

// Close transitions Active -> Claimable, either by explicit
// close_session or because elapsed time reached maxDuration. It
// computes the accrued amount under simple time-integration of the
// snapshotted rate (FIN/hour).
func Close(s domain.MiningSession, maxDuration time.Duration, now time.Time) (domain.MiningSession, error) {
	if s.State != domain.SessionActive {
		return domain.MiningSession{}, svcerrors.NotActive(s.SessionID)
	}
	elapsed := now.Sub(s.OpenedAt)
	if elapsed > maxDuration {
		elapsed = maxDuration
	}
	hours := elapsed.Hours()
	s.AccruedAmount = domain.FINFromFloat(s.RateSnapshot * hours)
	s.State = domain.SessionClaimable
	s.UpdatedAt = now
	return s, nil
}

// ElapsedBeyondMax reports whether an Active session has run past the
// server-enforced maximum and should be force-closed.
func ElapsedBeyondMax(s domain.MiningSession, maxDuration time.Duration, now time.Time) bool {
	return s.State == domain.SessionActive && now.Sub(s.OpenedAt) >= maxDuration
}

// RequestClaim transitions Claimable -> Settling, snapshotting the
// claim amount and minting a settlement/claim token for the external
// token authority. nextToken is supplied by the caller (typically a
// random/opaque ID generator) so this package stays free of any ID
// generation dependency.
func RequestClaim(s domain.MiningSession, idempotencyKey, nextToken string, now time.Time) (domain.MiningSession, error) {
	if s.State != domain.SessionClaimable {
		return domain.MiningSession{}, svcerrors.NotActive(s.SessionID)
	}
	s.State = domain.SessionSettling
	s.ClaimToken = nextToken
	s.ClaimIdempotencyKey = idempotencyKey
	s.UpdatedAt = now
	return s, nil
}

// SettlementOutcome is the external token authority's response to a
// settlement token.
type SettlementOutcome int

const (
	SettlementAcked SettlementOutcome = iota
	SettlementRetryable
	SettlementFatal
)

// Acknowledge applies the external settlement outcome for a Settling
// session:
//   - Acked -> Settled (liquid balance increases by AccruedAmount; the
//     caller is responsible for actually crediting the ledger).
//   - Retryable -> back to Claimable, as long as the retry budget
//     allows; once exhausted, treated as Fatal.
//   - Fatal -> Cancelled; the reserved accrual is discarded, and the
//     caller must also mark the day's cap as consumed to prevent abuse.
func Acknowledge(s domain.MiningSession, outcome SettlementOutcome, retryBudget int, now time.Time) (domain.MiningSession, error) {
	if s.State != domain.SessionSettling {
		return domain.MiningSession{}, svcerrors.NotActive(s.SessionID)
	}
	switch outcome {
	case SettlementAcked:
		s.State = domain.SessionSettled
		s.UpdatedAt = now
		return s, nil
	case SettlementRetryable:
		s.RetryCount++
		if s.RetryCount >= retryBudget {
			s.State = domain.SessionCancelled
			s.UpdatedAt = now
			return s, svcerrors.ClaimRetryExhausted(s.SessionID, s.RetryCount)
		}
		delay := settlementRetryConfig.InitialDelay
		for i := 1; i < s.RetryCount; i++ {
			delay = resilience.NextDelay(delay, settlementRetryConfig)
		}
		s.State = domain.SessionClaimable
		s.NextRetryAt = now.Add(delay)
		s.UpdatedAt = now
		return s, nil
	default: // SettlementFatal
		s.State = domain.SessionCancelled
		s.UpdatedAt = now
		return s, nil
	}
}

// IsTerminal reports whether a session has reached Settled or Cancelled.
func IsTerminal(s domain.MiningSession) bool {
	return s.State == domain.SessionSettled || s.State == domain.SessionCancelled
}
