// Package store defines the persistence ports the engine orchestrator
// depends on, plus an in-memory implementation for tests and local
// development. Production wiring uses store/postgres for durable state
// and store/cache for the read-mostly network-size counter, per §5's
// shared-resources section.
package store

import (
	"context"
	"sync"
	"time"

	svcerrors "github.com/finova-network/reward-engine/infrastructure/errors"
	"github.com/finova-network/reward-engine/internal/domain"
)

// Users is the user-aggregate persistence port.
type Users interface {
	Get(ctx context.Context, userID string) (domain.User, bool, error)
	Put(ctx context.Context, u domain.User) error
}

// Sessions is the mining-session persistence port.
type Sessions interface {
	GetActive(ctx context.Context, userID string) (domain.MiningSession, bool, error)
	GetSession(ctx context.Context, sessionID string) (domain.MiningSession, bool, error)
	PutSession(ctx context.Context, s domain.MiningSession) error
	// GetByIdempotencyKey resolves a prior open_session call by its
	// idempotency key, letting the engine short-circuit a replay before
	// it reaches session.Open, per §4.7's idempotency invariant.
	GetByIdempotencyKey(ctx context.Context, userID, idempotencyKey string) (domain.MiningSession, bool, error)
}

// ReferralEdges is the referral-graph persistence port. Writes use
// optimistic concurrency per §5: PutEdges only succeeds if refereeID
// has no existing inbound edge, matching the tree-structure invariant.
type ReferralEdges interface {
	AncestorOf(ctx context.Context, userID string) (referrerID string, ok bool, err error)
	PutEdges(ctx context.Context, edges []domain.ReferralEdge) error
	// RefereesOf returns every edge (any level) with referrerID as the
	// referrer, feeding the RP graph's direct/network point computation.
	RefereesOf(ctx context.Context, referrerID string) ([]domain.ReferralEdge, error)
}

// ActivityDedup enforces the 24h content-fingerprint dedup window from
// §4.3: CheckAndRecordFingerprint atomically tests-and-sets so a
// concurrent duplicate submission can't slip through between the check
// and the record.
type ActivityDedup interface {
	CheckAndRecordFingerprint(ctx context.Context, userID, fingerprint string, now time.Time, window time.Duration) (seenBefore bool, err error)
}

// CardEffects is the per-user active-card-list persistence port.
type CardEffects interface {
	ListCardEffects(ctx context.Context, userID string) ([]domain.CardEffect, error)
	PutCardEffect(ctx context.Context, effect domain.CardEffect) error
}

// DailyCounters tracks per-(user, kind, day) accepted-event counts for
// the XP daily-limit check, and per-user daily FIN accrual for the
// mining daily cap. Rollover is computed lazily on access, per §5.
type DailyCounters interface {
	IncrementActivity(ctx context.Context, userID string, kind domain.ActivityKind, day time.Time, limit int) (count int, allowed bool, err error)
	AddAccrual(ctx context.Context, userID string, day time.Time, amount domain.FIN, capFIN domain.FIN) (total domain.FIN, allowed bool, err error)
	MarkCapConsumed(ctx context.Context, userID string, day time.Time) error
}

// MemoryStore bundles in-memory implementations of every port above,
// suitable for unit tests and local development without Postgres.
type MemoryStore struct {
	mu              sync.Mutex
	users           map[string]domain.User
	sessions        map[string]domain.MiningSession
	activeByUser    map[string]string              // userID -> sessionID
	idemByUser      map[string]string               // userID|idempotencyKey -> sessionID
	ancestors       map[string]string              // userID -> referrerID (level 1 only)
	edgesByReferrer map[string][]domain.ReferralEdge // referrerID -> edges at any level
	cardEffects     map[string][]domain.CardEffect
	activityCount   map[string]int
	dailyAccrual    map[string]domain.FIN
	capConsumed     map[string]bool
	fingerprints    map[string]time.Time // userID|fingerprint -> last-seen time
}

var (
	_ Users         = (*MemoryStore)(nil)
	_ Sessions      = (*MemoryStore)(nil)
	_ ReferralEdges = (*MemoryStore)(nil)
	_ CardEffects   = (*MemoryStore)(nil)
	_ DailyCounters = (*MemoryStore)(nil)
	_ ActivityDedup = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty MemoryStore implementing Users,
// Sessions, ReferralEdges, CardEffects, DailyCounters, and ActivityDedup.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:           make(map[string]domain.User),
		sessions:        make(map[string]domain.MiningSession),
		activeByUser:    make(map[string]string),
		idemByUser:      make(map[string]string),
		ancestors:       make(map[string]string),
		edgesByReferrer: make(map[string][]domain.ReferralEdge),
		cardEffects:     make(map[string][]domain.CardEffect),
		activityCount:   make(map[string]int),
		dailyAccrual:    make(map[string]domain.FIN),
		capConsumed:     make(map[string]bool),
		fingerprints:    make(map[string]time.Time),
	}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (domain.User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	return u, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UserID] = u
	return nil
}

func (m *MemoryStore) GetActive(_ context.Context, userID string) (domain.MiningSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sid, ok := m.activeByUser[userID]
	if !ok {
		return domain.MiningSession{}, false, nil
	}
	s, ok := m.sessions[sid]
	return s, ok, nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (domain.MiningSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok, nil
}

func (m *MemoryStore) PutSession(_ context.Context, s domain.MiningSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = s
	if s.State == domain.SessionActive {
		m.activeByUser[s.UserID] = s.SessionID
	} else if m.activeByUser[s.UserID] == s.SessionID {
		delete(m.activeByUser, s.UserID)
	}
	if s.IdempotencyKey != "" {
		m.idemByUser[s.UserID+"|"+s.IdempotencyKey] = s.SessionID
	}
	return nil
}

// GetByIdempotencyKey resolves the session a prior open_session call
// with this idempotency key created, if any.
func (m *MemoryStore) GetByIdempotencyKey(_ context.Context, userID, idempotencyKey string) (domain.MiningSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sid, ok := m.idemByUser[userID+"|"+idempotencyKey]
	if !ok {
		return domain.MiningSession{}, false, nil
	}
	s, ok := m.sessions[sid]
	return s, ok, nil
}

func (m *MemoryStore) AncestorOf(_ context.Context, userID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ancestors[userID]
	return r, ok, nil
}

func (m *MemoryStore) PutEdges(_ context.Context, edges []domain.ReferralEdge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range edges {
		if e.Level == 1 {
			if _, exists := m.ancestors[e.RefereeID]; exists {
				return svcerrors.New(svcerrors.ErrCodeConflict, "referee already has a referrer", 409)
			}
			m.ancestors[e.RefereeID] = e.ReferrerID
		}
		m.edgesByReferrer[e.ReferrerID] = append(m.edgesByReferrer[e.ReferrerID], e)
	}
	return nil
}

// RefereesOf returns every edge, at any level, with referrerID as the
// referrer.
func (m *MemoryStore) RefereesOf(_ context.Context, referrerID string) ([]domain.ReferralEdge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ReferralEdge(nil), m.edgesByReferrer[referrerID]...), nil
}

func (m *MemoryStore) ListCardEffects(_ context.Context, userID string) ([]domain.CardEffect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.CardEffect(nil), m.cardEffects[userID]...), nil
}

func (m *MemoryStore) PutCardEffect(_ context.Context, effect domain.CardEffect) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.cardEffects[effect.UserID]
	for i, e := range list {
		if e.ID == effect.ID {
			list[i] = effect
			m.cardEffects[effect.UserID] = list
			return nil
		}
	}
	m.cardEffects[effect.UserID] = append(list, effect)
	return nil
}

func dayKey(userID string, kind domain.ActivityKind, day time.Time) string {
	return userID + "|" + string(kind) + "|" + day.Format("2006-01-02")
}

func (m *MemoryStore) IncrementActivity(_ context.Context, userID string, kind domain.ActivityKind, day time.Time, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dayKey(userID, kind, day)
	count := m.activityCount[key]
	if count >= limit {
		return count, false, nil
	}
	count++
	m.activityCount[key] = count
	return count, true, nil
}

func accrualKey(userID string, day time.Time) string {
	return userID + "|" + day.Format("2006-01-02")
}

func (m *MemoryStore) AddAccrual(_ context.Context, userID string, day time.Time, amount, capFIN domain.FIN) (domain.FIN, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := accrualKey(userID, day)
	if m.capConsumed[key] {
		return m.dailyAccrual[key], false, nil
	}
	total := m.dailyAccrual[key] + amount
	if total > capFIN {
		return m.dailyAccrual[key], false, nil
	}
	m.dailyAccrual[key] = total
	return total, true, nil
}

func (m *MemoryStore) MarkCapConsumed(_ context.Context, userID string, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capConsumed[accrualKey(userID, day)] = true
	return nil
}

// CheckAndRecordFingerprint reports whether userID already submitted
// this content fingerprint within window, and records the current
// submission for future checks regardless of the outcome.
func (m *MemoryStore) CheckAndRecordFingerprint(_ context.Context, userID, fingerprint string, now time.Time, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "|" + fingerprint
	last, ok := m.fingerprints[key]
	seenBefore := ok && now.Sub(last) < window
	m.fingerprints[key] = now
	return seenBefore, nil
}
