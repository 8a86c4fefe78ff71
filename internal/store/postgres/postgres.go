// Package postgres backs the engine's persistence ports with
// PostgreSQL via sqlx, grounded in the same lib/pq driver the
// migrations runner uses. Schema lives in internal/platform/migrations.
package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	svcerrors "github.com/finova-network/reward-engine/infrastructure/errors"
	"github.com/finova-network/reward-engine/internal/domain"
	"github.com/finova-network/reward-engine/internal/store"
)

// Store implements the store.Users, store.Sessions, store.ReferralEdges,
// store.CardEffects, and store.ActivityDedup ports against a single
// Postgres connection pool.
type Store struct {
	db *sqlx.DB
}

var (
	_ store.Users         = (*Store)(nil)
	_ store.Sessions      = (*Store)(nil)
	_ store.ReferralEdges = (*Store)(nil)
	_ store.CardEffects   = (*Store)(nil)
	_ store.ActivityDedup = (*Store)(nil)
)

// Open wraps an established *sql.DB (e.g. from platform/database.Open)
// in a sqlx handle.
func Open(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

type userRow struct {
	UserID            string       `db:"user_id"`
	WalletID          string       `db:"wallet_id"`
	KYCStatus         string       `db:"kyc_status"`
	KYCLevel          int          `db:"kyc_level"`
	CumulativeFIN     int64        `db:"cumulative_fin"`
	CumulativeXP      int64        `db:"cumulative_xp"`
	CumulativeRP      int64        `db:"cumulative_rp"`
	XPLevel           int          `db:"xp_level"`
	StreakDays        int          `db:"streak_days"`
	LastActiveDate    time.Time    `db:"last_active_date"`
	LastStreakDate    sql.NullTime `db:"last_streak_date"`
	QualityEMA        float64      `db:"quality_ema"`
	LiquidFIN         int64        `db:"liquid_fin"`
	StakedFIN         int64        `db:"staked_fin"`
	HumanProbability  float64      `db:"human_probability"`
	RiskLevel         string       `db:"risk_level"`
	RiskAssessedAt    time.Time    `db:"risk_assessed_at"`
	RiskCriticalSince time.Time    `db:"risk_critical_since"`
	DeviceFingerprint string       `db:"device_fingerprint"`
	LastClaimCursor   time.Time    `db:"last_claim_cursor"`
	CreatedAt         time.Time    `db:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at"`
}

func (r userRow) toDomain() domain.User {
	return domain.User{
		UserID:            r.UserID,
		WalletID:          r.WalletID,
		KYCStatus:         domain.KYCStatus(r.KYCStatus),
		KYCLevel:          r.KYCLevel,
		CumulativeFIN:     domain.FIN(r.CumulativeFIN),
		CumulativeXP:      r.CumulativeXP,
		CumulativeRP:      r.CumulativeRP,
		XPLevel:           r.XPLevel,
		StreakDays:        r.StreakDays,
		LastActiveDate:    r.LastActiveDate,
		LastStreakDate:    r.LastStreakDate.Time,
		QualityEMA:        r.QualityEMA,
		LiquidFIN:         domain.FIN(r.LiquidFIN),
		StakedFIN:         domain.FIN(r.StakedFIN),
		HumanProbability:  r.HumanProbability,
		RiskLevel:         domain.RiskLevel(r.RiskLevel),
		RiskAssessedAt:    r.RiskAssessedAt,
		RiskCriticalSince: r.RiskCriticalSince,
		DeviceFingerprint: r.DeviceFingerprint,
		LastClaimCursor:   r.LastClaimCursor,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// Get loads a user by ID, returning ok=false (not an error) when absent.
func (s *Store) Get(ctx context.Context, userID string) (domain.User, bool, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE user_id = $1`, userID)
	if err == sql.ErrNoRows {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, svcerrors.LedgerCorruption(userID, err)
	}
	return row.toDomain(), true, nil
}

// Put upserts a user aggregate.
func (s *Store) Put(ctx context.Context, u domain.User) error {
	var lastStreakDate sql.NullTime
	if !u.LastStreakDate.IsZero() {
		lastStreakDate = sql.NullTime{Time: u.LastStreakDate, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (
			user_id, wallet_id, kyc_status, kyc_level, cumulative_fin, cumulative_xp,
			cumulative_rp, xp_level, streak_days, last_active_date, last_streak_date, quality_ema,
			liquid_fin, staked_fin, human_probability, risk_level, risk_assessed_at, risk_critical_since,
			device_fingerprint, last_claim_cursor, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
		ON CONFLICT (user_id) DO UPDATE SET
			wallet_id = EXCLUDED.wallet_id,
			kyc_status = EXCLUDED.kyc_status,
			kyc_level = EXCLUDED.kyc_level,
			cumulative_fin = EXCLUDED.cumulative_fin,
			cumulative_xp = EXCLUDED.cumulative_xp,
			cumulative_rp = EXCLUDED.cumulative_rp,
			xp_level = EXCLUDED.xp_level,
			streak_days = EXCLUDED.streak_days,
			last_active_date = EXCLUDED.last_active_date,
			last_streak_date = EXCLUDED.last_streak_date,
			quality_ema = EXCLUDED.quality_ema,
			liquid_fin = EXCLUDED.liquid_fin,
			staked_fin = EXCLUDED.staked_fin,
			human_probability = EXCLUDED.human_probability,
			risk_level = EXCLUDED.risk_level,
			risk_assessed_at = EXCLUDED.risk_assessed_at,
			risk_critical_since = EXCLUDED.risk_critical_since,
			device_fingerprint = EXCLUDED.device_fingerprint,
			last_claim_cursor = EXCLUDED.last_claim_cursor,
			updated_at = EXCLUDED.updated_at`,
		u.UserID, u.WalletID, string(u.KYCStatus), u.KYCLevel, int64(u.CumulativeFIN), u.CumulativeXP,
		u.CumulativeRP, u.XPLevel, u.StreakDays, u.LastActiveDate, lastStreakDate, u.QualityEMA,
		int64(u.LiquidFIN), int64(u.StakedFIN),
		u.HumanProbability, string(u.RiskLevel), u.RiskAssessedAt, u.RiskCriticalSince,
		u.DeviceFingerprint, u.LastClaimCursor, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return svcerrors.LedgerCorruption(u.UserID, err)
	}
	return nil
}

// CheckAndRecordFingerprint upserts the fingerprint's last-seen time and
// reports whether it was already recorded within window.
func (s *Store) CheckAndRecordFingerprint(ctx context.Context, userID, fingerprint string, now time.Time, window time.Duration) (bool, error) {
	var lastSeen sql.NullTime
	err := s.db.GetContext(ctx, &lastSeen,
		`SELECT last_seen_at FROM activity_fingerprints WHERE user_id = $1 AND fingerprint = $2`,
		userID, fingerprint)
	if err != nil && err != sql.ErrNoRows {
		return false, svcerrors.LedgerCorruption(userID, err)
	}
	seenBefore := lastSeen.Valid && now.Sub(lastSeen.Time) < window

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity_fingerprints (user_id, fingerprint, last_seen_at) VALUES ($1,$2,$3)
		ON CONFLICT (user_id, fingerprint) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at`,
		userID, fingerprint, now)
	if err != nil {
		return false, svcerrors.LedgerCorruption(userID, err)
	}
	return seenBefore, nil
}

// AncestorOf resolves a user's referrer via the level-1 referral edge.
func (s *Store) AncestorOf(ctx context.Context, userID string) (string, bool, error) {
	var referrerID string
	err := s.db.GetContext(ctx, &referrerID,
		`SELECT referrer_id FROM referral_edges WHERE referee_id = $1 AND level = 1`, userID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, svcerrors.LedgerCorruption(userID, err)
	}
	return referrerID, true, nil
}

// PutEdges inserts the materialized referral edges inside one
// transaction, relying on a unique index on (referee_id, level=1) to
// enforce the tree-structure invariant under optimistic concurrency.
func (s *Store) PutEdges(ctx context.Context, edges []domain.ReferralEdge) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return svcerrors.LedgerCorruption("", err)
	}
	defer tx.Rollback()

	for _, e := range edges {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO referral_edges (referrer_id, referee_id, level, created_at) VALUES ($1,$2,$3,$4)`,
			e.ReferrerID, e.RefereeID, e.Level, e.CreatedAt)
		if err != nil {
			return svcerrors.RPCycle(e.ReferrerID, e.RefereeID)
		}
	}
	if err := tx.Commit(); err != nil {
		return svcerrors.LedgerCorruption("", err)
	}
	return nil
}

// RefereesOf returns every edge, at any level, with referrerID as the
// referrer.
func (s *Store) RefereesOf(ctx context.Context, referrerID string) ([]domain.ReferralEdge, error) {
	var rows []struct {
		ReferrerID string    `db:"referrer_id"`
		RefereeID  string    `db:"referee_id"`
		Level      int       `db:"level"`
		CreatedAt  time.Time `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT referrer_id, referee_id, level, created_at FROM referral_edges WHERE referrer_id = $1`, referrerID)
	if err != nil {
		return nil, svcerrors.LedgerCorruption(referrerID, err)
	}
	out := make([]domain.ReferralEdge, len(rows))
	for i, r := range rows {
		out[i] = domain.ReferralEdge{ReferrerID: r.ReferrerID, RefereeID: r.RefereeID, Level: r.Level, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

type sessionRow struct {
	SessionID           string         `db:"session_id"`
	UserID              string         `db:"user_id"`
	State               string         `db:"state"`
	OpenedAt            time.Time      `db:"opened_at"`
	RateSnapshot        float64        `db:"rate_snapshot"`
	AccruedAmount       int64          `db:"accrued_amount"`
	ClaimToken          sql.NullString `db:"claim_token"`
	IdempotencyKey      string         `db:"idempotency_key"`
	ClaimIdempotencyKey sql.NullString `db:"claim_idempotency_key"`
	NextRetryAt         sql.NullTime   `db:"next_retry_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (r sessionRow) toDomain() domain.MiningSession {
	return domain.MiningSession{
		SessionID:           r.SessionID,
		UserID:              r.UserID,
		State:               domain.SessionState(r.State),
		OpenedAt:            r.OpenedAt,
		RateSnapshot:        r.RateSnapshot,
		AccruedAmount:       domain.FIN(r.AccruedAmount),
		ClaimToken:          r.ClaimToken.String,
		IdempotencyKey:      r.IdempotencyKey,
		ClaimIdempotencyKey: r.ClaimIdempotencyKey.String,
		NextRetryAt:         r.NextRetryAt.Time,
		UpdatedAt:           r.UpdatedAt,
	}
}

// GetActive returns the user's current Active session, if any.
func (s *Store) GetActive(ctx context.Context, userID string) (domain.MiningSession, bool, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM mining_sessions WHERE user_id = $1 AND state = 'active' LIMIT 1`, userID)
	if err == sql.ErrNoRows {
		return domain.MiningSession{}, false, nil
	}
	if err != nil {
		return domain.MiningSession{}, false, svcerrors.LedgerCorruption(userID, err)
	}
	return row.toDomain(), true, nil
}

// GetSession loads a session by its ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.MiningSession, bool, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM mining_sessions WHERE session_id = $1`, sessionID)
	if err == sql.ErrNoRows {
		return domain.MiningSession{}, false, nil
	}
	if err != nil {
		return domain.MiningSession{}, false, svcerrors.LedgerCorruption(sessionID, err)
	}
	return row.toDomain(), true, nil
}

// PutSession upserts a session row.
func (s *Store) PutSession(ctx context.Context, ms domain.MiningSession) error {
	var claimToken sql.NullString
	if ms.ClaimToken != "" {
		claimToken = sql.NullString{String: ms.ClaimToken, Valid: true}
	}
	var claimIdem sql.NullString
	if ms.ClaimIdempotencyKey != "" {
		claimIdem = sql.NullString{String: ms.ClaimIdempotencyKey, Valid: true}
	}
	var nextRetryAt sql.NullTime
	if !ms.NextRetryAt.IsZero() {
		nextRetryAt = sql.NullTime{Time: ms.NextRetryAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mining_sessions (
			session_id, user_id, state, opened_at, rate_snapshot, accrued_amount,
			claim_token, idempotency_key, claim_idempotency_key, next_retry_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (session_id) DO UPDATE SET
			state = EXCLUDED.state,
			accrued_amount = EXCLUDED.accrued_amount,
			claim_token = EXCLUDED.claim_token,
			idempotency_key = EXCLUDED.idempotency_key,
			claim_idempotency_key = EXCLUDED.claim_idempotency_key,
			next_retry_at = EXCLUDED.next_retry_at,
			updated_at = EXCLUDED.updated_at`,
		ms.SessionID, ms.UserID, string(ms.State), ms.OpenedAt, ms.RateSnapshot, int64(ms.AccruedAmount),
		claimToken, ms.IdempotencyKey, claimIdem, nextRetryAt, ms.UpdatedAt,
	)
	if err != nil {
		return svcerrors.LedgerCorruption(ms.UserID, err)
	}
	return nil
}

// GetByIdempotencyKey resolves a prior open_session call by its
// idempotency key.
func (s *Store) GetByIdempotencyKey(ctx context.Context, userID, idempotencyKey string) (domain.MiningSession, bool, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM mining_sessions WHERE user_id = $1 AND idempotency_key = $2`, userID, idempotencyKey)
	if err == sql.ErrNoRows {
		return domain.MiningSession{}, false, nil
	}
	if err != nil {
		return domain.MiningSession{}, false, svcerrors.LedgerCorruption(userID, err)
	}
	return row.toDomain(), true, nil
}

type cardEffectRow struct {
	ID           int64          `db:"id"`
	UserID       string         `db:"user_id"`
	CardType     string         `db:"card_type"`
	EffectKind   string         `db:"effect_kind"`
	Multiplier   float64        `db:"multiplier"`
	SynergyGroup string         `db:"synergy_group"`
	Stackable    bool           `db:"stackable"`
	UsesLeft     sql.NullInt64  `db:"uses_left"`
	ExpiresAt    sql.NullTime   `db:"expires_at"`
	ActivatedAt  time.Time      `db:"activated_at"`
}

func (r cardEffectRow) toDomain() domain.CardEffect {
	e := domain.CardEffect{
		ID:           r.ID,
		UserID:       r.UserID,
		CardType:     r.CardType,
		EffectKind:   domain.CardEffectKind(r.EffectKind),
		Multiplier:   r.Multiplier,
		SynergyGroup: r.SynergyGroup,
		Stackable:    r.Stackable,
		ActivatedAt:  r.ActivatedAt,
	}
	if r.UsesLeft.Valid {
		e.UsesLeft = int(r.UsesLeft.Int64)
	}
	if r.ExpiresAt.Valid {
		e.ExpiresAt = r.ExpiresAt.Time
	}
	return e
}

// ListCardEffects returns every card effect recorded for a user,
// expired or not; callers filter with cards.Live/cards.Expired.
func (s *Store) ListCardEffects(ctx context.Context, userID string) ([]domain.CardEffect, error) {
	var rows []cardEffectRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM card_effects WHERE user_id = $1`, userID); err != nil {
		return nil, svcerrors.LedgerCorruption(userID, err)
	}
	out := make([]domain.CardEffect, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

// PutCardEffect inserts a new card-effect record, or updates an
// existing one's mutable fields (uses_left/expires_at) when ID is set.
func (s *Store) PutCardEffect(ctx context.Context, e domain.CardEffect) error {
	var usesLeft sql.NullInt64
	if e.UsesLeft != 0 {
		usesLeft = sql.NullInt64{Int64: int64(e.UsesLeft), Valid: true}
	}
	var expiresAt sql.NullTime
	if !e.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: e.ExpiresAt, Valid: true}
	}
	if e.ID == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO card_effects (
				user_id, card_type, effect_kind, multiplier, synergy_group, stackable,
				uses_left, expires_at, activated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			e.UserID, e.CardType, string(e.EffectKind), e.Multiplier, e.SynergyGroup, e.Stackable,
			usesLeft, expiresAt, e.ActivatedAt,
		)
		if err != nil {
			return svcerrors.LedgerCorruption(e.UserID, err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE card_effects SET uses_left = $1, expires_at = $2 WHERE id = $3`,
		usesLeft, expiresAt, e.ID)
	if err != nil {
		return svcerrors.LedgerCorruption(e.UserID, err)
	}
	return nil
}
