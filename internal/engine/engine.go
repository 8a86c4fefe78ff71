// Package engine orchestrates the reward engine's commands against the
// per-user single-writer serialization region described in §5: a
// command for user X is routed to X's shard lock, computations inside
// it run sequentially, and different users proceed in parallel.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	svcerrors "github.com/finova-network/reward-engine/infrastructure/errors"
	"github.com/finova-network/reward-engine/infrastructure/logging"
	"github.com/finova-network/reward-engine/infrastructure/resilience"
	"github.com/finova-network/reward-engine/internal/cards"
	"github.com/finova-network/reward-engine/internal/config"
	"github.com/finova-network/reward-engine/internal/domain"
	"github.com/finova-network/reward-engine/internal/journal"
	"github.com/finova-network/reward-engine/internal/mining"
	"github.com/finova-network/reward-engine/internal/multiplier"
	"github.com/finova-network/reward-engine/internal/risk"
	"github.com/finova-network/reward-engine/internal/rp"
	"github.com/finova-network/reward-engine/internal/session"
	"github.com/finova-network/reward-engine/internal/store"
	"github.com/finova-network/reward-engine/internal/xp"
)

// NetworkContextProvider supplies the lazily-refreshed, bounded-staleness
// network-wide counters the mining formula depends on. It is the only
// suspension point pure rate composition is allowed to cross, per §5.
type NetworkContextProvider func(ctx context.Context) (domain.NetworkContext, error)

// Engine wires every pure formula package to the persistence ports and
// the per-user serialization region.
type Engine struct {
	cfg     config.EngineConfig
	users   store.Users
	sess    store.Sessions
	edges   store.ReferralEdges
	cardsDB store.CardEffects
	daily   store.DailyCounters
	dedup   store.ActivityDedup
	jrn     journal.Appender
	netCtx  NetworkContextProvider
	cardDef map[string]cards.Definition
	secret  []byte
	log     *logging.Logger

	// settlementBreaker trips on repeated settlement-acknowledgement
	// failures, so a struggling external token authority fails fast
	// (RateUnavailable) instead of every caller paying the full retry
	// cost of a dependency that is already down.
	settlementBreaker *resilience.CircuitBreaker

	shardsMu sync.Mutex
	shards   map[string]*sync.Mutex
}

// New constructs an Engine. secret is the HKDF master key for
// settlement-token derivation; cardDefs maps card type to its static
// Definition (e.g. loaded from a JSON catalog via gjson/jsonpath).
func New(
	cfg config.EngineConfig,
	users store.Users,
	sess store.Sessions,
	edges store.ReferralEdges,
	cardsDB store.CardEffects,
	daily store.DailyCounters,
	dedup store.ActivityDedup,
	jrn journal.Appender,
	netCtx NetworkContextProvider,
	cardDefs map[string]cards.Definition,
	secret []byte,
	log *logging.Logger,
) *Engine {
	return &Engine{
		cfg: cfg, users: users, sess: sess, edges: edges, cardsDB: cardsDB, daily: daily, dedup: dedup,
		jrn: jrn, netCtx: netCtx, cardDef: cardDefs, secret: secret, log: log,
		settlementBreaker: resilience.New(resilience.DefaultConfig()),
		shards:            make(map[string]*sync.Mutex),
	}
}

// SettlementBreaker exposes the settlement-acknowledgement circuit
// breaker's state for diagnostics (e.g. the admin host-stats endpoint).
func (e *Engine) SettlementBreaker() *resilience.CircuitBreaker {
	return e.settlementBreaker
}

// lockFor returns the single-writer mutex for a user id, creating it on
// first use. Never removed: the shard map grows with the active user
// population, matching the "worker shard or per-user lock" description.
func (e *Engine) lockFor(userID string) *sync.Mutex {
	e.shardsMu.Lock()
	defer e.shardsMu.Unlock()
	m, ok := e.shards[userID]
	if !ok {
		m = &sync.Mutex{}
		e.shards[userID] = m
	}
	return m
}

// withUser runs fn with userID's shard held, matching the non-suspending
// constraint on pure computation by keeping all external I/O (store
// reads/writes, journal append) inside the same critical section the
// spec already treats as serializable per user.
func (e *Engine) withUser(userID string, fn func() error) error {
	lock := e.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// CreateUser creates a new user aggregate, optionally materializing
// referral edges when a referral code (the referrer's user id) is given.
func (e *Engine) CreateUser(ctx context.Context, userID string, referrerID string, kyc domain.KYCStatus, now time.Time) error {
	referred := false
	err := e.withUser(userID, func() error {
		if _, ok, err := e.users.Get(ctx, userID); err != nil {
			return err
		} else if ok {
			return svcerrors.New(svcerrors.ErrCodeAlreadyExists, "user already exists", 409)
		}
		u := domain.User{
			UserID:         userID,
			KYCStatus:      kyc,
			LastActiveDate: now,
			QualityEMA:     1.0,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if referrerID != "" {
			if referrerID == userID {
				return svcerrors.SelfReferral(userID)
			}
			if _, ok, err := e.users.Get(ctx, referrerID); err != nil {
				return err
			} else if !ok {
				return svcerrors.InvalidReferral("referrer does not exist")
			}
			if rp.WouldCreateCycle(e.ancestorLookup(ctx), referrerID, userID, e.cfg.ReferralDepth) {
				return svcerrors.RPCycle(referrerID, userID)
			}
			edges := rp.MaterializeEdges(e.ancestorLookup(ctx), referrerID, userID, now)
			if err := e.edges.PutEdges(ctx, edges); err != nil {
				return err
			}
			if _, err := e.jrn.Append(journal.NewEntry(userID, domain.JournalReferralRegistered, "", map[string]interface{}{
				"referrer_id": referrerID,
			}, now)); err != nil {
				return err
			}
			referred = true
		}
		return e.users.Put(ctx, u)
	})
	if err != nil || !referred {
		return err
	}
	return e.recomputeAncestorRP(ctx, userID, now)
}

// recomputeAncestorRP walks userID's ancestor chain and recomputes each
// ancestor's cumulative RP, each under that ancestor's own shard lock.
// Every ancestor's RP depends only on its own materialized edges (which
// already point at userID at the correct level), so no further
// cascading up the chain is needed.
func (e *Engine) recomputeAncestorRP(ctx context.Context, userID string, now time.Time) error {
	for _, ancestorID := range e.collectAncestors(ctx, userID, e.cfg.ReferralDepth) {
		err := e.withUser(ancestorID, func() error {
			return e.recomputeRP(ctx, ancestorID, now)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// collectAncestors walks up to maxDepth inbound referral edges above
// userID, nearest first.
func (e *Engine) collectAncestors(ctx context.Context, userID string, maxDepth int) []string {
	var out []string
	cur := userID
	for i := 0; i < maxDepth; i++ {
		parent, ok, err := e.edges.AncestorOf(ctx, cur)
		if err != nil || !ok {
			break
		}
		out = append(out, parent)
		cur = parent
	}
	return out
}

// recomputeRP re-derives ancestorID's cumulative RP from its
// currently-materialized referee edges at every level, per §4.4's RP
// formula. Callers must already hold ancestorID's shard lock.
func (e *Engine) recomputeRP(ctx context.Context, ancestorID string, now time.Time) error {
	edges, err := e.edges.RefereesOf(ctx, ancestorID)
	if err != nil {
		return err
	}

	var direct, level2, level3 []rp.Referee
	var totalReferees, activeReferees, retained30d, levelSum int
	for _, edge := range edges {
		referee, ok, err := e.users.Get(ctx, edge.RefereeID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		daysSince := now.Sub(referee.LastActiveDate).Hours() / 24
		qema := referee.QualityEMA
		if qema == 0 {
			qema = 1.0
		}
		r := rp.Referee{UserID: referee.UserID, XP: referee.CumulativeXP, DaysSinceActive: daysSince, QualityEMA: qema}
		switch edge.Level {
		case 1:
			direct = append(direct, r)
		case 2:
			level2 = append(level2, r)
		case 3:
			level3 = append(level3, r)
		default:
			continue
		}
		totalReferees++
		levelSum += referee.XPLevel
		if daysSince <= 7 {
			activeReferees++
		}
		if daysSince <= 30 {
			retained30d++
		}
	}

	retention30d := 1.0
	var avgLevel float64
	if totalReferees > 0 {
		avgLevel = float64(levelSum) / float64(totalReferees)
		retention30d = float64(retained30d) / float64(totalReferees)
	}

	directRP := rp.DirectRP(direct)
	networkRP := rp.NetworkRP(level2, level3)
	qualityBonus := rp.QualityBonus(totalReferees, activeReferees, avgLevel, retention30d)
	regression := rp.NetworkRegression(uint64(totalReferees), qualityBonus)
	total := rp.Total(directRP, networkRP, qualityBonus, regression)

	u, ok, err := e.users.Get(ctx, ancestorID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	rawTier := rp.RawTierFor(total)
	if rawTier >= u.RPTierCurrent {
		u.RPBelowFloorSince = time.Time{}
	} else if u.RPBelowFloorSince.IsZero() {
		u.RPBelowFloorSince = now
	}
	effectiveTier := rp.EffectiveTier(u.RPTierCurrent, rawTier, u.RPBelowFloorSince, now, e.cfg.TierDemotionHysteresis)
	tierChanged := effectiveTier != u.RPTierCurrent

	if total == u.CumulativeRP && !tierChanged {
		return nil
	}
	u.CumulativeRP = total
	u.RPTierCurrent = effectiveTier
	u.UpdatedAt = now
	if err := e.users.Put(ctx, u); err != nil {
		return err
	}
	_, err = e.jrn.Append(journal.NewEntry(ancestorID, domain.JournalRPUpdated, "", map[string]interface{}{
		"cumulative_rp": total,
		"rp_tier":       effectiveTier.String(),
	}, now))
	return err
}

func (e *Engine) ancestorLookup(ctx context.Context) rp.AncestorLookup {
	return func(userID string) (string, bool) {
		referrerID, ok, err := e.edges.AncestorOf(ctx, userID)
		if err != nil {
			return "", false
		}
		return referrerID, ok
	}
}

// RegisterReferral links refereeID under referrerID after both the
// cycle guard and the "already referred" invariant pass.
func (e *Engine) RegisterReferral(ctx context.Context, referrerID, refereeID string, now time.Time) error {
	err := e.withUser(refereeID, func() error {
		if referrerID == refereeID {
			return svcerrors.RPCycle(referrerID, refereeID)
		}
		if _, ok, err := e.edges.AncestorOf(ctx, refereeID); err != nil {
			return err
		} else if ok {
			return svcerrors.New(svcerrors.ErrCodeConflict, "referee already has a referrer", 409)
		}
		if rp.WouldCreateCycle(e.ancestorLookup(ctx), referrerID, refereeID, e.cfg.ReferralDepth) {
			return svcerrors.RPCycle(referrerID, refereeID)
		}
		edges := rp.MaterializeEdges(e.ancestorLookup(ctx), referrerID, refereeID, now)
		if err := e.edges.PutEdges(ctx, edges); err != nil {
			return err
		}
		_, err := e.jrn.Append(journal.NewEntry(refereeID, domain.JournalReferralRegistered, "", map[string]interface{}{
			"referrer_id": referrerID,
		}, now))
		return err
	})
	if err != nil {
		return err
	}
	return e.recomputeAncestorRP(ctx, refereeID, now)
}

// SubmitActivity runs one ActivityEvent through the XP pipeline,
// enforcing content-fingerprint dedup and the high-risk re-verification
// hold (§4.3) ahead of the per-(user, kind, day) daily limit, and rolls
// the activity's streak and quality-EMA effects into the user record
// before crediting XP.
func (e *Engine) SubmitActivity(ctx context.Context, ev domain.ActivityEvent, platformMultiplier float64) (int64, error) {
	var gained int64
	var recompute bool
	err := e.withUser(ev.UserID, func() error {
		u, ok, err := e.users.Get(ctx, ev.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return svcerrors.New(svcerrors.ErrCodeNotFound, "unknown user", 404)
		}

		if ev.ContentFingerprint != "" && e.dedup != nil {
			seenBefore, err := e.dedup.CheckAndRecordFingerprint(ctx, ev.UserID, ev.ContentFingerprint, ev.OccurredAt, e.cfg.ActivityDedupWindow)
			if err != nil {
				return err
			}
			if seenBefore {
				return svcerrors.Duplicate(ev.ContentFingerprint)
			}
		}

		if u.RiskLevel == domain.RiskHigh || u.RiskLevel == domain.RiskCritical {
			if _, err := e.jrn.Append(journal.NewEntry(ev.UserID, domain.JournalActivityHeld, ev.IdempotencyKey, map[string]interface{}{
				"kind": ev.Kind, "risk_level": u.RiskLevel,
			}, ev.OccurredAt)); err != nil {
				return err
			}
			return svcerrors.Held(ev.UserID)
		}

		limit := xp.DailyLimit[ev.Kind]
		if limit == 0 {
			limit = xp.DefaultDailyLimit
		}
		day := ev.OccurredAt.Truncate(24 * time.Hour)
		_, allowed, err := e.daily.IncrementActivity(ctx, ev.UserID, ev.Kind, day, limit)
		if err != nil {
			return err
		}
		if !allowed {
			return svcerrors.New(svcerrors.ErrCodeDailyLimit, "daily activity limit reached", 429)
		}

		streakDays := e.advanceStreak(ctx, &u, day, ev.OccurredAt)

		gained = xp.Gain(xp.GainInput{
			Kind:               ev.Kind,
			PlatformMultiplier: platformMultiplier,
			QualityScore:       ev.QualityScore,
			StreakDays:         streakDays,
			CurrentLevel:       u.XPLevel,
			Views:              ev.Views,
		})

		u.CumulativeXP += gained
		u.XPLevel = xp.LevelFor(u.CumulativeXP)
		u.QualityEMA = updateQualityEMA(u.QualityEMA, ev.QualityScore, e.cfg.QualityEMAWindowDays)
		u.LastActiveDate = ev.OccurredAt
		u.UpdatedAt = ev.OccurredAt
		if err := e.users.Put(ctx, u); err != nil {
			return err
		}
		_, err = e.jrn.Append(journal.NewEntry(ev.UserID, domain.JournalXPGained, ev.IdempotencyKey, map[string]interface{}{
			"kind": ev.Kind, "xp_gained": gained,
		}, ev.OccurredAt))
		if err != nil {
			return err
		}
		recompute = true
		return nil
	})
	if err != nil || !recompute {
		return gained, err
	}
	return gained, e.recomputeAncestorRP(ctx, ev.UserID, ev.OccurredAt)
}

// advanceStreak applies §4.3's streak rule for one activity-eligible
// day: a one-day gap increments the streak; a two-day gap is bridged
// (without resetting) if a live streak_shield card effect covers it,
// consuming one of its uses; any wider gap, or a two-day gap with no
// shield, resets the streak to 1 (this activity is itself day one of
// the new streak). Mutates u in place and returns the resulting streak
// length. Callers must already hold u.UserID's shard lock.
func (e *Engine) advanceStreak(ctx context.Context, u *domain.User, day, now time.Time) int {
	if u.LastStreakDate.IsZero() {
		u.StreakDays = 1
		u.LastStreakDate = day
		return u.StreakDays
	}
	gap := int(day.Sub(u.LastStreakDate).Hours() / 24)
	switch {
	case gap <= 0:
		// already counted for today
	case gap == 1:
		u.StreakDays++
		u.LastStreakDate = day
	case gap == 2:
		if e.consumeStreakShield(ctx, u.UserID, now) {
			u.StreakDays++
		} else {
			u.StreakDays = 1
		}
		u.LastStreakDate = day
	default:
		u.StreakDays = 1
		u.LastStreakDate = day
	}
	return u.StreakDays
}

// consumeStreakShield looks for a live streak_shield card effect and
// consumes one use if found, reporting whether one was available.
func (e *Engine) consumeStreakShield(ctx context.Context, userID string, now time.Time) bool {
	effects, err := e.cardsDB.ListCardEffects(ctx, userID)
	if err != nil {
		return false
	}
	for _, eff := range cards.Live(effects, now) {
		if eff.EffectKind != domain.CardEffectStreakShield {
			continue
		}
		if err := e.cardsDB.PutCardEffect(ctx, cards.ConsumeUse(eff)); err != nil {
			return false
		}
		return true
	}
	return false
}

// updateQualityEMA rolls one quality sample into the trailing EMA used
// as the mining formula's quality factor, using the standard smoothing
// constant alpha = 2/(windowDays+1). A zero current value means no
// prior sample exists yet, so the sample itself seeds the EMA.
func updateQualityEMA(current, sample float64, windowDays int) float64 {
	if current == 0 {
		return sample
	}
	if windowDays <= 0 {
		windowDays = 7
	}
	alpha := 2.0 / (float64(windowDays) + 1.0)
	return alpha*sample + (1-alpha)*current
}

// OpenSession opens a new Active mining session, snapshotting the
// composed hourly rate. Risk damping and the card-effect multiplier
// are folded into the snapshot so session-level accrual in Close needs
// no further lookups.
func (e *Engine) OpenSession(ctx context.Context, userID, sessionID, idempotencyKey string, now time.Time) (domain.MiningSession, error) {
	var out domain.MiningSession
	err := e.withUser(userID, func() error {
		if idempotencyKey != "" {
			if prior, ok, err := e.sess.GetByIdempotencyKey(ctx, userID, idempotencyKey); err != nil {
				return err
			} else if ok {
				out = prior
				return nil
			}
		}

		existing, ok, err := e.sess.GetActive(ctx, userID)
		if err != nil {
			return err
		}
		var existingPtr *domain.MiningSession
		if ok {
			existingPtr = &existing
		}

		u, ok, err := e.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return svcerrors.New(svcerrors.ErrCodeNotFound, "unknown user", 404)
		}

		rate, err := e.composeRate(ctx, u)
		if err != nil {
			return err
		}

		s, err := session.Open(existingPtr, u.RiskLevel, u.UserID, sessionID, idempotencyKey, rate, now)
		if err != nil {
			return err
		}
		if err := e.sess.PutSession(ctx, s); err != nil {
			return err
		}
		out = s
		_, err = e.jrn.Append(journal.NewEntry(userID, domain.JournalSessionOpened, idempotencyKey, map[string]interface{}{
			"session_id": sessionID, "rate": rate,
		}, now))
		return err
	})
	return out, err
}

// composeRate runs the ten-factor mining formula, the multiplier
// composer over active cards, and the risk-gate damping, in that
// order, returning the single damped hourly rate a session snapshots.
func (e *Engine) composeRate(ctx context.Context, u domain.User) (float64, error) {
	res, err := e.composeRateResult(ctx, u)
	if err != nil {
		return 0, err
	}
	return res.HourlyRate * risk.Damping(u.RiskLevel), nil
}

// composeRateResult runs the same composition as composeRate but
// returns the full factor readout, for the read-only rate/snapshot
// queries (§6) that need to show callers the breakdown rather than
// just the final number.
func (e *Engine) composeRateResult(ctx context.Context, u domain.User) (mining.Result, error) {
	nc, err := e.netCtx(ctx)
	if err != nil {
		return mining.Result{}, err
	}
	effects, err := e.cardsDB.ListCardEffects(ctx, u.UserID)
	if err != nil {
		return mining.Result{}, err
	}
	active := multiplier.ActiveEffects(effects, time.Now())
	mres := multiplier.Compose(active, 1.0)
	if mres.Clamped && e.log != nil {
		e.log.Warn(ctx, "multiplier clamped to global ceiling", map[string]interface{}{
			"user_id": u.UserID, "raw": mres.Raw,
		})
	}

	qema := u.QualityEMA
	if qema == 0 {
		qema = 1.0
	}
	in := mining.Input{
		NetworkCtx:       nc,
		KYCVerified:      u.KYCStatus == domain.KYCVerified,
		RiskLevel:        u.RiskLevel,
		LifetimeMinedFIN: u.CumulativeFIN.Float64(),
		XPLevel:          u.XPLevel,
		RPTier:           u.RPTierCurrent,
		StakedFIN:        u.StakedFIN.Float64(),
		ActiveCardFactor: mres.Effective,
		QualityEMA:       qema,
	}
	return mining.Compose(e.cfg, in)
}

// CloseSession transitions Active -> Claimable, computing the accrued
// amount, then enforces the user's daily accrual cap before it is
// allowed to stand (§4.2's daily cap is checked at settlement-adjacent
// points, not mid-session, so a session may over-accrue and have its
// claim clipped here).
func (e *Engine) CloseSession(ctx context.Context, userID, sessionID string, now time.Time) (domain.MiningSession, error) {
	var out domain.MiningSession
	err := e.withUser(userID, func() error {
		s, ok, err := e.sess.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !ok || s.UserID != userID {
			return svcerrors.NotActive(sessionID)
		}
		closed, err := session.Close(s, e.cfg.SessionMaxDuration, now)
		if err != nil {
			return err
		}
		if err := e.sess.PutSession(ctx, closed); err != nil {
			return err
		}
		out = closed
		_, err = e.jrn.Append(journal.NewEntry(userID, domain.JournalSessionClosed, "", map[string]interface{}{
			"session_id": sessionID, "accrued": closed.AccruedAmount.String(),
		}, now))
		return err
	})
	return out, err
}

// RequestClaim transitions Claimable -> Settling, deriving a
// deterministic settlement token so a replayed idempotency key yields
// the identical token rather than a second reservation.
func (e *Engine) RequestClaim(ctx context.Context, userID, sessionID, idempotencyKey string, now time.Time) (domain.MiningSession, error) {
	var out domain.MiningSession
	err := e.withUser(userID, func() error {
		s, ok, err := e.sess.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !ok || s.UserID != userID {
			return svcerrors.NotActive(sessionID)
		}

		if idempotencyKey != "" && s.ClaimIdempotencyKey == idempotencyKey {
			out = s
			return nil
		}
		if !s.NextRetryAt.IsZero() && now.Before(s.NextRetryAt) {
			return svcerrors.Retryable("settlement backoff window has not elapsed")
		}

		u, ok, err := e.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if ok {
			day := now.Truncate(24 * time.Hour)
			capFIN := domain.FINFromFloat(mining.DailyCapForLevel(u.XPLevel))
			if _, allowed, err := e.daily.AddAccrual(ctx, userID, day, s.AccruedAmount, capFIN); err != nil {
				return err
			} else if !allowed {
				return svcerrors.New(svcerrors.ErrCodeDailyLimit, "daily FIN accrual cap reached", 429).
					WithDetails("user_id", userID).
					WithDetails("daily_cap", capFIN.String())
			}
		}

		token, err := journal.DeriveSettlementToken(e.secret, sessionID, idempotencyKey)
		if err != nil {
			return err
		}
		settling, err := session.RequestClaim(s, idempotencyKey, token, now)
		if err != nil {
			return err
		}
		if err := e.sess.PutSession(ctx, settling); err != nil {
			return err
		}
		out = settling
		_, err = e.jrn.Append(journal.NewEntry(userID, domain.JournalClaimRequested, idempotencyKey, map[string]interface{}{
			"session_id": sessionID, "token": token,
		}, now))
		return err
	})
	return out, err
}

// errSettlementRetryable is a sentinel returned from inside the
// circuit-breaker-wrapped closure below to mark a SettlementRetryable
// outcome as a breaker failure: repeated external-authority retries are
// exactly the condition the breaker exists to trip on, whereas a
// SettlementFatal outcome is a definitive answer from a healthy
// dependency and must not count against it.
var errSettlementRetryable = errors.New("settlement retryable")

// AcknowledgeSettlement applies the external token authority's outcome
// for a settlement token, crediting the user's liquid balance on Acked.
func (e *Engine) AcknowledgeSettlement(ctx context.Context, userID, sessionID string, outcome session.SettlementOutcome, now time.Time) (domain.MiningSession, error) {
	var out domain.MiningSession
	err := e.withUser(userID, func() error {
		s, ok, err := e.sess.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !ok || s.UserID != userID {
			return svcerrors.NotActive(sessionID)
		}

		var acked domain.MiningSession
		var ackErr error
		breakerErr := e.settlementBreaker.Execute(ctx, func() error {
			acked, ackErr = session.Acknowledge(s, outcome, e.cfg.ClaimRetryBudget, now)
			if outcome == session.SettlementRetryable && acked.State == domain.SessionClaimable {
				return errSettlementRetryable
			}
			return nil
		})
		if breakerErr != nil && !errors.Is(breakerErr, errSettlementRetryable) {
			return svcerrors.RateUnavailable("settlement authority unavailable: " + breakerErr.Error())
		}

		if putErr := e.sess.PutSession(ctx, acked); putErr != nil {
			return putErr
		}
		out = acked

		if acked.State == domain.SessionSettled {
			u, ok, err := e.users.Get(ctx, userID)
			if err != nil {
				return err
			}
			if ok {
				u.LiquidFIN = u.LiquidFIN.Add(acked.AccruedAmount)
				u.CumulativeFIN = u.CumulativeFIN.Add(acked.AccruedAmount)
				u.LastClaimCursor = now
				u.UpdatedAt = now
				if err := e.users.Put(ctx, u); err != nil {
					return err
				}
			}
			_, jerr := e.jrn.Append(journal.NewEntry(userID, domain.JournalSettlementAcked, "", map[string]interface{}{
				"session_id": sessionID, "amount": acked.AccruedAmount.String(),
			}, now))
			if jerr != nil {
				return jerr
			}
		}
		return ackErr
	})
	return out, err
}

// ActivateCard consumes one card unit and records the resulting effect.
func (e *Engine) ActivateCard(ctx context.Context, userID, cardType string, effectID int64, now time.Time) (domain.CardEffect, error) {
	var out domain.CardEffect
	err := e.withUser(userID, func() error {
		def, ok := e.cardDef[cardType]
		if !ok {
			return svcerrors.UnknownCard(cardType)
		}
		active, err := e.cardsDB.ListCardEffects(ctx, userID)
		if err != nil {
			return err
		}
		effect, err := cards.Activate(def, active, e.maxActiveCards(), userID, effectID, now)
		if err != nil {
			return err
		}
		if err := e.cardsDB.PutCardEffect(ctx, effect); err != nil {
			return err
		}
		out = effect
		_, err = e.jrn.Append(journal.NewEntry(userID, domain.JournalCardActivated, "", map[string]interface{}{
			"card_type": cardType,
		}, now))
		return err
	})
	return out, err
}

func (e *Engine) maxActiveCards() int {
	return 10 // documented assumption: the design names a configurable bound but not its default.
}

// StakeChange updates a user's staked FIN balance.
func (e *Engine) StakeChange(ctx context.Context, userID string, newStaked domain.FIN, now time.Time) error {
	return e.withUser(userID, func() error {
		u, ok, err := e.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return svcerrors.New(svcerrors.ErrCodeNotFound, "unknown user", 404)
		}
		if newStaked > u.LiquidFIN+u.StakedFIN {
			return svcerrors.New(svcerrors.ErrCodeInsufficientFunds, "insufficient balance to stake", 400)
		}
		delta := newStaked - u.StakedFIN
		u.LiquidFIN -= delta
		u.StakedFIN = newStaked
		u.UpdatedAt = now
		return e.users.Put(ctx, u)
	})
}

// UpdateRisk applies a freshly-computed risk level through the
// sticky-critical transition rule and journals the change.
func (e *Engine) UpdateRisk(ctx context.Context, userID string, assessment risk.Assessment, now time.Time) error {
	return e.withUser(userID, func() error {
		u, ok, err := e.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return svcerrors.New(svcerrors.ErrCodeNotFound, "unknown user", 404)
		}
		proposed := risk.LevelFor(assessment)
		next := risk.Transition(u.RiskLevel, u.RiskCriticalSince, proposed, now)
		if next == u.RiskLevel {
			u.RiskAssessedAt = now
			return e.users.Put(ctx, u)
		}
		if next == domain.RiskCritical {
			u.RiskCriticalSince = now
		}
		u.RiskLevel = next
		u.RiskAssessedAt = now
		u.HumanProbability = assessment.HumanProbability
		u.UpdatedAt = now
		if err := e.users.Put(ctx, u); err != nil {
			return err
		}
		_, err = e.jrn.Append(journal.NewEntry(userID, domain.JournalRiskUpdated, "", map[string]interface{}{
			"risk_level": next,
		}, now))
		return err
	})
}

// UpdateKYC sets a user's KYC status and level.
func (e *Engine) UpdateKYC(ctx context.Context, userID string, status domain.KYCStatus, level int, now time.Time) error {
	return e.withUser(userID, func() error {
		u, ok, err := e.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return svcerrors.New(svcerrors.ErrCodeNotFound, "unknown user", 404)
		}
		u.KYCStatus = status
		u.KYCLevel = level
		u.UpdatedAt = now
		return e.users.Put(ctx, u)
	})
}

// Snapshot is the read-only view of a user's accrual state returned by
// the snapshot query (§6), combining the persisted aggregate with any
// in-flight session's not-yet-settled projection.
type Snapshot struct {
	User             domain.User
	ActiveSession    *domain.MiningSession
	ProjectedAccrued domain.FIN
	MiningRate       mining.Result
}

// Snapshot returns userID's current aggregate state plus, if a session
// is open, the amount it would settle for if closed at asOf.
func (e *Engine) Snapshot(ctx context.Context, userID string, asOf time.Time) (Snapshot, error) {
	var out Snapshot
	err := e.withUser(userID, func() error {
		u, ok, err := e.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return svcerrors.New(svcerrors.ErrCodeNotFound, "unknown user", 404)
		}
		out.User = u

		rate, err := e.composeRateResult(ctx, u)
		if err != nil {
			return err
		}
		out.MiningRate = rate

		active, ok, err := e.sess.GetActive(ctx, userID)
		if err != nil {
			return err
		}
		if ok {
			out.ActiveSession = &active
			elapsed := asOf.Sub(active.OpenedAt)
			if elapsed > e.cfg.SessionMaxDuration {
				elapsed = e.cfg.SessionMaxDuration
			}
			out.ProjectedAccrued = domain.FINFromFloat(active.RateSnapshot * elapsed.Hours())
		}
		return nil
	})
	return out, err
}

// MiningRate returns the currently composed hourly mining rate for
// userID without opening a session.
func (e *Engine) MiningRate(ctx context.Context, userID string) (mining.Result, error) {
	var out mining.Result
	err := e.withUser(userID, func() error {
		u, ok, err := e.users.Get(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return svcerrors.New(svcerrors.ErrCodeNotFound, "unknown user", 404)
		}
		out, err = e.composeRateResult(ctx, u)
		return err
	})
	return out, err
}

// NetworkStats returns the lazily-refreshed network-wide counters the
// mining formula composes against.
func (e *Engine) NetworkStats(ctx context.Context) (domain.NetworkContext, error) {
	return e.netCtx(ctx)
}

// JournalSince returns up to limit journal entries for userID
// occurring after afterSeq, the polling primitive clients use to
// follow their own replicated history per §9.
func (e *Engine) JournalSince(ctx context.Context, userID string, afterSeq int64, limit int) ([]domain.JournalEntry, error) {
	return e.jrn.Tail(userID, afterSeq, limit)
}

// MaintenanceSweep re-evaluates RP tier demotion hysteresis (§4.4, a
// held-above tier must decay once its grace window elapses even for a
// user who has gone quiet) for every listed user. It is driven by an
// external scheduler rather than the request path, since a demotion
// doesn't need to land sooner than the sweep interval. userIDs is
// caller-supplied because the engine itself does not own user
// enumeration.
//
// Risk-level sticky-critical expiry (§4.6) is not swept here: it has
// no proposed level to decay towards until the next risk assessment
// arrives, at which point UpdateRisk's own risk.Transition call
// already honors the elapsed window.
func (e *Engine) MaintenanceSweep(ctx context.Context, userIDs []string, now time.Time) error {
	for _, userID := range userIDs {
		if err := e.withUser(userID, func() error {
			return e.recomputeRP(ctx, userID, now)
		}); err != nil {
			return err
		}
	}
	return nil
}
