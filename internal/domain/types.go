// Package domain holds the reward engine's core types: the data model
// described by §3 of the specification, shared across the ledger,
// mining, xp, rp, multiplier, risk, session, and card packages so none
// of them needs to import another's internal representation.
package domain

import "time"

// KYCStatus is a user's identity-verification state.
type KYCStatus string

const (
	KYCUnverified KYCStatus = "unverified"
	KYCVerified   KYCStatus = "verified"
)

// RiskLevel is the anti-bot/anti-sybil assessment of a user, driving the
// risk gate's damping factor.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Phase is the network's overall growth phase, indexing the base mining
// rate and daily cap tables.
type Phase int

const (
	PhaseFinizen Phase = iota
	PhaseGrowth
	PhaseMaturity
	PhaseStability
)

func (p Phase) String() string {
	switch p {
	case PhaseFinizen:
		return "finizen"
	case PhaseGrowth:
		return "growth"
	case PhaseMaturity:
		return "maturity"
	case PhaseStability:
		return "stability"
	default:
		return "unknown"
	}
}

// XPTier is the tier a user's cumulative XP places them in.
type XPTier int

const (
	XPTierBronze XPTier = iota
	XPTierSilver
	XPTierGold
	XPTierPlatinum
	XPTierDiamond
	XPTierMythic
)

// RPTier is the tier a user's total RP places them in, driving the
// rp_tier_factor in the mining formula.
type RPTier int

const (
	RPTierExplorer RPTier = iota
	RPTierConnector
	RPTierInfluencer
	RPTierLeader
	RPTierAmbassador
)

func (t RPTier) String() string {
	switch t {
	case RPTierExplorer:
		return "explorer"
	case RPTierConnector:
		return "connector"
	case RPTierInfluencer:
		return "influencer"
	case RPTierLeader:
		return "leader"
	case RPTierAmbassador:
		return "ambassador"
	default:
		return "unknown"
	}
}

// User is the account aggregate the mining, xp, rp, and risk
// computations are performed against.
type User struct {
	UserID             string
	WalletID           string
	KYCStatus          KYCStatus
	KYCLevel           int
	CumulativeFIN      FIN
	CumulativeXP       int64
	CumulativeRP       int64
	XPLevel            int
	StreakDays         int
	LastActiveDate     time.Time
	LastStreakDate     time.Time // date of the last streak-eligible activity, truncated to the day
	QualityEMA         float64   // 7-day trailing EMA of activity QualityScore, factor #10 of the mining formula
	LiquidFIN          FIN
	StakedFIN          FIN
	HumanProbability   float64
	RiskLevel          RiskLevel
	RiskAssessedAt     time.Time
	RiskCriticalSince  time.Time
	DeviceFingerprint  string
	LastClaimCursor    time.Time
	RPTierCurrent      RPTier    // last tier actually applied to rate composition, post-hysteresis
	RPBelowFloorSince  time.Time // when CumulativeRP first dropped below RPTierCurrent's floor
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ActivityKind enumerates the activity types the XP pipeline accepts.
type ActivityKind string

const (
	ActivityKindPost    ActivityKind = "post"
	ActivityKindComment ActivityKind = "comment"
	ActivityKindLike    ActivityKind = "like"
	ActivityKindShare   ActivityKind = "share"
	ActivityKindFollow  ActivityKind = "follow"
	ActivityKindStory   ActivityKind = "story"
	ActivityKindVideo   ActivityKind = "video"
	ActivityKindLive    ActivityKind = "live"
	ActivityKindLogin   ActivityKind = "login"
	ActivityKindQuest   ActivityKind = "quest"
)

// ActivityEvent is a single XP-earning action submitted by a user.
type ActivityEvent struct {
	UserID             string
	Kind               ActivityKind
	Platform           string
	ContentFingerprint string
	QualityScore       float64 // [0.5, 2.0], supplied by the quality service
	Views              int64   // viral metric; 0 when not applicable to the kind
	OccurredAt         time.Time
	IdempotencyKey     string
}

// ReferralEdge is a directed edge in the up-to-3-level referral graph.
type ReferralEdge struct {
	ReferrerID string
	RefereeID  string
	Level      int // 1, 2, or 3
	CreatedAt  time.Time
}

// SessionState is the mining session/claim state machine's current
// state, per §4.7.
type SessionState string

const (
	SessionIdle      SessionState = "idle"
	SessionActive    SessionState = "active"
	SessionClaimable SessionState = "claimable"
	SessionSettling  SessionState = "settling"
	SessionSettled   SessionState = "settled"
	SessionCancelled SessionState = "cancelled"
)

// MiningSession tracks one open-to-settle mining session for a user.
type MiningSession struct {
	SessionID      string
	UserID         string
	State          SessionState
	OpenedAt       time.Time
	RateSnapshot   float64
	AccruedAmount  FIN
	ClaimToken     string
	RetryCount     int
	// IdempotencyKey is the key supplied to open_session; it never
	// changes once the session is opened.
	IdempotencyKey string
	// ClaimIdempotencyKey is the key supplied to request_claim, tracked
	// separately from IdempotencyKey so a claim replay can be detected
	// without clobbering the open_session key it must also still honor.
	ClaimIdempotencyKey string
	// NextRetryAt gates when a Claimable-after-failed-settlement session
	// may be retried again, per the settlement backoff schedule.
	NextRetryAt time.Time
	UpdatedAt   time.Time
}

// CardEffectKind is the category of effect a card applies.
type CardEffectKind string

const (
	CardEffectMiningBoost  CardEffectKind = "mining_boost"
	CardEffectXPBoost      CardEffectKind = "xp_boost"
	CardEffectQualityOverride CardEffectKind = "quality_override"
	CardEffectStreakShield CardEffectKind = "streak_shield"
)

// CardEffect is an active effect granted by a played card, per §4.8.
type CardEffect struct {
	ID           int64
	UserID       string
	CardType     string
	EffectKind   CardEffectKind
	Multiplier   float64
	SynergyGroup string
	Stackable    bool
	UsesLeft     int // <=0 means unlimited / time-bound instead
	ExpiresAt    time.Time
	ActivatedAt  time.Time
}

// Active reports whether the effect is still in force at t.
func (c CardEffect) Active(t time.Time) bool {
	if !c.ExpiresAt.IsZero() && t.After(c.ExpiresAt) {
		return false
	}
	if c.UsesLeft == 0 {
		return false
	}
	return true
}

// JournalEntryKind enumerates the append-only journal's event types.
type JournalEntryKind string

const (
	JournalMiningAccrued      JournalEntryKind = "mining_accrued"
	JournalXPGained           JournalEntryKind = "xp_gained"
	JournalRPUpdated          JournalEntryKind = "rp_updated"
	JournalSessionOpened      JournalEntryKind = "session_opened"
	JournalSessionClosed      JournalEntryKind = "session_closed"
	JournalClaimRequested     JournalEntryKind = "claim_requested"
	JournalSettlementAcked    JournalEntryKind = "settlement_acknowledged"
	JournalCardActivated      JournalEntryKind = "card_activated"
	JournalRiskUpdated        JournalEntryKind = "risk_updated"
	JournalMultiplierClamped  JournalEntryKind = "multiplier_clamped"
	JournalReferralRegistered JournalEntryKind = "referral_registered"
	JournalActivityHeld       JournalEntryKind = "activity_held"
)

// JournalEntry is one append-only, replication-source event, per §4.1
// and §9's "journal-as-replication-source" design note.
type JournalEntry struct {
	Seq            int64
	UserID         string
	Kind           JournalEntryKind
	OccurredAt     time.Time
	IdempotencyKey string
	Payload        map[string]interface{}
}

// NetworkContext is the lazily-refreshed, explicitly-passed network-wide
// state the mining formula depends on (total users, total referrals),
// per §9's "explicit NetworkContext" design note. It is never read
// directly from global state inside the formula packages.
type NetworkContext struct {
	TotalUsers      uint64
	TotalReferrals  uint64
	AsOf            time.Time
}
