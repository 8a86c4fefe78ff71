// Package journal implements the append-only, per-user totally ordered
// event log described in §5 ("per user, all journal entries are
// totally ordered and monotonic") and §9's journal-as-replication-source
// design note. Settlement tokens are derived with an HKDF-expanded key
// over blake2b, matching the package the reward engine uses elsewhere
// in the corpus for derived, non-secret-bearing identifiers.
package journal

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"

	"github.com/finova-network/reward-engine/internal/domain"
)

// Appender is the durable-write side of the journal: implementations
// back onto Postgres in production and an in-memory slice in tests.
// Append must preserve total order and monotonic Seq per UserID.
type Appender interface {
	Append(entry domain.JournalEntry) (domain.JournalEntry, error)
	Tail(userID string, afterSeq int64, limit int) ([]domain.JournalEntry, error)
}

// MemoryJournal is an in-process Appender, safe for concurrent use by
// distinct per-user regions (each user's append path is already
// serialized by the engine's single-writer region; the mutex here
// only guards the shared slice and per-user sequence counter).
type MemoryJournal struct {
	mu      sync.Mutex
	seqs    map[string]int64
	entries []domain.JournalEntry

	// OnAppend, when set, is invoked with every successfully appended
	// entry after it is durably stored, outside the lock. Used to feed
	// an audit sink (internal/engine/auditlog) without making this
	// package depend on it.
	OnAppend func(domain.JournalEntry)
}

// NewMemoryJournal returns an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{seqs: make(map[string]int64)}
}

// Append assigns the next per-user sequence number and stores the entry.
func (m *MemoryJournal) Append(entry domain.JournalEntry) (domain.JournalEntry, error) {
	m.mu.Lock()
	m.seqs[entry.UserID]++
	entry.Seq = m.seqs[entry.UserID]
	m.entries = append(m.entries, entry)
	m.mu.Unlock()

	if m.OnAppend != nil {
		m.OnAppend(entry)
	}
	return entry, nil
}

// Tail returns up to limit entries for userID with Seq > afterSeq, in
// ascending sequence order, for the websocket journal-tail stream.
func (m *MemoryJournal) Tail(userID string, afterSeq int64, limit int) ([]domain.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range m.entries {
		if e.UserID != userID || e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// settlementTokenInfo is the HKDF "info" context string binding a
// derived token to its purpose, so the same master secret can't be
// replayed across unrelated derivations.
const settlementTokenInfo = "reward-engine/settlement-token/v1"

// DeriveSettlementToken derives a settlement token deterministically
// from a session's idempotency key and a server-held secret, so a
// replayed request_claim produces the identical token rather than
// minting a new one (the idempotency guarantee of §4.7).
func DeriveSettlementToken(secret []byte, sessionID, idempotencyKey string) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("journal: empty settlement secret")
	}
	salt := []byte(sessionID + "|" + idempotencyKey)
	h := hkdf.New(func() hash.Hash { hh, _ := blake2b.New256(nil); return hh }, secret, salt, []byte(settlementTokenInfo))
	out := make([]byte, 32)
	if _, err := io.ReadFull(h, out); err != nil {
		return "", err
	}
	return hex.EncodeToString(out), nil
}

// RandomClaimToken generates an opaque, non-deterministic claim/session
// ID for open_session, where no idempotent-derivation requirement applies.
func RandomClaimToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewEntry builds a JournalEntry with its OccurredAt stamped at now,
// leaving Seq for the Appender to assign.
func NewEntry(userID string, kind domain.JournalEntryKind, idempotencyKey string, payload map[string]interface{}, now time.Time) domain.JournalEntry {
	return domain.JournalEntry{
		UserID:         userID,
		Kind:           kind,
		OccurredAt:     now,
		IdempotencyKey: idempotencyKey,
		Payload:        payload,
	}
}
