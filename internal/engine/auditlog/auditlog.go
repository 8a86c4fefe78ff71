// Package auditlog renders journal entries to an append-only,
// structured audit stream for compliance/operator consumption,
// separate from the engine's own operational logging
// (infrastructure/logging). zerolog's zero-allocation writer is used
// here specifically because this path is meant to run on every single
// journal append in production, unlike the warn/error-only operational
// log.
package auditlog

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/finova-network/reward-engine/internal/domain"
)

// Recorder writes one structured line per journal entry.
type Recorder struct {
	logger zerolog.Logger
}

// New builds a Recorder writing to w in JSON lines.
func New(w io.Writer) *Recorder {
	return &Recorder{
		logger: zerolog.New(w).With().Timestamp().Str("component", "auditlog").Logger(),
	}
}

// Record emits one audit line for a journal entry. It never returns an
// error: a failing audit sink must not block the journal append it is
// describing, so write failures are swallowed after a best-effort
// zerolog.Logger.Error (which itself degrades to a no-op writer rather
// than panicking).
func (r *Recorder) Record(entry domain.JournalEntry) {
	evt := r.logger.Info().
		Int64("seq", entry.Seq).
		Str("user_id", entry.UserID).
		Str("kind", string(entry.Kind)).
		Time("occurred_at", entry.OccurredAt).
		Str("idempotency_key", entry.IdempotencyKey)
	for k, v := range entry.Payload {
		evt = evt.Interface(k, v)
	}
	evt.Msg("journal entry")
}

// RecordSince replays Tail's result set through Record, for backfilling
// the audit stream after a sink outage.
func (r *Recorder) RecordSince(entries []domain.JournalEntry, now time.Time) {
	for _, e := range entries {
		r.Record(e)
	}
	r.logger.Info().Time("replayed_at", now).Int("count", len(entries)).Msg("audit backfill complete")
}
