package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/finova-network/reward-engine/internal/domain"
	"github.com/finova-network/reward-engine/internal/engine"
	"github.com/finova-network/reward-engine/internal/mining"
)

// QueryEngine is the read-only subset of *engine.Engine the query
// handlers need, kept separate from Engine (the command subset) so a
// read-replica deployment can wire a different, read-only-backed
// implementation without satisfying the command methods too.
type QueryEngine interface {
	Snapshot(ctx context.Context, userID string, asOf time.Time) (engine.Snapshot, error)
	MiningRate(ctx context.Context, userID string) (mining.Result, error)
	NetworkStats(ctx context.Context) (domain.NetworkContext, error)
	JournalSince(ctx context.Context, userID string, afterSeq int64, limit int) ([]domain.JournalEntry, error)
}

// QueryHandler serves the read-only query surface (§6). Separate from
// Handler because a deployment may mount queries behind a different
// auth/rate-limit policy than commands.
type QueryHandler struct {
	engine QueryEngine
	now    func() time.Time
}

// NewQueryHandler constructs a QueryHandler. now defaults to time.Now
// when nil.
func NewQueryHandler(engine QueryEngine, now func() time.Time) *QueryHandler {
	if now == nil {
		now = time.Now
	}
	return &QueryHandler{engine: engine, now: now}
}

func (qh *QueryHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	snap, err := qh.engine.Snapshot(r.Context(), userID, qh.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (qh *QueryHandler) HandleMiningRate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	rate, err := qh.engine.MiningRate(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rate)
}

func (qh *QueryHandler) HandleNetworkStats(w http.ResponseWriter, r *http.Request) {
	stats, err := qh.engine.NetworkStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (qh *QueryHandler) HandleJournal(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	afterSeq, _ := strconv.ParseInt(r.URL.Query().Get("after_seq"), 10, 64)
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	entries, err := qh.engine.JournalSince(r.Context(), userID, afterSeq, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
