// Package httpapi mounts the engine's command/query surface behind a
// chi router. Requests map one-to-one onto *engine.Engine methods;
// this package owns JSON marshaling, status-code mapping, and request
// logging, not any reward-engine business logic.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	svcerrors "github.com/finova-network/reward-engine/infrastructure/errors"
	"github.com/finova-network/reward-engine/internal/domain"
	"github.com/finova-network/reward-engine/internal/risk"
)

// Engine is the subset of *engine.Engine the HTTP surface drives.
// Declared locally, same rationale as scheduler.Sweeper: it keeps
// internal/engine free of any import of internal/httpapi.
type Engine interface {
	CreateUser(ctx context.Context, userID, referrerID string, kyc domain.KYCStatus, now time.Time) error
	RegisterReferral(ctx context.Context, referrerID, refereeID string, now time.Time) error
	SubmitActivity(ctx context.Context, ev domain.ActivityEvent, platformMultiplier float64) (int64, error)
	OpenSession(ctx context.Context, userID, sessionID, idempotencyKey string, now time.Time) (domain.MiningSession, error)
	CloseSession(ctx context.Context, userID, sessionID string, now time.Time) (domain.MiningSession, error)
	RequestClaim(ctx context.Context, userID, sessionID, idempotencyKey string, now time.Time) (domain.MiningSession, error)
	ActivateCard(ctx context.Context, userID, cardType string, effectID int64, now time.Time) (domain.CardEffect, error)
	StakeChange(ctx context.Context, userID string, newStaked domain.FIN, now time.Time) error
	UpdateRisk(ctx context.Context, userID string, assessment risk.Assessment, now time.Time) error
	UpdateKYC(ctx context.Context, userID string, status domain.KYCStatus, level int, now time.Time) error
}

// Handler bundles the engine with the clock/ID sources its handlers
// need so tests can substitute both.
type Handler struct {
	engine Engine
	now    func() time.Time
}

// NewHandler constructs a Handler. now defaults to time.Now when nil.
func NewHandler(engine Engine, now func() time.Time) *Handler {
	if now == nil {
		now = time.Now
	}
	return &Handler{engine: engine, now: now}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := svcerrors.GetHTTPStatus(err)
	body := map[string]interface{}{"error": err.Error()}
	if se := svcerrors.GetServiceError(err); se != nil {
		body["code"] = se.Code
		if se.Details != nil {
			body["details"] = se.Details
		}
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

type createUserRequest struct {
	UserID     string          `json:"user_id"`
	ReferrerID string          `json:"referrer_id"`
	KYCStatus  domain.KYCStatus `json:"kyc_status"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, svcerrors.InvalidFormat("body", "json").WithDetails("parse_error", err.Error()))
		return
	}
	if err := h.engine.CreateUser(r.Context(), req.UserID, req.ReferrerID, req.KYCStatus, h.now()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": req.UserID})
}

type submitActivityRequest struct {
	domain.ActivityEvent
	PlatformMultiplier float64 `json:"platform_multiplier"`
}

func (h *Handler) handleSubmitActivity(w http.ResponseWriter, r *http.Request) {
	var req submitActivityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, svcerrors.InvalidFormat("body", "json").WithDetails("parse_error", err.Error()))
		return
	}
	if req.PlatformMultiplier == 0 {
		req.PlatformMultiplier = 1.0
	}
	gained, err := h.engine.SubmitActivity(r.Context(), req.ActivityEvent, req.PlatformMultiplier)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"xp_gained": gained})
}

type sessionRequest struct {
	UserID         string `json:"user_id"`
	SessionID      string `json:"session_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, svcerrors.InvalidFormat("body", "json").WithDetails("parse_error", err.Error()))
		return
	}
	s, err := h.engine.OpenSession(r.Context(), req.UserID, req.SessionID, req.IdempotencyKey, h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, svcerrors.InvalidFormat("body", "json").WithDetails("parse_error", err.Error()))
		return
	}
	s, err := h.engine.CloseSession(r.Context(), req.UserID, req.SessionID, h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleRequestClaim(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, svcerrors.InvalidFormat("body", "json").WithDetails("parse_error", err.Error()))
		return
	}
	s, err := h.engine.RequestClaim(r.Context(), req.UserID, req.SessionID, req.IdempotencyKey, h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type activateCardRequest struct {
	UserID   string `json:"user_id"`
	CardType string `json:"card_type"`
	EffectID int64  `json:"effect_id"`
}

func (h *Handler) handleActivateCard(w http.ResponseWriter, r *http.Request) {
	var req activateCardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, svcerrors.InvalidFormat("body", "json").WithDetails("parse_error", err.Error()))
		return
	}
	effect, err := h.engine.ActivateCard(r.Context(), req.UserID, req.CardType, req.EffectID, h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, effect)
}
