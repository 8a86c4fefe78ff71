package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter mounts the engine's command/query surface behind chi, with
// zap-based access logging wrapping every request. chi is used here
// (rather than the teacher's own bare http.ServeMux wrapping) because
// the reward engine's surface needs path-parameterized routes
// (/users/{user_id}/...) that a plain mux can't express without
// manual parsing.
func NewRouter(h *Handler, qh *QueryHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/users", h.handleCreateUser)
		r.Post("/activities", h.handleSubmitActivity)
		r.Post("/sessions/open", h.handleOpenSession)
		r.Post("/sessions/close", h.handleCloseSession)
		r.Post("/claims", h.handleRequestClaim)
		r.Post("/cards/activate", h.handleActivateCard)

		r.Get("/users/{user_id}/snapshot", qh.HandleSnapshot)
		r.Get("/users/{user_id}/rate", qh.HandleMiningRate)
		r.Get("/users/{user_id}/journal", qh.HandleJournal)
		r.Get("/network", qh.HandleNetworkStats)
	})

	return r
}

// accessLog logs method, path, status, and latency for every request
// through the structured zap logger, kept separate from both the
// engine's logrus-based operational logger and auditlog's zerolog
// journal sink: this is HTTP transport logging, not domain logging.
func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logger == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
