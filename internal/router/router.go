package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/ragsupport-gateway/internal/backendpool"
	"github.com/connexus-ai/ragsupport-gateway/internal/handler"
	"github.com/connexus-ai/ragsupport-gateway/internal/middleware"
)

// Dependencies holds every injected service the route table wires up.
type Dependencies struct {
	DB          handler.DBPinger
	FrontendURL string
	Version     string
	Metrics     *middleware.Metrics
	MetricsReg  *prometheus.Registry
	BackendPool *backendpool.Pool

	Verifier       middleware.AccessVerifier
	Permissions    middleware.PermissionChecker
	PasswordChange middleware.PasswordChangeChecker

	Auth      handler.AuthDeps
	Chat      handler.ChatDeps
	Documents handler.DocumentsDeps
	Analytics handler.AnalyticsSource

	// GeneralRateLimiter applies to every authenticated route; ChatRateLimiter
	// additionally tightens the rag-chat and search endpoints.
	GeneralRateLimiter *middleware.RateLimiter
	ChatRateLimiter    *middleware.RateLimiter
	Security           middleware.SecurityEventRecorder
}

// New builds the full chi.Mux per the HTTP surface: public health/metrics,
// public auth endpoints, and a protected group running
// request-id -> access-log -> rate-limit -> auth -> password-change-gate ->
// permission-guard -> handler.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(deps.FrontendURL))
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	r.Get("/health", handler.Health(deps.DB, deps.Version))
	r.Get("/api/health", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	timeout30s := middleware.Timeout(30 * time.Second)

	// Public auth endpoints: no bearer token required yet.
	r.Group(func(r chi.Router) {
		if deps.GeneralRateLimiter != nil {
			r.Use(middleware.RateLimit(deps.GeneralRateLimiter, deps.Security))
		}
		r.With(timeout30s).Post("/api/auth/login", handler.Login(deps.Auth))
		r.With(timeout30s).Post("/api/auth/refresh", handler.Refresh(deps.Auth))
		r.With(timeout30s).Post("/api/auth/forgot-password", handler.ForgotPassword(deps.Auth))
		r.With(timeout30s).Post("/api/auth/reset-password", handler.ResetPassword(deps.Auth))
		r.With(timeout30s).Post("/api/auth/verify-email", handler.VerifyEmail(deps.Auth))
	})

	// Protected routes: request ID / access log / CORS already applied
	// above; this group layers rate limit -> auth -> password-change gate.
	r.Group(func(r chi.Router) {
		if deps.GeneralRateLimiter != nil {
			r.Use(middleware.RateLimit(deps.GeneralRateLimiter, deps.Security))
		}
		r.Use(middleware.RequireAuth(deps.Verifier))

		// force-change-password is the sole protected endpoint exempt from
		// the password-change gate, so it gets its own sub-group.
		r.With(timeout30s).Post("/api/auth/force-change-password", handler.ForceChangePassword(deps.Auth))

		r.Group(func(r chi.Router) {
			if deps.PasswordChange != nil {
				r.Use(middleware.RequirePasswordCurrent(deps.PasswordChange))
			}

			r.With(timeout30s).Post("/api/auth/change-password", handler.ChangePassword(deps.Auth))
			r.With(timeout30s).Get("/api/auth/me", handler.Me(deps.Auth))

			// rag-chat is SSE: no write timeout, but a tighter rate limit
			// when one is configured.
			if deps.ChatRateLimiter != nil {
				r.With(middleware.RateLimit(deps.ChatRateLimiter, deps.Security)).Post("/api/rag-chat", handler.Chat(deps.Chat))
			} else {
				r.Post("/api/rag-chat", handler.Chat(deps.Chat))
			}

			r.With(timeout30s).Post("/api/hybrid-search", handler.HybridSearch(deps.Chat))
			r.With(timeout30s).Post("/api/fused-hybrid-search", handler.FusedHybridSearch(deps.Chat))
			r.With(timeout30s).Post("/api/intelligent-hybrid-search", handler.IntelligentHybridSearch(deps.Chat))
			r.With(timeout30s).Post("/api/classify-query", handler.ClassifyQuery)
			r.With(timeout30s).Post("/api/intelligent-route", handler.IntelligentRoute(deps.BackendPool))
			r.With(timeout30s).Get("/api/ollama-health", handler.OllamaHealth(deps.BackendPool))
			r.With(timeout30s).Get("/health/details", handler.HealthDetails(deps.DB, deps.BackendPool))

			r.With(timeout30s).Get("/api/documents", handler.ListDocuments(deps.Documents))
			r.With(timeout30s).Post("/api/documents/list", handler.ListDocuments(deps.Documents))
			r.With(timeout30s).Get("/api/documents/{id}", handler.GetDocument(deps.Documents))
			r.With(timeout30s).Get("/api/documents/{id}/download", handler.DownloadDocument(deps.Documents))
			r.With(timeout30s).Delete("/api/documents/{id}", handler.DeleteDocument(deps.Documents))

			r.With(timeout30s).Get("/api/analytics/summary", handler.AnalyticsSummaryHandler(deps.Analytics))
			r.With(timeout30s).Get("/api/analytics/recent", handler.AnalyticsRecentHandler(deps.Analytics))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":    false,
			"message":    "route not found",
			"error_code": "NOT_FOUND",
		})
	})

	return r
}
