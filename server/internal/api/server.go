// Package api provides the HTTP API and middleware for the server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/sitesmith/sitesmith/server/internal/auth"
	"github.com/sitesmith/sitesmith/server/internal/billing"
	"github.com/sitesmith/sitesmith/server/internal/config"
	"github.com/sitesmith/sitesmith/server/internal/events"
	"github.com/sitesmith/sitesmith/server/internal/project"
	"github.com/sitesmith/sitesmith/server/internal/store"
)

// maxWebhookBytes bounds provider notifications. Checkout events are a few KB.
const maxWebhookBytes = 64 * 1024

// Deps are the services the API is built on. Login is nil when accounts
// are managed by an external provider.
type Deps struct {
	Store    store.Store
	Auth     auth.Provider
	Login    auth.LoginProvider
	Billing  *billing.Service
	Projects *project.Service
	Bus      *events.Bus
}

// Server is the HTTP API server.
type Server struct {
	store        store.Store
	authProvider auth.Provider
	login        auth.LoginProvider
	billing      *billing.Service
	projects     *project.Service
	bus          *events.Bus
	logger       *slog.Logger
	mux          *chi.Mux
	upgrader     websocket.Upgrader
	startTime    time.Time
	maxBodyBytes int64
	cookieName   string
	secureCookie bool
	loginRL      *rateLimiter
	rl           *rateLimiter
}

// NewServer creates a new API server.
func NewServer(deps Deps, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:        deps.Store,
		authProvider: deps.Auth,
		login:        deps.Login,
		billing:      deps.Billing,
		projects:     deps.Projects,
		bus:          deps.Bus,
		logger:       logger.With("component", "api"),
		upgrader:     makeUpgrader(cfg.Server.AllowedOrigins),
		startTime:    time.Now(),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		cookieName:   cfg.Auth.CookieName,
		secureCookie: strings.HasPrefix(cfg.Auth.BaseURL, "https://"),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	mux.Get("/", func(w http.ResponseWriter, r *http.Request) { writeText(w, "Server is Live!") })
	mux.Get("/api", func(w http.ResponseWriter, r *http.Request) { writeText(w, "API is Live!") })
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	// Payment provider webhooks read the raw body; signatures are checked
	// against the exact bytes.
	mux.Post("/api/stripe", srv.handleWebhook("stripe"))
	mux.Post("/api/paddle", srv.handleWebhook("paddle"))
	mux.Post("/api/billing/webhook", srv.handleWebhook(""))
	mux.Get("/api/billing/plans", srv.handleListPlans)

	mux.Get("/api/project/published", srv.handleListPublished)
	mux.Get("/api/project/published/{id}", srv.handleGetPublished)

	mux.Get("/api/auth/config", srv.handleAuthConfig)
	if srv.login != nil {
		srv.loginRL = newRateLimiter(5, 10)
		mux.Group(func(r chi.Router) {
			r.Use(loginIPRateLimitMiddleware(srv.loginRL))
			r.Post("/api/auth/sign-up/email", srv.handleSignUp)
			r.Post("/api/auth/sign-in/email", srv.handleSignIn)
		})
		mux.Post("/api/auth/sign-out", srv.handleSignOut)
	}
	mux.Get("/api/auth/get-session", srv.handleGetSession)

	// WebSocket routes authenticate inside the handler, where the token may
	// also come from the query string.
	mux.Get("/api/user/events", srv.handleUserEvents)
	mux.Get("/api/admin/events", srv.handleAdminEvents)

	srv.rl = newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(rateLimitMiddleware(srv.rl))

		r.Get("/api/user/me", srv.handleGetMe)
		r.Get("/api/user/credits", srv.handleGetCredits)
		r.Get("/api/user/credits/history", srv.handleCreditHistory)
		r.Get("/api/user/purchases", srv.handleListPurchases)
		r.Get("/api/user/purchases/{sessionID}", srv.handleGetPurchase)
		r.Post("/api/user/purchase-credits", srv.handlePurchaseCredits)

		r.Post("/api/user/project", srv.handleCreateProject)
		r.Get("/api/user/project/{id}", srv.handleGetProject)
		r.Get("/api/user/projects", srv.handleListProjects)
		r.Get("/api/user/publish-toggle/{id}", srv.handleTogglePublish)

		r.Post("/api/project/revision/{id}", srv.handleRevision)
		r.Put("/api/project/save/{id}", srv.handleSaveProject)
		r.Get("/api/project/rollback/{id}/{versionID}", srv.handleRollback)
		r.Delete("/api/project/{id}", srv.handleDeleteProject)
		r.Get("/api/project/preview/{id}", srv.handlePreview)

		r.Group(func(r chi.Router) {
			r.Use(srv.adminMiddleware)
			r.Get("/api/admin/audit", srv.handleAdminListAuditEvents)
			r.Get("/api/admin/users", srv.handleAdminListUsers)
		})
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup tasks for rate limiters.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	if s.loginRL != nil {
		s.loginRL.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
	if s.rl != nil {
		s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Admin handlers ---

func (s *Server) handleAdminListAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50, 500)
	list, err := s.store.ListAuditEvents(r.Context(), store.AuditFilter{
		Action: r.URL.Query().Get("action"),
		UserID: r.URL.Query().Get("user_id"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("list audit events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	if list == nil {
		list = []store.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": list})
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r, 50, 500)
	users, err := s.store.ListUsers(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list users", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []store.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// --- Helpers ---

// pagination reads limit and offset query parameters.
func pagination(r *http.Request, def, ceiling int) (limit, offset int) {
	limit = def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > ceiling {
		limit = ceiling
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// decodeJSON reads a size-limited JSON body into v, answering 400 on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(body))
}
