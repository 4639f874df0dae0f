// Copyright 2026 The QMS Portal Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/qmsportal/qmsportal/internal/action"
	"github.com/qmsportal/qmsportal/internal/assistant"
	"github.com/qmsportal/qmsportal/internal/audit"
	"github.com/qmsportal/qmsportal/internal/identity"
	"github.com/qmsportal/qmsportal/internal/observability/logger"
	"github.com/qmsportal/qmsportal/internal/policy"
	"github.com/qmsportal/qmsportal/internal/rbac"
	"github.com/qmsportal/qmsportal/internal/records"
	"github.com/qmsportal/qmsportal/internal/session"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	verifier         *identity.Verifier
	sessionService   *session.Service
	gate             *action.Gate
	assistantService *assistant.Service
	capas            CAPAReader
	dcrs             DCRReader
	auditLogger      audit.Logger
	auditReader      AuditReader
	policy           *policy.Policy
	sessionConfig    SessionConfig
}

// AuditReader is the operator-facing read surface over the audit trail.
type AuditReader interface {
	ListByActor(ctx context.Context, actor string, limit int) ([]audit.Event, error)
}

// CAPAReader is the read surface the dashboard and list pages need.
type CAPAReader interface {
	GetByID(ctx context.Context, id string) (*records.CAPA, error)
	List(ctx context.Context, status records.CAPAStatus, limit int) ([]*records.CAPA, error)
	CountByStatus(ctx context.Context) (map[records.CAPAStatus]int, error)
}

// DCRReader is the read surface the dashboard and list pages need.
type DCRReader interface {
	GetByID(ctx context.Context, id string) (*records.DCR, error)
	List(ctx context.Context, status records.DCRStatus, limit int) ([]*records.DCR, error)
	CountByStatus(ctx context.Context) (map[records.DCRStatus]int, error)
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
}

// NewHandler creates a new HTTP handler
func NewHandler(
	verifier *identity.Verifier,
	sessionService *session.Service,
	gate *action.Gate,
	assistantService *assistant.Service,
	capas CAPAReader,
	dcrs DCRReader,
	auditLogger audit.Logger,
	auditReader AuditReader,
	routePolicy *policy.Policy,
	sessionConfig SessionConfig,
) *Handler {
	if routePolicy == nil {
		routePolicy = policy.Default()
	}
	return &Handler{
		verifier:         verifier,
		sessionService:   sessionService,
		gate:             gate,
		assistantService: assistantService,
		capas:            capas,
		dcrs:             dcrs,
		auditLogger:      auditLogger,
		auditReader:      auditReader,
		policy:           routePolicy,
		sessionConfig:    sessionConfig,
	}
}

// NewRouter creates a new HTTP router. staticFS may be nil when the
// portal UI is served separately.
func NewRouter(h *Handler, rateLimiter *RateLimiter, staticFS fs.FS) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(h.SessionMiddleware)
	r.Use(h.PolicyMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)

	// Authentication
	r.Post("/auth/callback", h.AuthCallback)
	r.Post("/auth/logout", h.Logout)
	r.Get("/auth/me", h.GetCurrentUser)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireAuth)

		// Two-phase action gate
		r.Post("/actions/propose", h.ProposeAction)
		r.Post("/actions/confirm", h.ConfirmAction)
		r.Get("/actions/functions", h.ListFunctions)

		// Assistant chat
		r.Post("/assistant/chat", h.AssistantChat)
		r.Post("/assistant/reset", h.AssistantReset)

		// Record reads
		r.Get("/capas", h.ListCAPAs)
		r.Get("/capas/{capaID}", h.GetCAPA)
		r.Get("/dcrs", h.ListDCRs)
		r.Get("/dcrs/{dcrID}", h.GetDCR)

		// Dashboard stats
		r.Get("/dashboard/stats", h.DashboardStats)
	})

	// Operator tooling. PolicyMiddleware restricts the /admin prefix to
	// administrators.
	r.Get("/admin/audit", h.ListAuditEvents)

	// Portal UI falls through to the SPA handler so client-side routes
	// resolve to index.html. Page access is still governed by
	// PolicyMiddleware above.
	if staticFS != nil {
		r.NotFound(SPAHandler{StaticFS: staticFS}.ServeHTTP)
	}

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "qmsportal",
	})
}

// AuthCallbackRequest carries the identity token minted by the external
// provider after interactive sign-in.
type AuthCallbackRequest struct {
	Token string `json:"token"`
}

// AuthCallback verifies the provider token and establishes a session.
// The role is resolved from the verified email, never taken from the
// token or the request.
func (h *Handler) AuthCallback(w http.ResponseWriter, r *http.Request) {
	var req AuthCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.verifier.Verify(req.Token)
	if err != nil {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeSignIn,
			Resource:  "session",
			Metadata:  map[string]any{"result": "failure", "reason": err.Error()},
			IPAddress: getIPAddress(r),
			UserAgent: r.UserAgent(),
		})
		respondError(w, http.StatusUnauthorized, "invalid identity token")
		return
	}

	sess, err := h.sessionService.Create(r.Context(), user.Email, user.Name, getIPAddress(r), r.UserAgent())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create session", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setSessionCookie(w, sess.ID)

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeSignIn,
		Actor:     user.Email,
		Role:      string(user.Role),
		Resource:  "session",
		Metadata:  map[string]any{"result": "success", "session_id": sess.ID},
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, map[string]any{
		"email": user.Email,
		"name":  user.Name,
		"role":  user.Role,
	})
}

// Logout destroys the current session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := h.getSessionFromCookie(r)
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	sess, err := h.sessionService.Get(r.Context(), sessionID)
	if err == nil {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:      audit.TypeSignOut,
			Actor:     sess.Email,
			Resource:  "session",
			Metadata:  map[string]any{"session_id": sess.ID},
			IPAddress: getIPAddress(r),
			UserAgent: r.UserAgent(),
		})
		if err := h.sessionService.Delete(r.Context(), sessionID); err != nil {
			slog.ErrorContext(r.Context(), "failed to delete session", logger.Error(err))
		}
		h.assistantService.Reset(sessionID)
	}

	h.clearSessionCookie(w)

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// GetCurrentUser returns the authenticated identity and its grants. The
// permission list drives UI affordances only; enforcement happens
// server-side on every call.
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"email":       user.Email,
		"name":        user.Name,
		"role":        user.Role,
		"permissions": user.Permissions(),
	})
}

// ProposeActionRequest names an operation and its arguments.
type ProposeActionRequest struct {
	Operation string         `json:"operation"`
	Arguments map[string]any `json:"arguments"`
}

// ProposeAction runs the first phase of the action gate: permission
// check, dry-run validation, and a held proposal for mutating operations.
func (h *Handler) ProposeAction(w http.ResponseWriter, r *http.Request) {
	var req ProposeActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.gate.Propose(r.Context(), req.Operation, req.Arguments, h.gateIdentity(r))
	if err != nil {
		h.respondActionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, outcome)
}

// ConfirmActionRequest resolves a held proposal.
type ConfirmActionRequest struct {
	ConfirmationID string `json:"confirmation_id"`
	Confirmed      bool   `json:"confirmed"`
}

// ConfirmAction runs the second phase: executes or cancels a held
// proposal. The permission check is repeated here; the client's earlier
// propose result is not trusted.
func (h *Handler) ConfirmAction(w http.ResponseWriter, r *http.Request) {
	var req ConfirmActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConfirmationID == "" {
		respondError(w, http.StatusBadRequest, "confirmation_id is required")
		return
	}

	outcome, err := h.gate.Confirm(r.Context(), req.ConfirmationID, req.Confirmed, h.gateIdentity(r))
	if err != nil {
		h.respondActionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, outcome)
}

// ListFunctions returns the operation catalog filtered to what the
// caller's role may invoke.
func (h *Handler) ListFunctions(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r.Context())

	type functionInfo struct {
		Name     string `json:"name"`
		Mutating bool   `json:"mutating"`
	}

	var functions []functionInfo
	for _, spec := range records.Operations() {
		if rbac.IsAllowed(user.Role, spec.Permission) {
			functions = append(functions, functionInfo{Name: spec.Name, Mutating: spec.Mutating})
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{"functions": functions})
}

// AssistantChatRequest carries one user message.
type AssistantChatRequest struct {
	Message string `json:"message"`
}

// AssistantChat forwards a message to the assistant. Operations the model
// proposes come back as gate confirmations, never as executed effects.
func (h *Handler) AssistantChat(w http.ResponseWriter, r *http.Request) {
	var req AssistantChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}

	turn, err := h.assistantService.Chat(r.Context(), h.gateIdentity(r), req.Message)
	if err != nil {
		if errors.Is(err, assistant.ErrBackendUnavailable) {
			respondError(w, http.StatusServiceUnavailable, "assistant is temporarily unavailable")
			return
		}
		h.respondActionError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, turn)
}

// AssistantReset clears the caller's conversation state.
func (h *Handler) AssistantReset(w http.ResponseWriter, r *http.Request) {
	h.assistantService.Reset(GetSessionID(r.Context()))
	respondJSON(w, http.StatusOK, map[string]string{"message": "conversation reset"})
}

// GetCAPA returns one CAPA record
func (h *Handler) GetCAPA(w http.ResponseWriter, r *http.Request) {
	capa, err := h.capas.GetByID(r.Context(), chi.URLParam(r, "capaID"))
	if err != nil {
		if errors.Is(err, records.ErrCAPANotFound) {
			respondError(w, http.StatusNotFound, "capa not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to get capa", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to get capa")
		return
	}

	respondJSON(w, http.StatusOK, capa)
}

// ListCAPAs returns CAPA records, optionally filtered by status
func (h *Handler) ListCAPAs(w http.ResponseWriter, r *http.Request) {
	status := records.CAPAStatus(r.URL.Query().Get("status"))
	capas, err := h.capas.List(r.Context(), status, 0)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list capas", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list capas")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"capas": capas})
}

// GetDCR returns one DCR record
func (h *Handler) GetDCR(w http.ResponseWriter, r *http.Request) {
	dcr, err := h.dcrs.GetByID(r.Context(), chi.URLParam(r, "dcrID"))
	if err != nil {
		if errors.Is(err, records.ErrDCRNotFound) {
			respondError(w, http.StatusNotFound, "dcr not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to get dcr", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to get dcr")
		return
	}

	respondJSON(w, http.StatusOK, dcr)
}

// ListDCRs returns DCR records, optionally filtered by status
func (h *Handler) ListDCRs(w http.ResponseWriter, r *http.Request) {
	status := records.DCRStatus(r.URL.Query().Get("status"))
	dcrs, err := h.dcrs.List(r.Context(), status, 0)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list dcrs", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list dcrs")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"dcrs": dcrs})
}

// DashboardStats returns record counts by lifecycle status
func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	capaCounts, err := h.capas.CountByStatus(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to count capas", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load dashboard stats")
		return
	}

	dcrCounts, err := h.dcrs.CountByStatus(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to count dcrs", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load dashboard stats")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"capas": capaCounts,
		"dcrs":  dcrCounts,
	})
}

// ListAuditEvents returns an actor's audit trail, newest first. Reserved
// for administrators via the /admin route policy.
func (h *Handler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	actor := r.URL.Query().Get("actor")
	if actor == "" {
		respondError(w, http.StatusBadRequest, "actor is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := h.auditReader.ListByActor(r.Context(), actor, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list audit events", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

// gateIdentity binds the request's verified identity for the action gate.
func (h *Handler) gateIdentity(r *http.Request) action.Identity {
	user := GetUser(r.Context())
	return action.Identity{
		Principal: user.Email,
		Role:      user.Role,
		SessionID: GetSessionID(r.Context()),
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	}
}

// respondActionError maps action gate errors to the HTTP error taxonomy.
func (h *Handler) respondActionError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *records.ValidationError
	switch {
	case errors.Is(err, action.ErrPermissionDenied):
		respondError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, action.ErrConfirmationNotFound):
		respondError(w, http.StatusNotFound, "confirmation not found or expired")
	case errors.Is(err, action.ErrTooManyPending):
		respondError(w, http.StatusConflict, "too many pending confirmations; resolve or cancel existing ones first")
	case errors.Is(err, action.ErrUpstreamUnavailable):
		respondError(w, http.StatusServiceUnavailable, "records store is temporarily unavailable")
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, records.ErrUnknownOperation):
		respondError(w, http.StatusBadRequest, "unknown operation")
	default:
		slog.ErrorContext(r.Context(), "action request failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// Helper functions
func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    sessionID,
		Path:     h.sessionConfig.CookiePath,
		Domain:   h.sessionConfig.CookieDomain,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: h.sessionConfig.CookieHTTPOnly,
		SameSite: h.sessionConfig.CookieSameSite,
		MaxAge:   86400, // 24 hours
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   h.sessionConfig.CookieName,
		Value:  "",
		Path:   h.sessionConfig.CookiePath,
		Domain: h.sessionConfig.CookieDomain,
		MaxAge: -1,
	})
}

func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionConfig.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
