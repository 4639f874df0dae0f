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
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/qmsportal/qmsportal/internal/audit"
	"github.com/qmsportal/qmsportal/internal/identity"
	"github.com/qmsportal/qmsportal/internal/observability/logger"
)

// Authorization principles:
// 1. Role is resolved from the verified principal on every request, never
//    read from client-supplied headers or cached in the session record.
// 2. Route prefixes gate pages; operations are gated separately by
//    permission tokens at the action gate. Passing one never implies the
//    other.
// 3. Unauthenticated and unauthorized are distinct outcomes: 401 before
//    403, and the 403 body never enumerates required roles.

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Log request start
			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// SessionMiddleware resolves the session cookie into an authenticated
// user on the request context. Requests without a valid session pass
// through unauthenticated; PolicyMiddleware decides whether that matters
// for the requested path.
func (h *Handler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := h.getSessionFromCookie(r)
		if sessionID == "" {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := h.sessionService.Get(r.Context(), sessionID)
		if err != nil {
			h.clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		if err := h.sessionService.Refresh(r.Context(), sessionID); err != nil {
			slog.ErrorContext(r.Context(), "failed to refresh session", logger.Error(err))
		}

		// Role is re-derived from the principal here. A role change in the
		// resolution rules takes effect on the next request, not the next
		// login.
		user := identity.BuildUser(sess.Email, sess.Name)

		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, sessionIDKey, sess.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PolicyMiddleware enforces the route policy table. The authentication
// check runs before the role check so an anonymous request to a protected
// path is always 401, never 403.
func (h *Handler) PolicyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.policy.Protected(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		user := GetUser(r.Context())
		if user == nil {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		if !h.policy.Authorize(user.Role, r.URL.Path) {
			h.auditLogger.Log(r.Context(), audit.Event{
				Type:      audit.TypeAccessDenied,
				Actor:     user.Email,
				Role:      string(user.Role),
				Resource:  "route",
				Metadata:  map[string]any{"path": r.URL.Path},
				IPAddress: getIPAddress(r),
				UserAgent: r.UserAgent(),
			})
			respondError(w, http.StatusForbidden, "access denied")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects unauthenticated requests regardless of route policy.
// Used for API endpoints that sit outside the page prefix table.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUser(r.Context()) == nil {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}
