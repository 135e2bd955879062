// quotebook/handlers/middleware.go

package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"quotebook/config"
	"quotebook/models"
	"quotebook/utils"

	"github.com/go-chi/chi/v5/middleware"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	UserKey       ContextKey = "user"
	AuthSourceKey ContextKey = "authSource"
)

// Session sources recorded by AuthMiddleware.
const (
	authBearer = "bearer"
	authCookie = "cookie"
)

// currentUser returns the authenticated user or nil.
func currentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(UserKey).(*models.User)
	return user
}

// sessionToken extracts a token from the Authorization header or the session cookie.
func sessionToken(r *http.Request) (token, source string) {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")), authBearer
	}
	if c, err := r.Cookie(config.SessionCookieName); err == nil && c.Value != "" {
		return c.Value, authCookie
	}
	return "", ""
}

// AuthMiddleware resolves the session token, reloads its user and stores it in the
// request context. Requests without a valid session pass through anonymously.
func AuthMiddleware(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, source := sessionToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := utils.ParseSessionToken([]byte(app.Config().JWTSecret), token)
			if err != nil {
				app.Logger().Debug("Rejected session token", "error", err, "source", source)
				next.ServeHTTP(w, r)
				return
			}
			user, err := app.DB().GetUserByID(r.Context(), claims.UserID)
			if err != nil {
				if !errors.Is(err, models.ErrNotFound) {
					app.Logger().Error("Failed to load session user", "error", err, "user_id", claims.UserID)
				}
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), UserKey, user)
			ctx = context.WithValue(ctx, AuthSourceKey, source)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CSRFMiddleware issues the double-submit cookie and, for cookie-authenticated unsafe
// requests, requires the X-CSRF-Token header to match it. Bearer tokens are exempt.
func CSRFMiddleware(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(config.CSRFCookieName)
			if err != nil || cookie.Value == "" {
				cookie = setCSRFCookie(w, r)
			}

			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
				next.ServeHTTP(w, r)
				return
			}
			if source, _ := r.Context().Value(AuthSourceKey).(string); source != authCookie {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(config.CSRFHeaderName)
			if header == "" || subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) != 1 {
				app.Logger().Warn("CSRF token mismatch", "path", r.URL.Path, "remote_ip", utils.GetIPAddress(r))
				respondError(w, fmt.Errorf("%w: invalid CSRF token", models.ErrPermission), app, app.Logger())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// setCSRFCookie writes a fresh CSRF cookie. It is readable by scripts so clients can echo
// it in the header.
func setCSRFCookie(w http.ResponseWriter, r *http.Request) *http.Cookie {
	cookie := &http.Cookie{
		Name:     config.CSRFCookieName,
		Value:    utils.NewCSRFToken(),
		Path:     "/",
		HttpOnly: false,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}
	http.SetCookie(w, cookie)
	return cookie
}

// RequireUser rejects anonymous requests with 401 and unapproved accounts with 403.
func RequireUser(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := currentUser(r)
			if user == nil {
				respondError(w, errUnauthenticated, app, app.Logger())
				return
			}
			if !user.IsApproved() {
				respondError(w, fmt.Errorf("%w: account is not approved", models.ErrPermission), app, app.Logger())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin allows only administrators. It must run after RequireUser.
func RequireAdmin(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !currentUser(r).IsAdmin() {
				respondError(w, fmt.Errorf("%w: administrator access required", models.ErrPermission), app, app.Logger())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewStructuredLogger logs one line per request through slog.
func NewStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				level := slog.LevelInfo
				if ww.Status() >= http.StatusInternalServerError {
					level = slog.LevelError
				}
				logger.LogAttrs(r.Context(), level, "Request handled",
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", ww.Status()),
					slog.Int("bytes", ww.BytesWritten()),
					slog.Duration("duration", time.Since(start)),
					slog.String("remote_ip", r.RemoteAddr),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// NewSecurityHeadersMiddleware sets response hardening headers. mediaOrigin, when set,
// is allowed as an image source for stored signatures.
func NewSecurityHeadersMiddleware(mediaOrigin string) func(next http.Handler) http.Handler {
	imgSrc := "'self' data:"
	if mediaOrigin != "" {
		imgSrc += " " + strings.TrimSuffix(mediaOrigin, "/")
	}
	csp := "default-src 'none'; img-src " + imgSrc + "; frame-ancestors 'none'"
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", csp)
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "same-origin")
			next.ServeHTTP(w, r)
		})
	}
}
