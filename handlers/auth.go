// quotebook/handlers/auth.go

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"quotebook/config"
	"quotebook/models"
	"quotebook/utils"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CSRFToken string    `json:"csrf_token"`
	User      userView  `json:"user"`
}

// HandleLogin checks credentials and issues a session token, both in the body and as an
// HttpOnly cookie.
func HandleLogin(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleLogin")
	ip := utils.GetIPAddress(r)

	if !app.RateLimiter().Allow(ip) {
		logger.Warn("Rate limit exceeded", "ip", ip)
		respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too many login attempts. Please wait."}, app)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	invalid := fmt.Errorf("%w: invalid username or password", errUnauthenticated)

	user, err := app.DB().GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if errors.Is(err, models.ErrNotFound) {
		respondError(w, invalid, app, logger)
		return
	}
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		logger.Info("Failed login", "username", user.Username, "ip", ip)
		respondError(w, invalid, app, logger)
		return
	}
	if !user.IsActive {
		respondError(w, fmt.Errorf("%w: account is awaiting approval", models.ErrPermission), app, logger)
		return
	}

	token, expiresAt, err := utils.IssueSessionToken([]byte(app.Config().JWTSecret), user.ID, user.Username, app.Config().SessionTTL)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     config.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	csrf := setCSRFCookie(w, r)

	logger.Info("User logged in", "user_id", user.ID, "ip", ip)
	respondJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		CSRFToken: csrf.Value,
		User:      viewUser(user),
	}, app)
}

// HandleLogout clears the session cookie. Bearer tokens simply expire.
func HandleLogout(w http.ResponseWriter, r *http.Request, app App) {
	http.SetCookie(w, &http.Cookie{
		Name:     config.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	respondJSON(w, http.StatusOK, map[string]string{"success": "Logged out."}, app)
}

func HandleCurrentUser(w http.ResponseWriter, r *http.Request, app App) {
	respondJSON(w, http.StatusOK, viewUser(currentUser(r)), app)
}
