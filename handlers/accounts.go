// quotebook/handlers/accounts.go

package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"quotebook/config"
	"quotebook/models"
	"quotebook/utils"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.@+-]+$`)

type accountRequestBody struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ChallengeToken  string `json:"challenge_token"`
	ChallengeAnswer string `json:"challenge_answer"`
}

func (b *accountRequestBody) validate() error {
	b.Username = strings.TrimSpace(b.Username)
	b.Email = strings.TrimSpace(b.Email)
	b.FirstName = strings.TrimSpace(b.FirstName)
	b.LastName = strings.TrimSpace(b.LastName)

	switch {
	case b.Username == "" || utf8.RuneCountInString(b.Username) > config.MaxUsernameLen:
		return fmt.Errorf("%w: username must be between 1 and %d characters", models.ErrValidation, config.MaxUsernameLen)
	case !usernamePattern.MatchString(b.Username):
		return fmt.Errorf("%w: username may only contain letters, digits and @/./+/-/_", models.ErrValidation)
	case utf8.RuneCountInString(b.FirstName) > config.MaxNameLen || utf8.RuneCountInString(b.LastName) > config.MaxNameLen:
		return fmt.Errorf("%w: names cannot exceed %d characters", models.ErrValidation, config.MaxNameLen)
	case len(b.Password) < config.MinPasswordLen:
		return fmt.Errorf("%w: password must be at least %d characters", models.ErrValidation, config.MinPasswordLen)
	}
	addr, err := mail.ParseAddress(b.Email)
	if err != nil || addr.Address != b.Email {
		return fmt.Errorf("%w: a valid email address is required", models.ErrValidation)
	}
	return nil
}

// HandleCreateAccountRequest queues a sign-up for administrator approval.
func HandleCreateAccountRequest(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleCreateAccountRequest")
	ip := utils.GetIPAddress(r)

	if !app.RateLimiter().Allow(ip) {
		logger.Warn("Rate limit exceeded", "ip", ip)
		respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "You are doing that too much. Please wait."}, app)
		return
	}

	var body accountRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if !app.Challenges().Verify(body.ChallengeToken, strings.TrimSpace(body.ChallengeAnswer)) {
		respondError(w, fmt.Errorf("%w: incorrect answer to the challenge question", models.ErrValidation), app, logger)
		return
	}
	if err := body.validate(); err != nil {
		respondError(w, err, app, logger)
		return
	}

	hash, err := utils.HashPassword(body.Password)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	req, err := app.DB().CreateAccountRequest(r.Context(), &models.AccountRequest{
		FirstName:    body.FirstName,
		LastName:     body.LastName,
		Username:     body.Username,
		Email:        body.Email,
		PasswordHash: hash,
	})
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	logger.Info("Account requested", "request_id", req.ID, "username", req.Username, "ip", ip)
	respondJSON(w, http.StatusCreated, viewAccountRequest(req), app)
}

func HandleListAccountRequests(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListAccountRequests")
	reqs, err := app.DB().ListAccountRequests(r.Context())
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	views := make([]accountRequestView, len(reqs))
	for i := range reqs {
		views[i] = viewAccountRequest(&reqs[i])
	}
	respondJSON(w, http.StatusOK, views, app)
}

// HandleUnapprovedUserCount reports the number of pending account requests.
func HandleUnapprovedUserCount(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUnapprovedUserCount")
	count, err := app.DB().CountAccountRequests(r.Context())
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": count}, app)
}

// HandleApproveAccountRequest turns a request into an active user and notifies them by
// email. Mail failures are logged only.
func HandleApproveAccountRequest(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleApproveAccountRequest")
	admin := currentUser(r)
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	user, err := app.DB().ApproveAccountRequest(r.Context(), admin, id)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	logger.Info("Account approved", "request_id", id, "user_id", user.ID, "admin_id", admin.ID)

	if user.Email != "" {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 10*time.Second)
		defer cancel()
		if err := app.Mailer().SendAccountApproved(ctx, user.Email, user.Username); err != nil {
			logger.Error("Failed to send approval email", "user_id", user.ID, "error", err)
		}
	}
	respondJSON(w, http.StatusCreated, viewUser(user), app)
}

func HandleRejectAccountRequest(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleRejectAccountRequest")
	admin := currentUser(r)
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if err := app.DB().RejectAccountRequest(r.Context(), admin, id); err != nil {
		respondError(w, err, app, logger)
		return
	}
	logger.Info("Account request rejected", "request_id", id, "admin_id", admin.ID)
	respondJSON(w, http.StatusOK, map[string]string{"success": "Account request rejected."}, app)
}
