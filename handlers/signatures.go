// quotebook/handlers/signatures.go

package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"quotebook/config"
	"quotebook/models"
	"quotebook/utils"
)

type signatureRequest struct {
	QuoteID        int64  `json:"quote_id"`
	UserID         *int64 `json:"user_id"`
	SignatureImage string `json:"signature_image"`
}

// target resolves who is signing. Omitting user_id signs for oneself.
func (req *signatureRequest) target(user *models.User) int64 {
	if req.UserID != nil && *req.UserID != 0 {
		return *req.UserID
	}
	return user.ID
}

// HandleSubmitSignature stores the drawn signature and records it for the participant.
func HandleSubmitSignature(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleSubmitSignature")
	user := currentUser(r)

	var req signatureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if req.QuoteID <= 0 {
		respondError(w, fmt.Errorf("%w: quote_id is required", models.ErrValidation), app, logger)
		return
	}
	if req.SignatureImage == "" {
		respondError(w, fmt.Errorf("%w: signature_image is required", models.ErrValidation), app, logger)
		return
	}
	targetID := req.target(user)

	// Reject obvious permission failures before anything is written to storage.
	q, err := app.DB().GetQuote(r.Context(), req.QuoteID)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if err := models.CanSign(user, q, targetID); err != nil {
		respondError(w, err, app, logger)
		return
	}

	ref, err := storeInlineImage(r.Context(), app, req.SignatureImage, "signatures", utils.ImageLimits{
		MaxBytes:  config.MaxImageSize,
		MaxWidth:  config.MaxImageWidth,
		MaxHeight: config.MaxImageHeight,
		FitWidth:  config.SignatureWidth,
		FitHeight: config.SignatureHeight,
	})
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	sig, err := app.DB().SignQuote(r.Context(), user, req.QuoteID, targetID, ref)
	if err != nil {
		releaseUpload(r.Context(), app, ref)
		respondError(w, err, app, logger)
		return
	}
	logger.Info("Quote signed", "quote_id", req.QuoteID, "user_id", targetID, "actor_id", user.ID)
	respondJSON(w, http.StatusCreated, viewSignature(sig.QuoteID, sig.UserID, sig), app)
}

// HandleRefuseSignature records a refusal. A participant who already responded gets 409.
func HandleRefuseSignature(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleRefuseSignature")
	user := currentUser(r)

	var req signatureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if req.QuoteID <= 0 {
		respondError(w, fmt.Errorf("%w: quote_id is required", models.ErrValidation), app, logger)
		return
	}
	targetID := req.target(user)
	sig, err := app.DB().RefuseQuote(r.Context(), user, req.QuoteID, targetID)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	logger.Info("Quote refused", "quote_id", req.QuoteID, "user_id", targetID, "actor_id", user.ID)
	respondJSON(w, http.StatusCreated, viewSignature(sig.QuoteID, sig.UserID, sig), app)
}

// HandleListSignatures returns the per-participant signature states of ?quote_id=.
func HandleListSignatures(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListSignatures")
	quoteID, err := strconv.ParseInt(r.URL.Query().Get("quote_id"), 10, 64)
	if err != nil || quoteID <= 0 {
		respondError(w, fmt.Errorf("%w: quote_id is required", models.ErrValidation), app, logger)
		return
	}
	q, err := app.DB().GetReadableQuote(r.Context(), currentUser(r), quoteID)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, viewSignatures(q), app)
}

// HandlePendingSignatures lists approved quotes still awaiting the user's response.
func HandlePendingSignatures(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandlePendingSignatures")
	user := currentUser(r)
	quotes, err := app.DB().PendingSignatures(r.Context(), user.ID)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	views, err := viewQuotes(r.Context(), app, quotes, user, false)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, views, app)
}

func HandlePendingSignatureCount(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandlePendingSignatureCount")
	count, err := app.DB().CountPendingSignatures(r.Context(), currentUser(r).ID)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": count}, app)
}

func HandleDeleteSignature(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteSignature")
	user := currentUser(r)
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if err := app.DB().DeleteSignature(r.Context(), user, id); err != nil {
		respondError(w, err, app, logger)
		return
	}
	logger.Info("Signature deleted", "signature_id", id, "admin_id", user.ID)
	respondJSON(w, http.StatusOK, map[string]string{"success": "Signature deleted."}, app)
}
