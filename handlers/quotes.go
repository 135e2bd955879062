// quotebook/handlers/quotes.go

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"quotebook/config"
	"quotebook/database"
	"quotebook/models"
	"quotebook/utils"
)

// quoteRequest is the body of a quote create or update. SourceImage accepts an inline
// data URL to upload or "" to clear; any other value (such as the URL echoed back from a
// previous read) leaves the stored image untouched.
type quoteRequest struct {
	Date         *string             `json:"date"`
	Time         *string             `json:"time"`
	Visible      *bool               `json:"visible"`
	Redacted     *bool               `json:"redacted"`
	Approved     *bool               `json:"approved"`
	Notes        *string             `json:"notes"`
	SourceURL    *string             `json:"source_url"`
	SourceImage  *string             `json:"source_image"`
	Participants *[]int64            `json:"participants"`
	Lines        *[]models.LineInput `json:"lines"`
}

// toInput converts the request, uploading an inline source image. The returned ref is the
// newly stored file, which the caller must release if the mutation fails.
func (req *quoteRequest) toInput(ctx context.Context, app App) (models.QuoteInput, string, error) {
	in := models.QuoteInput{
		Date:         req.Date,
		Time:         req.Time,
		Visible:      req.Visible,
		Redacted:     req.Redacted,
		Approved:     req.Approved,
		Notes:        req.Notes,
		SourceURL:    req.SourceURL,
		Participants: req.Participants,
		Lines:        req.Lines,
	}
	if req.SourceImage == nil {
		return in, "", nil
	}
	payload := strings.TrimSpace(*req.SourceImage)
	switch {
	case payload == "":
		empty := ""
		in.SourceImage = &empty
		return in, "", nil
	case !strings.HasPrefix(payload, "data:"):
		return in, "", nil
	}
	ref, err := storeInlineImage(ctx, app, payload, "sources", utils.ImageLimits{
		MaxBytes:  config.MaxImageSize,
		MaxWidth:  config.MaxImageWidth,
		MaxHeight: config.MaxImageHeight,
		FitWidth:  config.SourceImageWidth,
		FitHeight: config.SourceImageHeight,
	})
	if err != nil {
		return in, "", err
	}
	in.SourceImage = &ref
	return in, ref, nil
}

// storeInlineImage decodes, normalizes and saves an uploaded image under prefix.
func storeInlineImage(ctx context.Context, app App, payload, prefix string, limits utils.ImageLimits) (string, error) {
	data, err := utils.DecodeInlineImage(payload, limits.MaxBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	img, err := utils.NormalizeImage(data, limits)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	ref, err := app.Storage().SaveFile(ctx, img.Key(prefix), img.Data, img.ContentType)
	if err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	return ref, nil
}

// releaseUpload deletes a file stored for a request that then failed.
func releaseUpload(ctx context.Context, app App, ref string) {
	if ref == "" {
		return
	}
	if err := app.Storage().DeleteFile(ctx, ref); err != nil {
		app.Logger().Warn("Failed to release orphaned upload", "ref", ref, "error", err)
	}
}

// --- Listings ---

// HandleListQuotes returns every quote the user may read.
func HandleListQuotes(w http.ResponseWriter, r *http.Request, app App) {
	respondQueue(w, r, app, database.QueueAll)
}

// HandleQuoteQueue returns a handler listing one moderation queue.
func HandleQuoteQueue(queue database.Queue) func(http.ResponseWriter, *http.Request, App) {
	return func(w http.ResponseWriter, r *http.Request, app App) {
		respondQueue(w, r, app, resolveQueue(r, queue))
	}
}

// HandleQuoteQueueCount returns a handler counting one moderation queue.
func HandleQuoteQueueCount(queue database.Queue) func(http.ResponseWriter, *http.Request, App) {
	return func(w http.ResponseWriter, r *http.Request, app App) {
		logger := app.Logger().With("handler", "HandleQuoteQueueCount", "queue", queue)
		count, err := app.DB().CountQuotes(r.Context(), currentUser(r), resolveQueue(r, queue))
		if err != nil {
			respondError(w, err, app, logger)
			return
		}
		respondJSON(w, http.StatusOK, map[string]int{"count": count}, app)
	}
}

// resolveQueue applies ?scope=all to the unrated queue.
func resolveQueue(r *http.Request, queue database.Queue) database.Queue {
	if queue == database.QueueUnrated && r.URL.Query().Get("scope") == "all" {
		return database.QueueUnratedAll
	}
	return queue
}

func respondQueue(w http.ResponseWriter, r *http.Request, app App, queue database.Queue) {
	logger := app.Logger().With("handler", "respondQueue", "queue", queue)
	user := currentUser(r)
	quotes, err := app.DB().ListQuotes(r.Context(), user, queue)
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

// --- Single Quote ---

func HandleGetQuote(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleGetQuote")
	respondReadableQuote(w, r, app, logger, false)
}

// HandleEditQuote returns the raw, unredacted quote for administrators.
func HandleEditQuote(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleEditQuote")
	if !currentUser(r).IsAdmin() {
		respondError(w, fmt.Errorf("%w: only administrators may edit quotes", models.ErrPermission), app, logger)
		return
	}
	respondReadableQuote(w, r, app, logger, true)
}

func respondReadableQuote(w http.ResponseWriter, r *http.Request, app App, logger *slog.Logger, raw bool) {
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	user := currentUser(r)
	q, err := app.DB().GetReadableQuote(r.Context(), user, id)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	view, err := viewOneQuote(r.Context(), app, q, user, raw)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, view, app)
}

func HandleCreateQuote(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleCreateQuote")
	user := currentUser(r)

	var req quoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	in, uploaded, err := req.toInput(r.Context(), app)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	q, err := app.DB().CreateQuote(r.Context(), user, in)
	if err != nil {
		releaseUpload(r.Context(), app, uploaded)
		respondError(w, err, app, logger)
		return
	}
	logger.Info("Quote created", "quote_id", q.ID, "user_id", user.ID, "approved", q.Approved)

	view, err := viewOneQuote(r.Context(), app, q, user, false)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusCreated, view, app)
}

// HandleUpdateQuote serves PUT (full replace, lines required) and PATCH (partial).
func HandleUpdateQuote(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUpdateQuote")
	user := currentUser(r)
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err, app, logger)
		return
	}

	var req quoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if r.Method == http.MethodPut && req.Lines == nil {
		respondError(w, fmt.Errorf("%w: lines are required", models.ErrValidation), app, logger)
		return
	}
	if !user.IsAdmin() {
		respondError(w, fmt.Errorf("%w: only administrators may modify quote %d", models.ErrPermission, id), app, logger)
		return
	}
	in, uploaded, err := req.toInput(r.Context(), app)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	q, err := app.DB().UpdateQuote(r.Context(), user, id, in)
	if err != nil {
		releaseUpload(r.Context(), app, uploaded)
		respondError(w, err, app, logger)
		return
	}
	logger.Info("Quote updated", "quote_id", q.ID, "admin_id", user.ID)

	view, err := viewOneQuote(r.Context(), app, q, user, true)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, view, app)
}

func HandleDeleteQuote(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteQuote")
	user := currentUser(r)
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if err := app.DB().DeleteQuote(r.Context(), user, id); err != nil {
		respondError(w, err, app, logger)
		return
	}
	logger.Info("Quote deleted", "quote_id", id, "admin_id", user.ID)
	respondJSON(w, http.StatusOK, map[string]string{"success": "Quote deleted."}, app)
}

// --- Community Actions ---

func HandleFlagQuote(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleFlagQuote")
	user := currentUser(r)
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	q, err := app.DB().FlagQuote(r.Context(), user, id)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	logger.Info("Quote flagged", "quote_id", id, "user_id", user.ID)
	view, err := viewOneQuote(r.Context(), app, q, user, false)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, view, app)
}

// HandleVote casts, changes or (with a null or empty rarity) retracts the user's vote.
func HandleVote(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleVote")
	user := currentUser(r)
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	var req struct {
		Rarity *string `json:"rarity"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, err, app, logger)
		return
	}
	var rarity *models.Rarity
	if req.Rarity != nil && strings.TrimSpace(*req.Rarity) != "" {
		parsed, ok := models.ParseRarity(*req.Rarity)
		if !ok {
			respondError(w, fmt.Errorf("%w: unknown rarity %q", models.ErrValidation, *req.Rarity), app, logger)
			return
		}
		rarity = &parsed
	}
	q, err := app.DB().SetVote(r.Context(), user, id, rarity)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	view, err := viewOneQuote(r.Context(), app, q, user, false)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, view, app)
}

// --- Lines ---

func HandleListLines(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListLines")
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	user := currentUser(r)
	q, err := app.DB().GetReadableQuote(r.Context(), user, id)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, viewLines(q, false), app)
}

func HandleAddLine(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAddLine")
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	var in models.LineInput
	if err := decodeJSON(w, r, &in); err != nil {
		respondError(w, err, app, logger)
		return
	}
	line, err := app.DB().AddLine(r.Context(), currentUser(r), id, in)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusCreated, viewLine(line), app)
}

func HandleUpdateLine(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUpdateLine")
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	var upd models.LineUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		respondError(w, err, app, logger)
		return
	}
	line, err := app.DB().UpdateLine(r.Context(), currentUser(r), id, upd)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, viewLine(line), app)
}

func HandleDeleteLine(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteLine")
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if err := app.DB().DeleteLine(r.Context(), currentUser(r), id); err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"success": "Line deleted."}, app)
}
