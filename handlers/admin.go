// quotebook/handlers/admin.go

package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"quotebook/database"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// HandleRefuseStale runs the stale-signature sweep immediately.
func HandleRefuseStale(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleRefuseStale")
	admin := currentUser(r)
	refused, err := app.Scheduler().RunNow(r.Context())
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	logger.Info("Manual stale signature sweep finished", "admin_id", admin.ID, "refused", refused)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": "Stale signatures refused.",
		"refused": refused,
	}, app)
}

// HandleDatabaseBackup writes a VACUUM INTO snapshot to the backup directory.
func HandleDatabaseBackup(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDatabaseBackup")
	admin := currentUser(r)
	backupPath, err := app.DB().BackupDatabase(r.Context(), app.Config().BackupDir)
	if err != nil {
		logger.Error("Failed to create database backup", "error", err)
		respondError(w, err, app, logger)
		return
	}
	logger.Info("Database backup created successfully", "path", backupPath)

	tx, err := app.DB().DB.BeginTx(r.Context(), nil)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			logger.Error("Failed to rollback transaction", "error", rerr)
		}
	}()
	if err := database.LogModAction(tx, admin.ID, "database_backup", 0, backupPath); err != nil {
		respondError(w, err, app, logger)
		return
	}
	if err := tx.Commit(); err != nil {
		respondError(w, err, app, logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"success": "Database backup created.",
		"file":    filepath.Base(backupPath),
	}, app)
}

// HandleModLog returns the newest audit log entries. ?limit= caps the count.
func HandleModLog(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleModLog")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	actions, err := app.DB().GetModActions(r.Context(), limit)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	views := make([]modActionView, len(actions))
	for i := range actions {
		views[i] = viewModAction(&actions[i])
	}
	respondJSON(w, http.StatusOK, views, app)
}
