// quotebook/handlers/users.go

package handlers

import (
	"net/http"

	"quotebook/models"
)

// HandleListUsers returns active users for participant pickers.
func HandleListUsers(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListUsers")
	users, err := app.DB().ListUsers(r.Context(), true)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	views := make([]userSummary, len(users))
	for i := range users {
		views[i] = summarizeUser(&users[i])
	}
	respondJSON(w, http.StatusOK, views, app)
}

// HandleAdminListUsers returns every account with its flags.
func HandleAdminListUsers(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleAdminListUsers")
	users, err := app.DB().ListUsers(r.Context(), false)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	views := make([]userView, len(users))
	for i := range users {
		views[i] = viewUser(&users[i])
	}
	respondJSON(w, http.StatusOK, views, app)
}

func HandleUpdateUser(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUpdateUser")
	admin := currentUser(r)
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	var upd models.UserUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		respondError(w, err, app, logger)
		return
	}
	user, err := app.DB().UpdateUser(r.Context(), admin, id, upd)
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	logger.Info("User updated", "user_id", id, "admin_id", admin.ID)
	respondJSON(w, http.StatusOK, viewUser(user), app)
}

func HandleDeleteUser(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteUser")
	admin := currentUser(r)
	id, err := pathID(r, "id")
	if err != nil {
		respondError(w, err, app, logger)
		return
	}
	if err := app.DB().DeleteUser(r.Context(), admin, id); err != nil {
		respondError(w, err, app, logger)
		return
	}
	logger.Info("User deleted", "user_id", id, "admin_id", admin.ID)
	respondJSON(w, http.StatusOK, map[string]string{"success": "User deleted."}, app)
}
