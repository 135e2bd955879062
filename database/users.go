// quotebook/database/users.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"quotebook/models"
	"quotebook/utils"
)

const userColumns = "id, username, email, first_name, last_name, password_hash, is_active, is_superuser, date_joined"

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.IsActive, &u.IsSuperuser, &u.DateJoined)
	return u, err
}

func getUser(ctx context.Context, qr queryer, where string, args ...interface{}) (*models.User, error) {
	u, err := scanUser(qr.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user", models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func insertUser(ctx context.Context, tx *sql.Tx, u *models.User) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO users (username, email, first_name, last_name, password_hash, is_active, is_superuser, date_joined)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.FirstName, u.LastName, u.PasswordHash, u.IsActive, u.IsSuperuser, utils.GetSQLTime())
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("%w: username %q is taken", models.ErrConflict, u.Username)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}
	return res.LastInsertId()
}

// CreateUser inserts a user whose password is already hashed.
func (ds *DatabaseService) CreateUser(ctx context.Context, u *models.User) (*models.User, error) {
	var id int64
	err := ds.withTx(ctx, "CreateUser", func(tx *sql.Tx) error {
		var err error
		id, err = insertUser(ctx, tx, u)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ds.GetUserByID(ctx, id)
}

func (ds *DatabaseService) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return getUser(ctx, ds.DB, "id = ?", id)
}

func (ds *DatabaseService) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return getUser(ctx, ds.DB, "username = ?", username)
}

// GetUsersByIDs loads the given users keyed by id. Unknown ids are skipped.
func (ds *DatabaseService) GetUsersByIDs(ctx context.Context, ids []int64) (map[int64]models.User, error) {
	users := make(map[int64]models.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	for _, chunk := range chunkArgs(args, maxInArgs) {
		err := ds.eachRow(ctx, ds.DB, "SELECT "+userColumns+" FROM users WHERE id IN ("+placeholders(len(chunk))+")", chunk, func(rows *sql.Rows) error {
			u, err := scanUser(rows)
			if err != nil {
				return err
			}
			users[u.ID] = u
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return users, nil
}

// ListUsers returns users ordered by username. activeOnly hides unapproved accounts.
func (ds *DatabaseService) ListUsers(ctx context.Context, activeOnly bool) ([]models.User, error) {
	query := "SELECT " + userColumns + " FROM users"
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	users := []models.User{}
	err := ds.eachRow(ctx, ds.DB, query+" ORDER BY username", nil, func(rows *sql.Rows) error {
		u, err := scanUser(rows)
		if err != nil {
			return err
		}
		users = append(users, u)
		return nil
	})
	return users, err
}

// UpdateUser applies an administrator's changes to an account. Administrators cannot
// revoke their own access.
func (ds *DatabaseService) UpdateUser(ctx context.Context, actor *models.User, id int64, upd models.UserUpdate) (*models.User, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only administrators may edit users", models.ErrPermission)
	}
	if actor.ID == id && ((upd.IsActive != nil && !*upd.IsActive) || (upd.IsSuperuser != nil && !*upd.IsSuperuser)) {
		return nil, fmt.Errorf("%w: you cannot revoke your own access", models.ErrValidation)
	}
	err := ds.withTx(ctx, "UpdateUser", func(tx *sql.Tx) error {
		u, err := getUser(ctx, tx, "id = ?", id)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "UPDATE users SET first_name = ?, last_name = ?, email = ?, is_active = ?, is_superuser = ? WHERE id = ?",
			stringOr(upd.FirstName, u.FirstName), stringOr(upd.LastName, u.LastName), stringOr(upd.Email, u.Email),
			boolOr(upd.IsActive, u.IsActive), boolOr(upd.IsSuperuser, u.IsSuperuser), id)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		return LogModAction(tx, actor.ID, "update_user", id, u.Username)
	})
	if err != nil {
		return nil, err
	}
	return ds.GetUserByID(ctx, id)
}

// DeleteUser removes an account along with the quotes it created and its votes and
// signatures.
func (ds *DatabaseService) DeleteUser(ctx context.Context, actor *models.User, id int64) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: only administrators may delete users", models.ErrPermission)
	}
	if actor.ID == id {
		return fmt.Errorf("%w: you cannot delete your own account", models.ErrValidation)
	}
	var released []string
	err := ds.withTx(ctx, "DeleteUser", func(tx *sql.Tx) error {
		u, err := getUser(ctx, tx, "id = ?", id)
		if err != nil {
			return err
		}
		err = ds.eachRow(ctx, tx, `
			SELECT signature_image FROM signatures
			WHERE signature_image IS NOT NULL AND (user_id = ? OR quote_id IN (SELECT id FROM quotes WHERE created_by = ?))
			UNION ALL
			SELECT source_image FROM quotes WHERE created_by = ? AND source_image != ''`,
			[]interface{}{id, id, id}, func(rows *sql.Rows) error {
				var ref string
				if err := rows.Scan(&ref); err != nil {
					return err
				}
				released = append(released, ref)
				return nil
			})
		if err != nil {
			return fmt.Errorf("failed to collect user files: %w", err)
		}
		// Votes and flags cascade with the user; the quotes they touched need their
		// derived rank and flag state rebuilt afterwards.
		var touched []int64
		err = ds.eachRow(ctx, tx, `
			SELECT quote_id FROM quote_rank_votes WHERE user_id = ?
			UNION
			SELECT quote_id FROM quote_flags WHERE user_id = ?`,
			[]interface{}{id, id}, func(rows *sql.Rows) error {
				var quoteID int64
				if err := rows.Scan(&quoteID); err != nil {
					return err
				}
				touched = append(touched, quoteID)
				return nil
			})
		if err != nil {
			return fmt.Errorf("failed to collect user votes and flags: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		for _, quoteID := range touched {
			if err := recomputeRank(ctx, tx, quoteID); err != nil {
				return fmt.Errorf("failed to recompute rank for quote %d: %w", quoteID, err)
			}
			_, err := tx.ExecContext(ctx, "UPDATE quotes SET is_flagged = EXISTS(SELECT 1 FROM quote_flags WHERE quote_id = quotes.id) WHERE id = ?", quoteID)
			if err != nil {
				return fmt.Errorf("failed to refresh flag state for quote %d: %w", quoteID, err)
			}
		}
		return LogModAction(tx, actor.ID, "delete_user", id, u.Username)
	})
	if err != nil {
		return err
	}
	ds.releaseFiles(ctx, released...)
	return nil
}

// EnsureAdmin creates an administrator account if username is not taken. It reports
// whether a user was created.
func (ds *DatabaseService) EnsureAdmin(ctx context.Context, username, password, email string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return false, nil
	}
	if _, err := ds.GetUserByUsername(ctx, username); err == nil {
		return false, nil
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return false, err
	}
	_, err = ds.CreateUser(ctx, &models.User{
		Username: username, Email: email, PasswordHash: hash, IsActive: true, IsSuperuser: true,
	})
	if err != nil {
		return false, err
	}
	ds.logger.Info("Bootstrapped administrator account", "username", username)
	return true, nil
}
