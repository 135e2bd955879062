// quotebook/database/accounts.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"quotebook/models"
	"quotebook/utils"
)

const accountRequestColumns = "id, first_name, last_name, username, email, password_hash, submitted_at, approved"

func scanAccountRequest(row rowScanner) (models.AccountRequest, error) {
	var r models.AccountRequest
	err := row.Scan(&r.ID, &r.FirstName, &r.LastName, &r.Username, &r.Email, &r.PasswordHash, &r.SubmittedAt, &r.Approved)
	return r, err
}

// checkIdentityFree fails with ErrConflict when username or email is already used by an
// existing user.
func checkIdentityFree(ctx context.Context, tx *sql.Tx, username, email string) error {
	var taken int
	err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = ? OR (email != '' AND email = ?)", username, email).Scan(&taken)
	if err != nil {
		return err
	}
	if taken > 0 {
		return fmt.Errorf("%w: username or email is already registered", models.ErrConflict)
	}
	return nil
}

// CreateAccountRequest queues a request for a new account.
func (ds *DatabaseService) CreateAccountRequest(ctx context.Context, req *models.AccountRequest) (*models.AccountRequest, error) {
	var id int64
	err := ds.withTx(ctx, "CreateAccountRequest", func(tx *sql.Tx) error {
		if err := checkIdentityFree(ctx, tx, req.Username, req.Email); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO account_requests (first_name, last_name, username, email, password_hash, submitted_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			req.FirstName, req.LastName, req.Username, req.Email, req.PasswordHash, utils.GetSQLTime())
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: an account request for this username or email is already pending", models.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("failed to insert account request: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return ds.getAccountRequest(ctx, ds.DB, id)
}

func (ds *DatabaseService) getAccountRequest(ctx context.Context, qr queryer, id int64) (*models.AccountRequest, error) {
	r, err := scanAccountRequest(qr.QueryRowContext(ctx, "SELECT "+accountRequestColumns+" FROM account_requests WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: account request %d", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListAccountRequests returns pending requests, oldest first.
func (ds *DatabaseService) ListAccountRequests(ctx context.Context) ([]models.AccountRequest, error) {
	reqs := []models.AccountRequest{}
	err := ds.eachRow(ctx, ds.DB, "SELECT "+accountRequestColumns+" FROM account_requests WHERE approved = 0 ORDER BY submitted_at, id", nil,
		func(rows *sql.Rows) error {
			r, err := scanAccountRequest(rows)
			if err != nil {
				return err
			}
			reqs = append(reqs, r)
			return nil
		})
	return reqs, err
}

// CountAccountRequests returns the number of accounts waiting for approval.
func (ds *DatabaseService) CountAccountRequests(ctx context.Context) (int, error) {
	var count int
	err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM account_requests WHERE approved = 0").Scan(&count)
	return count, err
}

// ApproveAccountRequest turns a request into an active user and consumes the request.
func (ds *DatabaseService) ApproveAccountRequest(ctx context.Context, actor *models.User, id int64) (*models.User, error) {
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only administrators may approve accounts", models.ErrPermission)
	}
	var userID int64
	err := ds.withTx(ctx, "ApproveAccountRequest", func(tx *sql.Tx) error {
		req, err := ds.getAccountRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := checkIdentityFree(ctx, tx, req.Username, req.Email); err != nil {
			return err
		}
		userID, err = insertUser(ctx, tx, &models.User{
			Username: req.Username, Email: req.Email, FirstName: req.FirstName, LastName: req.LastName,
			PasswordHash: req.PasswordHash, IsActive: true,
		})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM account_requests WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to consume account request: %w", err)
		}
		return LogModAction(tx, actor.ID, "approve_account", userID, req.Username)
	})
	if err != nil {
		return nil, err
	}
	return ds.GetUserByID(ctx, userID)
}

// RejectAccountRequest discards a pending request.
func (ds *DatabaseService) RejectAccountRequest(ctx context.Context, actor *models.User, id int64) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: only administrators may reject accounts", models.ErrPermission)
	}
	return ds.withTx(ctx, "RejectAccountRequest", func(tx *sql.Tx) error {
		req, err := ds.getAccountRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM account_requests WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete account request: %w", err)
		}
		return LogModAction(tx, actor.ID, "reject_account", id, req.Username)
	})
}
