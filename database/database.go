// quotebook/database/database.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quotebook/models"
	"quotebook/utils"

	"github.com/mattn/go-sqlite3"
)

// DatabaseService is the central struct for all database operations.
type DatabaseService struct {
	DB      *sql.DB
	logger  *slog.Logger
	storage models.StorageService
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// InitDB connects to the database and runs migrations. storage is used to release
// images whose rows are deleted.
func InitDB(dataSourceName string, storage models.StorageService, logger *slog.Logger) (*DatabaseService, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}
	// Run the base schema to ensure all tables exist.
	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to execute base schema: %w", err)
	}

	// Run versioned migrations
	if err := runMigrations(db, logger); err != nil {
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	logger.Info("Database initialized.")
	return New(db, storage, logger), nil
}

// New wraps an already prepared connection.
func New(db *sql.DB, storage models.StorageService, logger *slog.Logger) *DatabaseService {
	return &DatabaseService{DB: db, logger: logger, storage: storage}
}

// BackupDatabase performs an online backup of the live SQLite database using VACUUM INTO.
func (ds *DatabaseService) BackupDatabase(ctx context.Context, backupDir string) (string, error) {
	if backupDir == "" {
		return "", fmt.Errorf("backup directory is not configured")
	}
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return "", fmt.Errorf("could not create backup directory %s: %w", backupDir, err)
	}

	timestamp := time.Now().UTC().Format("2006-01-02_15-04-05")
	backupFilename := fmt.Sprintf("quotebook_backup_%s.db", timestamp)
	backupPath := filepath.Join(backupDir, backupFilename)

	ds.logger.Info("Starting database backup", "destination", backupPath)

	_, err := ds.DB.ExecContext(ctx, "VACUUM INTO ?", backupPath)
	if err != nil {
		// If backup fails, attempt to remove the potentially incomplete file
		if removeErr := os.Remove(backupPath); removeErr != nil && !os.IsNotExist(removeErr) {
			ds.logger.Error("Failed to remove incomplete backup file", "path", backupPath, "error", removeErr)
		}
		return "", fmt.Errorf("VACUUM INTO command failed: %w", err)
	}

	return backupPath, nil
}

// runMigrations applies all un-applied migrations.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	var latestVersion uint
	err := db.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&latestVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("could not get db version: %w", err)
	}

	logger.Info("Current database schema version", "version", latestVersion)

	for _, m := range allMigrations {
		if m.Version > latestVersion {
			logger.Info("Applying migration", "version", m.Version)
			tx, err := db.Begin()
			if err != nil {
				return err
			}

			if _, err := tx.Exec(m.Query); err != nil {
				if rerr := tx.Rollback(); rerr != nil {
					logger.Error("Failed to rollback migration", "version", m.Version, "error", rerr)
				}
				return fmt.Errorf("failed to apply migration v%d: %w", m.Version, err)
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.Version, utils.GetSQLTime()); err != nil {
				if rerr := tx.Rollback(); rerr != nil {
					logger.Error("Failed to rollback migration record", "version", m.Version, "error", rerr)
				}
				return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
			}

			if err := tx.Commit(); err != nil {
				return fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
			}
			logger.Info("Successfully applied migration", "version", m.Version)
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing when it returns nil.
func (ds *DatabaseService) withTx(ctx context.Context, name string, fn func(tx *sql.Tx) error) error {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			ds.logger.Error("Failed to rollback transaction", "op", name, "error", rerr)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// releaseFiles removes stored images after the rows referencing them are gone.
// Failures only leave orphaned files, so they are logged rather than returned.
func (ds *DatabaseService) releaseFiles(ctx context.Context, refs ...string) {
	if ds.storage == nil {
		return
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := ds.storage.DeleteFile(ctx, ref); err != nil {
			ds.logger.Warn("Failed to release stored file", "ref", ref, "error", err)
		}
	}
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// maxInArgs bounds the bound parameters of a single IN list, well under SQLite's
// variable limit.
const maxInArgs = 500

// chunkArgs splits args into slices of at most size elements.
func chunkArgs(args []interface{}, size int) [][]interface{} {
	var chunks [][]interface{}
	for len(args) > size {
		chunks = append(chunks, args[:size:size])
		args = args[size:]
	}
	if len(args) > 0 {
		chunks = append(chunks, args)
	}
	return chunks
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return "?" + strings.Repeat(",?", n-1)
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// LogModAction records an administrative action. actorID and targetID may be zero
// for system jobs and bulk actions.
func LogModAction(tx *sql.Tx, actorID int64, action string, targetID int64, details string) error {
	stmt, err := tx.Prepare("INSERT INTO mod_actions (timestamp, actor_id, action, target_id, details) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare mod action statement: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			slog.Default().Error("Failed to close statement in LogModAction", "error", err)
		}
	}()

	_, err = stmt.Exec(utils.GetSQLTime(), nullID(actorID), action, nullID(targetID), details)
	if err != nil {
		return fmt.Errorf("failed to execute mod action log: %w", err)
	}
	return nil
}

// GetModActions returns the most recent audit log entries, newest first.
func (ds *DatabaseService) GetModActions(ctx context.Context, limit int) ([]models.ModAction, error) {
	rows, err := ds.DB.QueryContext(ctx, "SELECT id, timestamp, actor_id, action, target_id, details FROM mod_actions ORDER BY timestamp DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in GetModActions", "error", err)
		}
	}()

	actions := []models.ModAction{}
	for rows.Next() {
		var a models.ModAction
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.ActorID, &a.Action, &a.TargetID, &a.Details); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
