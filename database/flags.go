// quotebook/database/flags.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"quotebook/models"
	"quotebook/utils"
)

// FlagQuote marks a quote for administrator attention. Flagging twice is a no-op.
func (ds *DatabaseService) FlagQuote(ctx context.Context, actor *models.User, quoteID int64) (*models.Quote, error) {
	err := ds.withTx(ctx, "FlagQuote", func(tx *sql.Tx) error {
		q, err := ds.getQuote(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		if err := models.CanRead(actor, q); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO quote_flags (quote_id, user_id, created_at) VALUES (?, ?, ?)",
			quoteID, actor.ID, utils.GetSQLTime()); err != nil {
			return fmt.Errorf("failed to flag quote: %w", err)
		}
		_, err = tx.ExecContext(ctx, "UPDATE quotes SET is_flagged = 1 WHERE id = ?", quoteID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ds.GetQuote(ctx, quoteID)
}
