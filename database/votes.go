// quotebook/database/votes.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"quotebook/models"
	"quotebook/utils"
)

// SetVote casts or replaces the actor's rank vote. A nil rarity retracts it. The quote's
// rank is recomputed in the same transaction.
func (ds *DatabaseService) SetVote(ctx context.Context, actor *models.User, quoteID int64, rarity *models.Rarity) (*models.Quote, error) {
	err := ds.withTx(ctx, "SetVote", func(tx *sql.Tx) error {
		q, err := ds.getQuote(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		if err := models.CanRead(actor, q); err != nil {
			return err
		}
		if !q.Approved {
			return fmt.Errorf("%w: only approved quotes can be ranked", models.ErrValidation)
		}

		if rarity == nil {
			_, err = tx.ExecContext(ctx, "DELETE FROM quote_rank_votes WHERE quote_id = ? AND user_id = ?", quoteID, actor.ID)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO quote_rank_votes (quote_id, user_id, rarity, created_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(quote_id, user_id) DO UPDATE SET rarity = excluded.rarity, created_at = excluded.created_at`,
				quoteID, actor.ID, string(*rarity), utils.GetSQLTime())
		}
		if err != nil {
			return fmt.Errorf("failed to record vote: %w", err)
		}
		return recomputeRank(ctx, tx, quoteID)
	})
	if err != nil {
		return nil, err
	}
	return ds.GetQuote(ctx, quoteID)
}

// recomputeRank stores the plurality rarity of the quote's current votes.
func recomputeRank(ctx context.Context, tx *sql.Tx, quoteID int64) error {
	rows, err := tx.QueryContext(ctx, "SELECT rarity FROM quote_rank_votes WHERE quote_id = ?", quoteID)
	if err != nil {
		return err
	}
	var votes []models.Rarity
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			rows.Close()
			return err
		}
		votes = append(votes, models.Rarity(r))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "UPDATE quotes SET rank = ? WHERE id = ?", string(models.ComputeRank(votes)), quoteID)
	return err
}
