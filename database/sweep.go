// quotebook/database/sweep.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RefuseStaleSignatures auto-refuses on behalf of every participant of an approved quote
// that has collected no response at all within staleAfter of its approval. Quotes with
// at least one signature or refusal are left alone. It returns the number of refusals
// created; running it again before new activity creates none.
func (ds *DatabaseService) RefuseStaleSignatures(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	cutoff := now.UTC().Add(-staleAfter)
	refused := 0
	err := ds.withTx(ctx, "RefuseStaleSignatures", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT q.id FROM quotes q
			WHERE q.approved = 1 AND q.approved_at IS NOT NULL AND q.approved_at < ?
			AND NOT EXISTS (SELECT 1 FROM signatures s WHERE s.quote_id = q.id)`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to select stale quotes: %w", err)
		}
		var quoteIDs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			quoteIDs = append(quoteIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, quoteID := range quoteIDs {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO signatures (quote_id, user_id, refused, signed_at)
				SELECT p.quote_id, p.user_id, 1, ? FROM quote_participants p
				WHERE p.quote_id = ?
				AND NOT EXISTS (SELECT 1 FROM signatures s WHERE s.quote_id = p.quote_id AND s.user_id = p.user_id)`,
				now.UTC(), quoteID)
			if err != nil {
				return fmt.Errorf("failed to refuse stale signatures for quote %d: %w", quoteID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			refused += int(n)
		}

		if refused == 0 {
			return nil
		}
		return LogModAction(tx, 0, "refuse_stale_signatures", 0,
			fmt.Sprintf("auto-refused %d signatures across %d quotes", refused, len(quoteIDs)))
	})
	if err != nil {
		return 0, err
	}
	ds.logger.Info("Stale signature sweep finished", "refused", refused, "cutoff", cutoff)
	return refused, nil
}
