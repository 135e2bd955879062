// quotebook/database/lines.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"quotebook/config"
	"quotebook/models"
)

func getLine(ctx context.Context, qr queryer, lineID int64) (*models.QuoteLine, error) {
	var l models.QuoteLine
	err := qr.QueryRowContext(ctx, "SELECT id, quote_id, position, speaker_name, text, user_id FROM quote_lines WHERE id = ?", lineID).
		Scan(&l.ID, &l.QuoteID, &l.Position, &l.SpeakerName, &l.Text, &l.UserID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: line %d", models.ErrNotFound, lineID)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// AddLine appends a line to a quote. Line edits change the content of the quote, so
// they reset its derived state exactly like UpdateQuote.
func (ds *DatabaseService) AddLine(ctx context.Context, actor *models.User, quoteID int64, in models.LineInput) (*models.QuoteLine, error) {
	if err := validateLine(in); err != nil {
		return nil, err
	}
	var lineID int64
	var released []string
	err := ds.withTx(ctx, "AddLine", func(tx *sql.Tx) error {
		q, err := ds.getQuote(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		if err := models.CanWrite(actor, q); err != nil {
			return err
		}
		if len(q.Lines) >= config.MaxLines {
			return fmt.Errorf("%w: a quote cannot have more than %d lines", models.ErrValidation, config.MaxLines)
		}
		if err := checkUsersExist(ctx, tx, lineUserIDs([]models.LineInput{in})); err != nil {
			return err
		}

		var next int
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(position), -1) + 1 FROM quote_lines WHERE quote_id = ?", quoteID).Scan(&next); err != nil {
			return err
		}
		if err := insertLines(ctx, tx, quoteID, []models.LineInput{in}, next); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, "SELECT last_insert_rowid()").Scan(&lineID); err != nil {
			return err
		}
		if released, err = ds.afterLineEdit(ctx, tx, actor, q); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ds.releaseFiles(ctx, released...)
	return getLine(ctx, ds.DB, lineID)
}

// UpdateLine patches a single line.
func (ds *DatabaseService) UpdateLine(ctx context.Context, actor *models.User, lineID int64, upd models.LineUpdate) (*models.QuoteLine, error) {
	var released []string
	err := ds.withTx(ctx, "UpdateLine", func(tx *sql.Tx) error {
		l, err := getLine(ctx, tx, lineID)
		if err != nil {
			return err
		}
		q, err := ds.getQuote(ctx, tx, l.QuoteID)
		if err != nil {
			return err
		}
		if err := models.CanWrite(actor, q); err != nil {
			return err
		}

		merged := models.LineInput{SpeakerName: stringOr(upd.SpeakerName, l.SpeakerName), Text: stringOr(upd.Text, l.Text)}
		userID := l.UserID
		if upd.UserID != nil {
			userID = nullID(*upd.UserID)
			merged.UserID = upd.UserID
		}
		if err := validateLine(merged); err != nil {
			return err
		}
		if err := checkUsersExist(ctx, tx, lineUserIDs([]models.LineInput{merged})); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, "UPDATE quote_lines SET speaker_name = ?, text = ?, user_id = ? WHERE id = ?",
			merged.SpeakerName, merged.Text, userID, lineID)
		if err != nil {
			return fmt.Errorf("failed to update line: %w", err)
		}
		released, err = ds.afterLineEdit(ctx, tx, actor, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	ds.releaseFiles(ctx, released...)
	return getLine(ctx, ds.DB, lineID)
}

// DeleteLine removes a line. The last remaining line of a quote cannot be deleted.
func (ds *DatabaseService) DeleteLine(ctx context.Context, actor *models.User, lineID int64) error {
	var released []string
	err := ds.withTx(ctx, "DeleteLine", func(tx *sql.Tx) error {
		l, err := getLine(ctx, tx, lineID)
		if err != nil {
			return err
		}
		q, err := ds.getQuote(ctx, tx, l.QuoteID)
		if err != nil {
			return err
		}
		if err := models.CanWrite(actor, q); err != nil {
			return err
		}
		if len(q.Lines) <= 1 {
			return fmt.Errorf("%w: a quote needs at least one line", models.ErrValidation)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM quote_lines WHERE id = ?", lineID); err != nil {
			return fmt.Errorf("failed to delete line: %w", err)
		}
		released, err = ds.afterLineEdit(ctx, tx, actor, q)
		return err
	})
	if err != nil {
		return err
	}
	ds.releaseFiles(ctx, released...)
	return nil
}

func (ds *DatabaseService) afterLineEdit(ctx context.Context, tx *sql.Tx, actor *models.User, q *models.Quote) ([]string, error) {
	if err := syncParticipants(ctx, tx, q.ID, nil); err != nil {
		return nil, err
	}
	images, err := resetDerivedState(ctx, tx, q.ID, q.Approved)
	if err != nil {
		return nil, err
	}
	if err := LogModAction(tx, actor.ID, "edit_lines", q.ID, fmt.Sprintf("cleared %d signatures", len(q.Signatures))); err != nil {
		return nil, err
	}
	return images, nil
}
