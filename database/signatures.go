// quotebook/database/signatures.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"quotebook/models"
	"quotebook/utils"
)

const signatureColumns = "id, quote_id, user_id, refused, signature_image, signed_at"

func scanSignature(row rowScanner) (models.Signature, error) {
	var s models.Signature
	err := row.Scan(&s.ID, &s.QuoteID, &s.UserID, &s.Refused, &s.SignatureImage, &s.SignedAt)
	return s, err
}

func getSignature(ctx context.Context, qr queryer, where string, args ...interface{}) (*models.Signature, error) {
	s, err := scanSignature(qr.QueryRowContext(ctx, "SELECT "+signatureColumns+" FROM signatures WHERE "+where, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: signature", models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SignQuote records targetID's signature on a quote, replacing any earlier refusal or
// signature. imageRef must already be stored; the image it replaces is released after
// the commit.
func (ds *DatabaseService) SignQuote(ctx context.Context, actor *models.User, quoteID, targetID int64, imageRef string) (*models.Signature, error) {
	if imageRef == "" {
		return nil, fmt.Errorf("%w: a signature image is required", models.ErrValidation)
	}
	var previous sql.NullString
	err := ds.withTx(ctx, "SignQuote", func(tx *sql.Tx) error {
		q, err := ds.getQuote(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		if err := models.CanSign(actor, q, targetID); err != nil {
			return err
		}
		if existing := q.SignatureFor(targetID); existing != nil {
			previous = existing.SignatureImage
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO signatures (quote_id, user_id, refused, signature_image, signed_at) VALUES (?, ?, 0, ?, ?)
			ON CONFLICT(quote_id, user_id) DO UPDATE SET refused = 0, signature_image = excluded.signature_image, signed_at = excluded.signed_at`,
			quoteID, targetID, imageRef, utils.GetSQLTime())
		if err != nil {
			return fmt.Errorf("failed to store signature: %w", err)
		}
		if actor.ID != targetID {
			return LogModAction(tx, actor.ID, "sign_on_behalf", quoteID, fmt.Sprintf("user %d", targetID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if previous.Valid && previous.String != imageRef {
		ds.releaseFiles(ctx, previous.String)
	}
	return getSignature(ctx, ds.DB, "quote_id = ? AND user_id = ?", quoteID, targetID)
}

// RefuseQuote records targetID's refusal. A participant who already responded cannot
// refuse; the UNIQUE constraint settles concurrent attempts.
func (ds *DatabaseService) RefuseQuote(ctx context.Context, actor *models.User, quoteID, targetID int64) (*models.Signature, error) {
	err := ds.withTx(ctx, "RefuseQuote", func(tx *sql.Tx) error {
		q, err := ds.getQuote(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		if err := models.CanSign(actor, q, targetID); err != nil {
			return err
		}
		if q.SignatureFor(targetID) != nil {
			return fmt.Errorf("%w: user %d has already responded to quote %d", models.ErrConflict, targetID, quoteID)
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO signatures (quote_id, user_id, refused, signed_at) VALUES (?, ?, 1, ?)",
			quoteID, targetID, utils.GetSQLTime())
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %d has already responded to quote %d", models.ErrConflict, targetID, quoteID)
		}
		if err != nil {
			return fmt.Errorf("failed to store refusal: %w", err)
		}
		if actor.ID != targetID {
			return LogModAction(tx, actor.ID, "refuse_on_behalf", quoteID, fmt.Sprintf("user %d", targetID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return getSignature(ctx, ds.DB, "quote_id = ? AND user_id = ?", quoteID, targetID)
}

// pendingClause matches approved quotes where the user is a participant without a
// signature row.
const pendingClause = `q.approved = 1
	AND EXISTS (SELECT 1 FROM quote_participants p WHERE p.quote_id = q.id AND p.user_id = ?)
	AND NOT EXISTS (SELECT 1 FROM signatures s WHERE s.quote_id = q.id AND s.user_id = ?)`

// PendingSignatures lists the quotes awaiting userID's response.
func (ds *DatabaseService) PendingSignatures(ctx context.Context, userID int64) ([]models.Quote, error) {
	return ds.loadQuotes(ctx, ds.DB, pendingClause, userID, userID)
}

// CountPendingSignatures returns the number of quotes awaiting userID's response.
func (ds *DatabaseService) CountPendingSignatures(ctx context.Context, userID int64) (int, error) {
	var count int
	err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM quotes q WHERE "+pendingClause, userID, userID).Scan(&count)
	return count, err
}

// DeleteSignature removes a response, returning the participant to pending.
func (ds *DatabaseService) DeleteSignature(ctx context.Context, actor *models.User, signatureID int64) error {
	if !actor.IsAdmin() {
		return fmt.Errorf("%w: only administrators may delete signatures", models.ErrPermission)
	}
	var image sql.NullString
	err := ds.withTx(ctx, "DeleteSignature", func(tx *sql.Tx) error {
		s, err := getSignature(ctx, tx, "id = ?", signatureID)
		if err != nil {
			return err
		}
		image = s.SignatureImage
		if _, err := tx.ExecContext(ctx, "DELETE FROM signatures WHERE id = ?", signatureID); err != nil {
			return fmt.Errorf("failed to delete signature: %w", err)
		}
		return LogModAction(tx, actor.ID, "delete_signature", s.QuoteID, fmt.Sprintf("user %d", s.UserID))
	})
	if err != nil {
		return err
	}
	ds.releaseFiles(ctx, image.String)
	return nil
}
