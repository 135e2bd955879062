// quotebook/database/quotes.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"quotebook/models"
	"quotebook/utils"
)

// Queue selects one of the quote listings.
type Queue string

const (
	QueueAll        Queue = "all"
	QueueUnapproved Queue = "unapproved"
	QueueSubmitted  Queue = "submitted"
	QueueFlagged    Queue = "flagged"
	// QueueUnrated lists approved quotes the viewer can read but has not voted on.
	QueueUnrated Queue = "unrated"
	// QueueUnratedAll lists approved quotes nobody has voted on. Administrators only.
	QueueUnratedAll Queue = "unrated_all"
)

const quoteColumns = `q.id, q.created_by, q.quote_date, q.quote_time, q.visible, q.redacted, q.approved, q.approved_at,
	q.is_flagged, q.rank, q.notes, q.source_url, q.source_image, q.created_at,
	u.id, u.username, u.email, u.first_name, u.last_name, u.is_active, u.is_superuser, u.date_joined`

const quoteFrom = ` FROM quotes q JOIN users u ON u.id = q.created_by`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuote(row rowScanner) (models.Quote, error) {
	var q models.Quote
	var rank string
	c := &models.User{}
	err := row.Scan(&q.ID, &q.CreatedBy, &q.Date, &q.Time, &q.Visible, &q.Redacted, &q.Approved, &q.ApprovedAt,
		&q.IsFlagged, &rank, &q.Notes, &q.SourceURL, &q.SourceImage, &q.CreatedAt,
		&c.ID, &c.Username, &c.Email, &c.FirstName, &c.LastName, &c.IsActive, &c.IsSuperuser, &c.DateJoined)
	q.Rank = models.Rarity(rank)
	q.Creator = c
	return q, err
}

// readableClause restricts a quote query to rows viewer may read.
func readableClause(viewer *models.User) (string, []interface{}) {
	if viewer.IsAdmin() {
		return "1 = 1", nil
	}
	return `((q.approved = 1 AND q.visible = 1) OR q.created_by = ?
		OR EXISTS (SELECT 1 FROM quote_participants p WHERE p.quote_id = q.id AND p.user_id = ?))`,
		[]interface{}{viewer.ID, viewer.ID}
}

// queueClause returns the WHERE clause for a listing, enforcing who may see it.
func queueClause(viewer *models.User, queue Queue) (string, []interface{}, error) {
	if !viewer.IsApproved() {
		return "", nil, fmt.Errorf("%w: account is not approved", models.ErrPermission)
	}
	switch queue {
	case QueueAll:
		where, args := readableClause(viewer)
		return where, args, nil
	case QueueSubmitted:
		return "q.created_by = ? AND q.approved = 0", []interface{}{viewer.ID}, nil
	case QueueUnrated:
		where, args := readableClause(viewer)
		where = "q.approved = 1 AND " + where +
			" AND NOT EXISTS (SELECT 1 FROM quote_rank_votes v WHERE v.quote_id = q.id AND v.user_id = ?)"
		return where, append(args, viewer.ID), nil
	}

	if !viewer.IsAdmin() {
		return "", nil, fmt.Errorf("%w: the %s queue is restricted to administrators", models.ErrPermission, queue)
	}
	switch queue {
	case QueueUnapproved:
		return "q.approved = 0", nil, nil
	case QueueFlagged:
		return "q.is_flagged = 1", nil, nil
	case QueueUnratedAll:
		return "q.approved = 1 AND NOT EXISTS (SELECT 1 FROM quote_rank_votes v WHERE v.quote_id = q.id)", nil, nil
	}
	return "", nil, fmt.Errorf("%w: unknown queue %q", models.ErrValidation, queue)
}

// ListQuotes returns the quotes in a queue, newest first.
func (ds *DatabaseService) ListQuotes(ctx context.Context, viewer *models.User, queue Queue) ([]models.Quote, error) {
	where, args, err := queueClause(viewer, queue)
	if err != nil {
		return nil, err
	}
	return ds.loadQuotes(ctx, ds.DB, where, args...)
}

// CountQuotes returns the size of a queue.
func (ds *DatabaseService) CountQuotes(ctx context.Context, viewer *models.User, queue Queue) (int, error) {
	where, args, err := queueClause(viewer, queue)
	if err != nil {
		return 0, err
	}
	var count int
	err = ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM quotes q WHERE "+where, args...).Scan(&count)
	return count, err
}

// GetQuote fetches a fully loaded quote.
func (ds *DatabaseService) GetQuote(ctx context.Context, id int64) (*models.Quote, error) {
	return ds.getQuote(ctx, ds.DB, id)
}

// GetReadableQuote fetches a quote and checks that viewer may read it.
func (ds *DatabaseService) GetReadableQuote(ctx context.Context, viewer *models.User, id int64) (*models.Quote, error) {
	q, err := ds.GetQuote(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := models.CanRead(viewer, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (ds *DatabaseService) getQuote(ctx context.Context, qr queryer, id int64) (*models.Quote, error) {
	quotes, err := ds.loadQuotes(ctx, qr, "q.id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("%w: quote %d", models.ErrNotFound, id)
	}
	return &quotes[0], nil
}

func (ds *DatabaseService) loadQuotes(ctx context.Context, qr queryer, where string, args ...interface{}) ([]models.Quote, error) {
	rows, err := qr.QueryContext(ctx, "SELECT "+quoteColumns+quoteFrom+" WHERE "+where+" ORDER BY q.created_at DESC, q.id DESC", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes: %w", err)
	}
	quotes := []models.Quote{}
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan quote row: %w", err)
		}
		quotes = append(quotes, q)
	}
	if err := rows.Close(); err != nil {
		ds.logger.Error("Failed to close rows in loadQuotes", "error", err)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := ds.hydrate(ctx, qr, quotes); err != nil {
		return nil, err
	}
	return quotes, nil
}

// hydrate fills in participants, flags, lines, signatures and votes for quotes.
func (ds *DatabaseService) hydrate(ctx context.Context, qr queryer, quotes []models.Quote) error {
	if len(quotes) == 0 {
		return nil
	}
	byID := make(map[int64]*models.Quote, len(quotes))
	ids := make([]interface{}, 0, len(quotes))
	for i := range quotes {
		byID[quotes[i].ID] = &quotes[i]
		ids = append(ids, quotes[i].ID)
	}
	for _, chunk := range chunkArgs(ids, maxInArgs) {
		if err := ds.hydrateChunk(ctx, qr, byID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (ds *DatabaseService) hydrateChunk(ctx context.Context, qr queryer, byID map[int64]*models.Quote, ids []interface{}) error {
	in := " WHERE quote_id IN (" + placeholders(len(ids)) + ")"

	err := ds.eachRow(ctx, qr, "SELECT quote_id, user_id FROM quote_participants"+in+" ORDER BY user_id", ids, func(rows *sql.Rows) error {
		var quoteID, userID int64
		if err := rows.Scan(&quoteID, &userID); err != nil {
			return err
		}
		byID[quoteID].Participants = append(byID[quoteID].Participants, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}

	err = ds.eachRow(ctx, qr, "SELECT quote_id, user_id FROM quote_flags"+in+" ORDER BY created_at, user_id", ids, func(rows *sql.Rows) error {
		var quoteID, userID int64
		if err := rows.Scan(&quoteID, &userID); err != nil {
			return err
		}
		byID[quoteID].FlaggedBy = append(byID[quoteID].FlaggedBy, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load flags: %w", err)
	}

	err = ds.eachRow(ctx, qr, "SELECT id, quote_id, position, speaker_name, text, user_id FROM quote_lines"+in+" ORDER BY position, id", ids, func(rows *sql.Rows) error {
		var l models.QuoteLine
		if err := rows.Scan(&l.ID, &l.QuoteID, &l.Position, &l.SpeakerName, &l.Text, &l.UserID); err != nil {
			return err
		}
		byID[l.QuoteID].Lines = append(byID[l.QuoteID].Lines, l)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load lines: %w", err)
	}

	err = ds.eachRow(ctx, qr, "SELECT "+signatureColumns+" FROM signatures"+in+" ORDER BY id", ids, func(rows *sql.Rows) error {
		s, err := scanSignature(rows)
		if err != nil {
			return err
		}
		byID[s.QuoteID].Signatures = append(byID[s.QuoteID].Signatures, s)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load signatures: %w", err)
	}

	err = ds.eachRow(ctx, qr, "SELECT id, quote_id, user_id, rarity, created_at FROM quote_rank_votes"+in+" ORDER BY id", ids, func(rows *sql.Rows) error {
		var v models.RankVote
		var rarity string
		if err := rows.Scan(&v.ID, &v.QuoteID, &v.UserID, &rarity, &v.CreatedAt); err != nil {
			return err
		}
		v.Rarity = models.Rarity(rarity)
		byID[v.QuoteID].Votes = append(byID[v.QuoteID].Votes, v)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load votes: %w", err)
	}
	return nil
}

func (ds *DatabaseService) eachRow(ctx context.Context, qr queryer, query string, args []interface{}, fn func(rows *sql.Rows) error) error {
	rows, err := qr.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows", "error", err)
		}
	}()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CreateQuote stores a new quote. Only administrators may publish directly; everyone
// else submits a hidden, unapproved quote for review.
func (ds *DatabaseService) CreateQuote(ctx context.Context, actor *models.User, in models.QuoteInput) (*models.Quote, error) {
	if err := models.CanCreate(actor); err != nil {
		return nil, err
	}
	if err := validateQuoteInput(in, true); err != nil {
		return nil, err
	}

	visible, approved := false, false
	if actor.IsAdmin() {
		visible, approved = boolOr(in.Visible, false), boolOr(in.Approved, false)
	}
	now := utils.GetSQLTime()
	approvedAt := sql.NullTime{Time: now, Valid: approved}

	var quoteID int64
	err := ds.withTx(ctx, "CreateQuote", func(tx *sql.Tx) error {
		userIDs := lineUserIDs(*in.Lines)
		if in.Participants != nil {
			userIDs = append(userIDs, *in.Participants...)
		}
		if err := checkUsersExist(ctx, tx, userIDs); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO quotes (created_by, quote_date, quote_time, visible, redacted, approved, approved_at, notes, source_url, source_image, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			actor.ID, stringOr(in.Date, ""), stringOr(in.Time, ""), visible, boolOr(in.Redacted, false), approved, approvedAt,
			stringOr(in.Notes, ""), stringOr(in.SourceURL, ""), stringOr(in.SourceImage, ""), now)
		if err != nil {
			return fmt.Errorf("failed to insert quote: %w", err)
		}
		if quoteID, err = res.LastInsertId(); err != nil {
			return err
		}
		if err := insertLines(ctx, tx, quoteID, *in.Lines, 0); err != nil {
			return err
		}
		if err := syncParticipants(ctx, tx, quoteID, in.Participants); err != nil {
			return err
		}
		if approved {
			return LogModAction(tx, actor.ID, "approve_quote", quoteID, "approved on creation")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ds.GetQuote(ctx, quoteID)
}

// UpdateQuote applies an administrative edit. Any edit invalidates the community state
// attached to the old content: flags, votes and signatures are cleared, the rank drops
// back to common and approved_at is re-stamped.
func (ds *DatabaseService) UpdateQuote(ctx context.Context, actor *models.User, id int64, in models.QuoteInput) (*models.Quote, error) {
	if err := validateQuoteInput(in, false); err != nil {
		return nil, err
	}

	var released []string
	err := ds.withTx(ctx, "UpdateQuote", func(tx *sql.Tx) error {
		q, err := ds.getQuote(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := models.CanWrite(actor, q); err != nil {
			return err
		}

		sourceImage := q.SourceImage
		if in.SourceImage != nil && *in.SourceImage != q.SourceImage {
			released = append(released, q.SourceImage)
			sourceImage = *in.SourceImage
		}
		approved := boolOr(in.Approved, q.Approved)

		_, err = tx.ExecContext(ctx, `
			UPDATE quotes SET quote_date = ?, quote_time = ?, visible = ?, redacted = ?, approved = ?,
			                  notes = ?, source_url = ?, source_image = ?
			WHERE id = ?`,
			stringOr(in.Date, q.Date), stringOr(in.Time, q.Time), boolOr(in.Visible, q.Visible), boolOr(in.Redacted, q.Redacted),
			approved, stringOr(in.Notes, q.Notes), stringOr(in.SourceURL, q.SourceURL), sourceImage, id)
		if err != nil {
			return fmt.Errorf("failed to update quote: %w", err)
		}

		var userIDs []int64
		if in.Participants != nil {
			userIDs = append(userIDs, *in.Participants...)
		}
		if in.Lines != nil {
			userIDs = append(userIDs, lineUserIDs(*in.Lines)...)
		}
		if err := checkUsersExist(ctx, tx, userIDs); err != nil {
			return err
		}
		if in.Lines != nil {
			if _, err := tx.ExecContext(ctx, "DELETE FROM quote_lines WHERE quote_id = ?", id); err != nil {
				return err
			}
			if err := insertLines(ctx, tx, id, *in.Lines, 0); err != nil {
				return err
			}
		}
		if err := syncParticipants(ctx, tx, id, in.Participants); err != nil {
			return err
		}

		images, err := resetDerivedState(ctx, tx, id, approved)
		if err != nil {
			return err
		}
		released = append(released, images...)

		action := "update_quote"
		if approved && !q.Approved {
			action = "approve_quote"
		} else if !approved && q.Approved {
			action = "unapprove_quote"
		}
		return LogModAction(tx, actor.ID, action, id, fmt.Sprintf("cleared %d signatures", len(q.Signatures)))
	})
	if err != nil {
		return nil, err
	}
	ds.releaseFiles(ctx, released...)
	return ds.GetQuote(ctx, id)
}

// DeleteQuote removes a quote and everything attached to it.
func (ds *DatabaseService) DeleteQuote(ctx context.Context, actor *models.User, id int64) error {
	var released []string
	err := ds.withTx(ctx, "DeleteQuote", func(tx *sql.Tx) error {
		q, err := ds.getQuote(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := models.CanWrite(actor, q); err != nil {
			return err
		}
		released = append(released, q.SourceImage)
		for _, s := range q.Signatures {
			released = append(released, s.SignatureImage.String)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM quotes WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete quote: %w", err)
		}
		return LogModAction(tx, actor.ID, "delete_quote", id, fmt.Sprintf("%d lines", len(q.Lines)))
	})
	if err != nil {
		return err
	}
	ds.releaseFiles(ctx, released...)
	return nil
}

func insertLines(ctx context.Context, tx *sql.Tx, quoteID int64, lines []models.LineInput, startPos int) error {
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO quote_lines (quote_id, position, speaker_name, text, user_id) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare line insert: %w", err)
	}
	defer stmt.Close()
	for i, l := range lines {
		var userID int64
		if l.UserID != nil {
			userID = *l.UserID
		}
		if _, err := stmt.ExecContext(ctx, quoteID, startPos+i, stringOr(&l.SpeakerName, ""), stringOr(&l.Text, ""), nullID(userID)); err != nil {
			return fmt.Errorf("failed to insert line: %w", err)
		}
	}
	return nil
}

// syncParticipants replaces the explicit participant set when one is given, then adds
// every user attributed on a line.
func syncParticipants(ctx context.Context, tx *sql.Tx, quoteID int64, explicit *[]int64) error {
	if explicit != nil {
		if _, err := tx.ExecContext(ctx, "DELETE FROM quote_participants WHERE quote_id = ?", quoteID); err != nil {
			return err
		}
		for _, userID := range *explicit {
			if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO quote_participants (quote_id, user_id) VALUES (?, ?)", quoteID, userID); err != nil {
				return fmt.Errorf("failed to add participant: %w", err)
			}
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO quote_participants (quote_id, user_id)
		SELECT quote_id, user_id FROM quote_lines WHERE quote_id = ? AND user_id IS NOT NULL`, quoteID)
	if err != nil {
		return fmt.Errorf("failed to add line participants: %w", err)
	}
	return nil
}

// resetDerivedState clears flags, votes and signatures after a content edit and
// re-stamps approved_at. It returns the signature images to release once committed.
func resetDerivedState(ctx context.Context, tx *sql.Tx, quoteID int64, approved bool) ([]string, error) {
	var images []string
	rows, err := tx.QueryContext(ctx, "SELECT signature_image FROM signatures WHERE quote_id = ? AND signature_image IS NOT NULL", quoteID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			rows.Close()
			return nil, err
		}
		images = append(images, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, stmt := range []string{
		"DELETE FROM signatures WHERE quote_id = ?",
		"DELETE FROM quote_rank_votes WHERE quote_id = ?",
		"DELETE FROM quote_flags WHERE quote_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, quoteID); err != nil {
			return nil, fmt.Errorf("failed to reset quote state: %w", err)
		}
	}

	approvedAt := sql.NullTime{Time: utils.GetSQLTime(), Valid: approved}
	_, err = tx.ExecContext(ctx, "UPDATE quotes SET is_flagged = 0, rank = ?, approved_at = ? WHERE id = ?",
		string(models.RarityCommon), approvedAt, quoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to reset quote state: %w", err)
	}
	return images, nil
}
