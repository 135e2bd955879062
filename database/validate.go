// quotebook/database/validate.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"quotebook/config"
	"quotebook/models"
)

func validateLine(l models.LineInput) error {
	speaker, text := strings.TrimSpace(l.SpeakerName), strings.TrimSpace(l.Text)
	if speaker == "" || text == "" {
		return fmt.Errorf("%w: every line needs a speaker and text", models.ErrValidation)
	}
	if utf8.RuneCountInString(speaker) > config.MaxSpeakerLen {
		return fmt.Errorf("%w: speaker name cannot exceed %d characters", models.ErrValidation, config.MaxSpeakerLen)
	}
	if utf8.RuneCountInString(text) > config.MaxLineLen {
		return fmt.Errorf("%w: line text cannot exceed %d characters", models.ErrValidation, config.MaxLineLen)
	}
	return nil
}

func validateQuoteInput(in models.QuoteInput, requireLines bool) error {
	if requireLines && in.Lines == nil {
		return fmt.Errorf("%w: a quote needs at least one line", models.ErrValidation)
	}
	if in.Lines != nil {
		lines := *in.Lines
		if len(lines) == 0 {
			return fmt.Errorf("%w: a quote needs at least one line", models.ErrValidation)
		}
		if len(lines) > config.MaxLines {
			return fmt.Errorf("%w: a quote cannot have more than %d lines", models.ErrValidation, config.MaxLines)
		}
		for _, l := range lines {
			if err := validateLine(l); err != nil {
				return err
			}
		}
	}
	if in.Date != nil && *in.Date != "" {
		if _, err := time.Parse("2006-01-02", *in.Date); err != nil {
			return fmt.Errorf("%w: date must be formatted YYYY-MM-DD", models.ErrValidation)
		}
	}
	if in.Time != nil && *in.Time != "" {
		if _, err := time.Parse("15:04", *in.Time); err != nil {
			if _, err := time.Parse("15:04:05", *in.Time); err != nil {
				return fmt.Errorf("%w: time must be formatted HH:MM", models.ErrValidation)
			}
		}
	}
	if in.Notes != nil && utf8.RuneCountInString(*in.Notes) > config.MaxNotesLen {
		return fmt.Errorf("%w: notes cannot exceed %d characters", models.ErrValidation, config.MaxNotesLen)
	}
	if in.SourceURL != nil && *in.SourceURL != "" {
		if len(*in.SourceURL) > config.MaxSourceLen {
			return fmt.Errorf("%w: source URL cannot exceed %d characters", models.ErrValidation, config.MaxSourceLen)
		}
		u, err := url.Parse(*in.SourceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: source URL must be an http(s) link", models.ErrValidation)
		}
	}
	return nil
}

// lineUserIDs returns the user ids attributed on lines.
func lineUserIDs(lines []models.LineInput) []int64 {
	var ids []int64
	for _, l := range lines {
		if l.UserID != nil && *l.UserID != 0 {
			ids = append(ids, *l.UserID)
		}
	}
	return ids
}

// checkUsersExist fails with ErrValidation when any id does not name an existing user.
func checkUsersExist(ctx context.Context, tx *sql.Tx, ids []int64) error {
	unique := make(map[int64]struct{}, len(ids))
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		if _, seen := unique[id]; !seen {
			unique[id] = struct{}{}
			args = append(args, id)
		}
	}
	if len(args) == 0 {
		return nil
	}
	found := 0
	for _, chunk := range chunkArgs(args, maxInArgs) {
		var n int
		err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE id IN ("+placeholders(len(chunk))+")", chunk...).Scan(&n)
		if err != nil {
			return err
		}
		found += n
	}
	if found != len(args) {
		return fmt.Errorf("%w: unknown user in participants or lines", models.ErrValidation)
	}
	return nil
}

func stringOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return strings.TrimSpace(*p)
}

func boolOr(p *bool, fallback bool) bool {
	if p == nil {
		return fallback
	}
	return *p
}
