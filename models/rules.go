// quotebook/models/rules.go
package models

import "fmt"

// RedactionPlaceholder replaces line text in standard views of a redacted quote.
const RedactionPlaceholder = "REDACTED"

// CanCreate reports whether user may submit new quotes.
func CanCreate(user *User) error {
	if !user.IsApproved() {
		return fmt.Errorf("%w: account is not approved", ErrPermission)
	}
	return nil
}

// CanRead decides whether user may see quote. Existence is not hidden: callers report a
// missing quote as ErrNotFound before asking.
func CanRead(user *User, quote *Quote) error {
	if !user.IsApproved() {
		return fmt.Errorf("%w: account is not approved", ErrPermission)
	}
	if user.IsAdmin() {
		return nil
	}
	involved := quote.CreatedBy == user.ID || quote.HasParticipant(user.ID)
	if involved || (quote.Approved && quote.Visible) {
		return nil
	}
	return fmt.Errorf("%w: you do not have access to quote %d", ErrPermission, quote.ID)
}

// CanWrite decides whether user may edit or delete quote after creation.
func CanWrite(user *User, quote *Quote) error {
	if user.IsAdmin() {
		return nil
	}
	return fmt.Errorf("%w: only administrators may modify quote %d", ErrPermission, quote.ID)
}

// CanSign decides whether actor may sign or refuse quote for target. Only administrators
// may act on behalf of another participant.
//
// Unapproved quotes are not rejected here.
func CanSign(actor *User, quote *Quote, targetID int64) error {
	if !actor.IsApproved() {
		return fmt.Errorf("%w: account is not approved", ErrPermission)
	}
	if actor.ID != targetID && !actor.IsAdmin() {
		return fmt.Errorf("%w: only administrators may sign on behalf of another user", ErrPermission)
	}
	if !quote.HasParticipant(targetID) {
		return fmt.Errorf("%w: user %d is not a participant of quote %d", ErrValidation, targetID, quote.ID)
	}
	return nil
}

// ComputeRank returns the plurality rarity among votes. Ties go to the lower rarity and an
// empty tally resolves to common.
func ComputeRank(votes []Rarity) Rarity {
	tally := make(map[Rarity]int, len(RarityScale))
	for _, v := range votes {
		tally[v]++
	}
	best, max := RarityCommon, 0
	for _, r := range RarityScale {
		if tally[r] > max {
			best, max = r, tally[r]
		}
	}
	return best
}

// ViewLines returns the quote's lines as a caller should see them. Raw views are reserved
// for administrators editing the quote.
func ViewLines(quote *Quote, raw bool) []QuoteLine {
	lines := make([]QuoteLine, len(quote.Lines))
	copy(lines, quote.Lines)
	if quote.Redacted && !raw {
		for i := range lines {
			lines[i].Text = RedactionPlaceholder
		}
	}
	return lines
}
