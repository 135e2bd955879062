// quotebook/models/models.go
package models

import (
	"database/sql"
	"strings"
	"time"
)

// --- Rank Scale ---

// Rarity is a community-voted rank category.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// RarityScale is ordered from lowest to highest rarity. Ties resolve toward the front.
var RarityScale = []Rarity{RarityCommon, RarityUncommon, RarityRare, RarityEpic, RarityLegendary}

// ParseRarity normalizes a user supplied rarity name.
func ParseRarity(s string) (Rarity, bool) {
	r := Rarity(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range RarityScale {
		if r == known {
			return r, true
		}
	}
	return "", false
}

// --- Core Data Models ---

type User struct {
	ID           int64
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	IsActive     bool
	IsSuperuser  bool
	DateJoined   time.Time
}

// IsApproved reports whether the account has been approved and not deactivated.
func (u *User) IsApproved() bool { return u != nil && u.IsActive }

// IsAdmin reports whether the user holds administrator rights.
func (u *User) IsAdmin() bool { return u.IsApproved() && u.IsSuperuser }

type Quote struct {
	ID           int64
	CreatedBy    int64
	Creator      *User
	Participants []int64
	Date         string
	Time         string
	Visible      bool
	Redacted     bool
	Approved     bool
	ApprovedAt   sql.NullTime
	IsFlagged    bool
	FlaggedBy    []int64
	Rank         Rarity
	Notes        string
	SourceURL    string
	SourceImage  string
	CreatedAt    time.Time
	Lines        []QuoteLine
	Signatures   []Signature
	Votes        []RankVote
}

// HasParticipant reports whether userID is named on the quote.
func (q *Quote) HasParticipant(userID int64) bool {
	for _, id := range q.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// HasFlagged reports whether userID has flagged the quote.
func (q *Quote) HasFlagged(userID int64) bool {
	for _, id := range q.FlaggedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// SignatureFor returns the signature row recorded for userID, or nil when pending.
func (q *Quote) SignatureFor(userID int64) *Signature {
	for i := range q.Signatures {
		if q.Signatures[i].UserID == userID {
			return &q.Signatures[i]
		}
	}
	return nil
}

// VoteOf returns the rarity userID voted for, if any.
func (q *Quote) VoteOf(userID int64) (Rarity, bool) {
	for _, v := range q.Votes {
		if v.UserID == userID {
			return v.Rarity, true
		}
	}
	return "", false
}

type QuoteLine struct {
	ID          int64
	QuoteID     int64
	Position    int
	SpeakerName string
	Text        string
	UserID      sql.NullInt64
}

type Signature struct {
	ID             int64
	QuoteID        int64
	UserID         int64
	Refused        bool
	SignatureImage sql.NullString
	SignedAt       time.Time
}

type RankVote struct {
	ID        int64
	QuoteID   int64
	UserID    int64
	Rarity    Rarity
	CreatedAt time.Time
}

type AccountRequest struct {
	ID           int64
	FirstName    string
	LastName     string
	Username     string
	Email        string
	PasswordHash string
	SubmittedAt  time.Time
	Approved     bool
}

// --- Signature State ---

type SignatureStatus string

const (
	SignaturePending SignatureStatus = "pending"
	SignatureSigned  SignatureStatus = "signed"
	SignatureRefused SignatureStatus = "refused"
)

// SignatureState is the participant's response to a quote. Image and At are only
// meaningful for signed (Image, At) and refused (At) states.
type SignatureState struct {
	Status SignatureStatus
	Image  string
	At     time.Time
}

// StateOf derives the explicit state from an optional signature row.
func StateOf(sig *Signature) SignatureState {
	switch {
	case sig == nil:
		return SignatureState{Status: SignaturePending}
	case sig.Refused:
		return SignatureState{Status: SignatureRefused, At: sig.SignedAt}
	default:
		return SignatureState{Status: SignatureSigned, Image: sig.SignatureImage.String, At: sig.SignedAt}
	}
}

// --- Mutation Inputs ---

type LineInput struct {
	SpeakerName string `json:"speaker_name"`
	Text        string `json:"text"`
	UserID      *int64 `json:"user_id"`
}

// LineUpdate patches a single line. A UserID of zero detaches the line from its user.
type LineUpdate struct {
	SpeakerName *string `json:"speaker_name"`
	Text        *string `json:"text"`
	UserID      *int64  `json:"user_id"`
}

// QuoteInput carries the fields of a create or update. Nil pointers leave the stored
// value unchanged on update. SourceImage holds a storage reference; an empty string clears it.
type QuoteInput struct {
	Date         *string
	Time         *string
	Visible      *bool
	Redacted     *bool
	Approved     *bool
	Notes        *string
	SourceURL    *string
	SourceImage  *string
	Participants *[]int64
	Lines        *[]LineInput
}

type UserUpdate struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	Email       *string `json:"email"`
	IsActive    *bool   `json:"is_active"`
	IsSuperuser *bool   `json:"is_superuser"`
}

// --- Audit ---

type ModAction struct {
	ID        int64
	Timestamp time.Time
	ActorID   sql.NullInt64
	Action    string
	TargetID  sql.NullInt64
	Details   sql.NullString
}
