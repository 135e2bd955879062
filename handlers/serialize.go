// quotebook/handlers/serialize.go

package handlers

import (
	"context"
	"time"

	"quotebook/models"
)

// --- JSON Views ---

type userSummary struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type userView struct {
	userSummary
	Email       string    `json:"email"`
	IsActive    bool      `json:"is_active"`
	IsSuperuser bool      `json:"is_superuser"`
	DateJoined  time.Time `json:"date_joined"`
}

type lineView struct {
	ID          int64  `json:"id"`
	Position    int    `json:"position"`
	SpeakerName string `json:"speaker_name"`
	Text        string `json:"text"`
	UserID      *int64 `json:"user_id"`
}

type signatureView struct {
	ID             int64                  `json:"id,omitempty"`
	QuoteID        int64                  `json:"quote_id"`
	UserID         int64                  `json:"user_id"`
	Status         models.SignatureStatus `json:"status"`
	SignatureImage string                 `json:"signature_image,omitempty"`
	SignedAt       *time.Time             `json:"signed_at"`
}

type quoteView struct {
	ID                 int64              `json:"id"`
	CreatedBy          *userSummary       `json:"created_by"`
	Participants       []int64            `json:"participants"`
	ParticipantsDetail []userSummary      `json:"participants_detail"`
	Date               string             `json:"date"`
	Time               string             `json:"time"`
	Visible            bool               `json:"visible"`
	Redacted           bool               `json:"redacted"`
	Approved           bool               `json:"approved"`
	ApprovedAt         *time.Time         `json:"approved_at"`
	IsFlagged          bool               `json:"is_flagged"`
	FlaggedBy          *[]int64           `json:"flagged_by,omitempty"`
	HasFlagged         bool               `json:"has_flagged"`
	FlagCount          int                `json:"flag_count"`
	Rank               models.Rarity      `json:"rank"`
	RankVotes          map[string][]int64 `json:"rank_votes"`
	MyVote             *models.Rarity     `json:"my_vote"`
	Notes              string             `json:"notes"`
	SourceURL          string             `json:"source_url"`
	SourceImage        string             `json:"source_image"`
	CreatedAt          time.Time          `json:"created_at"`
	Lines              []lineView         `json:"lines"`
	Signatures         []signatureView    `json:"signatures"`
}

type accountRequestView struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	SubmittedAt time.Time `json:"submitted_at"`
	Approved    bool      `json:"approved"`
}

type modActionView struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ActorID   *int64    `json:"actor_id"`
	Action    string    `json:"action"`
	TargetID  *int64    `json:"target_id"`
	Details   string    `json:"details"`
}

// --- Projections ---

func summarizeUser(u *models.User) userSummary {
	return userSummary{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}

func viewUser(u *models.User) userView {
	return userView{
		userSummary: summarizeUser(u),
		Email:       u.Email,
		IsActive:    u.IsActive,
		IsSuperuser: u.IsSuperuser,
		DateJoined:  u.DateJoined,
	}
}

func viewLines(q *models.Quote, raw bool) []lineView {
	lines := models.ViewLines(q, raw)
	out := make([]lineView, len(lines))
	for i := range lines {
		out[i] = viewLine(&lines[i])
	}
	return out
}

func viewLine(l *models.QuoteLine) lineView {
	v := lineView{ID: l.ID, Position: l.Position, SpeakerName: l.SpeakerName, Text: l.Text}
	if l.UserID.Valid {
		id := l.UserID.Int64
		v.UserID = &id
	}
	return v
}

func viewSignature(quoteID, userID int64, sig *models.Signature) signatureView {
	state := models.StateOf(sig)
	v := signatureView{QuoteID: quoteID, UserID: userID, Status: state.Status, SignatureImage: state.Image}
	if sig != nil {
		v.ID = sig.ID
		at := state.At
		v.SignedAt = &at
	}
	return v
}

// viewSignatures lists one entry per participant, pending included.
func viewSignatures(q *models.Quote) []signatureView {
	out := make([]signatureView, 0, len(q.Participants))
	for _, id := range q.Participants {
		out = append(out, viewSignature(q.ID, id, q.SignatureFor(id)))
	}
	return out
}

// viewQuote projects q for viewer. Flagger identities are only exposed to administrators
// and raw line text only when raw is set.
func viewQuote(q *models.Quote, viewer *models.User, users map[int64]models.User, raw bool) quoteView {
	v := quoteView{
		ID:           q.ID,
		Participants: q.Participants,
		Date:         q.Date,
		Time:         q.Time,
		Visible:      q.Visible,
		Redacted:     q.Redacted,
		Approved:     q.Approved,
		IsFlagged:    q.IsFlagged,
		HasFlagged:   viewer != nil && q.HasFlagged(viewer.ID),
		FlagCount:    len(q.FlaggedBy),
		Rank:         q.Rank,
		RankVotes:    make(map[string][]int64, len(models.RarityScale)),
		Notes:        q.Notes,
		SourceURL:    q.SourceURL,
		SourceImage:  q.SourceImage,
		CreatedAt:    q.CreatedAt,
		Lines:        viewLines(q, raw),
		Signatures:   viewSignatures(q),
	}
	if v.Participants == nil {
		v.Participants = []int64{}
	}
	if q.Creator != nil {
		creator := summarizeUser(q.Creator)
		v.CreatedBy = &creator
	}
	v.ParticipantsDetail = make([]userSummary, 0, len(q.Participants))
	for _, id := range q.Participants {
		if u, ok := users[id]; ok {
			v.ParticipantsDetail = append(v.ParticipantsDetail, summarizeUser(&u))
		}
	}
	if q.ApprovedAt.Valid {
		at := q.ApprovedAt.Time
		v.ApprovedAt = &at
	}
	if viewer.IsAdmin() {
		flaggedBy := append([]int64{}, q.FlaggedBy...)
		v.FlaggedBy = &flaggedBy
	}
	for _, r := range models.RarityScale {
		v.RankVotes[string(r)] = []int64{}
	}
	for _, vote := range q.Votes {
		v.RankVotes[string(vote.Rarity)] = append(v.RankVotes[string(vote.Rarity)], vote.UserID)
	}
	if viewer != nil {
		if r, ok := q.VoteOf(viewer.ID); ok {
			v.MyVote = &r
		}
	}
	return v
}

// viewQuotes projects a list, loading participant details in one query.
func viewQuotes(ctx context.Context, app App, quotes []models.Quote, viewer *models.User, raw bool) ([]quoteView, error) {
	var ids []int64
	for i := range quotes {
		ids = append(ids, quotes[i].Participants...)
	}
	users, err := app.DB().GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]quoteView, len(quotes))
	for i := range quotes {
		out[i] = viewQuote(&quotes[i], viewer, users, raw)
	}
	return out, nil
}

func viewOneQuote(ctx context.Context, app App, q *models.Quote, viewer *models.User, raw bool) (quoteView, error) {
	views, err := viewQuotes(ctx, app, []models.Quote{*q}, viewer, raw)
	if err != nil {
		return quoteView{}, err
	}
	return views[0], nil
}

func viewAccountRequest(req *models.AccountRequest) accountRequestView {
	return accountRequestView{
		ID:          req.ID,
		Username:    req.Username,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		SubmittedAt: req.SubmittedAt,
		Approved:    req.Approved,
	}
}

func viewModAction(a *models.ModAction) modActionView {
	v := modActionView{ID: a.ID, Timestamp: a.Timestamp, Action: a.Action, Details: a.Details.String}
	if a.ActorID.Valid {
		id := a.ActorID.Int64
		v.ActorID = &id
	}
	if a.TargetID.Valid {
		id := a.TargetID.Int64
		v.TargetID = &id
	}
	return v
}
