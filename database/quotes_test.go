package database

import (
	"context"
	"errors"
	"testing"

	"quotebook/models"
)

func TestCreateQuote(t *testing.T) {
	ds, _ := setupTestDB(t)
	ctx := context.Background()
	admin := createTestUser(t, ds, "admin", true)
	bob := createTestUser(t, ds, "bob", false)
	carol := createTestUser(t, ds, "carol", false)

	t.Run("Non-admin submissions are hidden and unapproved", func(t *testing.T) {
		q, err := ds.CreateQuote(ctx, bob, models.QuoteInput{
			Lines:        lines("Bob", "I said a thing"),
			Participants: ids(carol.ID),
			Visible:      boolPtr(true),
			Approved:     boolPtr(true),
		})
		if err != nil {
			t.Fatalf("CreateQuote failed: %v", err)
		}
		if q.Visible || q.Approved || q.ApprovedAt.Valid {
			t.Errorf("Expected visible=false approved=false approved_at=null, got %v %v %v", q.Visible, q.Approved, q.ApprovedAt)
		}
		if q.Rank != models.RarityCommon {
			t.Errorf("Expected rank common, got %s", q.Rank)
		}
		if q.Creator == nil || q.Creator.ID != bob.ID {
			t.Errorf("Expected creator %d, got %+v", bob.ID, q.Creator)
		}
	})

	t.Run("Admin submissions honor flags and stamp approved_at", func(t *testing.T) {
		q := createApprovedQuote(t, ds, admin, bob.ID)
		if !q.Visible || !q.Approved || !q.ApprovedAt.Valid {
			t.Errorf("Expected visible approved quote with approved_at, got %v %v %v", q.Visible, q.Approved, q.ApprovedAt)
		}
	})

	t.Run("Line users become participants", func(t *testing.T) {
		q, err := ds.CreateQuote(ctx, bob, models.QuoteInput{
			Lines: &[]models.LineInput{{SpeakerName: "Carol", Text: "Hi", UserID: &carol.ID}},
		})
		if err != nil {
			t.Fatalf("CreateQuote failed: %v", err)
		}
		if !q.HasParticipant(carol.ID) {
			t.Errorf("Expected carol to be a participant, got %v", q.Participants)
		}
		if len(q.Lines) != 1 || !q.Lines[0].UserID.Valid || q.Lines[0].UserID.Int64 != carol.ID {
			t.Errorf("Expected line attributed to carol, got %+v", q.Lines)
		}
	})

	testCases := []struct {
		name  string
		input models.QuoteInput
	}{
		{"No lines", models.QuoteInput{}},
		{"Empty lines", models.QuoteInput{Lines: &[]models.LineInput{}}},
		{"Blank speaker", models.QuoteInput{Lines: lines(" ", "text")}},
		{"Bad date", models.QuoteInput{Lines: lines("A", "b"), Date: strPtr("yesterday")}},
		{"Bad source URL", models.QuoteInput{Lines: lines("A", "b"), SourceURL: strPtr("javascript:alert(1)")}},
		{"Unknown participant", models.QuoteInput{Lines: lines("A", "b"), Participants: ids(9999)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ds.CreateQuote(ctx, bob, tc.input)
			if !errors.Is(err, models.ErrValidation) {
				t.Errorf("Expected ErrValidation, got %v", err)
			}
		})
	}

	t.Run("Inactive users cannot create", func(t *testing.T) {
		inactive := &models.User{ID: bob.ID, IsActive: false}
		_, err := ds.CreateQuote(ctx, inactive, models.QuoteInput{Lines: lines("A", "b")})
		if !errors.Is(err, models.ErrPermission) {
			t.Errorf("Expected ErrPermission, got %v", err)
		}
	})
}

func strPtr(s string) *string { return &s }

func TestQuoteQueues(t *testing.T) {
	ds, _ := setupTestDB(t)
	ctx := context.Background()
	admin := createTestUser(t, ds, "admin", true)
	bob := createTestUser(t, ds, "bob", false)
	carol := createTestUser(t, ds, "carol", false)
	dave := createTestUser(t, ds, "dave", false)

	public := createApprovedQuote(t, ds, admin, carol.ID)
	submitted, err := ds.CreateQuote(ctx, bob, models.QuoteInput{Lines: lines("Bob", "pending"), Participants: ids(carol.ID)})
	if err != nil {
		t.Fatalf("CreateQuote failed: %v", err)
	}
	hidden, err := ds.CreateQuote(ctx, admin, models.QuoteInput{Lines: lines("Carol", "secret"), Participants: ids(carol.ID), Approved: boolPtr(true)})
	if err != nil {
		t.Fatalf("CreateQuote failed: %v", err)
	}

	count := func(t *testing.T, viewer *models.User, queue Queue) int {
		t.Helper()
		n, err := ds.CountQuotes(ctx, viewer, queue)
		if err != nil {
			t.Fatalf("CountQuotes(%s) failed: %v", queue, err)
		}
		list, err := ds.ListQuotes(ctx, viewer, queue)
		if err != nil {
			t.Fatalf("ListQuotes(%s) failed: %v", queue, err)
		}
		if len(list) != n {
			t.Fatalf("List and count disagree for %s: %d vs %d", queue, len(list), n)
		}
		return n
	}

	testCases := []struct {
		name     string
		viewer   *models.User
		queue    Queue
		expected int
	}{
		{"Admin sees everything", admin, QueueAll, 3},
		{"Outsider sees only public", dave, QueueAll, 1},
		{"Participant sees hidden and pending", carol, QueueAll, 3},
		{"Creator sees own submission", bob, QueueAll, 2},
		{"Unapproved queue", admin, QueueUnapproved, 1},
		{"Submitted queue", bob, QueueSubmitted, 1},
		{"Unrated for self", dave, QueueUnrated, 1},
		{"Unrated for participant", carol, QueueUnrated, 2},
		{"Unrated all", admin, QueueUnratedAll, 2},
		{"Flagged", admin, QueueFlagged, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := count(t, tc.viewer, tc.queue); got != tc.expected {
				t.Errorf("Expected %d quotes, got %d", tc.expected, got)
			}
		})
	}

	t.Run("Admin queues are restricted", func(t *testing.T) {
		for _, queue := range []Queue{QueueUnapproved, QueueFlagged, QueueUnratedAll} {
			if _, err := ds.ListQuotes(ctx, bob, queue); !errors.Is(err, models.ErrPermission) {
				t.Errorf("Expected ErrPermission for %s, got %v", queue, err)
			}
		}
	})

	t.Run("Readable quote checks", func(t *testing.T) {
		if _, err := ds.GetReadableQuote(ctx, dave, hidden.ID); !errors.Is(err, models.ErrPermission) {
			t.Errorf("Expected ErrPermission for hidden quote, got %v", err)
		}
		if _, err := ds.GetReadableQuote(ctx, dave, public.ID); err != nil {
			t.Errorf("Expected public quote to be readable, got %v", err)
		}
		if _, err := ds.GetReadableQuote(ctx, carol, submitted.ID); err != nil {
			t.Errorf("Expected participant to read unapproved quote, got %v", err)
		}
		if _, err := ds.GetReadableQuote(ctx, dave, 424242); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Voting removes a quote from the unrated queue", func(t *testing.T) {
		rare := models.RarityRare
		if _, err := ds.SetVote(ctx, dave, public.ID, &rare); err != nil {
			t.Fatalf("SetVote failed: %v", err)
		}
		if got := count(t, dave, QueueUnrated); got != 0 {
			t.Errorf("Expected 0 unrated for dave, got %d", got)
		}
		if got := count(t, admin, QueueUnratedAll); got != 1 {
			t.Errorf("Expected 1 unrated overall, got %d", got)
		}
	})
}

func TestUpdateQuoteResetsDerivedState(t *testing.T) {
	ds, storage := setupTestDB(t)
	ctx := context.Background()
	admin := createTestUser(t, ds, "admin", true)
	bob := createTestUser(t, ds, "bob", false)
	carol := createTestUser(t, ds, "carol", false)

	q := createApprovedQuote(t, ds, admin, bob.ID, carol.ID)
	firstApproval := q.ApprovedAt.Time

	epic := models.RarityEpic
	if _, err := ds.SetVote(ctx, bob, q.ID, &epic); err != nil {
		t.Fatalf("SetVote failed: %v", err)
	}
	if _, err := ds.FlagQuote(ctx, carol, q.ID); err != nil {
		t.Fatalf("FlagQuote failed: %v", err)
	}
	if _, err := ds.SignQuote(ctx, bob, q.ID, bob.ID, "mem://signatures/bob.png"); err != nil {
		t.Fatalf("SignQuote failed: %v", err)
	}

	updated, err := ds.UpdateQuote(ctx, admin, q.ID, models.QuoteInput{Notes: strPtr("context"), Redacted: boolPtr(true)})
	if err != nil {
		t.Fatalf("UpdateQuote failed: %v", err)
	}
	if updated.IsFlagged || len(updated.FlaggedBy) != 0 {
		t.Errorf("Expected flags cleared, got %v %v", updated.IsFlagged, updated.FlaggedBy)
	}
	if len(updated.Votes) != 0 || updated.Rank != models.RarityCommon {
		t.Errorf("Expected votes cleared and rank common, got %v %s", updated.Votes, updated.Rank)
	}
	if len(updated.Signatures) != 0 {
		t.Errorf("Expected signatures cleared, got %v", updated.Signatures)
	}
	if !storage.wasDeleted("mem://signatures/bob.png") {
		t.Error("Expected the cleared signature image to be released")
	}
	if !updated.ApprovedAt.Valid || updated.ApprovedAt.Time.Before(firstApproval) {
		t.Errorf("Expected approved_at to be re-stamped, got %v", updated.ApprovedAt)
	}
	if updated.Notes != "context" || !updated.Redacted || len(updated.Lines) != 1 {
		t.Errorf("Expected patch applied and lines kept, got %+v", updated)
	}

	t.Run("Unapproving clears approved_at", func(t *testing.T) {
		updated, err := ds.UpdateQuote(ctx, admin, q.ID, models.QuoteInput{Approved: boolPtr(false)})
		if err != nil {
			t.Fatalf("UpdateQuote failed: %v", err)
		}
		if updated.Approved || updated.ApprovedAt.Valid {
			t.Errorf("Expected approved=false and approved_at=null, got %v %v", updated.Approved, updated.ApprovedAt)
		}
	})

	t.Run("Replacing lines and participants", func(t *testing.T) {
		updated, err := ds.UpdateQuote(ctx, admin, q.ID, models.QuoteInput{
			Lines:        &[]models.LineInput{{SpeakerName: "Bob", Text: "new", UserID: &bob.ID}, {SpeakerName: "X", Text: "y"}},
			Participants: ids(),
		})
		if err != nil {
			t.Fatalf("UpdateQuote failed: %v", err)
		}
		if len(updated.Lines) != 2 || updated.Lines[0].Text != "new" {
			t.Errorf("Expected lines replaced, got %+v", updated.Lines)
		}
		if len(updated.Participants) != 1 || updated.Participants[0] != bob.ID {
			t.Errorf("Expected only the line user as participant, got %v", updated.Participants)
		}
	})

	t.Run("Replacing the source image releases the old one", func(t *testing.T) {
		if _, err := ds.UpdateQuote(ctx, admin, q.ID, models.QuoteInput{SourceImage: strPtr("mem://sources/a.jpeg")}); err != nil {
			t.Fatalf("UpdateQuote failed: %v", err)
		}
		if _, err := ds.UpdateQuote(ctx, admin, q.ID, models.QuoteInput{SourceImage: strPtr("")}); err != nil {
			t.Fatalf("UpdateQuote failed: %v", err)
		}
		if !storage.wasDeleted("mem://sources/a.jpeg") {
			t.Error("Expected the old source image to be released")
		}
	})

	t.Run("Non-admins cannot update", func(t *testing.T) {
		_, err := ds.UpdateQuote(ctx, bob, q.ID, models.QuoteInput{Notes: strPtr("mine")})
		if !errors.Is(err, models.ErrPermission) {
			t.Errorf("Expected ErrPermission, got %v", err)
		}
	})
}

func TestDeleteQuote(t *testing.T) {
	ds, storage := setupTestDB(t)
	ctx := context.Background()
	admin := createTestUser(t, ds, "admin", true)
	bob := createTestUser(t, ds, "bob", false)

	q := createApprovedQuote(t, ds, admin, bob.ID)
	if _, err := ds.SignQuote(ctx, bob, q.ID, bob.ID, "mem://signatures/b.png"); err != nil {
		t.Fatalf("SignQuote failed: %v", err)
	}

	if err := ds.DeleteQuote(ctx, bob, q.ID); !errors.Is(err, models.ErrPermission) {
		t.Errorf("Expected ErrPermission, got %v", err)
	}
	if err := ds.DeleteQuote(ctx, admin, q.ID); err != nil {
		t.Fatalf("DeleteQuote failed: %v", err)
	}
	if _, err := ds.GetQuote(ctx, q.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	var remaining int
	ds.DB.QueryRow("SELECT COUNT(*) FROM signatures WHERE quote_id = ?", q.ID).Scan(&remaining)
	if remaining != 0 {
		t.Errorf("Expected signatures to cascade, %d remain", remaining)
	}
	if !storage.wasDeleted("mem://signatures/b.png") {
		t.Error("Expected signature image to be released")
	}
	if err := ds.DeleteQuote(ctx, admin, q.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestLineEdits(t *testing.T) {
	ds, _ := setupTestDB(t)
	ctx := context.Background()
	admin := createTestUser(t, ds, "admin", true)
	bob := createTestUser(t, ds, "bob", false)

	q := createApprovedQuote(t, ds, admin, bob.ID)
	if _, err := ds.SignQuote(ctx, bob, q.ID, bob.ID, "mem://signatures/b.png"); err != nil {
		t.Fatalf("SignQuote failed: %v", err)
	}

	line, err := ds.AddLine(ctx, admin, q.ID, models.LineInput{SpeakerName: "Bob", Text: "Second", UserID: &bob.ID})
	if err != nil {
		t.Fatalf("AddLine failed: %v", err)
	}
	if line.Position != 1 || line.QuoteID != q.ID {
		t.Errorf("Expected appended line at position 1, got %+v", line)
	}

	reloaded, _ := ds.GetQuote(ctx, q.ID)
	if len(reloaded.Signatures) != 0 {
		t.Error("Expected line edit to clear signatures")
	}

	text := "Edited"
	edited, err := ds.UpdateLine(ctx, admin, line.ID, models.LineUpdate{Text: &text})
	if err != nil {
		t.Fatalf("UpdateLine failed: %v", err)
	}
	if edited.Text != "Edited" || edited.SpeakerName != "Bob" {
		t.Errorf("Expected only text to change, got %+v", edited)
	}

	if _, err := ds.UpdateLine(ctx, bob, line.ID, models.LineUpdate{Text: &text}); !errors.Is(err, models.ErrPermission) {
		t.Errorf("Expected ErrPermission, got %v", err)
	}
	if err := ds.DeleteLine(ctx, admin, line.ID); err != nil {
		t.Fatalf("DeleteLine failed: %v", err)
	}
	if err := ds.DeleteLine(ctx, admin, reloaded.Lines[0].ID); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected deleting the last line to fail validation, got %v", err)
	}
	if _, err := ds.UpdateLine(ctx, admin, 9999, models.LineUpdate{Text: &text}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestVotesAndRank(t *testing.T) {
	ds, _ := setupTestDB(t)
	ctx := context.Background()
	admin := createTestUser(t, ds, "admin", true)
	voters := make([]*models.User, 4)
	for i, name := range []string{"v1", "v2", "v3", "v4"} {
		voters[i] = createTestUser(t, ds, name, false)
	}
	q := createApprovedQuote(t, ds, admin)

	vote := func(u *models.User, r models.Rarity) *models.Quote {
		t.Helper()
		updated, err := ds.SetVote(ctx, u, q.ID, &r)
		if err != nil {
			t.Fatalf("SetVote failed: %v", err)
		}
		return updated
	}

	vote(voters[0], models.RarityLegendary)
	updated := vote(voters[0], models.RarityRare)
	if len(updated.Votes) != 1 || updated.Votes[0].Rarity != models.RarityRare {
		t.Errorf("Expected a single vote with the latest rarity, got %+v", updated.Votes)
	}

	vote(voters[1], models.RarityRare)
	vote(voters[2], models.RarityEpic)
	updated = vote(voters[3], models.RarityEpic)
	if updated.Rank != models.RarityRare {
		t.Errorf("Expected tie between rare and epic to resolve to rare, got %s", updated.Rank)
	}

	updated, err := ds.SetVote(ctx, voters[0], q.ID, nil)
	if err != nil {
		t.Fatalf("Retracting vote failed: %v", err)
	}
	if updated.Rank != models.RarityEpic {
		t.Errorf("Expected epic after retraction, got %s", updated.Rank)
	}

	t.Run("Unapproved quotes cannot be ranked", func(t *testing.T) {
		pending, err := ds.CreateQuote(ctx, voters[0], models.QuoteInput{Lines: lines("A", "b")})
		if err != nil {
			t.Fatalf("CreateQuote failed: %v", err)
		}
		r := models.RarityRare
		if _, err := ds.SetVote(ctx, voters[0], pending.ID, &r); !errors.Is(err, models.ErrValidation) {
			t.Errorf("Expected ErrValidation, got %v", err)
		}
	})
}

func TestFlagQuote(t *testing.T) {
	ds, _ := setupTestDB(t)
	ctx := context.Background()
	admin := createTestUser(t, ds, "admin", true)
	bob := createTestUser(t, ds, "bob", false)
	q := createApprovedQuote(t, ds, admin)

	for i := 0; i < 2; i++ {
		flagged, err := ds.FlagQuote(ctx, bob, q.ID)
		if err != nil {
			t.Fatalf("FlagQuote failed: %v", err)
		}
		if !flagged.IsFlagged || len(flagged.FlaggedBy) != 1 || !flagged.HasFlagged(bob.ID) {
			t.Errorf("Expected exactly one flag from bob, got %v", flagged.FlaggedBy)
		}
	}

	n, err := ds.CountQuotes(ctx, admin, QueueFlagged)
	if err != nil || n != 1 {
		t.Errorf("Expected 1 flagged quote, got %d (%v)", n, err)
	}
}
