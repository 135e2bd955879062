package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"quotebook/models"
	"quotebook/utils"
)

// memStorage records released files so tests can assert on image cleanup.
type memStorage struct {
	mu      sync.Mutex
	files   map[string][]byte
	deleted []string
}

func newMemStorage() *memStorage {
	return &memStorage{files: make(map[string][]byte)}
}

func (m *memStorage) SaveFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := "mem://" + key
	m.files[ref] = data
	return ref, nil
}

func (m *memStorage) DeleteFile(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, ref)
	m.deleted = append(m.deleted, ref)
	return nil
}

func (m *memStorage) wasDeleted(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.deleted {
		if d == ref {
			return true
		}
	}
	return false
}

// setupTestDB creates a new SQLite database in a temp dir for testing.
func setupTestDB(t *testing.T) (*DatabaseService, *memStorage) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	storage := newMemStorage()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")

	ds, err := InitDB(dbPath, storage, logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { ds.DB.Close() })
	return ds, storage
}

func createTestUser(t *testing.T, ds *DatabaseService, username string, admin bool) *models.User {
	t.Helper()
	u, err := ds.CreateUser(context.Background(), &models.User{
		Username: username, Email: username + "@example.com", PasswordHash: "x", IsActive: true, IsSuperuser: admin,
	})
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return u
}

func lines(speakerText ...string) *[]models.LineInput {
	var out []models.LineInput
	for i := 0; i+1 < len(speakerText); i += 2 {
		out = append(out, models.LineInput{SpeakerName: speakerText[i], Text: speakerText[i+1]})
	}
	return &out
}

func boolPtr(b bool) *bool { return &b }

func ids(v ...int64) *[]int64 { return &v }

// createApprovedQuote has admin publish a visible quote with the given participants.
func createApprovedQuote(t *testing.T, ds *DatabaseService, admin *models.User, participants ...int64) *models.Quote {
	t.Helper()
	q, err := ds.CreateQuote(context.Background(), admin, models.QuoteInput{
		Lines:        lines("Alice", "Hello there"),
		Participants: ids(participants...),
		Visible:      boolPtr(true),
		Approved:     boolPtr(true),
	})
	if err != nil {
		t.Fatalf("Failed to create quote: %v", err)
	}
	return q
}

func TestInitDB(t *testing.T) {
	ds, _ := setupTestDB(t)

	var version int
	err := ds.DB.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		t.Fatalf("Failed to query schema_migrations: %v", err)
	}
	if version != len(allMigrations) {
		t.Errorf("Expected schema version %d, got %d", len(allMigrations), version)
	}

	// Migrations must be idempotent across restarts.
	if err := runMigrations(ds.DB, ds.logger); err != nil {
		t.Fatalf("Re-running migrations failed: %v", err)
	}
}

func TestBackupDatabase(t *testing.T) {
	ds, _ := setupTestDB(t)
	backupDir := t.TempDir()

	path, err := ds.BackupDatabase(context.Background(), backupDir)
	if err != nil {
		t.Fatalf("BackupDatabase failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected backup file at %s: %v", path, err)
	}

	if _, err := ds.BackupDatabase(context.Background(), ""); err == nil {
		t.Error("Expected an error for an unconfigured backup dir")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	ds, _ := setupTestDB(t)
	createTestUser(t, ds, "dup", false)

	_, err := ds.DB.Exec("INSERT INTO users (username, password_hash, date_joined) VALUES ('dup', 'x', ?)", utils.GetSQLTime())
	if !isUniqueViolation(err) {
		t.Errorf("Expected a unique violation, got %v", err)
	}
	if isUniqueViolation(errors.New("other")) || isUniqueViolation(nil) {
		t.Error("Expected non-sqlite errors not to be unique violations")
	}
}

func TestModActions(t *testing.T) {
	ds, _ := setupTestDB(t)
	admin := createTestUser(t, ds, "admin", true)
	createApprovedQuote(t, ds, admin, admin.ID)

	actions, err := ds.GetModActions(context.Background(), 10)
	if err != nil {
		t.Fatalf("GetModActions failed: %v", err)
	}
	if len(actions) != 1 || actions[0].Action != "approve_quote" {
		t.Fatalf("Expected one approve_quote action, got %+v", actions)
	}
	if actions[0].ActorID != (sql.NullInt64{Int64: admin.ID, Valid: true}) {
		t.Errorf("Expected actor %d, got %+v", admin.ID, actions[0].ActorID)
	}
}

func TestChunkArgs(t *testing.T) {
	testCases := []struct {
		name  string
		n     int
		sizes []int
	}{
		{"Empty", 0, nil},
		{"Single partial chunk", 3, []int{3}},
		{"Exact multiple", 1000, []int{500, 500}},
		{"Remainder", 1201, []int{500, 500, 201}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			args := make([]interface{}, tc.n)
			for i := range args {
				args[i] = i
			}
			chunks := chunkArgs(args, maxInArgs)
			if len(chunks) != len(tc.sizes) {
				t.Fatalf("Expected %d chunks, got %d", len(tc.sizes), len(chunks))
			}
			next := 0
			for i, chunk := range chunks {
				if len(chunk) != tc.sizes[i] {
					t.Errorf("Chunk %d: expected %d args, got %d", i, tc.sizes[i], len(chunk))
				}
				for _, arg := range chunk {
					if arg != next {
						t.Fatalf("Expected arg %d, got %v", next, arg)
					}
					next++
				}
			}
		})
	}
}

func TestLargeIDListsAreChunked(t *testing.T) {
	ds, _ := setupTestDB(t)
	ctx := context.Background()
	admin := createTestUser(t, ds, "admin", true)
	bob := createTestUser(t, ds, "bob", false)

	lookup := make([]int64, 0, 3*maxInArgs)
	for i := int64(1); i <= 3*maxInArgs; i++ {
		lookup = append(lookup, 1_000_000+i)
	}
	lookup = append(lookup, bob.ID, admin.ID)
	users, err := ds.GetUsersByIDs(ctx, lookup)
	if err != nil {
		t.Fatalf("GetUsersByIDs failed: %v", err)
	}
	if len(users) != 2 || users[bob.ID].Username != "bob" {
		t.Errorf("Expected bob and admin, got %v", users)
	}

	quotes := make([]models.Quote, 0, 3*maxInArgs)
	for i := int64(1); i <= 3*maxInArgs; i++ {
		quotes = append(quotes, models.Quote{ID: 1_000_000 + i})
	}
	q := createApprovedQuote(t, ds, admin, bob.ID)
	quotes = append(quotes, models.Quote{ID: q.ID})
	if err := ds.hydrate(ctx, ds.DB, quotes); err != nil {
		t.Fatalf("hydrate failed: %v", err)
	}
	last := quotes[len(quotes)-1]
	if len(last.Participants) != 1 || last.Participants[0] != bob.ID || len(last.Lines) == 0 {
		t.Errorf("Expected the real quote to be hydrated, got %+v", last)
	}
}
