package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"quotebook/config"
	"quotebook/database"
	"quotebook/models"
	"quotebook/scheduler"
	"quotebook/utils"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

// recordingMailer captures approval emails.
type recordingMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *recordingMailer) SendAccountApproved(_ context.Context, to, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	return nil
}

func (m *recordingMailer) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.sent...)
}

// MockApplication holds dependencies for handler tests.
type MockApplication struct {
	db          *database.DatabaseService
	storage     *utils.LocalStorage
	mailer      *recordingMailer
	scheduler   *scheduler.Scheduler
	rateLimiter *models.RateLimiter
	challenges  *models.ChallengeStore
	logger      *slog.Logger
	cfg         *config.Config
	router      *chi.Mux
}

func (a *MockApplication) DB() *database.DatabaseService      { return a.db }
func (a *MockApplication) Storage() models.StorageService     { return a.storage }
func (a *MockApplication) Mailer() models.Mailer              { return a.mailer }
func (a *MockApplication) Scheduler() *scheduler.Scheduler    { return a.scheduler }
func (a *MockApplication) RateLimiter() *models.RateLimiter   { return a.rateLimiter }
func (a *MockApplication) Challenges() *models.ChallengeStore { return a.challenges }
func (a *MockApplication) Logger() *slog.Logger               { return a.logger }
func (a *MockApplication) Config() *config.Config             { return a.cfg }

// setupTestApp creates a full application stack backed by a temporary database.
func setupTestApp(t *testing.T) *MockApplication {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	dir := t.TempDir()

	storage := &utils.LocalStorage{MediaDir: filepath.Join(dir, "media")}
	dbService, err := database.InitDB(filepath.Join(dir, "test.db")+"?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", storage, logger)
	require.NoError(t, err, "Failed to initialize test database")

	cfg := &config.Config{
		JWTSecret:  testSecret,
		SessionTTL: time.Hour,
		StaleAfter: 14 * 24 * time.Hour,
		BackupDir:  filepath.Join(dir, "backups"),
		MediaDir:   storage.MediaDir,
	}
	app := &MockApplication{
		db:          dbService,
		storage:     storage,
		mailer:      &recordingMailer{},
		scheduler:   scheduler.New(dbService, cfg.StaleAfter, logger),
		rateLimiter: models.NewRateLimiter(time.Millisecond, 1000, time.Hour, time.Hour),
		challenges:  models.NewChallengeStore(time.Minute),
		logger:      logger,
		cfg:         cfg,
	}
	app.router = SetupRouter(app)

	t.Cleanup(func() {
		app.rateLimiter.Stop()
		app.db.DB.Close()
	})
	return app
}

// createUser inserts an active account and returns it with a bearer token.
func createUser(t *testing.T, app *MockApplication, username string, admin bool) (*models.User, string) {
	t.Helper()
	hash, err := utils.HashPassword("password-" + username)
	require.NoError(t, err)
	user, err := app.db.CreateUser(context.Background(), &models.User{
		Username:     username,
		Email:        username + "@example.com",
		FirstName:    strings.ToUpper(username[:1]) + username[1:],
		PasswordHash: hash,
		IsActive:     true,
		IsSuperuser:  admin,
	})
	require.NoError(t, err)
	token, _, err := utils.IssueSessionToken([]byte(testSecret), user.ID, user.Username, time.Hour)
	require.NoError(t, err)
	return user, token
}

// do sends a JSON request through the router with an optional bearer token.
func (a *MockApplication) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), dst), "body: %s", rr.Body.String())
}

func quotePath(id int64, suffix string) string {
	return "/api/quotes/" + itoa(id) + suffix
}

func solveChallenge(cs *models.ChallengeStore) (string, string) {
	token, question := cs.GenerateChallenge()
	parts := strings.Fields(question)
	num1, _ := strconv.Atoi(parts[2])
	num2Str := strings.TrimSuffix(parts[4], "?")
	num2, _ := strconv.Atoi(num2Str)
	answer := strconv.Itoa(num1 + num2)
	return token, answer
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

// pngDataURL renders a w x h PNG with a diagonal stroke as a data URL.
func pngDataURL(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w && i < h; i++ {
		img.Set(i, i, color.NRGBA{A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}
