// quotebook/config/config.go
package config

import (
	"log/slog"
	"strconv"
	"time"

	"quotebook/utils"

	"github.com/joho/godotenv"
)

const (
	AppVersion = "1.4.0"

	// Form Limits
	MaxSpeakerLen  = 255
	MaxLineLen     = 4000
	MaxLines       = 100
	MaxNotesLen    = 4000
	MaxSourceLen   = 2048
	MaxUsernameLen = 150
	MaxNameLen     = 150
	MinPasswordLen = 8

	// Image Limits
	MaxImageSize     = 5 * 1024 * 1024 // 5MB
	MaxRequestSize   = MaxImageSize*2 + 1024*1024
	MaxImageWidth    = 4000
	MaxImageHeight   = 4000
	SignatureWidth    = 1200
	SignatureHeight   = 600
	SourceImageWidth  = 2000
	SourceImageHeight = 1500

	// Defaults
	DefaultPort            = "8080"
	DefaultDBPath          = "./quotebook.db?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	DefaultBackupDir       = "./backups"
	DefaultMediaDir        = "./media"
	DefaultSessionTTL      = "168h"
	DefaultStaleAfter      = "336h" // 14 days
	DefaultSweepSchedule   = "0 0 * * *"
	DefaultChallengeTTL    = "5m"
	DefaultRateLimitEvery  = "20s"
	DefaultRateLimitBurst  = 5
	DefaultRateLimitPrune  = "1h"
	DefaultRateLimitExpire = "24h"

	SessionCookieName = "qb_session"
	CSRFCookieName    = "csrf_token"
	CSRFHeaderName    = "X-CSRF-Token"
)

// Config is the runtime configuration, read from QB_* environment variables.
type Config struct {
	Port      string
	DBPath    string
	BackupDir string
	MediaDir  string

	JWTSecret  string
	SessionTTL time.Duration

	StaleAfter    time.Duration
	SweepSchedule string

	ChallengeTTL    time.Duration
	RateLimitEvery  time.Duration
	RateLimitBurst  int
	RateLimitPrune  time.Duration
	RateLimitExpire time.Duration

	S3Enabled   bool
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3Region    string
	S3PublicURL string
	S3UseSSL    bool

	ResendAPIKey string
	MailFrom     string
	PublicURL    string

	AdminUsername string
	AdminPassword string
	AdminEmail    string
}

// Load reads an optional .env file and then the environment. Invalid durations and
// integers fall back to their defaults with a warning.
func Load(logger *slog.Logger) Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded", "error", err)
	}

	cfg := Config{
		Port:          utils.GetEnv("QB_PORT", DefaultPort),
		DBPath:        utils.GetEnv("QB_DB_PATH", DefaultDBPath),
		BackupDir:     utils.GetEnv("QB_BACKUP_DIR", DefaultBackupDir),
		MediaDir:      utils.GetEnv("QB_MEDIA_DIR", DefaultMediaDir),
		JWTSecret:     utils.GetEnv("QB_JWT_SECRET", ""),
		SweepSchedule: utils.GetEnv("QB_SWEEP_SCHEDULE", DefaultSweepSchedule),

		S3Enabled:   utils.GetEnv("QB_S3_ENABLED", "false") == "true",
		S3Endpoint:  utils.GetEnv("QB_S3_ENDPOINT", ""),
		S3AccessKey: utils.GetEnv("QB_S3_ACCESS_KEY", ""),
		S3SecretKey: utils.GetEnv("QB_S3_SECRET_KEY", ""),
		S3Bucket:    utils.GetEnv("QB_S3_BUCKET", ""),
		S3Region:    utils.GetEnv("QB_S3_REGION", "us-east-1"),
		S3PublicURL: utils.GetEnv("QB_S3_PUBLIC_URL", ""),
		S3UseSSL:    utils.GetEnv("QB_S3_USE_SSL", "true") == "true",

		ResendAPIKey: utils.GetEnv("QB_RESEND_API_KEY", ""),
		MailFrom:     utils.GetEnv("QB_MAIL_FROM", "The Quote Book <noreply@example.com>"),
		PublicURL:    utils.GetEnv("QB_PUBLIC_URL", "http://localhost:"+DefaultPort),

		AdminUsername: utils.GetEnv("QB_ADMIN_USERNAME", ""),
		AdminPassword: utils.GetEnv("QB_ADMIN_PASSWORD", ""),
		AdminEmail:    utils.GetEnv("QB_ADMIN_EMAIL", ""),
	}

	cfg.SessionTTL = durationEnv(logger, "QB_SESSION_TTL", DefaultSessionTTL)
	cfg.StaleAfter = durationEnv(logger, "QB_STALE_AFTER", DefaultStaleAfter)
	cfg.ChallengeTTL = durationEnv(logger, "QB_CHALLENGE_TTL", DefaultChallengeTTL)
	cfg.RateLimitEvery = durationEnv(logger, "QB_RATE_EVERY", DefaultRateLimitEvery)
	cfg.RateLimitPrune = durationEnv(logger, "QB_RATE_PRUNE", DefaultRateLimitPrune)
	cfg.RateLimitExpire = durationEnv(logger, "QB_RATE_EXPIRE", DefaultRateLimitExpire)

	burst, err := strconv.Atoi(utils.GetEnv("QB_RATE_BURST", strconv.Itoa(DefaultRateLimitBurst)))
	if err != nil || burst < 1 {
		logger.Warn("Invalid QB_RATE_BURST integer, using default", "value", utils.GetEnv("QB_RATE_BURST", ""), "default", DefaultRateLimitBurst)
		burst = DefaultRateLimitBurst
	}
	cfg.RateLimitBurst = burst

	return cfg
}

func durationEnv(logger *slog.Logger, key, fallback string) time.Duration {
	raw := utils.GetEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		logger.Warn("Invalid duration, using default", "key", key, "value", raw, "default", fallback)
		d, _ = time.ParseDuration(fallback)
	}
	return d
}
