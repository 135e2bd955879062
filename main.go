// quotebook/main.go
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quotebook/config"
	"quotebook/database"
	"quotebook/handlers"
	"quotebook/models"
	"quotebook/scheduler"
	"quotebook/utils"
)

type Application struct {
	db          *database.DatabaseService
	storage     models.StorageService
	mailer      models.Mailer
	scheduler   *scheduler.Scheduler
	rateLimiter *models.RateLimiter
	challenges  *models.ChallengeStore
	logger      *slog.Logger
	cfg         *config.Config
}

// Methods to satisfy the handlers.App interface
func (a *Application) DB() *database.DatabaseService      { return a.db }
func (a *Application) Storage() models.StorageService     { return a.storage }
func (a *Application) Mailer() models.Mailer              { return a.mailer }
func (a *Application) Scheduler() *scheduler.Scheduler    { return a.scheduler }
func (a *Application) RateLimiter() *models.RateLimiter   { return a.rateLimiter }
func (a *Application) Challenges() *models.ChallengeStore { return a.challenges }
func (a *Application) Logger() *slog.Logger               { return a.logger }
func (a *Application) Config() *config.Config             { return a.cfg }

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load(logger)

	if cfg.JWTSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			logger.Error("Failed to generate session secret", "error", err)
			os.Exit(1)
		}
		cfg.JWTSecret = hex.EncodeToString(secret)
		logger.Warn("QB_JWT_SECRET is not set, using a random secret. Sessions will not survive a restart.")
	}
	if err := os.MkdirAll(cfg.BackupDir, 0755); err != nil {
		logger.Error("FATAL: Could not create backup directory", "path", cfg.BackupDir, "error", err)
		os.Exit(1)
	}

	// --- Storage Service Init ---
	var storageService models.StorageService
	if cfg.S3Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		s3Store, err := utils.NewS3Storage(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3Region, cfg.S3PublicURL, cfg.S3UseSSL)
		cancel()
		if err != nil {
			logger.Error("Failed to initialize S3 storage", "error", err)
			os.Exit(1)
		}
		storageService = s3Store
		logger.Info("S3 Storage initialized", "endpoint", cfg.S3Endpoint, "bucket", cfg.S3Bucket)
	} else {
		if err := os.MkdirAll(cfg.MediaDir, 0755); err != nil {
			logger.Error("FATAL: Could not create media directory", "path", cfg.MediaDir, "error", err)
			os.Exit(1)
		}
		storageService = &utils.LocalStorage{MediaDir: cfg.MediaDir}
		logger.Info("Local Storage initialized", "dir", cfg.MediaDir)
	}

	dbService, err := database.InitDB(cfg.DBPath, storageService, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbService.DB.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	if _, err := dbService.EnsureAdmin(context.Background(), cfg.AdminUsername, cfg.AdminPassword, cfg.AdminEmail); err != nil {
		logger.Error("Failed to create bootstrap administrator", "error", err)
		os.Exit(1)
	}

	// --- Mail ---
	var mailer models.Mailer
	if cfg.ResendAPIKey != "" {
		mailer = utils.NewResendMailer(cfg.ResendAPIKey, cfg.MailFrom, cfg.PublicURL)
		logger.Info("Resend mailer initialized", "from", cfg.MailFrom)
	} else {
		mailer = &utils.LogMailer{Logger: logger}
		logger.Info("QB_RESEND_API_KEY is not set, approval emails will only be logged")
	}

	// --- Stale Signature Sweep ---
	sweeper := scheduler.New(dbService, cfg.StaleAfter, logger)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		logger.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	rateLimiter := models.NewRateLimiter(cfg.RateLimitEvery, cfg.RateLimitBurst, cfg.RateLimitPrune, cfg.RateLimitExpire)
	defer rateLimiter.Stop()

	app := &Application{
		db:          dbService,
		storage:     storageService,
		mailer:      mailer,
		scheduler:   sweeper,
		rateLimiter: rateLimiter,
		challenges:  models.NewChallengeStore(cfg.ChallengeTTL),
		logger:      logger,
		cfg:         &cfg,
	}

	mux := handlers.SetupRouter(app)

	// --- Graceful Shutdown ---
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("quotebook server started successfully",
		"version", config.AppVersion,
		"address", "http://localhost:"+cfg.Port,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	sweeper.Stop()
	logger.Info("Server exiting")
}
