package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/finora/identity/internal/config"
	httpserver "github.com/finora/identity/internal/http"
	"github.com/finora/identity/internal/notification"
	"github.com/finora/identity/internal/ratelimit"
	"github.com/finora/identity/pkg/auth"
	"github.com/finora/identity/pkg/repository"
)

func main() {
	// Load .env file if present (ignore error if not found)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := repository.NewDB(repository.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logger.Info("connected to database")

	// Repositories
	usersRepo := repository.NewUsersRepository(db)
	accountsRepo := repository.NewAccountsRepository(db)
	sessionsRepo := repository.NewSessionsRepository(db)
	verificationTokensRepo := repository.NewVerificationTokensRepository(db)
	twoFactorSecretsRepo := repository.NewTwoFactorSecretsRepository(db)
	recoveryCodesRepo := repository.NewRecoveryCodesRepository(db)

	// Services
	passwordPolicy := auth.NewPasswordPolicy(cfg.PasswordPolicy)
	passwordService := auth.NewPasswordService(db, usersRepo, accountsRepo, passwordPolicy, cfg, logger)
	sessionService := auth.NewSessionService(db, sessionsRepo, cfg, logger)
	verificationService := auth.NewVerificationService(
		db,
		usersRepo,
		accountsRepo,
		sessionsRepo,
		verificationTokensRepo,
		twoFactorSecretsRepo,
		recoveryCodesRepo,
		passwordPolicy,
		cfg,
		logger,
	)

	var emailService *notification.EmailService
	if cfg.HasSMTP() {
		emailService = notification.NewEmailService(notification.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}, logger)
		logger.Info("email service enabled")
	}

	var googleService *auth.GoogleService
	if cfg.HasGoogleOAuth() {
		googleService = auth.NewGoogleService(db, usersRepo, accountsRepo, cfg, logger)
		logger.Info("Google OAuth enabled")
	}

	var twoFactorService *auth.TwoFactorService
	if cfg.HasTwoFactor() {
		twoFactorService, err = auth.NewTwoFactorService(
			db,
			usersRepo,
			twoFactorSecretsRepo,
			recoveryCodesRepo,
			verificationTokensRepo,
			cfg,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize two-factor service", "error", err)
			os.Exit(1)
		}
		logger.Info("two-factor service enabled")
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.Window, map[ratelimit.Class]int{
			ratelimit.ClassAuth:   cfg.RateLimit.AuthMaxRequests,
			ratelimit.ClassReset:  cfg.RateLimit.ResetMaxRequests,
			ratelimit.ClassVerify: cfg.RateLimit.VerifyMaxRequests,
			ratelimit.ClassOTP:    cfg.RateLimit.OTPMaxRequests,
		})
	}

	router := httpserver.NewRouter(httpserver.RouterConfig{
		Logger:              logger,
		Config:              cfg,
		PasswordService:     passwordService,
		SessionService:      sessionService,
		VerificationService: verificationService,
		TwoFactorService:    twoFactorService,
		GoogleService:       googleService,
		EmailService:        emailService,
		UsersRepo:           usersRepo,
		Limiter:             limiter,
	})

	addr := fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
