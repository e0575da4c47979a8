package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finora/identity/internal/config"
	"github.com/finora/identity/internal/http/features/email"
	"github.com/finora/identity/internal/http/features/google"
	"github.com/finora/identity/internal/http/features/me"
	"github.com/finora/identity/internal/http/features/password"
	"github.com/finora/identity/internal/http/features/session"
	"github.com/finora/identity/internal/http/features/twofactor"
	"github.com/finora/identity/internal/http/middleware"
	"github.com/finora/identity/internal/httputil"
	"github.com/finora/identity/internal/notification"
	"github.com/finora/identity/internal/ratelimit"
	"github.com/finora/identity/pkg/auth"
	"github.com/finora/identity/pkg/repository"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger              *slog.Logger
	Config              *config.Config
	PasswordService     *auth.PasswordService
	SessionService      *auth.SessionService
	VerificationService *auth.VerificationService
	TwoFactorService    *auth.TwoFactorService
	GoogleService       *auth.GoogleService
	EmailService        *notification.EmailService
	UsersRepo           *repository.UsersRepository
	Limiter             *ratelimit.Limiter
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	reporter := httputil.NewReporter(cfg.Logger, !cfg.Config.IsProduction())
	cookieConfig := httputil.DefaultCookieConfig(cfg.Config.IsProduction())

	// Global middleware
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders(cfg.Config.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.Config.Validation.MaxRequestBodySize))
	r.Use(middleware.EdgeRateLimit(cfg.Config.RateLimit, cfg.Logger))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	authLimit := middleware.OperationRateLimit(cfg.Limiter, ratelimit.ClassAuth, cfg.Logger)
	resetLimit := middleware.OperationRateLimit(cfg.Limiter, ratelimit.ClassReset, cfg.Logger)
	verifyLimit := middleware.OperationRateLimit(cfg.Limiter, ratelimit.ClassVerify, cfg.Logger)
	otpLimit := middleware.OperationRateLimit(cfg.Limiter, ratelimit.ClassOTP, cfg.Logger)
	requireAuth := middleware.Auth(cfg.SessionService)

	// Password authentication
	passwordHandler := password.NewHandler(
		cfg.Logger,
		reporter,
		cfg.PasswordService,
		cfg.SessionService,
		cfg.VerificationService,
		cfg.TwoFactorService,
		cfg.EmailService,
		cookieConfig,
		cfg.Config.AppBaseURL,
		cfg.Config.RequireEmailVerification,
	)
	r.Group(func(r chi.Router) {
		r.Use(authLimit)
		r.Post("/v1/auth/password/register", passwordHandler.Register)
		r.Post("/v1/auth/password/login", passwordHandler.Login)
	})
	r.Group(func(r chi.Router) {
		r.Use(resetLimit)
		r.Post("/v1/auth/password/reset-request", passwordHandler.RequestPasswordReset)
		r.Post("/v1/auth/password/reset", passwordHandler.ResetPassword)
	})

	// Sessions
	sessionHandler := session.NewHandler(reporter, cfg.SessionService, cfg.PasswordService, cookieConfig)
	r.With(authLimit).Post("/v1/auth/refresh", sessionHandler.Refresh)
	r.Post("/v1/auth/logout", sessionHandler.Logout)
	r.With(requireAuth).Post("/v1/auth/logout/all", sessionHandler.LogoutAll)
	r.With(requireAuth).Get("/v1/me/sessions", sessionHandler.ListSessions)

	// Email verification and email change
	emailHandler := email.NewHandler(
		cfg.Logger,
		reporter,
		cfg.VerificationService,
		cfg.PasswordService,
		cfg.EmailService,
		cfg.Config.AppBaseURL,
	)
	r.Group(func(r chi.Router) {
		r.Use(verifyLimit)
		r.Post("/v1/auth/verify-email", emailHandler.VerifyEmail)
		r.Post("/v1/auth/request-verification", emailHandler.RequestVerificationEmail)
		r.Post("/v1/auth/email-change/confirm", emailHandler.ConfirmEmailChange)
	})
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(verifyLimit)
		r.Post("/v1/auth/resend-verification", emailHandler.ResendVerificationEmail)
		r.Post("/v1/me/email/change-request", emailHandler.RequestEmailChange)
	})

	// Profile
	meHandler := me.NewHandler(
		cfg.Logger,
		reporter,
		cfg.UsersRepo,
		cfg.PasswordService,
		cfg.SessionService,
		cfg.VerificationService,
		cfg.EmailService,
		cookieConfig,
		cfg.Config.AppBaseURL,
		cfg.Config.RequireDeleteConfirmation,
	)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/v1/me", meHandler.GetMe)
		r.Patch("/v1/me", meHandler.UpdateMe)
		r.Post("/v1/me/password", meHandler.ChangePassword)
		r.Post("/v1/me/delete-request", meHandler.RequestDeletion)
		r.Delete("/v1/me", meHandler.DeleteMe)
	})

	// Two-factor authentication
	if cfg.TwoFactorService != nil {
		twoFactorHandler := twofactor.NewHandler(
			reporter,
			cfg.TwoFactorService,
			cfg.PasswordService,
			cfg.SessionService,
			cookieConfig,
		)
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/v1/me/2fa/status", twoFactorHandler.Status)
			r.Post("/v1/me/2fa/setup", twoFactorHandler.Setup)
			r.Post("/v1/me/2fa/enable", twoFactorHandler.Enable)
			r.Post("/v1/me/2fa/disable", twoFactorHandler.Disable)
		})
		r.With(otpLimit).Post("/v1/auth/2fa/verify", twoFactorHandler.Verify)
	}

	// Google OAuth
	if cfg.GoogleService != nil {
		googleHandler := google.NewHandler(
			cfg.Logger,
			reporter,
			cfg.GoogleService,
			cfg.SessionService,
			cfg.TwoFactorService,
			[]byte(cfg.Config.JWTSecret),
			cookieConfig,
		)
		r.Get("/v1/auth/google", googleHandler.Start)
		r.Get("/v1/auth/google/callback", googleHandler.Callback)
	}

	return r
}
