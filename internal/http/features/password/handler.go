package password

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/finora/identity/internal/httputil"
	"github.com/finora/identity/internal/notification"
	"github.com/finora/identity/pkg/auth"
	"github.com/finora/identity/pkg/domain"
)

// Alias for cleaner code
type tokenPair = domain.TokenPair

// Handler handles password authentication endpoints.
type Handler struct {
	logger                   *slog.Logger
	reporter                 *httputil.Reporter
	passwordService          *auth.PasswordService
	sessionService           *auth.SessionService
	verificationService      *auth.VerificationService
	twoFactorService         *auth.TwoFactorService
	emailService             *notification.EmailService
	cookieConfig             httputil.CookieConfig
	appBaseURL               string
	requireEmailVerification bool
}

// NewHandler creates a new password handler.
func NewHandler(
	logger *slog.Logger,
	reporter *httputil.Reporter,
	passwordService *auth.PasswordService,
	sessionService *auth.SessionService,
	verificationService *auth.VerificationService,
	twoFactorService *auth.TwoFactorService,
	emailService *notification.EmailService,
	cookieConfig httputil.CookieConfig,
	appBaseURL string,
	requireEmailVerification bool,
) *Handler {
	return &Handler{
		logger:                   logger,
		reporter:                 reporter,
		passwordService:          passwordService,
		sessionService:           sessionService,
		verificationService:      verificationService,
		twoFactorService:         twoFactorService,
		emailService:             emailService,
		cookieConfig:             cookieConfig,
		appBaseURL:               appBaseURL,
		requireEmailVerification: requireEmailVerification,
	}
}

// RegisterRequest represents a registration request.
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// LoginRequest represents a login request.
type LoginRequest struct {
	Identifier string `json:"identifier,omitempty"` // email or username
	Email      string `json:"email,omitempty"`      // legacy field
	Password   string `json:"password"`
}

// TokenResponse represents a token response (for mobile clients).
type TokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
}

// Register handles user registration.
// POST /v1/auth/password/register
//
// For web clients: sets HttpOnly cookies, returns minimal response.
// For mobile clients (X-Client-Type: mobile): returns tokens in response body.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.passwordService.Register(r.Context(), auth.RegisterParams{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEmailAlreadyExists), errors.Is(err, domain.ErrUserAlreadyExists):
			h.reporter.Error(w, r, http.StatusConflict, "email already in use",
				httputil.FieldError{Field: "email", Message: "already in use"})
		case errors.Is(err, domain.ErrUsernameAlreadyExists):
			h.reporter.Error(w, r, http.StatusConflict, "username already taken",
				httputil.FieldError{Field: "username", Message: "already taken"})
		case errors.Is(err, domain.ErrInvalidEmail):
			h.reporter.Error(w, r, http.StatusBadRequest, "invalid email address",
				httputil.FieldError{Field: "email", Message: "invalid email address"})
		case errors.Is(err, domain.ErrInvalidUsername):
			h.reporter.Error(w, r, http.StatusBadRequest, "invalid username format: must be 3-30 characters, alphanumeric/underscore/hyphen, start with alphanumeric",
				httputil.FieldError{Field: "username", Message: "invalid format"})
		case errors.Is(err, domain.ErrWeakPassword):
			h.reporter.Error(w, r, http.StatusBadRequest, err.Error(),
				httputil.FieldError{Field: "password", Message: "does not meet requirements"})
		default:
			h.reporter.Internal(w, r, err, "registration failed")
		}
		return
	}

	// Send verification email if email service is configured
	if h.emailService != nil {
		token, err := h.verificationService.RequestEmailVerification(r.Context(), user.ID)
		if err != nil {
			h.logger.Error("failed to create verification token", "error", err, "user_id", user.ID)
		} else {
			verifyURL := fmt.Sprintf("%s/auth/verify-email?token=%s", h.appBaseURL, token)
			h.emailService.SendVerificationEmail(user.Email, verifyURL)
		}
	}

	// When verification is required the new account cannot sign in yet,
	// so registration must not hand out a session either.
	if h.requireEmailVerification && !user.EmailVerified {
		httputil.JSON(w, http.StatusCreated, MessageResponse{
			Message: "Account created. Please verify your email address before signing in",
		})
		return
	}

	tokens, err := h.sessionService.IssueSession(r.Context(), user, domain.SessionMetadata{
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}, false)
	if err != nil {
		h.reporter.Internal(w, r, err, "failed to issue session")
		return
	}

	h.writeTokenResponse(w, r, tokens, http.StatusCreated)
}

// Login handles user login.
// POST /v1/auth/password/login
//
// When two-factor is enabled for the user, a challenge token is returned
// instead of a session; the client completes login via /v1/auth/2fa/verify.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Email
	}

	if identifier == "" || req.Password == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "email/username and password are required")
		return
	}

	user, err := h.passwordService.Authenticate(r.Context(), identifier, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials):
			h.reporter.Error(w, r, http.StatusUnauthorized, "invalid email/username or password")
		case errors.Is(err, domain.ErrAccountLocked):
			h.reporter.Error(w, r, http.StatusForbidden, "account temporarily locked due to too many failed login attempts. Please try again in 15 minutes.")
		case errors.Is(err, domain.ErrEmailNotVerified):
			h.reporter.Error(w, r, http.StatusForbidden, "email verification required. Please check your email for verification link")
		default:
			h.reporter.Internal(w, r, err, "authentication failed")
		}
		return
	}

	if user.TwoFactorEnabled {
		// Fail closed: an enrolled second factor must never be skipped
		// because the service is missing its configuration.
		if h.twoFactorService == nil {
			h.logger.Error("two-factor enabled for user but service not configured", "user_id", user.ID)
			h.reporter.Error(w, r, http.StatusServiceUnavailable, "two-factor verification is unavailable")
			return
		}

		challengeToken, err := h.twoFactorService.CreateChallenge(r.Context(), user.ID)
		if err != nil {
			h.reporter.Internal(w, r, err, "authentication failed")
			return
		}

		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"two_factor_required": true,
			"challenge_token":     challengeToken,
			"message":             "Two-factor verification required",
		})
		return
	}

	tokens, err := h.sessionService.IssueSession(r.Context(), user, domain.SessionMetadata{
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}, false)
	if err != nil {
		h.reporter.Internal(w, r, err, "failed to issue session")
		return
	}

	h.writeTokenResponse(w, r, tokens, http.StatusOK)
}

// PasswordResetRequestRequest represents a password reset request.
type PasswordResetRequestRequest struct {
	Email string `json:"email"`
}

// PasswordResetRequest represents a password reset.
type PasswordResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// RequestPasswordReset handles password reset requests.
// POST /v1/auth/password/reset-request
//
// Responds identically whether or not the address exists.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "email is required")
		return
	}

	if h.emailService == nil {
		h.reporter.Error(w, r, http.StatusServiceUnavailable, "email service not configured")
		return
	}

	acceptedResponse := MessageResponse{
		Message: "If an account exists with that email, a password reset link has been sent",
	}

	user, token, err := h.verificationService.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			h.logger.Error("failed to create password reset token", "error", err)
		}
		httputil.JSON(w, http.StatusOK, acceptedResponse)
		return
	}

	resetURL := fmt.Sprintf("%s/auth/reset-password/confirm?token=%s", h.appBaseURL, token)
	h.emailService.SendPasswordResetEmail(user.Email, resetURL)

	httputil.JSON(w, http.StatusOK, acceptedResponse)
}

// ResetPassword handles password resets.
// POST /v1/auth/password/reset
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Token == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "token is required")
		return
	}
	if req.NewPassword == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "new password is required")
		return
	}

	err := h.verificationService.ResetPassword(r.Context(), req.Token, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrVerificationTokenInvalid):
			h.reporter.Error(w, r, http.StatusBadRequest, "invalid reset token")
		case errors.Is(err, domain.ErrVerificationTokenExpired):
			h.reporter.Error(w, r, http.StatusBadRequest, "reset token expired")
		case errors.Is(err, domain.ErrVerificationTokenConsumed):
			h.reporter.Error(w, r, http.StatusBadRequest, "reset token already used")
		case errors.Is(err, domain.ErrWeakPassword):
			h.reporter.Error(w, r, http.StatusBadRequest, err.Error(),
				httputil.FieldError{Field: "new_password", Message: "does not meet requirements"})
		case errors.Is(err, domain.ErrAccountNotFound):
			h.reporter.Error(w, r, http.StatusBadRequest, "no password is set for this account")
		default:
			h.reporter.Internal(w, r, err, "failed to reset password")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, MessageResponse{Message: "Password reset successful"})
}

// writeTokenResponse writes tokens as cookies (web) or JSON (mobile).
func (h *Handler) writeTokenResponse(w http.ResponseWriter, r *http.Request, tokens *tokenPair, status int) {
	if httputil.IsMobileClient(r) {
		httputil.JSON(w, status, TokenResponse{
			AccessToken:  tokens.AccessToken,
			RefreshToken: tokens.RefreshToken,
			TokenType:    tokens.TokenType,
			ExpiresIn:    tokens.ExpiresIn,
		})
		return
	}

	httputil.SetAuthCookies(
		w,
		tokens.AccessToken,
		tokens.RefreshToken,
		h.sessionService.AccessTokenTTL(),
		h.sessionService.RefreshTokenTTL(),
		h.cookieConfig,
	)

	httputil.JSON(w, status, TokenResponse{
		TokenType: tokens.TokenType,
		ExpiresIn: tokens.ExpiresIn,
	})
}
