package twofactor

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/finora/identity/internal/http/middleware"
	"github.com/finora/identity/internal/httputil"
	"github.com/finora/identity/pkg/auth"
	"github.com/finora/identity/pkg/domain"
)

// Handler handles two-factor authentication endpoints.
type Handler struct {
	reporter         *httputil.Reporter
	twoFactorService *auth.TwoFactorService
	passwordService  *auth.PasswordService
	sessionService   *auth.SessionService
	cookieConfig     httputil.CookieConfig
}

// NewHandler creates a new two-factor handler.
func NewHandler(
	reporter *httputil.Reporter,
	twoFactorService *auth.TwoFactorService,
	passwordService *auth.PasswordService,
	sessionService *auth.SessionService,
	cookieConfig httputil.CookieConfig,
) *Handler {
	return &Handler{
		reporter:         reporter,
		twoFactorService: twoFactorService,
		passwordService:  passwordService,
		sessionService:   sessionService,
		cookieConfig:     cookieConfig,
	}
}

// StatusResponse reports the two-factor state for the current user.
type StatusResponse struct {
	Enabled                bool `json:"enabled"`
	RecoveryCodesRemaining int  `json:"recovery_codes_remaining"`
}

// Status returns the two-factor state.
// GET /v1/me/2fa/status
// Requires authentication.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.reporter.Error(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	enabled, remaining, err := h.twoFactorService.Status(r.Context(), userID)
	if err != nil {
		h.reporter.Internal(w, r, err, "failed to get two-factor status")
		return
	}

	httputil.JSON(w, http.StatusOK, StatusResponse{
		Enabled:                enabled,
		RecoveryCodesRemaining: remaining,
	})
}

// SetupResponse carries enrollment material, shown exactly once.
type SetupResponse struct {
	Secret        string   `json:"secret"`
	QRCode        string   `json:"qr_code"`
	RecoveryCodes []string `json:"recovery_codes"`
}

// Setup starts two-factor enrollment.
// POST /v1/me/2fa/setup
// Requires authentication.
func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.reporter.Error(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.passwordService.GetUserByID(r.Context(), userID)
	if err != nil {
		h.reporter.Internal(w, r, err, "failed to get user")
		return
	}

	setup, err := h.twoFactorService.Setup(r.Context(), user)
	if err != nil {
		if errors.Is(err, domain.ErrTwoFactorAlreadyEnabled) {
			h.reporter.Error(w, r, http.StatusConflict, "two-factor authentication is already enabled")
			return
		}
		h.reporter.Internal(w, r, err, "failed to set up two-factor authentication")
		return
	}

	httputil.JSON(w, http.StatusOK, SetupResponse{
		Secret:        setup.Secret,
		QRCode:        setup.QRCodeDataURI,
		RecoveryCodes: setup.RecoveryCodes,
	})
}

// CodeRequest carries a TOTP or recovery code.
type CodeRequest struct {
	Code string `json:"code"`
}

// Enable confirms enrollment with a TOTP code.
// POST /v1/me/2fa/enable
// Requires authentication.
func (h *Handler) Enable(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.reporter.Error(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "code is required")
		return
	}

	if err := h.twoFactorService.Enable(r.Context(), userID, req.Code); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidOTP):
			h.reporter.Error(w, r, http.StatusBadRequest, "invalid code")
		case errors.Is(err, domain.ErrTwoFactorAlreadyEnabled):
			h.reporter.Error(w, r, http.StatusConflict, "two-factor authentication is already enabled")
		case errors.Is(err, domain.ErrTwoFactorNotEnabled):
			h.reporter.Error(w, r, http.StatusBadRequest, "two-factor setup not started")
		default:
			h.reporter.Internal(w, r, err, "failed to enable two-factor authentication")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"message": "Two-factor authentication enabled"})
}

// Disable turns off two-factor authentication.
// POST /v1/me/2fa/disable
// Requires authentication.
func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.reporter.Error(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "code is required")
		return
	}

	if err := h.twoFactorService.Disable(r.Context(), userID, req.Code); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidOTP), errors.Is(err, domain.ErrInvalidRecoveryCode):
			h.reporter.Error(w, r, http.StatusBadRequest, "invalid code")
		case errors.Is(err, domain.ErrTwoFactorNotEnabled):
			h.reporter.Error(w, r, http.StatusBadRequest, "two-factor authentication is not enabled")
		default:
			h.reporter.Internal(w, r, err, "failed to disable two-factor authentication")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"message": "Two-factor authentication disabled"})
}

// VerifyRequest answers a login challenge.
type VerifyRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code"`
}

// TokenResponse represents a token response (for mobile clients).
type TokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Verify completes a two-factor login challenge and issues a session.
// POST /v1/auth/2fa/verify
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChallengeToken == "" || req.Code == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "challenge_token and code are required")
		return
	}

	userID, err := h.twoFactorService.VerifyChallenge(r.Context(), req.ChallengeToken, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidOTP), errors.Is(err, domain.ErrInvalidRecoveryCode):
			h.reporter.Error(w, r, http.StatusUnauthorized, "invalid code")
		case errors.Is(err, domain.ErrTwoFactorChallengeExpired),
			errors.Is(err, domain.ErrVerificationTokenInvalid),
			errors.Is(err, domain.ErrVerificationTokenConsumed):
			h.reporter.Error(w, r, http.StatusUnauthorized, "challenge expired or invalid. please log in again")
		default:
			h.reporter.Internal(w, r, err, "two-factor verification failed")
		}
		return
	}

	user, err := h.passwordService.GetUserByID(r.Context(), userID)
	if err != nil {
		h.reporter.Internal(w, r, err, "failed to get user")
		return
	}

	tokens, err := h.sessionService.IssueSession(r.Context(), user, domain.SessionMetadata{
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}, true)
	if err != nil {
		h.reporter.Internal(w, r, err, "failed to issue session")
		return
	}

	if httputil.IsMobileClient(r) {
		httputil.JSON(w, http.StatusOK, TokenResponse{
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

	httputil.JSON(w, http.StatusOK, TokenResponse{
		TokenType: tokens.TokenType,
		ExpiresIn: tokens.ExpiresIn,
	})
}
