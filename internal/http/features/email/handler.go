package email

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/finora/identity/internal/http/middleware"
	"github.com/finora/identity/internal/httputil"
	"github.com/finora/identity/internal/notification"
	"github.com/finora/identity/pkg/auth"
	"github.com/finora/identity/pkg/domain"
)

// Handler handles email verification and email change endpoints.
type Handler struct {
	logger              *slog.Logger
	reporter            *httputil.Reporter
	verificationService *auth.VerificationService
	passwordService     *auth.PasswordService
	emailService        *notification.EmailService
	appBaseURL          string
}

// NewHandler creates a new email handler.
func NewHandler(
	logger *slog.Logger,
	reporter *httputil.Reporter,
	verificationService *auth.VerificationService,
	passwordService *auth.PasswordService,
	emailService *notification.EmailService,
	appBaseURL string,
) *Handler {
	return &Handler{
		logger:              logger,
		reporter:            reporter,
		verificationService: verificationService,
		passwordService:     passwordService,
		emailService:        emailService,
		appBaseURL:          appBaseURL,
	}
}

// VerifyEmailRequest represents an email verification request.
type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
}

// VerifyEmail consumes a verification token and marks the email verified.
// POST /v1/auth/verify-email
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Token == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "token is required")
		return
	}

	_, err := h.verificationService.VerifyEmail(r.Context(), req.Token)
	if err != nil {
		h.writeTokenError(w, r, err, "verification")
		return
	}

	httputil.JSON(w, http.StatusOK, MessageResponse{Message: "Email verified successfully"})
}

// RequestVerificationRequest asks for a fresh verification email.
type RequestVerificationRequest struct {
	Email string `json:"email"`
}

// RequestVerificationEmail sends a verification email for an address.
// POST /v1/auth/request-verification
//
// Responds identically whether or not the address exists.
func (h *Handler) RequestVerificationEmail(w http.ResponseWriter, r *http.Request) {
	var req RequestVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "email is required")
		return
	}

	acceptedResponse := MessageResponse{
		Message: "If an account exists with that email, a verification link has been sent",
	}

	user, err := h.passwordService.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			h.logger.Error("failed to look up user", "error", err)
		}
		httputil.JSON(w, http.StatusOK, acceptedResponse)
		return
	}

	if user.EmailVerified {
		httputil.JSON(w, http.StatusOK, acceptedResponse)
		return
	}

	h.sendVerification(r, user)
	httputil.JSON(w, http.StatusOK, acceptedResponse)
}

// ResendVerificationEmail re-sends the verification email to the
// currently authenticated user.
// POST /v1/auth/resend-verification
// Requires authentication.
func (h *Handler) ResendVerificationEmail(w http.ResponseWriter, r *http.Request) {
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

	if user.EmailVerified {
		h.reporter.Error(w, r, http.StatusConflict, "email already verified")
		return
	}

	h.sendVerification(r, user)
	httputil.JSON(w, http.StatusOK, MessageResponse{Message: "Verification email sent"})
}

// EmailChangeRequest asks to move the account to a new address.
type EmailChangeRequest struct {
	NewEmail string `json:"new_email"`
}

// RequestEmailChange issues an email change token and mails the new
// address. The account email does not change until the link is used.
// POST /v1/me/email/change-request
// Requires authentication.
func (h *Handler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.reporter.Error(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req EmailChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.NewEmail == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "new_email is required")
		return
	}

	if h.emailService == nil {
		h.reporter.Error(w, r, http.StatusServiceUnavailable, "email service not configured")
		return
	}

	result, err := h.verificationService.RequestEmailChange(r.Context(), userID, req.NewEmail)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidEmail):
			h.reporter.Error(w, r, http.StatusBadRequest, "invalid email address",
				httputil.FieldError{Field: "new_email", Message: "invalid email address"})
		case errors.Is(err, domain.ErrEmailAlreadyExists):
			h.reporter.Error(w, r, http.StatusConflict, "email already in use",
				httputil.FieldError{Field: "new_email", Message: "already in use"})
		default:
			h.reporter.Internal(w, r, err, "failed to request email change")
		}
		return
	}

	if result.Applied {
		httputil.JSON(w, http.StatusOK, map[string]string{
			"message": "Email address updated",
			"email":   result.NewEmail,
		})
		return
	}

	confirmURL := fmt.Sprintf("%s/auth/email-change/confirm?token=%s", h.appBaseURL, result.Token)
	h.emailService.SendEmailChangeEmail(result.NewEmail, confirmURL)

	httputil.JSON(w, http.StatusOK, MessageResponse{
		Message: "A confirmation link has been sent to the new address",
	})
}

// ConfirmEmailChangeRequest carries the email change token.
type ConfirmEmailChangeRequest struct {
	Token string `json:"token"`
}

// ConfirmEmailChange consumes an email change token and swaps the address.
// POST /v1/auth/email-change/confirm
func (h *Handler) ConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	var req ConfirmEmailChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Token == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "token is required")
		return
	}

	user, err := h.verificationService.ConfirmEmailChange(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, domain.ErrEmailAlreadyExists) {
			h.reporter.Error(w, r, http.StatusConflict, "email already in use")
			return
		}
		h.writeTokenError(w, r, err, "email change")
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{
		"message": "Email address updated",
		"email":   user.Email,
	})
}

func (h *Handler) sendVerification(r *http.Request, user *domain.User) {
	if h.emailService == nil {
		return
	}
	token, err := h.verificationService.RequestEmailVerification(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("failed to create verification token", "error", err, "user_id", user.ID)
		return
	}
	verifyURL := fmt.Sprintf("%s/auth/verify-email?token=%s", h.appBaseURL, token)
	h.emailService.SendVerificationEmail(user.Email, verifyURL)
}

func (h *Handler) writeTokenError(w http.ResponseWriter, r *http.Request, err error, kind string) {
	switch {
	case errors.Is(err, domain.ErrVerificationTokenInvalid):
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid "+kind+" token")
	case errors.Is(err, domain.ErrVerificationTokenExpired):
		h.reporter.Error(w, r, http.StatusBadRequest, kind+" token expired")
	case errors.Is(err, domain.ErrVerificationTokenConsumed):
		h.reporter.Error(w, r, http.StatusBadRequest, kind+" token already used")
	default:
		h.reporter.Internal(w, r, err, kind+" failed")
	}
}
