package me

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/finora/identity/internal/http/middleware"
	"github.com/finora/identity/internal/httputil"
	"github.com/finora/identity/internal/notification"
	"github.com/finora/identity/pkg/auth"
	"github.com/finora/identity/pkg/domain"
	"github.com/finora/identity/pkg/repository"
)

// Handler handles user profile endpoints.
type Handler struct {
	logger                    *slog.Logger
	reporter                  *httputil.Reporter
	users                     *repository.UsersRepository
	passwordService           *auth.PasswordService
	sessionService            *auth.SessionService
	verificationService       *auth.VerificationService
	emailService              *notification.EmailService
	cookieConfig              httputil.CookieConfig
	appBaseURL                string
	requireDeleteConfirmation bool
}

// NewHandler creates a new me handler.
func NewHandler(
	logger *slog.Logger,
	reporter *httputil.Reporter,
	users *repository.UsersRepository,
	passwordService *auth.PasswordService,
	sessionService *auth.SessionService,
	verificationService *auth.VerificationService,
	emailService *notification.EmailService,
	cookieConfig httputil.CookieConfig,
	appBaseURL string,
	requireDeleteConfirmation bool,
) *Handler {
	return &Handler{
		logger:                    logger,
		reporter:                  reporter,
		users:                     users,
		passwordService:           passwordService,
		sessionService:            sessionService,
		verificationService:       verificationService,
		emailService:              emailService,
		cookieConfig:              cookieConfig,
		appBaseURL:                appBaseURL,
		requireDeleteConfirmation: requireDeleteConfirmation,
	}
}

// UserResponse represents the user profile response.
type UserResponse struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	EmailVerified    bool      `json:"email_verified"`
	Username         *string   `json:"username,omitempty"`
	Name             *string   `json:"name,omitempty"`
	Image            *string   `json:"image,omitempty"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
}

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
}

func userResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:               user.ID.String(),
		Email:            user.Email,
		EmailVerified:    user.EmailVerified,
		Username:         user.Username,
		Name:             user.Name,
		Image:            user.Image,
		TwoFactorEnabled: user.TwoFactorEnabled,
		CreatedAt:        user.CreatedAt,
	}
}

// GetMe returns the current user's profile.
// GET /v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.reporter.Error(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		h.reporter.Error(w, r, http.StatusNotFound, "user not found")
		return
	}

	httputil.JSON(w, http.StatusOK, userResponse(user))
}

// UpdateRequest represents a profile update request. Email changes go
// through the email change flow, not this endpoint.
type UpdateRequest struct {
	Name     *string `json:"name,omitempty"`
	Username *string `json:"username,omitempty"`
	Image    *string `json:"image,omitempty"`
}

// UpdateMe updates the current user's profile.
// PATCH /v1/me
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.reporter.Error(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		h.reporter.Error(w, r, http.StatusNotFound, "user not found")
		return
	}

	if req.Name != nil {
		name := auth.SanitizeName(*req.Name)
		if err := auth.ValidateStringLength("name", name, 0, 100); err != nil {
			h.reporter.Error(w, r, http.StatusBadRequest, err.Error(),
				httputil.FieldError{Field: "name", Message: "too long"})
			return
		}
		if name == "" {
			user.Name = nil
		} else {
			user.Name = &name
		}
	}

	if req.Username != nil && *req.Username != "" {
		if err := auth.ValidateUsername(*req.Username); err != nil {
			h.reporter.Error(w, r, http.StatusBadRequest, "invalid username format",
				httputil.FieldError{Field: "username", Message: "invalid format"})
			return
		}
		user.Username = req.Username
	}

	if req.Image != nil {
		if *req.Image == "" {
			user.Image = nil
		} else {
			user.Image = req.Image
		}
	}

	if err := h.users.Update(r.Context(), user); err != nil {
		if errors.Is(err, domain.ErrUsernameAlreadyExists) {
			h.reporter.Error(w, r, http.StatusConflict, "username already taken",
				httputil.FieldError{Field: "username", Message: "already taken"})
			return
		}
		h.reporter.Internal(w, r, err, "failed to update profile")
		return
	}

	httputil.JSON(w, http.StatusOK, userResponse(user))
}

// ChangePasswordRequest represents a password change request.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword changes the current user's password.
// POST /v1/me/password
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.reporter.Error(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CurrentPassword == "" || req.NewPassword == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "current_password and new_password are required")
		return
	}

	err := h.passwordService.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials):
			h.reporter.Error(w, r, http.StatusUnauthorized, "current password is incorrect")
		case errors.Is(err, domain.ErrWeakPassword):
			h.reporter.Error(w, r, http.StatusBadRequest, err.Error(),
				httputil.FieldError{Field: "new_password", Message: "does not meet requirements"})
		case errors.Is(err, domain.ErrAccountNotFound):
			h.reporter.Error(w, r, http.StatusBadRequest, "no password is set for this account")
		default:
			h.reporter.Internal(w, r, err, "failed to change password")
		}
		return
	}

	h.revokeOtherSessions(r, userID)

	httputil.JSON(w, http.StatusOK, MessageResponse{Message: "Password changed successfully"})
}

// revokeOtherSessions logs the user out everywhere except the session
// that made the request. Best effort; the password change already
// succeeded.
func (h *Handler) revokeOtherSessions(r *http.Request, userID uuid.UUID) {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok {
		return
	}
	keepID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return
	}
	if err := h.sessionService.RevokeOtherSessions(r.Context(), userID, keepID); err != nil {
		h.logger.Error("failed to revoke other sessions", "error", err, "user_id", userID)
	}
}

// RequestDeletion issues a deletion confirmation token and mails it.
// POST /v1/me/delete-request
func (h *Handler) RequestDeletion(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.reporter.Error(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.emailService == nil {
		h.reporter.Error(w, r, http.StatusServiceUnavailable, "email service not configured")
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		h.reporter.Error(w, r, http.StatusNotFound, "user not found")
		return
	}

	token, err := h.verificationService.RequestAccountDeletion(r.Context(), userID)
	if err != nil {
		h.reporter.Internal(w, r, err, "failed to create deletion token")
		return
	}

	confirmURL := fmt.Sprintf("%s/auth/delete-account/confirm?token=%s", h.appBaseURL, token)
	h.emailService.SendAccountDeletionEmail(user.Email, confirmURL)

	httputil.JSON(w, http.StatusOK, MessageResponse{
		Message: "A confirmation link has been sent to your email",
	})
}

// DeleteRequest carries the deletion confirmation token.
type DeleteRequest struct {
	Token string `json:"token"`
}

// DeleteMe permanently deletes the current user's account.
// DELETE /v1/me
//
// When delete confirmation is required, the request must carry the token
// from the confirmation email.
func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.reporter.Error(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.requireDeleteConfirmation {
		var req DeleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			h.reporter.Error(w, r, http.StatusBadRequest, "confirmation token is required. request one via /v1/me/delete-request")
			return
		}

		err := h.verificationService.ConfirmAccountDeletion(r.Context(), req.Token, userID)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrVerificationTokenInvalid):
				h.reporter.Error(w, r, http.StatusBadRequest, "invalid confirmation token")
			case errors.Is(err, domain.ErrVerificationTokenExpired):
				h.reporter.Error(w, r, http.StatusBadRequest, "confirmation token expired")
			case errors.Is(err, domain.ErrVerificationTokenConsumed):
				h.reporter.Error(w, r, http.StatusBadRequest, "confirmation token already used")
			default:
				h.reporter.Internal(w, r, err, "failed to delete account")
			}
			return
		}
	} else {
		if err := h.verificationService.DeleteAccount(r.Context(), userID); err != nil {
			h.reporter.Internal(w, r, err, "failed to delete account")
			return
		}
	}

	if !httputil.IsMobileClient(r) {
		httputil.ClearAuthCookies(w, h.cookieConfig)
	}

	w.WriteHeader(http.StatusNoContent)
}
