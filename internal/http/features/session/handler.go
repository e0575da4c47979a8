package session

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/finora/identity/internal/http/middleware"
	"github.com/finora/identity/internal/httputil"
	"github.com/finora/identity/pkg/auth"
	"github.com/finora/identity/pkg/domain"
)

// Alias for cleaner code
type tokenPair = domain.TokenPair

// Handler handles session endpoints.
type Handler struct {
	reporter        *httputil.Reporter
	sessionService  *auth.SessionService
	passwordService *auth.PasswordService
	cookieConfig    httputil.CookieConfig
}

// NewHandler creates a new session handler.
func NewHandler(
	reporter *httputil.Reporter,
	sessionService *auth.SessionService,
	passwordService *auth.PasswordService,
	cookieConfig httputil.CookieConfig,
) *Handler {
	return &Handler{
		reporter:        reporter,
		sessionService:  sessionService,
		passwordService: passwordService,
		cookieConfig:    cookieConfig,
	}
}

// RefreshRequest represents a token refresh request (for mobile clients).
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse represents a token response.
type TokenResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// LogoutRequest represents a logout request (for mobile clients).
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates a refresh token and returns a new token pair.
// POST /v1/auth/refresh
//
// For web clients: reads refresh token from cookie, sets new cookies.
// For mobile clients: reads/returns tokens in request/response body.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var refreshToken string

	if httputil.IsMobileClient(r) {
		var req RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
		refreshToken = req.RefreshToken
	} else {
		var ok bool
		refreshToken, ok = httputil.GetRefreshTokenFromCookie(r)
		if !ok {
			h.reporter.Error(w, r, http.StatusUnauthorized, "refresh token not found")
			return
		}
	}

	if refreshToken == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	tokens, err := h.sessionService.RefreshSession(r.Context(), refreshToken, h.passwordService.GetUserByID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) ||
			errors.Is(err, domain.ErrSessionExpired) ||
			errors.Is(err, domain.ErrSessionRevoked) {
			if !httputil.IsMobileClient(r) {
				httputil.ClearAuthCookies(w, h.cookieConfig)
			}
			h.reporter.Error(w, r, http.StatusUnauthorized, "invalid or expired refresh token")
			return
		}
		h.reporter.Internal(w, r, err, "failed to refresh token")
		return
	}

	h.writeTokenResponse(w, r, tokens)
}

// Logout revokes a session. Idempotent.
// POST /v1/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var refreshToken string

	if httputil.IsMobileClient(r) {
		var req LogoutRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.reporter.Error(w, r, http.StatusBadRequest, "invalid request body")
			return
		}
		refreshToken = req.RefreshToken
	} else {
		refreshToken, _ = httputil.GetRefreshTokenFromCookie(r)
	}

	if refreshToken != "" {
		// Ignore errors to prevent token enumeration.
		_ = h.sessionService.RevokeSession(r.Context(), refreshToken)
	}

	if !httputil.IsMobileClient(r) {
		httputil.ClearAuthCookies(w, h.cookieConfig)
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes all sessions for the current user.
// POST /v1/auth/logout/all
// Requires authentication.
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.reporter.Error(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.sessionService.RevokeAllSessions(r.Context(), userID); err != nil {
		h.reporter.Internal(w, r, err, "failed to logout all sessions")
		return
	}

	if !httputil.IsMobileClient(r) {
		httputil.ClearAuthCookies(w, h.cookieConfig)
	}

	w.WriteHeader(http.StatusNoContent)
}

// SessionResponse describes one active session.
type SessionResponse struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// ListSessions returns the current user's sessions, newest first.
// GET /v1/me/sessions
// Requires authentication.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		h.reporter.Error(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := h.sessionService.ListSessions(r.Context(), userID)
	if err != nil {
		h.reporter.Internal(w, r, err, "failed to list sessions")
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, SessionResponse{
			ID:         s.ID.String(),
			CreatedAt:  s.CreatedAt,
			ExpiresAt:  s.ExpiresAt,
			LastSeenAt: s.LastSeenAt,
			Revoked:    s.RevokedAt != nil,
		})
	}

	httputil.JSON(w, http.StatusOK, resp)
}

// writeTokenResponse writes tokens as cookies (web) or JSON (mobile).
func (h *Handler) writeTokenResponse(w http.ResponseWriter, r *http.Request, tokens *tokenPair) {
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
