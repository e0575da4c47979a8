package google

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/finora/identity/internal/httputil"
	"github.com/finora/identity/pkg/auth"
	"github.com/finora/identity/pkg/domain"
)

const (
	stateCookieName = "oauth_state"
	stateTTL        = 10 * time.Minute
)

// Handler handles Google OAuth endpoints. OAuth state and nonce are
// carried in an HMAC-signed cookie so the flow survives multi-replica
// deployments without shared storage.
type Handler struct {
	logger           *slog.Logger
	reporter         *httputil.Reporter
	googleService    *auth.GoogleService
	sessionService   *auth.SessionService
	twoFactorService *auth.TwoFactorService
	signKey          []byte
	cookieSecure     bool
	cookieConfig     httputil.CookieConfig
}

// NewHandler creates a new Google handler.
func NewHandler(
	logger *slog.Logger,
	reporter *httputil.Reporter,
	googleService *auth.GoogleService,
	sessionService *auth.SessionService,
	twoFactorService *auth.TwoFactorService,
	signKey []byte,
	cookieConfig httputil.CookieConfig,
) *Handler {
	return &Handler{
		logger:           logger,
		reporter:         reporter,
		googleService:    googleService,
		sessionService:   sessionService,
		twoFactorService: twoFactorService,
		signKey:          signKey,
		cookieSecure:     cookieConfig.Secure,
		cookieConfig:     cookieConfig,
	}
}

// generateRandomString generates a cryptographically secure random string.
func generateRandomString(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// sign produces a signed state payload: value.signature.
func (h *Handler) sign(value string) string {
	mac := hmac.New(sha256.New, h.signKey)
	mac.Write([]byte(value))
	return value + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// verify checks the signature and returns the original value.
func (h *Handler) verify(signed string) (string, bool) {
	idx := strings.LastIndex(signed, ".")
	if idx < 0 {
		return "", false
	}
	value, sig := signed[:idx], signed[idx+1:]
	mac := hmac.New(sha256.New, h.signKey)
	mac.Write([]byte(value))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", false
	}
	return value, true
}

// Start initiates the Google OAuth flow.
// GET /v1/auth/google
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	state := generateRandomString(32)
	nonce := generateRandomString(32)

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    h.sign(state + ":" + nonce),
		Path:     "/v1/auth/google",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.googleService.GenerateAuthURL(state, nonce), http.StatusTemporaryRedirect)
}

// Callback completes the Google OAuth flow and issues a session.
// GET /v1/auth/google/callback
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.reporter.Error(w, r, http.StatusBadRequest, fmt.Sprintf("authorization failed: %s", errParam))
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		h.reporter.Error(w, r, http.StatusBadRequest, "missing code or state")
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	if err != nil {
		h.reporter.Error(w, r, http.StatusBadRequest, "missing oauth state cookie")
		return
	}

	payload, ok := h.verify(cookie.Value)
	if !ok {
		h.reporter.Error(w, r, http.StatusBadRequest, "invalid oauth state")
		return
	}
	parts := strings.SplitN(payload, ":", 2)
	if len(parts) != 2 || parts[0] != state {
		h.reporter.Error(w, r, http.StatusBadRequest, "oauth state mismatch")
		return
	}
	nonce := parts[1]

	// Clear the state cookie; it is single use.
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/v1/auth/google",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
	})

	tokens, err := h.googleService.ExchangeCode(r.Context(), code)
	if err != nil {
		h.reporter.Internal(w, r, err, "failed to exchange authorization code")
		return
	}

	claims, err := h.googleService.ValidateIDToken(r.Context(), tokens.IDToken, nonce)
	if err != nil {
		h.reporter.Error(w, r, http.StatusUnauthorized, "invalid ID token")
		return
	}

	user, err := h.googleService.Authenticate(r.Context(), claims, tokens)
	if err != nil {
		h.reporter.Internal(w, r, err, "authentication failed")
		return
	}

	h.completeLogin(w, r, user)
}

// completeLogin finishes a federated sign-in. A user with two-factor
// enabled gets a challenge instead of a session; a second factor gates
// every login, not just the password one.
func (h *Handler) completeLogin(w http.ResponseWriter, r *http.Request, user *domain.User) {
	if user.TwoFactorEnabled {
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

	pair, err := h.sessionService.IssueSession(r.Context(), user, domain.SessionMetadata{
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}, false)
	if err != nil {
		h.reporter.Internal(w, r, err, "failed to issue session")
		return
	}

	httputil.SetAuthCookies(
		w,
		pair.AccessToken,
		pair.RefreshToken,
		h.sessionService.AccessTokenTTL(),
		h.sessionService.RefreshTokenTTL(),
		h.cookieConfig,
	)

	http.Redirect(w, r, "/", http.StatusFound)
}
