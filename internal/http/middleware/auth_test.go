package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/finora/identity/internal/config"
	"github.com/finora/identity/pkg/auth"
	"github.com/finora/identity/pkg/domain"
)

const (
	testJWTSecret = "a-test-secret-with-at-least-32-characters"
	testJWTIssuer = "identity-test"
)

func newTestSessionService() *auth.SessionService {
	cfg := &config.Config{
		JWTSecret:       testJWTSecret,
		JWTIssuer:       testJWTIssuer,
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return auth.NewSessionService(nil, nil, cfg, logger)
}

// signTestToken signs an access token directly so no session row is needed.
func signTestToken(t *testing.T, user *domain.User, twoFactorVerified bool, ttl time.Duration) string {
	t.Helper()
	now := time.Now().UTC()
	claims := auth.AccessTokenClaims{
		Email:             user.Email,
		EmailVerified:     user.EmailVerified,
		TwoFactorVerified: twoFactorVerified,
		SessionID:         uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testJWTIssuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func okHandler(hit *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hit = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth_ValidBearerToken(t *testing.T) {
	svc := newTestSessionService()
	user := &domain.User{ID: uuid.New(), Email: "user@example.com", EmailVerified: true}
	token := signTestToken(t, user, false, 15*time.Minute)

	var gotUserID uuid.UUID
	handler := Auth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetUserID(r.Context())
		if !ok {
			t.Error("user ID missing from context")
		}
		gotUserID = id
		if _, ok := GetClaims(r.Context()); !ok {
			t.Error("claims missing from context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotUserID != user.ID {
		t.Errorf("user ID = %s, want %s", gotUserID, user.ID)
	}
}

func TestAuth_CookieFallback(t *testing.T) {
	svc := newTestSessionService()
	user := &domain.User{ID: uuid.New(), Email: "user@example.com"}
	token := signTestToken(t, user, false, 15*time.Minute)

	var hit bool
	handler := Auth(svc)(okHandler(&hit))

	r := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	r.AddCookie(&http.Cookie{Name: "access_token", Value: token})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK || !hit {
		t.Errorf("status = %d, hit = %v", w.Code, hit)
	}
}

func TestAuth_Rejections(t *testing.T) {
	svc := newTestSessionService()
	user := &domain.User{ID: uuid.New(), Email: "user@example.com"}

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{
			name:  "no credentials",
			setup: func(r *http.Request) {},
		},
		{
			name: "malformed header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Token abc")
			},
		},
		{
			name: "garbage token",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer not.a.jwt")
			},
		},
		{
			name: "expired token",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signTestToken(t, user, false, -1*time.Minute))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hit bool
			handler := Auth(svc)(okHandler(&hit))

			r := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
			tt.setup(r)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			if hit {
				t.Error("handler reached with invalid credentials")
			}
		})
	}
}

func TestRequireVerified(t *testing.T) {
	svc := newTestSessionService()

	run := func(user *domain.User) int {
		token := signTestToken(t, user, false, 15*time.Minute)
		var hit bool
		handler := Auth(svc)(RequireVerified()(okHandler(&hit)))
		r := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	if code := run(&domain.User{ID: uuid.New(), Email: "a@example.com", EmailVerified: true}); code != http.StatusOK {
		t.Errorf("verified user status = %d, want 200", code)
	}
	if code := run(&domain.User{ID: uuid.New(), Email: "b@example.com", EmailVerified: false}); code != http.StatusForbidden {
		t.Errorf("unverified user status = %d, want 403", code)
	}
}

func TestRequireTwoFactorVerified(t *testing.T) {
	svc := newTestSessionService()
	user := &domain.User{ID: uuid.New(), Email: "user@example.com", EmailVerified: true}

	run := func(twoFactorVerified bool) int {
		token := signTestToken(t, user, twoFactorVerified, 15*time.Minute)
		var hit bool
		handler := Auth(svc)(RequireTwoFactorVerified()(okHandler(&hit)))
		r := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	if code := run(true); code != http.StatusOK {
		t.Errorf("two-factor session status = %d, want 200", code)
	}
	if code := run(false); code != http.StatusForbidden {
		t.Errorf("plain session status = %d, want 403", code)
	}
}
