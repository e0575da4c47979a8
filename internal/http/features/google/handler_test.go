package google

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/finora/identity/internal/config"
	"github.com/finora/identity/internal/httputil"
	"github.com/finora/identity/pkg/auth"
	"github.com/finora/identity/pkg/domain"
	"github.com/finora/identity/pkg/repository"
)

func newTestHandler() *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reporter := httputil.NewReporter(logger, false)
	return NewHandler(logger, reporter, nil, nil, nil, []byte("state-signing-key"), httputil.DefaultCookieConfig(false))
}

func TestSignVerify_Roundtrip(t *testing.T) {
	h := newTestHandler()

	signed := h.sign("state-value:nonce-value")
	value, ok := h.verify(signed)
	if !ok {
		t.Fatal("verify() rejected a freshly signed value")
	}
	if value != "state-value:nonce-value" {
		t.Errorf("value = %q", value)
	}
}

func TestVerify_Rejections(t *testing.T) {
	h := newTestHandler()
	signed := h.sign("state:nonce")

	tests := []struct {
		name  string
		input string
	}{
		{"no signature", "state:nonce"},
		{"tampered value", "other:nonce" + signed[strings.LastIndex(signed, "."):]},
		{"tampered signature", signed + "x"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := h.verify(tt.input); ok {
				t.Errorf("verify(%q) accepted an invalid input", tt.input)
			}
		})
	}
}

func TestVerify_WrongKey(t *testing.T) {
	h := newTestHandler()
	signed := h.sign("state:nonce")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reporter := httputil.NewReporter(logger, false)
	other := NewHandler(logger, reporter, nil, nil, nil, []byte("a-different-key"), httputil.DefaultCookieConfig(false))

	if _, ok := other.verify(signed); ok {
		t.Error("verify() accepted a value signed with a different key")
	}
}

func TestCompleteLogin_TwoFactorChallenge(t *testing.T) {
	// A federated sign-in for a user with an enrolled second factor must
	// return a challenge, never a session.
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reporter := httputil.NewReporter(logger, false)
	cfg := &config.Config{
		AppName:                "identity-test",
		TwoFactorEncryptionKey: strings.Repeat("ab", 32),
		TwoFactorChallengeTTL:  5 * time.Minute,
	}
	twoFactor, err := auth.NewTwoFactorService(
		db, nil, nil, nil, repository.NewVerificationTokensRepository(db), cfg, logger)
	if err != nil {
		t.Fatalf("NewTwoFactorService() error = %v", err)
	}
	h := NewHandler(logger, reporter, nil, nil, twoFactor,
		[]byte("state-signing-key"), httputil.DefaultCookieConfig(false))

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)UPDATE\s+verification_tokens`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`(?s)INSERT INTO verification_tokens`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user := &domain.User{ID: uuid.New(), Email: "user@example.com", TwoFactorEnabled: true}
	r := httptest.NewRequest(http.MethodGet, "/v1/auth/google/callback", nil)
	w := httptest.NewRecorder()
	h.completeLogin(w, r, user)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if cookies := w.Result().Cookies(); len(cookies) != 0 {
		t.Errorf("got %d cookies, want none before the challenge is answered", len(cookies))
	}

	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if required, _ := resp["two_factor_required"].(bool); !required {
		t.Error("two_factor_required = false, want true")
	}
	if token, _ := resp["challenge_token"].(string); token == "" {
		t.Error("challenge_token is empty")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCompleteLogin_TwoFactorUnavailable(t *testing.T) {
	// No two-factor service wired; an enrolled user must be refused
	// rather than signed in without the second factor.
	h := newTestHandler()

	user := &domain.User{ID: uuid.New(), Email: "user@example.com", TwoFactorEnabled: true}
	r := httptest.NewRequest(http.MethodGet, "/v1/auth/google/callback", nil)
	w := httptest.NewRecorder()
	h.completeLogin(w, r, user)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if cookies := w.Result().Cookies(); len(cookies) != 0 {
		t.Errorf("got %d cookies, want none", len(cookies))
	}
}

func TestCallback_Validation(t *testing.T) {
	h := newTestHandler()

	tests := []struct {
		name   string
		target string
		cookie *http.Cookie
	}{
		{
			name:   "provider error",
			target: "/v1/auth/google/callback?error=access_denied",
		},
		{
			name:   "missing code and state",
			target: "/v1/auth/google/callback",
		},
		{
			name:   "missing state cookie",
			target: "/v1/auth/google/callback?code=abc&state=xyz",
		},
		{
			name:   "unsigned state cookie",
			target: "/v1/auth/google/callback?code=abc&state=xyz",
			cookie: &http.Cookie{Name: stateCookieName, Value: "xyz:nonce"},
		},
		{
			name:   "state mismatch",
			target: "/v1/auth/google/callback?code=abc&state=xyz",
			cookie: &http.Cookie{Name: stateCookieName, Value: h.sign("other:nonce")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.cookie != nil {
				r.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			h.Callback(w, r)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}
