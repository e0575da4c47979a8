package password

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/finora/identity/internal/config"
	"github.com/finora/identity/internal/httputil"
	"github.com/finora/identity/pkg/auth"
	"github.com/finora/identity/pkg/repository"
)

func newTestHandler() *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reporter := httputil.NewReporter(logger, false)
	return NewHandler(logger, reporter, nil, nil, nil, nil, nil, httputil.DefaultCookieConfig(false), "http://localhost:7000", false)
}

// newServiceHandler builds a handler whose password service runs against
// a mocked database, so full request flows can be exercised.
func newServiceHandler(t *testing.T, requireEmailVerification bool) (*Handler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reporter := httputil.NewReporter(logger, false)
	cfg := &config.Config{RequireEmailVerification: requireEmailVerification}
	svc := auth.NewPasswordService(
		db,
		repository.NewUsersRepository(db),
		repository.NewAccountsRepository(db),
		auth.NewPasswordPolicy(config.PasswordPolicyConfig{}),
		cfg,
		logger,
	)
	h := NewHandler(logger, reporter, svc, nil, nil, nil, nil,
		httputil.DefaultCookieConfig(false), "http://localhost:7000", requireEmailVerification)
	return h, mock
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var resp httputil.ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestRegister_Validation(t *testing.T) {
	h := newTestHandler()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"missing email", `{"password":"secret123"}`},
		{"missing password", `{"email":"user@example.com"}`},
		{"empty body", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/auth/password/register", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			h.Register(w, r)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if resp := decodeError(t, w); resp.Success {
				t.Error("success = true in error response")
			}
		})
	}
}

func TestRegister_NoSessionWhenVerificationRequired(t *testing.T) {
	h, mock := newServiceHandler(t, true)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO users`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO accounts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	r := httptest.NewRequest(http.MethodPost, "/v1/auth/password/register",
		bytes.NewBufferString(`{"email":"new@example.com","password":"secret123"}`))
	w := httptest.NewRecorder()
	h.Register(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if cookies := w.Result().Cookies(); len(cookies) != 0 {
		t.Errorf("got %d cookies, want none before verification", len(cookies))
	}

	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := resp["access_token"]; ok {
		t.Error("response carries an access token before verification")
	}
	if msg, _ := resp["message"].(string); msg == "" {
		t.Error("response message is empty")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestLogin_Validation(t *testing.T) {
	h := newTestHandler()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"missing identifier", `{"password":"secret123"}`},
		{"missing password", `{"identifier":"user@example.com"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/auth/password/login", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			h.Login(w, r)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestLogin_LegacyEmailField(t *testing.T) {
	h := newTestHandler()

	// A body with only the legacy email field and no password must fail
	// on the password check, not on the identifier check.
	r := httptest.NewRequest(http.MethodPost, "/v1/auth/password/login", bytes.NewBufferString(`{"email":"user@example.com"}`))
	w := httptest.NewRecorder()
	h.Login(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Message != "email/username and password are required" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestLogin_TwoFactorEnabledFailsClosed(t *testing.T) {
	// The two-factor service is nil, as when its encryption key is not
	// configured. A user with an enrolled second factor must be refused
	// rather than signed in without it.
	h, mock := newServiceHandler(t, true)

	hash, err := auth.HashPassword("secret123")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	userID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)SELECT .+ FROM users WHERE email = LOWER\(\$1\) OR LOWER\(username\) = LOWER\(\$1\)`).
		WithArgs("user@example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "username", "email_verified", "name", "image",
			"failed_login_attempts", "locked_until", "two_factor_enabled",
			"created_at", "updated_at",
		}).AddRow(userID.String(), "user@example.com", nil, true, nil, nil, 0, nil, true, now, now))

	mock.ExpectQuery(`(?s)SELECT .+ FROM accounts WHERE user_id = \$1 AND provider = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "provider", "provider_subject", "password_hash",
			"access_token", "refresh_token", "token_expires_at", "created_at", "updated_at",
		}).AddRow(uuid.NewString(), userID.String(), "password", nil, hash, nil, nil, nil, now, now))

	r := httptest.NewRequest(http.MethodPost, "/v1/auth/password/login",
		bytes.NewBufferString(`{"identifier":"user@example.com","password":"secret123"}`))
	w := httptest.NewRecorder()
	h.Login(w, r)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if cookies := w.Result().Cookies(); len(cookies) != 0 {
		t.Errorf("got %d cookies, want none", len(cookies))
	}
	if resp := decodeError(t, w); resp.Message != "two-factor verification is unavailable" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestRequestPasswordReset_Validation(t *testing.T) {
	h := newTestHandler()

	r := httptest.NewRequest(http.MethodPost, "/v1/auth/password/reset-request", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	h.RequestPasswordReset(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing email status = %d, want 400", w.Code)
	}

	// No email service wired.
	r = httptest.NewRequest(http.MethodPost, "/v1/auth/password/reset-request", bytes.NewBufferString(`{"email":"user@example.com"}`))
	w = httptest.NewRecorder()
	h.RequestPasswordReset(w, r)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("no email service status = %d, want 503", w.Code)
	}
}

func TestResetPassword_Validation(t *testing.T) {
	h := newTestHandler()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"missing token", `{"new_password":"newsecret123"}`},
		{"missing new password", `{"token":"some-token"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/auth/password/reset", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			h.ResetPassword(w, r)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}
