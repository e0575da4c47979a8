package session

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/finora/identity/internal/httputil"
)

func newTestHandler() *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reporter := httputil.NewReporter(logger, false)
	return NewHandler(reporter, nil, nil, httputil.DefaultCookieConfig(false))
}

func TestRefresh_WebWithoutCookie(t *testing.T) {
	h := newTestHandler()

	r := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	w := httptest.NewRecorder()
	h.Refresh(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRefresh_MobileValidation(t *testing.T) {
	h := newTestHandler()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", "{not json", http.StatusBadRequest},
		{"empty token", `{"refresh_token":""}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", bytes.NewBufferString(tt.body))
			r.Header.Set("X-Client-Type", "mobile")
			w := httptest.NewRecorder()
			h.Refresh(w, r)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestLogout_WebWithoutCookie(t *testing.T) {
	h := newTestHandler()

	r := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	w := httptest.NewRecorder()
	h.Logout(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	// Cookies must be cleared even when no session was found.
	cleared := 0
	for _, c := range w.Result().Cookies() {
		if c.MaxAge == -1 {
			cleared++
		}
	}
	if cleared != 2 {
		t.Errorf("cleared %d cookies, want 2", cleared)
	}
}

func TestLogout_MobileInvalidBody(t *testing.T) {
	h := newTestHandler()

	r := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", bytes.NewBufferString("{not json"))
	r.Header.Set("X-Client-Type", "mobile")
	w := httptest.NewRecorder()
	h.Logout(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestLogoutAll_Unauthenticated(t *testing.T) {
	h := newTestHandler()

	r := httptest.NewRequest(http.MethodPost, "/v1/auth/logout/all", nil)
	w := httptest.NewRecorder()
	h.LogoutAll(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestListSessions_Unauthenticated(t *testing.T) {
	h := newTestHandler()

	r := httptest.NewRequest(http.MethodGet, "/v1/me/sessions", nil)
	w := httptest.NewRecorder()
	h.ListSessions(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
