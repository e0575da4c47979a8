package me

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/finora/identity/internal/http/middleware"
	"github.com/finora/identity/internal/httputil"
)

func newTestHandler(requireDeleteConfirmation bool) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reporter := httputil.NewReporter(logger, false)
	return NewHandler(logger, reporter, nil, nil, nil, nil, nil,
		httputil.DefaultCookieConfig(false), "http://localhost:7000", requireDeleteConfirmation)
}

func authenticated(r *http.Request) *http.Request {
	ctx := context.WithValue(r.Context(), middleware.UserIDKey, uuid.New())
	return r.WithContext(ctx)
}

func TestGetMe_Unauthenticated(t *testing.T) {
	h := newTestHandler(true)

	r := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	w := httptest.NewRecorder()
	h.GetMe(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestUpdateMe_InvalidBody(t *testing.T) {
	h := newTestHandler(true)

	r := authenticated(httptest.NewRequest(http.MethodPatch, "/v1/me", bytes.NewBufferString("{not json")))
	w := httptest.NewRecorder()
	h.UpdateMe(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestChangePassword_Validation(t *testing.T) {
	h := newTestHandler(true)

	t.Run("unauthenticated", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/me/password", bytes.NewBufferString(`{"current_password":"a","new_password":"b"}`))
		w := httptest.NewRecorder()
		h.ChangePassword(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"missing current password", `{"new_password":"newsecret123"}`},
		{"missing new password", `{"current_password":"oldsecret123"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := authenticated(httptest.NewRequest(http.MethodPost, "/v1/me/password", bytes.NewBufferString(tt.body)))
			w := httptest.NewRecorder()
			h.ChangePassword(w, r)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestRequestDeletion_Validation(t *testing.T) {
	h := newTestHandler(true)

	t.Run("unauthenticated", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/me/delete-request", nil)
		w := httptest.NewRecorder()
		h.RequestDeletion(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})

	t.Run("no email service", func(t *testing.T) {
		r := authenticated(httptest.NewRequest(http.MethodPost, "/v1/me/delete-request", nil))
		w := httptest.NewRecorder()
		h.RequestDeletion(w, r)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", w.Code)
		}
	})
}

func TestDeleteMe_ConfirmationRequired(t *testing.T) {
	h := newTestHandler(true)

	tests := []struct {
		name string
		body string
	}{
		{"no body", ""},
		{"invalid json", "{not json"},
		{"missing token", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := authenticated(httptest.NewRequest(http.MethodDelete, "/v1/me", bytes.NewBufferString(tt.body)))
			w := httptest.NewRecorder()
			h.DeleteMe(w, r)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}
