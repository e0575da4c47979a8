package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSetAndClearAuthCookies(t *testing.T) {
	cfg := DefaultCookieConfig(true)

	w := httptest.NewRecorder()
	SetAuthCookies(w, "access-value", "refresh-value", 15*time.Minute, 24*time.Hour, cfg)

	cookies := w.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("got %d cookies, want 2", len(cookies))
	}

	byName := make(map[string]*http.Cookie)
	for _, c := range cookies {
		byName[c.Name] = c
	}

	access, ok := byName["access_token"]
	if !ok {
		t.Fatal("access_token cookie not set")
	}
	if access.Value != "access-value" {
		t.Errorf("access_token value = %q", access.Value)
	}
	if !access.HttpOnly {
		t.Error("access_token is not HttpOnly")
	}
	if !access.Secure {
		t.Error("access_token is not Secure")
	}
	if access.MaxAge != int((15 * time.Minute).Seconds()) {
		t.Errorf("access_token MaxAge = %d", access.MaxAge)
	}

	refresh, ok := byName["refresh_token"]
	if !ok {
		t.Fatal("refresh_token cookie not set")
	}
	if refresh.MaxAge != int((24 * time.Hour).Seconds()) {
		t.Errorf("refresh_token MaxAge = %d", refresh.MaxAge)
	}

	w = httptest.NewRecorder()
	ClearAuthCookies(w, cfg)
	for _, c := range w.Result().Cookies() {
		if c.MaxAge != -1 {
			t.Errorf("cookie %s MaxAge = %d, want -1", c.Name, c.MaxAge)
		}
		if c.Value != "" {
			t.Errorf("cookie %s value = %q, want empty", c.Name, c.Value)
		}
	}
}

func TestGetTokensFromCookies(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := GetRefreshTokenFromCookie(r); ok {
		t.Error("found refresh token on bare request")
	}

	r.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refresh-value"})
	r.AddCookie(&http.Cookie{Name: "access_token", Value: "access-value"})

	if v, ok := GetRefreshTokenFromCookie(r); !ok || v != "refresh-value" {
		t.Errorf("GetRefreshTokenFromCookie() = %q, %v", v, ok)
	}
	if v, ok := GetAccessTokenFromCookie(r); !ok || v != "access-value" {
		t.Errorf("GetAccessTokenFromCookie() = %q, %v", v, ok)
	}
}

func TestIsMobileClient(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if IsMobileClient(r) {
		t.Error("bare request detected as mobile")
	}

	r.Header.Set("X-Client-Type", "mobile")
	if !IsMobileClient(r) {
		t.Error("mobile header not detected")
	}
}
