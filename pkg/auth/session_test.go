package auth

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/finora/identity/internal/config"
	"github.com/finora/identity/pkg/domain"
)

func newTestSessionService(cfg *config.Config) *SessionService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSessionService(nil, nil, cfg, logger)
}

func testSessionConfig() *config.Config {
	return &config.Config{
		JWTSecret:       "test-secret-that-is-long-enough-for-hs256",
		JWTIssuer:       "identity-test",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}
}

func TestSessionService_AccessTokenRoundtrip(t *testing.T) {
	svc := newTestSessionService(testSessionConfig())

	name := "Ada"
	user := &domain.User{
		ID:            uuid.New(),
		Email:         "ada@example.com",
		EmailVerified: true,
		Name:          &name,
	}
	sessionID := uuid.New()

	signed, expiresAt, err := svc.signAccessToken(user, sessionID, true)
	if err != nil {
		t.Fatalf("signAccessToken() error = %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("token already expired at issuance")
	}

	claims, err := svc.ValidateAccessToken(signed)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if claims.Subject != user.ID.String() {
		t.Errorf("subject = %q, want %q", claims.Subject, user.ID)
	}
	if claims.Email != user.Email {
		t.Errorf("email = %q, want %q", claims.Email, user.Email)
	}
	if !claims.EmailVerified {
		t.Error("email_verified claim is false")
	}
	if claims.Name != "Ada" {
		t.Errorf("name = %q, want %q", claims.Name, "Ada")
	}
	if !claims.TwoFactorVerified {
		t.Error("two-factor claim is false")
	}
	if claims.SessionID != sessionID.String() {
		t.Errorf("sid = %q, want %q", claims.SessionID, sessionID)
	}
}

func TestSessionService_ValidateAccessToken_WrongSecret(t *testing.T) {
	svc := newTestSessionService(testSessionConfig())

	user := &domain.User{ID: uuid.New(), Email: "user@example.com"}
	signed, _, err := svc.signAccessToken(user, uuid.New(), false)
	if err != nil {
		t.Fatalf("signAccessToken() error = %v", err)
	}

	otherCfg := testSessionConfig()
	otherCfg.JWTSecret = "a-completely-different-secret-value-here"
	other := newTestSessionService(otherCfg)

	if _, err := other.ValidateAccessToken(signed); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("ValidateAccessToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestSessionService_ValidateAccessToken_Expired(t *testing.T) {
	cfg := testSessionConfig()
	cfg.AccessTokenTTL = -1 * time.Minute
	svc := newTestSessionService(cfg)

	user := &domain.User{ID: uuid.New(), Email: "user@example.com"}
	signed, _, err := svc.signAccessToken(user, uuid.New(), false)
	if err != nil {
		t.Fatalf("signAccessToken() error = %v", err)
	}

	if _, err := svc.ValidateAccessToken(signed); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("ValidateAccessToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestSessionService_ValidateAccessToken_WrongIssuer(t *testing.T) {
	cfg := testSessionConfig()
	cfg.JWTIssuer = "someone-else"
	signer := newTestSessionService(cfg)

	user := &domain.User{ID: uuid.New(), Email: "user@example.com"}
	signed, _, err := signer.signAccessToken(user, uuid.New(), false)
	if err != nil {
		t.Fatalf("signAccessToken() error = %v", err)
	}

	verifier := newTestSessionService(testSessionConfig())
	if _, err := verifier.ValidateAccessToken(signed); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("ValidateAccessToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestSessionService_ValidateAccessToken_Garbage(t *testing.T) {
	svc := newTestSessionService(testSessionConfig())
	if _, err := svc.ValidateAccessToken("not.a.jwt"); !errors.Is(err, domain.ErrInvalidToken) {
		t.Errorf("ValidateAccessToken() error = %v, want ErrInvalidToken", err)
	}
}
