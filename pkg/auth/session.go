package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/finora/identity/internal/config"
	"github.com/finora/identity/pkg/domain"
	"github.com/finora/identity/pkg/repository"
)

const refreshTokenBytes = 32

// AccessTokenClaims are the JWT claims embedded in access tokens.
type AccessTokenClaims struct {
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name,omitempty"`
	TwoFactorVerified bool   `json:"amr_otp,omitempty"`
	SessionID         string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionService issues and validates session token pairs. Access tokens
// are short-lived signed JWTs; refresh tokens are opaque random strings
// stored server-side as SHA-256 hashes.
type SessionService struct {
	db       *sql.DB
	sessions *repository.SessionsRepository
	cfg      *config.Config
	logger   *slog.Logger
}

func NewSessionService(db *sql.DB, sessions *repository.SessionsRepository, cfg *config.Config, logger *slog.Logger) *SessionService {
	return &SessionService{
		db:       db,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}
}

// AccessTokenTTL returns the configured access token lifetime.
func (s *SessionService) AccessTokenTTL() time.Duration {
	return s.cfg.AccessTokenTTL
}

// RefreshTokenTTL returns the configured refresh token lifetime.
func (s *SessionService) RefreshTokenTTL() time.Duration {
	return s.cfg.RefreshTokenTTL
}

// IssueSession creates a session row and returns a fresh token pair.
// twoFactorVerified records whether the login passed a second factor.
func (s *SessionService) IssueSession(ctx context.Context, user *domain.User, meta domain.SessionMetadata, twoFactorVerified bool) (*domain.TokenPair, error) {
	refreshToken, err := GenerateToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session metadata: %w", err)
	}

	now := time.Now().UTC()
	session := &domain.Session{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		Metadata:  metaJSON,
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	accessToken, expiresAt, err := s.signAccessToken(user, session.ID, twoFactorVerified)
	if err != nil {
		return nil, err
	}

	s.logger.Info("session issued", "user_id", user.ID, "session_id", session.ID)

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.cfg.AccessTokenTTL.Seconds()),
		ExpiresAt:    expiresAt,
	}, nil
}

// RefreshSession rotates a refresh token. The presented token is revoked
// and a new pair is issued, so a replayed token fails on the revoked check.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string, getUser func(context.Context, uuid.UUID) (*domain.User, error)) (*domain.TokenPair, error) {
	session, err := s.sessions.GetByTokenHash(ctx, HashToken(refreshToken))
	if err != nil {
		return nil, err
	}

	if !session.IsValid() {
		if session.RevokedAt != nil {
			return nil, domain.ErrSessionRevoked
		}
		return nil, domain.ErrSessionExpired
	}

	user, err := getUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Revoke(ctx, session.ID); err != nil {
		return nil, err
	}

	var meta domain.SessionMetadata
	if len(session.Metadata) > 0 {
		_ = json.Unmarshal(session.Metadata, &meta)
	}

	return s.IssueSession(ctx, user, meta, false)
}

// RevokeSession revokes the session matching a refresh token.
func (s *SessionService) RevokeSession(ctx context.Context, refreshToken string) error {
	err := s.sessions.RevokeByTokenHash(ctx, HashToken(refreshToken))
	if errors.Is(err, domain.ErrSessionNotFound) {
		// Logout is idempotent.
		return nil
	}
	return err
}

// RevokeAllSessions revokes every session for a user.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID uuid.UUID) error {
	if err := s.sessions.RevokeAllByUserID(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("all sessions revoked", "user_id", userID)
	return nil
}

// RevokeOtherSessions revokes every session for a user except the
// current one.
func (s *SessionService) RevokeOtherSessions(ctx context.Context, userID, keepSessionID uuid.UUID) error {
	if err := s.sessions.RevokeOtherSessions(ctx, userID, keepSessionID); err != nil {
		return err
	}
	s.logger.Info("other sessions revoked", "user_id", userID, "kept_session_id", keepSessionID)
	return nil
}

// ListSessions returns the user's sessions, newest first.
func (s *SessionService) ListSessions(ctx context.Context, userID uuid.UUID) ([]*domain.Session, error) {
	return s.sessions.GetByUserID(ctx, userID)
}

// TouchSession records activity on a session, best effort.
func (s *SessionService) TouchSession(ctx context.Context, sessionID uuid.UUID) {
	if err := s.sessions.UpdateLastSeen(ctx, sessionID); err != nil {
		s.logger.Debug("failed to update session last seen", "session_id", sessionID, "error", err)
	}
}

// ValidateAccessToken parses and verifies an access token.
func (s *SessionService) ValidateAccessToken(tokenString string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithIssuer(s.cfg.JWTIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

func (s *SessionService) signAccessToken(user *domain.User, sessionID uuid.UUID, twoFactorVerified bool) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(s.cfg.AccessTokenTTL)

	name := ""
	if user.Name != nil {
		name = *user.Name
	}

	claims := AccessTokenClaims{
		Email:             user.Email,
		EmailVerified:     user.EmailVerified,
		Name:              name,
		TwoFactorVerified: twoFactorVerified,
		SessionID:         sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.JWTIssuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}
