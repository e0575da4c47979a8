package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/finora/identity/internal/config"
	"github.com/finora/identity/pkg/domain"
	"github.com/finora/identity/pkg/repository"
)

const (
	googleAuthURL   = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL  = "https://oauth2.googleapis.com/token"
	googleIssuer    = "https://accounts.google.com"
	googleIssuerAlt = "accounts.google.com"
)

// GoogleClaims represents the claims from a Google ID token.
type GoogleClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// GoogleService handles Google OAuth authentication.
type GoogleService struct {
	db         *sql.DB
	users      *repository.UsersRepository
	accounts   *repository.AccountsRepository
	cfg        *config.Config
	httpClient *http.Client
	logger     *slog.Logger
}

func NewGoogleService(
	db *sql.DB,
	users *repository.UsersRepository,
	accounts *repository.AccountsRepository,
	cfg *config.Config,
	logger *slog.Logger,
) *GoogleService {
	return &GoogleService{
		db:         db,
		users:      users,
		accounts:   accounts,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// GenerateAuthURL generates the Google OAuth authorization URL.
func (s *GoogleService) GenerateAuthURL(state, nonce string) string {
	params := url.Values{
		"client_id":     {s.cfg.GoogleClientID},
		"redirect_uri":  {s.cfg.GoogleRedirectURI},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
		"nonce":         {nonce},
		"access_type":   {"offline"},
		"prompt":        {"consent"},
	}
	return googleAuthURL + "?" + params.Encode()
}

// GoogleTokenResponse represents the response from Google token endpoint.
type GoogleTokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// ExchangeCode exchanges an authorization code for tokens.
func (s *GoogleService) ExchangeCode(ctx context.Context, code string) (*GoogleTokenResponse, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {s.cfg.GoogleClientID},
		"client_secret": {s.cfg.GoogleClientSecret},
		"redirect_uri":  {s.cfg.GoogleRedirectURI},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, "POST", googleTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token exchange failed: %s", string(body))
	}

	var tokenResp GoogleTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, err
	}

	return &tokenResp, nil
}

// ValidateIDToken validates a Google ID token and extracts claims.
// Note: For production, you should verify the signature using Google's JWKS.
// This implementation does basic validation; add signature verification for production.
func (s *GoogleService) ValidateIDToken(ctx context.Context, idToken, expectedNonce string) (*GoogleClaims, error) {
	token, _, err := jwt.NewParser().ParseUnverified(idToken, &GoogleClaims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse ID token: %w", err)
	}

	claims, ok := token.Claims.(*GoogleClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	if claims.Issuer != googleIssuer && claims.Issuer != googleIssuerAlt {
		return nil, fmt.Errorf("invalid issuer: %s", claims.Issuer)
	}

	if len(claims.Audience) == 0 || claims.Audience[0] != s.cfg.GoogleClientID {
		return nil, errors.New("invalid audience")
	}

	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return nil, errors.New("token expired")
	}

	if expectedNonce != "" {
		var nonceClaims struct {
			Nonce string `json:"nonce"`
		}
		if parts := strings.Split(idToken, "."); len(parts) == 3 {
			if payload, err := jwt.NewParser().DecodeSegment(parts[1]); err == nil {
				_ = json.Unmarshal(payload, &nonceClaims)
			}
		}
		if nonceClaims.Nonce != expectedNonce {
			return nil, errors.New("nonce mismatch")
		}
	}

	return claims, nil
}

// Authenticate resolves a Google identity to a user, creating or
// auto-linking as needed, and records the federated token metadata on
// the account.
func (s *GoogleService) Authenticate(ctx context.Context, claims *GoogleClaims, tokens *GoogleTokenResponse) (*domain.User, error) {
	account, err := s.accounts.GetByProviderSubject(ctx, domain.ProviderGoogle, claims.Subject)
	if err == nil {
		s.updateFederatedTokens(ctx, account.ID, tokens)
		return s.users.GetByID(ctx, account.UserID)
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, err
	}

	// Auto-link only when Google vouches for the address; otherwise an
	// attacker could claim an unverified email and take over the user.
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(claims.Email))
	if err == nil {
		if !claims.EmailVerified {
			return nil, domain.ErrAccountAlreadyLinked
		}
		newAccount := s.newGoogleAccount(user.ID, claims, tokens)
		if err := s.accounts.Create(ctx, newAccount); err != nil {
			return nil, err
		}
		s.logger.Info("google account linked", "user_id", user.ID)
		return user, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	newUser := &domain.User{
		ID:            uuid.New(),
		Email:         NormalizeEmail(claims.Email),
		EmailVerified: claims.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if claims.Name != "" {
		name := SanitizeName(claims.Name)
		newUser.Name = &name
	}
	if claims.Picture != "" {
		picture := claims.Picture
		newUser.Image = &picture
	}

	newAccount := s.newGoogleAccount(newUser.ID, claims, tokens)

	err = repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.users.CreateTx(ctx, tx, newUser); err != nil {
			return err
		}
		return s.accounts.CreateTx(ctx, tx, newAccount)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered via google", "user_id", newUser.ID)
	return newUser, nil
}

func (s *GoogleService) newGoogleAccount(userID uuid.UUID, claims *GoogleClaims, tokens *GoogleTokenResponse) *domain.Account {
	now := time.Now().UTC()
	subject := claims.Subject
	account := &domain.Account{
		ID:              uuid.New(),
		UserID:          userID,
		Provider:        domain.ProviderGoogle,
		ProviderSubject: &subject,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if tokens != nil {
		if tokens.AccessToken != "" {
			account.AccessToken = &tokens.AccessToken
		}
		if tokens.RefreshToken != "" {
			account.RefreshToken = &tokens.RefreshToken
		}
		if tokens.ExpiresIn > 0 {
			expiresAt := now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
			account.TokenExpiresAt = &expiresAt
		}
	}
	return account
}

func (s *GoogleService) updateFederatedTokens(ctx context.Context, accountID uuid.UUID, tokens *GoogleTokenResponse) {
	if tokens == nil {
		return
	}
	var accessToken, refreshToken *string
	var expiresAt *time.Time
	if tokens.AccessToken != "" {
		accessToken = &tokens.AccessToken
	}
	if tokens.RefreshToken != "" {
		refreshToken = &tokens.RefreshToken
	}
	if tokens.ExpiresIn > 0 {
		t := time.Now().UTC().Add(time.Duration(tokens.ExpiresIn) * time.Second)
		expiresAt = &t
	}
	if err := s.accounts.UpdateFederatedTokens(ctx, accountID, accessToken, refreshToken, expiresAt); err != nil {
		s.logger.Error("failed to update federated tokens", "account_id", accountID, "error", err)
	}
}
