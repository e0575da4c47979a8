package auth

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/finora/identity/internal/config"
	"github.com/finora/identity/pkg/domain"
	"github.com/finora/identity/pkg/repository"
)

const (
	recoveryCodeCount      = 10
	maxChallengeOTPRetries = 5
)

// TwoFactorService manages TOTP enrollment, verification and the
// challenge tokens that gate login for enrolled users. TOTP secrets are
// stored encrypted with AES-256-GCM; recovery codes are stored hashed.
type TwoFactorService struct {
	db            *sql.DB
	users         *repository.UsersRepository
	secrets       *repository.TwoFactorSecretsRepository
	recoveryCodes *repository.RecoveryCodesRepository
	tokens        *repository.VerificationTokensRepository
	encryptionKey []byte
	cfg           *config.Config
	logger        *slog.Logger
}

func NewTwoFactorService(
	db *sql.DB,
	users *repository.UsersRepository,
	secrets *repository.TwoFactorSecretsRepository,
	recoveryCodes *repository.RecoveryCodesRepository,
	tokens *repository.VerificationTokensRepository,
	cfg *config.Config,
	logger *slog.Logger,
) (*TwoFactorService, error) {
	key, err := hex.DecodeString(cfg.TwoFactorEncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("TWO_FACTOR_ENCRYPTION_KEY must be 64 hex characters (32 bytes)")
	}
	return &TwoFactorService{
		db:            db,
		users:         users,
		secrets:       secrets,
		recoveryCodes: recoveryCodes,
		tokens:        tokens,
		encryptionKey: key,
		cfg:           cfg,
		logger:        logger,
	}, nil
}

// Setup generates a new TOTP secret for the user and returns it with a
// QR code and fresh recovery codes. The secret stays disabled until the
// user proves possession with a valid code via Enable.
func (s *TwoFactorService) Setup(ctx context.Context, user *domain.User) (*domain.TwoFactorSetup, error) {
	if user.TwoFactorEnabled {
		return nil, domain.ErrTwoFactorAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.AppName,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	encrypted, err := s.encrypt(key.Secret())
	if err != nil {
		return nil, err
	}

	qrDataURI, err := qrCodeDataURI(key)
	if err != nil {
		return nil, err
	}

	plainCodes, hashedCodes, err := generateRecoveryCodes(user.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	secret := &domain.TwoFactorSecret{
		ID:              uuid.New(),
		UserID:          user.ID,
		SecretEncrypted: encrypted,
		CreatedAt:       now,
	}

	err = repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		// Replace any previous unconfirmed enrollment.
		if err := s.recoveryCodes.DeleteAllByUserIDTx(ctx, tx, user.ID); err != nil {
			return err
		}
		if err := s.secrets.DeleteAllByUserIDTx(ctx, tx, user.ID); err != nil {
			return err
		}
		if err := s.secrets.CreateTx(ctx, tx, secret); err != nil {
			return err
		}
		return s.recoveryCodes.CreateBatchTx(ctx, tx, hashedCodes)
	})
	if err != nil {
		return nil, err
	}

	return &domain.TwoFactorSetup{
		Secret:        key.Secret(),
		QRCodeDataURI: qrDataURI,
		RecoveryCodes: plainCodes,
	}, nil
}

// Enable confirms enrollment by checking a TOTP code against the
// pending secret, then flips both the secret and the user flag.
func (s *TwoFactorService) Enable(ctx context.Context, userID uuid.UUID, code string) error {
	secret, err := s.secrets.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if secret.Enabled {
		return domain.ErrTwoFactorAlreadyEnabled
	}

	ok, err := s.verifyCode(secret, code)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidOTP
	}

	err = repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.secrets.SetEnabledTx(ctx, tx, secret.ID, true); err != nil {
			return err
		}
		return s.users.UpdateTwoFactorEnabledTx(ctx, tx, userID, true)
	})
	if err != nil {
		return err
	}

	s.logger.Info("two-factor enabled", "user_id", userID)
	return nil
}

// Disable turns off two-factor authentication after verifying a current
// TOTP code or recovery code.
func (s *TwoFactorService) Disable(ctx context.Context, userID uuid.UUID, code string) error {
	if err := s.verifyEither(ctx, userID, code); err != nil {
		return err
	}

	err := repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.recoveryCodes.DeleteAllByUserIDTx(ctx, tx, userID); err != nil {
			return err
		}
		if err := s.secrets.DeleteAllByUserIDTx(ctx, tx, userID); err != nil {
			return err
		}
		return s.users.UpdateTwoFactorEnabledTx(ctx, tx, userID, false)
	})
	if err != nil {
		return err
	}

	s.logger.Info("two-factor disabled", "user_id", userID)
	return nil
}

// Status reports whether two-factor is enabled and how many recovery
// codes remain unused.
func (s *TwoFactorService) Status(ctx context.Context, userID uuid.UUID) (enabled bool, remainingCodes int, err error) {
	secret, err := s.secrets.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrTwoFactorNotEnabled) {
			return false, 0, nil
		}
		return false, 0, err
	}
	if !secret.Enabled {
		return false, 0, nil
	}
	count, err := s.recoveryCodes.CountUnused(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	return true, count, nil
}

// CreateChallenge issues a short-lived challenge token after the first
// factor succeeds. The session is only issued once the challenge is
// answered with a valid code.
func (s *TwoFactorService) CreateChallenge(ctx context.Context, userID uuid.UUID) (string, error) {
	plain, err := GenerateToken(verificationTokenBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate challenge token: %w", err)
	}

	now := time.Now().UTC()
	token := &domain.VerificationToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: HashToken(plain),
		Kind:      domain.TokenKindTwoFactorChallenge,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TwoFactorChallengeTTL),
	}

	err = repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.tokens.RevokeActiveTokensTx(ctx, tx, userID, domain.TokenKindTwoFactorChallenge); err != nil {
			return err
		}
		return s.tokens.CreateTx(ctx, tx, token)
	})
	if err != nil {
		return "", err
	}
	return plain, nil
}

// VerifyChallenge answers a login challenge with a TOTP or recovery
// code. A wrong code counts against the challenge; after too many
// failures the challenge is consumed and login must restart.
func (s *TwoFactorService) VerifyChallenge(ctx context.Context, challengeToken, code string) (uuid.UUID, error) {
	token, err := s.tokens.GetByTokenHash(ctx, HashToken(challengeToken), domain.TokenKindTwoFactorChallenge)
	if err != nil {
		if errors.Is(err, domain.ErrVerificationTokenNotFound) {
			return uuid.Nil, domain.ErrVerificationTokenInvalid
		}
		return uuid.Nil, err
	}
	if token.ConsumedAt != nil {
		return uuid.Nil, domain.ErrVerificationTokenConsumed
	}
	if time.Now().After(token.ExpiresAt) {
		return uuid.Nil, domain.ErrTwoFactorChallengeExpired
	}

	if err := s.verifyEither(ctx, token.UserID, code); err != nil {
		attempts, incErr := s.tokens.IncrementAttempts(ctx, token.ID)
		if incErr != nil {
			s.logger.Error("failed to record challenge attempt", "token_id", token.ID, "error", incErr)
		} else if attempts >= maxChallengeOTPRetries {
			if mErr := s.tokens.MarkConsumed(ctx, token.ID); mErr != nil {
				s.logger.Error("failed to consume exhausted challenge", "token_id", token.ID, "error", mErr)
			}
			s.logger.Warn("two-factor challenge exhausted", "user_id", token.UserID)
		}
		return uuid.Nil, err
	}

	if err := s.tokens.MarkConsumed(ctx, token.ID); err != nil {
		return uuid.Nil, err
	}
	return token.UserID, nil
}

// verifyEither accepts a TOTP code or, failing that, a recovery code.
func (s *TwoFactorService) verifyEither(ctx context.Context, userID uuid.UUID, code string) error {
	secret, err := s.secrets.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.verifyCode(secret, code)
	if err != nil {
		return err
	}
	if ok {
		if err := s.secrets.UpdateLastUsed(ctx, secret.ID); err != nil {
			s.logger.Debug("failed to update secret last used", "user_id", userID, "error", err)
		}
		return nil
	}

	if looksLikeRecoveryCode(code) {
		return s.consumeRecoveryCode(ctx, userID, code)
	}
	return domain.ErrInvalidOTP
}

// verifyCode checks a TOTP code against the decrypted secret, allowing
// one period of clock skew either way.
func (s *TwoFactorService) verifyCode(secret *domain.TwoFactorSecret, code string) (bool, error) {
	plainSecret, err := s.decrypt(secret.SecretEncrypted)
	if err != nil {
		return false, err
	}
	ok, err := totp.ValidateCustom(strings.TrimSpace(code), plainSecret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, nil
	}
	return ok, nil
}

func (s *TwoFactorService) consumeRecoveryCode(ctx context.Context, userID uuid.UUID, code string) error {
	codes, err := s.recoveryCodes.ListUnused(ctx, userID)
	if err != nil {
		return err
	}
	normalized := normalizeRecoveryCode(code)
	for _, rc := range codes {
		if VerifyPassword(normalized, rc.CodeHash) {
			if err := s.recoveryCodes.MarkUsed(ctx, rc.ID); err != nil {
				return err
			}
			s.logger.Warn("recovery code used", "user_id", userID)
			return nil
		}
	}
	return domain.ErrInvalidRecoveryCode
}

func (s *TwoFactorService) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *TwoFactorService) decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt TOTP secret: %w", err)
	}
	return string(plaintext), nil
}

// qrCodeDataURI renders the otpauth:// URL as an inline PNG.
func qrCodeDataURI(key *otp.Key) (string, error) {
	img, err := key.Image(256, 256)
	if err != nil {
		return "", fmt.Errorf("failed to render QR code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// generateRecoveryCodes returns plain codes for one-time display and the
// hashed rows to persist.
func generateRecoveryCodes(userID uuid.UUID) ([]string, []*domain.RecoveryCode, error) {
	plain := make([]string, 0, recoveryCodeCount)
	hashed := make([]*domain.RecoveryCode, 0, recoveryCodeCount)
	now := time.Now().UTC()

	for i := 0; i < recoveryCodeCount; i++ {
		raw := make([]byte, 5)
		if _, err := rand.Read(raw); err != nil {
			return nil, nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		code := formatRecoveryCode(hex.EncodeToString(raw))
		hash, err := HashPassword(normalizeRecoveryCode(code))
		if err != nil {
			return nil, nil, err
		}
		plain = append(plain, code)
		hashed = append(hashed, &domain.RecoveryCode{
			ID:        uuid.New(),
			UserID:    userID,
			CodeHash:  hash,
			CreatedAt: now,
		})
	}
	return plain, hashed, nil
}

// formatRecoveryCode renders a code as xxxxx-xxxxx for readability.
func formatRecoveryCode(raw string) string {
	raw = strings.ToLower(raw)
	if len(raw) < 10 {
		return raw
	}
	return raw[:5] + "-" + raw[5:10]
}

func normalizeRecoveryCode(code string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}

// looksLikeRecoveryCode distinguishes recovery codes from 6-digit TOTP
// input so a mistyped TOTP code does not scan the recovery code table.
func looksLikeRecoveryCode(code string) bool {
	return len(strings.TrimSpace(code)) > 6
}
