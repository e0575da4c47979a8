package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/finora/identity/internal/config"
	"github.com/finora/identity/pkg/domain"
	"github.com/finora/identity/pkg/repository"
)

const verificationTokenBytes = 32

// emailChangeMetadata is stored on email change tokens so the target
// address is fixed at request time and checked again at consume time.
type emailChangeMetadata struct {
	NewEmail string `json:"new_email"`
}

// VerificationService manages single-use verification tokens and the
// state changes they authorize. Issuing a token revokes prior active
// tokens of the same kind, and consuming one is transactional with the
// state change so a token can never be spent twice.
type VerificationService struct {
	db            *sql.DB
	users         *repository.UsersRepository
	accounts      *repository.AccountsRepository
	sessions      *repository.SessionsRepository
	tokens        *repository.VerificationTokensRepository
	twoFactor     *repository.TwoFactorSecretsRepository
	recoveryCodes *repository.RecoveryCodesRepository
	policy        *PasswordPolicy
	cfg           *config.Config
	logger        *slog.Logger
}

func NewVerificationService(
	db *sql.DB,
	users *repository.UsersRepository,
	accounts *repository.AccountsRepository,
	sessions *repository.SessionsRepository,
	tokens *repository.VerificationTokensRepository,
	twoFactor *repository.TwoFactorSecretsRepository,
	recoveryCodes *repository.RecoveryCodesRepository,
	policy *PasswordPolicy,
	cfg *config.Config,
	logger *slog.Logger,
) *VerificationService {
	return &VerificationService{
		db:            db,
		users:         users,
		accounts:      accounts,
		sessions:      sessions,
		tokens:        tokens,
		twoFactor:     twoFactor,
		recoveryCodes: recoveryCodes,
		policy:        policy,
		cfg:           cfg,
		logger:        logger,
	}
}

// issueToken rotates active tokens of the kind and creates a new one,
// returning the plain token for delivery. Only the hash is stored.
func (s *VerificationService) issueToken(ctx context.Context, userID uuid.UUID, kind domain.VerificationTokenKind, ttl time.Duration, metadata []byte) (string, *domain.VerificationToken, error) {
	plain, err := GenerateToken(verificationTokenBytes)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := time.Now().UTC()
	token := &domain.VerificationToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: HashToken(plain),
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Metadata:  metadata,
	}

	err = repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.tokens.RevokeActiveTokensTx(ctx, tx, userID, kind); err != nil {
			return err
		}
		return s.tokens.CreateTx(ctx, tx, token)
	})
	if err != nil {
		return "", nil, err
	}
	return plain, token, nil
}

// lookupValidToken resolves a plain token and checks its lifecycle.
func (s *VerificationService) lookupValidToken(ctx context.Context, plain string, kind domain.VerificationTokenKind) (*domain.VerificationToken, error) {
	token, err := s.tokens.GetByTokenHash(ctx, HashToken(plain), kind)
	if err != nil {
		if errors.Is(err, domain.ErrVerificationTokenNotFound) {
			return nil, domain.ErrVerificationTokenInvalid
		}
		return nil, err
	}
	if token.ConsumedAt != nil {
		return nil, domain.ErrVerificationTokenConsumed
	}
	if time.Now().After(token.ExpiresAt) {
		return nil, domain.ErrVerificationTokenExpired
	}
	return token, nil
}

// RequestEmailVerification issues a fresh email verification token.
func (s *VerificationService) RequestEmailVerification(ctx context.Context, userID uuid.UUID) (string, error) {
	plain, _, err := s.issueToken(ctx, userID, domain.TokenKindEmailVerification, s.cfg.EmailVerificationTTL, nil)
	return plain, err
}

// VerifyEmail consumes an email verification token and marks the user's
// email verified. Consumption and the flag flip commit together.
func (s *VerificationService) VerifyEmail(ctx context.Context, plain string) (*domain.User, error) {
	token, err := s.lookupValidToken(ctx, plain, domain.TokenKindEmailVerification)
	if err != nil {
		return nil, err
	}

	err = repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.tokens.MarkConsumedTx(ctx, tx, token.ID); err != nil {
			return err
		}
		return s.users.SetEmailVerifiedTx(ctx, tx, token.UserID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("email verified", "user_id", token.UserID)
	return s.users.GetByID(ctx, token.UserID)
}

// RequestPasswordReset issues a reset token for the given email. The
// caller is expected to respond identically whether or not the address
// exists; ErrUserNotFound signals only that no mail should be sent.
func (s *VerificationService) RequestPasswordReset(ctx context.Context, email string) (*domain.User, string, error) {
	user, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, "", err
	}
	plain, _, err := s.issueToken(ctx, user.ID, domain.TokenKindPasswordReset, s.cfg.PasswordResetTTL, nil)
	if err != nil {
		return nil, "", err
	}
	return user, plain, nil
}

// ResetPassword consumes a reset token, replaces the password hash and
// revokes every session for the user in one transaction. Stolen refresh
// tokens die with the old password.
func (s *VerificationService) ResetPassword(ctx context.Context, plain, newPassword string) error {
	token, err := s.lookupValidToken(ctx, plain, domain.TokenKindPasswordReset)
	if err != nil {
		return err
	}

	if err := s.policy.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWeakPassword, err)
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	err = repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.tokens.MarkConsumedTx(ctx, tx, token.ID); err != nil {
			return err
		}
		if err := s.accounts.UpdatePasswordHashTx(ctx, tx, token.UserID, hash); err != nil {
			return err
		}
		return s.sessions.RevokeAllByUserIDTx(ctx, tx, token.UserID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("password reset", "user_id", token.UserID)
	return nil
}

// EmailChangeResult describes the outcome of an email change request.
// Token is set when the change is pending confirmation; Applied is true
// when the address was swapped immediately.
type EmailChangeResult struct {
	Token    string
	NewEmail string
	Applied  bool
}

// RequestEmailChange starts an email change. When the current address is
// verified, a token is issued and mailed to the new address and nothing
// changes until it is consumed. An unverified current address may be
// swapped immediately when configuration allows it, since there is no
// proven address to protect.
func (s *VerificationService) RequestEmailChange(ctx context.Context, userID uuid.UUID, newEmail string) (EmailChangeResult, error) {
	var result EmailChangeResult

	email := NormalizeEmail(newEmail)
	if err := ValidateEmail(email, s.cfg.Validation.StrictEmailValidation, s.cfg.Validation.BlockDisposableEmail); err != nil {
		return result, fmt.Errorf("%w: %v", domain.ErrInvalidEmail, err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return result, err
	}
	if user.Email == email {
		return result, fmt.Errorf("%w: new email matches current email", domain.ErrInvalidEmail)
	}

	taken, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return result, err
	}
	if taken {
		return result, domain.ErrEmailAlreadyExists
	}

	if !user.EmailVerified && s.cfg.AllowUnverifiedEmailChange {
		err = repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
			return s.users.UpdateEmailTx(ctx, tx, userID, email, false)
		})
		if err != nil {
			return result, err
		}
		s.logger.Info("email changed without verification", "user_id", userID)
		return EmailChangeResult{NewEmail: email, Applied: true}, nil
	}

	meta, err := json.Marshal(emailChangeMetadata{NewEmail: email})
	if err != nil {
		return result, fmt.Errorf("failed to encode token metadata: %w", err)
	}

	plain, _, err := s.issueToken(ctx, userID, domain.TokenKindEmailChange, s.cfg.EmailVerificationTTL, meta)
	if err != nil {
		return result, err
	}
	return EmailChangeResult{Token: plain, NewEmail: email}, nil
}

// ConfirmEmailChange consumes an email change token and swaps the
// address. Uniqueness is re-checked inside the transaction because the
// address may have been claimed since the token was issued.
func (s *VerificationService) ConfirmEmailChange(ctx context.Context, plain string) (*domain.User, error) {
	token, err := s.lookupValidToken(ctx, plain, domain.TokenKindEmailChange)
	if err != nil {
		return nil, err
	}

	var meta emailChangeMetadata
	if err := json.Unmarshal(token.Metadata, &meta); err != nil || meta.NewEmail == "" {
		return nil, domain.ErrVerificationTokenInvalid
	}

	err = repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.tokens.MarkConsumedTx(ctx, tx, token.ID); err != nil {
			return err
		}
		// Reaching the link proves control of the new address.
		return s.users.UpdateEmailTx(ctx, tx, token.UserID, meta.NewEmail, true)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("email changed", "user_id", token.UserID)
	return s.users.GetByID(ctx, token.UserID)
}

// RequestAccountDeletion issues a deletion confirmation token.
func (s *VerificationService) RequestAccountDeletion(ctx context.Context, userID uuid.UUID) (string, error) {
	plain, _, err := s.issueToken(ctx, userID, domain.TokenKindAccountDeletion, s.cfg.AccountDeletionTTL, nil)
	return plain, err
}

// ConfirmAccountDeletion consumes a deletion token and hard-deletes the
// user and everything hanging off them.
func (s *VerificationService) ConfirmAccountDeletion(ctx context.Context, plain string, userID uuid.UUID) error {
	token, err := s.lookupValidToken(ctx, plain, domain.TokenKindAccountDeletion)
	if err != nil {
		return err
	}
	if token.UserID != userID {
		return domain.ErrVerificationTokenInvalid
	}

	err = repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.tokens.MarkConsumedTx(ctx, tx, token.ID); err != nil {
			return err
		}
		return s.deleteUserTx(ctx, tx, userID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("account deleted", "user_id", userID)
	return nil
}

// DeleteAccount hard-deletes a user without a confirmation token. Used
// when delete confirmation is disabled by configuration.
func (s *VerificationService) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	err := repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		return s.deleteUserTx(ctx, tx, userID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("account deleted", "user_id", userID)
	return nil
}

// deleteUserTx removes the user's dependent rows and the user itself.
// The schema cascades on delete as well; deleting explicitly keeps the
// order deterministic and works on databases restored without the FKs.
func (s *VerificationService) deleteUserTx(ctx context.Context, tx *sql.Tx, userID uuid.UUID) error {
	if err := s.recoveryCodes.DeleteAllByUserIDTx(ctx, tx, userID); err != nil {
		return err
	}
	if err := s.twoFactor.DeleteAllByUserIDTx(ctx, tx, userID); err != nil {
		return err
	}
	if err := s.tokens.DeleteAllByUserIDTx(ctx, tx, userID); err != nil {
		return err
	}
	if err := s.sessions.DeleteAllByUserIDTx(ctx, tx, userID); err != nil {
		return err
	}
	if err := s.accounts.DeleteAllByUserIDTx(ctx, tx, userID); err != nil {
		return err
	}
	return s.users.DeleteTx(ctx, tx, userID)
}
