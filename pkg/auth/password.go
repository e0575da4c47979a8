package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finora/identity/internal/config"
	"github.com/finora/identity/pkg/domain"
	"github.com/finora/identity/pkg/repository"
)

const (
	maxFailedLoginAttempts = 5
	loginLockoutDuration   = 15 * time.Minute
)

// PasswordService handles registration and password authentication.
type PasswordService struct {
	db       *sql.DB
	users    *repository.UsersRepository
	accounts *repository.AccountsRepository
	policy   *PasswordPolicy
	cfg      *config.Config
	logger   *slog.Logger
}

func NewPasswordService(
	db *sql.DB,
	users *repository.UsersRepository,
	accounts *repository.AccountsRepository,
	policy *PasswordPolicy,
	cfg *config.Config,
	logger *slog.Logger,
) *PasswordService {
	return &PasswordService{
		db:       db,
		users:    users,
		accounts: accounts,
		policy:   policy,
		cfg:      cfg,
		logger:   logger,
	}
}

// RegisterParams are the inputs for password registration.
type RegisterParams struct {
	Email    string
	Username string
	Password string
	Name     string
}

// Register creates a new user with a password credential. The user row
// and the password account are created in one transaction so a failure
// on either side leaves no partial identity behind.
func (s *PasswordService) Register(ctx context.Context, params RegisterParams) (*domain.User, error) {
	email := NormalizeEmail(params.Email)

	if err := ValidateEmail(email, s.cfg.Validation.StrictEmailValidation, s.cfg.Validation.BlockDisposableEmail); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEmail, err)
	}

	var username *string
	if params.Username != "" {
		if err := ValidateUsername(params.Username); err != nil {
			return nil, err
		}
		username = &params.Username
	}

	if err := s.policy.ValidatePassword(params.Password); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWeakPassword, err)
	}

	hash, err := HashPassword(params.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var name *string
	if params.Name != "" {
		cleaned := SanitizeName(params.Name)
		if err := ValidateStringLength("name", cleaned, 1, 100); err != nil {
			return nil, err
		}
		name = &cleaned
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:        uuid.New(),
		Email:     email,
		Username:  username,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.users.CreateTx(ctx, tx, user); err != nil {
			return err
		}
		account := &domain.Account{
			ID:           uuid.New(),
			UserID:       user.ID,
			Provider:     domain.ProviderPassword,
			PasswordHash: &hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return s.accounts.CreateTx(ctx, tx, account)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID, "email", email)
	return user, nil
}

// Authenticate verifies an email-or-username/password pair. It enforces
// the failed-attempt lockout and never reveals whether the identifier
// or the password was wrong.
func (s *PasswordService) Authenticate(ctx context.Context, identifier, password string) (*domain.User, error) {
	// The repository lowercases both sides of the lookup, so a
	// mixed-case username matches without clobbering the email path.
	user, err := s.users.GetByEmailOrUsername(ctx, strings.TrimSpace(identifier))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			// Burn a hash to keep timing uniform for unknown identifiers.
			VerifyPassword(password, dummyHash)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if user.IsLocked() {
		s.logger.Warn("login attempt on locked account", "user_id", user.ID)
		return nil, domain.ErrAccountLocked
	}

	account, err := s.accounts.GetPasswordAccount(ctx, user.ID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			// Federated-only user; no password to check.
			VerifyPassword(password, dummyHash)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if account.PasswordHash == nil || !VerifyPassword(password, *account.PasswordHash) {
		if err := s.users.IncrementFailedLoginAttempts(ctx, user.ID, loginLockoutDuration, maxFailedLoginAttempts); err != nil {
			s.logger.Error("failed to record login failure", "user_id", user.ID, "error", err)
		}
		return nil, domain.ErrInvalidCredentials
	}

	if user.FailedLoginAttempts > 0 {
		if err := s.users.ResetFailedLoginAttempts(ctx, user.ID); err != nil {
			s.logger.Error("failed to reset login attempts", "user_id", user.ID, "error", err)
		}
	}

	if s.cfg.RequireEmailVerification && !user.EmailVerified {
		return nil, domain.ErrEmailNotVerified
	}

	return user, nil
}

// ChangePassword sets a new password after verifying the current one.
func (s *PasswordService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	account, err := s.accounts.GetPasswordAccount(ctx, userID)
	if err != nil {
		return err
	}

	if account.PasswordHash == nil || !VerifyPassword(currentPassword, *account.PasswordHash) {
		return domain.ErrInvalidCredentials
	}

	if err := s.policy.ValidatePassword(newPassword); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrWeakPassword, err)
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.accounts.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}

	s.logger.Info("password changed", "user_id", userID)
	return nil
}

// GetUserByID looks up a user by id.
func (s *PasswordService) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.users.GetByID(ctx, id)
}

// GetUserByEmail looks up a user by normalized email.
func (s *PasswordService) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.users.GetByEmail(ctx, NormalizeEmail(email))
}

// dummyHash is a valid argon2id hash of a random string, used to equalize
// the work done for unknown identifiers.
var dummyHash = func() string {
	h, err := HashPassword(uuid.NewString())
	if err != nil {
		panic(err)
	}
	return h
}()
