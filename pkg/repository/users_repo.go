package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/finora/identity/pkg/domain"
)

const userColumns = `id, email, username, email_verified, name, image,
	failed_login_attempts, locked_until, two_factor_enabled, created_at, updated_at`

// UsersRepository handles user persistence.
type UsersRepository struct {
	db *sql.DB
}

// NewUsersRepository creates a new users repository.
func NewUsersRepository(db *sql.DB) *UsersRepository {
	return &UsersRepository{db: db}
}

func scanUser(row *sql.Row) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.Username, &user.EmailVerified, &user.Name, &user.Image,
		&user.FailedLoginAttempts, &user.LockedUntil, &user.TwoFactorEnabled,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create creates a new user.
func (r *UsersRepository) Create(ctx context.Context, user *domain.User) error {
	return r.CreateTx(ctx, r.db, user)
}

// CreateTx creates a new user within a transaction.
func (r *UsersRepository) CreateTx(ctx context.Context, q Querier, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, username, email_verified, name, image, two_factor_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.ExecContext(ctx, query,
		user.ID, user.Email, user.Username, user.EmailVerified, user.Name, user.Image,
		user.TwoFactorEnabled, user.CreatedAt, user.UpdatedAt,
	)
	if IsUniqueViolation(err, "users_email_key") {
		return domain.ErrUserAlreadyExists
	}
	if IsUniqueViolation(err, "users_username_key") {
		return domain.ErrUsernameAlreadyExists
	}
	return err
}

// GetByID retrieves a user by ID.
func (r *UsersRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a user by email. The lookup is case-insensitive.
func (r *UsersRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = LOWER($1)`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetByEmailOrUsername retrieves a user by email or username. Both
// lookups are case-insensitive; usernames are stored as entered but the
// unique index is on LOWER(username).
func (r *UsersRepository) GetByEmailOrUsername(ctx context.Context, identifier string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = LOWER($1) OR LOWER(username) = LOWER($1)`
	return scanUser(r.db.QueryRowContext(ctx, query, identifier))
}

// ExistsByEmail checks if a user exists by email, case-insensitively.
func (r *UsersRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = LOWER($1))`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, email).Scan(&exists)
	return exists, err
}

// ExistsByUsername checks if a user exists by username, case-insensitively.
func (r *UsersRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(username) = LOWER($1))`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, username).Scan(&exists)
	return exists, err
}

// Update updates a user's mutable profile fields.
func (r *UsersRepository) Update(ctx context.Context, user *domain.User) error {
	return r.UpdateTx(ctx, r.db, user)
}

// UpdateTx updates a user within a transaction.
func (r *UsersRepository) UpdateTx(ctx context.Context, q Querier, user *domain.User) error {
	query := `
		UPDATE users
		SET email = $2, username = $3, email_verified = $4, name = $5, image = $6,
		    failed_login_attempts = $7, locked_until = $8, updated_at = $9
		WHERE id = $1
	`
	result, err := q.ExecContext(ctx, query,
		user.ID, user.Email, user.Username, user.EmailVerified, user.Name, user.Image,
		user.FailedLoginAttempts, user.LockedUntil, time.Now(),
	)
	if IsUniqueViolation(err, "users_email_key") {
		return domain.ErrEmailAlreadyExists
	}
	if IsUniqueViolation(err, "users_username_key") {
		return domain.ErrUsernameAlreadyExists
	}
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// SetEmailVerifiedTx marks a user's email as verified within a transaction.
func (r *UsersRepository) SetEmailVerifiedTx(ctx context.Context, q Querier, userID uuid.UUID) error {
	query := `UPDATE users SET email_verified = true, updated_at = NOW() WHERE id = $1`
	result, err := q.ExecContext(ctx, query, userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// UpdateEmailTx replaces a user's email within a transaction. The new
// address is considered verified: it was just proven by token consumption.
func (r *UsersRepository) UpdateEmailTx(ctx context.Context, q Querier, userID uuid.UUID, email string, verified bool) error {
	query := `UPDATE users SET email = LOWER($2), email_verified = $3, updated_at = NOW() WHERE id = $1`
	result, err := q.ExecContext(ctx, query, userID, email, verified)
	if IsUniqueViolation(err, "users_email_key") {
		return domain.ErrEmailAlreadyExists
	}
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// UpdateTwoFactorEnabled flips the two-factor enablement flag.
func (r *UsersRepository) UpdateTwoFactorEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error {
	return r.UpdateTwoFactorEnabledTx(ctx, r.db, userID, enabled)
}

// UpdateTwoFactorEnabledTx flips the two-factor flag within a transaction.
func (r *UsersRepository) UpdateTwoFactorEnabledTx(ctx context.Context, q Querier, userID uuid.UUID, enabled bool) error {
	query := `UPDATE users SET two_factor_enabled = $2, updated_at = NOW() WHERE id = $1`
	result, err := q.ExecContext(ctx, query, userID, enabled)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// IncrementFailedLoginAttempts increments the failure counter and locks
// the account once maxAttempts is reached.
func (r *UsersRepository) IncrementFailedLoginAttempts(ctx context.Context, userID uuid.UUID, lockoutDuration time.Duration, maxAttempts int) error {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    locked_until = CASE
		        WHEN failed_login_attempts + 1 >= $2 THEN NOW() + make_interval(secs => $3)
		        ELSE locked_until
		    END,
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID, maxAttempts, lockoutDuration.Seconds())
	return err
}

// ResetFailedLoginAttempts resets the failure counter and clears lockout.
func (r *UsersRepository) ResetFailedLoginAttempts(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID)
	return err
}

// DeleteTx permanently deletes a user within a transaction. Dependent
// rows (accounts, sessions, tokens, two-factor data) cascade via foreign
// keys; callers still remove them explicitly for visibility.
func (r *UsersRepository) DeleteTx(ctx context.Context, q Querier, id uuid.UUID) error {
	query := `DELETE FROM users WHERE id = $1`
	result, err := q.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
