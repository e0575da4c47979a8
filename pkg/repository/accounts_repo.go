package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/finora/identity/pkg/domain"
)

const accountColumns = `id, user_id, provider, provider_subject, password_hash,
	access_token, refresh_token, token_expires_at, created_at, updated_at`

// AccountsRepository handles credential binding persistence. A row is
// either a local password credential or a federated provider identity.
type AccountsRepository struct {
	db *sql.DB
}

// NewAccountsRepository creates a new accounts repository.
func NewAccountsRepository(db *sql.DB) *AccountsRepository {
	return &AccountsRepository{db: db}
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	account := &domain.Account{}
	err := row.Scan(
		&account.ID, &account.UserID, &account.Provider, &account.ProviderSubject,
		&account.PasswordHash, &account.AccessToken, &account.RefreshToken,
		&account.TokenExpiresAt, &account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Create creates a new account binding.
func (r *AccountsRepository) Create(ctx context.Context, account *domain.Account) error {
	return r.CreateTx(ctx, r.db, account)
}

// CreateTx creates a new account binding within a transaction.
func (r *AccountsRepository) CreateTx(ctx context.Context, q Querier, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, user_id, provider, provider_subject, password_hash,
		                      access_token, refresh_token, token_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := q.ExecContext(ctx, query,
		account.ID, account.UserID, account.Provider, account.ProviderSubject,
		account.PasswordHash, account.AccessToken, account.RefreshToken,
		account.TokenExpiresAt, account.CreatedAt, account.UpdatedAt,
	)
	if IsUniqueViolation(err, "accounts_provider_subject_key") {
		return domain.ErrAccountAlreadyLinked
	}
	return err
}

// GetPasswordAccount retrieves a user's local password binding.
func (r *AccountsRepository) GetPasswordAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 AND provider = $2`
	return scanAccount(r.db.QueryRowContext(ctx, query, userID, domain.ProviderPassword))
}

// GetByProviderSubject retrieves a federated binding by its external identity.
func (r *AccountsRepository) GetByProviderSubject(ctx context.Context, provider, subject string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE provider = $1 AND provider_subject = $2`
	return scanAccount(r.db.QueryRowContext(ctx, query, provider, subject))
}

// ListByUserID retrieves all bindings owned by a user.
func (r *AccountsRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		account := &domain.Account{}
		err := rows.Scan(
			&account.ID, &account.UserID, &account.Provider, &account.ProviderSubject,
			&account.PasswordHash, &account.AccessToken, &account.RefreshToken,
			&account.TokenExpiresAt, &account.CreatedAt, &account.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// UpdatePasswordHash replaces the password hash on a user's local binding.
func (r *AccountsRepository) UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	return r.UpdatePasswordHashTx(ctx, r.db, userID, hash)
}

// UpdatePasswordHashTx replaces the password hash within a transaction.
func (r *AccountsRepository) UpdatePasswordHashTx(ctx context.Context, q Querier, userID uuid.UUID, hash string) error {
	query := `
		UPDATE accounts
		SET password_hash = $2, updated_at = NOW()
		WHERE user_id = $1 AND provider = $3
	`
	result, err := q.ExecContext(ctx, query, userID, hash, domain.ProviderPassword)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// UpdateFederatedTokens refreshes provider token metadata on a federated binding.
func (r *AccountsRepository) UpdateFederatedTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken *string, expiresAt *time.Time) error {
	query := `
		UPDATE accounts
		SET access_token = $2,
		    refresh_token = COALESCE($3, refresh_token),
		    token_expires_at = $4,
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, accessToken, refreshToken, expiresAt)
	return err
}

// Delete revokes a single binding.
func (r *AccountsRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM accounts WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// DeleteAllByUserIDTx removes every binding owned by a user within a transaction.
func (r *AccountsRepository) DeleteAllByUserIDTx(ctx context.Context, q Querier, userID uuid.UUID) error {
	query := `DELETE FROM accounts WHERE user_id = $1`
	_, err := q.ExecContext(ctx, query, userID)
	return err
}
