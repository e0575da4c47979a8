package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/finora/identity/pkg/domain"
)

// TwoFactorSecretsRepository handles two-factor secret persistence.
type TwoFactorSecretsRepository struct {
	db *sql.DB
}

// NewTwoFactorSecretsRepository creates a new two-factor secrets repository.
func NewTwoFactorSecretsRepository(db *sql.DB) *TwoFactorSecretsRepository {
	return &TwoFactorSecretsRepository{db: db}
}

// Create creates a new two-factor secret.
func (r *TwoFactorSecretsRepository) Create(ctx context.Context, secret *domain.TwoFactorSecret) error {
	return r.CreateTx(ctx, r.db, secret)
}

// CreateTx creates a new two-factor secret within a transaction.
func (r *TwoFactorSecretsRepository) CreateTx(ctx context.Context, q Querier, secret *domain.TwoFactorSecret) error {
	query := `
		INSERT INTO two_factor_secrets (id, user_id, secret_encrypted, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := q.ExecContext(ctx, query,
		secret.ID, secret.UserID, secret.SecretEncrypted, secret.Enabled, secret.CreatedAt,
	)
	return err
}

// GetByUserID retrieves a user's two-factor secret.
func (r *TwoFactorSecretsRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.TwoFactorSecret, error) {
	query := `
		SELECT id, user_id, secret_encrypted, enabled, created_at, last_used_at
		FROM two_factor_secrets
		WHERE user_id = $1
	`
	secret := &domain.TwoFactorSecret{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&secret.ID, &secret.UserID, &secret.SecretEncrypted,
		&secret.Enabled, &secret.CreatedAt, &secret.LastUsedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTwoFactorNotEnabled
	}
	if err != nil {
		return nil, err
	}
	return secret, nil
}

// SetEnabledTx flips the secret's enablement flag within a transaction.
func (r *TwoFactorSecretsRepository) SetEnabledTx(ctx context.Context, q Querier, id uuid.UUID, enabled bool) error {
	query := `UPDATE two_factor_secrets SET enabled = $2 WHERE id = $1`
	result, err := q.ExecContext(ctx, query, id, enabled)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrTwoFactorNotEnabled
	}
	return nil
}

// UpdateLastUsed records a successful code verification.
func (r *TwoFactorSecretsRepository) UpdateLastUsed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE two_factor_secrets SET last_used_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// DeleteAllByUserIDTx removes a user's two-factor secret within a transaction.
func (r *TwoFactorSecretsRepository) DeleteAllByUserIDTx(ctx context.Context, q Querier, userID uuid.UUID) error {
	query := `DELETE FROM two_factor_secrets WHERE user_id = $1`
	_, err := q.ExecContext(ctx, query, userID)
	return err
}
