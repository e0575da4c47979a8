package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/finora/identity/pkg/domain"
)

const verificationTokenColumns = `id, user_id, token_hash, kind, created_at, expires_at, consumed_at, attempts, metadata`

// VerificationTokensRepository handles verification token persistence.
type VerificationTokensRepository struct {
	db *sql.DB
}

// NewVerificationTokensRepository creates a new verification tokens repository.
func NewVerificationTokensRepository(db *sql.DB) *VerificationTokensRepository {
	return &VerificationTokensRepository{db: db}
}

// Create creates a new verification token.
func (r *VerificationTokensRepository) Create(ctx context.Context, token *domain.VerificationToken) error {
	return r.CreateTx(ctx, r.db, token)
}

// CreateTx creates a new verification token within a transaction.
func (r *VerificationTokensRepository) CreateTx(ctx context.Context, q Querier, token *domain.VerificationToken) error {
	query := `
		INSERT INTO verification_tokens (id, user_id, token_hash, kind, created_at, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.ExecContext(ctx, query,
		token.ID, token.UserID, token.TokenHash, token.Kind,
		token.CreatedAt, token.ExpiresAt, token.Metadata,
	)
	return err
}

// GetByTokenHash retrieves a verification token by token hash and kind.
func (r *VerificationTokensRepository) GetByTokenHash(ctx context.Context, tokenHash string, kind domain.VerificationTokenKind) (*domain.VerificationToken, error) {
	query := `SELECT ` + verificationTokenColumns + ` FROM verification_tokens WHERE token_hash = $1 AND kind = $2`
	token := &domain.VerificationToken{}
	err := r.db.QueryRowContext(ctx, query, tokenHash, kind).Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.Kind,
		&token.CreatedAt, &token.ExpiresAt, &token.ConsumedAt, &token.Attempts, &token.Metadata,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVerificationTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// MarkConsumed marks a verification token as consumed.
func (r *VerificationTokensRepository) MarkConsumed(ctx context.Context, tokenID uuid.UUID) error {
	return r.MarkConsumedTx(ctx, r.db, tokenID)
}

// MarkConsumedTx marks a verification token as consumed within a
// transaction. The consumed_at guard makes consumption single-use even
// under concurrent attempts.
func (r *VerificationTokensRepository) MarkConsumedTx(ctx context.Context, q Querier, tokenID uuid.UUID) error {
	query := `
		UPDATE verification_tokens
		SET consumed_at = NOW()
		WHERE id = $1 AND consumed_at IS NULL
	`
	result, err := q.ExecContext(ctx, query, tokenID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrVerificationTokenConsumed
	}
	return nil
}

// IncrementAttempts bumps the failed-attempt counter on a challenge token
// and returns the new count.
func (r *VerificationTokensRepository) IncrementAttempts(ctx context.Context, tokenID uuid.UUID) (int, error) {
	query := `
		UPDATE verification_tokens
		SET attempts = attempts + 1
		WHERE id = $1 AND consumed_at IS NULL
		RETURNING attempts
	`
	var attempts int
	err := r.db.QueryRowContext(ctx, query, tokenID).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrVerificationTokenConsumed
	}
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

// RevokeActiveTokens revokes (marks consumed) all active tokens of a kind for a user.
func (r *VerificationTokensRepository) RevokeActiveTokens(ctx context.Context, userID uuid.UUID, kind domain.VerificationTokenKind) error {
	return r.RevokeActiveTokensTx(ctx, r.db, userID, kind)
}

// RevokeActiveTokensTx revokes all active tokens within a transaction.
func (r *VerificationTokensRepository) RevokeActiveTokensTx(ctx context.Context, q Querier, userID uuid.UUID, kind domain.VerificationTokenKind) error {
	query := `
		UPDATE verification_tokens
		SET consumed_at = NOW()
		WHERE user_id = $1 AND kind = $2 AND consumed_at IS NULL AND expires_at > NOW()
	`
	_, err := q.ExecContext(ctx, query, userID, kind)
	return err
}

// DeleteAllByUserIDTx removes every token owned by a user within a transaction.
func (r *VerificationTokensRepository) DeleteAllByUserIDTx(ctx context.Context, q Querier, userID uuid.UUID) error {
	query := `DELETE FROM verification_tokens WHERE user_id = $1`
	_, err := q.ExecContext(ctx, query, userID)
	return err
}
