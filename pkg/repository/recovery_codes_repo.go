package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/finora/identity/pkg/domain"
)

// RecoveryCodesRepository handles two-factor recovery code persistence.
type RecoveryCodesRepository struct {
	db *sql.DB
}

// NewRecoveryCodesRepository creates a new recovery codes repository.
func NewRecoveryCodesRepository(db *sql.DB) *RecoveryCodesRepository {
	return &RecoveryCodesRepository{db: db}
}

// CreateBatchTx inserts a set of recovery codes within a transaction.
func (r *RecoveryCodesRepository) CreateBatchTx(ctx context.Context, q Querier, codes []*domain.RecoveryCode) error {
	query := `
		INSERT INTO recovery_codes (id, user_id, code_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`
	for _, code := range codes {
		if _, err := q.ExecContext(ctx, query, code.ID, code.UserID, code.CodeHash, code.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

// ListUnused retrieves a user's unused recovery codes.
func (r *RecoveryCodesRepository) ListUnused(ctx context.Context, userID uuid.UUID) ([]*domain.RecoveryCode, error) {
	query := `
		SELECT id, user_id, code_hash, used_at, created_at
		FROM recovery_codes
		WHERE user_id = $1 AND used_at IS NULL
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []*domain.RecoveryCode
	for rows.Next() {
		code := &domain.RecoveryCode{}
		if err := rows.Scan(&code.ID, &code.UserID, &code.CodeHash, &code.UsedAt, &code.CreatedAt); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// CountUnused counts a user's remaining recovery codes.
func (r *RecoveryCodesRepository) CountUnused(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM recovery_codes WHERE user_id = $1 AND used_at IS NULL`
	var count int
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&count)
	return count, err
}

// MarkUsed consumes a recovery code. The used_at guard keeps each code single-use.
func (r *RecoveryCodesRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE recovery_codes SET used_at = NOW() WHERE id = $1 AND used_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrInvalidRecoveryCode
	}
	return nil
}

// DeleteAllByUserIDTx removes a user's recovery codes within a transaction.
func (r *RecoveryCodesRepository) DeleteAllByUserIDTx(ctx context.Context, q Querier, userID uuid.UUID) error {
	query := `DELETE FROM recovery_codes WHERE user_id = $1`
	_, err := q.ExecContext(ctx, query, userID)
	return err
}
