package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestRevokeAllByUserID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionsRepository(db)
	userID := uuid.New()

	// Only unrevoked rows are touched; revoked sessions keep their
	// original revocation time.
	mock.ExpectExec(`UPDATE sessions SET revoked_at = NOW\(\) WHERE user_id = \$1 AND revoked_at IS NULL`).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := repo.RevokeAllByUserID(context.Background(), userID); err != nil {
		t.Fatalf("RevokeAllByUserID() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRevokeOtherSessions(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSessionsRepository(db)
	userID := uuid.New()
	keepID := uuid.New()

	mock.ExpectExec(`UPDATE sessions SET revoked_at = NOW\(\) WHERE user_id = \$1 AND id <> \$2 AND revoked_at IS NULL`).
		WithArgs(userID, keepID).
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := repo.RevokeOtherSessions(context.Background(), userID, keepID); err != nil {
		t.Fatalf("RevokeOtherSessions() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
