package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/finora/identity/pkg/domain"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func userRow(id uuid.UUID, email, username string, twoFactor bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "email", "username", "email_verified", "name", "image",
		"failed_login_attempts", "locked_until", "two_factor_enabled",
		"created_at", "updated_at",
	}).AddRow(id.String(), email, username, true, nil, nil, 0, nil, twoFactor, now, now)
}

func TestGetByEmailOrUsername_MixedCaseUsername(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsersRepository(db)

	id := uuid.New()

	// The raw identifier goes to the database; both sides of the match
	// are lowercased there, so stored mixed-case usernames stay reachable.
	mock.ExpectQuery(`(?s)SELECT .+ FROM users WHERE email = LOWER\(\$1\) OR LOWER\(username\) = LOWER\(\$1\)`).
		WithArgs("JohnDoe").
		WillReturnRows(userRow(id, "john@example.com", "JohnDoe", false))

	user, err := repo.GetByEmailOrUsername(context.Background(), "JohnDoe")
	if err != nil {
		t.Fatalf("GetByEmailOrUsername() error = %v", err)
	}
	if user.ID != id {
		t.Errorf("user.ID = %v, want %v", user.ID, id)
	}
	if user.Username == nil || *user.Username != "JohnDoe" {
		t.Errorf("user.Username = %v, want JohnDoe", user.Username)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetByEmailOrUsername_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsersRepository(db)

	mock.ExpectQuery(`(?s)SELECT .+ FROM users`).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByEmailOrUsername(context.Background(), "nobody")
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("error = %v, want ErrUserNotFound", err)
	}
}

func TestCreate_DuplicateEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsersRepository(db)

	// The unique index is on LOWER(email), so a re-registration with
	// different casing surfaces as the same constraint violation.
	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	now := time.Now().UTC()
	err := repo.Create(context.Background(), &domain.User{
		ID:        uuid.New(),
		Email:     "user@example.com",
		CreatedAt: now,
		UpdatedAt: now,
	})
	if !errors.Is(err, domain.ErrUserAlreadyExists) {
		t.Errorf("error = %v, want ErrUserAlreadyExists", err)
	}
}

func TestCreate_DuplicateUsername(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUsersRepository(db)

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_username_key"})

	now := time.Now().UTC()
	username := "taken"
	err := repo.Create(context.Background(), &domain.User{
		ID:        uuid.New(),
		Email:     "user@example.com",
		Username:  &username,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if !errors.Is(err, domain.ErrUsernameAlreadyExists) {
		t.Errorf("error = %v, want ErrUsernameAlreadyExists", err)
	}
}
