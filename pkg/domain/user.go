package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents the identity record.
type User struct {
	ID                  uuid.UUID
	Email               string
	Username            *string
	EmailVerified       bool
	Name                *string
	Image               *string
	FailedLoginAttempts int
	LockedUntil         *time.Time
	TwoFactorEnabled    bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked returns true if the account is currently locked.
func (u *User) IsLocked() bool {
	if u.LockedUntil == nil {
		return false
	}
	return time.Now().Before(*u.LockedUntil)
}
