package domain

import (
	"time"

	"github.com/google/uuid"
)

// VerificationTokenKind identifies the state change a token authorizes.
type VerificationTokenKind string

const (
	TokenKindEmailVerification  VerificationTokenKind = "email_verification"
	TokenKindPasswordReset      VerificationTokenKind = "password_reset"
	TokenKindAccountDeletion    VerificationTokenKind = "account_deletion"
	TokenKindEmailChange        VerificationTokenKind = "email_change"
	TokenKindTwoFactorChallenge VerificationTokenKind = "two_factor_challenge"
)

// VerificationToken is a single-use, time-bound proof tied to a user and
// a purpose. Consuming it is atomic with the state change it authorizes.
type VerificationToken struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TokenHash  string
	Kind       VerificationTokenKind
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	Attempts   int // failed OTP attempts against a two-factor challenge
	Metadata   []byte
}

// IsValid returns true while the token is unconsumed and unexpired.
func (t *VerificationToken) IsValid() bool {
	return t.ConsumedAt == nil && time.Now().Before(t.ExpiresAt)
}
