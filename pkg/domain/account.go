package domain

import (
	"time"

	"github.com/google/uuid"
)

// Provider constants for account bindings.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
)

// Account is a credential binding owned by exactly one user: either a
// local password credential or a federated provider identity. A
// (provider, provider_subject) pair is unique across all accounts.
type Account struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Provider        string
	ProviderSubject *string // federated subject id, nil for password accounts
	PasswordHash    *string // set only for the password provider
	AccessToken     *string // federated refresh metadata
	RefreshToken    *string
	TokenExpiresAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsFederated returns true for provider identities vouched by a third party.
func (a *Account) IsFederated() bool {
	return a.Provider != ProviderPassword
}
