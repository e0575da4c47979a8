package domain

import (
	"time"

	"github.com/google/uuid"
)

// TwoFactorSecret holds the shared TOTP secret for a user. While an
// enabled secret exists, every full authentication passes through a
// second-factor challenge before a session is issued.
type TwoFactorSecret struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	SecretEncrypted string // AES-256-GCM encrypted TOTP secret
	Enabled         bool
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}

// RecoveryCode is a hashed single-use backup code for two-factor access.
type RecoveryCode struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CodeHash  string // Argon2id hashed recovery code
	UsedAt    *time.Time
	CreatedAt time.Time
}

// IsUsed returns true if the recovery code has been consumed.
func (c *RecoveryCode) IsUsed() bool {
	return c.UsedAt != nil
}

// TwoFactorSetup contains data returned when setting up the second factor.
type TwoFactorSetup struct {
	Secret        string   // Base32 TOTP secret (for manual entry)
	QRCodeDataURI string   // QR code as data:image/png;base64,...
	RecoveryCodes []string // Plain text recovery codes (shown once)
}
