package domain

import "errors"

// Authentication errors
var (
	ErrUserNotFound          = errors.New("user not found")
	ErrUserAlreadyExists     = errors.New("user already exists")
	ErrUsernameAlreadyExists = errors.New("username already exists")
	ErrEmailAlreadyExists    = errors.New("email already in use")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrAccountLocked         = errors.New("account locked due to too many failed login attempts")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionExpired        = errors.New("session expired")
	ErrSessionRevoked        = errors.New("session revoked")
	ErrInvalidToken          = errors.New("invalid token")
	ErrAccountNotFound       = errors.New("account not found")
	ErrAccountAlreadyLinked  = errors.New("account already linked to another user")
)

// Verification token errors
var (
	ErrVerificationTokenNotFound = errors.New("verification token not found")
	ErrVerificationTokenExpired  = errors.New("verification token expired")
	ErrVerificationTokenConsumed = errors.New("verification token already used")
	ErrVerificationTokenInvalid  = errors.New("invalid verification token")
)

// Validation errors
var (
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrInvalidUsername  = errors.New("invalid username format")
	ErrWeakPassword     = errors.New("password does not meet requirements")
	ErrEmailNotVerified = errors.New("email not verified")
)

// Two-factor errors
var (
	ErrTwoFactorRequired         = errors.New("two-factor authentication required")
	ErrTwoFactorNotEnabled       = errors.New("two-factor authentication is not enabled for this account")
	ErrTwoFactorAlreadyEnabled   = errors.New("two-factor authentication is already enabled")
	ErrInvalidOTP                = errors.New("invalid one-time code")
	ErrInvalidRecoveryCode       = errors.New("invalid or already used recovery code")
	ErrTwoFactorChallengeExpired = errors.New("two-factor challenge expired")
)
