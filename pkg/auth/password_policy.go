package auth

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/finora/identity/internal/config"
)

// PasswordPolicy defines password complexity requirements.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// NewPasswordPolicy creates a PasswordPolicy from config.
func NewPasswordPolicy(cfg config.PasswordPolicyConfig) *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:        cfg.MinLength,
		RequireUppercase: cfg.RequireUppercase,
		RequireLowercase: cfg.RequireLowercase,
		RequireNumber:    cfg.RequireNumber,
		RequireSpecial:   cfg.RequireSpecial,
	}
}

// characterClasses drives both validation and the requirements text, so
// the two can never drift apart.
var characterClasses = []struct {
	enabled func(*PasswordPolicy) bool
	match   func(rune) bool
	label   string
}{
	{func(p *PasswordPolicy) bool { return p.RequireUppercase }, unicode.IsUpper, "one uppercase letter"},
	{func(p *PasswordPolicy) bool { return p.RequireLowercase }, unicode.IsLower, "one lowercase letter"},
	{func(p *PasswordPolicy) bool { return p.RequireNumber }, unicode.IsDigit, "one number"},
	{func(p *PasswordPolicy) bool { return p.RequireSpecial }, isSpecialRune, "one special character"},
}

// isSpecialRune counts anything that is not a letter, digit or space.
func isSpecialRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r)
}

// ValidatePassword checks if a password meets the policy requirements.
func (p *PasswordPolicy) ValidatePassword(password string) error {
	if p.MinLength > 0 && len(password) < p.MinLength {
		return fmt.Errorf("password must be at least %d characters long", p.MinLength)
	}

	for _, class := range characterClasses {
		if class.enabled(p) && !strings.ContainsFunc(password, class.match) {
			return fmt.Errorf("password must contain at least %s", class.label)
		}
	}

	return nil
}

// GetRequirements returns a human-readable description of the policy.
func (p *PasswordPolicy) GetRequirements() string {
	var parts []string

	if p.MinLength > 0 {
		parts = append(parts, fmt.Sprintf("at least %d characters", p.MinLength))
	}
	for _, class := range characterClasses {
		if class.enabled(p) {
			parts = append(parts, class.label)
		}
	}

	if len(parts) == 0 {
		return "No password requirements"
	}
	return "Password must contain " + strings.Join(parts, ", ")
}

// HasRequirements returns true if the policy has any requirements.
func (p *PasswordPolicy) HasRequirements() bool {
	if p.MinLength > 0 {
		return true
	}
	for _, class := range characterClasses {
		if class.enabled(p) {
			return true
		}
	}
	return false
}
