package auth

import (
	"regexp"

	"github.com/finora/identity/pkg/domain"
)

// Usernames: 3-30 chars, alphanumeric/underscore/hyphen, must start alphanumeric.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{2,29}$`)

// ValidateUsername checks the username format.
func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return domain.ErrInvalidUsername
	}
	return nil
}
