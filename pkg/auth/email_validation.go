package auth

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// maxEmailLength is the RFC 5321 path limit.
const maxEmailLength = 254

// strictEmailPattern rejects forms mail.ParseAddress tolerates, such as
// quoted local parts and domain literals.
var strictEmailPattern = regexp.MustCompile(
	`^[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// Providers of throwaway inboxes, rejected when blocking is enabled.
var disposableDomains = map[string]struct{}{
	"10minutemail.com":  {},
	"guerrillamail.com": {},
	"mailinator.com":    {},
	"tempmail.com":      {},
	"throwaway.email":   {},
}

// ValidateEmail validates an email address for format and length.
func ValidateEmail(email string, strict bool, blockDisposable bool) error {
	addr := NormalizeEmail(email)
	if addr == "" {
		return fmt.Errorf("email address is required")
	}
	if len(addr) > maxEmailLength {
		return fmt.Errorf("email address is too long (max %d characters)", maxEmailLength)
	}

	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return fmt.Errorf("invalid email address format")
	}

	if strict && !strictEmailPattern.MatchString(parsed.Address) {
		return fmt.Errorf("invalid email address format")
	}

	if blockDisposable {
		if _, bad := disposableDomains[emailDomain(parsed.Address)]; bad {
			return fmt.Errorf("disposable email addresses are not allowed")
		}
	}

	return nil
}

// NormalizeEmail normalizes an email address by lowercasing and trimming.
// Email uniqueness is case-insensitive; every lookup and write goes
// through this normalization.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// emailDomain returns the part after the last @, lowercased.
func emailDomain(addr string) string {
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return ""
	}
	return strings.ToLower(addr[i+1:])
}
