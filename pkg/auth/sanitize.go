package auth

import (
	"fmt"
	"html"
	"strings"
	"unicode"
)

// SanitizeInput sanitizes user input by escaping HTML and removing control characters.
func SanitizeInput(input string) string {
	cleaned := removeControlChars(input)
	return html.EscapeString(cleaned)
}

// SanitizeName sanitizes a name field (unicode-friendly, allows letters and spaces).
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = removeControlChars(name)
	return html.EscapeString(name)
}

// ValidateStringLength validates that a string is within the specified length constraints.
func ValidateStringLength(field, value string, min, max int) error {
	length := len(value)

	if min > 0 && length < min {
		return fmt.Errorf("%s must be at least %d characters long", field, min)
	}

	if max > 0 && length > max {
		return fmt.Errorf("%s must be at most %d characters long", field, max)
	}

	return nil
}

// removeControlChars strips control characters except newline and tab.
func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}
