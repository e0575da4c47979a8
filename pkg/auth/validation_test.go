package auth

import (
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"valid simple", "johndoe", false},
		{"valid with underscore", "john_doe", false},
		{"valid with hyphen", "john-doe", false},
		{"valid with digits", "user123", false},
		{"minimum length", "abc", false},
		{"maximum length", strings.Repeat("a", 30), false},
		{"too short", "ab", true},
		{"too long", strings.Repeat("a", 31), true},
		{"starts with underscore", "_user", true},
		{"starts with hyphen", "-user", true},
		{"contains space", "john doe", true},
		{"contains at sign", "john@doe", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername(%q) error = %v, wantErr %v", tt.username, err, tt.wantErr)
			}
		})
	}
}
