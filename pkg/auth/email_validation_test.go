package auth

import (
	"strings"
	"testing"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name            string
		email           string
		strict          bool
		blockDisposable bool
		wantErr         bool
	}{
		{
			name:    "valid simple email",
			email:   "user@example.com",
			wantErr: false,
		},
		{
			name:    "valid with plus tag",
			email:   "user+tag@example.com",
			wantErr: false,
		},
		{
			name:    "valid strict",
			email:   "user.name@sub.example.com",
			strict:  true,
			wantErr: false,
		},
		{
			name:    "empty",
			email:   "",
			wantErr: true,
		},
		{
			name:    "missing at sign",
			email:   "userexample.com",
			wantErr: true,
		},
		{
			name:    "missing domain",
			email:   "user@",
			wantErr: true,
		},
		{
			name:    "too long",
			email:   strings.Repeat("a", 250) + "@example.com",
			wantErr: true,
		},
		{
			name:            "disposable blocked",
			email:           "user@mailinator.com",
			blockDisposable: true,
			wantErr:         true,
		},
		{
			name:            "disposable allowed when not blocking",
			email:           "user@mailinator.com",
			blockDisposable: false,
			wantErr:         false,
		},
		{
			name:    "uppercase normalized",
			email:   "User@Example.COM",
			strict:  true,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email, tt.strict, tt.blockDisposable)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail(%q) error = %v, wantErr %v", tt.email, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"User@Example.COM", "user@example.com"},
		{"  user@example.com  ", "user@example.com"},
		{"user@example.com", "user@example.com"},
	}

	for _, tt := range tests {
		if got := NormalizeEmail(tt.in); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
