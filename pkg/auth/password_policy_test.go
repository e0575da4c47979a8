package auth

import (
	"testing"
)

func TestPasswordPolicy_ValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		policy   PasswordPolicy
		password string
		wantErr  bool
	}{
		{
			name:     "no requirements - any password valid",
			policy:   PasswordPolicy{},
			password: "a",
			wantErr:  false,
		},
		{
			name:     "min length - valid",
			policy:   PasswordPolicy{MinLength: 8},
			password: "12345678",
			wantErr:  false,
		},
		{
			name:     "min length - too short",
			policy:   PasswordPolicy{MinLength: 8},
			password: "1234567",
			wantErr:  true,
		},
		{
			name:     "require uppercase - valid",
			policy:   PasswordPolicy{RequireUppercase: true},
			password: "Password",
			wantErr:  false,
		},
		{
			name:     "require uppercase - missing",
			policy:   PasswordPolicy{RequireUppercase: true},
			password: "password",
			wantErr:  true,
		},
		{
			name:     "require lowercase - missing",
			policy:   PasswordPolicy{RequireLowercase: true},
			password: "PASSWORD",
			wantErr:  true,
		},
		{
			name:     "require number - valid",
			policy:   PasswordPolicy{RequireNumber: true},
			password: "Password123",
			wantErr:  false,
		},
		{
			name:     "require number - missing",
			policy:   PasswordPolicy{RequireNumber: true},
			password: "Password",
			wantErr:  true,
		},
		{
			name:     "require special - valid",
			policy:   PasswordPolicy{RequireSpecial: true},
			password: "Password!",
			wantErr:  false,
		},
		{
			name:     "require special - missing",
			policy:   PasswordPolicy{RequireSpecial: true},
			password: "Password123",
			wantErr:  true,
		},
		{
			name: "all requirements - valid",
			policy: PasswordPolicy{
				MinLength:        8,
				RequireUppercase: true,
				RequireLowercase: true,
				RequireNumber:    true,
				RequireSpecial:   true,
			},
			password: "Passw0rd!",
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword(%q) error = %v, wantErr %v", tt.password, err, tt.wantErr)
			}
		})
	}
}

func TestPasswordPolicy_GetRequirements(t *testing.T) {
	policy := PasswordPolicy{}
	if got := policy.GetRequirements(); got != "No password requirements" {
		t.Errorf("GetRequirements() = %q", got)
	}

	policy = PasswordPolicy{MinLength: 8, RequireNumber: true}
	got := policy.GetRequirements()
	if got == "" || got == "No password requirements" {
		t.Errorf("GetRequirements() = %q, want description", got)
	}
}

func TestPasswordPolicy_HasRequirements(t *testing.T) {
	if (&PasswordPolicy{}).HasRequirements() {
		t.Error("empty policy reports requirements")
	}
	if !(&PasswordPolicy{MinLength: 1}).HasRequirements() {
		t.Error("policy with min length reports no requirements")
	}
}
