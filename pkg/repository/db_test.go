package repository

import (
	"errors"
	"testing"

	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	uniqueErr := &pq.Error{Code: "23505", Constraint: "users_email_key"}
	otherPqErr := &pq.Error{Code: "23503", Constraint: "sessions_user_id_fkey"}

	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"unique violation any constraint", uniqueErr, "", true},
		{"unique violation matching constraint", uniqueErr, "users_email_key", true},
		{"unique violation different constraint", uniqueErr, "users_username_key", false},
		{"foreign key violation", otherPqErr, "", false},
		{"plain error", errors.New("connection reset"), "", false},
		{"nil error", nil, "", false},
		{"wrapped unique violation", errors.Join(errors.New("insert failed"), uniqueErr), "users_email_key", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Errorf("IsUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}
