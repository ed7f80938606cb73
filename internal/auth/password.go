package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost must stay at or above 12 per the password hashing policy.
const bcryptCost = 12

// HashPassword returns a salted bcrypt hash of the plaintext password.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword does a constant-time comparison of a plaintext password
// against a bcrypt hash. It returns false (never an error a caller needs to
// branch on beyond pass/fail) so login can return a single stable
// invalid_credentials response regardless of which check failed.
func VerifyPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
