package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultPasswordCost is the bcrypt work factor used for interactive logins.
const DefaultPasswordCost = bcrypt.DefaultCost

var errEmptyPassword = errors.New("auth: password must not be empty")

// PasswordHasher hashes and verifies local credentials with bcrypt.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher constructs a hasher with the given cost; out-of-range costs fall back to the default.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultPasswordCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash returns a salted bcrypt hash of plaintext.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errEmptyPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches hash. Malformed or empty hashes never match.
func (h *PasswordHasher) Verify(plaintext, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
