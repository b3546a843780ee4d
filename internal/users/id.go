package users

import (
	"fmt"

	"github.com/google/uuid"
)

// IDProvider issues identifiers for new users.
type IDProvider interface {
	NewID() (string, error)
}

// IDFunc adapts a plain function to IDProvider.
type IDFunc func() (string, error)

// NewID calls f.
func (f IDFunc) NewID() (string, error) {
	return f()
}

// NewUUIDProvider returns an IDProvider issuing time-ordered UUIDv7 user identifiers.
func NewUUIDProvider() IDProvider {
	return IDFunc(newUserID)
}

func newUserID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("users: generate id: %w", err)
	}
	return id.String(), nil
}
