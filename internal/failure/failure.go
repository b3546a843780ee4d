package failure

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication failure independently of the transport that reports it.
type Kind string

const (
	KindDuplicateEmail    Kind = "duplicate_email"
	KindInvalidCredential Kind = "invalid_credential"
	KindMissingCredential Kind = "missing_credential"
	KindInvalidToken      Kind = "invalid_token"
	KindTokenExpired      Kind = "token_expired"
	KindPrincipalNotFound Kind = "principal_not_found"
	KindIdentityRejected  Kind = "identity_rejected"
)

// Error carries a Kind together with the underlying cause.
type Error struct {
	kind Kind
	err  error
}

// New wraps cause with the provided kind. A nil cause is allowed.
func New(kind Kind, cause error) error {
	return &Error{kind: kind, err: cause}
}

func (e *Error) Error() string {
	if e.err == nil {
		return string(e.kind)
	}
	return fmt.Sprintf("%s: %v", e.kind, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Kind() Kind {
	return e.kind
}

// KindOf reports the kind of the first *Error found in err's chain.
func KindOf(err error) (Kind, bool) {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.kind, true
	}
	return "", false
}

// Is reports whether err carries the provided kind.
func Is(err error, kind Kind) bool {
	actual, ok := KindOf(err)
	return ok && actual == kind
}
