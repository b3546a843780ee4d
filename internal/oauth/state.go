package oauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// StateCookieName holds the state of an in-flight provider login.
	StateCookieName = "gatekeeper_oauth_state"

	defaultStateTTL = 10 * time.Minute
	stateIssuer     = "gatekeeper-oauth-state"
)

var (
	ErrMissingSessionSecret = errors.New("oauth: session secret required")
	ErrInvalidState         = errors.New("oauth: invalid state")
)

// StateSigner issues and checks the CSRF state of provider logins.
// States are short-lived HS256 tokens bound to a provider.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewStateSigner constructs a StateSigner keyed by the session secret.
func NewStateSigner(secret []byte, ttl time.Duration, clock func() time.Time) (*StateSigner, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSessionSecret
	}
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &StateSigner{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
		clock:  clock,
	}, nil
}

// TTL returns how long an issued state remains acceptable.
func (s *StateSigner) TTL() time.Duration {
	return s.ttl
}

// Issue returns a fresh state for provider.
func (s *StateSigner) Issue(provider string) (string, error) {
	nonce, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	now := s.clock().UTC()
	claims := jwt.RegisteredClaims{
		ID:        nonce.String(),
		Issuer:    stateIssuer,
		Subject:   provider,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks that state was issued by this signer for provider and has not expired.
func (s *StateSigner) Verify(state string, provider string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		strings.TrimSpace(state),
		claims,
		func(*jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithSubject(provider),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return nil
}
