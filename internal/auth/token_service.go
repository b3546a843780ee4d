package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/failure"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenTTL is the validity window of session tokens.
	DefaultTokenTTL = 24 * time.Hour

	DefaultTokenIssuer   = "gatekeeper-auth"
	DefaultTokenAudience = "gatekeeper-api"
)

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret required")
	ErrMissingTokenIssuer   = errors.New("auth: token issuer required")
	ErrMissingTokenAudience = errors.New("auth: token audience required")

	errMissingUserID   = errors.New("auth: user id required")
	errEmptyToken      = errors.New("auth: token required")
	errMissingSubject  = errors.New("auth: token subject required")
	errSubjectMismatch = errors.New("auth: token subject mismatch")
)

// SessionClaims is the payload of a session token.
type SessionClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// TokenServiceConfig configures session token signing.
type TokenServiceConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// IssuedToken is a freshly signed session token.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenService issues and verifies HS256 session tokens.
type TokenService struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenService validates the configuration and constructs a TokenService.
func NewTokenService(cfg TokenServiceConfig) (*TokenService, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingTokenIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, ErrMissingTokenAudience
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenService{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// Issue signs a token authorizing userID until the end of the validity window.
func (s *TokenService) Issue(userID string) (IssuedToken, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return IssuedToken{}, errMissingUserID
	}

	now := s.clock().UTC()
	expiresAt := now.Add(s.ttl)
	claims := SessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingSecret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return IssuedToken{Token: signed, ExpiresAt: expiresAt}, nil
}

// Verify checks the signature and expiry of tokenString and returns the user id it carries.
// Expired tokens fail with KindTokenExpired; every other defect fails with KindInvalidToken.
func (s *TokenService) Verify(tokenString string) (string, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return "", failure.New(failure.KindInvalidToken, errEmptyToken)
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			return s.signingSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", failure.New(failure.KindTokenExpired, err)
		}
		return "", failure.New(failure.KindInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return "", failure.New(failure.KindInvalidToken, nil)
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" || strings.TrimSpace(claims.UserID) == "" {
		return "", failure.New(failure.KindInvalidToken, errMissingSubject)
	}
	if subject != claims.UserID {
		return "", failure.New(failure.KindInvalidToken, errSubjectMismatch)
	}
	return subject, nil
}

// TTL returns the validity window of issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}
