package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/users"
)

const bearerScheme = "bearer"

var (
	errMissingAuthorization = errors.New("auth: authorization header missing or invalid")
	errMissingTokenVerifier = errors.New("auth: token verifier required")
	errMissingUserLookup    = errors.New("auth: user lookup required")
)

// TokenVerifier verifies session tokens.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// UserLookup loads users by identifier.
type UserLookup interface {
	FindByID(ctx context.Context, id string) (users.User, error)
}

// Gate turns an Authorization header into an authenticated principal.
type Gate struct {
	tokens TokenVerifier
	users  UserLookup
}

// NewGate constructs a Gate.
func NewGate(tokens TokenVerifier, lookup UserLookup) (*Gate, error) {
	if tokens == nil {
		return nil, errMissingTokenVerifier
	}
	if lookup == nil {
		return nil, errMissingUserLookup
	}
	return &Gate{tokens: tokens, users: lookup}, nil
}

// Authenticate resolves the principal named by a "Bearer <token>" header value.
// A token referencing a user that no longer exists is rejected.
func (g *Gate) Authenticate(ctx context.Context, authorization string) (users.User, error) {
	token, ok := BearerToken(authorization)
	if !ok {
		return users.User{}, failure.New(failure.KindMissingCredential, errMissingAuthorization)
	}

	userID, err := g.tokens.Verify(token)
	if err != nil {
		// Expiry collapses into KindInvalidToken; the cause stays reachable for logging.
		return users.User{}, failure.New(failure.KindInvalidToken, err)
	}

	user, err := g.users.FindByID(ctx, userID)
	if errors.Is(err, users.ErrUserNotFound) {
		return users.User{}, failure.New(failure.KindPrincipalNotFound, err)
	}
	if err != nil {
		return users.User{}, err
	}
	return user, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authorization string) (string, bool) {
	fields := strings.Fields(authorization)
	if len(fields) != 2 || !strings.EqualFold(fields[0], bearerScheme) {
		return "", false
	}
	return fields[1], true
}

type principalContextKey struct{}

// ContextWithPrincipal returns a child context carrying the authenticated user.
func ContextWithPrincipal(ctx context.Context, user users.User) context.Context {
	return context.WithValue(ctx, principalContextKey{}, user)
}

// PrincipalFromContext returns the authenticated user stored by ContextWithPrincipal.
func PrincipalFromContext(ctx context.Context) (users.User, bool) {
	user, ok := ctx.Value(principalContextKey{}).(users.User)
	if !ok || user.ID == "" {
		return users.User{}, false
	}
	return user, true
}
