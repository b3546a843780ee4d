package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/failure"
	"go.uber.org/zap"
)

const (
	// DefaultFallbackDisplayName labels accounts whose provider did not supply a name.
	DefaultFallbackDisplayName = "Unnamed User"

	ProviderGoogle   = "google"
	ProviderFacebook = "facebook"
)

var (
	errMissingEmail    = errors.New("users: identity carries no email")
	errUnknownProvider = errors.New("users: identity provider not registered")
	errMissingStore    = errors.New("users: identity store required")
)

// ExternalIdentity is an identity asserted by a third-party provider.
type ExternalIdentity struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
}

// ProviderPolicy captures how a provider's logins reconcile with existing accounts.
type ProviderPolicy struct {
	// EnsureProfileOnLink creates a missing profile when the email already belongs to a user.
	EnsureProfileOnLink bool
	FallbackDisplayName string
}

// DefaultProviderPolicies returns the policies of the built-in providers.
func DefaultProviderPolicies() map[string]ProviderPolicy {
	return map[string]ProviderPolicy{
		ProviderGoogle:   {EnsureProfileOnLink: true, FallbackDisplayName: DefaultFallbackDisplayName},
		ProviderFacebook: {EnsureProfileOnLink: false, FallbackDisplayName: DefaultFallbackDisplayName},
	}
}

// IdentityStore is the slice of the directory the resolver depends on.
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (User, error)
	Create(ctx context.Context, request NewUser) (User, error)
	EnsureProfile(ctx context.Context, userID string, displayName string) (bool, error)
	RecordLink(ctx context.Context, link ProviderLink) error
}

// ResolverConfig configures the identity resolver.
type ResolverConfig struct {
	Store    IdentityStore
	Policies map[string]ProviderPolicy
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Resolver maps provider identities onto local users, creating them on first login.
type Resolver struct {
	store    IdentityStore
	policies map[string]ProviderPolicy
	logger   *zap.Logger
	now      func() time.Time
}

// NewResolver constructs a Resolver. Providers without a policy are rejected at resolution time.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	policies := cfg.Policies
	if policies == nil {
		policies = DefaultProviderPolicies()
	}
	normalized := make(map[string]ProviderPolicy, len(policies))
	for provider, policy := range policies {
		if strings.TrimSpace(policy.FallbackDisplayName) == "" {
			policy.FallbackDisplayName = DefaultFallbackDisplayName
		}
		normalized[strings.ToLower(normalize(provider))] = policy
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{
		store:    cfg.Store,
		policies: normalized,
		logger:   logger,
		now:      clock,
	}, nil
}

// Resolve returns the local user for identity. A user (and its profile) is created when the
// email is new. Existing users are never modified; the provider policy decides whether a
// missing profile is created for them. Concurrent first logins for the same email converge
// on the single stored user.
func (r *Resolver) Resolve(ctx context.Context, identity ExternalIdentity) (User, error) {
	email := normalize(identity.Email)
	if email == "" {
		return User{}, failure.New(failure.KindIdentityRejected, errMissingEmail)
	}
	provider := strings.ToLower(normalize(identity.Provider))
	policy, ok := r.policies[provider]
	if !ok {
		return User{}, failure.New(failure.KindIdentityRejected, fmt.Errorf("%w: %q", errUnknownProvider, identity.Provider))
	}
	displayName := normalize(identity.DisplayName)
	if displayName == "" {
		displayName = policy.FallbackDisplayName
	}

	user, err := r.store.FindByEmail(ctx, email)
	switch {
	case err == nil:
		if err := r.linkExisting(ctx, user, policy, displayName); err != nil {
			return User{}, err
		}
	case errors.Is(err, ErrUserNotFound):
		user, err = r.createOrAdopt(ctx, email, displayName, policy)
		if err != nil {
			return User{}, err
		}
	default:
		return User{}, err
	}

	if subject := normalize(identity.Subject); subject != "" {
		link := ProviderLink{
			Provider:   provider,
			Subject:    subject,
			UserID:     user.ID,
			Email:      email,
			LastSeenAt: r.now().UTC(),
		}
		if err := r.store.RecordLink(ctx, link); err != nil {
			return User{}, err
		}
	}
	return user, nil
}

func (r *Resolver) createOrAdopt(ctx context.Context, email string, displayName string, policy ProviderPolicy) (User, error) {
	user, err := r.store.Create(ctx, NewUser{
		Email:        email,
		PasswordHash: "",
		DisplayName:  StringPtr(displayName),
		Profile:      &ProfileFields{DisplayName: StringPtr(displayName)},
	})
	if err == nil {
		r.logger.Info("user created from external identity", zap.String("user_id", user.ID))
		return user, nil
	}
	if !failure.Is(err, failure.KindDuplicateEmail) {
		return User{}, err
	}

	// Lost the race against a concurrent first login for the same email.
	r.logger.Debug("user creation conflicted, adopting existing record")
	user, err = r.store.FindByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	if err := r.linkExisting(ctx, user, policy, displayName); err != nil {
		return User{}, err
	}
	return user, nil
}

func (r *Resolver) linkExisting(ctx context.Context, user User, policy ProviderPolicy, displayName string) error {
	if !policy.EnsureProfileOnLink {
		return nil
	}
	created, err := r.store.EnsureProfile(ctx, user.ID, displayName)
	if err != nil {
		return err
	}
	if created {
		r.logger.Debug("profile created for linked user", zap.String("user_id", user.ID))
	}
	return nil
}
