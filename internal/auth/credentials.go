package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/users"
)

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

var (
	// ErrInvalidSignup indicates the signup request lacks a usable email or password.
	ErrInvalidSignup = errors.New("auth: invalid signup request")

	errInvalidCredential = errors.New("auth: invalid credentials")
	errMissingDirectory  = errors.New("auth: user directory required")
	errMissingHasher     = errors.New("auth: password hasher required")
	errMissingTokens     = errors.New("auth: token issuer required")
)

// AccountStore is the slice of the user directory used by the credential flow.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (users.User, error)
	Create(ctx context.Context, request users.NewUser) (users.User, error)
}

// TokenIssuer issues session tokens.
type TokenIssuer interface {
	Issue(userID string) (IssuedToken, error)
}

// CredentialsConfig bundles the collaborators of the credential flow.
type CredentialsConfig struct {
	Accounts AccountStore
	Hasher   *PasswordHasher
	Tokens   TokenIssuer
}

// Session is the outcome of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      users.User
}

// Credentials implements email/password signup and login.
type Credentials struct {
	accounts AccountStore
	hasher   *PasswordHasher
	tokens   TokenIssuer

	decoyOnce sync.Once
	decoyHash string
}

// NewCredentials constructs the credential flow.
func NewCredentials(cfg CredentialsConfig) (*Credentials, error) {
	if cfg.Accounts == nil {
		return nil, errMissingDirectory
	}
	if cfg.Hasher == nil {
		return nil, errMissingHasher
	}
	if cfg.Tokens == nil {
		return nil, errMissingTokens
	}
	return &Credentials{
		accounts: cfg.Accounts,
		hasher:   cfg.Hasher,
		tokens:   cfg.Tokens,
	}, nil
}

// Signup registers a local account. A taken email fails with KindDuplicateEmail.
func (c *Credentials) Signup(ctx context.Context, email, password, displayName string) (users.User, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return users.User{}, fmt.Errorf("%w: email and password required", ErrInvalidSignup)
	}
	if len(password) > maxPasswordBytes {
		return users.User{}, fmt.Errorf("%w: password longer than %d bytes", ErrInvalidSignup, maxPasswordBytes)
	}
	hash, err := c.hasher.Hash(password)
	if err != nil {
		return users.User{}, err
	}
	request := users.NewUser{
		Email:        email,
		PasswordHash: hash,
	}
	if name := strings.TrimSpace(displayName); name != "" {
		request.DisplayName = users.StringPtr(name)
	}
	return c.accounts.Create(ctx, request)
}

// Login verifies the credentials and issues a session token. Unknown emails, accounts
// without a local password and wrong passwords are indistinguishable to the caller.
func (c *Credentials) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := c.accounts.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, users.ErrUserNotFound) {
		return Session{}, err
	}
	if err != nil || !user.HasPassword() {
		c.hasher.Verify(password, c.decoy())
		return Session{}, failure.New(failure.KindInvalidCredential, errInvalidCredential)
	}
	if !c.hasher.Verify(password, user.PasswordHash) {
		return Session{}, failure.New(failure.KindInvalidCredential, errInvalidCredential)
	}

	issued, err := c.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: issued.Token, ExpiresAt: issued.ExpiresAt, User: user}, nil
}

// IssueFor issues a session token for an already resolved user.
func (c *Credentials) IssueFor(user users.User) (Session, error) {
	issued, err := c.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: issued.Token, ExpiresAt: issued.ExpiresAt, User: user}, nil
}

// decoy returns a hash used to spend comparable time on logins that cannot succeed.
func (c *Credentials) decoy() string {
	c.decoyOnce.Do(func() {
		hash, err := c.hasher.Hash("gatekeeper-decoy-password")
		if err == nil {
			c.decoyHash = hash
		}
	})
	return c.decoyHash
}
