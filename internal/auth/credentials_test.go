package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/users"
	"golang.org/x/crypto/bcrypt"
)

type memoryAccounts struct {
	byEmail map[string]users.User
	creates int
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{byEmail: map[string]users.User{}}
}

func (m *memoryAccounts) FindByEmail(_ context.Context, email string) (users.User, error) {
	user, ok := m.byEmail[email]
	if !ok {
		return users.User{}, users.ErrUserNotFound
	}
	return user, nil
}

func (m *memoryAccounts) Create(_ context.Context, request users.NewUser) (users.User, error) {
	if _, exists := m.byEmail[request.Email]; exists {
		return users.User{}, failure.New(failure.KindDuplicateEmail, nil)
	}
	m.creates++
	user := users.User{
		ID:           "user-" + request.Email,
		Email:        request.Email,
		PasswordHash: request.PasswordHash,
		DisplayName:  request.DisplayName,
	}
	m.byEmail[request.Email] = user
	return user, nil
}

func newTestCredentials(t *testing.T, accounts AccountStore) *Credentials {
	t.Helper()
	credentials, err := NewCredentials(CredentialsConfig{
		Accounts: accounts,
		Hasher:   NewPasswordHasher(bcrypt.MinCost),
		Tokens:   newTestTokenService(t, nil),
	})
	if err != nil {
		t.Fatalf("failed to construct credentials: %v", err)
	}
	return credentials
}

func TestCredentialsSignupThenLogin(t *testing.T) {
	accounts := newMemoryAccounts()
	credentials := newTestCredentials(t, accounts)
	ctx := context.Background()

	user, err := credentials.Signup(ctx, "a@x.com", "pw123", "Ann")
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	if user.PasswordHash == "pw123" || user.PasswordHash == "" {
		t.Fatalf("expected stored password to be hashed")
	}

	session, err := credentials.Login(ctx, "a@x.com", "pw123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if session.Token == "" || session.User.ID != user.ID {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestCredentialsSignupRejectsDuplicateEmail(t *testing.T) {
	accounts := newMemoryAccounts()
	credentials := newTestCredentials(t, accounts)
	ctx := context.Background()

	if _, err := credentials.Signup(ctx, "a@x.com", "pw123", "Ann"); err != nil {
		t.Fatalf("first signup failed: %v", err)
	}
	_, err := credentials.Signup(ctx, "a@x.com", "other", "Imposter")
	if !failure.Is(err, failure.KindDuplicateEmail) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
	if accounts.creates != 1 {
		t.Fatalf("expected a single account, got %d", accounts.creates)
	}
}

func TestCredentialsSignupValidatesInput(t *testing.T) {
	credentials := newTestCredentials(t, newMemoryAccounts())
	ctx := context.Background()

	if _, err := credentials.Signup(ctx, "", "pw123", ""); !errors.Is(err, ErrInvalidSignup) {
		t.Fatalf("expected invalid signup for empty email, got %v", err)
	}
	if _, err := credentials.Signup(ctx, "a@x.com", strings.Repeat("p", 73), ""); !errors.Is(err, ErrInvalidSignup) {
		t.Fatalf("expected invalid signup for long password, got %v", err)
	}
}

func TestCredentialsLoginFailuresAreIndistinguishable(t *testing.T) {
	accounts := newMemoryAccounts()
	credentials := newTestCredentials(t, accounts)
	ctx := context.Background()

	if _, err := credentials.Signup(ctx, "a@x.com", "pw123", "Ann"); err != nil {
		t.Fatalf("signup failed: %v", err)
	}
	accounts.byEmail["ext@x.com"] = users.User{ID: "ext", Email: "ext@x.com"}

	_, wrongPassword := credentials.Login(ctx, "a@x.com", "nope")
	_, unknownEmail := credentials.Login(ctx, "ghost@x.com", "pw123")
	_, externalAccount := credentials.Login(ctx, "ext@x.com", "")

	for name, err := range map[string]error{
		"wrong password":   wrongPassword,
		"unknown email":    unknownEmail,
		"external account": externalAccount,
	} {
		if !failure.Is(err, failure.KindInvalidCredential) {
			t.Fatalf("%s: expected invalid credential, got %v", name, err)
		}
	}
	if wrongPassword.Error() != unknownEmail.Error() {
		t.Fatalf("expected identical messages, got %q and %q", wrongPassword.Error(), unknownEmail.Error())
	}
}
