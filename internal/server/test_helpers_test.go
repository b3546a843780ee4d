package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/database"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/oauth"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testFrontendURL = "https://app.example.com"

type testServer struct {
	handler   http.Handler
	db        *gorm.DB
	directory *users.Directory
	tokens    *auth.TokenService
	states    *oauth.StateSigner
}

type stubProvider struct {
	name     string
	identity users.ExternalIdentity
	err      error
}

func (s stubProvider) Name() string {
	return s.name
}

func (s stubProvider) AuthCodeURL(state string) string {
	return "https://provider.example.com/consent?state=" + state
}

func (s stubProvider) Identity(context.Context, string) (users.ExternalIdentity, error) {
	return s.identity, s.err
}

type stubIDTokenVerifier struct {
	identity users.ExternalIdentity
	err      error
}

func (s stubIDTokenVerifier) Verify(context.Context, string) (users.ExternalIdentity, error) {
	return s.identity, s.err
}

func newTestServer(t *testing.T, providers []IdentityProvider, verifier IDTokenVerifier) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "server.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	directory, err := users.NewDirectory(users.DirectoryConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	tokens, err := auth.NewTokenService(auth.TokenServiceConfig{
		SigningSecret: []byte("server-test-secret"),
		Issuer:        auth.DefaultTokenIssuer,
		Audience:      auth.DefaultTokenAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token service: %v", err)
	}
	credentials, err := auth.NewCredentials(auth.CredentialsConfig{
		Accounts: directory,
		Hasher:   auth.NewPasswordHasher(bcrypt.MinCost),
		Tokens:   tokens,
	})
	if err != nil {
		t.Fatalf("failed to create credentials: %v", err)
	}
	gate, err := auth.NewGate(tokens, directory)
	if err != nil {
		t.Fatalf("failed to create gate: %v", err)
	}
	resolver, err := users.NewResolver(users.ResolverConfig{Store: directory})
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}
	states, err := oauth.NewStateSigner([]byte("state-secret"), 0, nil)
	if err != nil {
		t.Fatalf("failed to create state signer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Credentials:     credentials,
		Authenticator:   gate,
		Profiles:        directory,
		Resolver:        resolver,
		Providers:       providers,
		States:          states,
		GoogleVerifier:  verifier,
		FrontendURL:     testFrontendURL,
		FailureRedirect: "/login",
		Logger:          zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	return testServer{
		handler:   handler,
		db:        db,
		directory: directory,
		tokens:    tokens,
		states:    states,
	}
}

func (s testServer) do(t *testing.T, method string, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	request := httptest.NewRequest(method, path, &payload)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

type stubCredentialService struct{}

func (stubCredentialService) Signup(context.Context, string, string, string) (users.User, error) {
	return users.User{}, errors.New("not implemented")
}

func (stubCredentialService) Login(context.Context, string, string) (auth.Session, error) {
	return auth.Session{}, errors.New("not implemented")
}

func (stubCredentialService) IssueFor(users.User) (auth.Session, error) {
	return auth.Session{}, errors.New("not implemented")
}

type stubResolver struct{}

func (stubResolver) Resolve(context.Context, users.ExternalIdentity) (users.User, error) {
	return users.User{}, errors.New("not implemented")
}
