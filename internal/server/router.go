package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingCredentials   = errors.New("credential service dependency required")
	errMissingAuthenticator = errors.New("authenticator dependency required")
	errMissingProfiles      = errors.New("profile store dependency required")
	errMissingResolver      = errors.New("identity resolver dependency required")
	errMissingStateManager  = errors.New("oauth state dependency required")
	errMissingFrontendURL   = errors.New("frontend url required")
)

// CredentialService covers signup, login and session issuance for resolved users.
type CredentialService interface {
	Signup(ctx context.Context, email, password, displayName string) (users.User, error)
	Login(ctx context.Context, email, password string) (auth.Session, error)
	IssueFor(user users.User) (auth.Session, error)
}

// Authenticator resolves the principal named by an Authorization header.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (users.User, error)
}

// ProfileStore reads and updates user profiles.
type ProfileStore interface {
	FindByID(ctx context.Context, id string) (users.User, error)
	FindProfile(ctx context.Context, userID string) (users.Profile, error)
	UpdateProfile(ctx context.Context, userID string, fields users.ProfileFields) (users.Profile, error)
}

// IdentityResolver maps provider identities onto local users.
type IdentityResolver interface {
	Resolve(ctx context.Context, identity users.ExternalIdentity) (users.User, error)
}

// IdentityProvider runs the authorization-code flow of one provider.
type IdentityProvider interface {
	Name() string
	AuthCodeURL(state string) string
	Identity(ctx context.Context, code string) (users.ExternalIdentity, error)
}

// StateManager issues and checks the CSRF state of provider logins.
type StateManager interface {
	Issue(provider string) (string, error)
	Verify(state string, provider string) error
	TTL() time.Duration
}

// IDTokenVerifier verifies provider-issued ID tokens.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (users.ExternalIdentity, error)
}

// Dependencies wires the HTTP layer. Providers and GoogleVerifier are optional.
type Dependencies struct {
	Credentials     CredentialService
	Authenticator   Authenticator
	Profiles        ProfileStore
	Resolver        IdentityResolver
	Providers       []IdentityProvider
	States          StateManager
	GoogleVerifier  IDTokenVerifier
	FrontendURL     string
	FailureRedirect string
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the authentication API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Credentials == nil {
		return nil, errMissingCredentials
	}
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	if deps.Profiles == nil {
		return nil, errMissingProfiles
	}
	if deps.Resolver == nil {
		return nil, errMissingResolver
	}
	if len(deps.Providers) > 0 && deps.States == nil {
		return nil, errMissingStateManager
	}
	frontendURL := strings.TrimRight(strings.TrimSpace(deps.FrontendURL), "/")
	if frontendURL == "" {
		return nil, errMissingFrontendURL
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	providers := make(map[string]IdentityProvider, len(deps.Providers))
	for _, provider := range deps.Providers {
		if provider != nil {
			providers[provider.Name()] = provider
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(frontendURL))

	handler := &httpHandler{
		credentials:     deps.Credentials,
		authenticator:   deps.Authenticator,
		profiles:        deps.Profiles,
		resolver:        deps.Resolver,
		providers:       providers,
		states:          deps.States,
		googleVerifier:  deps.GoogleVerifier,
		frontendURL:     frontendURL,
		failureRedirect: resolveFailureRedirect(frontendURL, deps.FailureRedirect),
		logger:          logger,
	}

	router.GET("/healthz", handler.handleHealth)

	api := router.Group("/api")
	api.POST("/auth/signup", handler.handleSignup)
	api.POST("/auth/login", handler.handleLogin)

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/me", handler.handleCurrentProfile)
	protected.PATCH("/user/profile", handler.handleProfileUpdate)

	if handler.googleVerifier != nil {
		api.POST("/oauth/google/token", handler.handleGoogleTokenExchange)
	}
	api.GET("/oauth/:provider", handler.handleProviderStart)
	api.GET("/oauth/:provider/callback", handler.handleProviderCallback)

	return router, nil
}

type httpHandler struct {
	credentials     CredentialService
	authenticator   Authenticator
	profiles        ProfileStore
	resolver        IdentityResolver
	providers       map[string]IdentityProvider
	states          StateManager
	googleVerifier  IDTokenVerifier
	frontendURL     string
	failureRedirect string
	logger          *zap.Logger
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// authorizeRequest admits requests carrying a valid bearer token for an existing user.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	user, err := h.authenticator.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		h.rejectUnauthorized(c, err)
		return
	}
	c.Request = c.Request.WithContext(auth.ContextWithPrincipal(c.Request.Context(), user))
	c.Next()
}

func resolveFailureRedirect(frontendURL string, failureRedirect string) string {
	target := strings.TrimSpace(failureRedirect)
	if target == "" {
		return frontendURL + "/login"
	}
	if strings.HasPrefix(target, "/") {
		return frontendURL + target
	}
	return target
}
