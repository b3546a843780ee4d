package oauth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/users"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	// DefaultGoogleJWKSURL publishes the keys signing Google ID tokens.
	DefaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

	defaultJWKSCacheTTL = 10 * time.Minute
	defaultIssuerGoogle = "https://accounts.google.com"
	defaultIssuerAlt    = "accounts.google.com"
)

var (
	errMissingIDToken        = errors.New("id token must not be empty")
	errMissingKeyIdentifier  = errors.New("token missing key identifier")
	errKeyNotFound           = errors.New("signing key not found in JWKS")
	errUntrustedIssuer       = errors.New("token issuer not allowed")
	errMissingSubject        = errors.New("token missing subject claim")
	errMissingAudienceConfig = errors.New("audience configuration required")
	errMissingJWKSURL        = errors.New("jwks url configuration required")
	errNoAllowedIssuers      = errors.New("no allowed issuers configured")
	ErrInvalidVerifierConfig = errors.New("oauth: invalid google verifier config")
)

// GoogleVerifierConfig bundles configuration required to instantiate a GoogleVerifier.
type GoogleVerifierConfig struct {
	ClientID       string
	JWKSURL        string
	AllowedIssuers []string
	HTTPClient     *http.Client
	CacheTTL       time.Duration
	Logger         *zap.Logger
	Clock          func() time.Time
}

type googleIDClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	jwt.RegisteredClaims
}

// GoogleVerifier verifies Google ID tokens offline against the cached JWKS and
// converts them into external identities.
type GoogleVerifier struct {
	clientID   string
	jwksURL    string
	logger     *zap.Logger
	httpClient *http.Client
	clock      func() time.Time
	cache      *jwksCache
	issuers    map[string]struct{}
}

// NewGoogleVerifier constructs a verifier with validated configuration.
func NewGoogleVerifier(cfg GoogleVerifierConfig) (*GoogleVerifier, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingAudienceConfig)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingJWKSURL)
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultJWKSCacheTTL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	issuers := make(map[string]struct{})
	if len(cfg.AllowedIssuers) == 0 {
		issuers[defaultIssuerGoogle] = struct{}{}
		issuers[defaultIssuerAlt] = struct{}{}
	} else {
		for _, issuer := range cfg.AllowedIssuers {
			if normalized := strings.TrimSpace(issuer); normalized != "" {
				issuers[normalized] = struct{}{}
			}
		}
		if len(issuers) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errNoAllowedIssuers)
		}
	}

	return &GoogleVerifier{
		clientID:   clientID,
		jwksURL:    jwksURL,
		logger:     logger,
		httpClient: httpClient,
		clock:      clock,
		cache:      &jwksCache{ttl: cacheTTL},
		issuers:    issuers,
	}, nil
}

// Verify validates rawToken and returns the identity it asserts. An unverified email is
// dropped so the resolver rejects the identity.
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (users.ExternalIdentity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return users.ExternalIdentity{}, errMissingIDToken
	}

	claims := &googleIDClaims{}
	token, err := jwt.ParseWithClaims(
		rawToken,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			keyID, _ := token.Header["kid"].(string)
			if keyID == "" {
				return nil, errMissingKeyIdentifier
			}
			return v.lookupKey(ctx, keyID)
		},
		jwt.WithAudience(v.clientID),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock),
	)
	if err != nil {
		return users.ExternalIdentity{}, err
	}
	if !token.Valid {
		return users.ExternalIdentity{}, errors.New("token signature invalid")
	}
	if _, allowed := v.issuers[claims.Issuer]; !allowed {
		return users.ExternalIdentity{}, errUntrustedIssuer
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return users.ExternalIdentity{}, errMissingSubject
	}

	identity := users.ExternalIdentity{
		Provider:    users.ProviderGoogle,
		Subject:     claims.Subject,
		DisplayName: claims.Name,
	}
	if claims.EmailVerified {
		identity.Email = claims.Email
	} else if claims.Email != "" {
		v.logger.Debug("ignoring unverified google email", zap.String("subject", claims.Subject))
	}
	return identity, nil
}

func (v *GoogleVerifier) lookupKey(ctx context.Context, keyID string) (*rsa.PublicKey, error) {
	now := v.clock()
	if key := v.cache.get(keyID, now); key != nil {
		return key, nil
	}
	if err := v.refreshKeys(ctx, now); err != nil {
		return nil, err
	}
	if key := v.cache.get(keyID, now); key != nil {
		return key, nil
	}
	return nil, errKeyNotFound
}

func (v *GoogleVerifier) refreshKeys(ctx context.Context, fetchedAt time.Time) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	response, err := v.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks request returned status %d", response.StatusCode)
	}

	var document jwksDocument
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return err
	}

	keyMap := make(map[string]*rsa.PublicKey, len(document.Keys))
	for _, key := range document.Keys {
		if key.KeyType != "RSA" || (key.Use != "" && key.Use != "sig") {
			continue
		}
		publicKey, err := key.toRSAPublicKey()
		if err != nil {
			v.logger.Debug("skipping jwk", zap.String("kid", key.KeyID), zap.Error(err))
			continue
		}
		keyMap[key.KeyID] = publicKey
	}
	if len(keyMap) == 0 {
		return errors.New("jwks document contained no usable keys")
	}

	v.cache.store(keyMap, fetchedAt)
	return nil
}

type jwksCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
	ttl       time.Duration
}

func (c *jwksCache) get(keyID string, now time.Time) *rsa.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.keys == nil || now.After(c.expiresAt) {
		return nil
	}
	return c.keys[keyID]
}

func (c *jwksCache) store(keys map[string]*rsa.PublicKey, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = keys
	c.expiresAt = now.Add(c.ttl)
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	KeyType string `json:"kty"`
	KeyID   string `json:"kid"`
	Use     string `json:"use"`
	Modulus string `json:"n"`
	Exp     string `json:"e"`
}

func (k jwk) toRSAPublicKey() (*rsa.PublicKey, error) {
	modulusBytes, err := base64.RawURLEncoding.DecodeString(k.Modulus)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus encoding: %w", err)
	}
	exponentBytes, err := base64.RawURLEncoding.DecodeString(k.Exp)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent encoding: %w", err)
	}
	if len(exponentBytes) == 0 {
		return nil, errors.New("missing exponent bytes")
	}

	exponent := 0
	for _, b := range exponentBytes {
		exponent = exponent<<8 + int(b)
	}
	if exponent == 0 {
		return nil, errors.New("invalid exponent value")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(modulusBytes),
		E: exponent,
	}, nil
}
