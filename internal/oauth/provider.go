package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/users"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	googleUserInfoURL   = "https://openidconnect.googleapis.com/v1/userinfo"
	facebookUserInfoURL = "https://graph.facebook.com/me?fields=id,name,email"

	maxUserInfoBytes = 1 << 20
)

var (
	ErrInvalidProviderConfig = errors.New("oauth: invalid provider config")
	errMissingCode           = errors.New("oauth: authorization code required")
)

// Credentials are the client registration of an application with a provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Enabled reports whether the registration is complete enough to start a login.
func (c Credentials) Enabled() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// ProviderConfig describes an authorization-code provider.
type ProviderConfig struct {
	Name        string
	Credentials Credentials
	Endpoint    oauth2.Endpoint
	Scopes      []string
	UserInfoURL string
	HTTPClient  *http.Client
}

// Provider runs the authorization-code flow against one identity provider.
type Provider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewProvider validates cfg and constructs a Provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Name))
	if name == "" {
		return nil, fmt.Errorf("%w: provider name required", ErrInvalidProviderConfig)
	}
	if !cfg.Credentials.Enabled() {
		return nil, fmt.Errorf("%w: %s client id and secret required", ErrInvalidProviderConfig, name)
	}
	if strings.TrimSpace(cfg.Credentials.CallbackURL) == "" {
		return nil, fmt.Errorf("%w: %s callback url required", ErrInvalidProviderConfig, name)
	}
	if strings.TrimSpace(cfg.UserInfoURL) == "" {
		return nil, fmt.Errorf("%w: %s userinfo url required", ErrInvalidProviderConfig, name)
	}
	return &Provider{
		name: name,
		config: &oauth2.Config{
			ClientID:     cfg.Credentials.ClientID,
			ClientSecret: cfg.Credentials.ClientSecret,
			RedirectURL:  cfg.Credentials.CallbackURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       append([]string(nil), cfg.Scopes...),
		},
		userInfoURL: cfg.UserInfoURL,
		httpClient:  cfg.HTTPClient,
	}, nil
}

// NewGoogleProvider configures the Google authorization-code flow.
func NewGoogleProvider(credentials Credentials, httpClient *http.Client) (*Provider, error) {
	return NewProvider(ProviderConfig{
		Name:        users.ProviderGoogle,
		Credentials: credentials,
		Endpoint:    endpoints.Google,
		Scopes:      []string{"openid", "email", "profile"},
		UserInfoURL: googleUserInfoURL,
		HTTPClient:  httpClient,
	})
}

// NewFacebookProvider configures the Facebook authorization-code flow.
func NewFacebookProvider(credentials Credentials, httpClient *http.Client) (*Provider, error) {
	return NewProvider(ProviderConfig{
		Name:        users.ProviderFacebook,
		Credentials: credentials,
		Endpoint:    endpoints.Facebook,
		Scopes:      []string{"email", "public_profile"},
		UserInfoURL: facebookUserInfoURL,
		HTTPClient:  httpClient,
	})
}

// Name returns the provider identifier used in routes and policies.
func (p *Provider) Name() string {
	return p.name
}

// AuthCodeURL returns the consent page URL carrying state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Identity exchanges the authorization code and fetches the identity the provider asserts.
func (p *Provider) Identity(ctx context.Context, code string) (users.ExternalIdentity, error) {
	if strings.TrimSpace(code) == "" {
		return users.ExternalIdentity{}, errMissingCode
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return users.ExternalIdentity{}, fmt.Errorf("oauth: %s code exchange: %w", p.name, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return users.ExternalIdentity{}, err
	}
	response, err := p.config.Client(ctx, token).Do(request)
	if err != nil {
		return users.ExternalIdentity{}, fmt.Errorf("oauth: %s userinfo: %w", p.name, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return users.ExternalIdentity{}, fmt.Errorf("oauth: %s userinfo returned status %d", p.name, response.StatusCode)
	}

	var document userInfoDocument
	if err := json.NewDecoder(io.LimitReader(response.Body, maxUserInfoBytes)).Decode(&document); err != nil {
		return users.ExternalIdentity{}, fmt.Errorf("oauth: %s userinfo decode: %w", p.name, err)
	}
	return document.identity(p.name), nil
}

// userInfoDocument covers both the OpenID Connect userinfo shape and the Graph API "me" shape.
type userInfoDocument struct {
	Subject       string `json:"sub"`
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
}

func (d userInfoDocument) identity(provider string) users.ExternalIdentity {
	subject := d.Subject
	if subject == "" {
		subject = d.ID
	}
	email := d.Email
	if d.EmailVerified != nil && !*d.EmailVerified {
		email = ""
	}
	return users.ExternalIdentity{
		Provider:    provider,
		Subject:     subject,
		Email:       email,
		DisplayName: d.Name,
	}
}
