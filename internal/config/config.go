package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "GATEKEEPER"
	defaultHTTPAddress      = "0.0.0.0:4000"
	defaultDatabasePath     = "gatekeeper.db"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultTokenTTL         = 24 * time.Hour
	defaultFrontendURL      = "http://localhost:3000"
	defaultFailureRedirect  = "/login"
	defaultGoogleJWKSURL    = "https://www.googleapis.com/oauth2/v3/certs"
	defaultGoogleCallback   = "http://localhost:4000/api/oauth/google/callback"
	defaultFacebookCallback = "http://localhost:4000/api/oauth/facebook/callback"
)

// ProviderConfig captures the client registration and link policy of one identity provider.
type ProviderConfig struct {
	ClientID            string
	ClientSecret        string
	CallbackURL         string
	EnsureProfileOnLink bool
}

// Enabled reports whether the provider has a complete client registration.
func (p ProviderConfig) Enabled() bool {
	return strings.TrimSpace(p.ClientID) != "" && strings.TrimSpace(p.ClientSecret) != ""
}

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	SigningSecret   string
	SessionSecret   string
	TokenTTL        time.Duration
	DatabasePath    string
	LogLevel        string
	LogFormat       string
	FrontendURL     string
	FailureRedirect string
	GoogleJWKSURL   string
	Google          ProviderConfig
	Facebook        ProviderConfig
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("token.ttl", defaultTokenTTL)
	configViper.SetDefault("frontend.url", defaultFrontendURL)
	configViper.SetDefault("oauth.failure_redirect", defaultFailureRedirect)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("google.callback_url", defaultGoogleCallback)
	configViper.SetDefault("google.ensure_profile_on_link", true)
	configViper.SetDefault("facebook.callback_url", defaultFacebookCallback)
	configViper.SetDefault("facebook.ensure_profile_on_link", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		SessionSecret:   configViper.GetString("auth.session_secret"),
		TokenTTL:        configViper.GetDuration("token.ttl"),
		DatabasePath:    configViper.GetString("database.path"),
		LogLevel:        configViper.GetString("log.level"),
		LogFormat:       configViper.GetString("log.format"),
		FrontendURL:     strings.TrimRight(configViper.GetString("frontend.url"), "/"),
		FailureRedirect: configViper.GetString("oauth.failure_redirect"),
		GoogleJWKSURL:   configViper.GetString("google.jwks_url"),
		Google:          loadProvider(configViper, "google"),
		Facebook:        loadProvider(configViper, "facebook"),
	}
	if strings.TrimSpace(cfg.SessionSecret) == "" {
		cfg.SessionSecret = cfg.SigningSecret
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func loadProvider(configViper *viper.Viper, name string) ProviderConfig {
	return ProviderConfig{
		ClientID:            configViper.GetString(name + ".client_id"),
		ClientSecret:        configViper.GetString(name + ".client_secret"),
		CallbackURL:         configViper.GetString(name + ".callback_url"),
		EnsureProfileOnLink: configViper.GetBool(name + ".ensure_profile_on_link"),
	}
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl must be positive")
	}
	if _, err := url.ParseRequestURI(c.FrontendURL); err != nil {
		return fmt.Errorf("frontend.url is invalid: %w", err)
	}
	return nil
}
