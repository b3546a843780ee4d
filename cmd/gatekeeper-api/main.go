package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/config"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/database"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/oauth"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/server"
	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const outboundTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gatekeeper-api",
		Short: "Gatekeeper authentication service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Duration("token-ttl", defaults.GetDuration("token.ttl"), "Session token validity window")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().String("frontend-url", defaults.GetString("frontend.url"), "Frontend base URL receiving provider logins")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("facebook-client-id", defaults.GetString("facebook.client_id"), "Facebook app ID")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "token.ttl", "token-ttl")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "frontend.url", "frontend-url")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "facebook.client_id", "facebook-client-id")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	handler, err := buildHandler(appConfig, db, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: outboundTimeout,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildHandler(appConfig config.AppConfig, db *gorm.DB, logger *zap.Logger) (http.Handler, error) {
	directory, err := users.NewDirectory(users.DirectoryConfig{
		Database:   db,
		IDProvider: users.NewUUIDProvider(),
		Clock:      time.Now,
	})
	if err != nil {
		return nil, err
	}

	tokenService, err := auth.NewTokenService(auth.TokenServiceConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        auth.DefaultTokenIssuer,
		Audience:      auth.DefaultTokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return nil, err
	}

	credentials, err := auth.NewCredentials(auth.CredentialsConfig{
		Accounts: directory,
		Hasher:   auth.NewPasswordHasher(auth.DefaultPasswordCost),
		Tokens:   tokenService,
	})
	if err != nil {
		return nil, err
	}

	gate, err := auth.NewGate(tokenService, directory)
	if err != nil {
		return nil, err
	}

	policies := users.DefaultProviderPolicies()
	policies[users.ProviderGoogle] = users.ProviderPolicy{
		EnsureProfileOnLink: appConfig.Google.EnsureProfileOnLink,
		FallbackDisplayName: users.DefaultFallbackDisplayName,
	}
	policies[users.ProviderFacebook] = users.ProviderPolicy{
		EnsureProfileOnLink: appConfig.Facebook.EnsureProfileOnLink,
		FallbackDisplayName: users.DefaultFallbackDisplayName,
	}
	resolver, err := users.NewResolver(users.ResolverConfig{
		Store:    directory,
		Policies: policies,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: outboundTimeout}
	providers, err := buildProviders(appConfig, httpClient, logger)
	if err != nil {
		return nil, err
	}

	states, err := oauth.NewStateSigner([]byte(appConfig.SessionSecret), 0, nil)
	if err != nil {
		return nil, err
	}

	deps := server.Dependencies{
		Credentials:     credentials,
		Authenticator:   gate,
		Profiles:        directory,
		Resolver:        resolver,
		Providers:       providers,
		States:          states,
		FrontendURL:     appConfig.FrontendURL,
		FailureRedirect: appConfig.FailureRedirect,
		Logger:          logger,
	}

	if appConfig.Google.ClientID != "" {
		googleVerifier, err := oauth.NewGoogleVerifier(oauth.GoogleVerifierConfig{
			ClientID:   appConfig.Google.ClientID,
			JWKSURL:    appConfig.GoogleJWKSURL,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		deps.GoogleVerifier = googleVerifier
	}

	return server.NewHTTPHandler(deps)
}

func buildProviders(appConfig config.AppConfig, httpClient *http.Client, logger *zap.Logger) ([]server.IdentityProvider, error) {
	var providers []server.IdentityProvider

	if appConfig.Google.Enabled() {
		provider, err := oauth.NewGoogleProvider(oauth.Credentials{
			ClientID:     appConfig.Google.ClientID,
			ClientSecret: appConfig.Google.ClientSecret,
			CallbackURL:  appConfig.Google.CallbackURL,
		}, httpClient)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	} else {
		logger.Info("google login disabled: client credentials not configured")
	}

	if appConfig.Facebook.Enabled() {
		provider, err := oauth.NewFacebookProvider(oauth.Credentials{
			ClientID:     appConfig.Facebook.ClientID,
			ClientSecret: appConfig.Facebook.ClientSecret,
			CallbackURL:  appConfig.Facebook.CallbackURL,
		}, httpClient)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	} else {
		logger.Info("facebook login disabled: client credentials not configured")
	}

	return providers, nil
}
