package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/upb/devportal-backend/auth"
	"github.com/upb/devportal-backend/config"
	"github.com/upb/devportal-backend/handlers"
	"github.com/upb/devportal-backend/internal/observability"
	"github.com/upb/devportal-backend/middleware"
	"github.com/upb/devportal-backend/repositories/postgres"
	"github.com/upb/devportal-backend/services/audit"
	"github.com/upb/devportal-backend/services/signin"
	"github.com/upb/devportal-backend/services/token"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection; features fill it in at startup.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	DB      *postgres.DB // nil when the audit trail has no store
	Metrics *observability.Metrics

	// Sign-in
	Registry       *auth.Registry
	TokenIssuer    *token.Issuer
	Resolver       *signin.Resolver
	AuthMiddleware *middleware.AuthMiddleware
	Audit          *audit.Service

	// Features lists the activated features in activation order
	Features []string

	authHandler *auth.Handler

	// Swappable constructors for tests
	openDB           func(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*postgres.DB, error)
	newAuthenticator func(ctx context.Context, cfg auth.OIDCConfig) (auth.Authenticator, error)
}

// NewDependencies creates the core dependencies. Features activated by a Backend add the rest.
func NewDependencies(cfg *config.Config, logger *zap.Logger) *Dependencies {
	return &Dependencies{
		Config:         cfg,
		Logger:         logger,
		Registry:       auth.NewRegistry(),
		AuthMiddleware: middleware.NewAuthMiddleware(rejectAllValidator{}, logger),
		openDB:         postgres.NewDB,
		newAuthenticator: func(ctx context.Context, cfg auth.OIDCConfig) (auth.Authenticator, error) {
			return auth.NewOIDCAuthenticator(ctx, cfg)
		},
	}
}

// Bootstrap builds the dependencies and starts the manifest for the configured variant
func Bootstrap(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	backend, err := Manifest(cfg.Backend.Variant)
	if err != nil {
		return nil, err
	}

	deps := NewDependencies(cfg, logger)
	if err := backend.Start(ctx, deps); err != nil {
		_ = deps.Close(ctx)
		return nil, err
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("variant", cfg.Backend.Variant),
		zap.Strings("features", deps.Features))
	return deps, nil
}

// AuthHandler returns the auth handler for route wiring (implements handlers.AuthDeps)
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// SignInAudit returns the audit reader, or nil when the audit trail is off (implements handlers.AuditDeps)
func (d *Dependencies) SignInAudit() handlers.SignInAuditReader {
	if d.Audit == nil {
		return nil
	}
	return d.Audit
}

// Version implements handlers.StatusDeps
func (d *Dependencies) Version() string { return d.Config.Version }

// Environment implements handlers.StatusDeps
func (d *Dependencies) Environment() string { return d.Config.Environment }

// Variant implements handlers.StatusDeps
func (d *Dependencies) Variant() string { return d.Config.Backend.Variant }

// ActiveFeatures implements handlers.StatusDeps
func (d *Dependencies) ActiveFeatures() []string {
	return append([]string(nil), d.Features...)
}

// ProviderIDs implements handlers.StatusDeps
func (d *Dependencies) ProviderIDs() []string { return d.Registry.List() }

func initObservability(_ context.Context, d *Dependencies) error {
	d.Metrics = observability.NewMetrics()
	return nil
}

// initAudit connects the sign-in audit store
func initAudit(ctx context.Context, d *Dependencies) error {
	if !d.Config.AuditEnabled() {
		d.Logger.Warn("no database configured, sign-in audit trail disabled")
		return nil
	}

	db, err := d.openDB(ctx, *d.Config.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	d.DB = db

	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	repos := db.NewRepositories()
	svc := audit.NewService(repos.SignInAudit, d.Logger, audit.Config{
		BufferSize:  d.Config.Audit.BufferSize,
		WorkerCount: d.Config.Audit.WorkerCount,
	})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}
	d.Audit = svc
	return nil
}

// initAuth creates the token issuer, the sign-in policy and the auth HTTP handler
func initAuth(_ context.Context, d *Dependencies) error {
	cfg := d.Config

	key := []byte(cfg.Token.SigningSecret)
	if len(key) == 0 {
		var err error
		if key, err = ephemeralKey(); err != nil {
			return err
		}
		d.Logger.Warn("TOKEN_SIGNING_SECRET not set, using an ephemeral signing key; sessions end on restart")
	}

	issuer, err := token.NewIssuer(token.Config{
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
		SigningKey: key,
		TTL:        cfg.Token.TTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create token issuer: %w", err)
	}
	d.TokenIssuer = issuer

	allowed := signin.ParseAllowedDomains(cfg.Identity.AllowedEmailDomains)
	if allowed.Empty() {
		d.Logger.Warn("no allowed email domains configured, any email may sign in")
	} else {
		d.Logger.Info("email domain allow-list loaded", zap.Strings("domains", allowed.List()))
	}
	d.Resolver = signin.NewResolver(allowed, issuer)

	d.AuthMiddleware = middleware.NewAuthMiddleware(&tokenValidatorAdapter{issuer: issuer}, d.Logger)

	var observers []auth.SignInObserver
	if d.Metrics != nil {
		observers = append(observers, d.Metrics)
	}
	if d.Audit != nil {
		observers = append(observers, d.Audit)
	}
	d.authHandler = auth.NewHandler(d.Registry, auth.HandlerConfig{
		FrontEndURL:   cfg.OIDC.FrontEndURL,
		SecureCookies: cfg.Server.TLS.Enabled || cfg.IsProduction(),
		SessionTTL:    cfg.Token.TTL,
	}, d.Logger, observers...)

	d.Logger.Info("auth handler initialized")
	return nil
}

// initAuthOIDC discovers the OIDC issuer and registers it as a sign-in provider
func initAuthOIDC(ctx context.Context, d *Dependencies) error {
	cfg := d.Config.OIDC

	authenticator, err := d.newAuthenticator(ctx, auth.OIDCConfig{
		IssuerURL:    cfg.IssuerURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize oidc provider: %w", err)
	}

	if err := d.Registry.Register(cfg.ProviderID, authenticator, d.Resolver.SignIn); err != nil {
		return err
	}

	d.Logger.Info("sign-in provider registered",
		zap.String("provider", cfg.ProviderID),
		zap.String("issuer", cfg.IssuerURL))
	return nil
}

func ephemeralKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return key, nil
}

// tokenValidatorAdapter adapts token.Issuer to middleware.TokenValidator
type tokenValidatorAdapter struct {
	issuer *token.Issuer
}

func (a *tokenValidatorAdapter) ValidateToken(ctx context.Context, raw string) (*middleware.Claims, error) {
	claims, err := a.issuer.ValidateToken(ctx, raw)
	if err != nil {
		return nil, err
	}

	out := &middleware.Claims{
		Sub:          claims.Subject,
		Entitlements: claims.Entitlements,
		Issuer:       claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// rejectAllValidator rejects all tokens (used before the auth feature runs)
type rejectAllValidator struct{}

func (rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// minStopTimeout bounds the audit drain when the shutdown context is already spent
const minStopTimeout = time.Second

// Close gracefully shuts down all dependencies. Safe to call more than once.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Audit != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = max(time.Until(deadline), minStopTimeout)
		}
		if err := d.Audit.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
		d.Audit = nil
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.DB = nil
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
