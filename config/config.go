package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/devportal-backend/utils"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // nil when neither DATABASE_URL nor DB_HOST is set
	OIDC          OIDCConfig
	Token         TokenConfig
	Identity      IdentityConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Backend       BackendConfig
	Environment   string `validate:"required"`
	Version       string

	// App is the parsed app-config file. Never nil after New.
	App *AppConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int `validate:"min=1,max=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int `validate:"min=1"`
	MaxIdleConns     int `validate:"min=0"`
	ConnMaxLifetime  time.Duration
}

// OIDCConfig configures the generic OpenID Connect sign-in provider
type OIDCConfig struct {
	ProviderID   string `validate:"required"`
	IssuerURL    string `validate:"omitempty,url"`
	ClientID     string
	ClientSecret string
	RedirectURL  string `validate:"omitempty,url"`
	Scopes       []string
	FrontEndURL  string `validate:"required"` // post-login redirect target
}

// TokenConfig configures the portal token issuer
type TokenConfig struct {
	Issuer        string        `validate:"required"`
	Audience      string        `validate:"required"`
	SigningSecret string        `validate:"omitempty,min=32"`
	TTL           time.Duration `validate:"gt=0"`
}

// IdentityConfig holds the sign-in policy settings
type IdentityConfig struct {
	// AllowedEmailDomains is the raw comma-separated allow-list. Empty admits any domain.
	AllowedEmailDomains string
}

// AuditConfig configures the sign-in audit trail
type AuditConfig struct {
	BufferSize  int `validate:"min=1"`
	WorkerCount int `validate:"min=1"`
	// Viewers are user refs allowed to list sign-in attempts. Empty admits any signed-in user.
	Viewers []string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"oneof=debug info warn error"`
	LogFormat      string `validate:"oneof=json console text"`
	MetricsEnabled bool
}

// BackendConfig selects the feature manifest the backend starts with
type BackendConfig struct {
	Variant string `validate:"oneof=oidc minimal"`
}

const (
	// VariantOIDC activates the OIDC sign-in provider
	VariantOIDC = "oidc"
	// VariantMinimal runs without any sign-in provider
	VariantMinimal = "minimal"
)

// New creates a new Config instance by loading environment variables
// and the optional app-config file.
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	app, err := LoadAppConfig(getEnv("APP_CONFIG", "app-config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("load app config: %w", err)
	}

	frontEnd := getEnv("FRONT_END_URL", "http://localhost:3000")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Version:     getEnv("APP_VERSION", "dev"),
		App:         app,
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{frontEnd}),
		},
		Database: loadDatabaseConfig(),
		OIDC: OIDCConfig{
			ProviderID:   getEnv("OIDC_PROVIDER_ID", "oidc"),
			IssuerURL:    fromAppConfig(app, "OIDC_ISSUER_URL", "auth.providers.oidc.metadataUrl", ""),
			ClientID:     fromAppConfig(app, "OIDC_CLIENT_ID", "auth.providers.oidc.clientId", ""),
			ClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("OIDC_REDIRECT_URL", "http://localhost:7007/api/auth/oidc/handler/frame"),
			Scopes:       getEnvAsList("OIDC_SCOPES", []string{"openid", "email", "profile"}),
			FrontEndURL:  frontEnd,
		},
		Token: TokenConfig{
			Issuer:        getEnv("TOKEN_ISSUER", "devportal-backend"),
			Audience:      getEnv("TOKEN_AUDIENCE", "devportal"),
			SigningSecret: getEnv("TOKEN_SIGNING_SECRET", ""),
			TTL:           getEnvAsDuration("TOKEN_TTL", time.Hour),
		},
		Identity: IdentityConfig{
			AllowedEmailDomains: fromAppConfig(app, "ALLOWED_EMAIL_DOMAINS", "identity.allowedEmailDomains", ""),
		},
		Audit: AuditConfig{
			BufferSize:  getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			WorkerCount: getEnvAsInt("AUDIT_WORKERS", 2),
			Viewers:     getEnvAsList("AUDIT_VIEWERS", app.GetStringSlice("audit.viewers")),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
		Backend: BackendConfig{
			Variant: fromAppConfig(app, "BACKEND_VARIANT", "backend.variant", VariantOIDC),
		},
	}
	cfg.Server.TLS.Enabled = getEnvAsBool("TLS_ENABLED", false)
	cfg.Server.TLS.CertFile = getEnv("TLS_CERT_FILE", "certs/cert.pem")
	cfg.Server.TLS.KeyFile = getEnv("TLS_KEY_FILE", "certs/key.pem")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks struct constraints first, then the rules that span sections.
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		if fields := utils.GetValidationFields(err); len(fields) > 0 {
			return fmt.Errorf("%w: %s", err, joinFields(fields))
		}
		return err
	}

	if c.Database != nil && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.IsProduction() && c.Token.SigningSecret == "" {
		return fmt.Errorf("token signing secret is required in production")
	}

	if c.Backend.Variant == VariantOIDC {
		if c.OIDC.IssuerURL == "" {
			return fmt.Errorf("oidc issuer URL is required for the %q backend variant", VariantOIDC)
		}
		if c.OIDC.ClientID == "" {
			return fmt.Errorf("oidc client ID is required for the %q backend variant", VariantOIDC)
		}
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert and key files are required when TLS is enabled")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// AuditEnabled reports whether sign-in attempts are persisted
func (c *Config) AuditEnabled() bool {
	return c.Database != nil
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil && u.Host != "" {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// loadDatabaseConfig reads DATABASE_URL or DB_* env vars.
// Returns nil when neither DATABASE_URL nor DB_HOST is set.
func loadDatabaseConfig() *DatabaseConfig {
	pool := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		pool.ConnectionString = dbURL
		return &pool
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}

	pool.Host = getEnv("DB_HOST", "")
	pool.Port = getEnvAsInt("DB_PORT", 5432)
	pool.User = getEnv("DB_USER", "")
	pool.Password = getEnv("DB_PASSWORD", "")
	pool.Database = getEnv("DB_NAME", "devportal")
	pool.SSLMode = getEnv("DB_SSLMODE", "disable")
	return &pool
}

func joinFields(fields map[string]string) string {
	msgs := make([]string, 0, len(fields))
	for _, msg := range fields {
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}

// Helper functions

// fromAppConfig resolves a setting: env var first, then the app-config key, then the default.
func fromAppConfig(app *AppConfig, envKey, appKey, defaultValue string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	if value := app.GetString(appKey); value != "" {
		return value
	}
	return defaultValue
}

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 7007)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 7007
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	if list := splitList(os.Getenv(key)); len(list) > 0 {
		return list
	}
	return defaultValue
}

// splitList splits a comma-separated value, trimming entries and dropping empties.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
