package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3004"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// AppBaseURL is the externally reachable base URL of this deployment,
	// used to build per-provider OAuth redirect URIs:
	// {AppBaseURL}/integrations/{provider}/callback
	AppBaseURL string `env:"APP_BASE_URL" envDefault:"http://localhost:3004"`

	// Database settings
	Database DatabaseConfig

	// CRM provider credentials and sync tunables
	CRM CRMConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"300s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"300s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// IsProduction reports whether this deployment runs in production posture.
// Production fails closed on missing secrets instead of falling back to
// demo defaults.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"giftwell"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"giftwell"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// CRMConfig holds CRM integration settings
type CRMConfig struct {
	// EncryptionKey protects tokens at rest (64 hex chars / 32 bytes).
	// Absence is tolerated only outside production.
	EncryptionKey string `env:"TOKEN_ENCRYPTION_KEY" envDefault:""`

	// StateSecret signs OAuth state tokens. Falls back to the encryption
	// key when unset.
	StateSecret string `env:"OAUTH_STATE_SECRET" envDefault:""`

	// DemoMode runs the whole subsystem without real provider credentials:
	// integrations are seeded with deterministic sample data and syncs are
	// simulated. Threaded through construction, never a process global.
	DemoMode bool `env:"DEMO_MODE" envDefault:"false"`

	HubSpot    ProviderCredentials `envPrefix:"HUBSPOT_"`
	Salesforce ProviderCredentials `envPrefix:"SALESFORCE_"`
	Attio      ProviderCredentials `envPrefix:"ATTIO_"`

	// SweepInterval is how often the scheduler runs incremental syncs for
	// all connected integrations. Zero disables the sweep.
	SweepInterval time.Duration `env:"CRM_SYNC_SWEEP_INTERVAL" envDefault:"15m"`

	// HTTPTimeout bounds every provider API call so a hung upstream
	// request cannot hold the SYNCING advisory lock indefinitely.
	HTTPTimeout time.Duration `env:"CRM_HTTP_TIMEOUT" envDefault:"30s"`
}

// Credentials returns the OAuth app credentials for a provider name.
func (c *CRMConfig) Credentials(provider string) ProviderCredentials {
	switch provider {
	case "hubspot":
		return c.HubSpot
	case "salesforce":
		return c.Salesforce
	case "attio":
		return c.Attio
	}
	return ProviderCredentials{}
}

// ProviderCredentials holds one provider's OAuth app credentials
type ProviderCredentials struct {
	ClientID     string `env:"CLIENT_ID" envDefault:""`
	ClientSecret string `env:"CLIENT_SECRET" envDefault:""`
}

// IsConfigured returns true if the provider's OAuth app is configured
func (p *ProviderCredentials) IsConfigured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
		slog.Bool("demo_mode", cfg.CRM.DemoMode),
	)

	return cfg, nil
}
