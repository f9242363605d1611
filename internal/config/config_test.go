package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig(slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.ServerAddress)
	assert.False(t, cfg.IsProduction())
	assert.NotZero(t, cfg.CRM.HTTPTimeout)
	assert.NotZero(t, cfg.CRM.SweepInterval)
}

func TestNewConfig_ProviderCredentials(t *testing.T) {
	t.Setenv("HUBSPOT_CLIENT_ID", "hs-id")
	t.Setenv("HUBSPOT_CLIENT_SECRET", "hs-secret")
	t.Setenv("SALESFORCE_CLIENT_ID", "sf-id")

	cfg, err := NewConfig(slog.Default())
	require.NoError(t, err)

	assert.True(t, cfg.CRM.HubSpot.IsConfigured())
	assert.False(t, cfg.CRM.Salesforce.IsConfigured(), "secret missing")
	assert.False(t, cfg.CRM.Attio.IsConfigured())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "app",
		Password: "pw",
		Database: "giftwell",
		SSLMode:  "require",
	}

	assert.Equal(t, "postgres://app:pw@db.internal:5433/giftwell?sslmode=require", d.DSN())
}

func TestConfig_IsProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := NewConfig(slog.Default())
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}
