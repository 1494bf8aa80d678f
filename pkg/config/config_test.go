package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/passportd/pkg/observability"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("PASSPORTD_TEST_STR", "custom")
	t.Setenv("PASSPORTD_TEST_BOOL", "yes")
	t.Setenv("PASSPORTD_TEST_FALSE", "off")
	t.Setenv("PASSPORTD_TEST_INT", "42")
	t.Setenv("PASSPORTD_TEST_BAD_INT", "forty")
	t.Setenv("PASSPORTD_TEST_DURATION", "90s")
	t.Setenv("PASSPORTD_TEST_FLOAT", "0.25")

	assert.Equal(t, "custom", getEnv("PASSPORTD_TEST_STR", "default"))
	assert.Equal(t, "default", getEnv("PASSPORTD_TEST_UNSET", "default"))
	assert.True(t, getEnvBool("PASSPORTD_TEST_BOOL", false))
	assert.False(t, getEnvBool("PASSPORTD_TEST_FALSE", true))
	assert.True(t, getEnvBool("PASSPORTD_TEST_UNSET", true))
	assert.Equal(t, 42, getEnvInt("PASSPORTD_TEST_INT", 0))
	assert.Equal(t, 7, getEnvInt("PASSPORTD_TEST_BAD_INT", 7))
	assert.Equal(t, int64(42), getEnvInt64("PASSPORTD_TEST_INT", 0))
	assert.Equal(t, 90*time.Second, getEnvDuration("PASSPORTD_TEST_DURATION", time.Second))
	assert.Equal(t, 0.25, getEnvFloat("PASSPORTD_TEST_FLOAT", 1))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PASSPORTD_POSTGRES_URL", "postgres://localhost/passportd")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.Server.RequirePlatformAdmin)
	assert.Equal(t, 15*time.Minute, cfg.Storage.CacheTTL)
	assert.Equal(t, "organization", cfg.Resolver.RouteKey)
	assert.Equal(t, "organization", cfg.Resolver.QueryKey)
	assert.Equal(t, "X-Organization-ID", cfg.Resolver.Header)
	assert.Equal(t, 72*time.Hour, cfg.Invitations.Expiry)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.Level())
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "passportd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "8000"
  require_platform_admin: false
storage:
  postgres_url: postgres://file/passportd
  cache_ttl: 5m
resolver:
  header: X-Org
invitations:
  domain: passports.example.cd
  expiry: 24h
observability:
  log_level: debug
`), 0o600))

	t.Setenv("PASSPORTD_CONFIG_FILE", path)
	t.Setenv("PASSPORTD_POSTGRES_URL", "postgres://env/passportd")
	t.Setenv("PASSPORTD_INVITATION_WEBHOOK_URL", "https://relay.example.cd/hooks/passportd")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.False(t, cfg.Server.RequirePlatformAdmin)
	assert.Equal(t, "postgres://env/passportd", cfg.Storage.PostgresURL, "environment wins over the file")
	assert.Equal(t, 5*time.Minute, cfg.Storage.CacheTTL)
	assert.Equal(t, "X-Org", cfg.Resolver.Header)
	assert.Equal(t, "organization", cfg.Resolver.RouteKey, "keys absent from the file keep defaults")
	assert.Equal(t, "passports.example.cd", cfg.Invitations.Domain)
	assert.Equal(t, 24*time.Hour, cfg.Invitations.Expiry)
	assert.Equal(t, "https://relay.example.cd/hooks/passportd", cfg.Invitations.WebhookURL)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.Level())
}

func TestLoadFile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), Default())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("unknown key", func(t *testing.T) {
		err := decodeYAML([]byte("server:\n  prot: \"1\"\n"), Default())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("empty file", func(t *testing.T) {
		cfg := Default()
		require.NoError(t, decodeYAML([]byte("\n"), cfg))
		assert.Equal(t, "8080", cfg.Server.Port)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Storage.PostgresURL = "postgres://localhost/passportd"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: "server port is required"},
		{name: "same ports", mutate: func(c *Config) { c.Server.HealthPort = c.Server.Port }, wantErr: "must be different"},
		{name: "missing postgres", mutate: func(c *Config) { c.Storage.PostgresURL = "" }, wantErr: "postgres URL is required"},
		{name: "zero cache ttl", mutate: func(c *Config) { c.Storage.CacheTTL = 0 }, wantErr: "cache TTL"},
		{name: "disabled cache ignores ttl", mutate: func(c *Config) { c.Storage.CacheEnabled = false; c.Storage.CacheTTL = 0 }},
		{
			name: "no resolver sources",
			mutate: func(c *Config) {
				c.Resolver = ResolverConfig{}
			},
			wantErr: "resolver source",
		},
		{name: "missing domain", mutate: func(c *Config) { c.Invitations.Domain = "" }, wantErr: "invitation domain"},
		{name: "bad cron", mutate: func(c *Config) { c.Invitations.CleanupSchedule = "every hour" }, wantErr: "cleanup schedule"},
		{name: "cron expression", mutate: func(c *Config) { c.Invitations.CleanupSchedule = "*/15 * * * *" }},
		{
			name: "otel without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = ""
			},
			wantErr: "OpenTelemetry endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
