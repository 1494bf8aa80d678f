package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/passportd/pkg/observability"
	"github.com/platinummonkey/passportd/pkg/storage"
)

const envPrefix = "PASSPORTD_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       storage.Config      `yaml:"storage"`
	Resolver      ResolverConfig      `yaml:"resolver"`
	Invitations   InvitationConfig    `yaml:"invitations"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// RequirePlatformAdmin aborts startup when no platform-admin organization exists
	RequirePlatformAdmin bool `yaml:"require_platform_admin"`
}

// ResolverConfig names where the organization identifier is read from, in
// precedence order: route variable, query parameter, header.
type ResolverConfig struct {
	RouteKey string `yaml:"route_key"`
	QueryKey string `yaml:"query_key"`
	Header   string `yaml:"header"`
}

// InvitationConfig holds invitation and activation settings
type InvitationConfig struct {
	// Domain is the public host used to build activation links
	Domain          string        `yaml:"domain"`
	Expiry          time.Duration `yaml:"expiry"`
	CleanupSchedule string        `yaml:"cleanup_schedule"`
	Sender          string        `yaml:"sender"`
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	// WebhookURL receives messages as signed JSON posts; empty logs them instead
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Default returns the configuration used before any file or environment overrides
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                 "0.0.0.0",
			Port:                 "8080",
			ReadTimeout:          15 * time.Second,
			WriteTimeout:         15 * time.Second,
			IdleTimeout:          60 * time.Second,
			ShutdownTimeout:      30 * time.Second,
			MaxBodyBytes:         1 << 20,
			HealthPort:           "9090",
			RequirePlatformAdmin: true,
		},
		Storage: storage.DefaultConfig(),
		Resolver: ResolverConfig{
			RouteKey: "organization",
			QueryKey: "organization",
			Header:   "X-Organization-ID",
		},
		Invitations: InvitationConfig{
			Domain:          "localhost:8080",
			Expiry:          72 * time.Hour,
			CleanupSchedule: "@hourly",
			Sender:          "no-reply@passportd.local",
			DispatchTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "passportd",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by PASSPORTD_CONFIG_FILE, and PASSPORTD_* environment variables, in
// increasing order of precedence.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv(envPrefix+"CONFIG_FILE", ""); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Host = getEnv(envPrefix+"HOST", s.Host)
	s.Port = getEnv(envPrefix+"PORT", s.Port)
	s.ReadTimeout = getEnvDuration(envPrefix+"READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration(envPrefix+"WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration(envPrefix+"IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration(envPrefix+"SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxBodyBytes = getEnvInt64(envPrefix+"MAX_BODY_BYTES", s.MaxBodyBytes)
	s.HealthPort = getEnv(envPrefix+"HEALTH_PORT", s.HealthPort)
	s.RequirePlatformAdmin = getEnvBool(envPrefix+"REQUIRE_PLATFORM_ADMIN", s.RequirePlatformAdmin)

	st := &cfg.Storage
	st.PostgresURL = getEnv(envPrefix+"POSTGRES_URL", st.PostgresURL)
	st.PostgresReplicaURLs = getEnv(envPrefix+"POSTGRES_REPLICA_URLS", st.PostgresReplicaURLs)
	st.PostgresMaxConns = getEnvInt(envPrefix+"POSTGRES_MAX_CONNS", st.PostgresMaxConns)
	st.PostgresMinConns = getEnvInt(envPrefix+"POSTGRES_MIN_CONNS", st.PostgresMinConns)
	st.PostgresTimeout = getEnvDuration(envPrefix+"POSTGRES_TIMEOUT", st.PostgresTimeout)
	st.AutoMigrate = getEnvBool(envPrefix+"AUTO_MIGRATE", st.AutoMigrate)
	st.RedisURL = getEnv(envPrefix+"REDIS_URL", st.RedisURL)
	st.RedisPassword = getEnv(envPrefix+"REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = getEnvInt(envPrefix+"REDIS_DB", st.RedisDB)
	st.RedisMaxRetries = getEnvInt(envPrefix+"REDIS_MAX_RETRIES", st.RedisMaxRetries)
	st.RedisPoolSize = getEnvInt(envPrefix+"REDIS_POOL_SIZE", st.RedisPoolSize)
	st.RedisKeyPrefix = getEnv(envPrefix+"REDIS_KEY_PREFIX", st.RedisKeyPrefix)
	st.CacheEnabled = getEnvBool(envPrefix+"CACHE_ENABLED", st.CacheEnabled)
	st.CacheTTL = getEnvDuration(envPrefix+"CACHE_TTL", st.CacheTTL)
	st.L1CacheSize = getEnvInt(envPrefix+"L1_CACHE_SIZE", st.L1CacheSize)

	r := &cfg.Resolver
	r.RouteKey = getEnv(envPrefix+"RESOLVER_ROUTE_KEY", r.RouteKey)
	r.QueryKey = getEnv(envPrefix+"RESOLVER_QUERY_KEY", r.QueryKey)
	r.Header = getEnv(envPrefix+"RESOLVER_HEADER", r.Header)

	inv := &cfg.Invitations
	inv.Domain = getEnv(envPrefix+"INVITATION_DOMAIN", inv.Domain)
	inv.Expiry = getEnvDuration(envPrefix+"INVITATION_EXPIRY", inv.Expiry)
	inv.CleanupSchedule = getEnv(envPrefix+"INVITATION_CLEANUP_SCHEDULE", inv.CleanupSchedule)
	inv.Sender = getEnv(envPrefix+"INVITATION_SENDER", inv.Sender)
	inv.DispatchTimeout = getEnvDuration(envPrefix+"INVITATION_DISPATCH_TIMEOUT", inv.DispatchTimeout)
	inv.WebhookURL = getEnv(envPrefix+"INVITATION_WEBHOOK_URL", inv.WebhookURL)
	inv.WebhookSecret = getEnv(envPrefix+"INVITATION_WEBHOOK_SECRET", inv.WebhookSecret)

	o := &cfg.Observability
	o.LogLevel = getEnv(envPrefix+"LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool(envPrefix+"METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool(envPrefix+"OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv(envPrefix+"OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv(envPrefix+"OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv(envPrefix+"OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool(envPrefix+"OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat(envPrefix+"OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.CacheEnabled && c.Storage.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive when the cache is enabled")
	}

	if c.Resolver.RouteKey == "" && c.Resolver.QueryKey == "" && c.Resolver.Header == "" {
		return fmt.Errorf("at least one organization resolver source is required")
	}

	if c.Invitations.Domain == "" {
		return fmt.Errorf("invitation domain is required")
	}
	if c.Invitations.Expiry <= 0 {
		return fmt.Errorf("invitation expiry must be positive")
	}
	if c.Invitations.CleanupSchedule != "" {
		if _, err := cron.ParseStandard(c.Invitations.CleanupSchedule); err != nil {
			return fmt.Errorf("invalid invitation cleanup schedule %q: %w", c.Invitations.CleanupSchedule, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "":
		return defaultValue
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
