// Package config loads passportd configuration.
//
// Values are layered: built-in defaults, then an optional YAML file named by
// PASSPORTD_CONFIG_FILE, then PASSPORTD_* environment variables.
//
//	server:
//	  port: "8080"
//	  health_port: "9090"
//	storage:
//	  postgres_url: postgres://passportd@db/passportd?sslmode=disable
//	  redis_url: redis://cache:6379/0
//	  cache_ttl: 15m
//	resolver:
//	  header: X-Organization-ID
//	invitations:
//	  domain: passports.example.cd
//	  expiry: 72h
//	  cleanup_schedule: "@hourly"
//
// Common environment variables:
//
//	PASSPORTD_POSTGRES_URL
//	PASSPORTD_REDIS_URL
//	PASSPORTD_CACHE_TTL
//	PASSPORTD_INVITATION_DOMAIN
//	PASSPORTD_REQUIRE_PLATFORM_ADMIN
//	PASSPORTD_LOG_LEVEL
package config
