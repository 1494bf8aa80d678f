package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/passportd/pkg/api"
	"github.com/platinummonkey/passportd/pkg/apperr"
	"github.com/platinummonkey/passportd/pkg/audit"
	"github.com/platinummonkey/passportd/pkg/auth"
	"github.com/platinummonkey/passportd/pkg/config"
	"github.com/platinummonkey/passportd/pkg/httputil"
	"github.com/platinummonkey/passportd/pkg/invites"
	"github.com/platinummonkey/passportd/pkg/middleware"
	"github.com/platinummonkey/passportd/pkg/observability"
	"github.com/platinummonkey/passportd/pkg/orgcache"
	"github.com/platinummonkey/passportd/pkg/orgs"
	"github.com/platinummonkey/passportd/pkg/passport"
	"github.com/platinummonkey/passportd/pkg/storage"
	"github.com/platinummonkey/passportd/pkg/storage/postgres"
	"github.com/platinummonkey/passportd/pkg/users"
)

// dbStatsSchedule is how often connection pool gauges are refreshed
const dbStatsSchedule = "@every 30s"

// app holds the wired services of a running passportd
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	conns    *postgres.ConnectionManager
	redis    *postgres.RedisClient
	registry *prometheus.Registry
	metrics  *observability.Metrics

	dir       orgs.Directory
	orgs      *orgs.Service
	invites   *invites.Service
	passports *passport.Service
	server    *api.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfigFrom(cfg.Storage), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, conns: conns}

	db := conns.Primary()
	if cfg.Storage.AutoMigrate {
		applied, err := postgres.Migrate(ctx, db)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.WithField("applied", len(applied)).Info("database migrations complete")
	}

	if cfg.Storage.RedisURL != "" {
		a.redis, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.registry = prometheus.NewRegistry()
	a.metrics = observability.NewMetrics(a.registry)

	if err := a.wire(db, conns.Reader()); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// wire builds the services over db. reader serves listing and search queries.
func (a *app) wire(db *sql.DB, reader storage.DBTX) error {
	cfg, logger := a.cfg, a.logger

	store := orgs.NewStore(db)
	a.dir = store
	orgOpts := []orgs.Option{
		orgs.WithDeleteHook(passport.CascadeOrganizationDelete),
		orgs.WithReadReplica(reader),
		orgs.WithLogger(logger),
	}
	inviteOpts := []invites.Option{
		invites.WithMetrics(a.metrics),
		invites.WithLogger(logger),
	}
	if cfg.Invitations.WebhookURL != "" {
		inviteOpts = append(inviteOpts, invites.WithNotifier(invites.NewWebhookNotifier(
			cfg.Invitations.WebhookURL, cfg.Invitations.WebhookSecret, invites.DefaultRetryConfig(), logger)))
	}

	if cfg.Storage.CacheEnabled {
		cacheCfg := orgcache.Config{
			TTL:     cfg.Storage.CacheTTL,
			L1Size:  cfg.Storage.L1CacheSize,
			Metrics: a.metrics,
			Logger:  logger,
		}
		if a.redis != nil {
			cacheCfg.Backend = a.redis
		}
		cache, err := orgcache.New(store, cacheCfg)
		if err != nil {
			return fmt.Errorf("failed to create organization cache: %w", err)
		}
		a.dir = cache
		orgOpts = append(orgOpts, orgs.WithInvalidator(cache))
		inviteOpts = append(inviteOpts, invites.WithInvalidator(cache))
	}

	a.orgs = orgs.NewService(db, orgOpts...)
	a.invites = invites.NewService(db, cfg.Invitations, inviteOpts...)
	a.orgs.SetInviter(a.invites)
	a.passports = passport.NewService(db, a.metrics, logger).WithReplica(reader)

	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	var throttle *middleware.Throttle
	if a.redis != nil {
		throttle = middleware.NewThrottle(a.redis.GetClient(), middleware.DefaultThrottleConfig(), "passportd:throttle", logger)
	}

	a.server = api.NewServer(api.Config{
		Orgs:      a.orgs,
		Directory: a.dir,
		Passports: a.passports,
		Invites:   a.invites,
		Users:     users.NewStore(db),
		Tokens:    auth.NewTokenManager(db),
		Resolver:  middleware.NewResolver(a.dir, cfg.Resolver, logger),
		RouteKey:  cfg.Resolver.RouteKey,
		Throttle:  throttle,
		Audit:     audit.NewMultiLogger(audit.NewSlogLogger(logger), dbAudit),
		Metrics:   a.metrics,
		Logger:    logger,
	})
	return nil
}

// handler is the API with the request pipeline around it
func (a *app) handler() http.Handler {
	chain := httputil.Chain(
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware(a.logger),
		httputil.LoggingMiddleware,
		observability.HTTPMetricsMiddleware(a.metrics),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(a.cfg.Server.MaxBodyBytes),
	)
	return otelhttp.NewHandler(chain(a.server), "passportd")
}

// healthHandler serves probes and metrics on the health port
func (a *app) healthHandler() http.Handler {
	mux := http.NewServeMux()
	var checker *observability.HealthChecker
	if a.redis != nil {
		checker = observability.NewHealthChecker(a.conns.Primary(), a.redis.GetClient())
	} else {
		checker = observability.NewHealthChecker(a.conns.Primary(), nil)
	}
	checker = checker.WithVersion(a.cfg.Observability.OTelServiceVersion).WithMetrics(a.metrics)
	if a.cfg.Storage.PostgresReplicaURLs != "" {
		checker = checker.WithReplicaCheck(a.conns.HealthCheck)
	}
	observability.RegisterHealthRoutes(mux, checker)
	if a.cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(mux, a.registry)
	}
	return mux
}

// scheduler registers the periodic jobs. The caller starts and stops it.
func (a *app) scheduler() (*cron.Cron, error) {
	c := cron.New()
	if schedule := a.cfg.Invitations.CleanupSchedule; schedule != "" {
		if _, err := c.AddFunc(schedule, a.cleanupInvitations); err != nil {
			return nil, fmt.Errorf("failed to schedule invitation cleanup: %w", err)
		}
	}
	if _, err := c.AddFunc(dbStatsSchedule, func() {
		a.metrics.RecordDBStats(a.conns.Primary().Stats())
	}); err != nil {
		return nil, fmt.Errorf("failed to schedule pool metrics: %w", err)
	}
	return c, nil
}

func (a *app) cleanupInvitations() {
	defer observability.RecoverPanic(a.logger, "invitation cleanup")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	removed, err := a.invites.CleanupExpired(ctx)
	if err != nil {
		a.logger.WithError(err).Error("invitation cleanup failed")
		return
	}
	a.logger.WithField("removed", removed).Info("invitation cleanup complete")
}

// Close releases the database and cache connections
func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.conns != nil {
		errs = append(errs, a.conns.Close())
	}
	return errors.Join(errs...)
}

// checkPlatformAdmin verifies the platform-admin organization exists. A
// missing one aborts startup unless required is false.
func checkPlatformAdmin(ctx context.Context, svc *orgs.Service, required bool, logger *observability.Logger) error {
	org, err := svc.PlatformAdminOrganization(ctx)
	switch {
	case err == nil:
		logger.WithField("organization", org.Slug).Info("platform administrator organization found")
		return nil
	case apperr.Is(err, apperr.KindConfigurationFatal) && !required:
		logger.WithError(err).Warn("continuing without a platform administrator organization")
		return nil
	case apperr.Is(err, apperr.KindConfigurationFatal):
		return fmt.Errorf("%w; run passportctl create-default-admin or set PASSPORTD_REQUIRE_PLATFORM_ADMIN=false", err)
	default:
		return fmt.Errorf("failed to look up the platform administrator organization: %w", err)
	}
}
