package orgcache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/passportd/pkg/observability"
	"github.com/platinummonkey/passportd/pkg/orgs"
)

// DefaultTTL bounds how stale a cached organization or membership may be
const DefaultTTL = 15 * time.Minute

// ErrNilSource is returned when a cache is built without a source directory
var ErrNilSource = errors.New("orgcache: source directory is required")

// Backend is a shared key/value store with TTL. Get returns nil, nil on a miss.
// postgres.RedisClient implements it.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Config for the organization cache
type Config struct {
	TTL time.Duration
	// L1Size is the number of entries kept in process
	L1Size int
	// Backend is the optional shared tier
	Backend Backend
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

// Cache memoizes organization and membership lookups in front of a source
// directory: an in-process expirable LRU first, then the shared backend. The
// source stays authoritative; failures of either tier fall through to it.
type Cache struct {
	source  orgs.Directory
	l1      *lru.LRU[string, []byte]
	backend Backend
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache over source
func New(source orgs.Directory, cfg Config) (*Cache, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.L1Size <= 0 {
		cfg.L1Size = 1024
	}

	return &Cache{
		source:  source,
		l1:      lru.NewLRU[string, []byte](cfg.L1Size, nil, cfg.TTL),
		backend: cfg.Backend,
		ttl:     cfg.TTL,
		metrics: cfg.Metrics,
		logger:  observability.OrDefault(cfg.Logger).WithField("component", "orgcache"),
	}, nil
}

// Key types, used as metric labels
const (
	keyTypeOrganization  = "organization"
	keyTypeMembership    = "membership"
	keyTypePlatformAdmin = "platform_admin"
)

func organizationKey(sel orgs.Selector) string {
	return "org:" + sel.Key()
}

func membershipKey(orgID, userID uuid.UUID) string {
	return "membership:" + orgID.String() + ":" + userID.String()
}

const platformAdminKey = "org:platform_admin"

// Organization implements orgs.Directory
func (c *Cache) Organization(ctx context.Context, sel orgs.Selector) (*orgs.Organization, error) {
	return getOrCompute(ctx, c, organizationKey(sel), keyTypeOrganization, func(ctx context.Context) (*orgs.Organization, error) {
		return c.source.Organization(ctx, sel)
	})
}

// Membership implements orgs.Directory
func (c *Cache) Membership(ctx context.Context, orgID, userID uuid.UUID) (*orgs.Membership, error) {
	return getOrCompute(ctx, c, membershipKey(orgID, userID), keyTypeMembership, func(ctx context.Context) (*orgs.Membership, error) {
		return c.source.Membership(ctx, orgID, userID)
	})
}

// PlatformAdminOrganization implements orgs.Directory. The configuration error
// for a missing organization is never cached.
func (c *Cache) PlatformAdminOrganization(ctx context.Context) (*orgs.Organization, error) {
	return getOrCompute(ctx, c, platformAdminKey, keyTypePlatformAdmin, c.source.PlatformAdminOrganization)
}

// CountActiveMembers implements orgs.Directory. Seat counts are not cached.
func (c *Cache) CountActiveMembers(ctx context.Context, orgID uuid.UUID) (int, error) {
	return c.source.CountActiveMembers(ctx, orgID)
}

// InvalidateOrganization implements orgs.Invalidator
func (c *Cache) InvalidateOrganization(ctx context.Context, org *orgs.Organization) {
	if org == nil {
		return
	}
	c.delete(ctx,
		organizationKey(orgs.ByID(org.ID)),
		organizationKey(orgs.BySlug(org.Slug)),
		platformAdminKey,
	)
}

// InvalidateMembership implements orgs.Invalidator
func (c *Cache) InvalidateMembership(ctx context.Context, orgID, userID uuid.UUID) {
	c.delete(ctx, membershipKey(orgID, userID))
}

func (c *Cache) delete(ctx context.Context, keys ...string) {
	for _, key := range keys {
		c.l1.Remove(key)
	}
	if c.backend == nil {
		return
	}
	if err := c.backend.Del(ctx, keys...); err != nil {
		c.recordError("delete")
		c.logger.WithError(err).Warn("failed to invalidate cache entries")
	}
}

// Stats reports lookup counters since construction
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	ItemCount int     `json:"item_count"`
	HitRate   float64 `json:"hit_rate"`
}

// Stats returns cache statistics
func (c *Cache) Stats() Stats {
	stats := Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: c.l1.Len(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Purge drops every in-process entry
func (c *Cache) Purge() {
	c.l1.Purge()
}

// getOrCompute returns the cached value of key, or computes, stores and returns
// it. Errors from compute are returned as is and not cached.
func getOrCompute[T any](ctx context.Context, c *Cache, key, keyType string, compute func(context.Context) (*T, error)) (*T, error) {
	if raw, ok := c.l1.Get(key); ok {
		if value, err := decode[T](raw); err == nil {
			c.recordHit("l1", keyType)
			return value, nil
		}
		c.l1.Remove(key)
	}

	if c.backend != nil {
		raw, err := c.backend.Get(ctx, key)
		switch {
		case err != nil:
			c.recordError("get")
			c.logger.WithError(err).WithField("key", key).Warn("cache backend read failed")
		case raw != nil:
			if value, err := decode[T](raw); err == nil {
				c.l1.Add(key, raw)
				c.recordHit("l2", keyType)
				return value, nil
			}
		}
	}

	c.recordMiss(keyType)
	value, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		c.recordError("encode")
		return value, nil
	}
	c.l1.Add(key, raw)
	if c.backend != nil {
		if err := c.backend.Set(ctx, key, raw, c.ttl); err != nil {
			c.recordError("set")
			c.logger.WithError(err).WithField("key", key).Warn("cache backend write failed")
		}
	}
	return value, nil
}

func decode[T any](raw []byte) (*T, error) {
	value := new(T)
	if err := json.Unmarshal(raw, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (c *Cache) recordHit(tier, keyType string) {
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(tier, keyType).Inc()
	}
}

func (c *Cache) recordMiss(keyType string) {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues(keyType).Inc()
	}
}

func (c *Cache) recordError(operation string) {
	if c.metrics != nil {
		c.metrics.CacheErrorsTotal.WithLabelValues(operation).Inc()
	}
}
