package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/passportd/pkg/observability"
)

// ThrottleConfig defines a fixed-window request limit
type ThrottleConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// DefaultThrottleConfig limits credential endpoints per client address
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		RequestsPerWindow: 20,
		WindowDuration:    time.Minute,
	}
}

// Throttle limits requests per client address using shared redis counters,
// so the limit holds across instances. It fails open on redis errors.
type Throttle struct {
	redis  *redis.Client
	config ThrottleConfig
	prefix string
	logger *observability.Logger
}

// NewThrottle creates a redis-backed throttle; prefix namespaces its keys
func NewThrottle(client *redis.Client, config ThrottleConfig, prefix string, logger *observability.Logger) *Throttle {
	if config.RequestsPerWindow <= 0 || config.WindowDuration <= 0 {
		config = DefaultThrottleConfig()
	}
	if prefix == "" {
		prefix = "passportd:throttle"
	}
	return &Throttle{
		redis:  client,
		config: config,
		prefix: prefix,
		logger: observability.OrDefault(logger),
	}
}

// Allow counts one request for key and reports whether it is under the limit
func (t *Throttle) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := t.prefix + ":" + key

	count, err := t.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}
	// The first request opens the window
	if count == 1 {
		if err := t.redis.Expire(ctx, redisKey, t.config.WindowDuration).Err(); err != nil {
			return true, fmt.Errorf("redis error: %w", err)
		}
	}

	return count <= int64(t.config.RequestsPerWindow), nil
}

// Handler wraps an HTTP handler with the throttle
func (t *Throttle) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := t.Allow(r.Context(), clientIP(r))
		if err != nil {
			t.logger.WithError(err).Warn("throttle unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", t.config.WindowDuration.Seconds()))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limited","message":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first X-Forwarded-For hop, then the remote address
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
