package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/passportd/pkg/storage"
)

// setupRedisClientTest creates a miniredis instance and returns the client and cleanup function
func setupRedisClientTest(t *testing.T) (*RedisClient, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	config := storage.Config{
		RedisURL:        "redis://" + mr.Addr(),
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		RedisKeyPrefix:  "passportd:",
	}

	client, err := NewRedisClient(config)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create Redis client: %v", err)
	}

	cleanup := func() {
		client.Close()
		mr.Close()
	}
	return client, mr, cleanup
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(storage.Config{RedisURL: "invalid://url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis URL")
}

func TestRedisOptions(t *testing.T) {
	opts, err := redisOptions(storage.Config{
		RedisURL:        "redis://:urlpass@cache.internal:6380/2",
		RedisPassword:   "override",
		RedisMaxRetries: 5,
		RedisPoolSize:   7,
	})
	require.NoError(t, err)

	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "override", opts.Password)
	assert.Equal(t, 2, opts.DB, "db from URL is kept when config leaves it unset")
	assert.Equal(t, 5, opts.MaxRetries)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, redisConnectTimeout, opts.DialTimeout)
}

func TestNewRedisClient_ConnectionFailure(t *testing.T) {
	_, err := NewRedisClient(storage.Config{RedisURL: "redis://localhost:1", RedisDB: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestRedisClient_GetSetDel(t *testing.T) {
	client, mr, cleanup := setupRedisClientTest(t)
	defer cleanup()

	ctx := context.Background()

	t.Run("miss returns nil", func(t *testing.T) {
		data, err := client.Get(ctx, "org:slug:acme")
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("set then get uses prefixed key", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "org:slug:acme", []byte(`{"slug":"acme"}`), time.Minute))

		data, err := client.Get(ctx, "org:slug:acme")
		require.NoError(t, err)
		assert.JSONEq(t, `{"slug":"acme"}`, string(data))
		assert.True(t, mr.Exists("passportd:org:slug:acme"))
	})

	t.Run("ttl expires entry", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "short", []byte("1"), time.Second))
		mr.FastForward(2 * time.Second)

		data, err := client.Get(ctx, "short")
		require.NoError(t, err)
		assert.Nil(t, data)
	})

	t.Run("del removes keys", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "a", []byte("1"), time.Minute))
		require.NoError(t, client.Set(ctx, "b", []byte("2"), time.Minute))
		require.NoError(t, client.Del(ctx, "a", "b"))
		require.NoError(t, client.Del(ctx))

		assert.False(t, mr.Exists("passportd:a"))
		assert.False(t, mr.Exists("passportd:b"))
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, client.Ping(ctx))
		assert.NotNil(t, client.GetClient())
	})
}
