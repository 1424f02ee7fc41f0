package seckillcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "default-pod", cfg.PodID)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "json", cfg.SerializationFormat)
	assert.Equal(t, 2*time.Minute, cfg.NullTTL)
	assert.Equal(t, 10, cfg.RebuildWorkers)
	assert.Equal(t, 1024, cfg.OrderQueueSize)
	assert.True(t, cfg.EnableMetrics)
	assert.True(t, cfg.EnableSync)
	assert.False(t, cfg.DisableLocalCache)
	assert.Equal(t, 45*time.Second, cfg.OrderLockWait)
	assert.Nil(t, cfg.Logger)
	assert.Nil(t, cfg.Marshaller)
	assert.Nil(t, cfg.LocalCacheFactory)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing pod", func(c *Config) { c.PodID = "" }},
		{"bad address", func(c *Config) { c.RedisAddr = "localhost" }},
		{"negative db", func(c *Config) { c.RedisDB = -1 }},
		{"unknown format", func(c *Config) { c.SerializationFormat = "xml" }},
		{"sync without channel", func(c *Config) { c.EnableSync = true; c.InvalidationChannel = "" }},
		{"near-cache without sync", func(c *Config) { c.EnableSync = false }},
		{"zero order lock wait", func(c *Config) { c.OrderLockWait = 0 }},
		{"zero null ttl", func(c *Config) { c.NullTTL = 0 }},
		{"no rebuild workers", func(c *Config) { c.RebuildWorkers = 0 }},
		{"no order queue", func(c *Config) { c.OrderQueueSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigWithoutNearCacheNeedsNoSync(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableSync = false
	cfg.DisableLocalCache = true
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seckill.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pod_id: pod-a
redis_addr: redis.internal:6380
serialization_format: msgpack
null_ttl: 30s
enable_sync: true
local_cache:
  max_size: 500
order_db_path: /var/lib/seckill/orders.db
`), 0o600))

	t.Setenv("SECKILL_REDIS_DB", "3")
	t.Setenv("SECKILL_ORDER_QUEUE_SIZE", "64")
	t.Setenv("SECKILL_LOCAL_CACHE_BUFFER_ITEMS", "32")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "pod-a", cfg.PodID)
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "msgpack", cfg.SerializationFormat)
	assert.Equal(t, 30*time.Second, cfg.NullTTL)
	assert.True(t, cfg.EnableSync)
	assert.Equal(t, 500, cfg.LocalCacheConfig.MaxSize)
	assert.Equal(t, int64(32), cfg.LocalCacheConfig.BufferItems)
	assert.Equal(t, 64, cfg.OrderQueueSize)
	assert.Equal(t, "/var/lib/seckill/orders.db", cfg.OrderDBPath)

	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultConfig().LockTTL, cfg.LockTTL)
	assert.Equal(t, DefaultConfig().LocalCacheConfig.NumCounters, cfg.LocalCacheConfig.NumCounters)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	t.Setenv("SECKILL_POD_ID", "pod-env")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "pod-env", cfg.PodID)
	assert.Equal(t, DefaultConfig().RedisAddr, cfg.RedisAddr)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("SECKILL_SERIALIZATION_FORMAT", "xml")
	_, err = LoadConfig("")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	t.Setenv("SECKILL_SERIALIZATION_FORMAT", "json")
	t.Setenv("SECKILL_ENABLE_SYNC", "false")
	_, err = LoadConfig("")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
