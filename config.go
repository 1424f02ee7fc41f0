package seckillcache

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. SECKILL_REDIS_ADDR or
// SECKILL_LOCAL_CACHE_MAX_SIZE.
const EnvPrefix = "SECKILL"

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads configuration from path (any format viper understands)
// on top of DefaultConfig, then applies SECKILL_* environment overrides.
// An empty path loads defaults and environment only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every file-backed key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("pod_id", d.PodID)
	v.SetDefault("redis_addr", d.RedisAddr)
	v.SetDefault("redis_password", d.RedisPassword)
	v.SetDefault("redis_db", d.RedisDB)
	v.SetDefault("enable_sync", d.EnableSync)
	v.SetDefault("invalidation_channel", d.InvalidationChannel)
	v.SetDefault("serialization_format", d.SerializationFormat)
	v.SetDefault("local_cache.num_counters", d.LocalCacheConfig.NumCounters)
	v.SetDefault("local_cache.max_cost", d.LocalCacheConfig.MaxCost)
	v.SetDefault("local_cache.buffer_items", d.LocalCacheConfig.BufferItems)
	v.SetDefault("local_cache.ignore_internal_cost", d.LocalCacheConfig.IgnoreInternalCost)
	v.SetDefault("local_cache.max_size", d.LocalCacheConfig.MaxSize)
	v.SetDefault("disable_local_cache", d.DisableLocalCache)
	v.SetDefault("null_ttl", d.NullTTL)
	v.SetDefault("lock_ttl", d.LockTTL)
	v.SetDefault("rebuild_workers", d.RebuildWorkers)
	v.SetDefault("rebuild_queue_size", d.RebuildQueueSize)
	v.SetDefault("rebuild_timeout", d.RebuildTimeout)
	v.SetDefault("order_db_path", d.OrderDBPath)
	v.SetDefault("order_queue_size", d.OrderQueueSize)
	v.SetDefault("order_lock_ttl", d.OrderLockTTL)
	v.SetDefault("order_lock_wait", d.OrderLockWait)
	v.SetDefault("order_task_timeout", d.OrderTaskTimeout)
	v.SetDefault("metrics_namespace", d.MetricsNamespace)
	v.SetDefault("enable_metrics", d.EnableMetrics)
	v.SetDefault("debug_mode", d.DebugMode)
}

// Validate checks the configuration. Failures are marked ErrInvalidConfig.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Mark(errors.Wrap(err, "invalid configuration"), ErrInvalidConfig)
	}
	return nil
}
