package seckillcache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/huykn/seckill-cache/cache"
	"github.com/huykn/seckill-cache/idgen"
	"github.com/huykn/seckill-cache/lock"
	"github.com/huykn/seckill-cache/metrics"
	"github.com/huykn/seckill-cache/orderstore"
	"github.com/huykn/seckill-cache/seckill"
	"github.com/huykn/seckill-cache/storage"
	cachesync "github.com/huykn/seckill-cache/sync"
)

// Config configures a Toolkit. Fields tagged mapstructure can be loaded from
// a file or the environment with LoadConfig; the rest are set in code.
type Config struct {
	// PodID is the unique identifier for this pod/instance. It prefixes lock
	// tokens and lets a pod ignore its own invalidation events.
	PodID string `mapstructure:"pod_id" validate:"required"`

	// RedisAddr is the Redis server address (e.g., "localhost:6379").
	RedisAddr string `mapstructure:"redis_addr" validate:"required,hostname_port"`

	// RedisPassword is the optional Redis password.
	RedisPassword string `mapstructure:"redis_password"`

	// RedisDB is the Redis database number.
	RedisDB int `mapstructure:"redis_db" validate:"gte=0"`

	// EnableSync turns on pub/sub invalidation of near-cache entries. It is
	// required while the near-cache is on, otherwise an invalidation never
	// reaches the other pods.
	EnableSync bool `mapstructure:"enable_sync" validate:"required_unless=DisableLocalCache true"`

	// InvalidationChannel is the Redis pub/sub channel for cache invalidation.
	InvalidationChannel string `mapstructure:"invalidation_channel" validate:"required_if=EnableSync true"`

	// SerializationFormat specifies how values are serialized ("json" or "msgpack").
	SerializationFormat string `mapstructure:"serialization_format" validate:"oneof=json msgpack"`

	// LocalCacheConfig configures the near-cache.
	LocalCacheConfig LocalCacheConfig `mapstructure:"local_cache"`

	// DisableLocalCache turns the near-cache off.
	DisableLocalCache bool `mapstructure:"disable_local_cache"`

	NullTTL          time.Duration `mapstructure:"null_ttl" validate:"gt=0"`
	LockTTL          time.Duration `mapstructure:"lock_ttl" validate:"gt=0"`
	RebuildWorkers   int           `mapstructure:"rebuild_workers" validate:"gt=0"`
	RebuildQueueSize int           `mapstructure:"rebuild_queue_size" validate:"gte=0"`
	RebuildTimeout   time.Duration `mapstructure:"rebuild_timeout" validate:"gt=0"`

	// OrderDBPath is a SQLite file for vouchers and orders. When set and
	// OrderStore is nil, New opens it and enables the seckill coordinator.
	OrderDBPath string `mapstructure:"order_db_path"`

	OrderQueueSize   int           `mapstructure:"order_queue_size" validate:"gt=0"`
	OrderLockTTL     time.Duration `mapstructure:"order_lock_ttl" validate:"gt=0"`
	OrderLockWait    time.Duration `mapstructure:"order_lock_wait" validate:"gt=0"`
	OrderTaskTimeout time.Duration `mapstructure:"order_task_timeout" validate:"gt=0"`

	// MetricsNamespace prefixes every Prometheus metric name.
	MetricsNamespace string `mapstructure:"metrics_namespace"`

	// EnableMetrics enables metrics collection.
	EnableMetrics bool `mapstructure:"enable_metrics"`

	// DebugMode enables debug logging.
	DebugMode bool `mapstructure:"debug_mode"`

	// Registerer receives the metrics. If nil, prometheus.DefaultRegisterer is used.
	Registerer prometheus.Registerer `mapstructure:"-" validate:"-"`

	// LocalCacheFactory is the factory for creating local cache instances.
	// If nil, defaults to Ristretto factory.
	LocalCacheFactory LocalCacheFactory `mapstructure:"-" validate:"-"`

	// Marshaller is the marshaller for serialization.
	// If nil, SerializationFormat decides.
	Marshaller Marshaller `mapstructure:"-" validate:"-"`

	// Logger is the logger for debug logging.
	// If nil, defaults to no-op logger.
	Logger Logger `mapstructure:"-" validate:"-"`

	// OrderStore overrides OrderDBPath with a caller-owned store.
	OrderStore seckill.OrderStore `mapstructure:"-" validate:"-"`

	// OnMaterialized is called after the order worker handles each task.
	OnMaterialized func(task OrderTask, outcome CreateOutcome, err error) `mapstructure:"-"`

	// OnError is called when an error occurs in background operations.
	OnError func(error) `mapstructure:"-"`

	// Now overrides the clock of the cache and the id generator.
	Now func() time.Time `mapstructure:"-"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	cacheDefaults := cache.DefaultOptions()
	seckillDefaults := seckill.DefaultOptions()
	return Config{
		PodID:               "default-pod",
		RedisAddr:           "localhost:6379",
		RedisDB:             0,
		EnableSync:          true,
		InvalidationChannel: cachesync.DefaultChannel,
		SerializationFormat: "json",
		LocalCacheConfig:    DefaultLocalCacheConfig(),
		NullTTL:             cacheDefaults.NullTTL,
		LockTTL:             cacheDefaults.LockTTL,
		RebuildWorkers:      cacheDefaults.RebuildWorkers,
		RebuildQueueSize:    cacheDefaults.RebuildQueueSize,
		RebuildTimeout:      cacheDefaults.RebuildTimeout,
		OrderQueueSize:      seckillDefaults.QueueSize,
		OrderLockTTL:        seckillDefaults.LockTTL,
		OrderLockWait:       seckillDefaults.LockWait,
		OrderTaskTimeout:    seckillDefaults.TaskTimeout,
		MetricsNamespace:    "seckillcache",
		EnableMetrics:       true,
		LocalCacheFactory:   nil, // Will default to Ristretto in New()
		Marshaller:          nil, // Will default to SerializationFormat in New()
		Logger:              nil, // Will default to no-op in New()
	}
}

// Toolkit bundles every component built on one Redis connection.
type Toolkit struct {
	Store   *storage.RedisStore
	Locker  *lock.Locker
	IDs     *idgen.Generator
	Cache   *cache.Client
	Metrics *metrics.Collector

	// Seckill is nil unless an order store is configured.
	Seckill *seckill.Coordinator

	// Orders is the SQLite store opened from OrderDBPath, if any.
	Orders *orderstore.SQLiteStore

	logger Logger
}

// New connects to Redis and wires the cache, lock, id generator and, when an
// order store is configured, the seckill coordinator.
func New(cfg Config) (*Toolkit, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = NewNoOpLogger()
	}

	store, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, errors.Mark(err, ErrRedisConnection)
	}

	tk := &Toolkit{Store: store, logger: cfg.Logger}
	if err := tk.wire(cfg); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tk.Close(ctx)
		return nil, err
	}

	cfg.Logger.Info("Toolkit ready", "pod", cfg.PodID, "redis", cfg.RedisAddr, "seckill", tk.Seckill != nil)
	return tk, nil
}

func (tk *Toolkit) wire(cfg Config) error {
	if cfg.EnableMetrics {
		reg := cfg.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		tk.Metrics = metrics.NewCollector(cfg.MetricsNamespace, reg)
	}

	tk.Locker = lock.New(tk.Store, cfg.PodID, tk.Metrics)
	tk.IDs = idgen.New(tk.Store, cfg.Now)

	opts := cache.Options{
		PodID:               cfg.PodID,
		LocalCacheConfig:    cfg.LocalCacheConfig,
		LocalCacheFactory:   cfg.LocalCacheFactory,
		DisableLocalCache:   cfg.DisableLocalCache,
		SerializationFormat: cfg.SerializationFormat,
		Marshaller:          cfg.Marshaller,
		Logger:              cfg.Logger,
		DebugMode:           cfg.DebugMode,
		NullTTL:             cfg.NullTTL,
		LockTTL:             cfg.LockTTL,
		RebuildWorkers:      cfg.RebuildWorkers,
		RebuildQueueSize:    cfg.RebuildQueueSize,
		RebuildTimeout:      cfg.RebuildTimeout,
		Now:                 cfg.Now,
		Metrics:             tk.Metrics,
		OnError:             cfg.OnError,
	}
	if cfg.EnableSync {
		opts.Synchronizer = cachesync.NewPubSubSynchronizer(tk.Store.GetClient(), cfg.InvalidationChannel, cfg.PodID, cfg.Logger)
	}

	c, err := cache.New(tk.Store, tk.Locker, opts)
	if err != nil {
		return errors.Wrap(err, "create cache client")
	}
	tk.Cache = c

	orders := cfg.OrderStore
	if orders == nil && cfg.OrderDBPath != "" {
		tk.Orders, err = orderstore.NewSQLite(cfg.OrderDBPath, cfg.Logger)
		if err != nil {
			return errors.Wrap(err, "open order store")
		}
		orders = tk.Orders
	}
	if orders == nil {
		return nil
	}

	tk.Seckill, err = seckill.New(tk.Store, tk.Locker, tk.IDs, orders, seckill.Options{
		QueueSize:         cfg.OrderQueueSize,
		LockTTL:           cfg.OrderLockTTL,
		LockWait:          cfg.OrderLockWait,
		LockRetryInterval: seckill.DefaultOptions().LockRetryInterval,
		TaskTimeout:       cfg.OrderTaskTimeout,
		IDNamespace:       "order",
		Logger:            cfg.Logger,
		Metrics:           tk.Metrics,
		OnMaterialized:    cfg.OnMaterialized,
		OnError:           cfg.OnError,
	})
	if err != nil {
		return errors.Wrap(err, "create seckill coordinator")
	}
	return nil
}

// AddVoucher records a voucher's stock in the order store and makes the
// same stock reservable in Redis.
func (tk *Toolkit) AddVoucher(ctx context.Context, voucherID string, stock int64) error {
	if tk.Seckill == nil || tk.Orders == nil {
		return ErrSeckillDisabled
	}
	if err := tk.Orders.UpsertVoucher(ctx, voucherID, stock); err != nil {
		return err
	}
	return tk.preload(ctx, voucherID, stock)
}

// RestockFromStore preloads every voucher in the order store into Redis and
// returns how many were loaded. Each purchaser set is rebuilt from the
// saved orders.
func (tk *Toolkit) RestockFromStore(ctx context.Context) (int, error) {
	if tk.Seckill == nil || tk.Orders == nil {
		return 0, ErrSeckillDisabled
	}
	vouchers, err := tk.Orders.Vouchers(ctx)
	if err != nil {
		return 0, err
	}
	for i, v := range vouchers {
		if err := tk.preload(ctx, v.ID, v.Stock); err != nil {
			return i, err
		}
	}
	return len(vouchers), nil
}

func (tk *Toolkit) preload(ctx context.Context, voucherID string, stock int64) error {
	purchasers, err := tk.Orders.Purchasers(ctx, voucherID)
	if err != nil {
		return err
	}
	return tk.Seckill.PreloadVoucher(ctx, voucherID, stock, purchasers...)
}

// Submit forwards to the seckill coordinator.
func (tk *Toolkit) Submit(ctx context.Context, voucherID, purchaserID string) (int64, error) {
	if tk.Seckill == nil {
		return 0, ErrSeckillDisabled
	}
	return tk.Seckill.Submit(ctx, voucherID, purchaserID)
}

// Close drains the order queue, stops the cache and closes the stores it
// opened. It keeps going after an error and returns all of them combined.
func (tk *Toolkit) Close(ctx context.Context) error {
	var errs []error
	if tk.Seckill != nil {
		errs = append(errs, tk.Seckill.Close(ctx))
	}
	if tk.Cache != nil {
		errs = append(errs, tk.Cache.Close())
	}
	if tk.Orders != nil {
		errs = append(errs, tk.Orders.Close())
	}
	if tk.Store != nil {
		errs = append(errs, tk.Store.Close())
	}
	return errors.Join(errs...)
}
