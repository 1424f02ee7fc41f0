// Package seckill runs flash-sale purchases: an atomic stock reservation in
// Redis answers the caller, and a single worker turns accepted reservations
// into durable orders.
package seckill

import (
	"context"
	_ "embed"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/huykn/seckill-cache/lock"
	"github.com/huykn/seckill-cache/logger"
	"github.com/huykn/seckill-cache/metrics"
	"github.com/huykn/seckill-cache/storage"
	"github.com/huykn/seckill-cache/types"
)

const (
	StockKeyPrefix = "seckill:stock:"
	OrderKeyPrefix = "seckill:order:"

	// OrderLockPrefix scopes the worker's per-purchaser lock.
	OrderLockPrefix = "order:"

	maxLockRetryInterval = time.Second
)

var (
	//go:embed reserve.lua
	reserveSource string
	//go:embed compensate.lua
	compensateSource string
	//go:embed preload.lua
	preloadSource string

	reserveScript    = redis.NewScript(reserveSource)
	compensateScript = redis.NewScript(compensateSource)
	preloadScript    = redis.NewScript(preloadSource)
)

// IDSource mints order ids.
type IDSource interface {
	NextID(ctx context.Context, namespace string) (int64, error)
}

// Options configures a Coordinator.
type Options struct {
	// QueueSize bounds the number of reserved orders waiting to be persisted.
	QueueSize int

	// LockTTL bounds how long the worker holds a purchaser's lock.
	LockTTL time.Duration

	// LockWait bounds how long the worker waits for a purchaser's lock held
	// elsewhere. Keep it above LockTTL so an abandoned lock expires first.
	LockWait time.Duration

	// LockRetryInterval is the first pause between lock attempts. It doubles
	// up to maxLockRetryInterval.
	LockRetryInterval time.Duration

	// TaskTimeout bounds the persistence of one order.
	TaskTimeout time.Duration

	// IDNamespace is the id generator namespace for order ids.
	IDNamespace string

	Logger  logger.Logger
	Metrics *metrics.Collector

	// OnMaterialized is called by the worker after each task, with the
	// outcome and any error. Optional.
	OnMaterialized func(task types.OrderTask, outcome CreateOutcome, err error)

	// OnError is called when an error occurs in background operations.
	OnError func(error)
}

// DefaultOptions returns default coordinator options.
func DefaultOptions() Options {
	return Options{
		QueueSize:         1024,
		LockTTL:           30 * time.Second,
		LockWait:          45 * time.Second,
		LockRetryInterval: 20 * time.Millisecond,
		TaskTimeout:       10 * time.Second,
		IDNamespace:       "order",
	}
}

// Validate validates the options.
func (o *Options) Validate() error {
	if o.QueueSize <= 0 {
		return errors.Wrap(ErrInvalidOptions, "queue size must be positive")
	}
	if o.LockTTL <= 0 || o.TaskTimeout <= 0 {
		return errors.Wrap(ErrInvalidOptions, "lock ttl and task timeout must be positive")
	}
	if o.LockWait <= 0 || o.LockRetryInterval <= 0 {
		return errors.Wrap(ErrInvalidOptions, "lock wait and retry interval must be positive")
	}
	if o.IDNamespace == "" {
		return errors.Wrap(ErrInvalidOptions, "id namespace is required")
	}
	return nil
}

// Coordinator accepts purchases and persists them in the background.
type Coordinator struct {
	store   storage.Store
	locker  *lock.Locker
	ids     IDSource
	orders  OrderStore
	options Options
	logger  logger.Logger
	metrics *metrics.Collector

	queue chan types.OrderTask
	done  chan struct{}

	// mu orders Close against in-flight enqueues.
	mu     sync.RWMutex
	closed bool
}

// New creates a Coordinator and starts its order worker.
func New(store storage.Store, locker *lock.Locker, ids IDSource, orders OrderStore, opts Options) (*Coordinator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if store == nil || locker == nil || ids == nil || orders == nil {
		return nil, errors.Wrap(ErrInvalidOptions, "store, locker, id source and order store are required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOp()
	}

	c := &Coordinator{
		store:   store,
		locker:  locker,
		ids:     ids,
		orders:  orders,
		options: opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		queue:   make(chan types.OrderTask, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// StockKey returns the Redis key of a voucher's stock counter.
func StockKey(voucherID string) string { return StockKeyPrefix + voucherID }

// OrderKey returns the Redis key of a voucher's purchaser set.
func OrderKey(voucherID string) string { return OrderKeyPrefix + voucherID }

// PreloadVoucher sets a voucher's stock and replaces its purchaser set with
// purchasers in one script. Pass the purchasers that already hold an order
// for the voucher so they stay unable to reserve it again.
func (c *Coordinator) PreloadVoucher(ctx context.Context, voucherID string, stock int64, purchasers ...string) error {
	if stock < 0 {
		return errors.Newf("seckill: negative stock %d for voucher %s", stock, voucherID)
	}
	keys := []string{StockKey(voucherID), OrderKey(voucherID)}
	args := make([]any, 0, len(purchasers)+1)
	args = append(args, stock)
	for _, p := range purchasers {
		args = append(args, p)
	}
	if err := c.store.Run(ctx, preloadScript, keys, args...).Err(); err != nil {
		return errors.Wrapf(err, "preload voucher %s", voucherID)
	}
	c.logger.Info("Seckill: voucher preloaded", "voucher", voucherID, "stock", stock, "purchasers", len(purchasers))
	return nil
}

// Submit reserves one unit of voucherID for purchaserID and queues the order
// for persistence. It returns the order id as soon as the reservation holds;
// the order is not yet durable at that point. A rejected purchase returns a
// *RejectionError.
func (c *Coordinator) Submit(ctx context.Context, voucherID, purchaserID string) (int64, error) {
	if c.isClosed() {
		return 0, ErrCoordinatorClosed
	}

	keys := []string{StockKey(voucherID), OrderKey(voucherID)}
	res, err := c.store.Run(ctx, reserveScript, keys, purchaserID).Int64()
	if err != nil {
		return 0, errors.Wrapf(err, "reserve voucher %s", voucherID)
	}

	code := types.ReservationCode(res)
	c.metrics.Reservation(code.String())
	switch code {
	case types.Reserved:
	case types.NoStock, types.Duplicate:
		return 0, &RejectionError{Code: code, VoucherID: voucherID, PurchaserID: purchaserID}
	default:
		return 0, errors.Wrapf(ErrUnexpectedCode, "code %d", res)
	}

	orderID, err := c.ids.NextID(ctx, c.options.IDNamespace)
	if err != nil {
		c.compensate(voucherID, purchaserID)
		return 0, errors.Wrap(err, "mint order id")
	}

	task := types.OrderTask{OrderID: orderID, PurchaserID: purchaserID, VoucherID: voucherID}
	if err := c.enqueue(task); err != nil {
		c.compensate(voucherID, purchaserID)
		c.logger.Error("Seckill: reservation rolled back", "voucher", voucherID, "purchaser", purchaserID, "error", err)
		return 0, err
	}
	return orderID, nil
}

// Close stops accepting purchases and waits until every queued order has
// been handled or ctx is done.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for order worker")
	}
}

// Pending returns the number of queued orders.
func (c *Coordinator) Pending() int {
	return len(c.queue)
}

func (c *Coordinator) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func (c *Coordinator) enqueue(task types.OrderTask) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrCoordinatorClosed
	}
	select {
	case c.queue <- task:
		c.metrics.QueueDepth(len(c.queue))
		return nil
	default:
		return errors.Wrapf(ErrQueueOverloaded, "capacity %d", cap(c.queue))
	}
}

// compensate gives back a reservation that will never be persisted.
func (c *Coordinator) compensate(voucherID, purchaserID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.options.TaskTimeout)
	defer cancel()

	keys := []string{StockKey(voucherID), OrderKey(voucherID)}
	if err := c.store.Run(ctx, compensateScript, keys, purchaserID).Err(); err != nil {
		c.reportError(err)
		c.logger.Error("Seckill: failed to restore reservation", "voucher", voucherID, "purchaser", purchaserID, "error", err)
	}
}

func (c *Coordinator) run() {
	defer close(c.done)
	for task := range c.queue {
		c.metrics.QueueDepth(len(c.queue))
		c.materialize(task)
	}
}

func (c *Coordinator) materialize(task types.OrderTask) {
	outcome, err := c.persist(task)
	c.metrics.Order(outcome.String())

	switch {
	case err != nil:
		c.reportError(err)
		c.logger.Error("Seckill: order dropped", "order", task.OrderID, "voucher", task.VoucherID, "purchaser", task.PurchaserID, "error", err)
	case outcome != OutcomeCreated:
		c.logger.Warn("Seckill: order store disagrees with reservation, order dropped",
			"order", task.OrderID, "voucher", task.VoucherID, "purchaser", task.PurchaserID, "outcome", outcome.String())
	default:
		c.logger.Debug("Seckill: order persisted", "order", task.OrderID, "voucher", task.VoucherID)
	}

	if c.options.OnMaterialized != nil {
		c.options.OnMaterialized(task, outcome, err)
	}
}

func (c *Coordinator) persist(task types.OrderTask) (CreateOutcome, error) {
	lease, err := c.acquirePurchaser(task.PurchaserID)
	if err != nil {
		return OutcomeFailed, err
	}
	defer c.releasePurchaser(lease)

	ctx, cancel := context.WithTimeout(context.Background(), c.options.TaskTimeout)
	defer cancel()
	return CreateOrderIfAbsent(ctx, c.orders, task)
}

// acquirePurchaser waits for the purchaser's lock with a doubling pause
// between attempts. Failed attempts are retried until LockWait runs out.
func (c *Coordinator) acquirePurchaser(purchaserID string) (*lock.Lease, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.options.LockWait)
	defer cancel()

	name := OrderLockPrefix + purchaserID
	delay := c.options.LockRetryInterval
	var lastErr error
	for attempt := 1; ; attempt++ {
		lease, acquired, err := c.locker.TryAcquire(ctx, name, c.options.LockTTL)
		if err == nil && acquired {
			return lease, nil
		}
		if err != nil && ctx.Err() == nil {
			lastErr = err
		}
		if attempt == 1 {
			c.logger.Debug("Seckill: waiting for purchaser lock", "lock", name, "error", err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			busy := errors.Wrapf(ErrPurchaserBusy, "purchaser %s after %d attempts", purchaserID, attempt)
			if lastErr != nil {
				busy = errors.WithSecondaryError(busy, lastErr)
			}
			return nil, busy
		case <-timer.C:
		}
		if delay *= 2; delay > maxLockRetryInterval {
			delay = maxLockRetryInterval
		}
	}
}

func (c *Coordinator) releasePurchaser(lease *lock.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), c.options.LockTTL)
	defer cancel()
	if _, err := lease.Release(ctx); err != nil {
		c.reportError(err)
		c.logger.Warn("Seckill: failed to release purchaser lock, it will expire",
			"lock", lease.Name(), "ttl", lease.TTL(), "error", err)
	}
}

func (c *Coordinator) reportError(err error) {
	if c.options.OnError != nil {
		c.options.OnError(err)
	}
}

// parseStock reads a stock counter value.
func parseStock(raw []byte) (int64, error) {
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse stock %q", raw)
	}
	return n, nil
}

// Stock returns the voucher's remaining reservable stock in Redis.
func (c *Coordinator) Stock(ctx context.Context, voucherID string) (int64, error) {
	raw, err := c.store.Get(ctx, StockKey(voucherID))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseStock(raw)
}

// HasReservation reports whether purchaserID holds a reservation for voucherID.
func (c *Coordinator) HasReservation(ctx context.Context, voucherID, purchaserID string) (bool, error) {
	return c.store.SIsMember(ctx, OrderKey(voucherID), purchaserID)
}
