// Package lock implements a Redis-backed mutual-exclusion lock that is safe
// across processes. Acquisition is a single SET NX with expiry; release is a
// compare-and-delete script keyed on the owner token.
package lock

import (
	"context"
	_ "embed"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/huykn/seckill-cache/metrics"
	"github.com/huykn/seckill-cache/storage"
)

// KeyPrefix is prepended to every resource name.
const KeyPrefix = "lock:"

//go:embed unlock.lua
var unlockSource string

var unlockScript = redis.NewScript(unlockSource)

// ErrInvalidTTL is returned when a lock is requested without a positive TTL.
var ErrInvalidTTL = errors.New("lock ttl must be positive")

// Locker hands out leases on named resources.
type Locker struct {
	store   storage.Store
	owner   string
	metrics *metrics.Collector
}

// New creates a Locker. owner identifies this process instance and prefixes
// every token it issues; an empty owner gets a random one.
func New(store storage.Store, owner string, collector *metrics.Collector) *Locker {
	if owner == "" {
		owner = uuid.NewString()
	}
	return &Locker{
		store:   store,
		owner:   owner,
		metrics: collector,
	}
}

// Lease is a held lock. It is returned only by a successful TryAcquire.
type Lease struct {
	locker *Locker
	name   string
	token  string
	ttl    time.Duration
}

// Name returns the resource name.
func (l *Lease) Name() string { return l.name }

// Token returns the owner token stored under the lock key.
func (l *Lease) Token() string { return l.token }

// TTL returns the expiry the lease was acquired with.
func (l *Lease) TTL() time.Duration { return l.ttl }

// Release deletes the lock if it is still held by this lease.
// It reports whether the key was deleted.
func (l *Lease) Release(ctx context.Context) (bool, error) {
	return l.locker.Release(ctx, l.name, l.token)
}

// TryAcquire attempts to take the lock on name once. It never blocks or
// retries; a contended lock yields (nil, false, nil).
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}

	token := l.owner + ":" + uuid.NewString()
	ok, err := l.store.SetNX(ctx, Key(name), []byte(token), ttl)
	if err != nil {
		return nil, false, errors.Wrapf(err, "acquire lock %s", name)
	}
	l.metrics.LockAttempt(ok)
	if !ok {
		return nil, false, nil
	}

	return &Lease{
		locker: l,
		name:   name,
		token:  token,
		ttl:    ttl,
	}, true, nil
}

// Release deletes the lock on name only if it currently holds token.
// A mismatched token leaves the lock untouched.
func (l *Locker) Release(ctx context.Context, name, token string) (bool, error) {
	n, err := l.store.Run(ctx, unlockScript, []string{Key(name)}, token).Int64()
	if err != nil {
		return false, errors.Wrapf(err, "release lock %s", name)
	}
	return n == 1, nil
}

// Key returns the store key for a resource name.
func Key(name string) string {
	return KeyPrefix + name
}
