// Package idgen mints 64-bit ids of the form
// (seconds since AnchorEpoch) << 32 | daily sequence.
// The sequence is a Redis counter per namespace and UTC calendar date.
package idgen

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/huykn/seckill-cache/storage"
)

const (
	// AnchorEpoch is 2022-01-01T00:00:00Z.
	AnchorEpoch int64 = 1640995200

	// SequenceBits is the width of the low sequence component.
	SequenceBits = 32

	// KeyPrefix is prepended to every counter key.
	KeyPrefix = "icr:"

	dateLayout = "2006:01:02"
)

// ErrSequenceOverflow is returned when a namespace issues more than
// 2^32-1 ids in one day.
var ErrSequenceOverflow = errors.New("daily id sequence exhausted")

// ErrClockBeforeAnchor is returned when the clock reads earlier than AnchorEpoch.
var ErrClockBeforeAnchor = errors.New("clock is before id anchor epoch")

// Generator issues ids backed by a shared store counter.
type Generator struct {
	store storage.Store
	now   func() time.Time
}

// New creates a Generator. A nil now uses time.Now.
func New(store storage.Store, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{store: store, now: now}
}

// NextID returns the next id for namespace. Ids within a namespace are unique;
// ids from a later second are always greater than ids from an earlier one.
func (g *Generator) NextID(ctx context.Context, namespace string) (int64, error) {
	now := g.now().UTC()
	elapsed := now.Unix() - AnchorEpoch
	if elapsed < 0 {
		return 0, ErrClockBeforeAnchor
	}

	seq, err := g.store.Incr(ctx, CounterKey(namespace, now))
	if err != nil {
		return 0, errors.Wrapf(err, "next id for %s", namespace)
	}
	if seq >= 1<<SequenceBits {
		return 0, ErrSequenceOverflow
	}

	return elapsed<<SequenceBits | seq, nil
}

// CounterKey returns the counter key for namespace on the UTC date of t.
func CounterKey(namespace string, t time.Time) string {
	return KeyPrefix + namespace + ":" + t.UTC().Format(dateLayout)
}

// Timestamp extracts the wall-clock second encoded in id.
func Timestamp(id int64) time.Time {
	return time.Unix(id>>SequenceBits+AnchorEpoch, 0).UTC()
}

// Sequence extracts the daily sequence encoded in id.
func Sequence(id int64) int64 {
	return id & (1<<SequenceBits - 1)
}
