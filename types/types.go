package types

import "time"

// Action identifies what an InvalidationEvent asks receiving pods to do.
type Action string

const (
	Invalidate Action = "invalidate"
	Delete     Action = "delete"
	Clear      Action = "clear"
)

// InvalidationEvent represents a near-cache synchronization event.
// Receivers drop their local copy of Key.
type InvalidationEvent struct {
	Key    string `json:"key"`
	Sender string `json:"sender"`
	Action Action `json:"action"`
}

// LogicalEntry is the envelope written for logically expiring keys.
// It is stored without a Redis TTL; readers compare ExpireAt themselves.
type LogicalEntry struct {
	Data     []byte    `json:"data" msgpack:"data"`
	ExpireAt time.Time `json:"expireAt" msgpack:"expireAt"`
}

// Expired reports whether the entry is logically stale at now.
func (e LogicalEntry) Expired(now time.Time) bool {
	return !e.ExpireAt.After(now)
}

// ReservationCode is the result of the atomic reservation script.
type ReservationCode int64

const (
	Reserved  ReservationCode = 0
	NoStock   ReservationCode = 1
	Duplicate ReservationCode = 2
)

func (c ReservationCode) String() string {
	switch c {
	case Reserved:
		return "reserved"
	case NoStock:
		return "no_stock"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// OrderTask is an accepted reservation waiting to be persisted.
type OrderTask struct {
	OrderID     int64  `json:"orderId"`
	PurchaserID string `json:"purchaserId"`
	VoucherID   string `json:"voucherId"`
}
