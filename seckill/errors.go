package seckill

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/huykn/seckill-cache/types"
)

var (
	// ErrNoStock means the voucher has no stock left.
	ErrNoStock = errors.New("seckill: out of stock")

	// ErrDuplicateOrder means the purchaser already holds a reservation for the voucher.
	ErrDuplicateOrder = errors.New("seckill: purchaser already ordered this voucher")

	// ErrQueueOverloaded is returned when the order queue is full. The
	// reservation has been rolled back.
	ErrQueueOverloaded = errors.New("seckill: order queue overloaded")

	// ErrCoordinatorClosed is returned by Submit after Close.
	ErrCoordinatorClosed = errors.New("seckill: coordinator closed")

	// ErrPurchaserBusy is reported to hooks when another worker holds the
	// purchaser's lock and the task is dropped.
	ErrPurchaserBusy = errors.New("seckill: purchaser lock held elsewhere")

	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("seckill: invalid options")

	// ErrUnexpectedCode means the reservation script returned something other than 0, 1 or 2.
	ErrUnexpectedCode = errors.New("seckill: unexpected reservation code")
)

// RejectionError is a terminal business outcome of Submit. It unwraps to
// ErrNoStock or ErrDuplicateOrder.
type RejectionError struct {
	Code        types.ReservationCode
	VoucherID   string
	PurchaserID string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("seckill: purchase of voucher %s by %s rejected: %s", e.VoucherID, e.PurchaserID, e.Code)
}

func (e *RejectionError) Unwrap() error {
	switch e.Code {
	case types.NoStock:
		return ErrNoStock
	case types.Duplicate:
		return ErrDuplicateOrder
	default:
		return nil
	}
}
