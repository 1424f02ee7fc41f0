package seckill

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/huykn/seckill-cache/types"
)

// OrderStore is the relational source of truth for vouchers and orders.
type OrderStore interface {
	// Begin starts a transaction.
	Begin(ctx context.Context) (OrderTx, error)
}

// OrderTx is one unit of work against an OrderStore.
type OrderTx interface {
	// HasOrder reports whether purchaserID already ordered voucherID.
	HasOrder(ctx context.Context, purchaserID, voucherID string) (bool, error)

	// DecrementStock takes one unit of stock if any is left and reports
	// whether it did.
	DecrementStock(ctx context.Context, voucherID string) (bool, error)

	// InsertOrder records the order.
	InsertOrder(ctx context.Context, order types.OrderTask) error

	Commit() error
	Rollback() error
}

// CreateOutcome is the result of CreateOrderIfAbsent.
type CreateOutcome int

const (
	OutcomeFailed CreateOutcome = iota
	OutcomeCreated
	OutcomeDuplicate
	OutcomeOutOfStock
)

func (o CreateOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeOutOfStock:
		return "out_of_stock"
	default:
		return "failed"
	}
}

// CreateOrderIfAbsent persists order in one transaction unless the
// purchaser already has an order for the voucher or the voucher has no
// stock left. Neither of those is an error; nothing is written for them.
func CreateOrderIfAbsent(ctx context.Context, store OrderStore, order types.OrderTask) (CreateOutcome, error) {
	tx, err := store.Begin(ctx)
	if err != nil {
		return OutcomeFailed, errors.Wrap(err, "begin order transaction")
	}

	exists, err := tx.HasOrder(ctx, order.PurchaserID, order.VoucherID)
	if err != nil {
		return OutcomeFailed, rollback(tx, errors.Wrap(err, "check existing order"))
	}
	if exists {
		return OutcomeDuplicate, rollback(tx, nil)
	}

	taken, err := tx.DecrementStock(ctx, order.VoucherID)
	if err != nil {
		return OutcomeFailed, rollback(tx, errors.Wrap(err, "decrement stock"))
	}
	if !taken {
		return OutcomeOutOfStock, rollback(tx, nil)
	}

	if err := tx.InsertOrder(ctx, order); err != nil {
		return OutcomeFailed, rollback(tx, errors.Wrap(err, "insert order"))
	}
	if err := tx.Commit(); err != nil {
		return OutcomeFailed, errors.Wrap(err, "commit order")
	}
	return OutcomeCreated, nil
}

func rollback(tx OrderTx, cause error) error {
	if err := tx.Rollback(); err != nil {
		if cause != nil {
			return errors.WithSecondaryError(cause, err)
		}
		return errors.Wrap(err, "rollback order transaction")
	}
	return cause
}
