package seckill

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/huykn/seckill-cache/types"
)

// memStore is an OrderStore that serializes transactions with a mutex and
// applies staged writes on commit.
type memStore struct {
	mu        sync.Mutex
	stock     map[string]int64
	orders    map[string]types.OrderTask
	beginErr  error
	insertErr error
	rollbacks int
}

func newMemStore() *memStore {
	return &memStore{
		stock:  make(map[string]int64),
		orders: make(map[string]types.OrderTask),
	}
}

func orderKey(purchaserID, voucherID string) string {
	return purchaserID + "/" + voucherID
}

func (s *memStore) Begin(ctx context.Context) (OrderTx, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	s.mu.Lock()
	return &memTx{store: s, stock: make(map[string]int64)}, nil
}

func (s *memStore) setStock(voucherID string, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[voucherID] = n
}

func (s *memStore) putOrder(task types.OrderTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[orderKey(task.PurchaserID, task.VoucherID)] = task
}

func (s *memStore) snapshot() (map[string]int64, []types.OrderTask, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stock := make(map[string]int64, len(s.stock))
	for k, v := range s.stock {
		stock[k] = v
	}
	orders := make([]types.OrderTask, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, o)
	}
	return stock, orders, s.rollbacks
}

type memTx struct {
	store  *memStore
	stock  map[string]int64
	orders []types.OrderTask
	done   bool
}

func (tx *memTx) HasOrder(ctx context.Context, purchaserID, voucherID string) (bool, error) {
	_, ok := tx.store.orders[orderKey(purchaserID, voucherID)]
	return ok, nil
}

func (tx *memTx) DecrementStock(ctx context.Context, voucherID string) (bool, error) {
	current, staged := tx.stock[voucherID]
	if !staged {
		current = tx.store.stock[voucherID]
	}
	if current <= 0 {
		return false, nil
	}
	tx.stock[voucherID] = current - 1
	return true, nil
}

func (tx *memTx) InsertOrder(ctx context.Context, order types.OrderTask) error {
	if tx.store.insertErr != nil {
		return tx.store.insertErr
	}
	tx.orders = append(tx.orders, order)
	return nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.done = true
	for k, v := range tx.stock {
		tx.store.stock[k] = v
	}
	for _, o := range tx.orders {
		tx.store.orders[orderKey(o.PurchaserID, o.VoucherID)] = o
	}
	tx.store.mu.Unlock()
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.done = true
	tx.store.rollbacks++
	tx.store.mu.Unlock()
	return nil
}
