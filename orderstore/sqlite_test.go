package orderstore

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/huykn/seckill-cache/idgen"
	"github.com/huykn/seckill-cache/lock"
	"github.com/huykn/seckill-cache/logger"
	"github.com/huykn/seckill-cache/seckill"
	"github.com/huykn/seckill-cache/storage"
	"github.com/huykn/seckill-cache/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "orders.db"), logger.NewZap(zaptest.NewLogger(t).Sugar()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestVoucherStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Stock(ctx, "v1")
	assert.ErrorIs(t, err, ErrVoucherNotFound)

	require.NoError(t, s.UpsertVoucher(ctx, "v1", 5))
	require.NoError(t, s.UpsertVoucher(ctx, "v2", 1))
	require.NoError(t, s.UpsertVoucher(ctx, "v1", 7))

	stock, err := s.Stock(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), stock)

	vouchers, err := s.Vouchers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Voucher{{ID: "v1", Stock: 7}, {ID: "v2", Stock: 1}}, vouchers)
}

func TestCreateOrderIfAbsentOnSQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertVoucher(ctx, "v1", 1))

	first := types.OrderTask{OrderID: 100, PurchaserID: "u1", VoucherID: "v1"}
	outcome, err := seckill.CreateOrderIfAbsent(ctx, s, first)
	require.NoError(t, err)
	assert.Equal(t, seckill.OutcomeCreated, outcome)

	order, found, err := s.FindOrder(ctx, 100)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "u1", order.PurchaserID)
	assert.Equal(t, "v1", order.VoucherID)
	assert.WithinDuration(t, time.Now(), order.CreatedAt, time.Minute)

	outcome, err = seckill.CreateOrderIfAbsent(ctx, s, types.OrderTask{OrderID: 101, PurchaserID: "u1", VoucherID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, seckill.OutcomeDuplicate, outcome)

	outcome, err = seckill.CreateOrderIfAbsent(ctx, s, types.OrderTask{OrderID: 102, PurchaserID: "u2", VoucherID: "v1"})
	require.NoError(t, err)
	assert.Equal(t, seckill.OutcomeOutOfStock, outcome)

	count, err := s.CountOrders(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	stock, err := s.Stock(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stock)

	_, found, err = s.FindOrder(ctx, 101)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPurchasers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertVoucher(ctx, "v1", 5))
	require.NoError(t, s.UpsertVoucher(ctx, "v2", 5))

	purchasers, err := s.Purchasers(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, purchasers)

	for i, o := range []types.OrderTask{
		{PurchaserID: "u2", VoucherID: "v1"},
		{PurchaserID: "u1", VoucherID: "v1"},
		{PurchaserID: "u3", VoucherID: "v2"},
	} {
		o.OrderID = int64(i + 1)
		outcome, err := seckill.CreateOrderIfAbsent(ctx, s, o)
		require.NoError(t, err)
		require.Equal(t, seckill.OutcomeCreated, outcome)
	}

	purchasers, err = s.Purchasers(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, purchasers)
}

func TestUniqueIndexRejectsDuplicateInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertVoucher(ctx, "v1", 5))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertOrder(ctx, types.OrderTask{OrderID: 1, PurchaserID: "u1", VoucherID: "v1"}))
	assert.Error(t, tx.InsertOrder(ctx, types.OrderTask{OrderID: 2, PurchaserID: "u1", VoucherID: "v1"}))
	require.NoError(t, tx.Rollback())

	count, err := s.CountOrders(ctx, "v1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSubmittedOrderIsEventuallyPersisted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rs, err := storage.NewRedisStore(mr.Addr(), "", 0)
	require.NoError(t, err)
	defer rs.Close()

	coord, err := seckill.New(rs, lock.New(rs, "pod-test", nil), idgen.New(rs, nil), s, seckill.DefaultOptions())
	require.NoError(t, err)
	defer coord.Close(ctx)

	require.NoError(t, s.UpsertVoucher(ctx, "v1", 3))
	require.NoError(t, coord.PreloadVoucher(ctx, "v1", 3))

	ids := make([]int64, 0, 3)
	for i := 0; i < 5; i++ {
		id, err := coord.Submit(ctx, "v1", "u"+strconv.Itoa(i))
		if i < 3 {
			require.NoError(t, err)
			ids = append(ids, id)
		} else {
			assert.ErrorIs(t, err, seckill.ErrNoStock)
		}
	}

	for i, id := range ids {
		var order Order
		require.Eventually(t, func() bool {
			o, found, err := s.FindOrder(ctx, id)
			order = o
			return err == nil && found
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, id, order.ID)
		assert.Equal(t, "u"+strconv.Itoa(i), order.PurchaserID)
		assert.Equal(t, "v1", order.VoucherID)
	}

	stock, err := s.Stock(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stock)
}
