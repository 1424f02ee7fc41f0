// Package orderstore is the SQLite-backed source of truth for seckill
// vouchers and orders.
package orderstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/huykn/seckill-cache/logger"
	"github.com/huykn/seckill-cache/seckill"
	"github.com/huykn/seckill-cache/types"
)

// ErrVoucherNotFound is returned by Stock for an unknown voucher.
var ErrVoucherNotFound = errors.New("orderstore: voucher not found")

const schema = `
CREATE TABLE IF NOT EXISTS seckill_vouchers (
	voucher_id  TEXT PRIMARY KEY,
	stock       INTEGER NOT NULL CHECK (stock >= 0),
	updated_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS voucher_orders (
	id          INTEGER PRIMARY KEY,
	user_id     TEXT NOT NULL,
	voucher_id  TEXT NOT NULL REFERENCES seckill_vouchers(voucher_id),
	created_at  INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_voucher_orders_user_voucher
	ON voucher_orders(user_id, voucher_id);
`

// Order is a persisted voucher order.
type Order struct {
	ID          int64
	PurchaserID string
	VoucherID   string
	CreatedAt   time.Time
}

// Voucher is a seckill voucher and its remaining stock.
type Voucher struct {
	ID    string
	Stock int64
}

// SQLiteStore implements seckill.OrderStore on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger logger.Logger
	now    func() time.Time
}

var _ seckill.OrderStore = (*SQLiteStore)(nil)

// NewSQLite opens (or creates) the database at path and applies the schema.
// Writes are serialized through a single connection.
func NewSQLite(path string, log logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.NewNoOp()
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create database directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "apply %q", pragma)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}

	log.Info("Order store opened", "path", path)
	return &SQLiteStore{db: db, path: path, logger: log, now: time.Now}, nil
}

// Begin starts a transaction.
func (s *SQLiteStore) Begin(ctx context.Context) (seckill.OrderTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	return &sqliteTx{tx: tx, now: s.now}, nil
}

// UpsertVoucher creates a voucher or overwrites its stock.
func (s *SQLiteStore) UpsertVoucher(ctx context.Context, voucherID string, stock int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seckill_vouchers (voucher_id, stock, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(voucher_id) DO UPDATE SET stock = excluded.stock, updated_at = excluded.updated_at`,
		voucherID, stock, s.now().UnixMilli())
	if err != nil {
		return errors.Wrapf(err, "upsert voucher %s", voucherID)
	}
	return nil
}

// Stock returns the voucher's persisted stock.
func (s *SQLiteStore) Stock(ctx context.Context, voucherID string) (int64, error) {
	var stock int64
	err := s.db.QueryRowContext(ctx, `SELECT stock FROM seckill_vouchers WHERE voucher_id = ?`, voucherID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrapf(ErrVoucherNotFound, "voucher %s", voucherID)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "stock of voucher %s", voucherID)
	}
	return stock, nil
}

// Vouchers lists every voucher with its persisted stock.
func (s *SQLiteStore) Vouchers(ctx context.Context) ([]Voucher, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT voucher_id, stock FROM seckill_vouchers ORDER BY voucher_id`)
	if err != nil {
		return nil, errors.Wrap(err, "list vouchers")
	}
	defer rows.Close()

	var vouchers []Voucher
	for rows.Next() {
		var v Voucher
		if err := rows.Scan(&v.ID, &v.Stock); err != nil {
			return nil, errors.Wrap(err, "scan voucher")
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, errors.Wrap(rows.Err(), "list vouchers")
}

// Purchasers lists the purchasers holding an order for voucherID.
func (s *SQLiteStore) Purchasers(ctx context.Context, voucherID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM voucher_orders WHERE voucher_id = ? ORDER BY user_id`, voucherID)
	if err != nil {
		return nil, errors.Wrapf(err, "list purchasers of %s", voucherID)
	}
	defer rows.Close()

	var purchasers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errors.Wrap(err, "scan purchaser")
		}
		purchasers = append(purchasers, p)
	}
	return purchasers, errors.Wrapf(rows.Err(), "list purchasers of %s", voucherID)
}

// FindOrder looks up an order by id.
func (s *SQLiteStore) FindOrder(ctx context.Context, orderID int64) (Order, bool, error) {
	var (
		o       Order
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, voucher_id, created_at FROM voucher_orders WHERE id = ?`, orderID,
	).Scan(&o.ID, &o.PurchaserID, &o.VoucherID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, false, nil
	}
	if err != nil {
		return Order{}, false, errors.Wrapf(err, "find order %d", orderID)
	}
	o.CreatedAt = time.UnixMilli(created).UTC()
	return o, true, nil
}

// CountOrders returns how many orders exist for a voucher.
func (s *SQLiteStore) CountOrders(ctx context.Context, voucherID string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM voucher_orders WHERE voucher_id = ?`, voucherID).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count orders of voucher %s", voucherID)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *sqliteTx) HasOrder(ctx context.Context, purchaserID, voucherID string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM voucher_orders WHERE user_id = ? AND voucher_id = ?`, purchaserID, voucherID,
	).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "query orders")
	}
	return n > 0, nil
}

// DecrementStock only succeeds while stock is positive.
func (t *sqliteTx) DecrementStock(ctx context.Context, voucherID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE seckill_vouchers SET stock = stock - 1, updated_at = ? WHERE voucher_id = ? AND stock > 0`,
		t.now().UnixMilli(), voucherID)
	if err != nil {
		return false, errors.Wrap(err, "update stock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n == 1, nil
}

func (t *sqliteTx) InsertOrder(ctx context.Context, order types.OrderTask) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO voucher_orders (id, user_id, voucher_id, created_at) VALUES (?, ?, ?, ?)`,
		order.OrderID, order.PurchaserID, order.VoucherID, t.now().UnixMilli())
	return err
}

func (t *sqliteTx) Commit() error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback() error { return t.tx.Rollback() }
