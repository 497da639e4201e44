package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ms-coupons/internal/models"
	"ms-coupons/internal/resolve"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB

	txOptions    *sql.TxOptions
	maxRetries   int
	retryBackoff time.Duration

	// OnRetry is called before a conflicted transaction is re-run.
	OnRetry func(attempt int, err error)
}

type TxConfig struct {
	// Serializable requests SERIALIZABLE isolation. SQLite is always
	// serializable and its drivers reject explicit isolation levels.
	Serializable bool
	MaxRetries   int
	RetryBackoff time.Duration
}

func NewDB(bunDB *bun.DB, cfg TxConfig) *DB {
	d := &DB{
		Bun:          bunDB,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
	}
	if cfg.Serializable {
		d.txOptions = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return d
}

// ---------------- TRANSACTIONS ----------------

// Tx exposes the statements allowed inside a coupon transaction. Every
// read goes through the transaction handle so the body always sees the
// state it is about to overwrite.
type Tx struct {
	tx bun.Tx
}

// RunInTx runs fn in a transaction and re-runs it from scratch when the
// database aborts it with a serialization failure or deadlock. fn must
// not have side effects outside the transaction.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := d.Bun.RunInTx(ctx, d.txOptions, func(ctx context.Context, tx bun.Tx) error {
			return fn(ctx, &Tx{tx: tx})
		})
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt > d.maxRetries {
			return fmt.Errorf("transaction aborted after %d attempts: %w", attempt, err)
		}

		if d.OnRetry != nil {
			d.OnRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * d.retryBackoff):
		}
	}
}

// IsRetryable reports whether err is a transaction conflict that is safe
// to retry.
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// CouponByID re-reads a coupon inside the transaction.
func (t *Tx) CouponByID(ctx context.Context, id string) (*models.Coupon, error) {
	var c models.Coupon
	err := t.tx.NewSelect().
		Model(&c).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, resolve.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateCoupon writes the given columns of c back, always bumping updated_at.
func (t *Tx) UpdateCoupon(ctx context.Context, c *models.Coupon, columns ...string) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := t.tx.NewUpdate().
		Model(c).
		Column(append(columns, "updated_at")...).
		WherePK().
		Exec(ctx)
	return err
}

// RedemptionByOrder returns nil when the order has not redeemed anything.
func (t *Tx) RedemptionByOrder(ctx context.Context, orderID string) (*models.Redemption, error) {
	return redemptionByOrder(ctx, t.tx, orderID)
}

func redemptionByOrder(ctx context.Context, q bun.IDB, orderID string) (*models.Redemption, error) {
	var r models.Redemption
	err := q.NewSelect().
		Model(&r).
		Where("order_id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *Tx) InsertRedemption(ctx context.Context, r *models.Redemption) error {
	_, err := t.tx.NewInsert().Model(r).Exec(ctx)
	return err
}

// ---------------- COUPONS ----------------

// ResolveCoupon finds a coupon by id, falling back to its code.
func (d *DB) ResolveCoupon(ctx context.Context, id, code string) (*models.Coupon, error) {
	return resolve.ByIDOrField[models.Coupon](ctx, d.Bun, id, "code", code)
}

// RedemptionByOrder reads the ledger outside a transaction. Returns nil
// when the order has not redeemed anything.
func (d *DB) RedemptionByOrder(ctx context.Context, orderID string) (*models.Redemption, error) {
	return redemptionByOrder(ctx, d.Bun, orderID)
}

// ---------------- ORDERS ----------------

// UpdateOrderValidation overwrites the order's couponValidation field and
// reports whether the order row exists.
func (d *DB) UpdateOrderValidation(ctx context.Context, orderID string, v *models.CouponValidation) (bool, error) {
	order := &models.Order{ID: orderID, CouponValidation: v}
	res, err := d.Bun.NewUpdate().
		Model(order).
		Column("coupon_validation").
		WherePK().
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecentOrders returns the newest orders referencing the coupon by id or code.
func (d *DB) RecentOrders(ctx context.Context, couponID, code string, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			q = q.Where("coupon_id = ?", couponID)
			if code != "" {
				q = q.WhereOr("coupon_code = ?", code)
			}
			return q
		}).
		OrderExpr("created_at DESC").
		Limit(limit).
		Scan(ctx)
	return orders, err
}

// ---------------- USERS ----------------

func (d *DB) UsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	err := d.Bun.NewSelect().
		Model(&users).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	return users, err
}

// ---------------- ACTIVITY LOGS ----------------

func (d *DB) InsertActivity(ctx context.Context, entry *models.ActivityLog) error {
	_, err := d.Bun.NewInsert().Model(entry).Exec(ctx)
	return err
}
