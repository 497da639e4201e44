package coupon_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"ms-coupons/internal/coupon"
	"ms-coupons/internal/coupon/db"
	"ms-coupons/internal/logger"
	"ms-coupons/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// setupStore returns a store on a private in-memory database. The pool is
// capped at one connection, which also makes concurrent transactions run
// one after another.
func setupStore(t *testing.T) *db.DB {
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	require.NoError(t, db.CreateSchema(context.Background(), bunDB))
	return db.NewDB(bunDB, db.TxConfig{MaxRetries: 3, RetryBackoff: time.Millisecond})
}

func newService(t *testing.T, store coupon.Store, opts ...coupon.Option) *coupon.Service {
	opts = append([]coupon.Option{coupon.WithClock(clock)}, opts...)
	return coupon.NewService(store, logger.Discard(), opts...)
}

func seedCoupon(t *testing.T, store *db.DB, c models.Coupon) *models.Coupon {
	if c.UsedBy == nil {
		c.UsedBy = []string{}
	}
	_, err := store.Bun.NewInsert().Model(&c).Exec(context.Background())
	require.NoError(t, err)
	return &c
}

func seedOrder(t *testing.T, store *db.DB, o models.Order) models.Order {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = fixedNow
	}
	_, err := store.Bun.NewInsert().Model(&o).Exec(context.Background())
	require.NoError(t, err)
	return o
}

func loadCoupon(t *testing.T, store *db.DB, id string) *models.Coupon {
	c, err := store.ResolveCoupon(context.Background(), id, "")
	require.NoError(t, err)
	return c
}

func loadOrder(t *testing.T, store *db.DB, id string) models.Order {
	var o models.Order
	err := store.Bun.NewSelect().Model(&o).Where("id = ?", id).Scan(context.Background())
	require.NoError(t, err)
	return o
}

func activities(t *testing.T, store *db.DB, couponID string) []models.ActivityLog {
	var logs []models.ActivityLog
	err := store.Bun.NewSelect().
		Model(&logs).
		Where("coupon_id = ?", couponID).
		OrderExpr("created_at ASC").
		Scan(context.Background())
	require.NoError(t, err)
	return logs
}

func timePtr(t time.Time) *time.Time { return &t }

// MockPublisher records published outcome events.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishOutcome(ctx context.Context, event models.CouponOutcomeEvent) error {
	args := m.Called(event)
	return args.Error(0)
}

// MockStatsCache is a testify mock of the stats cache.
type MockStatsCache struct {
	mock.Mock
}

func (m *MockStatsCache) Get(ctx context.Context, couponID string) (*models.UsageStats, error) {
	args := m.Called(couponID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UsageStats), args.Error(1)
}

func (m *MockStatsCache) Set(ctx context.Context, stats *models.UsageStats) error {
	args := m.Called(stats)
	return args.Error(0)
}

func (m *MockStatsCache) Invalidate(ctx context.Context, couponID string) error {
	args := m.Called(couponID)
	return args.Error(0)
}

var errStoreDown = errors.New("store unavailable")

// flakyStore wraps a real store and fails selected operations.
type flakyStore struct {
	*db.DB
	failResolve    bool
	failAnnotation bool
	failActivity   bool
	failOrders     bool
}

func (f *flakyStore) ResolveCoupon(ctx context.Context, id, code string) (*models.Coupon, error) {
	if f.failResolve {
		return nil, errStoreDown
	}
	return f.DB.ResolveCoupon(ctx, id, code)
}

func (f *flakyStore) UpdateOrderValidation(ctx context.Context, orderID string, v *models.CouponValidation) (bool, error) {
	if f.failAnnotation {
		return false, errStoreDown
	}
	return f.DB.UpdateOrderValidation(ctx, orderID, v)
}

func (f *flakyStore) InsertActivity(ctx context.Context, entry *models.ActivityLog) error {
	if f.failActivity {
		return errStoreDown
	}
	return f.DB.InsertActivity(ctx, entry)
}

func (f *flakyStore) RecentOrders(ctx context.Context, couponID, code string, limit int) ([]models.Order, error) {
	if f.failOrders {
		return nil, errStoreDown
	}
	return f.DB.RecentOrders(ctx, couponID, code, limit)
}
