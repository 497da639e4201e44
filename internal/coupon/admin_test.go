package coupon_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ms-coupons/internal/coupon"
	"ms-coupons/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestResetUsage_Errors(t *testing.T) {
	store := setupStore(t)
	seedCoupon(t, store, models.Coupon{ID: "c1", Code: "SAVE10"})
	svc := newService(t, store)
	ctx := context.Background()

	_, err := svc.ResetUsage(ctx, "", coupon.ResetRequest{CouponID: "c1"})
	assert.Equal(t, coupon.CodeUnauthenticated, coupon.CodeOf(err))

	_, err = svc.ResetUsage(ctx, "admin", coupon.ResetRequest{})
	assert.Equal(t, coupon.CodeInvalidArgument, coupon.CodeOf(err))

	_, err = svc.ResetUsage(ctx, "admin", coupon.ResetRequest{CouponID: "c1", ResetType: "everything"})
	assert.Equal(t, coupon.CodeInvalidArgument, coupon.CodeOf(err))

	_, err = svc.ResetUsage(ctx, "admin", coupon.ResetRequest{CouponCode: "NOPE"})
	assert.Equal(t, coupon.CodeNotFound, coupon.CodeOf(err))
}

func TestResetUsage_All(t *testing.T) {
	store := setupStore(t)
	seedCoupon(t, store, models.Coupon{
		ID: "c1", Code: "SAVE10", IsEnabled: true, UsageLimit: 5, UsedCount: 2, UsedBy: []string{"a", "b"},
		LastUsedAt: timePtr(fixedNow.Add(-time.Hour)), LastUsedBy: "b", LastUsedOrderID: "o9",
	})
	cache := new(MockStatsCache)
	cache.On("Invalidate", "c1").Return(nil).Once()
	svc := newService(t, store, coupon.WithStatsCache(cache))

	res, err := svc.ResetUsage(context.Background(), "admin-1", coupon.ResetRequest{CouponCode: "SAVE10"})
	require.NoError(t, err)
	assert.Equal(t, models.ResetAll, res.ResetType)
	assert.Equal(t, 2, res.PreviousUsedCount)
	assert.Equal(t, []string{"a", "b"}, res.PreviousUsedBy)

	c := loadCoupon(t, store, "c1")
	assert.Equal(t, 0, c.UsedCount)
	assert.Empty(t, c.UsedBy)
	assert.Nil(t, c.LastUsedAt)
	assert.Empty(t, c.LastUsedBy)
	assert.Empty(t, c.LastUsedOrderID)
	assert.Equal(t, "admin-1", c.ResetBy)
	assert.Equal(t, models.ResetAll, c.ResetType)
	require.NotNil(t, c.ResetAt)
	assert.True(t, c.ResetAt.Equal(fixedNow))

	logs := activities(t, store, "c1")
	require.Len(t, logs, 1)
	assert.Equal(t, models.ActivityCouponUsageReset, logs[0].Type)
	assert.Equal(t, "admin-1", logs[0].Actor)
	assert.Equal(t, 2.0, logs[0].Metadata["previousUsedCount"])
	assert.Equal(t, []interface{}{"a", "b"}, logs[0].Metadata["previousUsedBy"])

	cache.AssertExpectations(t)
}

// A count reset leaves usedBy untouched.
func TestResetUsage_CountKeepsUsers(t *testing.T) {
	store := setupStore(t)
	seedCoupon(t, store, models.Coupon{ID: "c1", Code: "SAVE10", IsEnabled: true, UsageLimit: 10, UsedCount: 5, UsedBy: []string{"a", "b"}, LastUsedBy: "b"})
	svc := newService(t, store)
	ctx := context.Background()

	res, err := svc.ResetUsage(ctx, "admin", coupon.ResetRequest{CouponID: "c1", ResetType: models.ResetCount})
	require.NoError(t, err)
	assert.Equal(t, 0, res.UsedCount)
	assert.Equal(t, []string{"a", "b"}, res.UsedBy)

	c := loadCoupon(t, store, "c1")
	assert.Equal(t, 0, c.UsedCount)
	assert.Equal(t, []string{"a", "b"}, c.UsedBy)
	assert.Equal(t, "b", c.LastUsedBy)

	// Users recorded before the reset remain blocked on a limited coupon.
	out, err := svc.Redeem(ctx, "c1", "a", "o-after")
	require.NoError(t, err)
	assert.Equal(t, coupon.ReasonAlreadyUsed, out.Reason)
}

func TestResetUsage_Users(t *testing.T) {
	store := setupStore(t)
	seedCoupon(t, store, models.Coupon{ID: "c1", Code: "SAVE10", IsEnabled: true, UsageLimit: 10, UsedCount: 2, UsedBy: []string{"a", "b"}})
	svc := newService(t, store)

	_, err := svc.ResetUsage(context.Background(), "admin", coupon.ResetRequest{CouponID: "c1", ResetType: models.ResetUsers})
	require.NoError(t, err)

	c := loadCoupon(t, store, "c1")
	assert.Equal(t, 2, c.UsedCount)
	assert.Empty(t, c.UsedBy)
	assert.Equal(t, models.ResetUsers, c.ResetType)
}

func TestGetUsageStats_Errors(t *testing.T) {
	store := setupStore(t)
	svc := newService(t, store)
	ctx := context.Background()

	_, err := svc.GetUsageStats(ctx, "", coupon.StatsRequest{CouponID: "c1"})
	assert.Equal(t, coupon.CodeUnauthenticated, coupon.CodeOf(err))

	_, err = svc.GetUsageStats(ctx, "admin", coupon.StatsRequest{})
	assert.Equal(t, coupon.CodeInvalidArgument, coupon.CodeOf(err))

	_, err = svc.GetUsageStats(ctx, "admin", coupon.StatsRequest{CouponCode: "NOPE"})
	assert.Equal(t, coupon.CodeNotFound, coupon.CodeOf(err))
}

func TestGetUsageStats_Limited(t *testing.T) {
	store := setupStore(t)
	usedBy := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("user-%02d", i)
		usedBy = append(usedBy, id)
		_, err := store.Bun.NewInsert().Model(&models.User{ID: id, FirstName: "User", LastName: fmt.Sprint(i)}).Exec(context.Background())
		require.NoError(t, err)
	}
	seedCoupon(t, store, models.Coupon{ID: "c1", Code: "SAVE10", IsEnabled: true, UsageLimit: 15, UsedCount: 12, UsedBy: usedBy})
	for i := 0; i < 12; i++ {
		seedOrder(t, store, models.Order{ID: fmt.Sprintf("o%02d", i), CouponID: "c1", CreatedAt: fixedNow.Add(time.Duration(i) * time.Minute)})
	}
	seedOrder(t, store, models.Order{ID: "other", CouponID: "c2", CreatedAt: fixedNow.Add(time.Hour)})

	svc := newService(t, store)
	stats, err := svc.GetUsageStats(context.Background(), "admin", coupon.StatsRequest{CouponID: "c1"})
	require.NoError(t, err)

	assert.Equal(t, models.RemainingUses{Count: 3}, stats.RemainingUses)
	assert.False(t, stats.IsExpired)
	require.Len(t, stats.RecentOrders, 10)
	assert.Equal(t, "o11", stats.RecentOrders[0].ID)
	assert.Equal(t, "o02", stats.RecentOrders[9].ID)
	require.Len(t, stats.Users, 10)
	assert.Equal(t, "user-00", stats.Users[0].ID)
	assert.Equal(t, "User 0", stats.Users[0].Name)
}

func TestGetUsageStats_UnlimitedAndExpired(t *testing.T) {
	store := setupStore(t)
	seedCoupon(t, store, models.Coupon{ID: "c1", Code: "ALWAYS", IsEnabled: true, UsedCount: 40, ExpiresAt: timePtr(fixedNow.Add(-time.Hour))})
	svc := newService(t, store)

	stats, err := svc.GetUsageStats(context.Background(), "admin", coupon.StatsRequest{CouponCode: "ALWAYS"})
	require.NoError(t, err)
	assert.True(t, stats.RemainingUses.Unlimited)
	assert.True(t, stats.IsExpired)
	assert.Empty(t, stats.RecentOrders)
	assert.Empty(t, stats.Users)
}

func TestGetUsageStats_OverLimitFloorsAtZero(t *testing.T) {
	store := setupStore(t)
	seedCoupon(t, store, models.Coupon{ID: "c1", Code: "OVER", IsEnabled: true, UsageLimit: 2, UsedCount: 5})
	svc := newService(t, store)

	stats, err := svc.GetUsageStats(context.Background(), "admin", coupon.StatsRequest{CouponID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, models.RemainingUses{Count: 0}, stats.RemainingUses)
}

func TestGetUsageStats_UsesCache(t *testing.T) {
	store := setupStore(t)
	seedCoupon(t, store, models.Coupon{ID: "c1", Code: "SAVE10", IsEnabled: true, UsageLimit: 5, UsedCount: 1})
	cached := &models.UsageStats{CouponID: "c1", CouponCode: "SAVE10", UsedCount: 99}

	cache := new(MockStatsCache)
	cache.On("Get", "c1").Return(cached, nil).Once()
	svc := newService(t, store, coupon.WithStatsCache(cache))

	stats, err := svc.GetUsageStats(context.Background(), "admin", coupon.StatsRequest{CouponID: "c1"})
	require.NoError(t, err)
	assert.Same(t, cached, stats)
	cache.AssertNotCalled(t, "Set", mock.Anything)
}

func TestGetUsageStats_FillsCacheOnMiss(t *testing.T) {
	store := setupStore(t)
	seedCoupon(t, store, models.Coupon{ID: "c1", Code: "SAVE10", IsEnabled: true, UsageLimit: 5, UsedCount: 1})

	cache := new(MockStatsCache)
	cache.On("Get", "c1").Return(nil, nil).Once()
	cache.On("Set", mock.MatchedBy(func(s *models.UsageStats) bool { return s.CouponID == "c1" && s.UsedCount == 1 })).Return(nil).Once()
	svc := newService(t, store, coupon.WithStatsCache(cache))

	_, err := svc.GetUsageStats(context.Background(), "admin", coupon.StatsRequest{CouponID: "c1"})
	require.NoError(t, err)
	cache.AssertExpectations(t)
}

func TestGetUsageStats_StoreFailure(t *testing.T) {
	base := setupStore(t)
	seedCoupon(t, base, models.Coupon{ID: "c1", Code: "SAVE10", IsEnabled: true})
	svc := newService(t, &flakyStore{DB: base, failOrders: true})

	_, err := svc.GetUsageStats(context.Background(), "admin", coupon.StatsRequest{CouponID: "c1"})
	assert.Equal(t, coupon.CodeInternal, coupon.CodeOf(err))
}
