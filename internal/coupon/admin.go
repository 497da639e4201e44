package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-coupons/internal/coupon/db"
	"ms-coupons/internal/models"
	"ms-coupons/internal/resolve"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	recentOrdersLimit = 10
	statsUsersLimit   = 10
)

type ResetRequest struct {
	CouponID   string `json:"couponId"`
	CouponCode string `json:"couponCode"`
	ResetType  string `json:"resetType"`
}

type ResetResult struct {
	CouponID          string    `json:"couponId"`
	CouponCode        string    `json:"couponCode"`
	ResetType         string    `json:"resetType"`
	PreviousUsedCount int       `json:"previousUsedCount"`
	PreviousUsedBy    []string  `json:"previousUsedBy"`
	UsedCount         int       `json:"usedCount"`
	UsedBy            []string  `json:"usedBy"`
	ResetBy           string    `json:"resetBy"`
	ResetAt           time.Time `json:"resetAt"`
}

type StatsRequest struct {
	CouponID   string `json:"couponId"`
	CouponCode string `json:"couponCode"`
}

// applyReset mutates c according to resetType. "count" zeroes the counter
// but keeps usedBy, so users already recorded stay blocked on limited
// coupons.
func applyReset(c *models.Coupon, resetType, actor string, now time.Time) []string {
	switch resetType {
	case models.ResetAll:
		c.UsedCount = 0
		c.UsedBy = []string{}
		c.LastUsedAt = nil
		c.LastUsedBy = ""
		c.LastUsedOrderID = ""
	case models.ResetCount:
		c.UsedCount = 0
	case models.ResetUsers:
		c.UsedBy = []string{}
	}
	c.ResetBy = actor
	c.ResetAt = &now
	c.ResetType = resetType

	columns := []string{"reset_by", "reset_at", "reset_type"}
	switch resetType {
	case models.ResetAll:
		columns = append(columns, usageColumns...)
	case models.ResetCount:
		columns = append(columns, "used_count")
	case models.ResetUsers:
		columns = append(columns, "used_by")
	}
	return columns
}

func validResetType(t string) bool {
	switch t {
	case models.ResetAll, models.ResetCount, models.ResetUsers:
		return true
	}
	return false
}

// ResetUsage clears some or all usage tracking on a coupon on behalf of
// actor and records the previous state in the activity log.
func (s *Service) ResetUsage(ctx context.Context, actor string, req ResetRequest) (*ResetResult, error) {
	if actor == "" {
		return nil, newError(CodeUnauthenticated, "caller identity required", nil)
	}
	if req.CouponID == "" && req.CouponCode == "" {
		return nil, newError(CodeInvalidArgument, "couponId or couponCode is required", nil)
	}
	if req.ResetType == "" {
		req.ResetType = models.ResetAll
	}
	if !validResetType(req.ResetType) {
		return nil, newError(CodeInvalidArgument, fmt.Sprintf("unknown resetType %q", req.ResetType), nil)
	}

	ctx, span := tracer.Start(ctx, "coupon.ResetUsage", trace.WithAttributes(
		attribute.String("coupon.id", req.CouponID),
		attribute.String("coupon.code", req.CouponCode),
		attribute.String("coupon.reset_type", req.ResetType),
	))
	defer span.End()

	c, err := s.resolveForAdmin(ctx, req.CouponID, req.CouponCode)
	if err != nil {
		return nil, err
	}

	var result ResetResult
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx *db.Tx) error {
		current, err := tx.CouponByID(ctx, c.ID)
		if err != nil {
			return err
		}

		result = ResetResult{
			CouponID:          current.ID,
			CouponCode:        current.Code,
			ResetType:         req.ResetType,
			PreviousUsedCount: current.UsedCount,
			PreviousUsedBy:    append([]string{}, current.UsedBy...),
			ResetBy:           actor,
		}

		now := s.now().UTC()
		columns := applyReset(current, req.ResetType, actor, now)
		if err := tx.UpdateCoupon(ctx, current, columns...); err != nil {
			return fmt.Errorf("update coupon: %w", err)
		}

		result.UsedCount = current.UsedCount
		result.UsedBy = current.UsedBy
		result.ResetAt = now
		return nil
	})
	if errors.Is(err, resolve.ErrNotFound) {
		return nil, newError(CodeNotFound, "coupon not found", err)
	}
	if err != nil {
		span.RecordError(err)
		s.log.Error("COUPON", fmt.Sprintf("Reset of coupon %s failed: %v", c.ID, err))
		return nil, newError(CodeInternal, "reset coupon usage", err)
	}

	s.metrics.Reset(req.ResetType)
	s.log.LogCoupon("RESET", result.CouponCode, fmt.Sprintf("type=%s by=%s previousUsedCount=%d", result.ResetType, actor, result.PreviousUsedCount))

	err = s.store.InsertActivity(ctx, &models.ActivityLog{
		ID:         uuid.NewString(),
		Type:       models.ActivityCouponUsageReset,
		CouponID:   result.CouponID,
		CouponCode: result.CouponCode,
		Actor:      actor,
		Message:    fmt.Sprintf("Coupon %s usage reset (%s) by %s", result.CouponCode, result.ResetType, actor),
		Metadata: map[string]interface{}{
			"resetType":         result.ResetType,
			"previousUsedCount": result.PreviousUsedCount,
			"previousUsedBy":    result.PreviousUsedBy,
		},
		CreatedAt: result.ResetAt,
	})
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to append reset activity for coupon %s: %v", result.CouponID, err))
	}

	s.invalidateStats(ctx, result.CouponID)
	return &result, nil
}

// GetUsageStats reports usage of a coupon together with its most recent
// orders and the profiles of the users who redeemed it. Results may be
// served from the stats cache and can lag concurrent redemptions.
func (s *Service) GetUsageStats(ctx context.Context, actor string, req StatsRequest) (*models.UsageStats, error) {
	if actor == "" {
		return nil, newError(CodeUnauthenticated, "caller identity required", nil)
	}
	if req.CouponID == "" && req.CouponCode == "" {
		return nil, newError(CodeInvalidArgument, "couponId or couponCode is required", nil)
	}

	ctx, span := tracer.Start(ctx, "coupon.GetUsageStats", trace.WithAttributes(
		attribute.String("coupon.id", req.CouponID),
		attribute.String("coupon.code", req.CouponCode),
	))
	defer span.End()

	c, err := s.resolveForAdmin(ctx, req.CouponID, req.CouponCode)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, c.ID)
		if err != nil {
			s.log.Warn("REDIS", fmt.Sprintf("Stats cache read failed for coupon %s: %v", c.ID, err))
		} else if cached != nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
	}

	stats := buildStats(c, s.now().UTC())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		orders, err := s.store.RecentOrders(gctx, c.ID, c.Code, recentOrdersLimit)
		if err != nil {
			return fmt.Errorf("recent orders: %w", err)
		}
		for _, o := range orders {
			stats.RecentOrders = append(stats.RecentOrders, models.RecentOrder{
				ID:        o.ID,
				AuthorID:  o.AuthorID,
				VendorID:  o.VendorID,
				Status:    o.Status,
				Total:     o.Total,
				Discount:  o.Discount,
				CreatedAt: o.CreatedAt,
			})
		}
		return nil
	})
	g.Go(func() error {
		ids := c.UsedBy
		if len(ids) > statsUsersLimit {
			ids = ids[:statsUsersLimit]
		}
		users, err := s.store.UsersByIDs(gctx, ids)
		if err != nil {
			return fmt.Errorf("users: %w", err)
		}
		byID := make(map[string]models.User, len(users))
		for _, u := range users {
			byID[u.ID] = u
		}
		for _, id := range ids {
			if u, ok := byID[id]; ok {
				stats.Users = append(stats.Users, u.Profile())
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		s.log.Error("COUPON", fmt.Sprintf("Usage stats for coupon %s failed: %v", c.ID, err))
		return nil, newError(CodeInternal, "load usage stats", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, stats); err != nil {
			s.log.Warn("REDIS", fmt.Sprintf("Stats cache write failed for coupon %s: %v", c.ID, err))
		}
	}
	return stats, nil
}

func buildStats(c *models.Coupon, now time.Time) *models.UsageStats {
	stats := &models.UsageStats{
		CouponID:        c.ID,
		CouponCode:      c.Code,
		IsEnabled:       c.IsEnabled,
		UsageLimit:      c.UsageLimit,
		UsedCount:       c.UsedCount,
		IsExpired:       c.IsExpired(now),
		ExpiresAt:       c.ExpiresAt,
		LastUsedAt:      c.LastUsedAt,
		LastUsedBy:      c.LastUsedBy,
		LastUsedOrderID: c.LastUsedOrderID,
		ResetAt:         c.ResetAt,
		ResetBy:         c.ResetBy,
		ResetType:       c.ResetType,
		RecentOrders:    []models.RecentOrder{},
		Users:           []models.UserProfile{},
		GeneratedAt:     now,
	}
	if c.Limited() {
		remaining := c.UsageLimit - c.UsedCount
		if remaining < 0 {
			remaining = 0
		}
		stats.RemainingUses = models.RemainingUses{Count: remaining}
	} else {
		stats.RemainingUses = models.RemainingUses{Unlimited: true}
	}
	return stats
}

func (s *Service) resolveForAdmin(ctx context.Context, id, code string) (*models.Coupon, error) {
	c, err := s.store.ResolveCoupon(ctx, id, code)
	if errors.Is(err, resolve.ErrNotFound) {
		return nil, newError(CodeNotFound, "coupon not found", err)
	}
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Resolving coupon id=%q code=%q failed: %v", id, code, err))
		return nil, newError(CodeInternal, "resolve coupon", err)
	}
	return c, nil
}
