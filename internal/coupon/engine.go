package coupon

import (
	"context"
	"fmt"
	"time"

	"ms-coupons/internal/coupon/db"
	"ms-coupons/internal/models"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome reasons. Everything except ReasonValid is a rejection.
const (
	ReasonValid         = "valid"
	ReasonDisabled      = "disabled"
	ReasonExpired       = "expired"
	ReasonLimitReached  = "limit_reached"
	ReasonAlreadyUsed   = "already_used_by_user"
	ReasonNotFound      = "Coupon not found"
	ReasonInternalError = "internal_error"
)

type Decision struct {
	Valid  bool
	Reason string
}

// Evaluate applies the redemption checks in order and returns the first
// failure. The per-user check only applies to limited coupons.
func Evaluate(c *models.Coupon, userID string, now time.Time) Decision {
	if !c.IsEnabled {
		return Decision{Reason: ReasonDisabled}
	}
	if c.IsExpired(now) {
		return Decision{Reason: ReasonExpired}
	}
	if c.Limited() {
		if c.UsedCount >= c.UsageLimit {
			return Decision{Reason: ReasonLimitReached}
		}
		if c.HasUser(userID) {
			return Decision{Reason: ReasonAlreadyUsed}
		}
	}
	return Decision{Valid: true, Reason: ReasonValid}
}

// applyRedemption consumes one use of c for userID. UsedBy keeps set
// semantics even for unlimited coupons.
func applyRedemption(c *models.Coupon, userID, orderID string, now time.Time) {
	c.UsedCount++
	if !c.HasUser(userID) {
		c.UsedBy = append(c.UsedBy, userID)
	}
	c.LastUsedAt = &now
	c.LastUsedBy = userID
	c.LastUsedOrderID = orderID
}

var usageColumns = []string{"used_count", "used_by", "last_used_at", "last_used_by", "last_used_order_id"}

// Outcome is the result of one redemption attempt.
type Outcome struct {
	Valid      bool   `json:"isValid"`
	Reason     string `json:"reason"`
	CouponID   string `json:"couponId"`
	CouponCode string `json:"couponCode"`
	UsageLimit int    `json:"usageLimit"`
	UsedCount  int    `json:"usedCount"`
	UserID     string `json:"userId"`
	OrderID    string `json:"orderId"`
	// Replayed is set when the order had already redeemed the coupon and
	// nothing was written.
	Replayed bool `json:"replayed,omitempty"`
}

func (o Outcome) Validation(at time.Time) *models.CouponValidation {
	return &models.CouponValidation{
		IsValid:     o.Valid,
		Reason:      o.Reason,
		ValidatedAt: at,
		CouponCode:  o.CouponCode,
		UsageLimit:  o.UsageLimit,
		UsedCount:   o.UsedCount,
		UserID:      o.UserID,
	}
}

// Redeem evaluates and, when eligible, records one use of the coupon for
// the order. The coupon is re-read inside the transaction, and the body
// only touches the coupon row and the redemption ledger, so a conflicted
// attempt can be replayed as is. Returns resolve.ErrNotFound if the coupon
// disappeared after it was resolved.
func (s *Service) Redeem(ctx context.Context, couponID, userID, orderID string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "coupon.Redeem", trace.WithAttributes(
		attribute.String("coupon.id", couponID),
		attribute.String("order.id", orderID),
	))
	defer span.End()

	start := time.Now()
	var out Outcome
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx *db.Tx) error {
		prior, err := tx.RedemptionByOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load redemption: %w", err)
		}

		c, err := tx.CouponByID(ctx, couponID)
		if err != nil {
			return err
		}

		out = Outcome{
			CouponID:   c.ID,
			CouponCode: c.Code,
			UsageLimit: c.UsageLimit,
			UsedCount:  c.UsedCount,
			UserID:     userID,
			OrderID:    orderID,
		}

		if prior != nil {
			out.Valid = true
			out.Reason = ReasonValid
			out.UsedCount = prior.UsedCount
			out.Replayed = true
			return nil
		}

		now := s.now().UTC()
		d := Evaluate(c, userID, now)
		out.Reason = d.Reason
		if !d.Valid {
			return nil
		}

		applyRedemption(c, userID, orderID, now)
		if err := tx.UpdateCoupon(ctx, c, usageColumns...); err != nil {
			return fmt.Errorf("update coupon usage: %w", err)
		}
		err = tx.InsertRedemption(ctx, &models.Redemption{
			OrderID:    orderID,
			CouponID:   c.ID,
			UserID:     userID,
			UsedCount:  c.UsedCount,
			RedeemedAt: now,
		})
		if err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}

		out.Valid = true
		out.UsedCount = c.UsedCount
		return nil
	})
	s.metrics.ObserveTx(time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, err
	}

	span.SetAttributes(
		attribute.Bool("coupon.valid", out.Valid),
		attribute.String("coupon.reason", out.Reason),
		attribute.Int("coupon.used_count", out.UsedCount),
	)
	return out, nil
}
