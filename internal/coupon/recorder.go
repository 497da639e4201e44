package coupon

import (
	"context"
	"fmt"
	"time"

	"ms-coupons/internal/logger"
	"ms-coupons/internal/models"

	"github.com/google/uuid"
)

// Recorder persists redemption outcomes after the usage transaction has
// finished. Every write is best-effort: failures are logged and never
// reach the caller, so they cannot undo or replay a committed redemption.
type Recorder struct {
	store     Store
	publisher OutcomePublisher
	log       *logger.Logger
	now       func() time.Time
}

// Record writes the order annotation, the activity log entry and the
// outcome event for out. A replayed outcome was already logged on first
// delivery and gets no new activity entry.
func (r *Recorder) Record(ctx context.Context, order models.Order, out Outcome) {
	at := r.now().UTC()
	r.annotate(ctx, order.ID, out.Validation(at))
	if !out.Replayed {
		r.logActivity(ctx, order, out, at)
	}

	r.publish(ctx, outcomeEvent(order, out, at))
}

// Republish emits the outcome event without touching the order or the
// activity log.
func (r *Recorder) Republish(ctx context.Context, order models.Order, out Outcome) {
	r.publish(ctx, outcomeEvent(order, out, r.now().UTC()))
}

func outcomeEvent(order models.Order, out Outcome, at time.Time) models.CouponOutcomeEvent {
	return models.CouponOutcomeEvent{
		OrderID:    order.ID,
		CouponID:   out.CouponID,
		CouponCode: out.CouponCode,
		UserID:     out.UserID,
		IsValid:    out.Valid,
		Reason:     out.Reason,
		UsageLimit: out.UsageLimit,
		UsedCount:  out.UsedCount,
		OccurredAt: at,
	}
}

func (r *Recorder) logActivity(ctx context.Context, order models.Order, out Outcome, at time.Time) {
	entry := &models.ActivityLog{
		ID:         uuid.NewString(),
		CouponID:   out.CouponID,
		CouponCode: out.CouponCode,
		OrderID:    order.ID,
		UserID:     out.UserID,
		Metadata:   orderMetadata(order, out),
		CreatedAt:  at,
	}
	if out.Valid {
		entry.Type = models.ActivityCouponUsed
		entry.Message = fmt.Sprintf("Coupon %s used on order %s (%d/%s)", out.CouponCode, order.ID, out.UsedCount, limitLabel(out.UsageLimit))
	} else {
		entry.Type = models.ActivityCouponValidationFailed
		entry.Message = fmt.Sprintf("Coupon %s rejected for order %s: %s", out.CouponCode, order.ID, out.Reason)
	}
	r.appendActivity(ctx, entry)
}

// RecordNotFound annotates an order whose coupon could not be resolved.
func (r *Recorder) RecordNotFound(ctx context.Context, order models.Order) {
	at := r.now().UTC()
	r.annotate(ctx, order.ID, &models.CouponValidation{
		IsValid:     false,
		Reason:      ReasonNotFound,
		ValidatedAt: at,
		CouponCode:  order.CouponCode,
		UserID:      order.AuthorID,
	})
	r.publish(ctx, models.CouponOutcomeEvent{
		OrderID:    order.ID,
		CouponID:   order.CouponID,
		CouponCode: order.CouponCode,
		UserID:     order.AuthorID,
		Reason:     ReasonNotFound,
		OccurredAt: at,
	})
}

// RecordFailure leaves an error-shaped annotation on the order when the
// workflow failed unexpectedly.
func (r *Recorder) RecordFailure(ctx context.Context, order models.Order, cause error) {
	r.log.Error("COUPON", fmt.Sprintf("Coupon processing failed for order %s: %v", order.ID, cause))
	r.annotate(ctx, order.ID, &models.CouponValidation{
		IsValid:     false,
		Reason:      fmt.Sprintf("%s: %v", ReasonInternalError, cause),
		ValidatedAt: r.now().UTC(),
		CouponCode:  order.CouponCode,
		UserID:      order.AuthorID,
	})
}

func (r *Recorder) annotate(ctx context.Context, orderID string, v *models.CouponValidation) {
	found, err := r.store.UpdateOrderValidation(ctx, orderID, v)
	if err != nil {
		r.log.Error("DATABASE", fmt.Sprintf("Failed to write coupon validation on order %s: %v", orderID, err))
		return
	}
	if !found {
		r.log.Warn("DATABASE", fmt.Sprintf("Order %s not found, coupon validation not written", orderID))
	}
}

func (r *Recorder) appendActivity(ctx context.Context, entry *models.ActivityLog) {
	if err := r.store.InsertActivity(ctx, entry); err != nil {
		r.log.Error("DATABASE", fmt.Sprintf("Failed to append %s activity for order %s: %v", entry.Type, entry.OrderID, err))
	}
}

func (r *Recorder) publish(ctx context.Context, event models.CouponOutcomeEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishOutcome(ctx, event); err != nil {
		r.log.Error("KAFKA", fmt.Sprintf("Failed to publish coupon outcome for order %s: %v", event.OrderID, err))
	}
}

func orderMetadata(order models.Order, out Outcome) map[string]interface{} {
	return map[string]interface{}{
		"orderAmount": order.Total,
		"discount":    order.Discount,
		"vendorId":    order.VendorID,
		"orderStatus": order.Status,
		"reason":      out.Reason,
		"usageLimit":  out.UsageLimit,
		"usedCount":   out.UsedCount,
	}
}

func limitLabel(limit int) string {
	if limit == 0 {
		return models.Unlimited
	}
	return fmt.Sprint(limit)
}
