package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Activity log types written by the coupon service.
const (
	ActivityCouponUsed             = "coupon_used"
	ActivityCouponValidationFailed = "coupon_validation_failed"
	ActivityCouponUsageReset       = "coupon_usage_reset"
)

// ActivityLog is an append-only audit entry.
type ActivityLog struct {
	bun.BaseModel `bun:"table:activity_logs"`

	ID         string                 `bun:"id,pk" json:"id"`
	Type       string                 `bun:"type,notnull" json:"type"`
	CouponID   string                 `bun:"coupon_id,nullzero" json:"couponId,omitempty"`
	CouponCode string                 `bun:"coupon_code,nullzero" json:"couponCode,omitempty"`
	OrderID    string                 `bun:"order_id,nullzero" json:"orderId,omitempty"`
	UserID     string                 `bun:"user_id,nullzero" json:"userId,omitempty"`
	Actor      string                 `bun:"actor,nullzero" json:"actor,omitempty"`
	Message    string                 `bun:"message" json:"message"`
	Metadata   map[string]interface{} `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time              `bun:"created_at,notnull" json:"createdAt"`
}
