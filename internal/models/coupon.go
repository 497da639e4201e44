package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Reset types accepted by the admin reset operation.
const (
	ResetAll   = "all"
	ResetCount = "count"
	ResetUsers = "users"
)

type Coupon struct {
	bun.BaseModel `bun:"table:coupons"`

	ID         string     `bun:"id,pk" json:"id"`
	Code       string     `bun:"code" json:"code"`
	IsEnabled  bool       `bun:"is_enabled" json:"isEnabled"`
	ExpiresAt  *time.Time `bun:"expires_at" json:"expiresAt,omitempty"`
	UsageLimit int        `bun:"usage_limit" json:"usageLimit"`
	UsedCount  int        `bun:"used_count" json:"usedCount"`
	UsedBy     []string   `bun:"used_by,type:jsonb" json:"usedBy"`

	LastUsedAt      *time.Time `bun:"last_used_at" json:"lastUsedAt,omitempty"`
	LastUsedBy      string     `bun:"last_used_by,nullzero" json:"lastUsedBy,omitempty"`
	LastUsedOrderID string     `bun:"last_used_order_id,nullzero" json:"lastUsedOrderId,omitempty"`

	ResetBy   string     `bun:"reset_by,nullzero" json:"resetBy,omitempty"`
	ResetAt   *time.Time `bun:"reset_at" json:"resetAt,omitempty"`
	ResetType string     `bun:"reset_type,nullzero" json:"resetType,omitempty"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero" json:"updatedAt,omitempty"`
}

// Limited reports whether the coupon enforces a usage limit.
func (c *Coupon) Limited() bool {
	return c.UsageLimit > 0
}

// IsExpired reports whether the coupon expired strictly before now.
func (c *Coupon) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// HasUser reports whether userID is already recorded in UsedBy.
func (c *Coupon) HasUser(userID string) bool {
	for _, u := range c.UsedBy {
		if u == userID {
			return true
		}
	}
	return false
}

// Redemption links an order to the usage unit it consumed.
type Redemption struct {
	bun.BaseModel `bun:"table:coupon_redemptions"`

	OrderID    string    `bun:"order_id,pk" json:"orderId"`
	CouponID   string    `bun:"coupon_id,notnull" json:"couponId"`
	UserID     string    `bun:"user_id,notnull" json:"userId"`
	UsedCount  int       `bun:"used_count" json:"usedCount"`
	RedeemedAt time.Time `bun:"redeemed_at,notnull" json:"redeemedAt"`
}
