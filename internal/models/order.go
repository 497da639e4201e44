package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Order struct {
	bun.BaseModel `bun:"table:restaurant_orders"`

	ID         string    `bun:"id,pk" json:"id"`
	AuthorID   string    `bun:"author_id" json:"authorID"`
	CouponID   string    `bun:"coupon_id,nullzero" json:"couponId,omitempty"`
	CouponCode string    `bun:"coupon_code,nullzero" json:"couponCode,omitempty"`
	VendorID   string    `bun:"vendor_id,nullzero" json:"vendorID,omitempty"`
	Status     string    `bun:"status" json:"status"`
	Total      float64   `bun:"total" json:"total"`
	Discount   float64   `bun:"discount" json:"discount"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`

	CouponValidation *CouponValidation `bun:"coupon_validation,type:jsonb" json:"couponValidation,omitempty"`
}

// HasCoupon reports whether the order references a coupon by id or code.
func (o *Order) HasCoupon() bool {
	return o.CouponID != "" || o.CouponCode != ""
}

// CouponValidation is the diagnostic annotation written onto an order
// once its coupon has been evaluated.
type CouponValidation struct {
	IsValid     bool      `json:"isValid"`
	Reason      string    `json:"reason"`
	ValidatedAt time.Time `json:"validatedAt"`
	CouponCode  string    `json:"couponCode,omitempty"`
	UsageLimit  int       `json:"usageLimit"`
	UsedCount   int       `json:"usedCount"`
	UserID      string    `json:"userId,omitempty"`
}

// RecentOrder is the reduced order view returned with usage statistics.
type RecentOrder struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorID"`
	VendorID  string    `json:"vendorID,omitempty"`
	Status    string    `json:"status"`
	Total     float64   `json:"total"`
	Discount  float64   `json:"discount"`
	CreatedAt time.Time `json:"createdAt"`
}
