package models

import "time"

// OrderCreatedEvent is the payload of the order-created topic. It carries
// the full order document as written by the ordering subsystem.
type OrderCreatedEvent struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorID"`
	CouponID   string    `json:"couponId,omitempty"`
	CouponCode string    `json:"couponCode,omitempty"`
	VendorID   string    `json:"vendorID,omitempty"`
	Status     string    `json:"status"`
	Total      float64   `json:"total"`
	Discount   float64   `json:"discount"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (e OrderCreatedEvent) Order() Order {
	return Order{
		ID:         e.ID,
		AuthorID:   e.AuthorID,
		CouponID:   e.CouponID,
		CouponCode: e.CouponCode,
		VendorID:   e.VendorID,
		Status:     e.Status,
		Total:      e.Total,
		Discount:   e.Discount,
		CreatedAt:  e.CreatedAt,
	}
}

// CouponOutcomeEvent is published after every redemption attempt.
type CouponOutcomeEvent struct {
	OrderID    string    `json:"orderId"`
	CouponID   string    `json:"couponId,omitempty"`
	CouponCode string    `json:"couponCode,omitempty"`
	UserID     string    `json:"userId"`
	IsValid    bool      `json:"isValid"`
	Reason     string    `json:"reason"`
	UsageLimit int       `json:"usageLimit"`
	UsedCount  int       `json:"usedCount"`
	OccurredAt time.Time `json:"occurredAt"`
}
