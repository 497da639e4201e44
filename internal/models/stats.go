package models

import (
	"encoding/json"
	"fmt"
	"time"
)

const Unlimited = "unlimited"

// RemainingUses encodes as a number for limited coupons and as the string
// "unlimited" otherwise.
type RemainingUses struct {
	Unlimited bool
	Count     int
}

func (r RemainingUses) MarshalJSON() ([]byte, error) {
	if r.Unlimited {
		return json.Marshal(Unlimited)
	}
	return json.Marshal(r.Count)
}

func (r *RemainingUses) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != Unlimited {
			return fmt.Errorf("invalid remaining uses %q", s)
		}
		*r = RemainingUses{Unlimited: true}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*r = RemainingUses{Count: n}
	return nil
}

type UsageStats struct {
	CouponID        string        `json:"couponId"`
	CouponCode      string        `json:"couponCode"`
	IsEnabled       bool          `json:"isEnabled"`
	UsageLimit      int           `json:"usageLimit"`
	UsedCount       int           `json:"usedCount"`
	RemainingUses   RemainingUses `json:"remainingUses"`
	IsExpired       bool          `json:"isExpired"`
	ExpiresAt       *time.Time    `json:"expiresAt,omitempty"`
	LastUsedAt      *time.Time    `json:"lastUsedAt,omitempty"`
	LastUsedBy      string        `json:"lastUsedBy,omitempty"`
	LastUsedOrderID string        `json:"lastUsedOrderId,omitempty"`
	ResetAt         *time.Time    `json:"resetAt,omitempty"`
	ResetBy         string        `json:"resetBy,omitempty"`
	ResetType       string        `json:"resetType,omitempty"`
	RecentOrders    []RecentOrder `json:"recentOrders"`
	Users           []UserProfile `json:"users"`
	GeneratedAt     time.Time     `json:"generatedAt"`
}
