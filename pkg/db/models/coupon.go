package models

import (
	"time"

	"github.com/iandrade/storefront-backend/pkg/enums"
)

// Coupon is keyed by its upper-cased code. used_count moves only through the
// guarded increment in internal/coupon, once per confirmed order.
type Coupon struct {
	Code             string             `gorm:"column:code;primaryKey"`
	DiscountType     enums.DiscountType `gorm:"column:discount_type;type:text;not null"`
	Value            int                `gorm:"column:value;not null"`
	MinOrderCents    int                `gorm:"column:min_order_cents;not null;default:0"`
	MaxDiscountCents *int               `gorm:"column:max_discount_cents"`
	UsageLimit       *int               `gorm:"column:usage_limit"`
	UsedCount        int                `gorm:"column:used_count;not null;default:0"`
	ValidFrom        time.Time          `gorm:"column:valid_from;not null"`
	ValidUntil       time.Time          `gorm:"column:valid_until;not null"`
	// No default tag on Active: gorm would skip the column for false and let
	// the database default flip the row back to active. The migration still
	// defaults the column for out-of-band inserts.
	Active           bool               `gorm:"column:active;not null"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
