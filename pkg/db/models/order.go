package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/iandrade/storefront-backend/pkg/enums"
)

// Order is the durable record produced by a confirmed checkout. The row and
// its items are created in one transaction together with the permanent stock
// deduction; payment_status is the only field mutated asynchronously.
type Order struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber       string                  `gorm:"column:order_number;not null;uniqueIndex:ux_orders_order_number"`
	UserID            uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	AddressID         uuid.UUID               `gorm:"column:address_id;type:uuid;not null"`
	ShipName          string                  `gorm:"column:ship_name;not null"`
	ShipLine1         string                  `gorm:"column:ship_line1;not null"`
	ShipCity          string                  `gorm:"column:ship_city;not null"`
	ShipState         string                  `gorm:"column:ship_state;not null"`
	ShipPostalCode    string                  `gorm:"column:ship_postal_code;not null"`
	SubtotalCents     int                     `gorm:"column:subtotal_cents;not null"`
	ShippingCents     int                     `gorm:"column:shipping_cents;not null;default:0"`
	DiscountCents     int                     `gorm:"column:discount_cents;not null;default:0"`
	TotalCents        int                     `gorm:"column:total_cents;not null"`
	CouponCode        *string                 `gorm:"column:coupon_code"`
	PaymentMethod     enums.PaymentMethod     `gorm:"column:payment_method;type:text;not null"`
	PaymentStatus     enums.PaymentStatus     `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	FulfillmentStatus enums.FulfillmentStatus `gorm:"column:fulfillment_status;type:text;not null;default:'placed'"`
	Items             []OrderItem             `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment           *Payment                `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	PlacedAt          time.Time               `gorm:"column:placed_at;not null"`
	ShippedAt         *time.Time              `gorm:"column:shipped_at"`
	DeliveredAt       *time.Time              `gorm:"column:delivered_at"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
