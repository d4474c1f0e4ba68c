package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/iandrade/storefront-backend/pkg/enums"
)

// Payment tracks the provider-side payment attached to an order.
type Payment struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	ProviderOrderID   string              `gorm:"column:provider_order_id;not null;index"`
	ProviderPaymentID *string             `gorm:"column:provider_payment_id"`
	Method            enums.PaymentMethod `gorm:"column:method;type:text;not null"`
	Status            enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	AmountCents       int                 `gorm:"column:amount_cents;not null"`
	FailureReason     *string             `gorm:"column:failure_reason"`
	CapturedAt        *time.Time          `gorm:"column:captured_at"`
	RefundedAt        *time.Time          `gorm:"column:refunded_at"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
