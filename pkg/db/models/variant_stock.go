package models

import (
	"time"

	"github.com/google/uuid"
)

// VariantStock tracks on-hand and held units per product variant.
// available = on_hand - held; both counters only move through the
// guarded UPDATE statements in internal/stock.
type VariantStock struct {
	VariantID uuid.UUID `gorm:"column:variant_id;type:uuid;primaryKey"`
	OnHand    int       `gorm:"column:on_hand;not null;default:0"`
	Held      int       `gorm:"column:held;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName keeps the model on the singular table the guarded UPDATE
// statements in internal/stock address.
func (VariantStock) TableName() string {
	return "variant_stock"
}

// Available returns the quantity sellable right now.
func (v VariantStock) Available() int {
	return v.OnHand - v.Held
}
