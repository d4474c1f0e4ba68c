package stock

import (
	"context"

	"github.com/iandrade/storefront-backend/pkg/db/models"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ledger exposes the per-variant stock counters. Every mutation is a single
// guarded UPDATE so concurrent callers on independent connections cannot
// interleave a read-then-write; the WHERE clause is the only gate.
type Ledger interface {
	Reserve(ctx context.Context, db *gorm.DB, variantID uuid.UUID, qty int) error
	Release(ctx context.Context, db *gorm.DB, variantID uuid.UUID, qty int) error
	Deduct(ctx context.Context, db *gorm.DB, variantID uuid.UUID, qty int) error
	Restock(ctx context.Context, db *gorm.DB, variantID uuid.UUID, qty int) error
	Get(ctx context.Context, db *gorm.DB, variantID uuid.UUID) (*models.VariantStock, error)
}

type ledger struct{}

// NewLedger returns the SQL-backed stock ledger.
func NewLedger() Ledger {
	return ledger{}
}

func validate(db *gorm.DB, variantID uuid.UUID, qty int) error {
	if db == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "database handle required")
	}
	if variantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}

// Reserve moves qty units from available to held. It succeeds only when
// on_hand - held >= qty at the moment the row is updated.
func (ledger) Reserve(ctx context.Context, db *gorm.DB, variantID uuid.UUID, qty int) error {
	if err := validate(db, variantID, qty); err != nil {
		return err
	}
	res := db.WithContext(ctx).Exec(`
		UPDATE variant_stock
		SET held = held + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE variant_id = ? AND on_hand - held >= ?
	`, qty, variantID, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "variant has insufficient available stock").
			WithDetails(map[string]any{"variant_id": variantID.String(), "qty": qty})
	}
	return nil
}

// Release returns qty held units to the available pool, floored at zero so a
// double release cannot drive the counter negative.
func (ledger) Release(ctx context.Context, db *gorm.DB, variantID uuid.UUID, qty int) error {
	if err := validate(db, variantID, qty); err != nil {
		return err
	}
	res := db.WithContext(ctx).Exec(`
		UPDATE variant_stock
		SET held = CASE WHEN held > ? THEN held - ? ELSE 0 END,
			updated_at = CURRENT_TIMESTAMP
		WHERE variant_id = ?
	`, qty, qty, variantID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release stock")
	}
	return nil
}

// Deduct converts qty held units into a permanent sale, decrementing both
// counters. Callers must hold a reservation covering qty; the guard rejects
// anything else.
func (ledger) Deduct(ctx context.Context, db *gorm.DB, variantID uuid.UUID, qty int) error {
	if err := validate(db, variantID, qty); err != nil {
		return err
	}
	res := db.WithContext(ctx).Exec(`
		UPDATE variant_stock
		SET on_hand = on_hand - ?,
			held = held - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE variant_id = ? AND held >= ? AND on_hand >= ?
	`, qty, qty, variantID, qty, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "deduct stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "variant hold does not cover deduction").
			WithDetails(map[string]any{"variant_id": variantID.String(), "qty": qty})
	}
	return nil
}

// Restock adds qty units back to on_hand (cancellation/return path).
func (ledger) Restock(ctx context.Context, db *gorm.DB, variantID uuid.UUID, qty int) error {
	if err := validate(db, variantID, qty); err != nil {
		return err
	}
	res := db.WithContext(ctx).Exec(`
		UPDATE variant_stock
		SET on_hand = on_hand + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE variant_id = ?
	`, qty, variantID)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "restock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "variant stock record not found")
	}
	return nil
}

// Get loads the current counters for a variant.
func (ledger) Get(ctx context.Context, db *gorm.DB, variantID uuid.UUID) (*models.VariantStock, error) {
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "database handle required")
	}
	if variantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
	}
	var record models.VariantStock
	if err := db.WithContext(ctx).First(&record, "variant_id = ?", variantID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant stock record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variant stock")
	}
	return &record, nil
}
