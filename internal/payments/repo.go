package payments

import (
	"context"
	"time"

	"github.com/iandrade/storefront-backend/pkg/db/models"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists payment rows. Every status transition is a guarded
// UPDATE whose WHERE clause carries the precondition, so two concurrent
// confirmations can never both apply.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Payment, error)
	// MarkPaid applies pending -> paid. Returns false when the precondition
	// did not hold (already paid, failed, or unknown).
	MarkPaid(ctx context.Context, providerOrderID, providerPaymentID string, at time.Time) (bool, error)
	// MarkFailed applies pending -> failed with a reason.
	MarkFailed(ctx context.Context, providerOrderID, reason string) (bool, error)
	// MarkRefunded applies paid -> refunded.
	MarkRefunded(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByProviderOrderID(ctx context.Context, providerOrderID string) (*models.Payment, error) {
	var record models.Payment
	if err := r.db.WithContext(ctx).First(&record, "provider_order_id = ?", providerOrderID).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) MarkPaid(ctx context.Context, providerOrderID, providerPaymentID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE payments
		SET status = 'paid',
			provider_payment_id = ?,
			captured_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE provider_order_id = ? AND status = 'pending'
	`, providerPaymentID, at, providerOrderID)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "mark payment paid")
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkFailed(ctx context.Context, providerOrderID, reason string) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE payments
		SET status = 'failed',
			failure_reason = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE provider_order_id = ? AND status = 'pending'
	`, reason, providerOrderID)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "mark payment failed")
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) MarkRefunded(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE payments
		SET status = 'refunded',
			refunded_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE order_id = ? AND status = 'paid'
	`, at, orderID)
	if res.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "mark payment refunded")
	}
	return res.RowsAffected > 0, nil
}
