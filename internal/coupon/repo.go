package coupon

import (
	"context"

	"github.com/iandrade/storefront-backend/pkg/db/models"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"gorm.io/gorm"
)

// Repository manages coupon persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
	// IncrementUsage bumps used_count, refusing to pass the usage limit. The
	// guard lives in the UPDATE itself so concurrent confirmations cannot
	// both take the last use.
	IncrementUsage(ctx context.Context, code string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a coupon repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var record models.Coupon
	if err := r.db.WithContext(ctx).First(&record, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) IncrementUsage(ctx context.Context, code string) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE coupons
		SET used_count = used_count + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE code = ? AND (usage_limit IS NULL OR used_count < usage_limit)
	`, code)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment coupon usage")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "coupon usage limit reached or coupon missing")
	}
	return nil
}
