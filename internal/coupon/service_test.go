package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/iandrade/storefront-backend/pkg/db/models"
	"github.com/iandrade/storefront-backend/pkg/enums"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testSchema = []string{
	`CREATE TABLE IF NOT EXISTS coupons (
		code TEXT PRIMARY KEY,
		discount_type TEXT NOT NULL,
		value INTEGER NOT NULL,
		min_order_cents INTEGER NOT NULL DEFAULT 0,
		max_discount_cents INTEGER,
		usage_limit INTEGER,
		used_count INTEGER NOT NULL DEFAULT 0,
		valid_from DATETIME NOT NULL,
		valid_until DATETIME NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:coupon_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, stmt := range testSchema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func intPtr(v int) *int { return &v }

func seedCoupon(t *testing.T, db *gorm.DB, record models.Coupon) {
	t.Helper()
	if record.ValidFrom.IsZero() {
		record.ValidFrom = time.Now().Add(-time.Hour)
	}
	if record.ValidUntil.IsZero() {
		record.ValidUntil = time.Now().Add(time.Hour)
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("seed coupon: %v", err)
	}
}

func newService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	svc, err := NewService(NewRepository(db))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()
	now := time.Now()

	seedCoupon(t, db, models.Coupon{
		Code: "INACTIVE", DiscountType: enums.DiscountTypeFixed, Value: 500, Active: false,
	})
	seedCoupon(t, db, models.Coupon{
		Code: "EXPIRED", DiscountType: enums.DiscountTypeFixed, Value: 500, Active: true,
		ValidFrom: now.Add(-2 * time.Hour), ValidUntil: now.Add(-time.Hour),
	})
	seedCoupon(t, db, models.Coupon{
		Code: "BIGSPEND", DiscountType: enums.DiscountTypeFixed, Value: 500, Active: true,
		MinOrderCents: 10000,
	})
	seedCoupon(t, db, models.Coupon{
		Code: "USEDUP", DiscountType: enums.DiscountTypeFixed, Value: 500, Active: true,
		UsageLimit: intPtr(3), UsedCount: 3,
	})

	tests := []struct {
		name       string
		code       string
		orderValue int
	}{
		{"unknown code", "NOPE", 5000},
		{"inactive", "INACTIVE", 5000},
		{"expired", "EXPIRED", 5000},
		{"below minimum", "BIGSPEND", 5000},
		{"usage limit reached", "USEDUP", 5000},
		{"empty code", "", 5000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Validate(ctx, tc.code, tc.orderValue, now)
			if !pkgerrors.HasCode(err, pkgerrors.CodeInvalidCoupon) {
				t.Fatalf("expected invalid coupon error, got %v", err)
			}
		})
	}
}

func TestValidateDoesNotMutateUsage(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	seedCoupon(t, db, models.Coupon{
		Code: "KEEP", DiscountType: enums.DiscountTypeFixed, Value: 500, Active: true,
	})

	for i := 0; i < 5; i++ {
		if _, err := svc.Validate(ctx, "keep", 5000, time.Now()); err != nil {
			t.Fatalf("validate %d: %v", i, err)
		}
	}
	var record models.Coupon
	if err := db.First(&record, "code = ?", "KEEP").Error; err != nil {
		t.Fatalf("load coupon: %v", err)
	}
	if record.UsedCount != 0 {
		t.Fatalf("validation must not consume usage, used_count=%d", record.UsedCount)
	}
}

func TestQuotePercentageCappedAtMaxDiscount(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	seedCoupon(t, db, models.Coupon{
		Code: "SAVE20", DiscountType: enums.DiscountTypePercentage, Value: 20,
		MaxDiscountCents: intPtr(300), Active: true,
	})

	quote, err := svc.Quote(ctx, "SAVE20", 2000, time.Now())
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.DiscountCents != 300 {
		t.Fatalf("expected capped discount 300, got %d", quote.DiscountCents)
	}
}

func TestQuoteFixedNeverExceedsSubtotal(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	seedCoupon(t, db, models.Coupon{
		Code: "FLAT", DiscountType: enums.DiscountTypeFixed, Value: 5000, Active: true,
	})

	quote, err := svc.Quote(ctx, "FLAT", 1200, time.Now())
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.DiscountCents != 1200 {
		t.Fatalf("fixed discount must be capped at subtotal, got %d", quote.DiscountCents)
	}
}

func TestQuoteFreeShipping(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	seedCoupon(t, db, models.Coupon{
		Code: "SHIPFREE", DiscountType: enums.DiscountTypeFreeShipping, Value: 0, Active: true,
	})

	quote, err := svc.Quote(ctx, "SHIPFREE", 1200, time.Now())
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.DiscountCents != 0 || !quote.FreeShipping {
		t.Fatalf("expected zero discount with shipping waiver, got %+v", quote)
	}
}

func TestIncrementUsageHonorsLimit(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newService(t, db)
	ctx := context.Background()

	seedCoupon(t, db, models.Coupon{
		Code: "LIMIT2", DiscountType: enums.DiscountTypeFixed, Value: 100,
		UsageLimit: intPtr(2), Active: true,
	})

	if err := svc.IncrementUsage(ctx, "LIMIT2"); err != nil {
		t.Fatalf("first increment: %v", err)
	}
	if err := svc.IncrementUsage(ctx, "limit2"); err != nil {
		t.Fatalf("second increment: %v", err)
	}
	if err := svc.IncrementUsage(ctx, "LIMIT2"); !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict past the limit, got %v", err)
	}

	var record models.Coupon
	if err := db.First(&record, "code = ?", "LIMIT2").Error; err != nil {
		t.Fatalf("load coupon: %v", err)
	}
	if record.UsedCount != 2 {
		t.Fatalf("used_count should stop at the limit, got %d", record.UsedCount)
	}
}
