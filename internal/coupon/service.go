package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/iandrade/storefront-backend/pkg/db/models"
	"github.com/iandrade/storefront-backend/pkg/enums"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Quote is the result of evaluating a coupon against an order subtotal.
type Quote struct {
	Code          string
	DiscountCents int
	FreeShipping  bool
}

// Service validates coupons and computes discounts. Validation never mutates
// state; used_count moves only through IncrementUsage, which the checkout
// orchestrator calls after the order is durable.
type Service interface {
	Validate(ctx context.Context, code string, orderValueCents int, now time.Time) (*models.Coupon, error)
	Quote(ctx context.Context, code string, subtotalCents int, now time.Time) (*Quote, error)
	IncrementUsage(ctx context.Context, code string) error
	WithTx(tx *gorm.DB) Service
}

type service struct {
	repo Repository
}

// NewService wires a coupon service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("coupon repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx)}
}

// NormalizeCode upper-cases and trims a raw coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *service) Validate(ctx context.Context, code string, orderValueCents int, now time.Time) (*models.Coupon, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidCoupon, "coupon code required")
	}
	record, err := s.repo.FindByCode(ctx, normalized)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidCoupon, "coupon not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}
	if !record.Active {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidCoupon, "coupon is inactive")
	}
	if now.Before(record.ValidFrom) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidCoupon, "coupon is not yet valid")
	}
	if now.After(record.ValidUntil) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidCoupon, "coupon has expired")
	}
	if orderValueCents < record.MinOrderCents {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidCoupon,
			fmt.Sprintf("order value below coupon minimum of %d cents", record.MinOrderCents))
	}
	if record.UsageLimit != nil && record.UsedCount >= *record.UsageLimit {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidCoupon, "coupon usage limit reached")
	}
	return record, nil
}

func (s *service) Quote(ctx context.Context, code string, subtotalCents int, now time.Time) (*Quote, error) {
	record, err := s.Validate(ctx, code, subtotalCents, now)
	if err != nil {
		return nil, err
	}
	quote := ComputeQuote(record, subtotalCents)
	return &quote, nil
}

// ComputeQuote derives the discount for an already-validated coupon. Pure.
func ComputeQuote(record *models.Coupon, subtotalCents int) Quote {
	quote := Quote{Code: record.Code}
	switch record.DiscountType {
	case enums.DiscountTypePercentage:
		discount := decimal.NewFromInt(int64(subtotalCents)).
			Mul(decimal.NewFromInt(int64(record.Value))).
			Div(decimal.NewFromInt(100)).
			IntPart()
		if record.MaxDiscountCents != nil && discount > int64(*record.MaxDiscountCents) {
			discount = int64(*record.MaxDiscountCents)
		}
		if discount > int64(subtotalCents) {
			discount = int64(subtotalCents)
		}
		quote.DiscountCents = int(discount)
	case enums.DiscountTypeFixed:
		discount := record.Value
		if discount > subtotalCents {
			discount = subtotalCents
		}
		quote.DiscountCents = discount
	case enums.DiscountTypeFreeShipping:
		quote.FreeShipping = true
	}
	return quote
}

func (s *service) IncrementUsage(ctx context.Context, code string) error {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon code required")
	}
	return s.repo.IncrementUsage(ctx, normalized)
}
