package controllers

import (
	"net/http"
	"time"

	"github.com/iandrade/storefront-backend/api/responses"
	"github.com/iandrade/storefront-backend/api/validators"
	couponsvc "github.com/iandrade/storefront-backend/internal/coupon"
	"github.com/iandrade/storefront-backend/pkg/logger"
)

// ValidateCoupon evaluates a coupon against an order value without consuming
// usage. The cart page calls this to preview the discount.
func ValidateCoupon(svc couponsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload validateCouponRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		quote, err := svc.Quote(r.Context(), payload.Code, payload.OrderValueCents, time.Now())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, couponQuoteResponse{
			Code:          quote.Code,
			DiscountCents: quote.DiscountCents,
			FreeShipping:  quote.FreeShipping,
		})
	}
}

type validateCouponRequest struct {
	Code            string `json:"code" validate:"required,max=64"`
	OrderValueCents int    `json:"order_value_cents" validate:"min=0"`
}

type couponQuoteResponse struct {
	Code          string `json:"code"`
	DiscountCents int    `json:"discount_cents"`
	FreeShipping  bool   `json:"free_shipping"`
}
