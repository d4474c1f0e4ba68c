package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/iandrade/storefront-backend/api/responses"
	"github.com/iandrade/storefront-backend/api/validators"
	checkoutsvc "github.com/iandrade/storefront-backend/internal/checkout"
	"github.com/iandrade/storefront-backend/internal/reservation"
	"github.com/iandrade/storefront-backend/pkg/enums"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"github.com/iandrade/storefront-backend/pkg/logger"
)

// InitiateCheckout reserves the caller's active cart and returns the
// reservation handle the completion call needs.
func InitiateCheckout(svc reservation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := validators.UserIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.InitiateCheckout(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newReservationResponse(res))
	}
}

// ReleaseReservation frees a hold early. Releasing an expired or already
// consumed reservation succeeds.
func ReleaseReservation(svc reservation.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := validators.UserIDFromRequest(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reservationID := chi.URLParam(r, "reservationID")
		if err := svc.Release(r.Context(), reservationID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "released"})
	}
}

// CompleteCheckout turns the caller's cart into an order, consuming a prior
// reservation when one is supplied.
func CompleteCheckout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := validators.UserIDFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload completeCheckoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method"))
			return
		}

		result, err := svc.Complete(r.Context(), checkoutsvc.CompleteInput{
			UserID:        userID,
			ReservationID: payload.ReservationID,
			AddressID:     payload.AddressID,
			PaymentMethod: method,
			CouponCode:    payload.CouponCode,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newCompleteResponse(result))
	}
}

type completeCheckoutRequest struct {
	ReservationID string    `json:"reservation_id,omitempty"`
	AddressID     uuid.UUID `json:"address_id" validate:"required"`
	PaymentMethod string    `json:"payment_method" validate:"required"`
	CouponCode    string    `json:"coupon_code,omitempty" validate:"omitempty,max=64"`
}

type reservationResponse struct {
	ReservationID string    `json:"reservation_id"`
	ExpiresAt     time.Time `json:"expires_at"`
	Lines         int       `json:"lines"`
}

func newReservationResponse(res *reservation.Reservation) reservationResponse {
	return reservationResponse{
		ReservationID: res.ID,
		ExpiresAt:     res.ExpiresAt,
		Lines:         len(res.Lines),
	}
}

type completeResponse struct {
	OrderID         uuid.UUID `json:"order_id"`
	OrderNumber     string    `json:"order_number"`
	SubtotalCents   int       `json:"subtotal_cents"`
	ShippingCents   int       `json:"shipping_cents"`
	DiscountCents   int       `json:"discount_cents"`
	TotalCents      int       `json:"total_cents"`
	PaymentMethod   string    `json:"payment_method"`
	ProviderOrderID string    `json:"provider_order_id,omitempty"`
	CouponWarning   string    `json:"coupon_warning,omitempty"`
}

func newCompleteResponse(result *checkoutsvc.Result) completeResponse {
	return completeResponse{
		OrderID:         result.OrderID,
		OrderNumber:     result.OrderNumber,
		SubtotalCents:   result.SubtotalCents,
		ShippingCents:   result.ShippingCents,
		DiscountCents:   result.DiscountCents,
		TotalCents:      result.TotalCents,
		PaymentMethod:   string(result.PaymentMethod),
		ProviderOrderID: result.ProviderOrderID,
		CouponWarning:   result.CouponWarning,
	}
}
