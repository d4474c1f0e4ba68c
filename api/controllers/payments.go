package controllers

import (
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/iandrade/storefront-backend/api/responses"
	"github.com/iandrade/storefront-backend/api/validators"
	"github.com/iandrade/storefront-backend/internal/payments"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"github.com/iandrade/storefront-backend/pkg/logger"
)

// ProviderSignatureHeader carries the provider's webhook body signature.
const ProviderSignatureHeader = "X-Provider-Signature"

const maxWebhookBody = 1 << 20

// VerifyPayment confirms a payment from the storefront client after the
// provider redirects back with a signed (order, payment) pair.
func VerifyPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := validators.UserIDFromRequest(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload verifyPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		err := svc.Verify(r.Context(), payments.VerifyInput{
			ProviderOrderID:   payload.ProviderOrderID,
			ProviderPaymentID: payload.ProviderPaymentID,
			Signature:         payload.Signature,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "confirmed"})
	}
}

// PaymentWebhook receives the provider's server-to-server notifications. The
// raw body is what the signature covers, so it is read before any decoding.
func PaymentWebhook(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read webhook body"))
			return
		}
		signature := r.Header.Get(ProviderSignatureHeader)
		if err := svc.HandleWebhook(r.Context(), body, signature); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "accepted"})
	}
}

// RefundOrder refunds a paid order and restocks its items.
func RefundOrder(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := validators.UserIDFromRequest(r); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Refund(r.Context(), payload.OrderID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "refunded"})
	}
}

type verifyPaymentRequest struct {
	ProviderOrderID   string `json:"provider_order_id" validate:"required"`
	ProviderPaymentID string `json:"provider_payment_id" validate:"required"`
	Signature         string `json:"signature" validate:"required"`
}

type refundRequest struct {
	OrderID uuid.UUID `json:"order_id" validate:"required"`
}
