package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iandrade/storefront-backend/api/controllers"
	"github.com/iandrade/storefront-backend/api/middleware"
	checkoutsvc "github.com/iandrade/storefront-backend/internal/checkout"
	couponsvc "github.com/iandrade/storefront-backend/internal/coupon"
	"github.com/iandrade/storefront-backend/internal/payments"
	"github.com/iandrade/storefront-backend/internal/reservation"
	"github.com/iandrade/storefront-backend/pkg/db"
	"github.com/iandrade/storefront-backend/pkg/logger"
	pkgredis "github.com/iandrade/storefront-backend/pkg/redis"
)

type RouterParams struct {
	Logger      *logger.Logger
	DBPinger    db.Pinger
	RedisPinger pkgredis.Pinger
	IdemStore   pkgredis.IdempotencyStore
	Registry    *prometheus.Registry

	Reservations reservation.Service
	Checkout     checkoutsvc.Service
	Coupons      couponsvc.Service
	Payments     payments.Service
}

func NewRouter(p RouterParams) http.Handler {
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Get("/healthz", controllers.Health(p.DBPinger, p.RedisPinger, logg))
	if p.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))
	}

	// The provider signs the raw body; this route must stay outside the
	// idempotency middleware so the body is never consumed twice.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payment", controllers.PaymentWebhook(p.Payments, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(p.IdemStore, logg))

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/reservations", controllers.InitiateCheckout(p.Reservations, logg))
			r.Delete("/reservations/{reservationID}", controllers.ReleaseReservation(p.Reservations, logg))
			r.Post("/complete", controllers.CompleteCheckout(p.Checkout, logg))
		})

		r.Post("/coupons/validate", controllers.ValidateCoupon(p.Coupons, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/verify", controllers.VerifyPayment(p.Payments, logg))
			r.Post("/refund", controllers.RefundOrder(p.Payments, logg))
		})
	})

	return r
}
