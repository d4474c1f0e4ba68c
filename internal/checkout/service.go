package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/iandrade/storefront-backend/internal/address"
	"github.com/iandrade/storefront-backend/internal/cart"
	"github.com/iandrade/storefront-backend/internal/coupon"
	"github.com/iandrade/storefront-backend/internal/lease"
	"github.com/iandrade/storefront-backend/internal/order"
	"github.com/iandrade/storefront-backend/internal/payments"
	"github.com/iandrade/storefront-backend/internal/stock"
	"github.com/iandrade/storefront-backend/pkg/config"
	pkgdb "github.com/iandrade/storefront-backend/pkg/db"
	"github.com/iandrade/storefront-backend/pkg/db/models"
	"github.com/iandrade/storefront-backend/pkg/enums"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"github.com/iandrade/storefront-backend/pkg/logger"
	"github.com/iandrade/storefront-backend/pkg/metrics"
	"github.com/iandrade/storefront-backend/pkg/outbox"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

// CompleteInput carries everything the orchestrator needs to turn the
// caller's cart into a durable order. ReservationID is optional: when empty,
// the cart lines are reserved and deducted inside the order transaction
// instead of consuming a prior hold.
type CompleteInput struct {
	UserID        uuid.UUID
	ReservationID string
	AddressID     uuid.UUID
	PaymentMethod enums.PaymentMethod
	CouponCode    string
}

// Result is returned to the caller once the order transaction has committed.
type Result struct {
	OrderID         uuid.UUID
	OrderNumber     string
	SubtotalCents   int
	ShippingCents   int
	DiscountCents   int
	TotalCents      int
	PaymentMethod   enums.PaymentMethod
	ProviderOrderID string
	// CouponWarning is set when a supplied coupon could not be applied; the
	// order still completes without the discount.
	CouponWarning string
}

// Service turns reservations into orders.
type Service interface {
	Complete(ctx context.Context, input CompleteInput) (*Result, error)
}

// ServiceParams configure the checkout orchestrator.
type ServiceParams struct {
	DB        *gorm.DB
	Ledger    stock.Ledger
	Leases    lease.Store
	Carts     cart.Repository
	Addresses address.Repository
	Orders    order.Repository
	Coupons   coupon.Service
	Provider  payments.ProviderClient
	Outbox    *outbox.Service
	Logger    *logger.Logger
	Metrics   *metrics.CheckoutMetrics
	Checkout  config.CheckoutConfig
}

type service struct {
	db        *gorm.DB
	ledger    stock.Ledger
	leases    lease.Store
	carts     cart.Repository
	addresses address.Repository
	orders    order.Repository
	coupons   coupon.Service
	provider  payments.ProviderClient
	outbox    *outbox.Service
	logg      *logger.Logger
	metrics   *metrics.CheckoutMetrics
	cfg       config.CheckoutConfig
	now       func() time.Time
}

// NewService builds the checkout orchestrator. Provider may be nil when only
// cash-on-delivery is offered.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database handle required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if params.Leases == nil {
		return nil, fmt.Errorf("lease store required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.Addresses == nil {
		return nil, fmt.Errorf("address repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order repository required")
	}
	if params.Coupons == nil {
		return nil, fmt.Errorf("coupon service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		db:        params.DB,
		ledger:    params.Ledger,
		leases:    params.Leases,
		carts:     params.Carts,
		addresses: params.Addresses,
		orders:    params.Orders,
		coupons:   params.Coupons,
		provider:  params.Provider,
		outbox:    params.Outbox,
		logg:      params.Logger,
		metrics:   params.Metrics,
		cfg:       params.Checkout,
		now:       time.Now,
	}, nil
}

func (s *service) Complete(ctx context.Context, input CompleteInput) (*Result, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, input.UserID.String())

	var entry *lease.Lease
	if input.ReservationID != "" {
		ctx = s.logg.WithReservationID(ctx, input.ReservationID)
		held, found, err := s.leases.Get(ctx, input.ReservationID)
		if err != nil {
			return nil, err
		}
		if !found {
			s.metrics.IncCheckout("reservation_missing")
			return nil, pkgerrors.New(pkgerrors.CodeReservationMissing, "reservation expired or not found").
				WithDetails(map[string]any{"reservation_id": input.ReservationID})
		}
		if held.UserID != input.UserID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "reservation belongs to a different user")
		}
		entry = held
	}

	addr, err := s.loadAddress(ctx, input)
	if err != nil {
		return nil, err
	}
	if input.PaymentMethod == enums.PaymentMethodCOD && !s.cfg.CODAllowed(addr.PostalCode) {
		s.metrics.IncCheckout("cod_rejected")
		return nil, pkgerrors.New(pkgerrors.CodePaymentNotAllowed, "cash on delivery is not available for this address").
			WithDetails(map[string]any{"postal_code": addr.PostalCode})
	}

	var cartRecord *models.CartRecord
	if entry != nil {
		cartRecord, err = s.loadMatchingCart(ctx, input.UserID, entry)
	} else {
		cartRecord, err = s.loadActiveCart(ctx, input.UserID)
	}
	if err != nil {
		return nil, err
	}

	var lines []lease.Line
	if entry != nil {
		lines = entry.Lines
	} else {
		lines = make([]lease.Line, 0, len(cartRecord.Items))
		for _, item := range cartRecord.Items {
			lines = append(lines, lease.Line{VariantID: item.VariantID, Qty: item.Qty})
		}
	}

	subtotal := 0
	for _, item := range cartRecord.Items {
		subtotal += item.Qty * item.UnitPriceCents
	}

	now := s.now().UTC()
	discount, freeShipping, appliedCoupon, warning := s.applyCoupon(ctx, input.CouponCode, subtotal, now)

	shipping := s.cfg.FlatShippingCents
	if freeShipping || subtotal >= s.cfg.FreeShippingThresholdCents {
		shipping = 0
	}
	total := subtotal - discount + shipping

	orderNumber := order.NewOrderNumber(now)

	providerOrderID := ""
	if input.PaymentMethod == enums.PaymentMethodOnline {
		if s.provider == nil {
			return nil, pkgerrors.New(pkgerrors.CodePaymentNotAllowed, "online payment is not configured")
		}
		// Provider registration happens before the transaction; on failure the
		// hold stays intact and the caller can retry.
		providerOrderID, err = s.provider.CreateOrder(ctx, total, orderNumber)
		if err != nil {
			s.metrics.IncCheckout("provider_error")
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create provider order")
		}
	}

	record := s.buildOrder(input, addr, cartRecord, orderNumber, appliedCoupon, subtotal, shipping, discount, total, now)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).Create(ctx, record); err != nil {
			if pkgdb.IsUniqueViolation(err, "ux_orders_order_number") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order number collision, retry checkout")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if input.PaymentMethod == enums.PaymentMethodOnline {
			payment := models.Payment{
				ID:              uuid.New(),
				OrderID:         record.ID,
				ProviderOrderID: providerOrderID,
				Method:          input.PaymentMethod,
				Status:          enums.PaymentStatusPending,
				AmountCents:     total,
			}
			if err := tx.Create(&payment).Error; err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
			}
		}
		for _, line := range lines {
			if entry == nil {
				// No prior hold: take one and consume it in the same
				// transaction, so availability is still checked at commit.
				if err := s.ledger.Reserve(ctx, tx, line.VariantID, line.Qty); err != nil {
					return err
				}
			}
			if err := s.ledger.Deduct(ctx, tx, line.VariantID, line.Qty); err != nil {
				return err
			}
		}
		if err := s.carts.WithTx(tx).Convert(ctx, cartRecord.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "convert cart")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   record.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID},
			Data: map[string]any{
				"order_number":   record.OrderNumber,
				"total_cents":    record.TotalCents,
				"payment_method": record.PaymentMethod,
			},
			Version:    1,
			OccurredAt: now,
		})
	})
	if err != nil {
		s.metrics.IncCheckout("tx_failed")
		return nil, err
	}

	s.metrics.IncCheckout("completed")
	ctx = s.logg.WithOrderID(ctx, record.ID.String())
	s.logg.Info(ctx, "checkout committed")

	s.runPostCommit(ctx, input.ReservationID, appliedCoupon)

	return &Result{
		OrderID:         record.ID,
		OrderNumber:     record.OrderNumber,
		SubtotalCents:   subtotal,
		ShippingCents:   shipping,
		DiscountCents:   discount,
		TotalCents:      total,
		PaymentMethod:   input.PaymentMethod,
		ProviderOrderID: providerOrderID,
		CouponWarning:   warning,
	}, nil
}

func (s *service) validateInput(input CompleteInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if input.AddressID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "address id required")
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method")
	}
	return nil
}

func (s *service) loadAddress(ctx context.Context, input CompleteInput) (*models.Address, error) {
	addr, err := s.addresses.FindByID(ctx, input.AddressID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "address not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load address")
	}
	if addr.UserID != input.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "address belongs to a different user")
	}
	return addr, nil
}

// loadActiveCart backs the reservation-less path: the caller's active cart is
// checked out directly, with availability settled inside the transaction.
func (s *service) loadActiveCart(ctx context.Context, userID uuid.UUID) (*models.CartRecord, error) {
	cartRecord, err := s.carts.FindActiveByUser(ctx, userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active cart for user")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if len(cartRecord.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items")
	}
	return cartRecord, nil
}

// loadMatchingCart requires the active cart to still match the reserved lines;
// a cart edited after the reservation began cannot be checked out against it.
func (s *service) loadMatchingCart(ctx context.Context, userID uuid.UUID, entry *lease.Lease) (*models.CartRecord, error) {
	cartRecord, err := s.carts.FindActiveByUser(ctx, userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "active cart no longer exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	reserved := make(map[uuid.UUID]int, len(entry.Lines))
	for _, line := range entry.Lines {
		reserved[line.VariantID] = line.Qty
	}
	if len(cartRecord.Items) != len(reserved) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart changed after the reservation was taken")
	}
	for _, item := range cartRecord.Items {
		if reserved[item.VariantID] != item.Qty {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart changed after the reservation was taken")
		}
	}
	return cartRecord, nil
}

// applyCoupon is deliberately lenient: a coupon that fails validation logs a
// warning and the checkout proceeds at full price rather than failing.
func (s *service) applyCoupon(ctx context.Context, code string, subtotal int, now time.Time) (discount int, freeShipping bool, applied string, warning string) {
	if code == "" {
		return 0, false, "", ""
	}
	quote, err := s.coupons.Quote(ctx, code, subtotal, now)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeInvalidCoupon {
			warning = typed.Message()
			s.logg.Warn(s.logg.WithField(ctx, "coupon_code", coupon.NormalizeCode(code)), "coupon rejected, proceeding without discount")
		} else {
			warning = "coupon could not be evaluated"
			s.logg.Error(ctx, "coupon evaluation failed, proceeding without discount", err)
		}
		return 0, false, "", warning
	}
	return quote.DiscountCents, quote.FreeShipping, quote.Code, ""
}

func (s *service) buildOrder(input CompleteInput, addr *models.Address, cartRecord *models.CartRecord, orderNumber, appliedCoupon string, subtotal, shipping, discount, total int, now time.Time) *models.Order {
	record := &models.Order{
		ID:                uuid.New(),
		OrderNumber:       orderNumber,
		UserID:            input.UserID,
		AddressID:         addr.ID,
		ShipName:          addr.Name,
		ShipLine1:         addr.Line1,
		ShipCity:          addr.City,
		ShipState:         addr.State,
		ShipPostalCode:    addr.PostalCode,
		SubtotalCents:     subtotal,
		ShippingCents:     shipping,
		DiscountCents:     discount,
		TotalCents:        total,
		PaymentMethod:     input.PaymentMethod,
		PaymentStatus:     enums.PaymentStatusPending,
		FulfillmentStatus: enums.FulfillmentStatusPlaced,
		PlacedAt:          now,
	}
	if appliedCoupon != "" {
		record.CouponCode = &appliedCoupon
	}
	for _, item := range cartRecord.Items {
		record.Items = append(record.Items, models.OrderItem{
			ID:             uuid.New(),
			OrderID:        record.ID,
			VariantID:      item.VariantID,
			Name:           item.Name,
			Qty:            item.Qty,
			UnitPriceCents: item.UnitPriceCents,
			SubtotalCents:  item.Qty * item.UnitPriceCents,
		})
	}
	return record
}

// runPostCommit performs the best-effort side effects after the order is
// durable. Failures are logged and counted, never surfaced: the committed
// order is the source of truth and must not be undone.
func (s *service) runPostCommit(ctx context.Context, reservationID, appliedCoupon string) {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(100*time.Millisecond))

	var errs error
	if appliedCoupon != "" {
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := s.coupons.IncrementUsage(ctx, appliedCoupon); err != nil {
				if pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
					// Limit was consumed between quote and commit; nothing to
					// retry, the discount stands on the committed order.
					return err
				}
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("increment coupon usage: %w", err))
		}
	}

	if reservationID != "" {
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := s.leases.Delete(ctx, reservationID); err != nil {
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			// The lease will fall off on its own TTL; the reconciler ignores
			// already-deducted lines because the ledger hold is gone.
			errs = multierr.Append(errs, fmt.Errorf("delete lease: %w", err))
		}
	}

	if errs != nil {
		s.metrics.IncPostCommitFailure()
		s.logg.Error(ctx, "post-commit side effects incomplete", errs)
	}
}
