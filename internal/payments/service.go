package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iandrade/storefront-backend/internal/stock"
	"github.com/iandrade/storefront-backend/pkg/db/models"
	"github.com/iandrade/storefront-backend/pkg/enums"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"github.com/iandrade/storefront-backend/pkg/logger"
	"github.com/iandrade/storefront-backend/pkg/metrics"
	"github.com/iandrade/storefront-backend/pkg/outbox"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VerifyInput is the client-side confirmation: the storefront app relays the
// provider's payment id and signature after the user completes payment.
type VerifyInput struct {
	ProviderOrderID   string
	ProviderPaymentID string
	Signature         string
}

// WebhookEvent is the provider's server-to-server notification payload.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ProviderOrderID   string `json:"order_id"`
		ProviderPaymentID string `json:"payment_id"`
		Reason            string `json:"reason,omitempty"`
	} `json:"data"`
}

const (
	webhookTypeCaptured = "payment.captured"
	webhookTypeFailed   = "payment.failed"
)

// Service is the payment confirmation gateway. Both confirmation paths (client
// verify and provider webhook) converge on the same guarded transition, so
// whichever arrives second is a no-op.
type Service interface {
	Verify(ctx context.Context, input VerifyInput) error
	HandleWebhook(ctx context.Context, body []byte, signature string) error
	// Refund moves a paid order to refunded and restocks its items.
	Refund(ctx context.Context, orderID uuid.UUID) error
}

// ServiceParams configure the payment gateway.
type ServiceParams struct {
	DB            *gorm.DB
	Payments      Repository
	Ledger        stock.Ledger
	Outbox        *outbox.Service
	Guard         *IdempotencyGuard
	ClientSigner  *Signer
	WebhookSigner *Signer
	Logger        *logger.Logger
	Metrics       *metrics.CheckoutMetrics
}

type service struct {
	db            *gorm.DB
	payments      Repository
	ledger        stock.Ledger
	outbox        *outbox.Service
	guard         *IdempotencyGuard
	clientSigner  *Signer
	webhookSigner *Signer
	logg          *logger.Logger
	metrics       *metrics.CheckoutMetrics
	now           func() time.Time
}

// NewService builds the payment confirmation gateway.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database handle required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if params.ClientSigner == nil || params.WebhookSigner == nil {
		return nil, fmt.Errorf("signers required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		db:            params.DB,
		payments:      params.Payments,
		ledger:        params.Ledger,
		outbox:        params.Outbox,
		guard:         params.Guard,
		clientSigner:  params.ClientSigner,
		webhookSigner: params.WebhookSigner,
		logg:          params.Logger,
		metrics:       params.Metrics,
		now:           time.Now,
	}, nil
}

func (s *service) Verify(ctx context.Context, input VerifyInput) error {
	if input.ProviderOrderID == "" || input.ProviderPaymentID == "" || input.Signature == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id, payment id and signature are required")
	}
	if !s.clientSigner.VerifyOrderPayment(input.ProviderOrderID, input.ProviderPaymentID, input.Signature) {
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "payment signature does not match")
	}
	return s.confirmPaid(ctx, input.ProviderOrderID, input.ProviderPaymentID)
}

func (s *service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !s.webhookSigner.Verify(body, signature) {
		return pkgerrors.New(pkgerrors.CodeSignatureInvalid, "webhook signature does not match")
	}
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload")
	}
	if event.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event id required")
	}

	duplicate, err := s.guard.CheckAndMarkProcessed(ctx, event.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook dedup check")
	}
	if duplicate {
		s.logg.Info(s.logg.WithField(ctx, "event_id", event.ID), "duplicate webhook skipped")
		return nil
	}

	if err := s.processWebhook(ctx, event); err != nil {
		// Unmark so the provider's redelivery gets another attempt.
		if clearErr := s.guard.Clear(ctx, event.ID); clearErr != nil {
			s.logg.Error(ctx, "clear webhook dedup mark", clearErr)
		}
		return err
	}
	return nil
}

func (s *service) processWebhook(ctx context.Context, event WebhookEvent) error {
	switch event.Type {
	case webhookTypeCaptured:
		return s.confirmPaid(ctx, event.Data.ProviderOrderID, event.Data.ProviderPaymentID)
	case webhookTypeFailed:
		return s.confirmFailed(ctx, event.Data.ProviderOrderID, event.Data.Reason)
	default:
		s.logg.Warn(s.logg.WithField(ctx, "event_type", event.Type), "ignoring unhandled webhook type")
		return nil
	}
}

// confirmPaid applies pending -> paid exactly once. A repeat confirmation for
// an already-paid payment is a successful no-op; any other state is a
// precondition failure.
func (s *service) confirmPaid(ctx context.Context, providerOrderID, providerPaymentID string) error {
	if providerOrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider order id required")
	}
	now := s.now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.payments.WithTx(tx)
		applied, err := repo.MarkPaid(ctx, providerOrderID, providerPaymentID, now)
		if err != nil {
			return err
		}
		if !applied {
			return s.resolveUnapplied(ctx, repo, providerOrderID, enums.PaymentStatusPaid)
		}
		payment, err := repo.FindByProviderOrderID(ctx, providerOrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if err := s.setOrderPaymentStatus(ctx, tx, payment.OrderID, enums.PaymentStatusPaid); err != nil {
			return err
		}
		s.metrics.IncPaymentTransition(string(enums.PaymentStatusPaid))
		s.logg.Info(s.logg.WithOrderID(ctx, payment.OrderID.String()), "payment captured")
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.OrderID,
			Data: map[string]any{
				"provider_order_id":   providerOrderID,
				"provider_payment_id": providerPaymentID,
			},
			Version:    1,
			OccurredAt: now,
		})
	})
}

func (s *service) confirmFailed(ctx context.Context, providerOrderID, reason string) error {
	if providerOrderID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider order id required")
	}
	if reason == "" {
		reason = "payment failed"
	}
	now := s.now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.payments.WithTx(tx)
		applied, err := repo.MarkFailed(ctx, providerOrderID, reason)
		if err != nil {
			return err
		}
		if !applied {
			return s.resolveUnapplied(ctx, repo, providerOrderID, enums.PaymentStatusFailed)
		}
		payment, err := repo.FindByProviderOrderID(ctx, providerOrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
		if err := s.setOrderPaymentStatus(ctx, tx, payment.OrderID, enums.PaymentStatusFailed); err != nil {
			return err
		}
		s.metrics.IncPaymentTransition(string(enums.PaymentStatusFailed))
		s.logg.Warn(s.logg.WithOrderID(ctx, payment.OrderID.String()), "payment failed")
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaymentFailed,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.OrderID,
			Data: map[string]any{
				"provider_order_id": providerOrderID,
				"reason":            reason,
			},
			Version:    1,
			OccurredAt: now,
		})
	})
}

// resolveUnapplied decides whether a rejected transition is a duplicate
// (target state already reached, fine) or a real precondition failure.
func (s *service) resolveUnapplied(ctx context.Context, repo Repository, providerOrderID string, target enums.PaymentStatus) error {
	payment, err := repo.FindByProviderOrderID(ctx, providerOrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").
				WithDetails(map[string]any{"provider_order_id": providerOrderID})
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment.Status == target {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodePaymentState, "payment is not awaiting confirmation").
		WithDetails(map[string]any{
			"provider_order_id": providerOrderID,
			"current_status":    payment.Status,
			"requested_status":  target,
		})
}

func (s *service) Refund(ctx context.Context, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	now := s.now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := s.payments.WithTx(tx).MarkRefunded(ctx, orderID, now)
		if err != nil {
			return err
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodePaymentState, "only paid orders can be refunded").
				WithDetails(map[string]any{"order_id": orderID.String()})
		}
		if err := s.setOrderPaymentStatus(ctx, tx, orderID, enums.PaymentStatusRefunded); err != nil {
			return err
		}

		var items []models.OrderItem
		if err := tx.WithContext(ctx).Find(&items, "order_id = ?", orderID).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
		}
		for _, item := range items {
			if err := s.ledger.Restock(ctx, tx, item.VariantID, item.Qty); err != nil {
				return err
			}
		}

		s.metrics.IncPaymentTransition(string(enums.PaymentStatusRefunded))
		s.logg.Info(s.logg.WithOrderID(ctx, orderID.String()), "order refunded")
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregatePayment,
			AggregateID:   orderID,
			Data:          map[string]any{"order_id": orderID.String()},
			Version:       1,
			OccurredAt:    now,
		})
	})
}

func (s *service) setOrderPaymentStatus(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, status enums.PaymentStatus) error {
	err := tx.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("payment_status", status).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order payment status")
	}
	return nil
}
