package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/iandrade/storefront-backend/internal/cart"
	"github.com/iandrade/storefront-backend/internal/lease"
	"github.com/iandrade/storefront-backend/internal/stock"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"github.com/iandrade/storefront-backend/pkg/logger"
	"github.com/iandrade/storefront-backend/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

// Reservation is the caller-facing view of a live hold.
type Reservation struct {
	ID        string
	UserID    uuid.UUID
	Lines     []lease.Line
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Service owns the reserve-then-confirm-or-expire lifecycle. A hold either
// covers every cart line or does not exist; partial holds are rolled back
// before the error returns.
type Service interface {
	InitiateCheckout(ctx context.Context, userID uuid.UUID) (*Reservation, error)
	// Release frees a hold's stock and deletes its lease. Safe to call for a
	// reservation that already expired or was consumed.
	Release(ctx context.Context, reservationID string) error
}

// ServiceParams configure the reservation manager.
type ServiceParams struct {
	DB      *gorm.DB
	Ledger  stock.Ledger
	Carts   cart.Repository
	Leases  lease.Store
	Logger  *logger.Logger
	Metrics *metrics.CheckoutMetrics
	TTL     time.Duration
}

type service struct {
	db      *gorm.DB
	ledger  stock.Ledger
	carts   cart.Repository
	leases  lease.Store
	logg    *logger.Logger
	metrics *metrics.CheckoutMetrics
	ttl     time.Duration
	now     func() time.Time
}

const defaultTTL = 10 * time.Minute

// NewService builds the reservation manager.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("database handle required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.Leases == nil {
		return nil, fmt.Errorf("lease store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &service{
		db:      params.DB,
		ledger:  params.Ledger,
		carts:   params.Carts,
		leases:  params.Leases,
		logg:    params.Logger,
		metrics: params.Metrics,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

func (s *service) InitiateCheckout(ctx context.Context, userID uuid.UUID) (*Reservation, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	record, err := s.carts.FindActiveByUser(ctx, userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active cart for user")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if len(record.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items")
	}

	reserved := make([]lease.Line, 0, len(record.Items))
	for _, item := range record.Items {
		if err := s.ledger.Reserve(ctx, s.db, item.VariantID, item.Qty); err != nil {
			s.rollback(ctx, reserved)
			if pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
				s.metrics.IncReservation("insufficient_stock")
				s.metrics.IncStockConflict()
			} else {
				s.metrics.IncReservation("error")
			}
			return nil, err
		}
		reserved = append(reserved, lease.Line{VariantID: item.VariantID, Qty: item.Qty})
	}

	now := s.now().UTC()
	entry := lease.Lease{
		ReservationID: uuid.NewString(),
		UserID:        userID,
		Lines:         reserved,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}
	if err := s.leases.Put(ctx, entry, s.ttl); err != nil {
		// Without a lease the hold can never be confirmed or reconciled, so
		// undo it immediately.
		s.rollback(ctx, reserved)
		s.metrics.IncReservation("error")
		return nil, err
	}

	s.metrics.IncReservation("held")
	logCtx := s.logg.WithReservationID(ctx, entry.ReservationID)
	logCtx = s.logg.WithFields(logCtx, map[string]any{"lines": len(reserved), "expires_at": entry.ExpiresAt})
	s.logg.Info(logCtx, "reservation held")

	return &Reservation{
		ID:        entry.ReservationID,
		UserID:    userID,
		Lines:     reserved,
		CreatedAt: now,
		ExpiresAt: entry.ExpiresAt,
	}, nil
}

func (s *service) Release(ctx context.Context, reservationID string) error {
	if reservationID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation id required")
	}
	entry, found, err := s.leases.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if !found {
		// Already expired, released, or confirmed.
		s.logg.Info(s.logg.WithReservationID(ctx, reservationID), "release skipped, lease absent")
		return nil
	}

	var errs error
	remaining := make([]lease.Line, 0, len(entry.Lines))
	for _, line := range entry.Lines {
		if err := s.ledger.Release(ctx, s.db, line.VariantID, line.Qty); err != nil {
			errs = multierr.Append(errs, err)
			remaining = append(remaining, line)
		}
	}
	if errs != nil {
		// Rewrite the lease with only the unreleased lines so a retry cannot
		// free the same units twice. If the rewrite fails too, the original
		// lease expires on its own TTL and the reconciler sweeps the rest.
		entry.Lines = remaining
		if ttl := time.Until(entry.ExpiresAt); ttl > 0 {
			if putErr := s.leases.Put(ctx, *entry, ttl); putErr != nil {
				errs = multierr.Append(errs, putErr)
			}
		}
		return errs
	}
	if err := s.leases.Delete(ctx, reservationID); err != nil {
		return err
	}
	s.logg.Info(s.logg.WithReservationID(ctx, reservationID), "reservation released")
	return nil
}

func (s *service) rollback(ctx context.Context, reserved []lease.Line) {
	for _, line := range reserved {
		if err := s.ledger.Release(ctx, s.db, line.VariantID, line.Qty); err != nil {
			s.logg.Error(ctx, "rollback of partial hold failed", err)
		}
	}
}
