package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/iandrade/storefront-backend/internal/lease"
	"github.com/iandrade/storefront-backend/internal/stock"
	"github.com/iandrade/storefront-backend/pkg/db/models"
	"github.com/iandrade/storefront-backend/pkg/logger"
	"github.com/iandrade/storefront-backend/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

// reconcileGrace is how long a held row must sit untouched before the job
// considers releasing it. Every ledger mutation bumps updated_at, so a row
// inside the window may belong to a reservation whose lease write is still in
// flight between Reserve and Put.
const reconcileGrace = time.Minute

// ReconcileHoldsJob releases held stock whose lease has expired. The lease TTL
// is the authority on reservation lifetime; when a lease dies before release
// or checkout, its held units stay orphaned in the ledger until this job
// returns them. Bounded staleness is TTL plus the worker interval.
type ReconcileHoldsJob struct {
	db      *gorm.DB
	ledger  stock.Ledger
	leases  lease.Store
	logg    *logger.Logger
	metrics *metrics.CheckoutMetrics
	grace   time.Duration
	now     func() time.Time
}

// NewReconcileHoldsJob builds the hold reconciliation job.
func NewReconcileHoldsJob(db *gorm.DB, ledger stock.Ledger, leases lease.Store, logg *logger.Logger, m *metrics.CheckoutMetrics) (*ReconcileHoldsJob, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if leases == nil {
		return nil, fmt.Errorf("lease store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &ReconcileHoldsJob{
		db:      db,
		ledger:  ledger,
		leases:  leases,
		logg:    logg,
		metrics: m,
		grace:   reconcileGrace,
		now:     time.Now,
	}, nil
}

func (j *ReconcileHoldsJob) Name() string { return "reconcile-holds" }

func (j *ReconcileHoldsJob) Run(ctx context.Context) error {
	// Snapshot the held rows before listing leases. A reservation taken
	// between the two reads then shows up in the lease sum but not in the
	// snapshot, so the race can only shrink the computed excess, never free
	// a hold that has a live lease.
	var heldRows []models.VariantStock
	if err := j.db.WithContext(ctx).Where("held > 0").Find(&heldRows).Error; err != nil {
		return fmt.Errorf("load held stock: %w", err)
	}

	active, err := j.leases.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active leases: %w", err)
	}
	leased := make(map[uuid.UUID]int)
	for _, l := range active {
		for _, line := range l.Lines {
			leased[line.VariantID] += line.Qty
		}
	}

	cutoff := j.now().Add(-j.grace)

	var errs error
	freed := 0
	for _, row := range heldRows {
		if row.UpdatedAt.After(cutoff) {
			// Touched too recently; revisit on the next cycle.
			continue
		}
		excess := row.Held - leased[row.VariantID]
		if excess <= 0 {
			continue
		}
		if err := j.ledger.Release(ctx, j.db, row.VariantID, excess); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("release %s: %w", row.VariantID, err))
			continue
		}
		freed += excess
		rowCtx := j.logg.WithFields(ctx, map[string]any{
			"variant_id": row.VariantID.String(),
			"released":   excess,
		})
		j.logg.Info(rowCtx, "orphaned hold released")
	}
	if freed > 0 {
		j.metrics.AddOrphanedHoldsFreed(freed)
	}
	return errs
}
