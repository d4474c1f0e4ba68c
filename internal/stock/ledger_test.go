package stock

import (
	"context"
	"sync"
	"testing"

	"github.com/iandrade/storefront-backend/pkg/db/models"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Schema is written out by hand because the production migrations are
// Postgres SQL; the tables here mirror them in SQLite terms.
var testSchema = []string{
	`CREATE TABLE IF NOT EXISTS variant_stock (
		variant_id TEXT PRIMARY KEY,
		on_hand INTEGER NOT NULL DEFAULT 0,
		held INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	)`,
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:stock_" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	for _, stmt := range testSchema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

func seed(t *testing.T, db *gorm.DB, variantID uuid.UUID, onHand, held int) {
	t.Helper()
	if err := db.Create(&models.VariantStock{VariantID: variantID, OnHand: onHand, Held: held}).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
}

func load(t *testing.T, db *gorm.DB, variantID uuid.UUID) models.VariantStock {
	t.Helper()
	var record models.VariantStock
	if err := db.First(&record, "variant_id = ?", variantID).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	return record
}

func TestReserveSucceedsWithinAvailability(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	variant := uuid.New()
	seed(t, db, variant, 5, 0)

	ledger := NewLedger()
	if err := ledger.Reserve(ctx, db, variant, 3); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	record := load(t, db, variant)
	if record.OnHand != 5 || record.Held != 3 {
		t.Fatalf("unexpected counters: %+v", record)
	}
}

func TestReserveRejectsInsufficientStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	variant := uuid.New()
	seed(t, db, variant, 5, 4)

	ledger := NewLedger()
	err := ledger.Reserve(ctx, db, variant, 2)
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	record := load(t, db, variant)
	if record.Held != 4 {
		t.Fatalf("counters must be untouched on rejection: %+v", record)
	}
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	variant := uuid.New()
	const onHand = 10
	seed(t, db, variant, onHand, 0)

	ledger := NewLedger()
	const callers = 25
	var wg sync.WaitGroup
	successes := make(chan int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.Reserve(ctx, db, variant, 1); err == nil {
				successes <- 1
			}
		}()
	}
	wg.Wait()
	close(successes)

	total := 0
	for qty := range successes {
		total += qty
	}
	if total > onHand {
		t.Fatalf("oversold: %d successful units for %d on hand", total, onHand)
	}
	record := load(t, db, variant)
	if record.Held != total {
		t.Fatalf("held %d does not match successful reservations %d", record.Held, total)
	}
	if record.Held > record.OnHand {
		t.Fatalf("held exceeds on_hand: %+v", record)
	}
}

func TestReleaseFloorsAtZero(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	variant := uuid.New()
	seed(t, db, variant, 5, 2)

	ledger := NewLedger()
	if err := ledger.Release(ctx, db, variant, 2); err != nil {
		t.Fatalf("release: %v", err)
	}
	// Second release of the same hold must be a harmless no-op.
	if err := ledger.Release(ctx, db, variant, 2); err != nil {
		t.Fatalf("double release: %v", err)
	}

	record := load(t, db, variant)
	if record.Held != 0 || record.OnHand != 5 {
		t.Fatalf("unexpected counters after double release: %+v", record)
	}
}

func TestDeductDecrementsBothCounters(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	variant := uuid.New()
	seed(t, db, variant, 5, 3)

	ledger := NewLedger()
	if err := ledger.Deduct(ctx, db, variant, 3); err != nil {
		t.Fatalf("deduct: %v", err)
	}

	record := load(t, db, variant)
	if record.OnHand != 2 || record.Held != 0 {
		t.Fatalf("unexpected counters after deduct: %+v", record)
	}
	if record.Available() != 2 {
		t.Fatalf("available should be unchanged relative to pre-reserve: %+v", record)
	}
}

func TestDeductRequiresCoveringHold(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	variant := uuid.New()
	seed(t, db, variant, 5, 1)

	ledger := NewLedger()
	err := ledger.Deduct(ctx, db, variant, 2)
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestRestockIncrementsOnHand(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	variant := uuid.New()
	seed(t, db, variant, 2, 0)

	ledger := NewLedger()
	if err := ledger.Restock(ctx, db, variant, 4); err != nil {
		t.Fatalf("restock: %v", err)
	}
	record := load(t, db, variant)
	if record.OnHand != 6 {
		t.Fatalf("unexpected on_hand after restock: %+v", record)
	}
}

func TestReserveReleaseRetryScenario(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	variant := uuid.New()
	seed(t, db, variant, 5, 0)

	ledger := NewLedger()
	if err := ledger.Reserve(ctx, db, variant, 5); err != nil {
		t.Fatalf("caller A reserve: %v", err)
	}
	if err := ledger.Reserve(ctx, db, variant, 1); !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("caller B must see insufficient stock, got %v", err)
	}
	if err := ledger.Release(ctx, db, variant, 5); err != nil {
		t.Fatalf("caller A release: %v", err)
	}
	if err := ledger.Reserve(ctx, db, variant, 1); err != nil {
		t.Fatalf("caller B retry must succeed: %v", err)
	}
	record := load(t, db, variant)
	if record.Held != 1 {
		t.Fatalf("unexpected held after retry: %+v", record)
	}
}

func TestValidationErrors(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ctx := context.Background()
	ledger := NewLedger()

	if err := ledger.Reserve(ctx, db, uuid.Nil, 1); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for nil variant, got %v", err)
	}
	if err := ledger.Reserve(ctx, db, uuid.New(), 0); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for zero qty, got %v", err)
	}
}
