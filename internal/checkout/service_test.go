package checkout

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/iandrade/storefront-backend/internal/address"
	"github.com/iandrade/storefront-backend/internal/cart"
	"github.com/iandrade/storefront-backend/internal/coupon"
	"github.com/iandrade/storefront-backend/internal/lease"
	"github.com/iandrade/storefront-backend/internal/order"
	"github.com/iandrade/storefront-backend/internal/stock"
	"github.com/iandrade/storefront-backend/pkg/config"
	"github.com/iandrade/storefront-backend/pkg/db/models"
	"github.com/iandrade/storefront-backend/pkg/enums"
	pkgerrors "github.com/iandrade/storefront-backend/pkg/errors"
	"github.com/iandrade/storefront-backend/pkg/logger"
	"github.com/iandrade/storefront-backend/pkg/outbox"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testSchema = []string{
	`CREATE TABLE IF NOT EXISTS variant_stock (
		variant_id TEXT PRIMARY KEY,
		on_hand INTEGER NOT NULL DEFAULT 0,
		held INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS addresses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		line1 TEXT NOT NULL,
		line2 TEXT,
		city TEXT NOT NULL,
		state TEXT NOT NULL,
		postal_code TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT 'US',
		phone TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cart_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		id TEXT PRIMARY KEY,
		cart_id TEXT NOT NULL,
		variant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		qty INTEGER NOT NULL,
		unit_price_cents INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		order_number TEXT NOT NULL,
		user_id TEXT NOT NULL,
		address_id TEXT NOT NULL,
		ship_name TEXT NOT NULL,
		ship_line1 TEXT NOT NULL,
		ship_city TEXT NOT NULL,
		ship_state TEXT NOT NULL,
		ship_postal_code TEXT NOT NULL,
		subtotal_cents INTEGER NOT NULL,
		shipping_cents INTEGER NOT NULL DEFAULT 0,
		discount_cents INTEGER NOT NULL DEFAULT 0,
		total_cents INTEGER NOT NULL,
		coupon_code TEXT,
		payment_method TEXT NOT NULL,
		payment_status TEXT NOT NULL DEFAULT 'pending',
		fulfillment_status TEXT NOT NULL DEFAULT 'placed',
		placed_at DATETIME NOT NULL,
		shipped_at DATETIME,
		delivered_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_order_number ON orders (order_number)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		variant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		qty INTEGER NOT NULL,
		unit_price_cents INTEGER NOT NULL,
		subtotal_cents INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		provider_order_id TEXT NOT NULL,
		provider_payment_id TEXT,
		method TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		amount_cents INTEGER NOT NULL,
		failure_reason TEXT,
		captured_at DATETIME,
		refunded_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS coupons (
		code TEXT PRIMARY KEY,
		discount_type TEXT NOT NULL,
		value INTEGER NOT NULL,
		min_order_cents INTEGER NOT NULL DEFAULT 0,
		max_discount_cents INTEGER,
		usage_limit INTEGER,
		used_count INTEGER NOT NULL DEFAULT 0,
		valid_from DATETIME NOT NULL,
		valid_until DATETIME NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
}

const outboxSchema = `CREATE TABLE IF NOT EXISTS outbox_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	published_at DATETIME,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
)`

func newTestDB(t *testing.T, withOutbox bool) *gorm.DB {
	t.Helper()
	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	stmts := testSchema
	if withOutbox {
		stmts = append(append([]string{}, testSchema...), outboxSchema)
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}

type memLeaseStore struct {
	leases map[string]lease.Lease
}

func newMemLeaseStore() *memLeaseStore {
	return &memLeaseStore{leases: map[string]lease.Lease{}}
}

func (m *memLeaseStore) Put(_ context.Context, l lease.Lease, _ time.Duration) error {
	m.leases[l.ReservationID] = l
	return nil
}

func (m *memLeaseStore) Get(_ context.Context, reservationID string) (*lease.Lease, bool, error) {
	l, ok := m.leases[reservationID]
	if !ok {
		return nil, false, nil
	}
	return &l, true, nil
}

func (m *memLeaseStore) Delete(_ context.Context, reservationID string) error {
	delete(m.leases, reservationID)
	return nil
}

func (m *memLeaseStore) ListActive(_ context.Context) ([]lease.Lease, error) {
	out := make([]lease.Lease, 0, len(m.leases))
	for _, l := range m.leases {
		out = append(out, l)
	}
	return out, nil
}

type fakeProvider struct {
	orderID string
	err     error
	calls   int
}

func (f *fakeProvider) CreateOrder(_ context.Context, _ int, _ string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.orderID, nil
}

type fixture struct {
	db       *gorm.DB
	leases   *memLeaseStore
	provider *fakeProvider
	svc      Service
	userID   uuid.UUID
}

func newFixture(t *testing.T, withOutbox bool, cfg config.CheckoutConfig) *fixture {
	t.Helper()
	db := newTestDB(t, withOutbox)
	leases := newMemLeaseStore()
	provider := &fakeProvider{orderID: "prov_" + uuid.NewString()[:8]}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	coupons, err := coupon.NewService(coupon.NewRepository(db))
	if err != nil {
		t.Fatalf("coupon service: %v", err)
	}
	svc, err := NewService(ServiceParams{
		DB:        db,
		Ledger:    stock.NewLedger(),
		Leases:    leases,
		Carts:     cart.NewRepository(db),
		Addresses: address.NewRepository(db),
		Orders:    order.NewRepository(db),
		Coupons:   coupons,
		Provider:  provider,
		Outbox:    outbox.NewService(outbox.NewRepository(db), logg),
		Logger:    logg,
		Checkout:  cfg,
	})
	if err != nil {
		t.Fatalf("checkout service: %v", err)
	}
	return &fixture{db: db, leases: leases, provider: provider, svc: svc, userID: uuid.New()}
}

func defaultCfg() config.CheckoutConfig {
	return config.CheckoutConfig{
		ReservationTTL:             10 * time.Minute,
		FreeShippingThresholdCents: 100000,
		FlatShippingCents:          500,
	}
}

// seedCartAndAddress seeds stock, an address, and an active cart. held
// controls whether each line's units already carry a hold, matching the state
// right after InitiateCheckout.
func (f *fixture) seedCartAndAddress(t *testing.T, lines map[uuid.UUID]int, unitPrice int, held bool) (leaseLines []lease.Line, addressID uuid.UUID) {
	t.Helper()
	cartRecord := models.CartRecord{ID: uuid.New(), UserID: f.userID, Status: enums.CartStatusActive}
	if err := f.db.Create(&cartRecord).Error; err != nil {
		t.Fatalf("seed cart: %v", err)
	}
	leaseLines = make([]lease.Line, 0, len(lines))
	for variantID, qty := range lines {
		stk := models.VariantStock{VariantID: variantID, OnHand: qty + 5}
		if held {
			stk.Held = qty
		}
		if err := f.db.Create(&stk).Error; err != nil {
			t.Fatalf("seed stock: %v", err)
		}
		item := models.CartItem{
			ID: uuid.New(), CartID: cartRecord.ID, VariantID: variantID,
			Name: "variant " + variantID.String()[:8], Qty: qty, UnitPriceCents: unitPrice,
		}
		if err := f.db.Create(&item).Error; err != nil {
			t.Fatalf("seed cart item: %v", err)
		}
		leaseLines = append(leaseLines, lease.Line{VariantID: variantID, Qty: qty})
	}

	addr := models.Address{
		ID: uuid.New(), UserID: f.userID, Name: "Test User",
		Line1: "1 Main St", City: "Springfield", State: "IL", PostalCode: "62701", Country: "US",
	}
	if err := f.db.Create(&addr).Error; err != nil {
		t.Fatalf("seed address: %v", err)
	}
	return leaseLines, addr.ID
}

// seedReservation adds the matching lease on top of the held cart state.
func (f *fixture) seedReservation(t *testing.T, lines map[uuid.UUID]int, unitPrice int) (reservationID string, addressID uuid.UUID) {
	t.Helper()
	leaseLines, addressID := f.seedCartAndAddress(t, lines, unitPrice, true)

	reservationID = uuid.NewString()
	now := time.Now().UTC()
	f.leases.leases[reservationID] = lease.Lease{
		ReservationID: reservationID,
		UserID:        f.userID,
		Lines:         leaseLines,
		CreatedAt:     now,
		ExpiresAt:     now.Add(10 * time.Minute),
	}
	return reservationID, addressID
}

func (f *fixture) stockFor(t *testing.T, variantID uuid.UUID) models.VariantStock {
	t.Helper()
	var record models.VariantStock
	if err := f.db.First(&record, "variant_id = ?", variantID).Error; err != nil {
		t.Fatalf("load stock: %v", err)
	}
	return record
}

func TestCompleteCODHappyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, defaultCfg())
	variantID := uuid.New()
	reservationID, addressID := f.seedReservation(t, map[uuid.UUID]int{variantID: 2}, 1500)

	res, err := f.svc.Complete(context.Background(), CompleteInput{
		UserID:        f.userID,
		ReservationID: reservationID,
		AddressID:     addressID,
		PaymentMethod: enums.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.SubtotalCents != 3000 || res.ShippingCents != 500 || res.TotalCents != 3500 {
		t.Fatalf("unexpected totals: %+v", res)
	}

	// Stock moved from held to sold.
	stk := f.stockFor(t, variantID)
	if stk.OnHand != 5 || stk.Held != 0 {
		t.Fatalf("stock after deduct: on_hand=%d held=%d", stk.OnHand, stk.Held)
	}

	var placed models.Order
	if err := f.db.Preload("Items").First(&placed, "id = ?", res.OrderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if len(placed.Items) != 1 || placed.Items[0].SubtotalCents != 3000 {
		t.Fatalf("unexpected order items: %+v", placed.Items)
	}
	if placed.PaymentStatus != enums.PaymentStatusPending || placed.FulfillmentStatus != enums.FulfillmentStatusPlaced {
		t.Fatalf("unexpected statuses: %s/%s", placed.PaymentStatus, placed.FulfillmentStatus)
	}

	var cartRecord models.CartRecord
	if err := f.db.First(&cartRecord, "user_id = ?", f.userID).Error; err != nil {
		t.Fatalf("load cart: %v", err)
	}
	if cartRecord.Status != enums.CartStatusConverted {
		t.Fatalf("cart status = %s, want converted", cartRecord.Status)
	}

	if _, ok := f.leases.leases[reservationID]; ok {
		t.Fatal("lease should be deleted after commit")
	}

	var eventCount int64
	if err := f.db.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderPlaced).Count(&eventCount).Error; err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("outbox events = %d, want 1", eventCount)
	}
}

func TestCompleteAppliesPercentageCouponWithCap(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, defaultCfg())
	variantID := uuid.New()
	reservationID, addressID := f.seedReservation(t, map[uuid.UUID]int{variantID: 2}, 1000)

	maxDiscount := 300
	if err := f.db.Create(&models.Coupon{
		Code: "SAVE20", DiscountType: enums.DiscountTypePercentage, Value: 20,
		MaxDiscountCents: &maxDiscount, Active: true,
		ValidFrom: time.Now().Add(-time.Hour), ValidUntil: time.Now().Add(time.Hour),
	}).Error; err != nil {
		t.Fatalf("seed coupon: %v", err)
	}

	res, err := f.svc.Complete(context.Background(), CompleteInput{
		UserID:        f.userID,
		ReservationID: reservationID,
		AddressID:     addressID,
		PaymentMethod: enums.PaymentMethodCOD,
		CouponCode:    "save20",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.DiscountCents != 300 {
		t.Fatalf("discount = %d, want capped 300", res.DiscountCents)
	}
	if res.TotalCents != 2000-300+500 {
		t.Fatalf("total = %d, want 2200", res.TotalCents)
	}
	if res.CouponWarning != "" {
		t.Fatalf("unexpected warning: %q", res.CouponWarning)
	}

	// Usage moves exactly once, after commit.
	var record models.Coupon
	if err := f.db.First(&record, "code = ?", "SAVE20").Error; err != nil {
		t.Fatalf("load coupon: %v", err)
	}
	if record.UsedCount != 1 {
		t.Fatalf("used_count = %d, want 1", record.UsedCount)
	}
}

func TestCompleteInvalidCouponIsLenient(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, defaultCfg())
	variantID := uuid.New()
	reservationID, addressID := f.seedReservation(t, map[uuid.UUID]int{variantID: 1}, 2000)

	res, err := f.svc.Complete(context.Background(), CompleteInput{
		UserID:        f.userID,
		ReservationID: reservationID,
		AddressID:     addressID,
		PaymentMethod: enums.PaymentMethodCOD,
		CouponCode:    "NOPE",
	})
	if err != nil {
		t.Fatalf("complete should proceed without the coupon, got %v", err)
	}
	if res.DiscountCents != 0 {
		t.Fatalf("discount = %d, want 0", res.DiscountCents)
	}
	if res.CouponWarning == "" {
		t.Fatal("expected a coupon warning on the result")
	}
}

func TestCompleteFailedTransactionLeavesHoldIntact(t *testing.T) {
	t.Parallel()

	// The outbox table is missing, so the transaction fails on its last write.
	f := newFixture(t, false, defaultCfg())
	variantID := uuid.New()
	reservationID, addressID := f.seedReservation(t, map[uuid.UUID]int{variantID: 3}, 1000)

	_, err := f.svc.Complete(context.Background(), CompleteInput{
		UserID:        f.userID,
		ReservationID: reservationID,
		AddressID:     addressID,
		PaymentMethod: enums.PaymentMethodCOD,
	})
	if err == nil {
		t.Fatal("expected the transaction to fail")
	}

	stk := f.stockFor(t, variantID)
	if stk.Held != 3 || stk.OnHand != 8 {
		t.Fatalf("hold must survive a rollback: on_hand=%d held=%d", stk.OnHand, stk.Held)
	}
	var orderCount int64
	if err := f.db.Model(&models.Order{}).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orderCount != 0 {
		t.Fatalf("no order may exist after rollback, found %d", orderCount)
	}
	var cartRecord models.CartRecord
	if err := f.db.First(&cartRecord, "user_id = ?", f.userID).Error; err != nil {
		t.Fatalf("load cart: %v", err)
	}
	if cartRecord.Status != enums.CartStatusActive {
		t.Fatalf("cart must stay active after rollback, got %s", cartRecord.Status)
	}
	if _, ok := f.leases.leases[reservationID]; !ok {
		t.Fatal("lease must survive a rollback")
	}
}

func TestCompleteMissingReservation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, defaultCfg())
	_, addressID := f.seedReservation(t, map[uuid.UUID]int{uuid.New(): 1}, 1000)

	_, err := f.svc.Complete(context.Background(), CompleteInput{
		UserID:        f.userID,
		ReservationID: uuid.NewString(),
		AddressID:     addressID,
		PaymentMethod: enums.PaymentMethodCOD,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeReservationMissing) {
		t.Fatalf("expected reservation missing, got %v", err)
	}
}

func TestCompleteWithoutReservationDeductsDirectly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, defaultCfg())
	variantID := uuid.New()
	_, addressID := f.seedCartAndAddress(t, map[uuid.UUID]int{variantID: 2}, 1500, false)

	res, err := f.svc.Complete(context.Background(), CompleteInput{
		UserID:        f.userID,
		AddressID:     addressID,
		PaymentMethod: enums.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("complete without reservation: %v", err)
	}
	if res.SubtotalCents != 3000 || res.TotalCents != 3500 {
		t.Fatalf("unexpected totals: %+v", res)
	}

	// The hold is taken and consumed inside the order transaction.
	stk := f.stockFor(t, variantID)
	if stk.OnHand != 5 || stk.Held != 0 {
		t.Fatalf("stock after direct checkout: on_hand=%d held=%d", stk.OnHand, stk.Held)
	}

	var cartRecord models.CartRecord
	if err := f.db.First(&cartRecord, "user_id = ?", f.userID).Error; err != nil {
		t.Fatalf("load cart: %v", err)
	}
	if cartRecord.Status != enums.CartStatusConverted {
		t.Fatalf("cart status = %s, want converted", cartRecord.Status)
	}

	var orderCount int64
	if err := f.db.Model(&models.Order{}).Where("id = ?", res.OrderID).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orderCount != 1 {
		t.Fatalf("orders = %d, want 1", orderCount)
	}
}

func TestCompleteWithoutReservationInsufficientStock(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, defaultCfg())
	variantID := uuid.New()
	_, addressID := f.seedCartAndAddress(t, map[uuid.UUID]int{variantID: 2}, 1500, false)

	// Somebody else buys out the availability before this checkout commits.
	if err := f.db.Model(&models.VariantStock{}).
		Where("variant_id = ?", variantID).
		Update("on_hand", 1).Error; err != nil {
		t.Fatalf("drain stock: %v", err)
	}

	_, err := f.svc.Complete(context.Background(), CompleteInput{
		UserID:        f.userID,
		AddressID:     addressID,
		PaymentMethod: enums.PaymentMethodCOD,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	stk := f.stockFor(t, variantID)
	if stk.OnHand != 1 || stk.Held != 0 {
		t.Fatalf("counters must be untouched after rollback: on_hand=%d held=%d", stk.OnHand, stk.Held)
	}
	var orderCount int64
	if err := f.db.Model(&models.Order{}).Count(&orderCount).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orderCount != 0 {
		t.Fatalf("no order may exist after rollback, found %d", orderCount)
	}
	var cartRecord models.CartRecord
	if err := f.db.First(&cartRecord, "user_id = ?", f.userID).Error; err != nil {
		t.Fatalf("load cart: %v", err)
	}
	if cartRecord.Status != enums.CartStatusActive {
		t.Fatalf("cart must stay active, got %s", cartRecord.Status)
	}
}

func TestCompleteRejectsForeignAddress(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, defaultCfg())
	reservationID, _ := f.seedReservation(t, map[uuid.UUID]int{uuid.New(): 1}, 1000)

	foreign := models.Address{
		ID: uuid.New(), UserID: uuid.New(), Name: "Other",
		Line1: "9 Elm St", City: "Shelbyville", State: "IL", PostalCode: "62565", Country: "US",
	}
	if err := f.db.Create(&foreign).Error; err != nil {
		t.Fatalf("seed address: %v", err)
	}

	_, err := f.svc.Complete(context.Background(), CompleteInput{
		UserID:        f.userID,
		ReservationID: reservationID,
		AddressID:     foreign.ID,
		PaymentMethod: enums.PaymentMethodCOD,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCompleteCODPostalPolicy(t *testing.T) {
	t.Parallel()

	cfg := defaultCfg()
	cfg.CODPostalPrefixes = []string{"900", "941"}
	f := newFixture(t, true, cfg)
	reservationID, addressID := f.seedReservation(t, map[uuid.UUID]int{uuid.New(): 1}, 1000)

	// Seeded address has postal code 62701, outside the allow-list.
	_, err := f.svc.Complete(context.Background(), CompleteInput{
		UserID:        f.userID,
		ReservationID: reservationID,
		AddressID:     addressID,
		PaymentMethod: enums.PaymentMethodCOD,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodePaymentNotAllowed) {
		t.Fatalf("expected payment method rejection, got %v", err)
	}
}

func TestCompleteOnlineCreatesPendingPayment(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, defaultCfg())
	variantID := uuid.New()
	reservationID, addressID := f.seedReservation(t, map[uuid.UUID]int{variantID: 1}, 2500)

	res, err := f.svc.Complete(context.Background(), CompleteInput{
		UserID:        f.userID,
		ReservationID: reservationID,
		AddressID:     addressID,
		PaymentMethod: enums.PaymentMethodOnline,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.ProviderOrderID != f.provider.orderID {
		t.Fatalf("provider order id = %q, want %q", res.ProviderOrderID, f.provider.orderID)
	}
	var payment models.Payment
	if err := f.db.First(&payment, "order_id = ?", res.OrderID).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	if payment.Status != enums.PaymentStatusPending || payment.AmountCents != res.TotalCents {
		t.Fatalf("unexpected payment row: %+v", payment)
	}
}

func TestCompleteProviderFailureKeepsHold(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, defaultCfg())
	f.provider.err = fmt.Errorf("provider unavailable")
	variantID := uuid.New()
	reservationID, addressID := f.seedReservation(t, map[uuid.UUID]int{variantID: 2}, 1000)

	_, err := f.svc.Complete(context.Background(), CompleteInput{
		UserID:        f.userID,
		ReservationID: reservationID,
		AddressID:     addressID,
		PaymentMethod: enums.PaymentMethodOnline,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	stk := f.stockFor(t, variantID)
	if stk.Held != 2 {
		t.Fatalf("hold must stay while the provider is down, held=%d", stk.Held)
	}
	if _, ok := f.leases.leases[reservationID]; !ok {
		t.Fatal("lease must survive a provider failure")
	}
}

func TestCompleteRejectsEditedCart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true, defaultCfg())
	variantID := uuid.New()
	reservationID, addressID := f.seedReservation(t, map[uuid.UUID]int{variantID: 2}, 1000)

	// Cart edited after the reservation: quantity bumped.
	if err := f.db.Model(&models.CartItem{}).
		Where("variant_id = ?", variantID).
		Update("qty", 4).Error; err != nil {
		t.Fatalf("edit cart: %v", err)
	}

	_, err := f.svc.Complete(context.Background(), CompleteInput{
		UserID:        f.userID,
		ReservationID: reservationID,
		AddressID:     addressID,
		PaymentMethod: enums.PaymentMethodCOD,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict for an edited cart, got %v", err)
	}
}
