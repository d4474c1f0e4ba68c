package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records counters for the reservation and checkout engine.
type CheckoutMetrics struct {
	reservations        *prometheus.CounterVec
	checkouts           *prometheus.CounterVec
	paymentTransitions  *prometheus.CounterVec
	stockConflicts      prometheus.Counter
	orphanedHoldsFreed  prometheus.Counter
	postCommitSideFails prometheus.Counter
}

// NewCheckoutMetrics registers the engine metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	reservations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_attempts_total",
		Help: "Reservation attempts by outcome.",
	}, []string{"outcome"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_completions_total",
		Help: "Checkout completions by outcome.",
	}, []string{"outcome"})
	paymentTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Payment status transitions applied, by target status.",
	}, []string{"status"})
	stockConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stock_reserve_conflicts_total",
		Help: "Reserve attempts rejected for insufficient availability.",
	})
	orphanedHolds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orphaned_holds_released_total",
		Help: "Held units released by the lease reconciliation job.",
	})
	postCommit := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "post_commit_side_effect_failures_total",
		Help: "Best-effort post-commit side effects that exhausted retries.",
	})
	reg.MustRegister(reservations, checkouts, paymentTransitions, stockConflicts, orphanedHolds, postCommit)
	return &CheckoutMetrics{
		reservations:        reservations,
		checkouts:           checkouts,
		paymentTransitions:  paymentTransitions,
		stockConflicts:      stockConflicts,
		orphanedHoldsFreed:  orphanedHolds,
		postCommitSideFails: postCommit,
	}
}

// IncReservation counts a reservation attempt outcome.
func (m *CheckoutMetrics) IncReservation(outcome string) {
	if m == nil || m.reservations == nil {
		return
	}
	m.reservations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncCheckout counts a checkout completion outcome.
func (m *CheckoutMetrics) IncCheckout(outcome string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncPaymentTransition counts an applied payment status transition.
func (m *CheckoutMetrics) IncPaymentTransition(status string) {
	if m == nil || m.paymentTransitions == nil {
		return
	}
	m.paymentTransitions.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncStockConflict counts an insufficient-stock rejection.
func (m *CheckoutMetrics) IncStockConflict() {
	if m == nil || m.stockConflicts == nil {
		return
	}
	m.stockConflicts.Inc()
}

// AddOrphanedHoldsFreed counts held units returned by reconciliation.
func (m *CheckoutMetrics) AddOrphanedHoldsFreed(units int) {
	if m == nil || m.orphanedHoldsFreed == nil || units <= 0 {
		return
	}
	m.orphanedHoldsFreed.Add(float64(units))
}

// IncPostCommitFailure counts a post-commit side effect that gave up.
func (m *CheckoutMetrics) IncPostCommitFailure() {
	if m == nil || m.postCommitSideFails == nil {
		return
	}
	m.postCommitSideFails.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
