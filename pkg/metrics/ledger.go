package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "solcoupons"

// LedgerMetrics tracks coupon operations, on-chain withdrawals and store health.
type LedgerMetrics struct {
	operations      *prometheus.CounterVec
	withdrawLatency *prometheus.HistogramVec
	storeCorruption *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
}

// NewLedgerMetrics registers ledger metrics on reg. A nil registerer yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "coupon_operations_total",
		Help:      "Coupon operations by kind and outcome code.",
	}, []string{"operation", "outcome"})
	withdrawLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "withdraw_transfer_seconds",
		Help:      "Time from transfer submission to resolution.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60, 120},
	}, []string{"outcome"})
	storeCorruption := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_corruption_total",
		Help:      "Unreadable store files replaced by an empty collection.",
	}, []string{"collection"})
	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "withdrawal_reconciliations_total",
		Help:      "Withdrawal intents resolved by the reconcile worker.",
	}, []string{"result"})
	reg.MustRegister(operations, withdrawLatency, storeCorruption, reconciliations)
	return &LedgerMetrics{
		operations:      operations,
		withdrawLatency: withdrawLatency,
		storeCorruption: storeCorruption,
		reconciliations: reconciliations,
	}
}

// ObserveOperation counts one coupon operation. outcome is "ok" or an error code.
func (m *LedgerMetrics) ObserveOperation(operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// ObserveWithdraw records how long a transfer took to resolve.
func (m *LedgerMetrics) ObserveWithdraw(outcome string, elapsed time.Duration) {
	if m == nil || m.withdrawLatency == nil {
		return
	}
	m.withdrawLatency.WithLabelValues(normalizeLabel(outcome)).Observe(elapsed.Seconds())
}

// IncStoreCorruption counts a corrupt collection file.
func (m *LedgerMetrics) IncStoreCorruption(collection string) {
	if m == nil || m.storeCorruption == nil {
		return
	}
	m.storeCorruption.WithLabelValues(normalizeLabel(collection)).Inc()
}

// IncReconciled counts an intent resolved by the worker.
func (m *LedgerMetrics) IncReconciled(result string) {
	if m == nil || m.reconciliations == nil {
		return
	}
	m.reconciliations.WithLabelValues(normalizeLabel(result)).Inc()
}
