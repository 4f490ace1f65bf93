package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestLedgerMetricsRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedgerMetrics(reg)

	m.ObserveOperation("pay", "ok")
	m.ObserveOperation("pay", "ok")
	m.ObserveOperation("pay", "INSUFFICIENT_BALANCE")
	m.ObserveOperation("", "")
	m.ObserveWithdraw("confirmed", 3*time.Second)
	m.IncStoreCorruption("events")
	m.IncReconciled("failed")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	cases := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"solcoupons_coupon_operations_total", map[string]string{"operation": "pay", "outcome": "ok"}, 2},
		{"solcoupons_coupon_operations_total", map[string]string{"operation": "pay", "outcome": "INSUFFICIENT_BALANCE"}, 1},
		{"solcoupons_coupon_operations_total", map[string]string{"operation": "unknown", "outcome": "unknown"}, 1},
		{"solcoupons_store_corruption_total", map[string]string{"collection": "events"}, 1},
		{"solcoupons_withdrawal_reconciliations_total", map[string]string{"result": "failed"}, 1},
	}
	for _, tc := range cases {
		got, err := fetchCounterValue(mfs, tc.name, tc.labels)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s %v: expected %v, got %v", tc.name, tc.labels, tc.want, got)
		}
	}

	h, err := fetchHistogram(mfs, "solcoupons_withdraw_transfer_seconds", map[string]string{"outcome": "confirmed"})
	if err != nil {
		t.Fatalf("fetch histogram: %v", err)
	}
	if h.GetSampleCount() != 1 || h.GetSampleSum() != 3 {
		t.Fatalf("unexpected histogram count=%d sum=%f", h.GetSampleCount(), h.GetSampleSum())
	}
}
