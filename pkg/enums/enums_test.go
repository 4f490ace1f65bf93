package enums

import (
	"encoding/json"
	"testing"
)

func TestCouponEventTypeParsing(t *testing.T) {
	for _, raw := range []string{"create", "deposit", "withdraw", "pay"} {
		got, err := ParseCouponEventType(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if !got.IsValid() {
			t.Fatalf("%q should be valid", raw)
		}
	}
	if _, err := ParseCouponEventType("refund"); err == nil {
		t.Fatal("expected unknown event type to fail")
	}
}

func TestCouponEventTypeCredit(t *testing.T) {
	if !CouponEventTypeCreate.IsCredit() || !CouponEventTypeDeposit.IsCredit() {
		t.Fatal("create and deposit should credit")
	}
	if CouponEventTypePay.IsCredit() || CouponEventTypeWithdraw.IsCredit() {
		t.Fatal("pay and withdraw should debit")
	}
}

func TestWithdrawalStatusOpen(t *testing.T) {
	if !WithdrawalStatusPending.IsOpen() || !WithdrawalStatusSubmitted.IsOpen() {
		t.Fatal("pending and submitted are open")
	}
	if WithdrawalStatusCompleted.IsOpen() || WithdrawalStatusFailed.IsOpen() {
		t.Fatal("terminal states are not open")
	}
	if _, err := ParseWithdrawalStatus("lost"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
}

func TestEnumsRejectUnknownJSON(t *testing.T) {
	var event struct {
		Type   CouponEventType  `json:"type"`
		Status WithdrawalStatus `json:"status"`
	}
	if err := json.Unmarshal([]byte(`{"type":"pay","status":"submitted"}`), &event); err != nil {
		t.Fatalf("decode known values: %v", err)
	}
	if event.Type != CouponEventTypePay || event.Status != WithdrawalStatusSubmitted {
		t.Fatalf("unexpected decode %+v", event)
	}
	if err := json.Unmarshal([]byte(`{"type":"refund"}`), &event); err == nil {
		t.Fatal("expected unknown event type to fail decoding")
	}
	if err := json.Unmarshal([]byte(`{"status":"lost"}`), &event); err == nil {
		t.Fatal("expected unknown status to fail decoding")
	}
}
