package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/solcoupons-backend/pkg/errors"
)

type amountBody struct {
	OwnerWallet string          `json:"owner_wallet" validate:"notblank,max=64"`
	AmountSOL   decimal.Decimal `json:"amount_sol" validate:"sol"`
}

func TestDecodeJSONBody(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr bool
		field   string
	}{
		{name: "numeric amount", body: `{"owner_wallet":"W1","amount_sol":2.5}`},
		{name: "string amount", body: `{"owner_wallet":"W1","amount_sol":"0.000000001"}`},
		{name: "too precise", body: `{"owner_wallet":"W1","amount_sol":"0.0000000001"}`, wantErr: true, field: "amount_sol"},
		{name: "beyond lamport range", body: `{"owner_wallet":"W1","amount_sol":"18446744073.709551617"}`, wantErr: true, field: "amount_sol"},
		{name: "zero", body: `{"owner_wallet":"W1","amount_sol":0}`, wantErr: true, field: "amount_sol"},
		{name: "missing amount", body: `{"owner_wallet":"W1"}`, wantErr: true, field: "amount_sol"},
		{name: "blank owner", body: `{"owner_wallet":"   ","amount_sol":1}`, wantErr: true, field: "owner_wallet"},
		{name: "unknown field", body: `{"owner_wallet":"W1","amount_sol":1,"extra":true}`, wantErr: true},
		{name: "malformed", body: `{"owner_wallet":`, wantErr: true},
		{name: "non numeric amount", body: `{"owner_wallet":"W1","amount_sol":"lots"}`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", strings.NewReader(tc.body))
			var dest amountBody
			err := DecodeJSONBody(req, &dest)
			if !tc.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if tc.field == "" {
				return
			}
			details, ok := pkgerrors.As(err).Details().(map[string]string)
			if !ok {
				t.Fatalf("expected field details, got %#v", pkgerrors.As(err).Details())
			}
			if _, ok := details[tc.field]; !ok {
				t.Fatalf("expected %s in details %v", tc.field, details)
			}
		})
	}
}

func TestRequireQueryString(t *testing.T) {
	req := httptest.NewRequest("GET", "/?owner=%20W1%20", nil)
	got, err := RequireQueryString(req, "owner", 10)
	if err != nil || got != "W1" {
		t.Fatalf("expected W1, got %q err=%v", got, err)
	}

	req = httptest.NewRequest("GET", "/", nil)
	if _, err := RequireQueryString(req, "owner", 10); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	req = httptest.NewRequest("GET", "/?owner=abcdefghijk", nil)
	if _, err := RequireQueryString(req, "owner", 10); err == nil {
		t.Fatal("expected too-long value to fail")
	}
}

func TestSanitizeOptional(t *testing.T) {
	blank := "   "
	if SanitizeOptional(&blank, 10) != nil {
		t.Fatal("blank should map to nil")
	}
	if SanitizeOptional(nil, 10) != nil {
		t.Fatal("nil should stay nil")
	}
	long := "  abcdefghijkl  "
	if got := SanitizeOptional(&long, 5); got == nil || *got != "abcde" {
		t.Fatalf("unexpected sanitized value %v", got)
	}
}
