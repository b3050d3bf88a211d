package payment

import (
	"context"
	"errors"
	"testing"
)

func TestInclusiveVAT(t *testing.T) {
	tests := []struct {
		amount, tax, taxable int64
	}{
		{100, 12, 88},
		{1000, 119, 881},
		{0, 0, 0},
	}
	for _, tt := range tests {
		tax, taxable := InclusiveVAT(tt.amount)
		if tax != tt.tax || taxable != tt.taxable {
			t.Errorf("InclusiveVAT(%d) = %d, %d; want %d, %d", tt.amount, tax, taxable, tt.tax, tt.taxable)
		}
		if tax+taxable != tt.amount {
			t.Errorf("InclusiveVAT(%d) parts do not add up", tt.amount)
		}
	}
}

func TestFakeChargerRequiresPaymentMethod(t *testing.T) {
	ctx := context.Background()
	f := NewFakeCharger()

	if _, err := f.SetupIntent(ctx, "cus_unknown"); !errors.Is(err, ErrNoCustomer) {
		t.Fatalf("SetupIntent unknown customer: %v", err)
	}

	id, err := f.CreateCustomer(ctx, "auth0|1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Charge(ctx, id, 500, "top-up", ""); !errors.Is(err, ErrNoPaymentMethod) {
		t.Fatalf("Charge without method: %v, want ErrNoPaymentMethod", err)
	}

	if _, err := f.SetupIntent(ctx, id); err != nil {
		t.Fatal(err)
	}
	invoiceID, err := f.Charge(ctx, id, 500, "top-up", "")
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if invoiceID == "" {
		t.Error("expected an invoice id")
	}

	f.Fail = true
	if _, err := f.Charge(ctx, id, 500, "top-up", ""); !errors.Is(err, ErrChargeFailed) {
		t.Errorf("Charge with Fail set: %v, want ErrChargeFailed", err)
	}

	charges := f.Charges()
	if len(charges) != 1 || charges[0].Amount != 500 || charges[0].CustomerID != id {
		t.Errorf("charges = %+v", charges)
	}
}

func TestFakeChargerIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	f := NewFakeCharger()
	id, err := f.CreateCustomer(ctx, "auth0|1", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.SetupIntent(ctx, id); err != nil {
		t.Fatal(err)
	}

	first, err := f.Charge(ctx, id, 500, "top-up", "key-1")
	if err != nil {
		t.Fatal(err)
	}
	again, err := f.Charge(ctx, id, 500, "top-up", "key-1")
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Errorf("replayed charge invoice = %s, want %s", again, first)
	}
	other, err := f.Charge(ctx, id, 500, "top-up", "key-2")
	if err != nil {
		t.Fatal(err)
	}
	if other == first {
		t.Error("a different key must bill again")
	}
	if n := len(f.Charges()); n != 2 {
		t.Errorf("charges = %d, want 2", n)
	}
}
