package payment

import (
	"context"
	"fmt"
	"sync"
)

// FakeCharger is an in-memory Charger for tests.
type FakeCharger struct {
	mu        sync.Mutex
	customers map[string]bool   // customer id -> has payment method
	charges   []FakeCharge
	invoices  map[string]string // idempotency key -> invoice id
	// Fail makes every Charge fail when set.
	Fail bool
}

type FakeCharge struct {
	CustomerID  string
	Amount      int64
	Description string
}

func NewFakeCharger() *FakeCharger {
	return &FakeCharger{
		customers: make(map[string]bool),
		invoices:  make(map[string]string),
	}
}

func (f *FakeCharger) CreateCustomer(ctx context.Context, auth0ID, memberID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "cus_" + memberID
	f.customers[id] = false
	return id, nil
}

func (f *FakeCharger) CustomerSession(ctx context.Context, customerID string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.customers[customerID]; !ok {
		return Session{}, ErrNoCustomer
	}
	return Session{CustomerID: customerID, ClientSecret: "cuss_secret_" + customerID}, nil
}

// SetupIntent records the customer as having a saved payment method, as if
// the client completed the intent.
func (f *FakeCharger) SetupIntent(ctx context.Context, customerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.customers[customerID]; !ok {
		return "", ErrNoCustomer
	}
	f.customers[customerID] = true
	return "seti_secret_" + customerID, nil
}

func (f *FakeCharger) Charge(ctx context.Context, customerID string, amount int64, description, idempotencyKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.invoices[idempotencyKey]; ok && idempotencyKey != "" {
		return id, nil
	}
	if !f.customers[customerID] {
		return "", ErrNoPaymentMethod
	}
	if f.Fail {
		return "", fmt.Errorf("%w: declined", ErrChargeFailed)
	}
	f.charges = append(f.charges, FakeCharge{CustomerID: customerID, Amount: amount, Description: description})
	id := fmt.Sprintf("in_%d", len(f.charges))
	if idempotencyKey != "" {
		f.invoices[idempotencyKey] = id
	}
	return id, nil
}

// Charges returns the successful charges so far.
func (f *FakeCharger) Charges() []FakeCharge {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCharge(nil), f.charges...)
}
