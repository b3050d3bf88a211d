// Package payment charges members through Stripe for points top-ups and
// manages their saved payment methods.
package payment

import (
	"context"
	"errors"
)

var (
	ErrNoCustomer      = errors.New("member has no payment customer")
	ErrNoPaymentMethod = errors.New("member has no saved payment method")
	ErrChargeFailed    = errors.New("charge failed")
)

// Session lets a client render the saved payment method sheet.
type Session struct {
	CustomerID   string `json:"customerId"`
	ClientSecret string `json:"clientSecret"`
}

// Charger is the payment provider. Amounts are in minor currency units and map
// one to one onto points.
type Charger interface {
	// CreateCustomer registers a customer for the member and returns its id.
	CreateCustomer(ctx context.Context, auth0ID, memberID string) (string, error)
	CustomerSession(ctx context.Context, customerID string) (Session, error)
	// SetupIntent returns the client secret of an intent to save a payment
	// method.
	SetupIntent(ctx context.Context, customerID string) (string, error)
	// Charge bills the customer's default payment method and returns the
	// invoice id once paid. Calls sharing a non-empty idempotencyKey bill
	// once and return the same invoice.
	Charge(ctx context.Context, customerID string, amount int64, description, idempotencyKey string) (string, error)
}

// VATRate is the inclusive VAT percentage applied to top-ups.
const VATRate = 13.5

// InclusiveVAT splits a VAT-inclusive amount into its tax and taxable parts.
func InclusiveVAT(amount int64) (tax, taxable int64) {
	taxable = int64(float64(amount) / (1 + VATRate/100))
	return amount - taxable, taxable
}
