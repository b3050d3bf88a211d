package payment

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	stripecustomer "github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/customersession"
	"github.com/stripe/stripe-go/v84/invoice"
	"github.com/stripe/stripe-go/v84/setupintent"
)

// StripeCharger talks to Stripe with the process-wide stripe.Key.
type StripeCharger struct{}

func NewStripeCharger(key string) *StripeCharger {
	stripe.Key = key
	return &StripeCharger{}
}

func (s *StripeCharger) CreateCustomer(ctx context.Context, auth0ID, memberID string) (string, error) {
	params := &stripe.CustomerParams{
		Metadata: map[string]string{
			"auth0_id": auth0ID,
			"id":       memberID,
		},
	}
	params.Context = ctx
	c, err := stripecustomer.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (s *StripeCharger) CustomerSession(ctx context.Context, customerID string) (Session, error) {
	params := &stripe.CustomerSessionParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	params.AddExtra("components[customer_sheet][enabled]", "true")
	params.AddExtra("components[customer_sheet][features][payment_method_remove]", "enabled")
	cs, err := customersession.New(params)
	if err != nil {
		return Session{}, err
	}
	return Session{CustomerID: customerID, ClientSecret: cs.ClientSecret}, nil
}

func (s *StripeCharger) SetupIntent(ctx context.Context, customerID string) (string, error) {
	params := &stripe.SetupIntentParams{
		Customer: stripe.String(customerID),
		AutomaticPaymentMethods: &stripe.SetupIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	si, err := setupintent.New(params)
	if err != nil {
		return "", err
	}
	return si.ClientSecret, nil
}

// Charge invoices the customer for amount, finalizes the invoice and pays it
// with the default payment method.
func (s *StripeCharger) Charge(ctx context.Context, customerID string, amount int64, description, idempotencyKey string) (string, error) {
	if !s.hasPaymentMethod(ctx, customerID) {
		return "", ErrNoPaymentMethod
	}

	inParams := &stripe.InvoiceParams{
		Customer: stripe.String(customerID),
	}
	inParams.Context = ctx
	setIdempotencyKey(&inParams.Params, idempotencyKey, "create")
	in, err := invoice.New(inParams)
	if err != nil {
		return "", fmt.Errorf("%w: create invoice: %v", ErrChargeFailed, err)
	}

	tax, taxable := InclusiveVAT(amount)
	ilParams := &stripe.InvoiceAddLinesParams{
		Lines: []*stripe.InvoiceAddLinesLineParams{
			{
				Amount:      stripe.Int64(amount),
				Description: stripe.String(description),
				TaxAmounts: []*stripe.InvoiceAddLinesLineTaxAmountParams{
					{
						Amount:        stripe.Int64(tax),
						TaxableAmount: stripe.Int64(taxable),
						TaxRateData: &stripe.InvoiceAddLinesLineTaxAmountTaxRateDataParams{
							Percentage:  stripe.Float64(VATRate),
							Description: stripe.String("VAT - Reduced Rate"),
							DisplayName: stripe.String(fmt.Sprintf("VAT - Reduced Rate (%.1f%%)", VATRate)),
							Inclusive:   stripe.Bool(true),
						},
					},
				},
			},
		},
	}
	ilParams.Context = ctx
	setIdempotencyKey(&ilParams.Params, idempotencyKey, "lines")
	if _, err := invoice.AddLines(in.ID, ilParams); err != nil {
		return "", fmt.Errorf("%w: add lines: %v", ErrChargeFailed, err)
	}

	finParams := &stripe.InvoiceFinalizeInvoiceParams{}
	finParams.Context = ctx
	setIdempotencyKey(&finParams.Params, idempotencyKey, "finalize")
	if _, err := invoice.FinalizeInvoice(in.ID, finParams); err != nil {
		return "", fmt.Errorf("%w: finalize invoice: %v", ErrChargeFailed, err)
	}

	payParams := &stripe.InvoicePayParams{}
	payParams.Context = ctx
	setIdempotencyKey(&payParams.Params, idempotencyKey, "pay")
	paid, err := invoice.Pay(in.ID, payParams)
	if err != nil {
		return "", fmt.Errorf("%w: pay invoice: %v", ErrChargeFailed, err)
	}
	if paid.Status != stripe.InvoiceStatusPaid {
		return "", fmt.Errorf("%w: invoice %s is %s", ErrChargeFailed, paid.ID, paid.Status)
	}
	return paid.ID, nil
}

// setIdempotencyKey derives one key per Stripe request of a charge, so a
// replayed charge replays every step instead of creating a second invoice.
func setIdempotencyKey(p *stripe.Params, key, step string) {
	if key != "" {
		p.SetIdempotencyKey(key + "-" + step)
	}
}

func (s *StripeCharger) hasPaymentMethod(ctx context.Context, customerID string) bool {
	params := &stripe.CustomerListPaymentMethodsParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	result := stripecustomer.ListPaymentMethods(params)
	return result.Next()
}
