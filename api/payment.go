package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/semanticallynull/bikeshare-backend/internal/middleware"
	"github.com/semanticallynull/bikeshare-backend/ledger"
	"github.com/semanticallynull/bikeshare-backend/member"
	"github.com/semanticallynull/bikeshare-backend/payment"
)

// paymentCustomer returns the member's payment customer id, creating the
// customer when the member has none yet.
func (a *API) paymentCustomer(c *gin.Context, m *member.Member) (string, error) {
	if m.StripeID.Valid {
		return m.StripeID.String, nil
	}

	customerID, err := a.Charger.CreateCustomer(c, m.Auth0ID, m.ID.String())
	if err != nil {
		return "", err
	}
	if err := a.Members.AddStripeIDToMember(c, m.Auth0ID, customerID); err != nil {
		return "", err
	}
	m.StripeID.String, m.StripeID.Valid = customerID, true
	return customerID, nil
}

func (a *API) createCustomerSession(c *gin.Context) {
	m, ok := a.currentMember(c)
	if !ok {
		return
	}

	customerID, err := a.paymentCustomer(c, m)
	if err != nil {
		writeError(c, err)
		return
	}

	session, err := a.Charger.CustomerSession(c, customerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (a *API) createSetupIntent(c *gin.Context) {
	m, ok := a.currentMember(c)
	if !ok {
		return
	}

	if !m.StripeID.Valid {
		writeError(c, payment.ErrNoCustomer)
		return
	}

	secret, err := a.Charger.SetupIntent(c, m.StripeID.String)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, struct {
		SetupIntent string `json:"setupIntent"`
	}{
		SetupIntent: secret,
	})
}

type chargeRequest struct {
	Amount int64 `json:"amount"`
}

// chargePointsHandler bills the member's saved payment method and credits the
// same amount of points once the invoice is paid. Clients retrying a charge
// send the same Idempotency-Key header; the retry replays the original
// invoice and the invoice is credited once.
func (a *API) chargePointsHandler(c *gin.Context) {
	logger := middleware.GetLogger(c)

	var req chargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	m, ok := a.currentMember(c)
	if !ok {
		return
	}
	if req.Amount <= 0 {
		writeError(c, fmt.Errorf("charge %d: %w", req.Amount, ledger.ErrInvalidAmount))
		return
	}
	if !m.StripeID.Valid {
		writeError(c, payment.ErrNoCustomer)
		return
	}

	invoiceID, err := a.Charger.Charge(c, m.StripeID.String, req.Amount,
		fmt.Sprintf("Points top-up - %d", req.Amount), c.GetHeader("Idempotency-Key"))
	if err != nil {
		writeError(c, err)
		return
	}

	entry, pending, err := a.Points.TopUp(c, m.ID, req.Amount, invoiceID)
	if err != nil {
		logger.ErrorContext(c, "paid invoice neither credited nor queued", "invoice_id", invoiceID, "member_id", m.ID, "error", err)
		writeError(c, err)
		return
	}
	if pending {
		logger.WarnContext(c, "top-up credit queued", "invoice_id", invoiceID, "member_id", m.ID)
		c.JSON(http.StatusAccepted, gin.H{"invoiceId": invoiceID, "status": "pending"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoiceId": invoiceID, "status": "credited", "entry": entry})
}
