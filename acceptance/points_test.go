package acceptance

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/semanticallynull/bikeshare-backend/internal/auth0"
	"github.com/semanticallynull/bikeshare-backend/ledger"
	"github.com/semanticallynull/bikeshare-backend/ticket"
)

func TestLedgerCreditDebitRoundTrip(t *testing.T) {
	ts := NewTestServer(t)
	ctx := context.Background()

	m := ts.CreateMember(t, "auth0|saver")
	if _, err := ts.Points.Credit(ctx, m.ID, 1200, "seed"); err != nil {
		t.Fatal(err)
	}

	credit, err := ts.Points.Credit(ctx, m.ID, 500, "bonus")
	if err != nil {
		t.Fatal(err)
	}
	debit, err := ts.Points.Debit(ctx, m.ID, 500, "spend")
	if err != nil {
		t.Fatal(err)
	}
	if credit.Kind != ledger.Charge || debit.Kind != ledger.Use {
		t.Errorf("kinds = %s, %s; want CHARGE, USE", credit.Kind, debit.Kind)
	}
	if credit.BalanceAfter != 1700 || debit.BalanceAfter != 1200 {
		t.Errorf("balance_after = %d, %d; want 1700, 1200", credit.BalanceAfter, debit.BalanceAfter)
	}
	if got := ts.Balance(t, m.ID); got != 1200 {
		t.Errorf("balance = %d, want 1200", got)
	}

	if _, err := ts.Points.Debit(ctx, m.ID, 1201, "overdraw"); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("overdraw = %v, want ErrInsufficientBalance", err)
	}
	if _, err := ts.Points.Credit(ctx, m.ID, 0, "nothing"); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Errorf("zero credit = %v, want ErrInvalidAmount", err)
	}

	w := ts.GET("/points/history?limit=2", as("auth0|saver"))
	var entries []ledger.Entry
	decode(t, w, &entries)
	if len(entries) != 2 {
		t.Errorf("history entries = %d, want 2", len(entries))
	}

	w = ts.GET("/points", as("auth0|saver"))
	var balance struct {
		Balance int64 `json:"balance"`
	}
	decode(t, w, &balance)
	if balance.Balance != 1200 {
		t.Errorf("GET /points balance = %d, want 1200", balance.Balance)
	}
	ts.CheckInvariants(t)
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	ts := NewTestServer(t)
	ctx := context.Background()

	m := ts.CreateMember(t, "auth0|spender")
	if _, err := ts.Points.Credit(ctx, m.ID, 1000, "seed"); err != nil {
		t.Fatal(err)
	}

	var (
		mu       sync.Mutex
		ok, poor int
	)
	var g errgroup.Group
	for range 20 {
		g.Go(func() error {
			_, err := ts.Points.Debit(ctx, m.ID, 100, "coffee")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ledger.ErrInsufficientBalance):
				poor++
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected debit error: %v", err)
	}

	if ok != 10 || poor != 10 {
		t.Errorf("debits ok=%d insufficient=%d, want 10 and 10", ok, poor)
	}
	if got := ts.Balance(t, m.ID); got != 0 {
		t.Errorf("balance = %d, want 0", got)
	}
	ts.CheckInvariants(t)
}

func TestTicketPurchase(t *testing.T) {
	ts := NewTestServer(t)
	ctx := context.Background()

	m := ts.CreateMember(t, "auth0|buyer")

	w := ts.POST("/tickets", map[string]string{"type": "ONE_HOUR"}, as("auth0|buyer"))
	expectCode(t, w, http.StatusPaymentRequired, "INSUFFICIENT_BALANCE")

	w = ts.POST("/tickets", map[string]string{"type": "FORTNIGHT"}, as("auth0|buyer"))
	expectCode(t, w, http.StatusBadRequest, "INVALID_TICKET_TYPE")

	if _, err := ts.Points.Credit(ctx, m.ID, 2500, "seed"); err != nil {
		t.Fatal(err)
	}

	w = ts.POST("/tickets", map[string]string{"type": "ONE_HOUR"}, as("auth0|buyer"))
	if w.Code != http.StatusCreated {
		t.Fatalf("purchase: %d %s", w.Code, w.Body.String())
	}
	var first ticket.Ticket
	decode(t, w, &first)
	if !first.ExpiryTime.Equal(start.Add(time.Hour)) {
		t.Errorf("first expiry = %s, want %s", first.ExpiryTime, start.Add(time.Hour))
	}

	// A second ticket extends from the first one's expiry.
	ts.Clock.Advance(10 * time.Minute)
	w = ts.POST("/tickets", map[string]string{"type": "ONE_HOUR"}, as("auth0|buyer"))
	var second ticket.Ticket
	decode(t, w, &second)
	if !second.ExpiryTime.Equal(start.Add(2 * time.Hour)) {
		t.Errorf("second expiry = %s, want %s", second.ExpiryTime, start.Add(2*time.Hour))
	}

	if got := ts.Balance(t, m.ID); got != 500 {
		t.Errorf("balance = %d, want 500", got)
	}

	w = ts.GET("/tickets", as("auth0|buyer"))
	var list struct {
		Valid   bool            `json:"valid"`
		Tickets []ticket.Ticket `json:"tickets"`
	}
	decode(t, w, &list)
	if !list.Valid || len(list.Tickets) != 2 {
		t.Errorf("tickets = %s", w.Body.String())
	}
	ts.CheckInvariants(t)
}

func TestChargePoints(t *testing.T) {
	ts := NewTestServer(t)

	w := ts.POST("/points/charge", map[string]int64{"amount": 5000}, as("auth0|payer"))
	expectCode(t, w, http.StatusPreconditionFailed, "PAYMENT_METHOD_REQUIRED")

	w = ts.POST("/payments/customer-session", nil, as("auth0|payer"))
	if w.Code != http.StatusOK {
		t.Fatalf("customer session: %d %s", w.Code, w.Body.String())
	}

	w = ts.POST("/points/charge", map[string]int64{"amount": 5000}, as("auth0|payer"))
	expectCode(t, w, http.StatusPreconditionFailed, "PAYMENT_METHOD_REQUIRED")

	w = ts.POST("/payments/setup-intent", nil, as("auth0|payer"))
	if w.Code != http.StatusOK {
		t.Fatalf("setup intent: %d %s", w.Code, w.Body.String())
	}

	w = ts.POST("/points/charge", map[string]int64{"amount": -5}, as("auth0|payer"))
	expectCode(t, w, http.StatusBadRequest, "INVALID_AMOUNT")

	w = ts.POST("/points/charge", map[string]int64{"amount": 5000}, as("auth0|payer"))
	if w.Code != http.StatusOK {
		t.Fatalf("charge: %d %s", w.Code, w.Body.String())
	}

	m := ts.CreateMember(t, "auth0|payer")
	if got := ts.Balance(t, m.ID); got != 5000 {
		t.Errorf("balance = %d, want 5000", got)
	}
	if charges := ts.Charger.Charges(); len(charges) != 1 || charges[0].Amount != 5000 {
		t.Errorf("charges = %+v", charges)
	}

	ts.Charger.Fail = true
	w = ts.POST("/points/charge", map[string]int64{"amount": 5000}, as("auth0|payer"))
	expectCode(t, w, http.StatusPaymentRequired, "PAYMENT_FAILED")
	if got := ts.Balance(t, m.ID); got != 5000 {
		t.Errorf("balance after failed charge = %d, want 5000", got)
	}
	ts.CheckInvariants(t)
}

func TestTopUpCreditedOnceWhenCreditFails(t *testing.T) {
	ts := NewTestServer(t)
	ctx := context.Background()

	for _, path := range []string{"/payments/customer-session", "/payments/setup-intent"} {
		if w := ts.POST(path, nil, as("auth0|payer")); w.Code != http.StatusOK {
			t.Fatalf("%s: %d %s", path, w.Code, w.Body.String())
		}
	}
	m := ts.CreateMember(t, "auth0|payer")

	headers := as("auth0|payer")
	headers["Idempotency-Key"] = "topup-1"

	// Hold the member row so the credit runs into the lock timeout.
	tx, err := ts.DB.Beginx()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Exec(`SELECT 1 FROM members WHERE id = $1 FOR UPDATE`, m.ID); err != nil {
		tx.Rollback()
		t.Fatal(err)
	}
	w := ts.POST("/points/charge", map[string]int64{"amount": 5000}, headers)
	tx.Rollback()

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 while the member row is busy, got %d: %s", w.Code, w.Body.String())
	}
	var queued struct {
		InvoiceID string `json:"invoiceId"`
		Status    string `json:"status"`
	}
	decode(t, w, &queued)
	if queued.Status != "pending" || queued.InvoiceID == "" {
		t.Fatalf("response = %+v, want a pending invoice", queued)
	}
	if got := ts.Balance(t, m.ID); got != 0 {
		t.Errorf("balance before retry = %d, want 0", got)
	}

	done, err := ts.Dispatcher.RunOnce(ctx)
	if err != nil || done != 1 {
		t.Fatalf("RunOnce = %d, %v; want 1 task", done, err)
	}
	if got := ts.Balance(t, m.ID); got != 5000 {
		t.Errorf("balance after queued credit = %d, want 5000", got)
	}

	// The client retries with the same key: same invoice, no second credit.
	w = ts.POST("/points/charge", map[string]int64{"amount": 5000}, headers)
	if w.Code != http.StatusOK {
		t.Fatalf("retry: %d %s", w.Code, w.Body.String())
	}
	var credited struct {
		InvoiceID string       `json:"invoiceId"`
		Entry     ledger.Entry `json:"entry"`
	}
	decode(t, w, &credited)
	if credited.InvoiceID != queued.InvoiceID {
		t.Errorf("retry invoice = %s, want %s", credited.InvoiceID, queued.InvoiceID)
	}
	if credited.Entry.Reference == nil || *credited.Entry.Reference != queued.InvoiceID {
		t.Errorf("entry reference = %v, want %s", credited.Entry.Reference, queued.InvoiceID)
	}

	if got := ts.Balance(t, m.ID); got != 5000 {
		t.Errorf("balance after retry = %d, want 5000", got)
	}
	if n := len(ts.Charger.Charges()); n != 1 {
		t.Errorf("charges = %d, want 1", n)
	}
	var entries int
	if err := ts.DB.Get(&entries, `SELECT count(*) FROM ledger_entries WHERE reference = $1`, queued.InvoiceID); err != nil {
		t.Fatal(err)
	}
	if entries != 1 {
		t.Errorf("ledger entries for invoice = %d, want 1", entries)
	}
	ts.CheckInvariants(t)
}

func TestMeFillsProfileFromUserInfo(t *testing.T) {
	ts := NewTestServer(t)
	ts.UserInfo.AddUser("token-minji", &auth0.UserInfo{
		Sub:      "auth0|minji",
		Email:    "minji@example.com",
		Nickname: "minji",
	})

	headers := as("auth0|minji")
	headers["Authorization"] = "Bearer token-minji"

	w := ts.GET("/me", headers)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var me struct {
		Email   string `json:"email"`
		Name    string `json:"name"`
		Balance int64  `json:"balance"`
	}
	decode(t, w, &me)
	if me.Email != "minji@example.com" || me.Name != "minji" {
		t.Errorf("profile = %q %q, want minji@example.com minji", me.Email, me.Name)
	}
	if me.Balance != 0 {
		t.Errorf("balance = %d, want 0", me.Balance)
	}

	// A filled profile is not fetched again.
	ts.GET("/me", headers)
	if got := ts.UserInfo.Calls(); got != 1 {
		t.Errorf("userinfo calls = %d, want 1", got)
	}
}
