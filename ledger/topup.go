package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/semanticallynull/bikeshare-backend/member"
	"github.com/semanticallynull/bikeshare-backend/outbox"
)

// TaskTopUp credits a paid top-up that could not be credited while the
// member waited.
const TaskTopUp outbox.Kind = "points.topup"

type TopUpPayload struct {
	MemberID  uuid.UUID `json:"memberId"`
	Amount    int64     `json:"amount"`
	InvoiceID string    `json:"invoiceId"`
}

// CreditOnce credits amount under reference unless an entry with that
// reference already exists, in which case the existing entry is returned and
// applied is false.
func (l *Ledger) CreditOnce(ctx context.Context, memberID uuid.UUID, amount int64, reason, reference string) (entry Entry, applied bool, err error) {
	if reference == "" {
		return Entry{}, false, errors.New("credit reference must not be empty")
	}
	entry, err = l.run(ctx, "credit", memberID, func(tx *sqlx.Tx) (Entry, error) {
		if err := validateAmount(amount); err != nil {
			return Entry{}, err
		}
		// Concurrent credits for one reference serialize on the member row,
		// so the lookup runs after the lock is taken.
		var balance int64
		err := tx.GetContext(ctx, &balance, lockBalanceQuery, memberID)
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, member.ErrNotFound
		}
		if err != nil {
			return Entry{}, err
		}

		var existing Entry
		err = tx.GetContext(ctx, &existing, entryByReferenceQuery, reference)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		applied = true
		return l.apply(ctx, tx, memberID, amount, Charge, reason, &reference)
	})
	if err != nil {
		return Entry{}, false, err
	}
	return entry, applied, nil
}

const entryByReferenceQuery = `SELECT * FROM ledger_entries WHERE reference = $1`

// TopUp credits a paid invoice. When the credit cannot be made now, a
// TaskTopUp is queued instead and pending is true; the invoice is credited
// exactly once either way.
func (l *Ledger) TopUp(ctx context.Context, memberID uuid.UUID, amount int64, invoiceID string) (entry Entry, pending bool, err error) {
	entry, _, err = l.CreditOnce(ctx, memberID, amount, topUpReason(invoiceID), invoiceID)
	if err == nil {
		return entry, false, nil
	}
	if errors.Is(err, ErrInvalidAmount) {
		return Entry{}, false, err
	}

	creditErr := err
	err = l.runner.InTx(ctx, func(tx *sqlx.Tx) error {
		_, err := outbox.Enqueue(ctx, tx, l.clock.Now(), TaskTopUp, TopUpPayload{
			MemberID:  memberID,
			Amount:    amount,
			InvoiceID: invoiceID,
		})
		return err
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("queue top-up %s after %v: %w", invoiceID, creditErr, err)
	}
	return Entry{}, true, nil
}

// HandleTopUp is the outbox handler for TaskTopUp.
func (l *Ledger) HandleTopUp(ctx context.Context, task outbox.Task) error {
	var p TopUpPayload
	if err := task.Decode(&p); err != nil {
		return err
	}
	_, _, err := l.CreditOnce(ctx, p.MemberID, p.Amount, topUpReason(p.InvoiceID), p.InvoiceID)
	return err
}

func topUpReason(invoiceID string) string {
	return "top-up " + invoiceID
}
