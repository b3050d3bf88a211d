package ledger

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/semanticallynull/bikeshare-backend/internal/clock"
	"github.com/semanticallynull/bikeshare-backend/internal/database"
	"github.com/semanticallynull/bikeshare-backend/member"
)

var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

var ledgerOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Total number of points ledger operations by outcome",
	},
	[]string{"op", "result"},
)

// RegisterMetrics registers the ledger collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(ledgerOperationsTotal)
}

type Ledger struct {
	runner *database.TxRunner
	clock  clock.Clock
}

func New(runner *database.TxRunner, clk clock.Clock) *Ledger {
	return &Ledger{runner: runner, clock: clk}
}

// Credit adds amount points to the member's balance.
func (l *Ledger) Credit(ctx context.Context, memberID uuid.UUID, amount int64, reason string) (Entry, error) {
	return l.run(ctx, "credit", memberID, func(tx *sqlx.Tx) (Entry, error) {
		return l.CreditTx(ctx, tx, memberID, amount, reason)
	})
}

// Debit removes amount points from the member's balance. It fails with
// ErrInsufficientBalance rather than letting the balance go negative.
func (l *Ledger) Debit(ctx context.Context, memberID uuid.UUID, amount int64, reason string) (Entry, error) {
	return l.run(ctx, "debit", memberID, func(tx *sqlx.Tx) (Entry, error) {
		return l.DebitTx(ctx, tx, memberID, amount, reason)
	})
}

func (l *Ledger) run(ctx context.Context, op string, memberID uuid.UUID, fn func(tx *sqlx.Tx) (Entry, error)) (Entry, error) {
	ctx, span := otel.Tracer("ledger").Start(ctx, "ledger."+op)
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID.String()))

	var entry Entry
	err := l.runner.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		entry, err = fn(tx)
		return err
	})
	ledgerOperationsTotal.WithLabelValues(op, result(err)).Inc()
	if err != nil {
		span.RecordError(err)
		return Entry{}, err
	}
	return entry, nil
}

// CreditTx is Credit inside a caller's transaction, for callers that must make
// the credit atomic with their own writes.
func (l *Ledger) CreditTx(ctx context.Context, tx *sqlx.Tx, memberID uuid.UUID, amount int64, reason string) (Entry, error) {
	if err := validateAmount(amount); err != nil {
		return Entry{}, err
	}
	return l.apply(ctx, tx, memberID, amount, Charge, reason, nil)
}

// DebitTx is Debit inside a caller's transaction.
func (l *Ledger) DebitTx(ctx context.Context, tx *sqlx.Tx, memberID uuid.UUID, amount int64, reason string) (Entry, error) {
	if err := validateAmount(amount); err != nil {
		return Entry{}, err
	}
	return l.apply(ctx, tx, memberID, -amount, Use, reason, nil)
}

func (l *Ledger) apply(ctx context.Context, tx *sqlx.Tx, memberID uuid.UUID, delta int64, kind Kind, reason string, ref *string) (Entry, error) {
	var balance int64
	err := tx.GetContext(ctx, &balance, lockBalanceQuery, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, member.ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}

	next, err := nextBalance(balance, delta)
	if err != nil {
		return Entry{}, err
	}

	var entry Entry
	err = tx.GetContext(ctx, &entry, insertEntryQuery,
		uuid.New(), memberID, delta, kind, reason, next, ref, l.clock.Now())
	if err != nil {
		return Entry{}, err
	}

	if _, err := tx.ExecContext(ctx, updateBalanceQuery, next, memberID); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

const lockBalanceQuery = `SELECT balance FROM members WHERE id = $1 FOR UPDATE`

const insertEntryQuery = `
INSERT INTO ledger_entries (id, member_id, amount, kind, description, balance_after, reference, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING *
`

const updateBalanceQuery = `UPDATE members SET balance = $1 WHERE id = $2`

// Balance returns the member's current balance snapshot.
func (l *Ledger) Balance(ctx context.Context, memberID uuid.UUID) (int64, error) {
	var balance int64
	err := l.runner.DB().GetContext(ctx, &balance, balanceQuery, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, member.ErrNotFound
	}
	return balance, err
}

const balanceQuery = `SELECT balance FROM members WHERE id = $1`

// History returns the member's most recent entries, newest first.
func (l *Ledger) History(ctx context.Context, memberID uuid.UUID, limit int) ([]Entry, error) {
	entries := []Entry{}
	err := l.runner.DB().SelectContext(ctx, &entries, historyQuery, memberID, ClampLimit(limit))
	return entries, err
}

const historyQuery = `
SELECT * FROM ledger_entries
WHERE member_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`

func validateAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func nextBalance(balance, delta int64) (int64, error) {
	next := balance + delta
	if next < 0 {
		return 0, ErrInsufficientBalance
	}
	return next, nil
}

// ClampLimit applies the default and maximum page size to a caller limit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, database.ErrTransient):
		return "transient"
	case errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrInvalidAmount):
		return "rejected"
	}
	return "error"
}
