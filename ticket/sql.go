package ticket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/semanticallynull/bikeshare-backend/internal/clock"
	"github.com/semanticallynull/bikeshare-backend/internal/database"
	"github.com/semanticallynull/bikeshare-backend/ledger"
)

// Debiter takes the ticket price from a member inside the purchase
// transaction. The points ledger satisfies it.
type Debiter interface {
	DebitTx(ctx context.Context, tx *sqlx.Tx, memberID uuid.UUID, amount int64, reason string) (ledger.Entry, error)
}

type Repository struct {
	runner *database.TxRunner
	points Debiter
	clock  clock.Clock
}

func NewRepository(runner *database.TxRunner, points Debiter, clk clock.Clock) *Repository {
	return &Repository{runner: runner, points: points, clock: clk}
}

// HasValidAccess sweeps expired tickets and then reports whether the member
// holds at least one ticket valid at the current time.
func (r *Repository) HasValidAccess(ctx context.Context, memberID uuid.UUID) (bool, error) {
	now := r.clock.Now()
	if _, err := r.sweep(ctx, now); err != nil {
		return false, database.Classify(err)
	}

	var valid bool
	err := r.runner.DB().GetContext(ctx, &valid, hasValidAccessQuery, memberID, now)
	return valid, database.Classify(err)
}

const hasValidAccessQuery = `
SELECT EXISTS (
    SELECT 1 FROM tickets
    WHERE member_id = $1 AND status = 'ACTIVE' AND expiry_time > $2
)
`

// Sweep flips every ACTIVE ticket whose expiry has passed to EXPIRED and
// returns how many changed. Running it repeatedly is harmless.
func (r *Repository) Sweep(ctx context.Context) (int64, error) {
	return r.sweep(ctx, r.clock.Now())
}

func (r *Repository) sweep(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.runner.DB().ExecContext(ctx, sweepQuery, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const sweepQuery = `UPDATE tickets SET status = 'EXPIRED' WHERE status = 'ACTIVE' AND expiry_time <= $1`

// Purchase pays for a ticket with points and issues it, atomically.
func (r *Repository) Purchase(ctx context.Context, memberID uuid.UUID, t Type) (Ticket, error) {
	plan, err := PlanFor(t)
	if err != nil {
		return Ticket{}, err
	}

	var ticket Ticket
	err = r.runner.InTx(ctx, func(tx *sqlx.Tx) error {
		now := r.clock.Now()

		if _, err := r.points.DebitTx(ctx, tx, memberID, plan.Price, fmt.Sprintf("ticket %s", plan.Type)); err != nil {
			return err
		}

		// The debit above holds the member's balance row lock, so concurrent
		// purchases by the same member see each other's expiry here.
		var latest *time.Time
		if err := tx.GetContext(ctx, &latest, latestExpiryQuery, memberID, now); err != nil {
			return err
		}

		return tx.GetContext(ctx, &ticket, insertTicketQuery,
			uuid.New(), memberID, plan.Type, now, expiryFor(plan, now, latest))
	})
	return ticket, err
}

const latestExpiryQuery = `
SELECT max(expiry_time) FROM tickets
WHERE member_id = $1 AND status = 'ACTIVE' AND expiry_time > $2
`

const insertTicketQuery = `
INSERT INTO tickets (id, member_id, type, purchase_time, expiry_time, status)
VALUES ($1, $2, $3, $4, $5, 'ACTIVE')
RETURNING *
`

// List returns the member's tickets, latest expiry first.
func (r *Repository) List(ctx context.Context, memberID uuid.UUID) ([]Ticket, error) {
	tickets := []Ticket{}
	err := r.runner.DB().SelectContext(ctx, &tickets, listTicketsQuery, memberID)
	return tickets, err
}

const listTicketsQuery = `SELECT * FROM tickets WHERE member_id = $1 ORDER BY expiry_time DESC`
