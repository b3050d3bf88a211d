// Package ledger is the points ledger: an append-only log of balance changes
// per member with the running balance snapshotted on every entry.
package ledger

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	// Charge entries add points: top-ups, achievement and ranking rewards.
	Charge Kind = "CHARGE"
	// Use entries spend points, e.g. on a ticket.
	Use Kind = "USE"
)

type Entry struct {
	ID          uuid.UUID `db:"id" json:"id"`
	MemberID    uuid.UUID `db:"member_id" json:"memberId"`
	Amount      int64     `db:"amount" json:"amount"`
	Kind        Kind      `db:"kind" json:"kind"`
	Description string    `db:"description" json:"description"`
	// BalanceAfter is the member's balance once this entry applied.
	BalanceAfter int64 `db:"balance_after" json:"balanceAfter"`
	// Reference identifies the external event behind the entry, such as a
	// paid invoice. At most one entry exists per reference.
	Reference *string   `db:"reference" json:"reference,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
