package member

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type Member struct {
	ID       uuid.UUID      `db:"id"`
	Auth0ID  string         `db:"auth0_id"`
	StripeID sql.NullString `db:"stripe_id"`
	Email    sql.NullString `db:"email"`
	Name     sql.NullString `db:"name"`
	// Balance is the point balance snapshot of the member's latest ledger
	// entry. Only the ledger writes it.
	Balance int64 `db:"balance"`
	// LastBikeID is informational only.
	LastBikeID *uuid.UUID `db:"last_bike_id"`
	CreatedAt  time.Time  `db:"created_at"`
}
