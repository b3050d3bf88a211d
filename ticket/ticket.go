// Package ticket manages time-bounded access grants. A member may rent a bike
// only while holding at least one unexpired ACTIVE ticket.
package ticket

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	Active  Status = "ACTIVE"
	Expired Status = "EXPIRED"
)

type Type string

const (
	OneHour  Type = "ONE_HOUR"
	TwoHours Type = "TWO_HOURS"
	Week     Type = "WEEK"
	Month    Type = "MONTH"
	HalfYear Type = "HALF_YEAR"
	Year     Type = "YEAR"
)

var ErrUnknownType = errors.New("unknown ticket type")

// Plan is the duration window and point price of a ticket type.
type Plan struct {
	Type     Type          `json:"type"`
	Duration time.Duration `json:"-"`
	Price    int64         `json:"price"`
}

var plans = []Plan{
	{OneHour, time.Hour, 1000},
	{TwoHours, 2 * time.Hour, 2000},
	{Week, 7 * 24 * time.Hour, 3000},
	{Month, 30 * 24 * time.Hour, 5000},
	{HalfYear, 180 * 24 * time.Hour, 15000},
	{Year, 365 * 24 * time.Hour, 30000},
}

// Plans lists the purchasable ticket types.
func Plans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

// PlanFor returns the plan of a ticket type.
func PlanFor(t Type) (Plan, error) {
	for _, p := range plans {
		if p.Type == t {
			return p, nil
		}
	}
	return Plan{}, ErrUnknownType
}

type Ticket struct {
	ID           uuid.UUID `db:"id" json:"id"`
	MemberID     uuid.UUID `db:"member_id" json:"memberId"`
	Type         Type      `db:"type" json:"type"`
	PurchaseTime time.Time `db:"purchase_time" json:"purchaseTime"`
	ExpiryTime   time.Time `db:"expiry_time" json:"expiryTime"`
	Status       Status    `db:"status" json:"status"`
}

// ValidAt reports whether the ticket grants access at now. The expiry time is
// compared directly; a stale ACTIVE status alone never grants access.
func (t Ticket) ValidAt(now time.Time) bool {
	return t.Status == Active && t.ExpiryTime.After(now)
}

// expiryFor returns when a new ticket bought at now should expire. Validity
// stacks on top of the latest still-valid ticket rather than overlapping it.
func expiryFor(p Plan, now time.Time, latest *time.Time) time.Time {
	start := now
	if latest != nil && latest.After(now) {
		start = *latest
	}
	return start.Add(p.Duration)
}
