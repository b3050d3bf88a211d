// Package ranking aggregates completed rentals into weekly leaderboards, pays
// the weekly top three and serves the all-time view.
package ranking

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one row of a leaderboard.
type Entry struct {
	WeekStart  *time.Time `db:"week_start" json:"weekStart,omitempty"`
	MemberID   uuid.UUID  `db:"member_id" json:"memberId"`
	Name       string     `db:"name" json:"name"`
	Rank       int        `db:"rank" json:"rank"`
	DistanceKm float64    `db:"distance_km" json:"distanceKm"`
	RideCount  int        `db:"ride_count" json:"rideCount"`
}

// Payout is the outcome of paying one weekly rank.
type Payout struct {
	Rank     int       `json:"rank"`
	MemberID uuid.UUID `json:"memberId"`
	Amount   int64     `json:"amount"`
	// Paid is false when the rank or the member had already been paid for the
	// week.
	Paid bool `json:"paid"`
}

// Result summarises one weekly run.
type Result struct {
	WeekStart time.Time `json:"weekStart"`
	Ranked    int       `json:"ranked"`
	Payouts   []Payout  `json:"payouts"`
}

var rewards = []int64{3000, 2000, 1000}

// Reward returns the points paid for a weekly rank, and false for ranks that
// are not rewarded.
func Reward(rank int) (int64, bool) {
	if rank < 1 || rank > len(rewards) {
		return 0, false
	}
	return rewards[rank-1], true
}

// WeekStart returns Monday 00:00 in loc of the week containing t.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	offset := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, loc)
}

// WeekEnd is the exclusive end of the week starting at weekStart. Calendar
// arithmetic keeps it on Monday 00:00 across DST changes.
func WeekEnd(weekStart time.Time) time.Time {
	return weekStart.AddDate(0, 0, 7)
}

// PreviousWeek returns the start of the last completed week before t.
func PreviousWeek(t time.Time, loc *time.Location) time.Time {
	return WeekStart(t, loc).AddDate(0, 0, -7)
}

// ParseWeek parses a YYYY-MM-DD date in loc and returns the start of its week.
func ParseWeek(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, err
	}
	return WeekStart(d, loc), nil
}
