package rental

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Episode is one rental of one bike by one member. It is open while EndTime is
// nil and immutable once closed.
type Episode struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	MemberID       uuid.UUID  `db:"member_id" json:"memberId"`
	BikeID         uuid.UUID  `db:"bike_id" json:"bikeId"`
	BikeLabel      string     `db:"bike_label" json:"bikeLabel,omitempty"`
	StartStationID uuid.UUID  `db:"start_station_id" json:"startStationId"`
	EndStationID   *uuid.UUID `db:"end_station_id" json:"endStationId,omitempty"`
	StartTime      time.Time  `db:"start_time" json:"startTime"`
	EndTime        *time.Time `db:"end_time" json:"endTime,omitempty"`
	// DistanceKm is nil while open, and stays nil when either station lacked
	// coordinates at return time.
	DistanceKm *float64 `db:"distance_km" json:"distanceKm,omitempty"`
}

func (e Episode) Open() bool {
	return e.EndTime == nil
}

// Minutes is the billable duration of a closed episode, rounded up.
func (e Episode) Minutes() int {
	if e.EndTime == nil {
		return 0
	}
	return int(math.Ceil(e.EndTime.Sub(e.StartTime).Minutes()))
}

// Receipt is returned by a successful rent.
type Receipt struct {
	Episode Episode
	// StationAvailable is the start station's available count after checkout.
	StationAvailable int
}

// ReturnReceipt is returned by a successful return.
type ReturnReceipt struct {
	Episode    Episode
	DistanceKm *float64
	Minutes    int
	// StationAvailable is the destination's available count after docking.
	StationAvailable int
}
