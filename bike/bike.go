// Package bike
package bike

import (
	"github.com/google/uuid"
)

type LockState string

const (
	Locked LockState = "LOCKED"
	InUse  LockState = "IN_USE"
)

type Condition string

const (
	Normal      Condition = "NORMAL"
	Maintenance Condition = "MAINTENANCE"
)

// Bike represents a bike which can be rented from a station.
type Bike struct {
	// ID is an internal identifier for a bike
	ID uuid.UUID `db:"id"`
	// Label is a physical label which is on the bike. It should be scannable (e.g. "SEOUL-12345")
	// in QR Code or Code-128 format.
	Label string `db:"label"`

	// StationID is the station the bike is docked at. It is nil exactly when
	// the bike is checked out.
	StationID *uuid.UUID `db:"station_id"`
	LockState LockState  `db:"lock_state"`
	Condition Condition  `db:"condition"`
}

// Rentable reports whether the bike may leave stationID right now.
func (b Bike) Rentable(stationID uuid.UUID) bool {
	return b.LockState == Locked &&
		b.Condition == Normal &&
		b.StationID != nil && *b.StationID == stationID
}

// Consistent reports whether the lock state agrees with the bike's placement.
func (b Bike) Consistent() bool {
	return (b.LockState == InUse) == (b.StationID == nil)
}

// BikeWithStation represents a bike with its station name for listings.
type BikeWithStation struct {
	Bike
	StationName string `db:"station_name"`
}
