package station

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/semanticallynull/bikeshare-backend/geo"
)

type Station struct {
	ID      uuid.UUID `db:"id"`
	Name    string    `db:"name"`
	Address string    `db:"address"`
	// Location holds latitude in P.X and longitude in P.Y. It is not valid for
	// stations whose coordinates were never surveyed.
	Location pgtype.Point `db:"location"`
	// AvailableCount caches the number of LOCKED bikes docked here. Every
	// placement change adjusts it in the same transaction.
	AvailableCount int `db:"available_count"`
}

// Point returns the station coordinates, or nil when they are unknown.
func (s Station) Point() *geo.Point {
	if !s.Location.Valid {
		return nil
	}
	return &geo.Point{Lat: s.Location.P.X, Lng: s.Location.P.Y}
}

// Drift is a station whose cached count disagrees with its docked bikes.
type Drift struct {
	StationID uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	Cached    int       `db:"available_count"`
	Actual    int       `db:"actual"`
}
