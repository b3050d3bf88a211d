package station

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound = errors.New("station not found")
	// ErrCountDrift means the cached available count could not be decremented
	// although a bike was about to leave the station.
	ErrCountDrift = errors.New("station inventory mismatch")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetStations(ctx context.Context) ([]Station, error) {
	var stations []Station
	err := r.db.SelectContext(ctx, &stations, getStations)
	return stations, err
}

const getStations = `SELECT id, name, address, location, available_count FROM stations ORDER BY name`

func (r *Repository) GetStation(ctx context.Context, id uuid.UUID) (Station, error) {
	return getStation(ctx, r.db, id)
}

// GetStationTx reads a station inside a caller's transaction.
func (r *Repository) GetStationTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (Station, error) {
	return getStation(ctx, tx, id)
}

func getStation(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (Station, error) {
	var station Station
	err := sqlx.GetContext(ctx, q, &station, getStationQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Station{}, ErrNotFound
	}
	return station, err
}

const getStationQuery = `SELECT id, name, address, location, available_count FROM stations WHERE id = $1`

// ReleaseBike decrements the available count of a station a bike is leaving.
// The decrement only applies while the count is positive; otherwise the cache
// has drifted and ErrCountDrift is returned without touching the row.
func (r *Repository) ReleaseBike(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (int, error) {
	var remaining int
	err := tx.GetContext(ctx, &remaining, releaseBikeQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrCountDrift
	}
	return remaining, err
}

const releaseBikeQuery = `
UPDATE stations SET available_count = available_count - 1
WHERE id = $1 AND available_count > 0
RETURNING available_count
`

// DockBike increments the available count of the station a bike was returned to.
func (r *Repository) DockBike(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (int, error) {
	var count int
	err := tx.GetContext(ctx, &count, dockBikeQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return count, err
}

const dockBikeQuery = `UPDATE stations SET available_count = available_count + 1 WHERE id = $1 RETURNING available_count`

// Audit recounts LOCKED bikes per station and returns every station whose
// cached count differs. It reports drift; it never corrects it.
func (r *Repository) Audit(ctx context.Context) ([]Drift, error) {
	var drift []Drift
	err := r.db.SelectContext(ctx, &drift, auditQuery)
	return drift, err
}

const auditQuery = `
SELECT s.id, s.name, s.available_count, COALESCE(b.actual, 0) AS actual
FROM stations s
LEFT JOIN (
    SELECT station_id, count(*) AS actual FROM bikes
    WHERE lock_state = 'LOCKED' AND station_id IS NOT NULL
    GROUP BY station_id
) b ON b.station_id = s.id
WHERE s.available_count <> COALESCE(b.actual, 0)
ORDER BY s.name
`
