package bike

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrNotAvailable = errors.New("bike not available")
	// ErrStateMismatch means a bike being returned was not checked out.
	ErrStateMismatch = errors.New("bike state mismatch")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetBikes(ctx context.Context) ([]Bike, error) {
	var bikes []Bike
	err := r.db.SelectContext(ctx, &bikes, getBikes)
	return bikes, err
}

const getBikes = `SELECT id, label, station_id, lock_state, condition FROM bikes ORDER BY label`

// GetBike fetches a bike by its physical label.
func (r *Repository) GetBike(ctx context.Context, label string) (Bike, error) {
	var bike Bike

	err := r.db.GetContext(ctx, &bike, getBike, label)
	if errors.Is(err, sql.ErrNoRows) {
		return bike, ErrNotFound
	}

	return bike, err
}

const getBike = `SELECT id, label, station_id, lock_state, condition FROM bikes WHERE label = $1`

// GetBikeByID fetches a bike by its UUID.
func (r *Repository) GetBikeByID(ctx context.Context, id uuid.UUID) (Bike, error) {
	var bike Bike
	err := r.db.GetContext(ctx, &bike, getBikeByID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return bike, ErrNotFound
	}
	return bike, err
}

const getBikeByID = `SELECT id, label, station_id, lock_state, condition FROM bikes WHERE id = $1`

// GetBikesWithStations fetches docked bikes with their station name,
// optionally restricted to one station.
func (r *Repository) GetBikesWithStations(ctx context.Context, stationID *uuid.UUID) ([]BikeWithStation, error) {
	var bikes []BikeWithStation
	var err error
	if stationID != nil {
		err = r.db.SelectContext(ctx, &bikes, getBikesWithStationsByStation, *stationID)
	} else {
		err = r.db.SelectContext(ctx, &bikes, getBikesWithStations)
	}
	return bikes, err
}

const getBikesWithStations = `
SELECT b.id, b.label, b.station_id, b.lock_state, b.condition, COALESCE(s.name, '') as station_name
FROM bikes b
LEFT JOIN stations s ON b.station_id = s.id
ORDER BY b.label
`

const getBikesWithStationsByStation = `
SELECT b.id, b.label, b.station_id, b.lock_state, b.condition, COALESCE(s.name, '') as station_name
FROM bikes b
LEFT JOIN stations s ON b.station_id = s.id
WHERE b.station_id = $1
ORDER BY b.label
`

// Checkout flips a bike from LOCKED at stationID to IN_USE. The update is
// guarded by the bike's current state, so of two concurrent checkouts of the
// same bike exactly one matches a row; the other gets ErrNotAvailable.
func (r *Repository) Checkout(ctx context.Context, tx *sqlx.Tx, id, stationID uuid.UUID) error {
	res, err := tx.ExecContext(ctx, checkoutQuery, id, stationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotAvailable
	}
	return nil
}

const checkoutQuery = `
UPDATE bikes SET lock_state = 'IN_USE', station_id = NULL
WHERE id = $1 AND station_id = $2 AND lock_state = 'LOCKED' AND condition = 'NORMAL'
`

// Dock locks a checked-out bike at stationID.
func (r *Repository) Dock(ctx context.Context, tx *sqlx.Tx, id, stationID uuid.UUID) error {
	res, err := tx.ExecContext(ctx, dockQuery, id, stationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStateMismatch
	}
	return nil
}

const dockQuery = `
UPDATE bikes SET lock_state = 'LOCKED', station_id = $2
WHERE id = $1 AND lock_state = 'IN_USE' AND station_id IS NULL
`

// SetCondition marks a bike as under maintenance or back in service. It does
// not change placement, so station counts are unaffected.
func (r *Repository) SetCondition(ctx context.Context, id uuid.UUID, condition Condition) error {
	res, err := r.db.ExecContext(ctx, setConditionQuery, id, condition)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const setConditionQuery = `UPDATE bikes SET condition = $2 WHERE id = $1`
