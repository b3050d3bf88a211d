package rental

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// openEpisodeIndex is the partial unique index allowing one open episode per
// member.
const openEpisodeIndex = "rental_episodes_one_open_per_member"

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) openEpisode(ctx context.Context, tx *sqlx.Tx, memberID uuid.UUID) (*Episode, error) {
	var ep Episode
	err := tx.GetContext(ctx, &ep, openEpisodeQuery, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

const openEpisodeQuery = `SELECT * FROM rental_episodes WHERE member_id = $1 AND end_time IS NULL`

// lockOpenEpisode holds the member's open episode for the rest of the
// transaction so concurrent returns serialise on it.
func (r *Repository) lockOpenEpisode(ctx context.Context, tx *sqlx.Tx, memberID uuid.UUID) (Episode, error) {
	var ep Episode
	err := tx.GetContext(ctx, &ep, lockOpenEpisodeQuery, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return Episode{}, ErrNoOpenRental
	}
	return ep, err
}

const lockOpenEpisodeQuery = `SELECT * FROM rental_episodes WHERE member_id = $1 AND end_time IS NULL FOR UPDATE`

func (r *Repository) insertEpisode(ctx context.Context, tx *sqlx.Tx, memberID, bikeID, stationID uuid.UUID, start time.Time) (Episode, error) {
	var ep Episode
	err := tx.GetContext(ctx, &ep, insertEpisodeQuery, uuid.New(), memberID, bikeID, stationID, start)
	return ep, err
}

const insertEpisodeQuery = `
INSERT INTO rental_episodes (id, member_id, bike_id, start_station_id, start_time)
VALUES ($1, $2, $3, $4, $5)
RETURNING *
`

func (r *Repository) closeEpisode(ctx context.Context, tx *sqlx.Tx, id, stationID uuid.UUID, end time.Time, distance *float64) (Episode, error) {
	var ep Episode
	err := tx.GetContext(ctx, &ep, closeEpisodeQuery, id, stationID, end, distance)
	if errors.Is(err, sql.ErrNoRows) {
		return Episode{}, ErrNoOpenRental
	}
	return ep, err
}

const closeEpisodeQuery = `
UPDATE rental_episodes
SET end_station_id = $2, end_time = $3, distance_km = $4
WHERE id = $1 AND end_time IS NULL
RETURNING *
`

func (r *Repository) OpenRental(ctx context.Context, memberID uuid.UUID) (*Episode, error) {
	var ep Episode
	err := r.db.GetContext(ctx, &ep, openRentalQuery, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

const openRentalQuery = `
SELECT e.*, b.label AS bike_label
FROM rental_episodes e
JOIN bikes b ON b.id = e.bike_id
WHERE e.member_id = $1 AND e.end_time IS NULL
`

func (r *Repository) History(ctx context.Context, memberID uuid.UUID, limit int) ([]Episode, error) {
	var eps []Episode
	err := r.db.SelectContext(ctx, &eps, historyQuery, memberID, limit)
	return eps, err
}

const historyQuery = `
SELECT e.*, b.label AS bike_label
FROM rental_episodes e
JOIN bikes b ON b.id = e.bike_id
WHERE e.member_id = $1 AND e.end_time IS NOT NULL
ORDER BY e.end_time DESC
LIMIT $2
`
