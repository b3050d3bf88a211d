package member

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db: db,
	}
}

var ErrNotFound = errors.New("member not found")

func (r *Repository) GetMemberByAuth0ID(ctx context.Context, auth0ID string) (*Member, error) {
	var member Member
	err := r.db.GetContext(ctx, &member, getMemberByAuth0IDQuery, auth0ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, err
	}
	return &member, nil
}

const getMemberByAuth0IDQuery = "SELECT * FROM members WHERE auth0_id = $1"

// Exists reports whether a member with the given id is registered.
func (r *Repository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, memberExistsQuery, id)
	return exists, err
}

const memberExistsQuery = "SELECT EXISTS (SELECT 1 FROM members WHERE id = $1)"

// GetOrCreateMember returns the member for auth0ID, registering it on first
// sight. Concurrent first requests for the same identity yield one member.
func (r *Repository) GetOrCreateMember(ctx context.Context, auth0ID string) (*Member, error) {
	_, err := r.db.ExecContext(ctx, createMemberQuery, uuid.New(), auth0ID)
	if err != nil {
		return nil, err
	}
	return r.GetMemberByAuth0ID(ctx, auth0ID)
}

const createMemberQuery = "INSERT INTO members (id, auth0_id) VALUES ($1, $2) ON CONFLICT (auth0_id) DO NOTHING"

func (r *Repository) AddStripeIDToMember(ctx context.Context, auth0ID, stripeID string) error {
	_, err := r.db.ExecContext(ctx, addStripeIDToMemberQuery, stripeID, auth0ID)
	return err
}

const addStripeIDToMemberQuery = "UPDATE members SET stripe_id = $1 WHERE auth0_id = $2"

func (r *Repository) UpdateProfile(ctx context.Context, auth0ID, email, name string) error {
	_, err := r.db.ExecContext(ctx, updateProfileQuery, email, name, auth0ID)
	return err
}

const updateProfileQuery = `UPDATE members SET email = NULLIF($1, ''), name = NULLIF($2, '') WHERE auth0_id = $3`

// SetLastBike records the bike a member most recently rented.
func (r *Repository) SetLastBike(ctx context.Context, id, bikeID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, setLastBikeQuery, bikeID, id)
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

const setLastBikeQuery = `UPDATE members SET last_bike_id = $1 WHERE id = $2`
