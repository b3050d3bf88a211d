package rental

import (
	"errors"

	"github.com/google/uuid"

	"github.com/semanticallynull/bikeshare-backend/bike"
	"github.com/semanticallynull/bikeshare-backend/member"
	"github.com/semanticallynull/bikeshare-backend/station"
)

var (
	ErrNoValidTicket  = errors.New("no valid ticket")
	ErrAlreadyRenting = errors.New("member already has an open rental")
	ErrNoOpenRental   = errors.New("no open rental")

	ErrBikeUnavailable = bike.ErrNotAvailable
	ErrBikeNotFound    = bike.ErrNotFound
	ErrStationNotFound = station.ErrNotFound
	ErrMemberNotFound  = member.ErrNotFound

	// ErrStationInventoryMismatch and ErrBikeStateMismatch are consistency
	// violations: the cached station count or the bike row disagrees with the
	// rental records. The operation aborts; nothing is corrected.
	ErrStationInventoryMismatch = station.ErrCountDrift
	ErrBikeStateMismatch        = bike.ErrStateMismatch
)

type alreadyRentingError struct {
	memberID uuid.UUID
	bikeID   uuid.UUID
}

func (e *alreadyRentingError) Error() string {
	if e.bikeID == uuid.Nil {
		return "rental in progress for member " + e.memberID.String()
	}
	return "rental of bike " + e.bikeID.String() + " in progress for member " + e.memberID.String()
}

func (e *alreadyRentingError) Is(target error) bool {
	return target == ErrAlreadyRenting
}

// BikeFromAlreadyRentingError returns the bike a member is already riding when
// err reports an open rental and the bike is known.
func BikeFromAlreadyRentingError(err error) (uuid.UUID, bool) {
	var are *alreadyRentingError
	if errors.As(err, &are) && are.bikeID != uuid.Nil {
		return are.bikeID, true
	}
	return uuid.UUID{}, false
}
