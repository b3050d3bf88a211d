package rental

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/semanticallynull/bikeshare-backend/internal/database"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{ErrNoValidTicket, "NO_VALID_TICKET"},
		{&alreadyRentingError{memberID: uuid.New()}, "ALREADY_RENTING"},
		{ErrBikeUnavailable, "BIKE_UNAVAILABLE"},
		{ErrBikeNotFound, "BIKE_NOT_FOUND"},
		{ErrStationInventoryMismatch, "STATION_INVENTORY_MISMATCH"},
		{ErrBikeStateMismatch, "BIKE_STATE_MISMATCH"},
		{ErrNoOpenRental, "NO_OPEN_RENTAL"},
		{fmt.Errorf("load destination: %w", ErrStationNotFound), "STATION_NOT_FOUND"},
		{ErrMemberNotFound, "MEMBER_NOT_FOUND"},
		{fmt.Errorf("%w: lock timeout", database.ErrTransient), "TRANSIENT"},
		{errors.New("boom"), "INTERNAL"},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestAlreadyRentingError(t *testing.T) {
	memberID, bikeID := uuid.New(), uuid.New()

	err := fmt.Errorf("rent: %w", &alreadyRentingError{memberID: memberID, bikeID: bikeID})
	if !errors.Is(err, ErrAlreadyRenting) {
		t.Fatal("expected error to match ErrAlreadyRenting")
	}
	got, ok := BikeFromAlreadyRentingError(err)
	if !ok || got != bikeID {
		t.Errorf("BikeFromAlreadyRentingError = %v, %v; want %v, true", got, ok, bikeID)
	}

	// Lost race on the unique index: the bike is not known.
	if _, ok := BikeFromAlreadyRentingError(&alreadyRentingError{memberID: memberID}); ok {
		t.Error("expected no bike for an error without one")
	}
	if _, ok := BikeFromAlreadyRentingError(ErrNoOpenRental); ok {
		t.Error("expected no bike for an unrelated error")
	}
}

func TestEpisodeMinutes(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		end  time.Duration
		want int
	}{
		{0, 0},
		{time.Second, 1},
		{time.Minute, 1},
		{time.Minute + time.Second, 2},
		{95 * time.Minute, 95},
	}
	for _, tt := range tests {
		end := start.Add(tt.end)
		ep := Episode{StartTime: start, EndTime: &end}
		if got := ep.Minutes(); got != tt.want {
			t.Errorf("Minutes for %s = %d, want %d", tt.end, got, tt.want)
		}
		if ep.Open() {
			t.Error("closed episode reported open")
		}
	}

	open := Episode{StartTime: start}
	if !open.Open() || open.Minutes() != 0 {
		t.Errorf("open episode: Open() = %v, Minutes() = %d", open.Open(), open.Minutes())
	}
}

func TestClampLimit(t *testing.T) {
	tests := map[int]int{0: 20, -1: 20, 5: 5, 100: 100, 101: 100}
	for in, want := range tests {
		if got := clampLimit(in); got != want {
			t.Errorf("clampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
