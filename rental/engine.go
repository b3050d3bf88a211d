// Package rental is the rental lifecycle engine: it moves bikes between docked
// and in-use, keeps station inventory in step, and records rental episodes.
package rental

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/semanticallynull/bikeshare-backend/achievement"
	"github.com/semanticallynull/bikeshare-backend/bike"
	"github.com/semanticallynull/bikeshare-backend/geo"
	"github.com/semanticallynull/bikeshare-backend/internal/clock"
	"github.com/semanticallynull/bikeshare-backend/internal/database"
	"github.com/semanticallynull/bikeshare-backend/member"
	"github.com/semanticallynull/bikeshare-backend/outbox"
	"github.com/semanticallynull/bikeshare-backend/station"
)

// AccessChecker decides whether a member may rent. The ticket repository
// satisfies it.
type AccessChecker interface {
	HasValidAccess(ctx context.Context, memberID uuid.UUID) (bool, error)
}

// Notifier is told when post-return tasks have been committed.
type Notifier interface {
	Notify()
}

var rentalOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rental_operations_total",
		Help: "Total number of rent and return operations by outcome",
	},
	[]string{"op", "result"},
)

// RegisterMetrics registers the engine collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(rentalOperationsTotal)
}

type Engine struct {
	runner   *database.TxRunner
	repo     *Repository
	bikes    *bike.Repository
	stations *station.Repository
	members  *member.Repository
	access   AccessChecker
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger
}

type Deps struct {
	Runner   *database.TxRunner
	Bikes    *bike.Repository
	Stations *station.Repository
	Members  *member.Repository
	Access   AccessChecker
	Notifier Notifier
	Clock    clock.Clock
	Logger   *slog.Logger
}

func NewEngine(d Deps) *Engine {
	return &Engine{
		runner:   d.Runner,
		repo:     NewRepository(d.Runner.DB()),
		bikes:    d.Bikes,
		stations: d.Stations,
		members:  d.Members,
		access:   d.Access,
		notifier: d.Notifier,
		clock:    d.Clock,
		logger:   d.Logger,
	}
}

func (e *Engine) startSpan(ctx context.Context, name string, memberID uuid.UUID) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("rental").Start(ctx, name)
	span.SetAttributes(attribute.String("member.id", memberID.String()))
	return ctx, span
}

// Rent checks bikeID out of stationID for the member. Either every effect
// applies (bike in use, station count decremented, open episode recorded) or
// none does.
func (e *Engine) Rent(ctx context.Context, memberID, bikeID, stationID uuid.UUID) (Receipt, error) {
	ctx, span := e.startSpan(ctx, "rental.Rent", memberID)
	defer span.End()
	span.SetAttributes(
		attribute.String("bike.id", bikeID.String()),
		attribute.String("station.id", stationID.String()),
	)

	receipt, err := e.rent(ctx, memberID, bikeID, stationID)
	rentalOperationsTotal.WithLabelValues("rent", Code(err)).Inc()
	if err != nil {
		span.RecordError(err)
		return Receipt{}, err
	}
	return receipt, nil
}

func (e *Engine) rent(ctx context.Context, memberID, bikeID, stationID uuid.UUID) (Receipt, error) {
	if err := e.requireMember(ctx, memberID); err != nil {
		return Receipt{}, err
	}

	ok, err := e.access.HasValidAccess(ctx, memberID)
	if err != nil {
		return Receipt{}, err
	}
	if !ok {
		return Receipt{}, ErrNoValidTicket
	}

	var receipt Receipt
	err = e.runner.InTx(ctx, func(tx *sqlx.Tx) error {
		open, err := e.repo.openEpisode(ctx, tx, memberID)
		if err != nil {
			return err
		}
		if open != nil {
			return &alreadyRentingError{memberID: memberID, bikeID: open.BikeID}
		}

		if err := e.bikes.Checkout(ctx, tx, bikeID, stationID); err != nil {
			if errors.Is(err, bike.ErrNotAvailable) {
				return e.explainUnavailable(ctx, bikeID, stationID)
			}
			return err
		}

		remaining, err := e.stations.ReleaseBike(ctx, tx, stationID)
		if err != nil {
			return err
		}

		ep, err := e.repo.insertEpisode(ctx, tx, memberID, bikeID, stationID, e.clock.Now())
		if err != nil {
			if database.IsUniqueViolation(err, openEpisodeIndex) {
				return &alreadyRentingError{memberID: memberID}
			}
			return err
		}

		receipt = Receipt{Episode: ep, StationAvailable: remaining}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	// Written after commit: member rows carry the points balance and are never
	// locked together with bike and station rows. last_bike_id is informational.
	if err := e.members.SetLastBike(ctx, memberID, bikeID); err != nil {
		e.logger.WarnContext(ctx, "failed to record last bike", "member_id", memberID, "error", err)
	}

	e.logger.InfoContext(ctx, "bike rented",
		"member_id", memberID, "bike_id", bikeID, "station_id", stationID, "episode_id", receipt.Episode.ID)
	return receipt, nil
}

// explainUnavailable distinguishes an unknown bike or station from a bike that
// is not rentable at the requested station.
func (e *Engine) explainUnavailable(ctx context.Context, bikeID, stationID uuid.UUID) error {
	if _, err := e.bikes.GetBikeByID(ctx, bikeID); errors.Is(err, bike.ErrNotFound) {
		return ErrBikeNotFound
	}
	if _, err := e.stations.GetStation(ctx, stationID); errors.Is(err, station.ErrNotFound) {
		return ErrStationNotFound
	}
	return ErrBikeUnavailable
}

// Return docks the member's rented bike at destinationID and closes the open
// episode. Achievement evaluation is queued in the same transaction and runs
// after commit; its outcome never affects the return.
func (e *Engine) Return(ctx context.Context, memberID, destinationID uuid.UUID) (ReturnReceipt, error) {
	ctx, span := e.startSpan(ctx, "rental.Return", memberID)
	defer span.End()
	span.SetAttributes(attribute.String("station.id", destinationID.String()))

	receipt, err := e.returnBike(ctx, memberID, destinationID)
	rentalOperationsTotal.WithLabelValues("return", Code(err)).Inc()
	if err != nil {
		span.RecordError(err)
		return ReturnReceipt{}, err
	}
	return receipt, nil
}

func (e *Engine) returnBike(ctx context.Context, memberID, destinationID uuid.UUID) (ReturnReceipt, error) {
	if err := e.requireMember(ctx, memberID); err != nil {
		return ReturnReceipt{}, err
	}

	var receipt ReturnReceipt
	err := e.runner.InTx(ctx, func(tx *sqlx.Tx) error {
		ep, err := e.repo.lockOpenEpisode(ctx, tx, memberID)
		if err != nil {
			return err
		}

		dest, err := e.stations.GetStationTx(ctx, tx, destinationID)
		if err != nil {
			return err
		}
		start, err := e.stations.GetStationTx(ctx, tx, ep.StartStationID)
		if err != nil {
			return err
		}

		var distance *float64
		if km, ok := geo.Distance(start.Point(), dest.Point()); ok {
			distance = &km
		}

		now := e.clock.Now()
		closed, err := e.repo.closeEpisode(ctx, tx, ep.ID, destinationID, now, distance)
		if err != nil {
			return err
		}

		if err := e.bikes.Dock(ctx, tx, ep.BikeID, destinationID); err != nil {
			return err
		}
		available, err := e.stations.DockBike(ctx, tx, destinationID)
		if err != nil {
			return err
		}

		_, err = outbox.Enqueue(ctx, tx, now, achievement.TaskEvaluate, achievement.TaskPayload{MemberID: memberID})
		if err != nil {
			return err
		}

		receipt = ReturnReceipt{
			Episode:          closed,
			DistanceKm:       closed.DistanceKm,
			Minutes:          closed.Minutes(),
			StationAvailable: available,
		}
		return nil
	})
	if err != nil {
		return ReturnReceipt{}, err
	}

	if e.notifier != nil {
		e.notifier.Notify()
	}
	e.logger.InfoContext(ctx, "bike returned",
		"member_id", memberID, "bike_id", receipt.Episode.BikeID, "station_id", destinationID,
		"episode_id", receipt.Episode.ID, "minutes", receipt.Minutes)
	return receipt, nil
}

// GetOpenRental returns the member's open episode, or nil when there is none.
func (e *Engine) GetOpenRental(ctx context.Context, memberID uuid.UUID) (*Episode, error) {
	return e.repo.OpenRental(ctx, memberID)
}

// GetHistory returns the member's closed episodes, newest first.
func (e *Engine) GetHistory(ctx context.Context, memberID uuid.UUID, limit int) ([]Episode, error) {
	return e.repo.History(ctx, memberID, clampLimit(limit))
}

func (e *Engine) requireMember(ctx context.Context, memberID uuid.UUID) error {
	exists, err := e.members.Exists(ctx, memberID)
	if err != nil {
		return database.Classify(err)
	}
	if !exists {
		return ErrMemberNotFound
	}
	return nil
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

// Code is the caller-facing error kind of an engine error, "ok" for nil.
func Code(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoValidTicket):
		return "NO_VALID_TICKET"
	case errors.Is(err, ErrAlreadyRenting):
		return "ALREADY_RENTING"
	case errors.Is(err, ErrBikeUnavailable):
		return "BIKE_UNAVAILABLE"
	case errors.Is(err, ErrBikeNotFound):
		return "BIKE_NOT_FOUND"
	case errors.Is(err, ErrStationInventoryMismatch):
		return "STATION_INVENTORY_MISMATCH"
	case errors.Is(err, ErrBikeStateMismatch):
		return "BIKE_STATE_MISMATCH"
	case errors.Is(err, ErrNoOpenRental):
		return "NO_OPEN_RENTAL"
	case errors.Is(err, ErrStationNotFound):
		return "STATION_NOT_FOUND"
	case errors.Is(err, ErrMemberNotFound):
		return "MEMBER_NOT_FOUND"
	case errors.Is(err, database.ErrTransient):
		return "TRANSIENT"
	}
	return "INTERNAL"
}
