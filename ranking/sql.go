package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/semanticallynull/bikeshare-backend/internal/clock"
	"github.com/semanticallynull/bikeshare-backend/internal/database"
	"github.com/semanticallynull/bikeshare-backend/ledger"
)

// ErrWeekNotFinished rejects paying a week whose window has not closed yet.
var ErrWeekNotFinished = errors.New("week has not finished")

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Crediter pays a rank inside the reward's claim transaction. The points
// ledger satisfies it.
type Crediter interface {
	CreditTx(ctx context.Context, tx *sqlx.Tx, memberID uuid.UUID, amount int64, reason string) (ledger.Entry, error)
}

type Aggregator struct {
	runner *database.TxRunner
	points Crediter
	clock  clock.Clock
	loc    *time.Location
	logger *slog.Logger
}

func NewAggregator(runner *database.TxRunner, points Crediter, clk clock.Clock, loc *time.Location, logger *slog.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{runner: runner, points: points, clock: clk, loc: loc, logger: logger}
}

func (a *Aggregator) Location() *time.Location {
	return a.loc
}

// RecomputeWeekly replaces the snapshot for the week starting at weekStart
// with a fresh aggregate of the episodes that ended inside it. It returns the
// number of ranked members.
func (a *Aggregator) RecomputeWeekly(ctx context.Context, weekStart time.Time) (int, error) {
	var ranked int64
	err := a.runner.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteWeekQuery, weekStart); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, insertWeekQuery, weekStart, WeekEnd(weekStart))
		if err != nil {
			return err
		}
		ranked, err = res.RowsAffected()
		return err
	})
	return int(ranked), err
}

const deleteWeekQuery = `DELETE FROM weekly_rankings WHERE week_start = $1`

const insertWeekQuery = `
INSERT INTO weekly_rankings (week_start, member_id, rank, distance_km, ride_count)
SELECT $1, member_id,
       row_number() OVER (ORDER BY sum(COALESCE(distance_km, 0)) DESC, count(*) DESC, member_id),
       sum(COALESCE(distance_km, 0)),
       count(*)
FROM rental_episodes
WHERE end_time >= $1 AND end_time < $2
GROUP BY member_id
`

// PayWeeklyRewards pays the rewarded ranks of a week's snapshot. Each rank is
// claimed and paid in its own transaction; a rank or member already paid for
// the week is skipped, so running it again never pays twice.
func (a *Aggregator) PayWeeklyRewards(ctx context.Context, weekStart time.Time) ([]Payout, error) {
	weekStart = WeekStart(weekStart, a.loc)
	if err := a.checkFinished(weekStart); err != nil {
		return nil, err
	}

	var top []Entry
	err := a.runner.DB().SelectContext(ctx, &top, topRanksQuery, weekStart, len(rewards))
	if err != nil {
		return nil, database.Classify(err)
	}

	payouts := make([]Payout, 0, len(top))
	for _, e := range top {
		amount, ok := Reward(e.Rank)
		if !ok {
			continue
		}
		p := Payout{Rank: e.Rank, MemberID: e.MemberID, Amount: amount}
		err := a.runner.InTx(ctx, func(tx *sqlx.Tx) error {
			res, err := tx.ExecContext(ctx, claimRewardQuery, weekStart, e.Rank, e.MemberID, amount, a.clock.Now())
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil || n == 0 {
				return err
			}
			reason := fmt.Sprintf("weekly ranking #%d, week of %s", e.Rank, weekStart.Format(time.DateOnly))
			if _, err := a.points.CreditTx(ctx, tx, e.MemberID, amount, reason); err != nil {
				return err
			}
			p.Paid = true
			return nil
		})
		if err != nil {
			return payouts, fmt.Errorf("pay rank %d: %w", e.Rank, err)
		}
		payouts = append(payouts, p)
	}
	return payouts, nil
}

const topRanksQuery = `
SELECT week_start, member_id, '' AS name, rank, distance_km, ride_count
FROM weekly_rankings
WHERE week_start = $1 AND rank <= $2
ORDER BY rank
`

const claimRewardQuery = `
INSERT INTO weekly_rewards (week_start, rank, member_id, amount, paid_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT DO NOTHING
`

// RunWeek recomputes and then pays the week starting at weekStart.
func (a *Aggregator) RunWeek(ctx context.Context, weekStart time.Time) (Result, error) {
	ctx, span := otel.Tracer("ranking").Start(ctx, "ranking.RunWeek")
	defer span.End()
	weekStart = WeekStart(weekStart, a.loc)
	span.SetAttributes(attribute.String("week.start", weekStart.Format(time.DateOnly)))

	res := Result{WeekStart: weekStart}
	if err := a.checkFinished(weekStart); err != nil {
		return res, err
	}
	ranked, err := a.RecomputeWeekly(ctx, weekStart)
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("recompute week: %w", err)
	}
	res.Ranked = ranked

	res.Payouts, err = a.PayWeeklyRewards(ctx, weekStart)
	if err != nil {
		span.RecordError(err)
		return res, err
	}

	a.logger.InfoContext(ctx, "weekly ranking run",
		"week_start", weekStart.Format(time.DateOnly), "ranked", res.Ranked, "payouts", len(res.Payouts))
	return res, nil
}

// checkFinished fails unless the week starting at weekStart has ended, so a
// payout never sees a partial ranking.
func (a *Aggregator) checkFinished(weekStart time.Time) error {
	if end := WeekEnd(weekStart); end.After(a.clock.Now()) {
		return fmt.Errorf("week of %s ends %s: %w",
			weekStart.Format(time.DateOnly), end.Format(time.RFC3339), ErrWeekNotFinished)
	}
	return nil
}

func (a *Aggregator) Weekly(ctx context.Context, weekStart time.Time, limit int) ([]Entry, error) {
	var entries []Entry
	err := a.runner.DB().SelectContext(ctx, &entries, weeklyQuery, WeekStart(weekStart, a.loc), clampLimit(limit))
	return entries, err
}

const weeklyQuery = `
SELECT r.week_start, r.member_id, COALESCE(m.name, '') AS name, r.rank, r.distance_km, r.ride_count
FROM weekly_rankings r
JOIN members m ON m.id = r.member_id
WHERE r.week_start = $1
ORDER BY r.rank
LIMIT $2
`

// AllTime ranks every member with a completed rental over all time. It is
// computed on demand and never stored.
func (a *Aggregator) AllTime(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := a.runner.DB().SelectContext(ctx, &entries, allTimeQuery, clampLimit(limit))
	return entries, err
}

const allTimeQuery = `
SELECT NULL::timestamptz AS week_start, e.member_id, COALESCE(m.name, '') AS name,
       row_number() OVER (ORDER BY sum(COALESCE(e.distance_km, 0)) DESC, count(*) DESC, e.member_id) AS rank,
       sum(COALESCE(e.distance_km, 0)) AS distance_km,
       count(*) AS ride_count
FROM rental_episodes e
JOIN members m ON m.id = e.member_id
WHERE e.end_time IS NOT NULL
GROUP BY e.member_id, m.name
ORDER BY rank
LIMIT $1
`

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}
