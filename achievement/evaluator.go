package achievement

import (
	"context"
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
	"github.com/semanticallynull/bikeshare-backend/outbox"
)

// TaskEvaluate is the outbox task kind that evaluates a member after a return.
const TaskEvaluate outbox.Kind = "achievement.evaluate"

// TaskPayload is the payload of a TaskEvaluate task.
type TaskPayload struct {
	MemberID uuid.UUID `json:"memberId"`
}

// StreakWindow bounds how far back consecutive riding days are counted.
const StreakWindow = 60 * 24 * time.Hour

// Crediter pays rewards inside the claim's payment transaction. The points
// ledger satisfies it.
type Crediter interface {
	CreditTx(ctx context.Context, tx *sqlx.Tx, memberID uuid.UUID, amount int64, reason string) (ledger.Entry, error)
}

// Award is an achievement newly claimed by an evaluation.
type Award struct {
	Achievement Achievement
	Paid        bool
}

type Evaluator struct {
	runner *database.TxRunner
	points Crediter
	clock  clock.Clock
	loc    *time.Location
	logger *slog.Logger
}

func NewEvaluator(runner *database.TxRunner, points Crediter, clk clock.Clock, loc *time.Location, logger *slog.Logger) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{runner: runner, points: points, clock: clk, loc: loc, logger: logger}
}

// SyncCatalog upserts the catalogue by code so that ids stay stable across
// restarts and earned records keep pointing at the same achievement.
func (e *Evaluator) SyncCatalog(ctx context.Context, catalog []Achievement) error {
	return e.runner.InTx(ctx, func(tx *sqlx.Tx) error {
		for _, a := range catalog {
			_, err := tx.ExecContext(ctx, upsertAchievementQuery,
				uuid.New(), a.Code, a.Name, a.Description, a.ConditionType, a.ConditionValue, a.Reward)
			if err != nil {
				return fmt.Errorf("sync achievement %s: %w", a.Code, err)
			}
		}
		return nil
	})
}

const upsertAchievementQuery = `
INSERT INTO achievements (id, code, name, description, condition_type, condition_value, reward)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (code) DO UPDATE SET
    name = EXCLUDED.name,
    description = EXCLUDED.description,
    condition_type = EXCLUDED.condition_type,
    condition_value = EXCLUDED.condition_value,
    reward = EXCLUDED.reward
`

// HandleTask is the outbox handler for TaskEvaluate.
func (e *Evaluator) HandleTask(ctx context.Context, task outbox.Task) error {
	var p TaskPayload
	if err := task.Decode(&p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	_, err := e.Evaluate(ctx, p.MemberID)
	return err
}

// Evaluate claims every achievement the member now qualifies for and pays
// every claimed reward that is still unpaid. It is safe to run concurrently
// and repeatedly for the same member.
func (e *Evaluator) Evaluate(ctx context.Context, memberID uuid.UUID) ([]Award, error) {
	ctx, span := otel.Tracer("achievement").Start(ctx, "achievement.Evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("member.id", memberID.String()))

	stats, err := e.Stats(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}

	var pending []Achievement
	db := e.runner.DB()
	if err := db.SelectContext(ctx, &pending, unearnedQuery, memberID); err != nil {
		return nil, fmt.Errorf("load unearned achievements: %w", err)
	}

	now := e.clock.Now()
	var awards []Award
	for _, a := range pending {
		if !Satisfied(a, stats) {
			continue
		}
		res, err := db.ExecContext(ctx, claimQuery, memberID, a.ID, now)
		if err != nil {
			return awards, fmt.Errorf("claim %s: %w", a.Code, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return awards, err
		} else if n == 0 {
			// Another evaluation claimed it first.
			continue
		}
		e.logger.InfoContext(ctx, "achievement earned",
			"member_id", memberID, "achievement", a.Code)
		awards = append(awards, Award{Achievement: a})
	}

	paid, err := e.payUnpaid(ctx, memberID)
	for i := range awards {
		awards[i].Paid = paid[awards[i].Achievement.ID]
	}
	return awards, err
}

const unearnedQuery = `
SELECT a.* FROM achievements a
WHERE NOT EXISTS (
    SELECT 1 FROM member_achievements ma
    WHERE ma.member_id = $1 AND ma.achievement_id = a.id
)
ORDER BY a.code
`

const claimQuery = `
INSERT INTO member_achievements (member_id, achievement_id, earned_at, reward_paid)
VALUES ($1, $2, $3, false)
ON CONFLICT (member_id, achievement_id) DO NOTHING
`

// payUnpaid pays every claimed-but-unpaid reward of the member, each in its own
// transaction. Flipping reward_paid is guarded, so a reward is credited by at
// most one transaction no matter how many evaluations race.
func (e *Evaluator) payUnpaid(ctx context.Context, memberID uuid.UUID) (map[uuid.UUID]bool, error) {
	var unpaid []Achievement
	if err := e.runner.DB().SelectContext(ctx, &unpaid, unpaidQuery, memberID); err != nil {
		return nil, fmt.Errorf("load unpaid achievements: %w", err)
	}

	paid := make(map[uuid.UUID]bool, len(unpaid))
	for _, a := range unpaid {
		var didPay bool
		err := e.runner.InTx(ctx, func(tx *sqlx.Tx) error {
			res, err := tx.ExecContext(ctx, markPaidQuery, memberID, a.ID)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil || n == 0 {
				return err
			}
			if a.Reward > 0 {
				if _, err := e.points.CreditTx(ctx, tx, memberID, a.Reward, "achievement "+a.Code); err != nil {
					return err
				}
			}
			didPay = true
			return nil
		})
		if err != nil {
			return paid, fmt.Errorf("pay %s: %w", a.Code, err)
		}
		paid[a.ID] = didPay
	}
	return paid, nil
}

const unpaidQuery = `
SELECT a.* FROM achievements a
JOIN member_achievements ma ON ma.achievement_id = a.id
WHERE ma.member_id = $1 AND NOT ma.reward_paid
ORDER BY a.code
`

const markPaidQuery = `
UPDATE member_achievements SET reward_paid = true
WHERE member_id = $1 AND achievement_id = $2 AND NOT reward_paid
`

// Stats aggregates the member's completed rentals.
func (e *Evaluator) Stats(ctx context.Context, memberID uuid.UUID) (Stats, error) {
	db := e.runner.DB()

	var s Stats
	if err := db.GetContext(ctx, &s, statsQuery, memberID); err != nil {
		return Stats{}, err
	}

	var days []time.Time
	since := e.clock.Now().Add(-StreakWindow)
	if err := db.SelectContext(ctx, &days, rideDaysQuery, memberID, since, e.loc.String()); err != nil {
		return Stats{}, err
	}
	s.StreakDays = Streak(days)
	return s, nil
}

const statsQuery = `
SELECT
    count(*) AS total_rides,
    COALESCE(sum(distance_km), 0) AS total_distance_km,
    (
        SELECT count(DISTINCT station_id) FROM (
            SELECT start_station_id AS station_id FROM rental_episodes
            WHERE member_id = $1 AND end_time IS NOT NULL
            UNION ALL
            SELECT end_station_id FROM rental_episodes
            WHERE member_id = $1 AND end_time IS NOT NULL
        ) visited
    ) AS distinct_stations
FROM rental_episodes
WHERE member_id = $1 AND end_time IS NOT NULL
`

const rideDaysQuery = `
SELECT DISTINCT date_trunc('day', end_time AT TIME ZONE $3) AS day
FROM rental_episodes
WHERE member_id = $1 AND end_time IS NOT NULL AND end_time >= $2
ORDER BY day DESC
`

// ListForMember returns the member's earned achievements, newest first.
func (e *Evaluator) ListForMember(ctx context.Context, memberID uuid.UUID) ([]Earned, error) {
	earned := []Earned{}
	err := e.runner.DB().SelectContext(ctx, &earned, listEarnedQuery, memberID)
	return earned, err
}

const listEarnedQuery = `
SELECT a.*, ma.earned_at, ma.reward_paid
FROM member_achievements ma
JOIN achievements a ON a.id = ma.achievement_id
WHERE ma.member_id = $1
ORDER BY ma.earned_at DESC, a.code
`
