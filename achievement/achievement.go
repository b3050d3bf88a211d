// Package achievement awards one-time badges from a member's riding
// statistics. Each badge is claimed with an insert-if-absent write and only
// the claimant pays the badge's point reward.
package achievement

import (
	"time"

	"github.com/google/uuid"
)

type ConditionType string

const (
	FirstRide        ConditionType = "FIRST_RIDE"
	TotalRides       ConditionType = "TOTAL_RIDES"
	TotalDistance    ConditionType = "TOTAL_DISTANCE"
	DistinctStations ConditionType = "DISTINCT_STATIONS"
	ConsecutiveDays  ConditionType = "CONSECUTIVE_DAYS"
)

func (c ConditionType) valid() bool {
	switch c {
	case FirstRide, TotalRides, TotalDistance, DistinctStations, ConsecutiveDays:
		return true
	}
	return false
}

type Achievement struct {
	ID             uuid.UUID     `db:"id" yaml:"-" json:"id"`
	Code           string        `db:"code" yaml:"code" json:"code"`
	Name           string        `db:"name" yaml:"name" json:"name"`
	Description    string        `db:"description" yaml:"description" json:"description"`
	ConditionType  ConditionType `db:"condition_type" yaml:"condition" json:"conditionType"`
	ConditionValue float64       `db:"condition_value" yaml:"value" json:"conditionValue"`
	Reward         int64         `db:"reward" yaml:"reward" json:"reward"`
}

// Earned is an achievement recorded for a member.
type Earned struct {
	Achievement
	EarnedAt   time.Time `db:"earned_at" json:"earnedAt"`
	RewardPaid bool      `db:"reward_paid" json:"rewardPaid"`
}

// Stats aggregates a member's completed rentals.
type Stats struct {
	TotalRides       int     `db:"total_rides"`
	TotalDistanceKm  float64 `db:"total_distance_km"`
	DistinctStations int     `db:"distinct_stations"`
	// StreakDays is the number of consecutive days with a completed ride,
	// ending at the most recent ride day, within the trailing window.
	StreakDays int
}

func (s Stats) HasRidden() bool {
	return s.TotalRides > 0
}

// Satisfied reports whether stats meet the achievement's condition.
func Satisfied(a Achievement, s Stats) bool {
	switch a.ConditionType {
	case FirstRide:
		return s.HasRidden()
	case TotalRides:
		return float64(s.TotalRides) >= a.ConditionValue
	case TotalDistance:
		return s.TotalDistanceKm >= a.ConditionValue
	case DistinctStations:
		return float64(s.DistinctStations) >= a.ConditionValue
	case ConsecutiveDays:
		return float64(s.StreakDays) >= a.ConditionValue
	}
	return false
}

// Streak counts consecutive calendar days starting from the first element of
// days, which must be distinct midnights sorted newest first.
func Streak(days []time.Time) int {
	if len(days) == 0 {
		return 0
	}
	streak := 1
	for i := 1; i < len(days); i++ {
		if !days[i-1].AddDate(0, 0, -1).Equal(days[i]) {
			break
		}
		streak++
	}
	return streak
}
