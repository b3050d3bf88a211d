package ranking

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/semanticallynull/bikeshare-backend/internal/clock"
	"github.com/semanticallynull/bikeshare-backend/station"
)

// Sweeper expires lapsed tickets.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Auditor recounts station inventory.
type Auditor interface {
	Audit(ctx context.Context) ([]station.Drift, error)
}

var inventoryDrift = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "station_inventory_drift",
		Help: "Difference between counted and cached available bikes, per drifting station",
	},
	[]string{"station_id"},
)

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(inventoryDrift)
}

type SchedulerConfig struct {
	// AuditInterval is how often tickets are swept and inventory audited.
	AuditInterval time.Duration
}

// Scheduler runs the previous week's ranking every Monday 00:00 and the
// periodic housekeeping jobs.
type Scheduler struct {
	agg     *Aggregator
	sweeper Sweeper
	auditor Auditor
	clock   clock.Clock
	cfg     SchedulerConfig
	logger  *slog.Logger
}

func NewScheduler(agg *Aggregator, sweeper Sweeper, auditor Auditor, clk clock.Clock, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	if cfg.AuditInterval <= 0 {
		cfg.AuditInterval = 10 * time.Minute
	}
	return &Scheduler{agg: agg, sweeper: sweeper, auditor: auditor, clock: clk, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled. The previous week is run once at start so
// a trigger missed while the process was down is caught up; paying is
// idempotent, so this is harmless when it already ran.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runWeek(ctx, s.clock.Now())
	s.housekeep(ctx)

	ticker := time.NewTicker(s.cfg.AuditInterval)
	defer ticker.Stop()

	for {
		wait := NextWeekStart(s.clock.Now(), s.agg.Location()).Sub(s.clock.Now())
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.runWeek(ctx, s.clock.Now())
		case <-ticker.C:
			timer.Stop()
			s.housekeep(ctx)
		}
	}
}

// NextWeekStart returns the first Monday 00:00 in loc strictly after t.
func NextWeekStart(t time.Time, loc *time.Location) time.Time {
	return WeekStart(t, loc).AddDate(0, 0, 7)
}

func (s *Scheduler) runWeek(ctx context.Context, now time.Time) {
	week := PreviousWeek(now, s.agg.Location())
	if _, err := s.agg.RunWeek(ctx, week); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "weekly ranking failed", "week_start", week.Format(time.DateOnly), "error", err)
	}
}

func (s *Scheduler) housekeep(ctx context.Context) {
	if n, err := s.sweeper.Sweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "ticket sweep failed", "error", err)
	} else if n > 0 {
		s.logger.InfoContext(ctx, "expired tickets", "count", n)
	}

	drift, err := s.auditor.Audit(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "inventory audit failed", "error", err)
		return
	}
	RecordDrift(ctx, s.logger, drift)
}

// RecordDrift publishes audit results on the drift gauge and logs each
// drifting station. Stations absent from drift are cleared.
func RecordDrift(ctx context.Context, logger *slog.Logger, drift []station.Drift) {
	inventoryDrift.Reset()
	for _, d := range drift {
		inventoryDrift.WithLabelValues(d.StationID.String()).Set(float64(d.Actual - d.Cached))
		logger.WarnContext(ctx, "station inventory drift",
			"station_id", d.StationID, "station", d.Name, "cached", d.Cached, "actual", d.Actual)
	}
}
