package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/semanticallynull/bikeshare-backend/internal/clock"
)

// Handler executes one task. Handlers must be idempotent: a task may run again
// after a crash between the handler succeeding and the task being marked done.
type Handler func(ctx context.Context, task Task) error

var ErrNoHandler = errors.New("no handler registered for task kind")

var outboxTasksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "outbox_tasks_total",
		Help: "Total number of outbox task executions by outcome",
	},
	[]string{"kind", "result"},
)

// RegisterMetrics registers the dispatcher collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(outboxTasksTotal)
}

type Config struct {
	PollInterval time.Duration
	// Lease is how long a claimed task is hidden from other dispatchers.
	Lease     time.Duration
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Lease <= 0 {
		c.Lease = time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	return c
}

type Dispatcher struct {
	db       *sqlx.DB
	clock    clock.Clock
	logger   *slog.Logger
	cfg      Config
	handlers map[Kind]Handler
	nudge    chan struct{}
}

func NewDispatcher(db *sqlx.DB, clk clock.Clock, logger *slog.Logger, cfg Config) *Dispatcher {
	return &Dispatcher{
		db:       db,
		clock:    clk,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		handlers: make(map[Kind]Handler),
		nudge:    make(chan struct{}, 1),
	}
}

// Handle registers the handler for a task kind. It must be called before Run.
func (d *Dispatcher) Handle(kind Kind, h Handler) {
	d.handlers[kind] = h
}

// Notify wakes the dispatcher so freshly committed tasks run without waiting
// for the next poll. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.nudge <- struct{}{}:
	default:
	}
}

// Run processes due tasks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.ErrorContext(ctx, "outbox dispatch failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-d.nudge:
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch of due tasks and executes them. It returns the
// number of tasks that completed successfully.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	now := d.clock.Now()

	var tasks []Task
	err := d.db.SelectContext(ctx, &tasks, claimQuery, now, now.Add(d.cfg.Lease), d.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim outbox tasks: %w", err)
	}

	done := 0
	for _, task := range tasks {
		if d.execute(ctx, task) {
			done++
		}
	}
	return done, nil
}

const claimQuery = `
UPDATE outbox_tasks SET locked_until = $2, attempts = attempts + 1
WHERE id IN (
    SELECT id FROM outbox_tasks
    WHERE completed_at IS NULL
      AND next_attempt_at <= $1
      AND (locked_until IS NULL OR locked_until <= $1)
    ORDER BY next_attempt_at
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
RETURNING *
`

func (d *Dispatcher) execute(ctx context.Context, task Task) bool {
	logger := d.logger.With(
		slog.String("task_id", task.ID.String()),
		slog.String("kind", string(task.Kind)),
		slog.Int("attempt", task.Attempts),
	)

	err := ErrNoHandler
	if h, ok := d.handlers[task.Kind]; ok {
		err = h(ctx, task)
	}

	if err == nil {
		outboxTasksTotal.WithLabelValues(string(task.Kind), "ok").Inc()
		if _, err := d.db.ExecContext(ctx, completeQuery, task.ID, d.clock.Now()); err != nil {
			logger.ErrorContext(ctx, "failed to mark outbox task complete", "error", err)
		}
		return true
	}

	outboxTasksTotal.WithLabelValues(string(task.Kind), "retry").Inc()
	next := d.clock.Now().Add(RetryDelay(task.Attempts))
	logger.WarnContext(ctx, "outbox task failed, will retry", "error", err, "next_attempt_at", next)

	if _, dbErr := d.db.ExecContext(ctx, retryQuery, task.ID, next, err.Error()); dbErr != nil {
		logger.ErrorContext(ctx, "failed to reschedule outbox task", "error", dbErr)
	}
	return false
}

const completeQuery = `
UPDATE outbox_tasks SET completed_at = $2, locked_until = NULL, last_error = NULL
WHERE id = $1
`

const retryQuery = `
UPDATE outbox_tasks SET next_attempt_at = $2, locked_until = NULL, last_error = $3
WHERE id = $1
`

// Pending returns the number of tasks not yet completed.
func (d *Dispatcher) Pending(ctx context.Context) (int, error) {
	var n int
	err := d.db.GetContext(ctx, &n, pendingQuery)
	return n, err
}

const pendingQuery = `SELECT count(*) FROM outbox_tasks WHERE completed_at IS NULL`

// GetTask loads a task by id.
func (d *Dispatcher) GetTask(ctx context.Context, id uuid.UUID) (Task, error) {
	var task Task
	err := d.db.GetContext(ctx, &task, getTaskQuery, id)
	return task, err
}

const getTaskQuery = `SELECT * FROM outbox_tasks WHERE id = $1`

const maxBackoffSteps = 32

// RetryDelay is the wait before the next attempt of a task that has failed
// attempts times: 1s doubling up to one hour.
func RetryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = time.Hour
	b.RandomizationFactor = 0

	d := b.NextBackOff()
	for i := 1; i < attempts && i < maxBackoffSteps; i++ {
		d = b.NextBackOff()
	}
	return d
}
