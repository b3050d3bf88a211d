// Package database owns the Postgres connection, the transaction discipline
// shared by every repository and the embedded schema migrations.
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// ErrTransient marks a failure caused by contention or a timeout rather than by
// the request itself. The whole logical operation may be retried.
var ErrTransient = errors.New("transient storage failure")

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateQueryCanceled        = "57014"
)

// DefaultLockTimeout bounds how long a transaction waits for a row lock.
const DefaultLockTimeout = 2 * time.Second

func Connect(ctx context.Context, url string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", url)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// TxRunner starts bounded transactions against a database.
type TxRunner struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

func NewTxRunner(db *sqlx.DB, lockTimeout time.Duration) *TxRunner {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &TxRunner{db: db, lockTimeout: lockTimeout}
}

func (r *TxRunner) DB() *sqlx.DB {
	return r.db
}

// InTx runs fn inside a transaction whose lock and statement waits are bounded
// by the runner's lock timeout. fn's error aborts the transaction; storage
// errors are passed through Classify so contention surfaces as ErrTransient.
func (r *TxRunner) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return Classify(err)
	}
	defer tx.Rollback()

	ms := fmt.Sprintf("%dms", r.lockTimeout.Milliseconds())
	if _, err := tx.ExecContext(ctx, setTimeouts, ms); err != nil {
		return Classify(err)
	}

	if err := fn(tx); err != nil {
		return Classify(err)
	}

	return Classify(tx.Commit())
}

const setTimeouts = `SELECT set_config('lock_timeout', $1, true), set_config('statement_timeout', $1, true)`

// Classify wraps contention and timeout failures with ErrTransient. Other
// errors, including domain sentinels returned from inside a transaction, are
// returned unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected,
			sqlStateLockNotAvailable, sqlStateQueryCanceled:
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation on the
// named constraint or index. An empty name matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != sqlStateUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
