// Package outbox dispatches work that must happen after a transaction commits.
// Tasks are written in the same transaction as the change that caused them and
// executed afterwards, at least once, with exponential backoff between
// failed attempts.
package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Kind string

type Task struct {
	ID            uuid.UUID      `db:"id"`
	Kind          Kind           `db:"kind"`
	Payload       []byte         `db:"payload"`
	Attempts      int            `db:"attempts"`
	NextAttemptAt time.Time      `db:"next_attempt_at"`
	LockedUntil   *time.Time     `db:"locked_until"`
	CompletedAt   *time.Time     `db:"completed_at"`
	LastError     sql.NullString `db:"last_error"`
	CreatedAt     time.Time      `db:"created_at"`
}

// Decode unmarshals the task payload into v.
func (t Task) Decode(v any) error {
	return json.Unmarshal(t.Payload, v)
}

// Enqueue records a task inside tx. It becomes due at now and is only visible
// to the dispatcher once tx commits.
func Enqueue(ctx context.Context, tx *sqlx.Tx, now time.Time, kind Kind, payload any) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	_, err = tx.ExecContext(ctx, enqueueQuery, id, kind, string(body), now)
	return id, err
}

const enqueueQuery = `
INSERT INTO outbox_tasks (id, kind, payload, next_attempt_at, created_at)
VALUES ($1, $2, $3, $4, $4)
`
