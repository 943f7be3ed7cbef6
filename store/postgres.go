package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"go-cloudtasks-emulator/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_attempts (
	id              BIGSERIAL PRIMARY KEY,
	task_id         TEXT        NOT NULL,
	queue_id        TEXT        NOT NULL DEFAULT '',
	dispatch_count  INT         NOT NULL,
	response_count  INT         NOT NULL,
	response_status INT,
	error           TEXT        NOT NULL DEFAULT '',
	outcome         TEXT        NOT NULL,
	state           TEXT        NOT NULL,
	duration_ms     BIGINT      NOT NULL,
	recorded_at     TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS task_attempts_task_id_idx ON task_attempts (task_id);
`

// AttemptRow is one audited delivery attempt.
type AttemptRow struct {
	TaskID         string    `json:"task_id"`
	QueueID        string    `json:"queue_id"`
	DispatchCount  int       `json:"dispatch_count"`
	ResponseCount  int       `json:"response_count"`
	ResponseStatus *int      `json:"response_status,omitempty"`
	Error          string    `json:"error,omitempty"`
	Outcome        string    `json:"outcome"`
	State          string    `json:"state"`
	DurationMS     int64     `json:"duration_ms"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// PostgresRecorder appends every attempt to an audit table. Rows are only
// read back for the attempt history endpoint; tasks themselves live in
// memory.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

func NewPostgresRecorder(ctx context.Context, dsn string) (*PostgresRecorder, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create task_attempts: %w", err)
	}
	return &PostgresRecorder{pool: pool}, nil
}

func (r *PostgresRecorder) RecordAttempt(ctx context.Context, task *model.Task, outcome model.Outcome, elapsed time.Duration) error {
	var status *int
	if task.LastAttempt != nil && task.ResponseCount > 0 {
		s := task.LastAttempt.Status
		status = &s
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO task_attempts
			(task_id, queue_id, dispatch_count, response_count, response_status, error, outcome, state, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		task.ID, task.QueueID, task.DispatchCount, task.ResponseCount, status,
		task.LastError, outcome.String(), string(task.State), elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert attempt for %s: %w", task.ID, err)
	}
	return nil
}

// Attempts returns the audited attempts of one task, oldest first.
func (r *PostgresRecorder) Attempts(ctx context.Context, taskID string) ([]AttemptRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT task_id, queue_id, dispatch_count, response_count, response_status,
		       error, outcome, state, duration_ms, recorded_at
		FROM task_attempts WHERE task_id = $1 ORDER BY id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (AttemptRow, error) {
		var a AttemptRow
		err := row.Scan(&a.TaskID, &a.QueueID, &a.DispatchCount, &a.ResponseCount, &a.ResponseStatus,
			&a.Error, &a.Outcome, &a.State, &a.DurationMS, &a.RecordedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan attempts: %w", err)
	}
	return out, nil
}

func (r *PostgresRecorder) Close() {
	r.pool.Close()
}
