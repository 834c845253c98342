package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/target/taskmanager-api/internal/core"
	"github.com/target/taskmanager-api/internal/data/pgxutil"
)

// Advisory lock namespace for reaper operations.
// Two-arg pg_try_advisory_xact_lock(major, minor); major 1000 is reserved for the reaper.
const (
	advisoryLockReaperMajor       = 1000
	advisoryLockReaperFailStarted = 1
	advisoryLockReaperDelete      = 2
)

// staleStartedMessage is recorded on jobs whose worker vanished mid-run.
const staleStartedMessage = "worker did not report completion before the started timeout"

// FailStaleStartedJobs marks STARTED jobs older than maxAge as failed.
// STARTED → FAILURE keeps the transition monotonic; a worker that finishes
// later observes a no-op on its own terminal write.
func (r *JobRepo) FailStaleStartedJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if maxAge <= 0 || batchSize <= 0 {
		return 0, errors.New("max age and batch size must be greater than zero")
	}

	return r.withReaperLock(ctx, advisoryLockReaperFailStarted, func(tx *sql.Tx) (sql.Result, error) {
		now := r.timeProvider.Now().UTC()
		return tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'FAILURE',
			    errors = jsonb_build_array($1::text),
			    completed_at = $2,
			    updated_at = $2
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = 'STARTED'
				  AND started_at < $3
				ORDER BY started_at
				LIMIT $4
			)
			  AND status = 'STARTED'
		`, staleStartedMessage, now, now.Add(-maxAge), batchSize)
	})
}

// DeleteOldJobs deletes terminal jobs with the given status completed before maxAge.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("only terminal jobs can be deleted, got %s", params.Status)
	}
	if params.MaxAge <= 0 || params.BatchSize <= 0 {
		return 0, errors.New("max age and batch size must be greater than zero")
	}

	return r.withReaperLock(ctx, advisoryLockReaperDelete, func(tx *sql.Tx) (sql.Result, error) {
		cutoff := r.timeProvider.Now().Add(-params.MaxAge).UTC()
		return tx.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = $1
				  AND completed_at < $2
				ORDER BY completed_at
				LIMIT $3
			)
		`, string(params.Status), cutoff, params.BatchSize)
	})
}

// withReaperLock runs fn in a transaction guarded by a non-blocking advisory
// lock. When another reaper holds the lock the call is a no-op.
func (r *JobRepo) withReaperLock(
	ctx context.Context,
	minor int,
	fn func(*sql.Tx) (sql.Result, error),
) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx,
				"SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, minor,
			).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			res, err := fn(tx)
			if err != nil {
				return fmt.Errorf("reap jobs: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
