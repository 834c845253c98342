package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/target/taskmanager-api/internal/data/pgxutil"
	"github.com/target/taskmanager-api/internal/domain/model"
)

// SQL used by ReserveNext to atomically claim the oldest pending job.
const reserveNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE kind = ANY($1) AND status = 'PENDING'
    ORDER BY created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'STARTED',
    started_at = $2,
    updated_at = $2
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id::text, j.kind, j.status, j.params, j.result, j.errors, j.parent_id::text,
            j.created_at, j.started_at, j.completed_at, j.updated_at`

// Create inserts a PENDING job and notifies listeners on the kind's channel
// in the same transaction.
func (r *JobRepo) Create(ctx context.Context, rec *model.NewJobRecord) (*model.Job, error) {
	if rec == nil {
		return nil, errors.New("job record is required")
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", rec.ID, err)
	}
	if !rec.Kind.Valid() {
		return nil, fmt.Errorf("invalid job kind: %s", rec.Kind)
	}

	params := []byte(rec.Params)
	if len(params) == 0 {
		params = []byte(`{}`)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.timeProvider.Now()
	}

	var job *model.Job
	if txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
				INSERT INTO jobs (id, kind, status, params, parent_id, created_at, updated_at)
				VALUES ($1, $2, 'PENDING', $3, $4, $5, $5)
				RETURNING `+jobColumns,
				rec.ID, string(rec.Kind), params, rec.ParentID, createdAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("insert job: %w", err)
			}
			j, collectErr := collectJobFromRows(rows)
			rows.Close()
			if collectErr != nil {
				return fmt.Errorf("collect job: %w", collectErr)
			}

			if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`,
				notifyChannel(string(rec.Kind)), j.ID); execErr != nil {
				return fmt.Errorf("send job notification: %w", execErr)
			}
			job = j
			return nil
		},
	}); txErr != nil {
		return nil, txErr
	}

	r.logger.DebugContext(ctx, "job inserted", "job_id", job.ID, "kind", job.Kind)
	return job, nil
}

// GetByID retrieves a job by its ID. Malformed ids are reported as not found.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}

	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ReserveNext claims the next pending job of one of kinds.
func (r *JobRepo) ReserveNext(ctx context.Context, kinds []model.JobKind) (*model.Job, error) {
	if len(kinds) == 0 {
		return nil, errors.New("at least one job kind is required")
	}
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("invalid job kind: %s", k)
		}
		names = append(names, string(k))
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, reserveNextUpdateSQL, names, r.timeProvider.Now().UTC())
			if qerr != nil {
				return fmt.Errorf("reserve job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("reserve job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Complete marks a started job as successful with the given result.
func (r *JobRepo) Complete(ctx context.Context, id, result string) (bool, error) {
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'SUCCESS',
		    result = $2,
		    completed_at = $3,
		    updated_at = $3
		WHERE id = $1 AND status = 'STARTED'
	`, id, result, now)
	if err != nil {
		return false, fmt.Errorf("failed to complete job: %w", err)
	}
	return rowsChanged(res)
}

// Fail marks a started job as failed with the given error messages.
func (r *JobRepo) Fail(ctx context.Context, id string, errs []string) (bool, error) {
	payload, err := json.Marshal(normalizeErrors(errs))
	if err != nil {
		return false, fmt.Errorf("marshal job errors: %w", err)
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'FAILURE',
		    errors = $2::jsonb,
		    completed_at = $3,
		    updated_at = $3
		WHERE id = $1 AND status = 'STARTED'
	`, id, payload, now)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return rowsChanged(res)
}

// Stats returns job counts per status, optionally restricted to one kind.
func (r *JobRepo) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'PENDING') AS pending,
    count(*) FILTER (WHERE status = 'STARTED') AS started,
    count(*) FILTER (WHERE status = 'SUCCESS') AS success,
    count(*) FILTER (WHERE status = 'FAILURE') AS failure
  FROM jobs
  WHERE ($1::text = '' OR kind = $1::text)
  `, string(kind)).Scan(
		&s.Pending,
		&s.Started,
		&s.Success,
		&s.Failure,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification waits for a PostgreSQL notification indicating new jobs of kind.
func (r *JobRepo) WaitForNotification(ctx context.Context, kind model.JobKind) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() { _ = conn.Close() }()

	channel := notifyChannel(string(kind))
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "UNLISTEN "+quoted)
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// normalizeErrors drops blank messages and guarantees at least one entry so a
// FAILURE record always carries errors.
func normalizeErrors(errs []string) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		if s := strings.TrimSpace(e); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = append(out, "job failed")
	}
	return out
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	params, errs           []byte
	result, parentID       sql.NullString
	startedAt, completedAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.Kind,
		&job.Status,
		&d.params,
		&d.result,
		&d.errs,
		&d.parentID,
		&job.CreatedAt,
		&d.startedAt,
		&d.completedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) error {
	job.Params = cloneJSON(d.params)
	job.Result = cloneNullableString(d.result)
	job.ParentID = cloneNullableString(d.parentID)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	if len(d.errs) > 0 {
		if err := json.Unmarshal(d.errs, &job.Errors); err != nil {
			return fmt.Errorf("decode job errors: %w", err)
		}
	}
	return nil
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}
