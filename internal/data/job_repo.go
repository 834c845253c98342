package data

import (
	"database/sql"
	"log/slog"

	"github.com/target/taskmanager-api/internal/core"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo is the PostgreSQL job store. Claims use FOR UPDATE SKIP LOCKED and
// new jobs are announced with pg_notify on a per-kind channel.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

var (
	_ core.JobRepository    = (*JobRepo)(nil)
	_ core.ReaperRepository = (*JobRepo)(nil)
)

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
	}
}

const jobColumns = `
  id::text,
  kind,
  status,
  params,
  result,
  errors,
  parent_id::text,
  created_at,
  started_at,
  completed_at,
  updated_at
`

func notifyChannel(kind string) string {
	return "job_added_" + kind
}
