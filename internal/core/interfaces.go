// Package core declares the ports between the job services and their backing
// stores and transports. Services depend on these interfaces; the data and
// adapters layers provide implementations.
package core

import (
	"context"
	"io"
	"time"

	"github.com/target/taskmanager-api/internal/domain/model"
)

// JobRepository is the job store contract.
//
// Every implementation guards transitions with the current status so that a
// record moves PENDING → STARTED → SUCCESS|FAILURE exactly once. Complete and
// Fail report false when the record was not STARTED.
type JobRepository interface {
	Create(ctx context.Context, rec *model.NewJobRecord) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// ReserveNext claims the oldest PENDING job of one of kinds, moving it to
	// STARTED. It returns model.ErrNoJobsAvailable when nothing is queued.
	ReserveNext(ctx context.Context, kinds []model.JobKind) (*model.Job, error)
	Complete(ctx context.Context, id, result string) (bool, error)
	Fail(ctx context.Context, id string, errs []string) (bool, error)
	// Stats counts jobs per status. An empty kind counts every kind.
	Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error)
	// WaitForNotification blocks until a job of kind may be available or ctx ends.
	WaitForNotification(ctx context.Context, kind model.JobKind) error
}

// DeleteOldJobsParams groups parameters for ReaperRepository.DeleteOldJobs.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository removes expired terminal records and fails abandoned ones.
type ReaperRepository interface {
	FailStaleStartedJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
}

// TaskRepository is the read boundary into the task domain used by job bodies.
type TaskRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Task, error)
}

// ArtifactStore is an append-only blob namespace for job output.
type ArtifactStore interface {
	// Save writes data under name and returns a reference resolvable by the
	// HTTP layer. Saving over an existing name fails.
	Save(ctx context.Context, name string, data []byte) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Mailer delivers rendered email.
type Mailer interface {
	Send(ctx context.Context, msg model.Email) error
}

// CacheRepository defines the key/value cache used for read-through lookups.
type CacheRepository interface {
	// Set stores a value with the given TTL. A zero TTL never expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns nil, nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) (bool, error)
	Health(ctx context.Context) error
}
