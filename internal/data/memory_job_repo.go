package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/target/taskmanager-api/internal/core"
	"github.com/target/taskmanager-api/internal/domain/model"
)

// MemoryJobRepo keeps jobs in process memory. It backs single-process
// deployments and tests; records do not survive a restart.
type MemoryJobRepo struct {
	mu           sync.Mutex
	jobs         map[string]*model.Job
	seq          []string // insertion order, oldest first
	signals      map[model.JobKind]chan struct{}
	timeProvider TimeProvider
}

var (
	_ core.JobRepository    = (*MemoryJobRepo)(nil)
	_ core.ReaperRepository = (*MemoryJobRepo)(nil)
)

// NewMemoryJobRepo creates an empty in-memory job store.
func NewMemoryJobRepo(cfg RepoConfig) *MemoryJobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &MemoryJobRepo{
		jobs:         make(map[string]*model.Job),
		signals:      make(map[model.JobKind]chan struct{}),
		timeProvider: tp,
	}
}

// Create stores a PENDING job and wakes one waiter for its kind.
func (r *MemoryJobRepo) Create(_ context.Context, rec *model.NewJobRecord) (*model.Job, error) {
	if rec == nil {
		return nil, errors.New("job record is required")
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		return nil, fmt.Errorf("invalid job id %q: %w", rec.ID, err)
	}
	if !rec.Kind.Valid() {
		return nil, fmt.Errorf("invalid job kind: %s", rec.Kind)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.timeProvider.Now()
	}
	createdAt = createdAt.UTC()

	params := cloneJSON(rec.Params)
	job := &model.Job{
		ID:        rec.ID,
		Kind:      rec.Kind,
		Status:    model.JobStatusPending,
		Params:    params,
		ParentID:  clonePtr(rec.ParentID),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return nil, fmt.Errorf("job %s already exists", job.ID)
	}
	r.jobs[job.ID] = job
	r.seq = append(r.seq, job.ID)
	r.signalLocked(job.Kind)

	return copyJob(job), nil
}

// GetByID returns a copy of the stored job.
func (r *MemoryJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return copyJob(job), nil
}

// ReserveNext claims the oldest PENDING job of one of kinds.
func (r *MemoryJobRepo) ReserveNext(_ context.Context, kinds []model.JobKind) (*model.Job, error) {
	if len(kinds) == 0 {
		return nil, errors.New("at least one job kind is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.seq {
		job, ok := r.jobs[id]
		if !ok || job.Status != model.JobStatusPending || !slices.Contains(kinds, job.Kind) {
			continue
		}
		now := r.timeProvider.Now().UTC()
		job.Status = model.JobStatusStarted
		job.StartedAt = &now
		job.UpdatedAt = now
		return copyJob(job), nil
	}
	return nil, model.ErrNoJobsAvailable
}

// Complete moves a STARTED job to SUCCESS.
func (r *MemoryJobRepo) Complete(_ context.Context, id, result string) (bool, error) {
	return r.finish(id, func(job *model.Job) {
		job.Status = model.JobStatusSuccess
		job.Result = &result
	}), nil
}

// Fail moves a STARTED job to FAILURE.
func (r *MemoryJobRepo) Fail(_ context.Context, id string, errs []string) (bool, error) {
	msgs := normalizeErrors(errs)
	return r.finish(id, func(job *model.Job) {
		job.Status = model.JobStatusFailure
		job.Errors = msgs
	}), nil
}

func (r *MemoryJobRepo) finish(id string, apply func(*model.Job)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != model.JobStatusStarted {
		return false
	}
	now := r.timeProvider.Now().UTC()
	apply(job)
	job.CompletedAt = &now
	job.UpdatedAt = now
	return true
}

// Stats counts jobs per status.
func (r *MemoryJobRepo) Stats(_ context.Context, kind model.JobKind) (*model.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s model.JobStats
	for _, job := range r.jobs {
		if kind != "" && job.Kind != kind {
			continue
		}
		switch job.Status {
		case model.JobStatusPending:
			s.Pending++
		case model.JobStatusStarted:
			s.Started++
		case model.JobStatusSuccess:
			s.Success++
		case model.JobStatusFailure:
			s.Failure++
		case model.JobStatusUnknown:
		}
	}
	return &s, nil
}

// WaitForNotification blocks until a job of kind is created or ctx ends.
func (r *MemoryJobRepo) WaitForNotification(ctx context.Context, kind model.JobKind) error {
	r.mu.Lock()
	ch := r.signalChanLocked(kind)
	r.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FailStaleStartedJobs fails STARTED jobs whose start is older than maxAge.
func (r *MemoryJobRepo) FailStaleStartedJobs(_ context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if maxAge <= 0 || batchSize <= 0 {
		return 0, errors.New("max age and batch size must be greater than zero")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.timeProvider.Now().UTC()
	cutoff := now.Add(-maxAge)
	var n int64
	for _, id := range r.seq {
		if n >= int64(batchSize) {
			break
		}
		job := r.jobs[id]
		if job == nil || job.Status != model.JobStatusStarted || job.StartedAt == nil || !job.StartedAt.Before(cutoff) {
			continue
		}
		job.Status = model.JobStatusFailure
		job.Errors = []string{staleStartedMessage}
		job.CompletedAt = &now
		job.UpdatedAt = now
		n++
	}
	return n, nil
}

// DeleteOldJobs removes terminal jobs of the given status completed before MaxAge.
func (r *MemoryJobRepo) DeleteOldJobs(_ context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("only terminal jobs can be deleted, got %s", params.Status)
	}
	if params.MaxAge <= 0 || params.BatchSize <= 0 {
		return 0, errors.New("max age and batch size must be greater than zero")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.timeProvider.Now().Add(-params.MaxAge)
	var n int64
	kept := r.seq[:0]
	for _, id := range r.seq {
		job := r.jobs[id]
		if n < int64(params.BatchSize) && job != nil && job.Status == params.Status &&
			job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(r.jobs, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	r.seq = kept
	return n, nil
}

func (r *MemoryJobRepo) signalChanLocked(kind model.JobKind) chan struct{} {
	ch, ok := r.signals[kind]
	if !ok {
		ch = make(chan struct{}, 1)
		r.signals[kind] = ch
	}
	return ch
}

func (r *MemoryJobRepo) signalLocked(kind model.JobKind) {
	select {
	case r.signalChanLocked(kind) <- struct{}{}:
	default:
	}
}

func copyJob(j *model.Job) *model.Job {
	c := *j
	c.Params = append(json.RawMessage(nil), j.Params...)
	c.Result = clonePtr(j.Result)
	c.ParentID = clonePtr(j.ParentID)
	c.StartedAt = clonePtr(j.StartedAt)
	c.CompletedAt = clonePtr(j.CompletedAt)
	if j.Errors != nil {
		c.Errors = append([]string(nil), j.Errors...)
	}
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
