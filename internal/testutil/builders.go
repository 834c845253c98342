package testutil

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/target/taskmanager-api/internal/domain/model"
)

// JobBuilder provides a fluent interface for building model.Job values in tests.
type JobBuilder struct {
	job *model.Job
}

// NewJob returns a PENDING countdown job with a fresh id.
func NewJob() *JobBuilder {
	return &JobBuilder{job: &model.Job{
		ID:        uuid.NewString(),
		Kind:      model.JobKindCountdown,
		Status:    model.JobStatusPending,
		Params:    json.RawMessage(`{"seconds":0}`),
		CreatedAt: TestTime(),
		UpdatedAt: TestTime(),
	}}
}

// WithID sets the job id.
func (b *JobBuilder) WithID(id string) *JobBuilder {
	b.job.ID = id
	return b
}

// WithKind sets the job kind.
func (b *JobBuilder) WithKind(kind model.JobKind) *JobBuilder {
	b.job.Kind = kind
	return b
}

// WithParams sets the raw params.
func (b *JobBuilder) WithParams(params string) *JobBuilder {
	b.job.Params = json.RawMessage(params)
	return b
}

// Started marks the job STARTED.
func (b *JobBuilder) Started() *JobBuilder {
	b.job.Status = model.JobStatusStarted
	b.job.StartedAt = TimePtr(TestTime().Add(time.Second))
	return b
}

// Succeeded marks the job SUCCESS with result.
func (b *JobBuilder) Succeeded(result string) *JobBuilder {
	b.Started()
	b.job.Status = model.JobStatusSuccess
	b.job.Result = &result
	b.job.CompletedAt = TimePtr(TestTime().Add(2 * time.Second))
	return b
}

// Failed marks the job FAILURE with errs.
func (b *JobBuilder) Failed(errs ...string) *JobBuilder {
	b.Started()
	b.job.Status = model.JobStatusFailure
	b.job.Errors = errs
	b.job.CompletedAt = TimePtr(TestTime().Add(2 * time.Second))
	return b
}

// Build returns the job.
func (b *JobBuilder) Build() *model.Job {
	return b.job
}

// TimePtr returns a pointer to the given time value.
func TimePtr(t time.Time) *time.Time {
	return &t
}
