// Package model defines the core data types shared by the task manager job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// JobKind identifies a registered job body.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobKind string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobKindCountdown sleeps for the requested seconds and stores a report artifact.
	JobKindCountdown JobKind = "countdown"
	// JobKindAssignNotification renders the "task assigned" email for a task executor.
	JobKindAssignNotification JobKind = "send_assign_notification"
	// JobKindHTMLEmail delivers a rendered HTML email through the mail transport.
	JobKindHTMLEmail JobKind = "send_html_email"

	// JobStatusPending indicates a job is waiting to be picked up by a worker.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusStarted indicates a worker has claimed the job and is running its body.
	JobStatusStarted JobStatus = "STARTED"
	// JobStatusSuccess indicates the job body finished and a result was recorded.
	JobStatusSuccess JobStatus = "SUCCESS"
	// JobStatusFailure indicates the job body failed and errors were recorded.
	JobStatusFailure JobStatus = "FAILURE"
	// JobStatusUnknown is reported for ids with no stored record. It is never persisted.
	JobStatusUnknown JobStatus = "UNKNOWN"
)

var jobKindPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// UnmarshalText implements encoding.TextUnmarshaler for JobKind to allow env parsing.
func (k *JobKind) UnmarshalText(text []byte) error {
	v := JobKind(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobKind: %q", v)
	}
	*k = v
	return nil
}

// Valid reports whether the kind is a well-formed identifier. Whether a body is
// registered for it is decided by the job registry.
func (k JobKind) Valid() bool {
	return jobKindPattern.MatchString(string(k))
}

// Valid returns true if the status may be persisted.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusStarted || s == JobStatusSuccess ||
		s == JobStatusFailure
}

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailure
}

// Job is the stored record of one job invocation.
type Job struct {
	ID          string          `json:"id"                     db:"id"`
	Kind        JobKind         `json:"kind"                   db:"kind"`
	Status      JobStatus       `json:"status"                 db:"status"`
	Params      json.RawMessage `json:"params"                 db:"params"`
	Result      *string         `json:"result,omitempty"       db:"result"`
	Errors      []string        `json:"errors,omitempty"       db:"errors"`
	ParentID    *string         `json:"parent_id,omitempty"    db:"parent_id"`
	CreatedAt   time.Time       `json:"created_at"             db:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"   db:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt   time.Time       `json:"updated_at"             db:"updated_at"`
}

// CreateJobRequest represents a request to enqueue a new job.
type CreateJobRequest struct {
	Kind     JobKind         `json:"kind"`
	Params   json.RawMessage `json:"params"`
	ParentID *string         `json:"parent_id,omitempty"`
}

// Validate checks the request envelope. Parameter shape is validated by the
// registered definition for the kind.
func (r *CreateJobRequest) Validate() error {
	if !r.Kind.Valid() {
		return errors.New("invalid job kind")
	}
	if len(r.Params) == 0 {
		return errors.New("params are required")
	}
	if !json.Valid(r.Params) {
		return errors.New("params must be valid JSON")
	}
	return nil
}

// NewJobRecord is the fully materialised PENDING record handed to a repository.
// The id is assigned by the dispatcher before the record is written.
type NewJobRecord struct {
	ID        string
	Kind      JobKind
	Params    json.RawMessage
	ParentID  *string
	CreatedAt time.Time
}

// JobStats represents counts of jobs per status.
type JobStats struct {
	Pending int `json:"pending" yaml:"pending"`
	Started int `json:"started" yaml:"started"`
	Success int `json:"success" yaml:"success"`
	Failure int `json:"failure" yaml:"failure"`
}

// Total returns the number of jobs across all statuses.
func (s JobStats) Total() int {
	return s.Pending + s.Started + s.Success + s.Failure
}

// JobView is the externally visible status of a job.
type JobView struct {
	TaskID string    `json:"task_id"          yaml:"task_id"`
	Status JobStatus `json:"status"           yaml:"status"`
	Result *string   `json:"result,omitempty" yaml:"result,omitempty"`
	Errors []string  `json:"errors,omitempty" yaml:"errors,omitempty"`

	// Location is the absolute artifact URL for successful artifact jobs.
	Location string `json:"-" yaml:"location,omitempty"`
	// Ready marks a successful job whose result can be fetched.
	Ready bool `json:"-" yaml:"-"`
}

// Found reports whether the view describes a stored record.
func (v *JobView) Found() bool {
	return v != nil && v.Status != JobStatusUnknown
}
