package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job id has no record, including ids
	// that are not valid UUIDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrTaskNotFound is returned when a task id has no record.
	ErrTaskNotFound = errors.New("task not found")
)
