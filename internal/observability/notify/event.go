// Package notify carries job failure alerts to on-call channels.
package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// JobFailure is the alert emitted when a job is recorded as FAILURE.
type JobFailure struct {
	JobID    string
	Kind     string
	ParentID string
	Errors   []string
	// ErrorClass is the observability error class of the cause.
	ErrorClass string
	Severity   string
	// StatusURL points at the job status endpoint when known.
	StatusURL  string
	OccurredAt time.Time
}

// Sink describes a destination capable of consuming job failure alerts.
type Sink interface {
	SendJobFailure(ctx context.Context, alert JobFailure) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, alert JobFailure) error

// SendJobFailure implements the Sink interface.
func (f SinkFunc) SendJobFailure(ctx context.Context, alert JobFailure) error {
	if f == nil {
		return nil
	}
	return f(ctx, alert)
}

// Retry calls fn up to attempts times with a linear 200ms backoff, stopping
// early when ctx ends. It returns the last error.
func Retry(ctx context.Context, attempts int, fn func(context.Context) error) error {
	attempts = max(attempts, 1)
	var lastErr error
	for attempt := range attempts {
		if lastErr = fn(ctx); lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(time.Duration(attempt+1) * 200 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// FallbackString returns fallback when value is empty.
func FallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
