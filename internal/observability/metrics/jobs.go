// Package metrics holds the metric names and tag conventions of the job
// system plus sinks that feed Prometheus alongside StatsD.
package metrics

import (
	"maps"
	"time"

	obserrors "github.com/target/taskmanager-api/internal/observability/errors"
	"github.com/target/taskmanager-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Job lifecycle transitions.
const (
	TransitionSubmitted = "submitted"
	TransitionStarted   = "started"
	TransitionCompleted = "completed"
	TransitionFailed    = "failed"
	TransitionFanout    = "fanout"
)

// Metric names.
const (
	NameJobTransition    = "job.transition"
	NameJobDuration      = "job.duration"
	NameReaperRun        = "reaper.cleanup.run"
	NameReaperRows       = "reaper.cleanup.rows"
	NameReaperDuration   = "reaper.cleanup.duration"
	NameHTTPRequest      = "http.request"
	NameHTTPRequestTimer = "http.request.duration"
)

// JobMetric captures details about a job lifecycle event.
type JobMetric struct {
	Kind       string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle counts the transition and, when a duration is known,
// records it as a timing.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"job_kind":   in.Kind,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count(NameJobTransition, 1, tags)
	if in.Duration > 0 {
		sink.Timing(NameJobDuration, in.Duration, CloneTags(tags))
	}
}

// CloneTags returns a shallow copy of src, or nil when src is empty.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
