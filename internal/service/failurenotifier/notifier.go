// Package failurenotifier fans job failure alerts out to the configured sinks.
package failurenotifier

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/target/taskmanager-api/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// Kinds limits alerts to these job kinds. Empty means every kind.
	Kinds []string
}

// Service dispatches failure alerts to all registered sinks.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
	kinds  []string
}

// NewService constructs a failure notifier.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var sinks []SinkRegistration
	for _, entry := range opts.Sinks {
		if entry.Sink == nil {
			continue
		}
		name := entry.Name
		if name == "" {
			name = "sink"
		}
		sinks = append(sinks, SinkRegistration{
			Name: name,
			Sink: entry.Sink,
		})
	}

	return &Service{
		logger: logger.With("component", "failure_notifier"),
		sinks:  sinks,
		kinds:  slices.Clone(opts.Kinds),
	}
}

// NotifyJobFailure fans the alert out to all sinks and waits for them.
// Delivery errors are logged, never returned.
func (s *Service) NotifyJobFailure(ctx context.Context, alert notify.JobFailure) {
	if !s.Enabled() {
		return
	}
	if len(s.kinds) > 0 && !slices.Contains(s.kinds, alert.Kind) {
		s.logger.DebugContext(ctx, "skipping failure alert for unwatched kind",
			"job_id", alert.JobID,
			"kind", alert.Kind,
		)
		return
	}

	if alert.Severity == "" {
		alert.Severity = notify.SeverityCritical
	}

	var wg sync.WaitGroup
	for _, entry := range s.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.SendJobFailure(ctx, alert); err != nil {
				s.logger.ErrorContext(ctx, "failure alert delivery error",
					"sink", entry.Name,
					"job_id", alert.JobID,
					"kind", alert.Kind,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether the notifier has any active sinks.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
