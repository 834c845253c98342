package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/taskmanager-api/config"
	"github.com/target/taskmanager-api/internal/core"
	"github.com/target/taskmanager-api/internal/domain/model"
	obserrors "github.com/target/taskmanager-api/internal/observability/errors"
	"github.com/target/taskmanager-api/internal/observability/metrics"
	"github.com/target/taskmanager-api/internal/observability/statsd"
)

// Reaper step names, used as the "step" metric tag.
const (
	ReaperStepFailStaleStarted = "fail_stale_started"
	ReaperStepDeleteSuccess    = "delete_success"
	ReaperStepDeleteFailure    = "delete_failure"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository // Required: reaper repository
	Config  config.ReaperConfig   // Required: reaper configuration
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink
}

// ReaperService enforces job retention:
//   - STARTED jobs whose worker disappeared are failed after StartedMaxAge.
//   - SUCCESS and FAILURE records are deleted after their max ages.
type ReaperService struct {
	repo    core.ReaperRepository
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// ReapReport counts rows touched by one cleanup pass, keyed by step.
type ReapReport map[string]int64

// Total returns the number of rows touched across steps.
func (r ReapReport) Total() int64 {
	var n int64
	for _, c := range r {
		n += c
	}
	return n
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reaper_service")
	logger.Debug("ReaperService initialized",
		"interval", opts.Config.Interval,
		"started_max_age", opts.Config.StartedMaxAge,
		"success_max_age", opts.Config.SuccessMaxAge,
		"failure_max_age", opts.Config.FailureMaxAge,
	)

	sink := opts.Metrics
	if sink == nil {
		sink = statsd.Discard{}
	}

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger,
		metrics: sink,
	}, nil
}

// Run performs a cleanup pass after a short jitter and then on every
// interval until ctx is cancelled. Cancellation is a clean exit.
func (s *ReaperService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)

	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if _, err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(ctx, err, "initial cleanup")
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(ctx, err, "cleanup")
			}
		}
	}
}

// waitWithJitter sleeps up to 10% of the interval so replicas started
// together do not reap in lockstep.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 - bounded by maxJitter

	timer := time.NewTimer(jitter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

type cleanupStep struct {
	name   string
	maxAge time.Duration
	fn     func(context.Context) (int64, error)
}

func (s *ReaperService) steps() []cleanupStep {
	return []cleanupStep{
		{
			name:   ReaperStepFailStaleStarted,
			maxAge: s.config.StartedMaxAge,
			fn: func(ctx context.Context) (int64, error) {
				return s.repo.FailStaleStartedJobs(ctx, s.config.StartedMaxAge, s.config.BatchSize)
			},
		},
		{
			name:   ReaperStepDeleteSuccess,
			maxAge: s.config.SuccessMaxAge,
			fn:     s.deleteOld(model.JobStatusSuccess, s.config.SuccessMaxAge),
		},
		{
			name:   ReaperStepDeleteFailure,
			maxAge: s.config.FailureMaxAge,
			fn:     s.deleteOld(model.JobStatusFailure, s.config.FailureMaxAge),
		},
	}
}

func (s *ReaperService) deleteOld(status model.JobStatus, maxAge time.Duration) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		return s.repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{
			Status:    status,
			MaxAge:    maxAge,
			BatchSize: s.config.BatchSize,
		})
	}
}

// RunOnce performs one cleanup pass. Every step runs even when an earlier
// one fails; the returned error joins the step errors.
func (s *ReaperService) RunOnce(ctx context.Context) (ReapReport, error) {
	start := time.Now()
	report := make(ReapReport, 3)
	var (
		errs        []error
		allCanceled = true
	)

	for _, step := range s.steps() {
		stepStart := time.Now()
		count, err := drainBatches(ctx, step.fn)
		report[step.name] = count
		s.emitStepMetrics(step.name, count, time.Since(stepStart), err)

		if count > 0 {
			s.logger.InfoContext(ctx, "reaper step completed",
				"step", step.name,
				"count", count,
				"max_age", step.maxAge,
			)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			allCanceled = allCanceled && isContextCancellation(err)
		}
	}

	var runErr error
	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allCanceled {
			runErr = context.Canceled
		} else {
			runErr = fmt.Errorf("cleanup failed: %w", joined)
		}
	}
	s.emitStepMetrics("all", report.Total(), time.Since(start), runErr)
	if runErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
	return report, runErr
}

// drainBatches repeats fn until a batch touches no rows.
func drainBatches(ctx context.Context, fn func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		count, err := fn(ctx)
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

func (s *ReaperService) emitStepMetrics(step string, count int64, elapsed time.Duration, err error) {
	result := metrics.ResultSuccess
	switch {
	case err != nil && !isContextCancellation(err):
		result = metrics.ResultError
	case count == 0:
		result = metrics.ResultNoop
	}

	tags := map[string]string{"step": step, "result": result}
	if result == metrics.ResultError {
		tags["error_class"] = obserrors.Classify(err)
	}

	s.metrics.Count(metrics.NameReaperRun, 1, tags)
	if elapsed > 0 {
		s.metrics.Timing(metrics.NameReaperDuration, elapsed, metrics.CloneTags(tags))
	}
	if count > 0 {
		s.metrics.Count(metrics.NameReaperRows, count, map[string]string{"step": step, "result": result})
	}
}

func (s *ReaperService) logCleanupError(ctx context.Context, err error, label string) {
	if isContextCancellation(err) {
		s.logger.DebugContext(ctx, label+" cancelled by context", "error", err)
		return
	}
	s.logger.ErrorContext(ctx, label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
