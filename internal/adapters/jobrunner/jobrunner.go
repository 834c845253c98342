// Package jobrunner runs the worker pool that claims pending jobs, executes
// their registered bodies and records exactly one terminal outcome per job.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domainjob "github.com/target/taskmanager-api/internal/domain/job"
	"github.com/target/taskmanager-api/internal/domain/model"
	obserrors "github.com/target/taskmanager-api/internal/observability/errors"
	"github.com/target/taskmanager-api/internal/observability/metrics"
	"github.com/target/taskmanager-api/internal/observability/notify"
	"github.com/target/taskmanager-api/internal/observability/statsd"
	"github.com/target/taskmanager-api/internal/service"
)

const (
	defaultWaitWindow = 30 * time.Second
	// finalizeTimeout bounds the terminal write made after the worker
	// context has been cancelled.
	finalizeTimeout = 10 * time.Second
)

// RunnerOptions configures the worker pool.
type RunnerOptions struct {
	Jobs   *service.JobService // Required
	Logger *slog.Logger

	Concurrency int             // worker goroutines; defaults to 1
	Kinds       []model.JobKind // kinds to claim; defaults to every registered kind
	WaitWindow  time.Duration   // idle poll interval; defaults to 30s

	Metrics statsd.Sink

	// Alerts receives a JobFailure for every job this pool records as FAILURE.
	Alerts FailureNotifier
	// StatusBaseURL prefixes the status link carried by alerts.
	StatusBaseURL string
}

// FailureNotifier delivers job failure alerts.
type FailureNotifier interface {
	NotifyJobFailure(ctx context.Context, alert notify.JobFailure)
}

// Runner is a fixed-size pool of workers.
type Runner struct {
	jobs       *service.JobService
	logger     *slog.Logger
	workers    int
	kinds      []model.JobKind
	waitWindow time.Duration
	metrics    statsd.Sink
	alerts     FailureNotifier
	statusBase string
}

// NewRunner validates opts and constructs a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("job service is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	waitWindow := opts.WaitWindow
	if waitWindow <= 0 {
		waitWindow = defaultWaitWindow
	}
	sink := opts.Metrics
	if sink == nil {
		sink = statsd.Discard{}
	}

	registered := opts.Jobs.Kinds()
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = registered
	}
	for _, k := range kinds {
		if !slices.Contains(registered, k) {
			return nil, fmt.Errorf("worker kind %q is not registered", k)
		}
	}
	if len(kinds) == 0 {
		return nil, errors.New("no job kinds to process")
	}

	return &Runner{
		jobs:       opts.Jobs,
		logger:     logger.With("component", "job_runner"),
		workers:    workers,
		kinds:      kinds,
		waitWindow: waitWindow,
		metrics:    sink,
		alerts:     opts.Alerts,
		statusBase: strings.TrimRight(opts.StatusBaseURL, "/"),
	}, nil
}

// Run starts the workers and blocks until ctx is cancelled. A job that is
// running when ctx ends is recorded as failed before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "workers", r.workers, "kinds", r.kinds, "wait_window", r.waitWindow)

	g, gctx := errgroup.WithContext(ctx)
	for i := range r.workers {
		g.Go(func() error {
			return r.workerLoop(gctx, i)
		})
	}
	err := g.Wait()
	r.logger.InfoContext(ctx, "job runner stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Runner) workerLoop(ctx context.Context, worker int) error {
	unsub, wake := r.jobs.Subscribe(r.kinds...)
	defer unsub()

	logger := r.logger.With("worker", worker)
	for ctx.Err() == nil {
		processed, err := r.RunOnce(ctx)
		switch {
		case err != nil:
			logger.ErrorContext(ctx, "reserve job failed", "error", err)
			if !r.wait(ctx, wake) {
				return ctx.Err()
			}
		case !processed:
			if !r.wait(ctx, wake) {
				return ctx.Err()
			}
		}
	}
	return ctx.Err()
}

// wait blocks until a notification, the wait window or ctx. It reports false
// when the worker should stop.
func (r *Runner) wait(ctx context.Context, wake <-chan struct{}) bool {
	t := time.NewTimer(r.waitWindow)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case _, ok := <-wake:
		return ok
	case <-t.C:
		return true
	}
}

// RunOnce claims and processes at most one job. It reports whether a job was
// processed.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	job, err := r.jobs.ReserveNext(ctx, r.kinds)
	if errors.Is(err, model.ErrNoJobsAvailable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	r.process(ctx, job)
	return true, nil
}

func (r *Runner) process(ctx context.Context, job *model.Job) {
	start := time.Now()
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		Kind: string(job.Kind), Transition: metrics.TransitionStarted, Result: metrics.ResultSuccess,
	})

	outcome, runErr := r.execute(ctx, job)

	// Terminal writes must land even when shutdown cancelled ctx.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if runErr != nil {
		r.fail(fctx, job, start, runErr)
		return
	}

	result, err := r.enqueueFollowUps(fctx, job, outcome)
	if err != nil {
		r.fail(fctx, job, start, err)
		return
	}

	ok, err := r.jobs.Complete(fctx, job.ID, result)
	res := metrics.ResultSuccess
	switch {
	case err != nil:
		res = metrics.ResultError
		r.logger.ErrorContext(ctx, "complete job failed", "job_id", job.ID, "error", err)
	case !ok:
		res = metrics.ResultNoop
		r.logger.WarnContext(ctx, "job was no longer started at completion", "job_id", job.ID)
	default:
		r.logger.InfoContext(ctx, "job succeeded", "job_id", job.ID, "kind", job.Kind, "duration", time.Since(start))
	}
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		Kind: string(job.Kind), Transition: metrics.TransitionCompleted, Result: res,
		Duration: time.Since(start), Err: err,
	})
}

// execute runs the body, turning a panic into an error.
func (r *Runner) execute(ctx context.Context, job *model.Job) (out domainjob.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "job body panicked", "job_id", job.ID, "kind", job.Kind,
				"panic", rec, "stack", string(debug.Stack()))
			out, err = domainjob.Outcome{}, fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return r.jobs.Run(ctx, job)
}

// enqueueFollowUps links the follow-ups to job, submits them in order and
// returns the result to record on job. Validation is all-or-nothing: one
// invalid request means none is submitted. Submission is not. Children
// stored before a write error stay PENDING under the parent, which is then
// failed with that error.
func (r *Runner) enqueueFollowUps(ctx context.Context, job *model.Job, outcome domainjob.Outcome) (string, error) {
	result := outcome.Result
	if len(outcome.Enqueue) == 0 {
		return result, nil
	}
	for _, req := range outcome.Enqueue {
		if err := r.jobs.Validate(req); err != nil {
			return "", fmt.Errorf("invalid follow-up %s job: %w", req.Kind, err)
		}
	}

	parentID := job.ID
	for i, req := range outcome.Enqueue {
		req.ParentID = &parentID
		child, err := r.jobs.SubmitRequest(ctx, req)
		if err != nil {
			return "", fmt.Errorf("submit follow-up %s job: %w", req.Kind, err)
		}
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			Kind: string(job.Kind), Transition: metrics.TransitionFanout, Result: metrics.ResultSuccess,
		})
		r.logger.DebugContext(ctx, "follow-up job submitted", "job_id", job.ID, "child_id", child.ID, "child_kind", child.Kind)
		if result == "" && i == 0 {
			result = child.ID
		}
	}
	return result, nil
}

func (r *Runner) fail(ctx context.Context, job *model.Job, start time.Time, cause error) {
	ok, err := r.jobs.Fail(ctx, job.ID, cause.Error())
	res := metrics.ResultError
	switch {
	case err != nil:
		r.logger.ErrorContext(ctx, "fail job failed", "job_id", job.ID, "error", err, "original_error", cause)
	case !ok:
		res = metrics.ResultNoop
		r.logger.WarnContext(ctx, "job was no longer started at failure", "job_id", job.ID, "error", cause)
	default:
		r.logger.WarnContext(ctx, "job failed", "job_id", job.ID, "kind", job.Kind, "error", cause)
		r.alert(ctx, job, cause)
	}
	metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
		Kind: string(job.Kind), Transition: metrics.TransitionFailed, Result: res,
		Duration: time.Since(start), Err: cause,
	})
}

func (r *Runner) alert(ctx context.Context, job *model.Job, cause error) {
	if r.alerts == nil {
		return
	}
	alert := notify.JobFailure{
		JobID:      job.ID,
		Kind:       string(job.Kind),
		Errors:     []string{cause.Error()},
		ErrorClass: obserrors.Classify(cause),
		StatusURL:  r.statusBase + "/jobs/" + job.ID,
		OccurredAt: time.Now(),
	}
	if job.ParentID != nil {
		alert.ParentID = *job.ParentID
	}
	r.alerts.NotifyJobFailure(ctx, alert)
}
