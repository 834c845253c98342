package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/target/taskmanager-api/internal/core"
	"github.com/target/taskmanager-api/internal/data"
	domainjob "github.com/target/taskmanager-api/internal/domain/job"
	"github.com/target/taskmanager-api/internal/domain/model"
	apperrors "github.com/target/taskmanager-api/internal/errors"
	"github.com/target/taskmanager-api/internal/observability/metrics"
	"github.com/target/taskmanager-api/internal/observability/statsd"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo            core.JobRepository        // Required: job repository
	Registry        *domainjob.Registry       // Required: registered job kinds
	Logger          *slog.Logger              // Optional: structured logger
	Notifier        domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions domainjob.NotifierOptions // Optional: configure default notifier behaviour

	// BaseURL and MediaURL build the absolute Location of artifact results.
	BaseURL  string
	MediaURL string

	// Cache holds resolved views of terminal jobs for CacheTTL.
	Cache    core.CacheRepository
	CacheTTL time.Duration

	Metrics statsd.Sink // Optional: submission counters
}

// JobService is the job dispatcher and status resolver. Workers use it to
// claim work and record outcomes.
type JobService struct {
	repo     core.JobRepository
	registry *domainjob.Registry
	notifier domainjob.Notifier
	logger   *slog.Logger

	mediaPrefix string
	cache       core.CacheRepository
	cacheTTL    time.Duration
	metrics     statsd.Sink
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("job registry is required")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Metrics
	if sink == nil {
		sink = statsd.Discard{}
	}

	return &JobService{
		repo:        opts.Repo,
		registry:    opts.Registry,
		notifier:    notifier,
		logger:      logger.With("component", "job_service"),
		mediaPrefix: joinMediaPrefix(opts.BaseURL, opts.MediaURL),
		cache:       opts.Cache,
		cacheTTL:    opts.CacheTTL,
		metrics:     sink,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

func joinMediaPrefix(baseURL, mediaURL string) string {
	base := strings.TrimRight(baseURL, "/")
	media := "/" + strings.Trim(mediaURL, "/") + "/"
	if media == "//" {
		media = "/"
	}
	return base + media
}

// Kinds returns the registered job kinds.
func (s *JobService) Kinds() []model.JobKind {
	return s.registry.Kinds()
}

// Submit validates params for kind and stores a PENDING job. Invalid input is
// reported as a validation AppError and nothing is written.
func (s *JobService) Submit(ctx context.Context, kind model.JobKind, params json.RawMessage) (*model.Job, error) {
	return s.SubmitRequest(ctx, model.CreateJobRequest{Kind: kind, Params: params})
}

// Validate checks req against the registered definition for its kind without
// writing anything.
func (s *JobService) Validate(req model.CreateJobRequest) error {
	if len(req.Params) == 0 {
		req.Params = json.RawMessage(`{}`)
	}
	if !req.Kind.Valid() {
		return apperrors.ValidationField("kind", "invalid job kind")
	}
	if err := req.Validate(); err != nil {
		return apperrors.ValidationField("params", strings.TrimPrefix(err.Error(), "params "))
	}
	if err := s.registry.Validate(req.Kind, req.Params); err != nil {
		if errors.Is(err, domainjob.ErrUnknownKind) {
			return apperrors.ValidationField("kind", fmt.Sprintf("unknown job kind %q", req.Kind))
		}
		return err
	}
	return nil
}

// SubmitRequest is Submit for a full request, including the parent link used
// by fan-out.
func (s *JobService) SubmitRequest(ctx context.Context, req model.CreateJobRequest) (*model.Job, error) {
	if len(req.Params) == 0 {
		req.Params = json.RawMessage(`{}`)
	}
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	job, err := s.repo.Create(ctx, &model.NewJobRecord{
		ID:       uuid.NewString(),
		Kind:     req.Kind,
		Params:   req.Params,
		ParentID: req.ParentID,
	})
	if err != nil {
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			Kind: string(req.Kind), Transition: metrics.TransitionSubmitted, Result: metrics.ResultError, Err: err,
		})
		return nil, fmt.Errorf("create job: %w", err)
	}
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		Kind: string(job.Kind), Transition: metrics.TransitionSubmitted, Result: metrics.ResultSuccess,
	})

	s.logger.DebugContext(ctx, "job submitted", "job_id", job.ID, "kind", job.Kind)
	return job, nil
}

// cachedView mirrors model.JobView including the fields hidden from JSON.
type cachedView struct {
	View     model.JobView `json:"view"`
	Location string        `json:"location,omitempty"`
	Ready    bool          `json:"ready,omitempty"`
}

func viewCacheKey(id string) string { return "job_view:" + id }

// Resolve returns the externally visible status of a job. Unknown ids resolve
// to UNKNOWN rather than an error. The record is never modified.
func (s *JobService) Resolve(ctx context.Context, id string) (*model.JobView, error) {
	if v := s.cachedView(ctx, id); v != nil {
		return v, nil
	}

	job, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, data.ErrJobNotFound) {
		return &model.JobView{TaskID: id, Status: model.JobStatusUnknown}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	view := s.buildView(job)
	if job.Status.Terminal() {
		s.storeView(ctx, view)
	}
	return view, nil
}

func (s *JobService) buildView(job *model.Job) *model.JobView {
	view := &model.JobView{TaskID: job.ID, Status: job.Status}
	switch job.Status {
	case model.JobStatusSuccess:
		if job.Result == nil {
			break
		}
		result := *job.Result
		if s.registry.ProducesArtifact(job.Kind) {
			result = s.mediaPrefix + url.PathEscape(result)
			view.Location = result
			view.Ready = true
		}
		view.Result = &result
	case model.JobStatusFailure:
		view.Errors = append([]string(nil), job.Errors...)
	case model.JobStatusPending, model.JobStatusStarted, model.JobStatusUnknown:
	}
	return view
}

func (s *JobService) cachedView(ctx context.Context, id string) *model.JobView {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, viewCacheKey(id))
	if err != nil {
		s.logger.WarnContext(ctx, "job view cache get failed", "job_id", id, "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}
	var cv cachedView
	if err := json.Unmarshal(raw, &cv); err != nil {
		return nil
	}
	cv.View.Location = cv.Location
	cv.View.Ready = cv.Ready
	return &cv.View
}

func (s *JobService) storeView(ctx context.Context, view *model.JobView) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(cachedView{View: *view, Location: view.Location, Ready: view.Ready})
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, viewCacheKey(view.TaskID), raw, s.cacheTTL); err != nil {
		s.logger.WarnContext(ctx, "job view cache set failed", "job_id", view.TaskID, "error", err)
	}
}

// ReserveNext claims the next pending job of one of kinds.
func (s *JobService) ReserveNext(ctx context.Context, kinds []model.JobKind) (*model.Job, error) {
	job, err := s.repo.ReserveNext(ctx, kinds)
	if err != nil {
		return nil, fmt.Errorf("reserve next job: %w", err)
	}
	s.logger.DebugContext(ctx, "job reserved", "job_id", job.ID, "kind", job.Kind)
	return job, nil
}

// Run executes the registered body for job.
func (s *JobService) Run(ctx context.Context, job *model.Job) (domainjob.Outcome, error) {
	return s.registry.Run(ctx, domainjob.Invocation{JobID: job.ID, Kind: job.Kind}, job.Params)
}

// Subscribe creates a subscription woken when jobs of kinds may be available.
func (s *JobService) Subscribe(kinds ...model.JobKind) (func(), <-chan struct{}) {
	return s.notifier.Subscribe(kinds...)
}

// Complete records a successful result. It reports false when the job was
// no longer STARTED.
func (s *JobService) Complete(ctx context.Context, id, result string) (bool, error) {
	ok, err := s.repo.Complete(ctx, id, result)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", id, err)
	}
	if ok {
		s.logger.DebugContext(ctx, "job completed", "job_id", id)
	}
	return ok, nil
}

// Fail records failure messages. It reports false when the job was no longer
// STARTED.
func (s *JobService) Fail(ctx context.Context, id string, errs ...string) (bool, error) {
	ok, err := s.repo.Fail(ctx, id, errs)
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}
	if ok {
		s.logger.DebugContext(ctx, "job failed", "job_id", id, "errors", errs)
	}
	return ok, nil
}

// Stats returns job counts per status, optionally for a single registered kind.
func (s *JobService) Stats(ctx context.Context, kind model.JobKind) (*model.JobStats, error) {
	if kind != "" && !kind.Valid() {
		return nil, apperrors.ValidationField("kind", "invalid job kind")
	}
	if kind != "" && !s.registry.Has(kind) {
		return nil, apperrors.ValidationField("kind", fmt.Sprintf("unknown job kind %q", kind))
	}
	stats, err := s.repo.Stats(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return stats, nil
}

// StopAllListeners stops every notifier listener and closes subscriber channels.
func (s *JobService) StopAllListeners() {
	s.notifier.StopAll()
}
