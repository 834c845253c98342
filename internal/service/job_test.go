package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/taskmanager-api/internal/data"
	domainjob "github.com/target/taskmanager-api/internal/domain/job"
	"github.com/target/taskmanager-api/internal/domain/model"
	apperrors "github.com/target/taskmanager-api/internal/errors"
	"github.com/target/taskmanager-api/internal/mocks"
	"github.com/target/taskmanager-api/internal/testutil"
)

type stubJobNotifier struct {
	subscribeCalls [][]model.JobKind
	stopCalled     bool
}

func (s *stubJobNotifier) Subscribe(kinds ...model.JobKind) (func(), <-chan struct{}) {
	s.subscribeCalls = append(s.subscribeCalls, kinds)
	ch := make(chan struct{})
	return func() { close(ch) }, ch
}

func (s *stubJobNotifier) StopAll() { s.stopCalled = true }

var _ domainjob.Notifier = (*stubJobNotifier)(nil)

type reportParams struct {
	Pages int `json:"pages"`
}

func (p reportParams) Validate() error {
	fs := apperrors.FieldSet{}
	if p.Pages < 1 {
		fs.Add("pages", "must be at least 1")
	}
	return fs.Err()
}

func newTestRegistry(t *testing.T) *domainjob.Registry {
	t.Helper()
	r := domainjob.NewRegistry()
	domainjob.MustRegister(r, domainjob.Definition[reportParams]{
		Kind:     "report",
		Artifact: true,
		Handler: func(_ context.Context, inv domainjob.Invocation, _ reportParams) (domainjob.Outcome, error) {
			return domainjob.Outcome{Result: "report-" + inv.JobID + ".data"}, nil
		},
	})
	domainjob.MustRegister(r, domainjob.Definition[struct{}]{
		Kind: "echo",
		Handler: func(context.Context, domainjob.Invocation, struct{}) (domainjob.Outcome, error) {
			return domainjob.Outcome{Result: "echo"}, nil
		},
	})
	return r
}

func newTestJobService(t *testing.T, repo *mocks.MockJobRepository) (*JobService, *stubJobNotifier) {
	t.Helper()
	notifier := &stubJobNotifier{}
	svc := MustNewJobService(JobServiceOptions{
		Repo:     repo,
		Registry: newTestRegistry(t),
		Notifier: notifier,
		BaseURL:  "http://localhost:8000/",
		MediaURL: "/media/",
	})
	return svc, notifier
}

func TestNewJobService(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)

	t.Run("requires repository", func(t *testing.T) {
		_, err := NewJobService(JobServiceOptions{Registry: domainjob.NewRegistry()})
		assert.Error(t, err)
	})

	t.Run("requires registry", func(t *testing.T) {
		_, err := NewJobService(JobServiceOptions{Repo: repo})
		assert.Error(t, err)
	})

	t.Run("builds default notifier from repository", func(t *testing.T) {
		svc, err := NewJobService(JobServiceOptions{Repo: repo, Registry: domainjob.NewRegistry()})
		require.NoError(t, err)
		assert.IsType(t, &domainjob.DefaultNotifier{}, svc.notifier)
	})

	t.Run("must panics on invalid options", func(t *testing.T) {
		assert.Panics(t, func() { MustNewJobService(JobServiceOptions{}) })
	})
}

func TestJobService_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a pending job", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockJobRepository(ctrl)
		svc, _ := newTestJobService(t, repo)

		repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, rec *model.NewJobRecord) (*model.Job, error) {
				_, err := uuid.Parse(rec.ID)
				require.NoError(t, err)
				assert.Equal(t, model.JobKind("report"), rec.Kind)
				assert.JSONEq(t, `{"pages":2}`, string(rec.Params))
				assert.Nil(t, rec.ParentID)
				return testutil.NewJob().WithID(rec.ID).WithKind(rec.Kind).Build(), nil
			})

		job, err := svc.Submit(ctx, "report", json.RawMessage(`{"pages":2}`))
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, job.Status)
	})

	t.Run("carries parent id for fan-out requests", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockJobRepository(ctrl)
		svc, _ := newTestJobService(t, repo)
		parent := uuid.NewString()

		repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, rec *model.NewJobRecord) (*model.Job, error) {
				require.NotNil(t, rec.ParentID)
				assert.Equal(t, parent, *rec.ParentID)
				return testutil.NewJob().WithID(rec.ID).Build(), nil
			})

		_, err := svc.SubmitRequest(ctx, model.CreateJobRequest{Kind: "echo", ParentID: &parent})
		require.NoError(t, err)
	})

	tests := []struct {
		name      string
		kind      model.JobKind
		params    string
		wantField string
	}{
		{name: "unknown kind", kind: "missing", params: `{}`, wantField: "kind"},
		{name: "malformed kind", kind: "Not Valid", params: `{}`, wantField: "kind"},
		{name: "invalid json", kind: "report", params: `{"pages":`, wantField: "params"},
		{name: "failing validator", kind: "report", params: `{"pages":0}`, wantField: "pages"},
		{name: "wrong type", kind: "report", params: `{"pages":"two"}`, wantField: "pages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			repo := mocks.NewMockJobRepository(ctrl)
			svc, _ := newTestJobService(t, repo)

			_, err := svc.Submit(ctx, tt.kind, json.RawMessage(tt.params))
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
			assert.Contains(t, apperrors.GetFields(err), tt.wantField)
		})
	}

	t.Run("invalid json message", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockJobRepository(ctrl)
		svc, _ := newTestJobService(t, repo)

		_, err := svc.Submit(ctx, "report", json.RawMessage(`{"pages":`))
		require.Error(t, err)
		assert.Equal(t, []string{"must be valid JSON"}, apperrors.GetFields(err)["params"])
	})

	t.Run("storage error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockJobRepository(ctrl)
		svc, _ := newTestJobService(t, repo)
		boom := errors.New("db down")
		repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, boom)

		_, err := svc.Submit(ctx, "echo", nil)
		assert.ErrorIs(t, err, boom)
		assert.False(t, apperrors.IsValidation(err))
	})
}

func TestJobService_Resolve(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name         string
		job          *model.Job
		err          error
		wantStatus   model.JobStatus
		wantResult   string
		wantErrors   []string
		wantLocation string
		wantReady    bool
	}{
		{
			name:       "unknown id",
			err:        data.ErrJobNotFound,
			wantStatus: model.JobStatusUnknown,
		},
		{
			name:       "pending",
			job:        testutil.NewJob().WithKind("report").Build(),
			wantStatus: model.JobStatusPending,
		},
		{
			name:       "started",
			job:        testutil.NewJob().WithKind("report").Started().Build(),
			wantStatus: model.JobStatusStarted,
		},
		{
			name:         "artifact success",
			job:          testutil.NewJob().WithKind("report").Succeeded("test_report-1.data").Build(),
			wantStatus:   model.JobStatusSuccess,
			wantResult:   "http://localhost:8000/media/test_report-1.data",
			wantLocation: "http://localhost:8000/media/test_report-1.data",
			wantReady:    true,
		},
		{
			name:       "plain success",
			job:        testutil.NewJob().WithKind("echo").Succeeded("sent").Build(),
			wantStatus: model.JobStatusSuccess,
			wantResult: "sent",
		},
		{
			name:       "failure",
			job:        testutil.NewJob().WithKind("echo").Failed("boom").Build(),
			wantStatus: model.JobStatusFailure,
			wantErrors: []string{"boom"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			repo := mocks.NewMockJobRepository(ctrl)
			svc, _ := newTestJobService(t, repo)

			id := uuid.NewString()
			if tt.job != nil {
				tt.job.ID = id
			}
			repo.EXPECT().GetByID(gomock.Any(), id).Return(tt.job, tt.err)

			view, err := svc.Resolve(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, id, view.TaskID)
			assert.Equal(t, tt.wantStatus, view.Status)
			if tt.wantResult == "" {
				assert.Nil(t, view.Result)
			} else {
				require.NotNil(t, view.Result)
				assert.Equal(t, tt.wantResult, *view.Result)
			}
			assert.Equal(t, tt.wantErrors, view.Errors)
			assert.Equal(t, tt.wantLocation, view.Location)
			assert.Equal(t, tt.wantReady, view.Ready)
			assert.Equal(t, tt.wantStatus != model.JobStatusUnknown, view.Found())
		})
	}

	t.Run("storage error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := mocks.NewMockJobRepository(ctrl)
		svc, _ := newTestJobService(t, repo)
		repo.EXPECT().GetByID(gomock.Any(), "x").Return(nil, errors.New("db down"))

		_, err := svc.Resolve(ctx, "x")
		assert.Error(t, err)
	})
}

func TestJobService_ResolveCachesTerminalViews(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	cache := mocks.NewMockCacheRepository(ctrl)
	svc := MustNewJobService(JobServiceOptions{
		Repo:     repo,
		Registry: newTestRegistry(t),
		Notifier: &stubJobNotifier{},
		BaseURL:  "http://api",
		MediaURL: "media",
		Cache:    cache,
		CacheTTL: time.Minute,
	})

	done := testutil.NewJob().WithKind("report").Succeeded("r.data").Build()
	pending := testutil.NewJob().Build()

	var stored []byte
	gomock.InOrder(
		cache.EXPECT().Get(gomock.Any(), "job_view:"+done.ID).Return(nil, nil),
		repo.EXPECT().GetByID(gomock.Any(), done.ID).Return(done, nil),
		cache.EXPECT().Set(gomock.Any(), "job_view:"+done.ID, gomock.Any(), time.Minute).DoAndReturn(
			func(_ context.Context, _ string, v []byte, _ time.Duration) error {
				stored = v
				return nil
			}),
		cache.EXPECT().Get(gomock.Any(), "job_view:"+done.ID).DoAndReturn(
			func(context.Context, string) ([]byte, error) { return stored, nil }),
	)
	cache.EXPECT().Get(gomock.Any(), "job_view:"+pending.ID).Return(nil, nil)
	repo.EXPECT().GetByID(gomock.Any(), pending.ID).Return(pending, nil)

	first, err := svc.Resolve(ctx, done.ID)
	require.NoError(t, err)
	second, err := svc.Resolve(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "http://api/media/r.data", second.Location)
	assert.True(t, second.Ready)

	view, err := svc.Resolve(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, view.Status)
}

func TestJobService_Transitions(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, notifier := newTestJobService(t, repo)

	job := testutil.NewJob().Started().Build()
	kinds := []model.JobKind{"echo", "report"}
	repo.EXPECT().ReserveNext(gomock.Any(), kinds).Return(job, nil)
	repo.EXPECT().Complete(gomock.Any(), job.ID, "done").Return(true, nil)
	repo.EXPECT().Fail(gomock.Any(), job.ID, []string{"late"}).Return(false, nil)

	got, err := svc.ReserveNext(ctx, kinds)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	ok, err := svc.Complete(ctx, job.ID, "done")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Fail(ctx, job.ID, "late")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, kinds, svc.Kinds())

	unsub, _ := svc.Subscribe(kinds...)
	unsub()
	assert.Equal(t, [][]model.JobKind{kinds}, notifier.subscribeCalls)

	svc.StopAllListeners()
	assert.True(t, notifier.stopCalled)
}

func TestJobService_ReserveNextPropagatesEmptyQueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestJobService(t, repo)
	repo.EXPECT().ReserveNext(gomock.Any(), gomock.Any()).Return(nil, model.ErrNoJobsAvailable)

	_, err := svc.ReserveNext(context.Background(), []model.JobKind{"echo"})
	assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
}

func TestJobService_Stats(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	svc, _ := newTestJobService(t, repo)

	repo.EXPECT().Stats(gomock.Any(), model.JobKind("echo")).Return(&model.JobStats{Pending: 2}, nil)
	stats, err := svc.Stats(context.Background(), "echo")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pending)

	_, err = svc.Stats(context.Background(), "Bad Kind")
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.Stats(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), `unknown job kind "missing"`)
}

func TestJoinMediaPrefix(t *testing.T) {
	assert.Equal(t, "http://a/media/", joinMediaPrefix("http://a/", "/media/"))
	assert.Equal(t, "http://a/media/", joinMediaPrefix("http://a", "media"))
	assert.Equal(t, "/files/", joinMediaPrefix("", "/files"))
	assert.Equal(t, "http://a/", joinMediaPrefix("http://a", ""))
}

func TestJobService_Validate(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc, _ := newTestJobService(t, mocks.NewMockJobRepository(ctrl))

	tests := []struct {
		name  string
		req   model.CreateJobRequest
		field string
	}{
		{name: "valid", req: model.CreateJobRequest{Kind: "report", Params: json.RawMessage(`{"pages":1}`)}},
		{name: "empty params", req: model.CreateJobRequest{Kind: "echo"}},
		{name: "malformed kind", req: model.CreateJobRequest{Kind: "Not Valid"}, field: "kind"},
		{name: "unregistered kind", req: model.CreateJobRequest{Kind: "missing"}, field: "kind"},
		{name: "bad params", req: model.CreateJobRequest{Kind: "report", Params: json.RawMessage(`{"pages":0}`)}, field: "pages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Validate(tt.req)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperrors.IsValidation(err))
			assert.Contains(t, apperrors.GetFields(err), tt.field)
		})
	}
}
