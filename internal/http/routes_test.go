package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/taskmanager-api/config"
	"github.com/target/taskmanager-api/internal/adapters/jobrunner"
	"github.com/target/taskmanager-api/internal/adapters/mailer"
	"github.com/target/taskmanager-api/internal/artifact"
	"github.com/target/taskmanager-api/internal/data"
	domainjob "github.com/target/taskmanager-api/internal/domain/job"
	"github.com/target/taskmanager-api/internal/domain/model"
	"github.com/target/taskmanager-api/internal/mocks"
	"github.com/target/taskmanager-api/internal/service"
	"github.com/target/taskmanager-api/internal/service/jobkinds"
)

type apiHarness struct {
	handler http.Handler
	jobs    *service.JobService
	runner  *jobrunner.Runner
	tasks   *mocks.MockTaskRepository
}

func newAPI(t *testing.T, readyCreated bool) *apiHarness {
	t.Helper()
	ctrl := gomock.NewController(t)
	tasks := mocks.NewMockTaskRepository(ctrl)
	store, err := artifact.NewLocalFS(filepath.Join(t.TempDir(), "media"), nil)
	require.NoError(t, err)

	registry := domainjob.NewRegistry()
	require.NoError(t, jobkinds.RegisterAll(registry, jobkinds.Deps{
		Artifacts:               store,
		Tasks:                   tasks,
		Mailer:                  mailer.NewLogMailer(nil),
		CountdownMax:            (&config.JobsConfig{CountdownMaxSeconds: 3600}).CountdownMax(),
		NotifyContextExpression: config.DefaultNotifyContextExpression,
	}))
	jobs := service.MustNewJobService(service.JobServiceOptions{
		Repo:     data.NewMemoryJobRepo(data.RepoConfig{}),
		Registry: registry,
		BaseURL:  "http://localhost:8000",
		MediaURL: "/media/",
	})
	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{Jobs: jobs})
	require.NoError(t, err)

	return &apiHarness{
		handler: NewRouter(RouterServices{
			Jobs:               jobs,
			Artifacts:          store,
			MediaURL:           "/media/",
			ReadyStatusCreated: readyCreated,
			Metrics:            http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "# metrics") }),
		}),
		jobs:   jobs,
		runner: runner,
		tasks:  tasks,
	}
}

func (a *apiHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *apiHarness) drain(t *testing.T) {
	t.Helper()
	for {
		processed, err := a.runner.RunOnce(context.Background())
		require.NoError(t, err)
		if !processed {
			return
		}
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v))
	return v
}

func TestCountdownLifecycle(t *testing.T) {
	api := newAPI(t, true)

	rec := api.do(t, http.MethodPost, "/api/countdown", `{"seconds":0}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	submitted := decode[SubmitResponse](t, rec)
	require.NotEmpty(t, submitted.TaskID)
	assert.Equal(t, "/jobs/"+submitted.TaskID, rec.Header().Get("Location"))

	rec = api.do(t, http.MethodGet, "/jobs/"+submitted.TaskID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[map[string]any](t, rec)
	assert.Equal(t, "PENDING", pending["status"])
	assert.NotContains(t, pending, "result")

	api.drain(t)

	rec = api.do(t, http.MethodGet, "/jobs/"+submitted.TaskID, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	wantURL := "http://localhost:8000/media/test_report-" + submitted.TaskID + ".data"
	assert.Equal(t, wantURL, rec.Header().Get("Location"))
	view := decode[map[string]any](t, rec)
	assert.Equal(t, "SUCCESS", view["status"])
	assert.Equal(t, wantURL, view["result"])
	assert.Equal(t, submitted.TaskID, view["task_id"])

	rec = api.do(t, http.MethodGet, "/media/test_report-"+submitted.TaskID+".data", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "test data", rec.Body.String())
}

func TestCountdown_SleepDoesNotBlockOtherWorkers(t *testing.T) {
	api := newAPI(t, true)
	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		Jobs:        api.jobs,
		Concurrency: 2,
		WaitWindow:  20 * time.Millisecond,
	})
	require.NoError(t, err)

	submitted := time.Now()
	rec := api.do(t, http.MethodPost, "/api/countdown", `{"seconds":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	countdownID := decode[SubmitResponse](t, rec).TaskID

	rec = api.do(t, http.MethodPost, "/api/jobs/send_html_email",
		`{"subject":"s","html_body":"<p>hi</p>","recipients":["dev@example.com"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	emailID := decode[SubmitResponse](t, rec).TaskID

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	status := func(id string) (int, string) {
		rec := httptest.NewRecorder()
		api.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
		var view struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &view)
		return rec.Code, view.Status
	}

	require.Eventually(t, func() bool {
		_, s := status(countdownID)
		return s == "STARTED"
	}, 900*time.Millisecond, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, s := status(emailID)
		return s == "SUCCESS"
	}, 900*time.Millisecond, 5*time.Millisecond)
	code, s := status(countdownID)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "STARTED", s, "countdown must still be sleeping when the email finishes")

	var ready time.Duration
	require.Eventually(t, func() bool {
		code, _ := status(countdownID)
		if code != http.StatusCreated {
			return false
		}
		ready = time.Since(submitted)
		return true
	}, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, ready, time.Second)

	_, s = status(countdownID)
	assert.Equal(t, "SUCCESS", s)
}

func TestCountdown_ReadyStatusCreatedDisabled(t *testing.T) {
	api := newAPI(t, false)
	rec := api.do(t, http.MethodPost, "/api/countdown", `{"seconds":0}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[SubmitResponse](t, rec).TaskID
	api.drain(t)

	rec = api.do(t, http.MethodGet, "/jobs/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		body  string
		field string
	}{
		{name: "negative seconds", path: "/api/countdown", body: `{"seconds":-1}`, field: "seconds"},
		{name: "string seconds", path: "/api/countdown", body: `{"seconds":"ten"}`, field: "seconds"},
		{name: "missing seconds", path: "/api/countdown", body: ``, field: "seconds"},
		{name: "too many seconds", path: "/api/countdown", body: `{"seconds":3601}`, field: "seconds"},
		{name: "invalid json", path: "/api/countdown", body: `{"seconds":`, field: "params"},
		{name: "non numeric task", path: "/api/tasks/abc/notify", field: "task_id"},
		{name: "zero task", path: "/api/tasks/0/notify", field: "task_id"},
		{name: "unknown kind", path: "/api/jobs/nope", body: `{}`, field: "kind"},
		{name: "email without recipients", path: "/api/jobs/send_html_email", body: `{"subject":"s","recipients":[]}`, field: "recipients"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newAPI(t, true)
			rec := api.do(t, http.MethodPost, tt.path, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "validation_error", resp.Error)
			assert.NotEmpty(t, resp.Message)
			assert.Contains(t, resp.Fields, tt.field)

			stats, err := api.jobs.Stats(context.Background(), "")
			require.NoError(t, err)
			assert.Zero(t, stats.Total(), "rejected submissions must not create records")
		})
	}
}

func TestSubmitValidation_InvalidJSONMessage(t *testing.T) {
	api := newAPI(t, true)
	rec := api.do(t, http.MethodPost, "/api/countdown", `{"seconds":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "params must be valid JSON", resp.Message)
	assert.Equal(t, []string{"must be valid JSON"}, resp.Fields["params"])
}

func TestStatus_NotFound(t *testing.T) {
	api := newAPI(t, true)
	for _, id := range []string{"0b7e6a52-4c1e-4d43-9a55-6f3c2d1e0a11", "not-a-uuid"} {
		rec := api.do(t, http.MethodGet, "/jobs/"+id, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"job_not_found"}`, rec.Body.String())
	}
}

func TestNotifyLifecycle(t *testing.T) {
	api := newAPI(t, true)
	api.tasks.EXPECT().GetByID(gomock.Any(), int64(5)).Return(&model.Task{
		ID:       5,
		Name:     "Review",
		Executor: model.User{FirstName: "Grace", Email: "grace@example.com"},
	}, nil)
	api.tasks.EXPECT().GetByID(gomock.Any(), int64(6)).Return(nil, data.ErrTaskNotFound)

	rec := api.do(t, http.MethodPost, "/api/tasks/5/notify", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	okID := decode[SubmitResponse](t, rec).TaskID

	rec = api.do(t, http.MethodPost, "/api/tasks/6/notify", "")
	require.Equal(t, http.StatusCreated, rec.Code, "task existence is checked by the worker")
	missingID := decode[SubmitResponse](t, rec).TaskID

	api.drain(t)

	rec = api.do(t, http.MethodGet, "/jobs/"+okID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[model.JobView](t, rec)
	assert.Equal(t, model.JobStatusSuccess, view.Status)
	require.NotNil(t, view.Result)

	rec = api.do(t, http.MethodGet, "/jobs/"+*view.Result, "")
	require.Equal(t, http.StatusOK, rec.Code, "email jobs are not artifacts")
	email := decode[model.JobView](t, rec)
	assert.Equal(t, model.JobStatusSuccess, email.Status)
	assert.Equal(t, jobkinds.EmailResult, *email.Result)

	rec = api.do(t, http.MethodGet, "/jobs/"+missingID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	failed := decode[model.JobView](t, rec)
	assert.Equal(t, model.JobStatusFailure, failed.Status)
	assert.Equal(t, []string{"task 6 does not exist"}, failed.Errors)
	assert.Nil(t, failed.Result)
}

func TestStatsAndKinds(t *testing.T) {
	api := newAPI(t, true)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/countdown", `{"seconds":0}`).Code)
	require.Equal(t, http.StatusCreated, api.do(t, http.MethodPost, "/api/jobs/countdown", `{"seconds":1}`).Code)

	rec := api.do(t, http.MethodGet, "/api/jobs/stats?kind=countdown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	assert.Equal(t, model.JobKindCountdown, stats.Kind)
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 2, stats.Total)

	rec = api.do(t, http.MethodGet, "/api/jobs/stats?kind=Bad%20Kind", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/jobs/kinds", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"kinds":["countdown","send_assign_notification","send_html_email"]}`, rec.Body.String())
}

func TestMediaAndMetricsRoutes(t *testing.T) {
	api := newAPI(t, true)

	rec := api.do(t, http.MethodGet, "/media/missing.data", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/media/..%2Fsecret", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())

	rec = api.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMediaPrefix(t *testing.T) {
	assert.Equal(t, "/media/", mediaPrefix(""))
	assert.Equal(t, "/media/", mediaPrefix("/media"))
	assert.Equal(t, "/files/out/", mediaPrefix("files/out/"))
}
