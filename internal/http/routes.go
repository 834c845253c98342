package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/target/taskmanager-api/internal/core"
	"github.com/target/taskmanager-api/internal/service"
)

// RouterServices holds everything the HTTP router serves.
type RouterServices struct {
	Jobs      *service.JobService
	Artifacts core.ArtifactStore

	// MediaURL is the path prefix artifacts are served under, e.g. "/media/".
	MediaURL           string
	ReadyStatusCreated bool

	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string

	// HealthCheck backs /healthz when set.
	HealthCheck func(ctx context.Context) error
	Logger      *slog.Logger
}

// NewRouter builds the API mux. Middleware is applied by the caller.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, withRoute(pattern, h))
	}

	jobs := &JobHandlers{Svc: services.Jobs, Logger: logger, ReadyStatusCreated: services.ReadyStatusCreated}
	registerJobRoutes(handle, jobs)

	if services.Artifacts != nil {
		media := &MediaHandlers{Store: services.Artifacts, Logger: logger}
		prefix := mediaPrefix(services.MediaURL)
		handle("GET "+prefix+"{name}", http.HandlerFunc(media.Serve))
	}

	health := &HealthHandler{Check: services.HealthCheck, Logger: logger}
	handle("GET /healthz", health)

	if services.Metrics != nil {
		path := services.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		handle("GET "+path, services.Metrics)
	}

	return mux
}

func registerJobRoutes(handle func(string, http.Handler), h *JobHandlers) {
	handle("POST /api/countdown", http.HandlerFunc(h.StartCountdown))
	handle("POST /api/tasks/{id}/notify", http.HandlerFunc(h.NotifyAssignee))
	handle("GET /api/jobs/stats", http.HandlerFunc(h.Stats))
	handle("GET /api/jobs/kinds", http.HandlerFunc(h.Kinds))
	handle("POST /api/jobs/{kind}", http.HandlerFunc(h.Submit))
	handle("GET /jobs/{task_id}", http.HandlerFunc(h.Status))
}

func mediaPrefix(mediaURL string) string {
	p := "/" + strings.Trim(mediaURL, "/") + "/"
	if p == "//" {
		return "/media/"
	}
	return p
}
