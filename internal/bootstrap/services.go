package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/taskmanager-api/config"
	"github.com/target/taskmanager-api/internal/adapters/jobrunner"
	"github.com/target/taskmanager-api/internal/adapters/mailer"
	"github.com/target/taskmanager-api/internal/adapters/reaper"
	"github.com/target/taskmanager-api/internal/artifact"
	"github.com/target/taskmanager-api/internal/core"
	"github.com/target/taskmanager-api/internal/data"
	domainjob "github.com/target/taskmanager-api/internal/domain/job"
	"github.com/target/taskmanager-api/internal/observability/metrics"
	"github.com/target/taskmanager-api/internal/observability/notify/pagerduty"
	"github.com/target/taskmanager-api/internal/observability/notify/slack"
	"github.com/target/taskmanager-api/internal/observability/statsd"
	"github.com/target/taskmanager-api/internal/service"
	"github.com/target/taskmanager-api/internal/service/failurenotifier"
	"github.com/target/taskmanager-api/internal/service/jobkinds"
)

// JobStore is a job backend that also supports retention.
type JobStore interface {
	core.JobRepository
	core.ReaperRepository
}

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs      *service.JobService
	JobStore  JobStore
	Artifacts core.ArtifactStore

	// HealthCheck pings the stores the process depends on.
	HealthCheck func(ctx context.Context) error

	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	// Sink fans out to StatsD and Prometheus.
	Sink     statsd.Sink
	StatsD   *statsd.Client
	Gatherer prometheus.Gatherer

	FailureNotifier *failurenotifier.Service
}

// Close releases observability resources.
func (c ServiceContainer) Close() error {
	if c.Observability.StatsD != nil {
		return c.Observability.StatsD.Close()
	}
	return nil
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the StatsD client and the Prometheus
// registry and joins them into one sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	var (
		out   ObservabilityContainer
		sinks []statsd.Sink
	)

	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  logger,
		})
		if err != nil {
			logger.Error("failed to initialise statsd client", "error", err)
		} else {
			out.StatsD = client
			sinks = append(sinks, client)
		}
	}

	if cfg.Prometheus.Enabled {
		reg := newPrometheusRegistry()
		out.Gatherer = reg
		sinks = append(sinks, metrics.NewPrometheusSink(reg, cfg.Prometheus.Namespace, logger))
	}

	out.Sink = metrics.NewMultiSink(sinks...)
	out.FailureNotifier = buildFailureNotifier(logger, cfg.Notifications)
	return out
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	var sinks []failurenotifier.SinkRegistration

	if cfg.SlackEnabled() {
		client, err := slack.NewClient(slack.Config{
			WebhookURL: cfg.SlackWebhookURL,
			Channel:    cfg.SlackChannel,
			Username:   cfg.SlackUsername,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("failed to initialise slack alerts", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDutyEnabled() {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDutyRoutingKey,
			Source:     cfg.PagerDutySource,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("failed to initialise pagerduty alerts", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	return failurenotifier.NewService(failurenotifier.Options{
		Logger: logger,
		Sinks:  sinks,
		Kinds:  cfg.Kinds,
	})
}

// newJobStore selects the job backend named by JOBS_BACKEND.
//
//nolint:ireturn // the backend is chosen at runtime.
func newJobStore(cfg *config.AppConfig, db *sql.DB, rdb redis.UniversalClient, logger *slog.Logger) (JobStore, error) {
	switch cfg.Jobs.Backend {
	case config.JobBackendPostgres, "":
		if db == nil {
			return nil, errors.New("postgres job backend requires a database connection")
		}
		return data.NewJobRepo(db, data.RepoConfig{Logger: logger}), nil
	case config.JobBackendRedis:
		if rdb == nil {
			return nil, errors.New("redis job backend requires a redis connection")
		}
		return data.NewRedisJobRepo(rdb, data.RedisJobRepoOptions{
			Prefix:    cfg.Jobs.RedisPrefix,
			ResultTTL: cfg.Jobs.ResultTTL,
			Logger:    logger,
		}), nil
	case config.JobBackendMemory:
		return data.NewMemoryJobRepo(data.RepoConfig{Logger: logger}), nil
	default:
		return nil, fmt.Errorf("unknown job backend %q", cfg.Jobs.Backend)
	}
}

// newStatusCache returns the configured status cache tier, or nil when the
// cache is disabled.
//
//nolint:ireturn // the tier is chosen at runtime.
func newStatusCache(cfg *config.AppConfig, rdb redis.UniversalClient) core.CacheRepository {
	switch {
	case cfg.Jobs.StatusCacheTTL <= 0:
		return nil
	case cfg.Jobs.StatusCacheLocalSize > 0:
		return data.NewLocalCacheRepo(data.LocalCacheConfig{Capacity: cfg.Jobs.StatusCacheLocalSize})
	case rdb != nil:
		return data.NewRedisCacheRepo(rdb, cfg.Jobs.RedisPrefix)
	default:
		return nil
	}
}

// NewServices wires the job system: store, registry and job bodies, and the
// dispatcher with its optional status cache.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.DB == nil {
		return ServiceContainer{}, errors.New("database connection is required for the task repository")
	}

	obs := buildObservability(logger, cfg.Observability)

	store, err := newJobStore(cfg, deps.DB, deps.RedisClient, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	artifacts, err := artifact.NewLocalFS(cfg.Media.Root, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("artifact store: %w", err)
	}

	mail, err := mailer.New(cfg.Mail, logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("mailer: %w", err)
	}

	registry := domainjob.NewRegistry()
	if err = jobkinds.RegisterAll(registry, jobkinds.Deps{
		Artifacts:               artifacts,
		Tasks:                   data.NewTaskRepo(deps.DB),
		Mailer:                  mail,
		Logger:                  logger,
		CountdownMax:            cfg.Jobs.CountdownMax(),
		NotifyContextExpression: cfg.Mail.NotifyContextExpression,
	}); err != nil {
		return ServiceContainer{}, fmt.Errorf("register job kinds: %w", err)
	}

	opts := service.JobServiceOptions{
		Repo:            store,
		Registry:        registry,
		Logger:          logger,
		NotifierOptions: domainjob.NotifierOptions{WaitWindow: cfg.Worker.WaitWindow},
		BaseURL:         cfg.HTTP.BaseURL,
		MediaURL:        cfg.Media.URL,
		Metrics:         obs.Sink,
	}
	if cache := newStatusCache(cfg, deps.RedisClient); cache != nil {
		opts.Cache = cache
		opts.CacheTTL = cfg.Jobs.StatusCacheTTL
	}
	jobs, err := service.NewJobService(opts)
	if err != nil {
		return ServiceContainer{}, err
	}

	return ServiceContainer{
		Jobs:          jobs,
		JobStore:      store,
		Artifacts:     artifacts,
		HealthCheck:   healthCheck(deps.DB, deps.RedisClient),
		Observability: obs,
	}, nil
}

func healthCheck(db *sql.DB, rdb redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// backgroundService describes a long-running component started under the
// supervisor.
type backgroundService struct {
	mode config.ServiceMode
	name string
	run  func(context.Context) error
}

func buildBackgroundServices(cfg *ServiceOrchestrationConfig, logger *slog.Logger) ([]backgroundService, error) {
	appCfg := cfg.Config
	var out []backgroundService

	if appCfg.IsWorkerEnabled() {
		opts := jobrunner.RunnerOptions{
			Jobs:        cfg.Services.Jobs,
			Logger:      logger,
			Concurrency: appCfg.Worker.Concurrency,
			Kinds:       appCfg.Worker.Kinds,
			WaitWindow:  appCfg.Worker.WaitWindow,
			Metrics:     cfg.Services.Observability.Sink,
		}
		if notifier := cfg.Services.Observability.FailureNotifier; notifier.Enabled() {
			opts.Alerts = notifier
			opts.StatusBaseURL = appCfg.HTTP.BaseURL
		}
		runner, err := jobrunner.NewRunner(opts)
		if err != nil {
			return nil, fmt.Errorf("create job runner: %w", err)
		}
		out = append(out, backgroundService{mode: config.ServiceModeWorker, name: "job runner", run: runner.Run})
	}

	if appCfg.IsReaperEnabled() {
		runner, err := reaper.NewRunner(reaper.RunnerOptions{
			Repo:    cfg.Services.JobStore,
			Config:  appCfg.Reaper,
			Logger:  logger,
			Metrics: cfg.Services.Observability.Sink,
		})
		if err != nil {
			return nil, fmt.Errorf("create reaper: %w", err)
		}
		out = append(out, backgroundService{mode: config.ServiceModeReaper, name: "reaper", run: runner.Run})
	}

	return out, nil
}

// RunServicesWithShutdown starts all enabled services and blocks until a
// shutdown signal arrives or one of them fails.
func RunServicesWithShutdown(ctx context.Context, cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return superviseServices(ctx, cfg, logger)
}

// superviseServices runs every enabled service until ctx ends or one fails,
// then stops the rest.
func superviseServices(ctx context.Context, cfg *ServiceOrchestrationConfig, logger *slog.Logger) error {
	background, err := buildBackgroundServices(cfg, logger)
	if err != nil {
		return err
	}

	var server *HTTPServer
	if cfg.Config.IsHTTPServerEnabled() {
		server, err = NewHTTPServer(&HTTPServerConfig{Config: cfg.Config, Services: cfg.Services, Logger: logger})
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if server != nil {
		g.Go(func() error { return server.Serve(logger) })
		g.Go(func() error {
			<-gctx.Done()
			return ShutdownHTTPServer(ShutdownConfig{
				Timeout: cfg.Config.HTTP.ShutdownTimeout,
				Server:  server.Server,
				Logger:  logger,
			})
		})
	}

	for _, svc := range background {
		g.Go(func() error {
			logger.InfoContext(gctx, "background service started", "service", svc.name, "mode", svc.mode)
			if runErr := svc.run(gctx); runErr != nil {
				return fmt.Errorf("%s failed: %w", svc.name, runErr)
			}
			logger.InfoContext(gctx, svc.name+" stopped")
			return nil
		})
	}

	<-gctx.Done()
	if ctx.Err() != nil {
		logger.Info("shutting down services...")
	}
	err = g.Wait()
	if cfg.Services.Jobs != nil {
		cfg.Services.Jobs.StopAllListeners()
	}
	if err != nil {
		logger.Error("service error", "error", err)
	}
	return err
}
