// Package reaper runs job retention as a long-lived service or as a single pass.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/taskmanager-api/config"
	"github.com/target/taskmanager-api/internal/core"
	"github.com/target/taskmanager-api/internal/observability/statsd"
	"github.com/target/taskmanager-api/internal/service"
)

// Runner wraps a ReaperService for the service supervisor and the admin CLI.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner. Repo is any
// job store that supports retention (postgres, redis or memory).
type RunnerOptions struct {
	Repo    core.ReaperRepository
	Config  config.ReaperConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Repo == nil {
		return nil, errors.New("reaper repository is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	svc, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:    opts.Repo,
		Config:  opts.Config,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{reaper: svc, logger: opts.Logger.With("component", "reaper_runner")}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}

// RunOnce performs a single cleanup pass.
func (r *Runner) RunOnce(ctx context.Context) (service.ReapReport, error) {
	report, err := r.reaper.RunOnce(ctx)
	r.logger.InfoContext(ctx, "reaper pass finished", "rows", report.Total(), "error", err)
	return report, err
}
