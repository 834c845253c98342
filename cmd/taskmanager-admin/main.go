// Command taskmanager-admin runs maintenance and inspection tasks against the
// job store: migrations, dev fixtures, manual submissions, status lookups and
// retention.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/target/taskmanager-api/config"
	"github.com/target/taskmanager-api/internal/bootstrap"
)

const defaultCommandTimeout = 2 * time.Minute

// app carries what every subcommand needs. open connects lazily so that
// --help and flag errors never touch the network.
type app struct {
	cfg     config.AppConfig
	logger  *slog.Logger
	timeout time.Duration
	open    func(ctx context.Context) (*session, error)
}

// session is one connected set of services.
type session struct {
	services bootstrap.ServiceContainer
	infra    *bootstrap.Infra
}

func (s *session) Close(ctx context.Context, logger *slog.Logger) {
	if err := s.services.Close(); err != nil {
		logger.WarnContext(ctx, "close services failed", "error", err)
	}
	s.infra.Close(ctx, logger)
}

func main() {
	logger := bootstrap.InitLogger(os.Getenv("LOG_LEVEL"))

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	a := &app{cfg: cfg, logger: logger, timeout: defaultCommandTimeout}
	a.open = a.connect

	if err := newRootCommand(a).ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "taskmanager-admin",
		Short:         "Administer the task manager job system",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", a.timeout, "overall command timeout")

	root.AddCommand(
		newMigrateCommand(a),
		newSeedCommand(a),
		newSubmitCommand(a),
		newStatusCommand(a),
		newStatsCommand(a),
		newReapCommand(a),
	)
	return root
}

// connect opens the infrastructure and services for commands that need them.
func (a *app) connect(ctx context.Context) (*session, error) {
	if a.cfg.Jobs.Backend == config.JobBackendMemory {
		return nil, errors.New("the memory job backend is private to the server process")
	}
	infra, err := bootstrap.ConnectInfra(ctx, &a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &a.cfg,
		DB:          infra.DB,
		RedisClient: infra.Redis,
		Logger:      a.logger,
	})
	if err != nil {
		infra.Close(ctx, a.logger)
		return nil, fmt.Errorf("wire services: %w", err)
	}
	return &session{services: services, infra: infra}, nil
}

// withSession runs fn with a connected session under the command timeout.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
	defer cancel()

	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close(ctx, a.logger)
	return fn(ctx, s)
}
