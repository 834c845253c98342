package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/target/taskmanager-api/internal/adapters/reaper"
	"github.com/target/taskmanager-api/internal/bootstrap"
	"github.com/target/taskmanager-api/internal/data"
	"github.com/target/taskmanager-api/internal/devseed"
	"github.com/target/taskmanager-api/internal/domain/model"
)

const defaultMigrationTimeout = 5 * time.Minute

func newMigrateCommand(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout := max(a.timeout, defaultMigrationTimeout)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{DBConfig: a.cfg.Postgres, Logger: a.logger})
			if err != nil {
				return fmt.Errorf("connect db: %w", err)
			}
			defer func() {
				if cerr := db.Close(); cerr != nil {
					a.logger.Warn("db close failed", "error", cerr)
				}
			}()

			pending, err := data.PendingMigrations(ctx, db)
			if err != nil {
				return err
			}
			if err := printPending(cmd.OutOrStdout(), pending); err != nil {
				return err
			}
			if dryRun || len(pending) == 0 {
				return nil
			}
			return bootstrap.RunMigrations(ctx, db, a.logger)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list pending migrations without applying them")
	return cmd
}

func newSeedCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load development users, tags and tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			defer cancel()

			db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{DBConfig: a.cfg.Postgres, Logger: a.logger})
			if err != nil {
				return fmt.Errorf("connect db: %w", err)
			}
			defer func() {
				if cerr := db.Close(); cerr != nil {
					a.logger.Warn("db close failed", "error", cerr)
				}
			}()

			res, err := devseed.Run(ctx, db, a.logger)
			if err != nil {
				return err
			}
			if output == outputText {
				return writeSeeded(cmd.OutOrStdout(), res.Tasks)
			}
			return render(cmd.OutOrStdout(), output, res.Tasks, nil)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, json or yaml")
	return cmd
}

func newSubmitCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job",
	}
	cmd.PersistentFlags().StringVarP(&output, "output", "o", outputText, "output format: text, json or yaml")

	var seconds int
	countdown := &cobra.Command{
		Use:   "countdown",
		Short: "Submit a countdown that writes a report artifact",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := json.Marshal(map[string]int{"seconds": seconds})
			if err != nil {
				return err
			}
			return a.submit(cmd, output, model.JobKindCountdown, params)
		},
	}
	countdown.Flags().IntVar(&seconds, "seconds", 0, "countdown length in seconds")
	_ = countdown.MarkFlagRequired("seconds")

	var taskID int64
	notify := &cobra.Command{
		Use:   "notify",
		Short: "Email the executor of a task about the assignment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := json.Marshal(map[string]int64{"task_id": taskID})
			if err != nil {
				return err
			}
			return a.submit(cmd, output, model.JobKindAssignNotification, params)
		},
	}
	notify.Flags().Int64Var(&taskID, "task-id", 0, "id of the assigned task")
	_ = notify.MarkFlagRequired("task-id")

	cmd.AddCommand(countdown, notify)
	return cmd
}

func (a *app) submit(cmd *cobra.Command, output string, kind model.JobKind, params json.RawMessage) error {
	if err := checkOutput(output); err != nil {
		return err
	}
	return a.withSession(cmd, func(ctx context.Context, s *session) error {
		job, err := s.services.Jobs.Submit(ctx, kind, params)
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), output, submitted{TaskID: job.ID, Kind: job.Kind}, func() string {
			return job.ID
		})
	})
}

type submitted struct {
	TaskID string        `json:"task_id" yaml:"task_id"`
	Kind   model.JobKind `json:"kind"    yaml:"kind"`
}

func newStatusCommand(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				view, err := s.services.Jobs.Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), output, view, func() string { return viewText(view) })
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, json or yaml")
	return cmd
}

func newStatsCommand(a *app) *cobra.Command {
	var (
		output string
		kind   string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count jobs per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				kinds := s.services.Jobs.Kinds()
				if kind != "" {
					kinds = []model.JobKind{model.JobKind(kind)}
				}
				rows := make([]statsRow, 0, len(kinds))
				for _, k := range kinds {
					stats, err := s.services.Jobs.Stats(ctx, k)
					if err != nil {
						return err
					}
					rows = append(rows, statsRow{Kind: k, JobStats: *stats, Total: stats.Total()})
				}
				if output == outputText {
					return writeStatsTable(cmd.OutOrStdout(), rows)
				}
				return render(cmd.OutOrStdout(), output, rows, nil)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputText, "output format: text, json or yaml")
	cmd.Flags().StringVar(&kind, "kind", "", "restrict to one job kind")
	return cmd
}

type statsRow struct {
	Kind           model.JobKind `json:"kind" yaml:"kind"`
	model.JobStats `yaml:",inline"`
	Total          int `json:"total" yaml:"total"`
}

func newReapCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Run one retention pass over the job store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				runner, err := reaper.NewRunner(reaper.RunnerOptions{
					Repo:   s.services.JobStore,
					Config: a.cfg.Reaper,
					Logger: a.logger,
				})
				if err != nil {
					return err
				}
				report, err := runner.RunOnce(ctx)
				if werr := writeReport(cmd.OutOrStdout(), report); werr != nil {
					return werr
				}
				return err
			})
		},
	}
}
