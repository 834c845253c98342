package jobkinds

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/taskmanager-api/internal/core"
	domainjob "github.com/target/taskmanager-api/internal/domain/job"
	"github.com/target/taskmanager-api/internal/domain/model"
	apperrors "github.com/target/taskmanager-api/internal/errors"
)

// countdownReport is the artifact body every countdown writes.
var countdownReport = []byte("test data")

// CountdownParams are the parameters of a countdown job.
type CountdownParams struct {
	Seconds *int `json:"seconds"`
}

// Validate implements domainjob.Validator.
func (p CountdownParams) Validate() error {
	fs := apperrors.FieldSet{}
	switch {
	case p.Seconds == nil:
		fs.Add("seconds", "is required")
	case *p.Seconds < 0:
		fs.Add("seconds", "must be zero or greater")
	}
	return fs.Err()
}

// ReportName is the artifact name a countdown job writes.
func ReportName(jobID string) string {
	return fmt.Sprintf("test_report-%s.data", jobID)
}

type countdownJob struct {
	artifacts  core.ArtifactStore
	maxSeconds int
	logger     *slog.Logger
}

func (j *countdownJob) definition() domainjob.Definition[CountdownParams] {
	return domainjob.Definition[CountdownParams]{
		Kind:     model.JobKindCountdown,
		Artifact: true,
		Handler:  j.run,
		Check:    j.check,
	}
}

func (j *countdownJob) check(p CountdownParams) error {
	if j.maxSeconds > 0 && *p.Seconds > j.maxSeconds {
		return apperrors.ValidationField("seconds", fmt.Sprintf("must be at most %d", j.maxSeconds))
	}
	return nil
}

func (j *countdownJob) run(ctx context.Context, inv domainjob.Invocation, p CountdownParams) (domainjob.Outcome, error) {
	if err := sleep(ctx, time.Duration(*p.Seconds)*time.Second); err != nil {
		return domainjob.Outcome{}, err
	}

	ref, err := j.artifacts.Save(ctx, ReportName(inv.JobID), countdownReport)
	if err != nil {
		return domainjob.Outcome{}, fmt.Errorf("save countdown report: %w", err)
	}
	j.logger.InfoContext(ctx, "countdown finished", "job_id", inv.JobID, "seconds", *p.Seconds, "artifact", ref)
	return domainjob.Outcome{Result: ref}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
