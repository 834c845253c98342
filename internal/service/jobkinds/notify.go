package jobkinds

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/target/taskmanager-api/internal/core"
	"github.com/target/taskmanager-api/internal/data"
	domainjob "github.com/target/taskmanager-api/internal/domain/job"
	"github.com/target/taskmanager-api/internal/domain/model"
	apperrors "github.com/target/taskmanager-api/internal/errors"
)

// AssignSubject is the subject of the task assignment email.
const AssignSubject = "You've assigned a task."

//go:embed templates/*.html
var templateFS embed.FS

var notificationTemplate = template.Must(template.ParseFS(templateFS, "templates/notification.html"))

// NotifyParams are the parameters of a send_assign_notification job.
type NotifyParams struct {
	TaskID int64 `json:"task_id"`
}

// Validate implements domainjob.Validator.
func (p NotifyParams) Validate() error {
	fs := apperrors.FieldSet{}
	switch {
	case p.TaskID == 0:
		fs.Add("task_id", "is required")
	case p.TaskID < 0:
		fs.Add("task_id", "must be greater than zero")
	}
	return fs.Err()
}

type notifyJob struct {
	tasks   core.TaskRepository
	project func(data any) (any, error)
	logger  *slog.Logger
}

func (j *notifyJob) definition() domainjob.Definition[NotifyParams] {
	return domainjob.Definition[NotifyParams]{
		Kind:    model.JobKindAssignNotification,
		Timeout: notifyTimeout,
		Handler: j.run,
	}
}

func (j *notifyJob) run(ctx context.Context, inv domainjob.Invocation, p NotifyParams) (domainjob.Outcome, error) {
	task, err := j.tasks.GetByID(ctx, p.TaskID)
	if errors.Is(err, data.ErrTaskNotFound) {
		return domainjob.Outcome{}, fmt.Errorf("task %d does not exist", p.TaskID)
	}
	if err != nil {
		return domainjob.Outcome{}, fmt.Errorf("load task %d: %w", p.TaskID, err)
	}
	recipient := strings.TrimSpace(task.Executor.Email)
	if recipient == "" {
		return domainjob.Outcome{}, fmt.Errorf("executor of task %d has no email address", p.TaskID)
	}

	body, err := j.render(task)
	if err != nil {
		return domainjob.Outcome{}, err
	}

	params, err := json.Marshal(EmailParams{
		Subject:    AssignSubject,
		HTMLBody:   body,
		Recipients: []string{recipient},
	})
	if err != nil {
		return domainjob.Outcome{}, fmt.Errorf("encode email params: %w", err)
	}

	j.logger.DebugContext(ctx, "assignment notification rendered", "job_id", inv.JobID, "task_id", p.TaskID)
	return domainjob.Outcome{
		Enqueue: []model.CreateJobRequest{{Kind: model.JobKindHTMLEmail, Params: params}},
	}, nil
}

// render projects task through the configured expression and executes the
// notification template with the result as .Task.
func (j *notifyJob) render(task *model.Task) (string, error) {
	raw, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("decode task: %w", err)
	}
	projected, err := j.project(doc)
	if err != nil {
		return "", fmt.Errorf("project task context: %w", err)
	}

	var buf bytes.Buffer
	if err := notificationTemplate.Execute(&buf, struct{ Task any }{Task: projected}); err != nil {
		return "", fmt.Errorf("render notification: %w", err)
	}
	return buf.String(), nil
}
