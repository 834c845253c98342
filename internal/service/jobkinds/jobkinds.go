// Package jobkinds registers the job bodies the task manager runs in the
// background: the countdown report, the assignment notification and the
// HTML email it fans out to.
package jobkinds

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/target/taskmanager-api/internal/core"
	domainjob "github.com/target/taskmanager-api/internal/domain/job"
)

// Deps are the collaborators the job bodies need.
type Deps struct {
	Artifacts core.ArtifactStore
	Tasks     core.TaskRepository
	Mailer    core.Mailer
	Logger    *slog.Logger

	// CountdownMax caps countdown seconds. Zero disables the cap.
	CountdownMax time.Duration
	// NotifyContextExpression is a JMESPath expression projecting a task into
	// the notification template context.
	NotifyContextExpression string
}

const (
	notifyTimeout = 30 * time.Second
	emailTimeout  = 2 * time.Minute
)

// RegisterAll adds every job kind to r.
func RegisterAll(r *domainjob.Registry, deps Deps) error {
	if r == nil {
		return errors.New("job registry is required")
	}
	if deps.Artifacts == nil || deps.Tasks == nil || deps.Mailer == nil {
		return errors.New("artifact store, task repository and mailer are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	projection, err := jmespath.Compile(deps.NotifyContextExpression)
	if err != nil {
		return fmt.Errorf("compile notify context expression: %w", err)
	}

	countdown := &countdownJob{
		artifacts:  deps.Artifacts,
		maxSeconds: int(deps.CountdownMax / time.Second),
		logger:     deps.Logger.With("job_kind", "countdown"),
	}
	notify := &notifyJob{
		tasks:   deps.Tasks,
		project: projection.Search,
		logger:  deps.Logger.With("job_kind", "send_assign_notification"),
	}
	email := &emailJob{mailer: deps.Mailer}

	if err := domainjob.Register(r, countdown.definition()); err != nil {
		return err
	}
	if err := domainjob.Register(r, notify.definition()); err != nil {
		return err
	}
	return domainjob.Register(r, email.definition())
}
