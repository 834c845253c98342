package jobkinds

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/target/taskmanager-api/internal/core"
	domainjob "github.com/target/taskmanager-api/internal/domain/job"
	"github.com/target/taskmanager-api/internal/domain/model"
	apperrors "github.com/target/taskmanager-api/internal/errors"
)

// EmailResult is stored on send_html_email jobs that delivered their message.
const EmailResult = "sent"

// EmailParams are the parameters of a send_html_email job.
type EmailParams struct {
	Subject    string   `json:"subject"`
	HTMLBody   string   `json:"html_body"`
	Recipients []string `json:"recipients"`
}

// Validate implements domainjob.Validator.
func (p EmailParams) Validate() error {
	fs := apperrors.FieldSet{}
	switch {
	case strings.TrimSpace(p.Subject) == "":
		fs.Add("subject", "is required")
	case strings.ContainsAny(p.Subject, "\r\n"):
		fs.Add("subject", "must be a single line")
	}
	if len(p.Recipients) == 0 {
		fs.Add("recipients", "must not be empty")
	}
	for i, r := range p.Recipients {
		if _, err := mail.ParseAddress(r); err != nil {
			fs.Add("recipients", fmt.Sprintf("item %d is not a valid address", i))
		}
	}
	return fs.Err()
}

type emailJob struct {
	mailer core.Mailer
}

func (j *emailJob) definition() domainjob.Definition[EmailParams] {
	return domainjob.Definition[EmailParams]{
		Kind:    model.JobKindHTMLEmail,
		Timeout: emailTimeout,
		Handler: j.run,
	}
}

func (j *emailJob) run(ctx context.Context, _ domainjob.Invocation, p EmailParams) (domainjob.Outcome, error) {
	err := j.mailer.Send(ctx, model.Email{
		Subject:    p.Subject,
		HTMLBody:   p.HTMLBody,
		Recipients: p.Recipients,
	})
	if err != nil {
		return domainjob.Outcome{}, fmt.Errorf("send email: %w", err)
	}
	return domainjob.Outcome{Result: EmailResult}, nil
}
