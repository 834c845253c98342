package failurenotifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/target/taskmanager-api/internal/observability/notify"
)

type capture struct {
	mu     sync.Mutex
	alerts []notify.JobFailure
}

func (c *capture) sink() notify.Sink {
	return notify.SinkFunc(func(_ context.Context, alert notify.JobFailure) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.alerts = append(c.alerts, alert)
		return nil
	})
}

func TestServiceNotifyJobFailure(t *testing.T) {
	var a, b capture
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{Name: "a", Sink: a.sink()},
			{Name: "b", Sink: b.sink()},
			{Name: "nil"},
		},
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailure{
		JobID: "123",
		Kind:  "countdown",
	})

	if len(a.alerts) != 1 || len(b.alerts) != 1 {
		t.Fatalf("expected one alert per sink, got %d and %d", len(a.alerts), len(b.alerts))
	}
	if a.alerts[0].Severity != notify.SeverityCritical {
		t.Fatalf("expected severity to default to critical, got %s", a.alerts[0].Severity)
	}
}

func TestServiceKeepsExplicitSeverity(t *testing.T) {
	var c capture
	svc := NewService(Options{Sinks: []SinkRegistration{{Sink: c.sink()}}})

	svc.NotifyJobFailure(context.Background(), notify.JobFailure{JobID: "1", Severity: notify.SeverityWarning})

	if c.alerts[0].Severity != notify.SeverityWarning {
		t.Fatalf("expected warning severity, got %s", c.alerts[0].Severity)
	}
}

func TestServiceDisabled(t *testing.T) {
	if NewService(Options{}).Enabled() {
		t.Fatal("expected Enabled() to be false when no sinks registered")
	}
	var nilSvc *Service
	if nilSvc.Enabled() {
		t.Fatal("expected nil service to be disabled")
	}
	nilSvc.NotifyJobFailure(context.Background(), notify.JobFailure{JobID: "1"})
}

func TestServiceLogsErrors(t *testing.T) {
	var c capture
	svc := NewService(Options{
		Sinks: []SinkRegistration{
			{
				Name: "fail",
				Sink: notify.SinkFunc(func(context.Context, notify.JobFailure) error {
					return errors.New("boom")
				}),
			},
			{Name: "ok", Sink: c.sink()},
		},
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailure{JobID: "123"})

	if len(c.alerts) != 1 {
		t.Fatalf("expected healthy sink to receive the alert, got %d", len(c.alerts))
	}
}

func TestServiceFiltersKinds(t *testing.T) {
	var c capture
	svc := NewService(Options{
		Sinks: []SinkRegistration{{Name: "capture", Sink: c.sink()}},
		Kinds: []string{"send_html_email"},
	})

	svc.NotifyJobFailure(context.Background(), notify.JobFailure{JobID: "1", Kind: "countdown"})
	svc.NotifyJobFailure(context.Background(), notify.JobFailure{JobID: "2", Kind: "send_html_email"})

	if len(c.alerts) != 1 || c.alerts[0].JobID != "2" {
		t.Fatalf("expected only the watched kind to alert, got %+v", c.alerts)
	}
}
