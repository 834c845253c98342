package config

import (
	"reflect"
	"strings"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"

	"github.com/target/taskmanager-api/internal/domain/model"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    map[ServiceMode]bool
		expectError bool
	}{
		{
			name:     "single service - http",
			input:    "http",
			expected: map[ServiceMode]bool{ServiceModeHTTP: true},
		},
		{
			name:     "single service - worker",
			input:    "worker",
			expected: map[ServiceMode]bool{ServiceModeWorker: true},
		},
		{
			name:  "all services with spaces",
			input: " http , worker , reaper ",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeWorker: true,
				ServiceModeReaper: true,
			},
		},
		{
			name:  "duplicate services",
			input: "worker,worker,http",
			expected: map[ServiceMode]bool{
				ServiceModeHTTP:   true,
				ServiceModeWorker: true,
			},
		},
		{name: "empty string", input: "", expectError: true},
		{name: "only spaces and commas", input: " , , ", expectError: true},
		{name: "invalid service name", input: "http,scheduler", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseServices(tt.input)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestConfig_ServiceEnabledMethods(t *testing.T) {
	tests := []struct {
		name           string
		services       string
		expectedHTTP   bool
		expectedWorker bool
		expectedReaper bool
	}{
		{name: "http only", services: "http", expectedHTTP: true},
		{name: "worker and reaper", services: "worker,reaper", expectedWorker: true, expectedReaper: true},
		{name: "all", services: "http,worker,reaper", expectedHTTP: true, expectedWorker: true, expectedReaper: true},
		{name: "invalid configuration disables everything", services: "http,bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{Services: tt.services}

			if got := cfg.IsHTTPServerEnabled(); got != tt.expectedHTTP {
				t.Errorf("IsHTTPServerEnabled(): expected %v, got %v", tt.expectedHTTP, got)
			}
			if got := cfg.IsWorkerEnabled(); got != tt.expectedWorker {
				t.Errorf("IsWorkerEnabled(): expected %v, got %v", tt.expectedWorker, got)
			}
			if got := cfg.IsReaperEnabled(); got != tt.expectedReaper {
				t.Errorf("IsReaperEnabled(): expected %v, got %v", tt.expectedReaper, got)
			}
		})
	}
}

func TestAppConfig_ParseEnvDefaults(t *testing.T) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Jobs.Backend != JobBackendPostgres {
		t.Errorf("expected postgres backend, got %q", cfg.Jobs.Backend)
	}
	if !cfg.Jobs.ReadyStatusCreated {
		t.Errorf("expected ReadyStatusCreated to default to true")
	}
	if cfg.Jobs.CountdownMaxSeconds != 3600 {
		t.Errorf("expected countdown max 3600, got %d", cfg.Jobs.CountdownMaxSeconds)
	}
	if cfg.Worker.Concurrency != 2 {
		t.Errorf("expected concurrency 2, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Media.URL != "/media/" || cfg.Media.Root != "./media" {
		t.Errorf("unexpected media config: %+v", cfg.Media)
	}
	if cfg.Mail.NotifyContextExpression != DefaultNotifyContextExpression {
		t.Errorf("expected default notify expression, got %q", cfg.Mail.NotifyContextExpression)
	}
	if cfg.Postgres.Name != "taskmanager" {
		t.Errorf("expected database name taskmanager, got %q", cfg.Postgres.Name)
	}
}

func TestAppConfig_ParseJobEnv(t *testing.T) {
	t.Setenv("JOBS_BACKEND", "Redis")
	t.Setenv("JOBS_READY_STATUS_CREATED", "false")
	t.Setenv("WORKER_KINDS", "countdown,send_html_email")
	t.Setenv("WORKER_CONCURRENCY", "0")
	t.Setenv("MEDIA_URL", "artifacts")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.Jobs.Backend != JobBackendRedis {
		t.Errorf("expected redis backend, got %q", cfg.Jobs.Backend)
	}
	if cfg.Jobs.ReadyStatusCreated {
		t.Errorf("expected ReadyStatusCreated false")
	}
	wantKinds := []model.JobKind{model.JobKindCountdown, model.JobKindHTMLEmail}
	if !reflect.DeepEqual(cfg.Worker.Kinds, wantKinds) {
		t.Errorf("expected kinds %v, got %v", wantKinds, cfg.Worker.Kinds)
	}
	if cfg.Worker.Concurrency != 1 {
		t.Errorf("expected concurrency clamped to 1, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Media.URL != "/artifacts/" {
		t.Errorf("expected media url /artifacts/, got %q", cfg.Media.URL)
	}
}

func TestAppConfig_InvalidBackend(t *testing.T) {
	t.Setenv("JOBS_BACKEND", "sqlite")

	var cfg AppConfig
	err := env.Parse(&cfg)
	if err == nil || !strings.Contains(err.Error(), "invalid job backend") {
		t.Fatalf("expected invalid job backend error, got %v", err)
	}
}

func TestAppConfig_SanitizeRaisesStartedMaxAge(t *testing.T) {
	cfg := AppConfig{
		Services: "worker",
		Jobs:     JobsConfig{CountdownMaxSeconds: 7200},
		Reaper:   ReaperConfig{StartedMaxAge: 10 * time.Minute},
	}
	cfg.Sanitize()

	want := 2*time.Hour + startedGrace
	if cfg.Reaper.StartedMaxAge != want {
		t.Fatalf("expected started max age %v, got %v", want, cfg.Reaper.StartedMaxAge)
	}
}

func TestReaperConfig_Sanitize(t *testing.T) {
	cfg := ReaperConfig{BatchSize: 50000}
	cfg.Sanitize()

	if cfg.Interval != time.Minute {
		t.Errorf("expected interval floor of 1m, got %v", cfg.Interval)
	}
	if cfg.SuccessMaxAge != time.Hour || cfg.FailureMaxAge != time.Hour {
		t.Errorf("expected retention floors of 1h, got %v / %v", cfg.SuccessMaxAge, cfg.FailureMaxAge)
	}
	if cfg.BatchSize != 10000 {
		t.Errorf("expected batch size clamped to 10000, got %d", cfg.BatchSize)
	}
}

func TestMailConfig_Sanitize(t *testing.T) {
	tests := []struct {
		name  string
		in    MailConfig
		isDev bool
		want  MailTransport
	}{
		{name: "smtp kept", in: MailConfig{Transport: "SMTP", SMTPHost: "mail"}, want: MailTransportSMTP},
		{name: "unknown transport", in: MailConfig{Transport: "pigeon", SMTPHost: "mail"}, want: MailTransportSMTP},
		{name: "dev without host logs", in: MailConfig{Transport: "smtp"}, isDev: true, want: MailTransportLog},
		{name: "explicit log", in: MailConfig{Transport: "log"}, want: MailTransportLog},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.in
			cfg.Sanitize(tt.isDev)
			if cfg.Transport != tt.want {
				t.Errorf("expected transport %q, got %q", tt.want, cfg.Transport)
			}
			if cfg.SMTPPort != 25 {
				t.Errorf("expected default port 25 for zero port, got %d", cfg.SMTPPort)
			}
		})
	}
}

func TestHTTPConfig_Sanitize(t *testing.T) {
	cfg := HTTPConfig{
		BaseURL:            " https://tasks.example.com/ ",
		MaxConnections:     -3,
		CORSAllowedOrigins: []string{" https://a.example.com ", "", " "},
	}
	cfg.Sanitize()

	if cfg.BaseURL != "https://tasks.example.com" {
		t.Errorf("unexpected base url %q", cfg.BaseURL)
	}
	if cfg.MaxConnections != 0 {
		t.Errorf("expected max connections 0, got %d", cfg.MaxConnections)
	}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, []string{"https://a.example.com"}) {
		t.Errorf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestDBConfig_DSN(t *testing.T) {
	cfg := DBConfig{Host: "db", Port: 5432, User: "task", Password: "p@ss word", Name: "tm", SSLMode: "disable"}
	want := "postgres://task:p%40ss%20word@db:5432/tm?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestObservabilityConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityConfig{
		Metrics:    ObservabilityMetricsConfig{Enabled: true, StatsdAddress: " "},
		Prometheus: PrometheusConfig{Path: "metrics/"},
	}
	cfg.Sanitize()

	if cfg.Metrics.IsEnabled() {
		t.Errorf("expected statsd disabled without address")
	}
	if cfg.Metrics.Prefix != "taskmanager" {
		t.Errorf("expected default prefix, got %q", cfg.Metrics.Prefix)
	}
	if cfg.Prometheus.Path != "/metrics" {
		t.Errorf("expected /metrics, got %q", cfg.Prometheus.Path)
	}
}

func TestObservabilityNotificationsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityNotificationsConfig{
		SlackWebhookURL:     "  ",
		PagerDutyRoutingKey: " rk ",
		RetryLimit:          -3,
		Kinds:               []string{" countdown ", "", "send_html_email"},
	}
	cfg.Sanitize()

	if cfg.SlackEnabled() {
		t.Errorf("expected slack disabled for a blank webhook")
	}
	if !cfg.PagerDutyEnabled() || cfg.PagerDutyRoutingKey != "rk" {
		t.Errorf("expected trimmed pagerduty key, got %q", cfg.PagerDutyRoutingKey)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("expected default timeout, got %v", cfg.Timeout)
	}
	if cfg.RetryLimit != 0 {
		t.Errorf("expected retry limit clamped to 0, got %d", cfg.RetryLimit)
	}
	if !reflect.DeepEqual(cfg.Kinds, []string{"countdown", "send_html_email"}) {
		t.Errorf("unexpected kinds %v", cfg.Kinds)
	}
}
