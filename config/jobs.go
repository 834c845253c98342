package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/target/taskmanager-api/internal/domain/model"
)

// JobBackend selects the job store implementation.
type JobBackend string

const (
	JobBackendPostgres JobBackend = "postgres"
	JobBackendRedis    JobBackend = "redis"
	JobBackendMemory   JobBackend = "memory"
)

// UnmarshalText implements encoding.TextUnmarshaler for env parsing.
func (b *JobBackend) UnmarshalText(text []byte) error {
	v := JobBackend(strings.ToLower(strings.TrimSpace(string(text))))
	switch v {
	case JobBackendPostgres, JobBackendRedis, JobBackendMemory:
		*b = v
		return nil
	default:
		return fmt.Errorf("invalid job backend %q (valid options: postgres, redis, memory)", v)
	}
}

// JobsConfig controls job storage and how results are presented.
type JobsConfig struct {
	Backend JobBackend `env:"JOBS_BACKEND" envDefault:"postgres"`

	// ReadyStatusCreated answers polls of finished artifact jobs with
	// 201 Created and a Location header instead of 200.
	ReadyStatusCreated bool `env:"JOBS_READY_STATUS_CREATED" envDefault:"true"`

	// CountdownMaxSeconds is the largest accepted countdown.
	CountdownMaxSeconds int `env:"JOBS_COUNTDOWN_MAX_SECONDS" envDefault:"3600"`

	// ResultTTL expires terminal records on the redis backend. Zero keeps them.
	ResultTTL time.Duration `env:"JOBS_RESULT_TTL" envDefault:"168h"`

	// StatusCacheTTL caches resolved terminal views. Zero disables the cache.
	StatusCacheTTL time.Duration `env:"JOBS_STATUS_CACHE_TTL" envDefault:"0s"`

	// StatusCacheLocalSize keeps the status cache in process with this many
	// entries instead of in redis. Zero selects redis.
	StatusCacheLocalSize int `env:"JOBS_STATUS_CACHE_LOCAL_SIZE" envDefault:"0"`

	// RedisPrefix namespaces every key written by the redis backend.
	RedisPrefix string `env:"JOBS_REDIS_PREFIX" envDefault:"taskmanager:"`
}

// Sanitize applies guardrails to job configuration values.
func (j *JobsConfig) Sanitize() {
	if j.Backend == "" {
		j.Backend = JobBackendPostgres
	}
	if j.CountdownMaxSeconds < 0 {
		j.CountdownMaxSeconds = 0
	}
	if j.ResultTTL < 0 {
		j.ResultTTL = 0
	}
	if j.StatusCacheTTL < 0 {
		j.StatusCacheTTL = 0
	}
	if j.StatusCacheLocalSize < 0 {
		j.StatusCacheLocalSize = 0
	}
	if strings.TrimSpace(j.RedisPrefix) == "" {
		j.RedisPrefix = "taskmanager:"
	}
}

// StatusCacheInRedis reports whether the status cache is enabled and kept in redis.
func (j *JobsConfig) StatusCacheInRedis() bool {
	return j.StatusCacheTTL > 0 && j.StatusCacheLocalSize == 0
}

// CountdownMax returns CountdownMaxSeconds as a duration.
func (j *JobsConfig) CountdownMax() time.Duration {
	return time.Duration(j.CountdownMaxSeconds) * time.Second
}

// WorkerConfig contains worker pool configuration.
type WorkerConfig struct {
	// Concurrency is the number of jobs run in parallel.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"2"`

	// Kinds restricts the kinds this pool claims. Empty means every registered kind.
	Kinds []model.JobKind `env:"WORKER_KINDS"`

	// WaitWindow bounds how long an idle worker sleeps before polling again.
	WaitWindow time.Duration `env:"WORKER_WAIT_WINDOW" envDefault:"30s"`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.Concurrency < 1 {
		w.Concurrency = 1
	}
	if w.Concurrency > 256 {
		w.Concurrency = 256
	}
	if w.WaitWindow < time.Second {
		w.WaitWindow = time.Second
	}
}

// MediaConfig locates stored artifacts.
type MediaConfig struct {
	Root string `env:"MEDIA_ROOT" envDefault:"./media"`
	URL  string `env:"MEDIA_URL"  envDefault:"/media/"`
}

// Sanitize normalises MEDIA_URL to a single leading and trailing slash.
func (m *MediaConfig) Sanitize() {
	if strings.TrimSpace(m.Root) == "" {
		m.Root = "./media"
	}
	trimmed := strings.Trim(strings.TrimSpace(m.URL), "/")
	if trimmed == "" {
		m.URL = "/media/"
		return
	}
	m.URL = "/" + trimmed + "/"
}

// MailTransport selects how rendered email leaves the process.
type MailTransport string

const (
	MailTransportSMTP MailTransport = "smtp"
	MailTransportLog  MailTransport = "log"
)

// DefaultNotifyContextExpression projects a task into the notification
// template context.
const DefaultNotifyContextExpression = `{` +
	`id: id, name: name, description: description, state: state, priority: priority, ` +
	`deadline: deadline, author: author.first_name, executor: executor.first_name, ` +
	`tags: tags[].title}`

// MailConfig contains outbound mail configuration.
type MailConfig struct {
	Transport MailTransport `env:"MAIL_TRANSPORT" envDefault:"smtp"`
	From      string        `env:"MAIL_FROM"      envDefault:"taskmanager@localhost"`

	SMTPHost     string        `env:"SMTP_HOST"     envDefault:"localhost"`
	SMTPPort     int           `env:"SMTP_PORT"     envDefault:"1025"`
	SMTPUsername string        `env:"SMTP_USERNAME"`
	SMTPPassword string        `env:"SMTP_PASSWORD"`
	SMTPTimeout  time.Duration `env:"SMTP_TIMEOUT"  envDefault:"10s"`

	// NotifyContextExpression is a JMESPath expression evaluated against the
	// task to build the notification template context.
	NotifyContextExpression string `env:"NOTIFY_CONTEXT_EXPRESSION"`
}

// Sanitize applies guardrails to mail configuration values. Development
// mode without an SMTP host falls back to logging mail.
func (m *MailConfig) Sanitize(isDev bool) {
	m.Transport = MailTransport(strings.ToLower(strings.TrimSpace(string(m.Transport))))
	if m.Transport != MailTransportSMTP && m.Transport != MailTransportLog {
		m.Transport = MailTransportSMTP
	}
	m.SMTPHost = strings.TrimSpace(m.SMTPHost)
	if isDev && m.SMTPHost == "" {
		m.Transport = MailTransportLog
	}
	if m.SMTPPort <= 0 || m.SMTPPort > 65535 {
		m.SMTPPort = 25
	}
	if m.SMTPTimeout <= 0 {
		m.SMTPTimeout = 10 * time.Second
	}
	if strings.TrimSpace(m.NotifyContextExpression) == "" {
		m.NotifyContextExpression = DefaultNotifyContextExpression
	}
}
