// Package config declares the environment-driven configuration of the task
// manager. Values are parsed with github.com/caarlos0/env and then passed
// through Sanitize, which clamps them to safe ranges.
package config

import (
	"os"
	"strings"
	"time"
)

// AppConfig composes the per-concern sections:
//   - database.go: PostgreSQL and Redis connections
//   - http.go: HTTP server
//   - jobs.go: job backend, workers, media and mail
//   - services.go: service modes and the reaper
//   - observability.go: StatsD and Prometheus
type AppConfig struct {
	// IsDev relaxes production defaults (log level, mail transport).
	// Set DEV=true or APP_ENV=development.
	IsDev bool `env:"DEV" envDefault:"false"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	HTTP   HTTPConfig
	Jobs   JobsConfig
	Worker WorkerConfig
	Media  MediaConfig
	Mail   MailConfig

	// Services is a comma-delimited list of enabled services.
	Services string `env:"SERVICES" envDefault:"http,worker,reaper"`

	Reaper ReaperConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
func (c *AppConfig) Sanitize() {
	c.detectDevMode()

	c.HTTP.Sanitize()
	c.Jobs.Sanitize()
	c.Worker.Sanitize()
	c.Media.Sanitize()
	c.Mail.Sanitize(c.IsDev)
	c.Reaper.Sanitize()
	c.Observability.Sanitize()

	// A STARTED countdown must never look abandoned to the reaper.
	if floor := c.Jobs.CountdownMax() + startedGrace; c.Reaper.StartedMaxAge < floor {
		c.Reaper.StartedMaxAge = floor
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

const startedGrace = 5 * time.Minute

func (c *AppConfig) detectDevMode() {
	if c.IsDev {
		return
	}
	appEnv := strings.ToLower(os.Getenv("APP_ENV"))
	c.IsDev = appEnv == "development" || appEnv == "dev"
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

func (c *AppConfig) serviceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool { return c.serviceEnabled(ServiceModeHTTP) }

// IsWorkerEnabled returns true if the job worker pool is enabled.
func (c *AppConfig) IsWorkerEnabled() bool { return c.serviceEnabled(ServiceModeWorker) }

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool { return c.serviceEnabled(ServiceModeReaper) }
