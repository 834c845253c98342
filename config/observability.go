package config

import (
	"strings"
	"time"
)

const defaultMetricsPrefix = "taskmanager"

// ObservabilityConfig groups metrics and alerting configuration.
type ObservabilityConfig struct {
	Metrics       ObservabilityMetricsConfig
	Prometheus    PrometheusConfig
	Notifications ObservabilityNotificationsConfig
}

// Sanitize applies guardrails to observability sub-configs.
func (c *ObservabilityConfig) Sanitize() {
	c.Metrics.Sanitize()
	c.Prometheus.Sanitize()
	c.Notifications.Sanitize()
}

// ObservabilityMetricsConfig controls emission of metrics to StatsD.
type ObservabilityMetricsConfig struct {
	Enabled       bool   `env:"OBSERVABILITY_METRICS_ENABLED"        envDefault:"false"`
	StatsdAddress string `env:"OBSERVABILITY_METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
	Prefix        string `env:"OBSERVABILITY_METRICS_PREFIX"         envDefault:"taskmanager"`
}

// Sanitize normalises derived fields and enforces safe defaults.
func (c *ObservabilityMetricsConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	if c.StatsdAddress == "" {
		c.Enabled = false
	}
	if strings.TrimSpace(c.Prefix) == "" {
		c.Prefix = defaultMetricsPrefix
	}
}

// IsEnabled returns true when StatsD emission is active after sanitisation.
func (c *ObservabilityMetricsConfig) IsEnabled() bool {
	return c.Enabled && c.StatsdAddress != ""
}

// PrometheusConfig controls the /metrics exposition endpoint.
type PrometheusConfig struct {
	Enabled   bool   `env:"OBSERVABILITY_PROMETHEUS_ENABLED"   envDefault:"true"`
	Path      string `env:"OBSERVABILITY_PROMETHEUS_PATH"      envDefault:"/metrics"`
	Namespace string `env:"OBSERVABILITY_PROMETHEUS_NAMESPACE" envDefault:"taskmanager"`
}

// Sanitize normalises the exposition path.
func (c *PrometheusConfig) Sanitize() {
	c.Path = "/" + strings.Trim(strings.TrimSpace(c.Path), "/")
	if c.Path == "/" {
		c.Path = "/metrics"
	}
	if strings.TrimSpace(c.Namespace) == "" {
		c.Namespace = defaultMetricsPrefix
	}
}

// ObservabilityNotificationsConfig configures alerts for jobs recorded as
// FAILURE. Each sink is active when its credential is set.
type ObservabilityNotificationsConfig struct {
	SlackWebhookURL string `env:"OBSERVABILITY_NOTIFY_SLACK_WEBHOOK_URL"`
	SlackChannel    string `env:"OBSERVABILITY_NOTIFY_SLACK_CHANNEL"`
	SlackUsername   string `env:"OBSERVABILITY_NOTIFY_SLACK_USERNAME"    envDefault:"taskmanager"`

	PagerDutyRoutingKey string `env:"OBSERVABILITY_NOTIFY_PAGERDUTY_ROUTING_KEY"`
	PagerDutySource     string `env:"OBSERVABILITY_NOTIFY_PAGERDUTY_SOURCE"      envDefault:"taskmanager"`

	Timeout    time.Duration `env:"OBSERVABILITY_NOTIFY_TIMEOUT"     envDefault:"5s"`
	RetryLimit int           `env:"OBSERVABILITY_NOTIFY_RETRY_LIMIT" envDefault:"2"`
	// Kinds limits alerts to these job kinds. Empty means every kind.
	Kinds []string `env:"OBSERVABILITY_NOTIFY_KINDS"`
}

// Sanitize trims credentials and clamps timeouts.
func (c *ObservabilityNotificationsConfig) Sanitize() {
	c.SlackWebhookURL = strings.TrimSpace(c.SlackWebhookURL)
	c.PagerDutyRoutingKey = strings.TrimSpace(c.PagerDutyRoutingKey)
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	c.RetryLimit = max(c.RetryLimit, 0)

	kinds := c.Kinds[:0]
	for _, k := range c.Kinds {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, k)
		}
	}
	c.Kinds = kinds
}

// SlackEnabled reports whether Slack alerts are configured.
func (c *ObservabilityNotificationsConfig) SlackEnabled() bool {
	return c.SlackWebhookURL != ""
}

// PagerDutyEnabled reports whether PagerDuty alerts are configured.
func (c *ObservabilityNotificationsConfig) PagerDutyEnabled() bool {
	return c.PagerDutyRoutingKey != ""
}
