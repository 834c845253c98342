package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeWorker runs the job worker pool.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs periodic job retention.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper}
}

// ParseServices parses a comma-delimited list of service names.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	if servicesStr == "" {
		return nil, errors.New("at least one service must be specified")
	}

	services := make(map[ServiceMode]bool)
	for part := range strings.SplitSeq(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}

		mode := ServiceMode(name)
		switch mode {
		case ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, worker, reaper)", name)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}
	return services, nil
}

// ReaperConfig contains job reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// StartedMaxAge fails STARTED jobs whose worker never reported back.
	// It is raised to exceed the longest accepted countdown.
	StartedMaxAge time.Duration `env:"REAPER_STARTED_MAX_AGE" envDefault:"2h"`

	// SuccessMaxAge is how long SUCCESS records are kept.
	SuccessMaxAge time.Duration `env:"REAPER_SUCCESS_MAX_AGE" envDefault:"168h"` // 7 days

	// FailureMaxAge is how long FAILURE records are kept.
	FailureMaxAge time.Duration `env:"REAPER_FAILURE_MAX_AGE" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows touched per operation.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	if r.StartedMaxAge < 5*time.Minute {
		r.StartedMaxAge = 5 * time.Minute
	}
	if r.SuccessMaxAge < time.Hour {
		r.SuccessMaxAge = time.Hour
	}
	if r.FailureMaxAge < time.Hour {
		r.FailureMaxAge = time.Hour
	}

	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
