package metrics

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/target/taskmanager-api/internal/observability/statsd"
)

// knownLabels fixes the label set of metrics whose tags vary between calls.
// Metrics not listed take their labels from the first observation.
var knownLabels = map[string][]string{
	NameJobTransition:    {"error_class", "job_kind", "result", "transition"},
	NameJobDuration:      {"error_class", "job_kind", "result", "transition"},
	NameReaperRun:        {"error_class", "result", "step"},
	NameReaperRows:       {"result", "step"},
	NameReaperDuration:   {"error_class", "result", "step"},
	NameHTTPRequest:      {"code", "method", "route"},
	NameHTTPRequestTimer: {"code", "method", "route"},
}

// PrometheusSink adapts the StatsD-style Sink calls onto Prometheus
// collectors created on first use. Counts become counters, gauges become
// gauges and timings become histograms in seconds.
type PrometheusSink struct {
	reg       prometheus.Registerer
	namespace string
	logger    *slog.Logger

	mu         sync.Mutex
	counters   map[string]*labeledVec[*prometheus.CounterVec]
	gauges     map[string]*labeledVec[*prometheus.GaugeVec]
	histograms map[string]*labeledVec[*prometheus.HistogramVec]
}

type labeledVec[V any] struct {
	vec    V
	labels []string
}

var _ statsd.Sink = (*PrometheusSink)(nil)

// NewPrometheusSink registers collectors with reg under namespace.
func NewPrometheusSink(reg prometheus.Registerer, namespace string, logger *slog.Logger) *PrometheusSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PrometheusSink{
		reg:        reg,
		namespace:  promName(namespace),
		logger:     logger.With("component", "prometheus_sink"),
		counters:   make(map[string]*labeledVec[*prometheus.CounterVec]),
		gauges:     make(map[string]*labeledVec[*prometheus.GaugeVec]),
		histograms: make(map[string]*labeledVec[*prometheus.HistogramVec]),
	}
}

func (p *PrometheusSink) Count(name string, value int64, tags map[string]string) {
	p.mu.Lock()
	lv, err := vecFor(p, p.counters, name, tags, func(opts prometheus.Opts, labels []string) *prometheus.CounterVec {
		opts.Name += "_total"
		return prometheus.NewCounterVec(prometheus.CounterOpts(opts), labels)
	})
	p.mu.Unlock()
	if err != nil {
		p.logger.Debug("prometheus counter unavailable", "metric", name, "error", err)
		return
	}
	if value < 0 {
		return
	}
	lv.vec.WithLabelValues(labelValues(lv.labels, tags)...).Add(float64(value))
}

func (p *PrometheusSink) Gauge(name string, value float64, tags map[string]string) {
	p.mu.Lock()
	lv, err := vecFor(p, p.gauges, name, tags, func(opts prometheus.Opts, labels []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts(opts), labels)
	})
	p.mu.Unlock()
	if err != nil {
		p.logger.Debug("prometheus gauge unavailable", "metric", name, "error", err)
		return
	}
	lv.vec.WithLabelValues(labelValues(lv.labels, tags)...).Set(value)
}

func (p *PrometheusSink) Timing(name string, value time.Duration, tags map[string]string) {
	p.mu.Lock()
	lv, err := vecFor(p, p.histograms, name, tags, func(opts prometheus.Opts, labels []string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      opts.Name + "_seconds",
			Help:      opts.Help,
			Buckets:   prometheus.DefBuckets,
		}, labels)
	})
	p.mu.Unlock()
	if err != nil {
		p.logger.Debug("prometheus histogram unavailable", "metric", name, "error", err)
		return
	}
	lv.vec.WithLabelValues(labelValues(lv.labels, tags)...).Observe(value.Seconds())
}

// vecFor returns the collector for name, creating and registering it on
// first use. Callers hold p.mu.
func vecFor[V prometheus.Collector](
	p *PrometheusSink,
	cache map[string]*labeledVec[V],
	name string,
	tags map[string]string,
	build func(prometheus.Opts, []string) V,
) (*labeledVec[V], error) {
	if lv, ok := cache[name]; ok {
		return lv, nil
	}

	metric := promName(name)
	if metric == "" {
		return nil, errors.New("empty metric name")
	}
	labels, ok := knownLabels[name]
	if !ok {
		labels = make([]string, 0, len(tags))
		for k := range tags {
			if l := promName(k); l != "" {
				labels = append(labels, l)
			}
		}
		slices.Sort(labels)
		labels = slices.Compact(labels)
	}

	vec := build(prometheus.Opts{
		Namespace: p.namespace,
		Name:      metric,
		Help:      fmt.Sprintf("%s reported through the metrics sink.", name),
	}, labels)

	if err := p.reg.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(V)
		if !ok {
			return nil, err
		}
		vec = existing
	}

	lv := &labeledVec[V]{vec: vec, labels: labels}
	cache[name] = lv
	return lv, nil
}

// labelValues orders tag values by labels. Missing tags become empty
// strings and tags outside the label set are dropped.
func labelValues(labels []string, tags map[string]string) []string {
	normalized := make(map[string]string, len(tags))
	for _, k := range slices.Sorted(maps.Keys(tags)) {
		normalized[promName(k)] = tags[k]
	}
	values := make([]string, len(labels))
	for i, l := range labels {
		values[i] = normalized[l]
	}
	return values
}

var promNameReplacer = strings.NewReplacer(".", "_", "-", "_", " ", "_", "/", "_")

func promName(s string) string {
	return strings.Trim(promNameReplacer.Replace(strings.ToLower(strings.TrimSpace(s))), "_")
}
