package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"github.com/target/taskmanager-api/config"
	httpx "github.com/target/taskmanager-api/internal/http"
	"github.com/target/taskmanager-api/internal/observability/statsd"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// HTTPServer is a started server and the listener it accepts on.
type HTTPServer struct {
	Server   *http.Server
	Listener net.Listener
}

// NewHTTPServer builds the handler chain and binds the listener. Serving
// starts with Serve.
func NewHTTPServer(cfg *HTTPServerConfig) (*HTTPServer, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, errors.New("http server config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config

	services := httpx.RouterServices{
		Jobs:               cfg.Services.Jobs,
		Artifacts:          cfg.Services.Artifacts,
		MediaURL:           appCfg.Media.URL,
		ReadyStatusCreated: appCfg.Jobs.ReadyStatusCreated,
		HealthCheck:        cfg.Services.HealthCheck,
		Logger:             logger,
	}
	if appCfg.Observability.Prometheus.Enabled && cfg.Services.Observability.Gatherer != nil {
		services.Metrics = promhttp.HandlerFor(cfg.Services.Observability.Gatherer, promhttp.HandlerOpts{})
		services.MetricsPath = appCfg.Observability.Prometheus.Path
	}

	handler := buildHTTPHandler(httpHandlerConfig{
		Logger:   logger,
		Services: services,
		HTTP:     appCfg.HTTP,
		Metrics:  cfg.Services.Observability.Sink,
	})

	addr := appCfg.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if appCfg.HTTP.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, appCfg.HTTP.MaxConnections)
	}

	return &HTTPServer{
		Server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: appCfg.HTTP.ReadHeaderTimeout,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		Listener: ln,
	}, nil
}

// Serve blocks until the server is shut down. A clean shutdown returns nil.
func (s *HTTPServer) Serve(logger *slog.Logger) error {
	logger.Info("starting HTTP server", "addr", s.Listener.Addr().String())
	if err := s.Server.Serve(s.Listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

type httpHandlerConfig struct {
	Logger   *slog.Logger
	Services httpx.RouterServices
	HTTP     config.HTTPConfig
	Metrics  statsd.Sink
}

// buildHTTPHandler wraps the router as Recover -> Logging -> CORS -> Router.
func buildHTTPHandler(cfg httpHandlerConfig) http.Handler {
	h := httpx.NewRouter(cfg.Services)
	if len(cfg.HTTP.CORSAllowedOrigins) > 0 {
		h = httpx.CORS(cfg.HTTP.CORSAllowedOrigins)(h)
	}
	h = httpx.Logging(cfg.Logger, cfg.Metrics)(h)
	h = httpx.Recover(cfg.Logger)(h)
	return h
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Timeout time.Duration
	Server  *http.Server
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}

// newPrometheusRegistry returns a registry carrying the Go runtime and
// process collectors alongside the job metrics.
func newPrometheusRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
