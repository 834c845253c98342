package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/rs/cors"

	"github.com/target/taskmanager-api/internal/observability/metrics"
	"github.com/target/taskmanager-api/internal/observability/statsd"
)

type routeKey struct{}

// routeHolder lets the router report the matched pattern back to Logging.
type routeHolder struct{ pattern string }

func withRoute(pattern string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if holder, ok := r.Context().Value(routeKey{}).(*routeHolder); ok {
			holder.pattern = pattern
		}
		h.ServeHTTP(w, r)
	})
}

// Logging returns a middleware that logs HTTP requests and responses and
// reports them to sink tagged by method, route and status code.
func Logging(logger *slog.Logger, sink statsd.Sink) func(http.Handler) http.Handler {
	if sink == nil {
		sink = statsd.Discard{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			holder := &routeHolder{pattern: "unmatched"}
			ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), routeKey{}, holder)))

			elapsed := time.Since(start)
			logger.InfoContext(r.Context(), "http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", holder.pattern),
				slog.Int("status", ww.status),
				slog.Duration("duration", elapsed),
			)

			tags := map[string]string{
				"method": r.Method,
				"route":  holder.pattern,
				"code":   strconv.Itoa(ww.status),
			}
			sink.Count(metrics.NameHTTPRequest, 1, tags)
			sink.Timing(metrics.NameHTTPRequestTimer, elapsed, metrics.CloneTags(tags))
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *respWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *respWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

func (w *respWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler { //nolint:errorlint // sentinel compared by identity
						panic(err)
					}
					logger.ErrorContext(r.Context(), "panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORS returns a middleware allowing cross-origin calls from origins. The
// Location header is exposed so browser clients can follow submissions.
func CORS(origins []string) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept"},
		ExposedHeaders: []string{"Location"},
		MaxAge:         600,
	})
	return c.Handler
}
