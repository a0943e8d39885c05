package api

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/joshdurbin/strava-wrapped/internal/logging"
	"github.com/joshdurbin/strava-wrapped/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PanicRecovery turns a handler panic into a 500 response.
func PanicRecovery(metricsManager *metrics.Manager) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logging.Logger.Error().
						Str("path", r.URL.Path).
						Interface("panic", rec).
						Bytes("stack", debug.Stack()).
						Msg("http: panic serving request")
					if metricsManager != nil {
						metricsManager.CounterHandleRequestPanic.Inc()
					}
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// LogRequest logs every request once it completes.
func LogRequest() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			begin := time.Now()
			resp := newResponseWriter(w)

			next.ServeHTTP(resp, r)

			logging.Logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", resp.statusCode).
				Dur("took", time.Since(begin)).
				Str("user_agent", r.UserAgent()).
				Msg("request")
		})
	}
}

// RequestMetrics counts requests and observes their duration per route template.
func RequestMetrics(metricsManager *metrics.Manager) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			metricsManager.GaugeRequests.Inc()
			defer metricsManager.GaugeRequests.Dec()

			begin := time.Now()
			resp := newResponseWriter(w)

			next.ServeHTTP(resp, r)

			route := "unknown"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			status := strconv.Itoa(resp.statusCode)

			metricsManager.CounterRequests.With(prometheus.Labels{
				"method": r.Method,
				"status": status,
			}).Inc()
			metricsManager.HistogramRequestDuration.
				WithLabelValues(route, r.Method, status).
				Observe(time.Since(begin).Seconds())
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (r *responseWriter) WriteHeader(statusCode int) {
	if !r.wroteHeader {
		r.statusCode = statusCode
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush keeps server-sent events working through the wrapper.
func (r *responseWriter) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *responseWriter) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
