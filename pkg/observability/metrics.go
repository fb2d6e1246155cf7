package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. The Record* helpers are safe to call
// on a nil *Metrics so services can run without a registry in tests.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Security metrics
	LoginAttemptsTotal     *prometheus.CounterVec
	TwoFactorChecksTotal   *prometheus.CounterVec
	PasswordResetsTotal    *prometheus.CounterVec
	PermissionCacheLookups *prometheus.CounterVec

	// Delivery metrics
	PushSendsTotal   *prometheus.CounterVec
	EmailsSentTotal  *prometheus.CounterVec
	FileUploadsTotal *prometheus.CounterVec
	FileUploadBytes  *prometheus.HistogramVec

	// Worker pool
	BackgroundTasksTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 7),
			},
			[]string{"method", "route"},
		),

		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_login_attempts_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		TwoFactorChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_two_factor_checks_total",
				Help: "Two-factor code checks by operation and result",
			},
			[]string{"operation", "result"},
		),
		PasswordResetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_password_resets_total",
				Help: "Password reset steps by stage and result",
			},
			[]string{"stage", "result"},
		),
		PermissionCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_permission_cache_lookups_total",
				Help: "Effective permission cache lookups by result",
			},
			[]string{"result"},
		),

		PushSendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_push_sends_total",
				Help: "Push messages sent per device token by result",
			},
			[]string{"result"},
		),
		EmailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_emails_sent_total",
				Help: "Emails sent by template and result",
			},
			[]string{"template", "result"},
		),
		FileUploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_file_uploads_total",
				Help: "File uploads by storage provider and result",
			},
			[]string{"provider", "result"},
		),
		FileUploadBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_file_upload_bytes",
				Help:    "Uploaded file sizes in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
			[]string{"provider"},
		),

		BackgroundTasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_background_tasks_total",
				Help: "Background tasks by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.LoginAttemptsTotal,
		m.TwoFactorChecksTotal,
		m.PasswordResetsTotal,
		m.PermissionCacheLookups,
		m.PushSendsTotal,
		m.EmailsSentTotal,
		m.FileUploadsTotal,
		m.FileUploadBytes,
		m.BackgroundTasksTotal,
	)

	return m
}

func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordTwoFactor(operation, result string) {
	if m == nil {
		return
	}
	m.TwoFactorChecksTotal.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) RecordPasswordReset(stage, result string) {
	if m == nil {
		return
	}
	m.PasswordResetsTotal.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) RecordPermissionCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.PermissionCacheLookups.WithLabelValues(result).Inc()
}

// RecordPush adds per-token push results
func (m *Metrics) RecordPush(success, failure int) {
	if m == nil {
		return
	}
	m.PushSendsTotal.WithLabelValues("success").Add(float64(success))
	m.PushSendsTotal.WithLabelValues("failure").Add(float64(failure))
}

func (m *Metrics) RecordEmail(template string, err error) {
	if m == nil {
		return
	}
	m.EmailsSentTotal.WithLabelValues(template, resultLabel(err)).Inc()
}

func (m *Metrics) RecordUpload(provider string, size int64, err error) {
	if m == nil {
		return
	}
	m.FileUploadsTotal.WithLabelValues(provider, resultLabel(err)).Inc()
	if err == nil {
		m.FileUploadBytes.WithLabelValues(provider).Observe(float64(size))
	}
}

func (m *Metrics) RecordBackgroundTask(err error) {
	if m == nil {
		return
	}
	m.BackgroundTasksTotal.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the mux path template so IDs do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
