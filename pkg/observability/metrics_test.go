package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/files/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}).Methods(http.MethodGet)

	for _, id := range []string{"a", "b", "c"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/files/"+id, nil))
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/files/{id}", "404")))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	HTTPMetricsMiddleware(nil)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, called)
}

func TestMetrics_Recorders(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordLogin("success")
	metrics.RecordTwoFactor("verify", "failure")
	metrics.RecordPush(3, 1)
	metrics.RecordUpload("s3", 2048, nil)
	metrics.RecordUpload("s3", 0, errors.New("denied"))
	metrics.RecordEmail("password_reset", nil)
	metrics.RecordPermissionCache(true)
	metrics.RecordBackgroundTask(nil)
	metrics.RecordPasswordReset("confirm", "invalid_otp")

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LoginAttemptsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TwoFactorChecksTotal.WithLabelValues("verify", "failure")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.PushSendsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PushSendsTotal.WithLabelValues("failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.FileUploadsTotal.WithLabelValues("s3", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PermissionCacheLookups.WithLabelValues("hit")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.RecordLogin("success")
		metrics.RecordPush(1, 1)
		metrics.RecordUpload("google_drive", 1, nil)
		metrics.RecordBackgroundTask(errors.New("x"))
	})
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.RecordLogin("invalid_credentials")

	m := http.NewServeMux()
	RegisterMetricsEndpoint(m, registry)

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `warden_login_attempts_total{result="invalid_credentials"} 1`))
}
