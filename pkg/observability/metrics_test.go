package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsMiddleware(t *testing.T) {
	const route = "/test-metrics"
	h := NewMetricsMiddleware(route)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, 1.0, testutil.ToFloat64(ActiveRequests.WithLabelValues(route)))
		if r.URL.Query().Get("fail") != "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, route, nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, route, nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, route+"?fail=1", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(RequestsTotal.WithLabelValues(route, "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RequestsTotal.WithLabelValues(route, "503")))
	assert.Zero(t, testutil.ToFloat64(ActiveRequests.WithLabelValues(route)))
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := NewStatusRecorder(rec)
	assert.Equal(t, http.StatusOK, sr.Status())

	sr.WriteHeader(http.StatusCreated)
	n, err := sr.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusCreated, sr.Status())
	assert.Equal(t, 5, sr.BytesWritten())
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Same(t, rec, sr.Unwrap())
}
