package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total number of HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code"},
	)

	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_http_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// ActiveRequests tracks currently active requests
	ActiveRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ledger_http_active_requests",
			Help: "Number of active HTTP requests",
		},
		[]string{"route"},
	)

	// PagesProcessed counts statement pages by outcome (ok or failed).
	PagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_pages_processed_total",
			Help: "Statement pages processed by outcome",
		},
		[]string{"outcome"},
	)

	// PageFailures counts failed pages by pipeline stage.
	PageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_page_failures_total",
			Help: "Statement pages that produced no rows, by stage",
		},
		[]string{"stage"},
	)

	RowsParsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_rows_parsed_total",
			Help: "Transaction rows parsed from model responses",
		},
	)

	RowsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_rows_skipped_total",
			Help: "Model response rows skipped, by reason",
		},
		[]string{"reason"},
	)

	// ModelTokens counts model tokens by direction (input or output).
	ModelTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_model_tokens_total",
			Help: "Tokens sent to and received from the extraction model",
		},
		[]string{"direction"},
	)

	ClusterGroups = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_cluster_groups",
			Help:    "Number of origin groups produced per run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	ClusterDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledger_cluster_duration_seconds",
			Help:    "Time spent clustering the origins of a run",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_analysis_duration_seconds",
			Help:    "End-to-end statement analysis duration",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320},
		},
		[]string{"outcome"},
	)
)

// NewMetricsMiddleware records request count, duration and concurrency under
// the given route label.
func NewMetricsMiddleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ActiveRequests.WithLabelValues(route).Inc()
			defer ActiveRequests.WithLabelValues(route).Dec()

			start := time.Now()
			rec := NewStatusRecorder(w)
			next.ServeHTTP(rec, r)

			RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.Status())).Inc()
		})
	}
}

// StatusRecorder captures the status code written by a handler.
type StatusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

// NewStatusRecorder wraps w; the status defaults to 200.
func NewStatusRecorder(w http.ResponseWriter) *StatusRecorder {
	if rec, ok := w.(*StatusRecorder); ok {
		return rec
	}
	return &StatusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *StatusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Status returns the recorded status code.
func (r *StatusRecorder) Status() int {
	return r.status
}

// BytesWritten returns the size of the response body.
func (r *StatusRecorder) BytesWritten() int {
	return r.bytes
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *StatusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
