package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notihub_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notihub_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notihub_dispatch_total",
			Help: "Provider calls by channel type and outcome",
		},
		[]string{"channel_type", "outcome"},
	)

	dispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notihub_dispatch_duration_seconds",
			Help:    "Provider call latency by channel type",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"channel_type"},
	)

	messagesFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notihub_messages_finalized_total",
			Help: "Messages reaching a terminal status",
		},
		[]string{"status"},
	)

	schedulerPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notihub_scheduler_pass_duration_seconds",
			Help:    "Duration of one task-check pass over due messages",
			Buckets: []float64{.01, .05, .25, 1, 5, 15, 60},
		},
	)

	backlogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notihub_backlog_size",
			Help: "Due scheduled messages not yet claimed",
		},
	)

	heartbeatAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notihub_heartbeat_age_seconds",
			Help: "Age of the daemon heartbeat as seen by the supervisor",
		},
	)

	messagesReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notihub_messages_reclaimed_total",
			Help: "Messages recovered from a stuck sending state",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics.
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordDispatch records one provider call outcome.
func RecordDispatch(channelType string, success bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	dispatchTotal.WithLabelValues(channelType, outcome).Inc()
	dispatchDuration.WithLabelValues(channelType).Observe(duration.Seconds())
}

// RecordMessageFinalized records a message reaching a terminal status.
func RecordMessageFinalized(status string) {
	messagesFinalized.WithLabelValues(status).Inc()
}

// RecordSchedulerPass records the duration of one task-check pass.
func RecordSchedulerPass(duration time.Duration) {
	schedulerPassDuration.Observe(duration.Seconds())
}

// SetBacklogSize sets the current due-message backlog.
func SetBacklogSize(count int) {
	backlogSize.Set(float64(count))
}

// SetHeartbeatAge sets the observed heartbeat age.
func SetHeartbeatAge(age time.Duration) {
	heartbeatAge.Set(age.Seconds())
}

// RecordReclaimed counts messages recovered from a stuck sending state.
func RecordReclaimed(count int64) {
	messagesReclaimed.Add(float64(count))
}

// responseWriter captures the status code for metrics.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

// Middleware records request count and latency for every HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		RecordRequest(r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}
