package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	readingsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metric_readings_ingested_total",
			Help: "Metric readings persisted by metric type and quality flag.",
		},
		[]string{"metric_type", "quality_flag"},
	)
	anomaliesFlagged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metric_anomalies_flagged_total",
			Help: "Readings flagged as anomalous at ingestion.",
		},
		[]string{"metric_type"},
	)
	batchesRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "metric_batches_rejected_total",
			Help: "Batch ingestions rolled back.",
		},
	)
	scorerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "density_scorer_requests_total",
			Help: "Remote density scorer calls by outcome.",
		},
		[]string{"outcome"},
	)
	scorerLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "density_scorer_latency_seconds",
			Help:    "Remote density scorer latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
	alertTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_transitions_total",
			Help: "Alert status changes by target status.",
		},
		[]string{"status"},
	)
	outboxDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_dispatch_total",
			Help: "Outbox dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_cache_lookups_total",
			Help: "Dashboard cache lookups by result.",
		},
		[]string{"result"},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
)

func Register() {
	prometheus.MustRegister(
		httpRequests, httpLatency, kafkaConsumerLag, influxWriteFailures,
		readingsIngested, anomaliesFlagged, batchesRejected,
		scorerRequests, scorerLatency, alertTransitions,
		outboxDispatched, cacheLookups, asynqQueueDepth,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func IncReadingIngested(metricType string, qualityFlag string) {
	readingsIngested.WithLabelValues(metricType, qualityFlag).Inc()
}

func IncAnomalyFlagged(metricType string) {
	anomaliesFlagged.WithLabelValues(metricType).Inc()
}

func IncBatchRejected() {
	batchesRejected.Inc()
}

func IncScorerRequest(outcome string) {
	scorerRequests.WithLabelValues(outcome).Inc()
}

func ObserveScorerLatency(d time.Duration) {
	scorerLatency.Observe(d.Seconds())
}

func IncAlertTransition(status string) {
	alertTransitions.WithLabelValues(status).Inc()
}

func IncOutboxDispatch(outcome string) {
	outboxDispatched.WithLabelValues(outcome).Inc()
}

func IncCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
