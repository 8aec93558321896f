// Package metrics exposes Prometheus collectors for edition runs.
package metrics

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	editionOutcomesTotal       *prometheus.CounterVec
	extractDurationSeconds     *prometheus.HistogramVec
	deliveredBytesTotal        *prometheus.CounterVec
	loginAttemptsTotal         *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	lastRunTimestampSeconds    prometheus.Gauge
	lastRunDurationSeconds     prometheus.Gauge
	ledgerWriteErrorsTotal     prometheus.Counter
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		editionOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edition_outcomes_total",
				Help: "Extraction outcomes, labeled by root source and status.",
			},
			[]string{"root_source", "status"},
		)

		extractDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edition_extract_duration_seconds",
				Help:    "Histogram of extraction durations, labeled by extract type.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"type"},
		)

		deliveredBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edition_delivered_bytes_total",
				Help: "Total bytes delivered, labeled by root source.",
			},
			[]string{"root_source"},
		)

		loginAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edition_logins_total",
				Help: "Root source logins, labeled by auth type and result.",
			},
			[]string{"type", "result"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edition_runs_total",
				Help: "Completed runs, labeled by result.",
			},
			[]string{"result"},
		)

		lastRunTimestampSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "edition_last_run_timestamp_seconds",
				Help: "Unix time the last run finished.",
			},
		)

		lastRunDurationSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "edition_last_run_duration_seconds",
				Help: "Duration of the last run.",
			},
		)

		ledgerWriteErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "edition_ledger_write_errors_total",
				Help: "Outcome writes the ledger rejected or failed.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edition_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// Recorder feeds run events into the collectors.
type Recorder struct{}

// NewRecorder initializes the collectors and returns a Recorder.
func NewRecorder() Recorder {
	Init()
	return Recorder{}
}

// ObserveEdition counts one extraction outcome.
func (Recorder) ObserveEdition(root, extractType, status string, elapsed time.Duration) {
	editionOutcomesTotal.WithLabelValues(root, status).Inc()
	extractDurationSeconds.WithLabelValues(extractType).Observe(elapsed.Seconds())
}

// ObserveDelivered adds delivered bytes for root.
func (Recorder) ObserveDelivered(root string, bytes int64) {
	if bytes > 0 {
		deliveredBytesTotal.WithLabelValues(root).Add(float64(bytes))
	}
}

// ObserveLogin counts a login attempt.
func (Recorder) ObserveLogin(authType string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	loginAttemptsTotal.WithLabelValues(authType, result).Inc()
}

// ObserveLedgerWriteError counts an outcome the ledger did not persist.
func (Recorder) ObserveLedgerWriteError() {
	ledgerWriteErrorsTotal.Inc()
}

// ObserveRun records a finished run.
func (Recorder) ObserveRun(result string, finished time.Time, elapsed time.Duration) {
	runsTotal.WithLabelValues(result).Inc()
	lastRunTimestampSeconds.Set(float64(finished.Unix()))
	lastRunDurationSeconds.Set(elapsed.Seconds())
}

// Push sends the default registry to a Prometheus pushgateway.
func Push(gatewayURL, job string) error {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil
	}
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
