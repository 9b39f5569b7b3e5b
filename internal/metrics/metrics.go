// Package metrics collects this node's Prometheus metrics: per-endpoint
// request counters and latency histograms, plus threshold-decryption
// success/failure counters broken out by error code. Collectors are package
// vars registered once into Registry, the same one-registry-per-process
// shape a beacon node's own metrics package uses, rather than threading a
// *prometheus.Registry through every caller.
package metrics

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nucypher/taco/common/log"
)

var (
	// Registry is every collector this package exposes, bound once by Start.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests served by internal/transport, labeled by
	// route and outcome status so a dashboard can separate e.g. a spike of
	// 428s (conditions not yet satisfied) from a spike of 5xx.
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taco_http_requests_total",
		Help: "Number of HTTP requests handled, by route and status code",
	}, []string{"route", "status"})

	// HTTPLatency measures handler duration, labeled by route.
	HTTPLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taco_http_request_duration_seconds",
		Help:    "Histogram of HTTP handler latencies",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// ThresholdDecryptionSuccesses counts successful /decrypt requests, the
	// Go name for the original's threshold_decryption_num_successes counter.
	ThresholdDecryptionSuccesses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "threshold_decryption_num_successes",
		Help: "Number of threshold decryption successes",
	})

	// ThresholdDecryptionFailures counts failed /decrypt requests, labeled
	// by the errs.Code name so a failure spike can be attributed to e.g.
	// ConditionFalse vs Signature vs UnknownRitual without grepping logs.
	ThresholdDecryptionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "threshold_decryption_num_failures",
		Help: "Number of threshold decryption failures, by error code",
	}, []string{"code"})

	// ThresholdDecryptionDuration is the Go equivalent of the original's
	// decryption_request_processing Summary: both a count and a sum of
	// processing time, from which average latency falls out for free.
	ThresholdDecryptionDuration = prometheus.NewSummary(prometheus.SummaryOpts{
		Name:       "decryption_request_processing",
		Help:       "Summary of decryption request processing time",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	})

	// ReencryptionCFragsReturned counts cfrags returned by /reencrypt
	// ("granted") and, separately, the capsules of requests a false
	// condition aborted ("condition_denied"): a false condition fails the
	// whole request, so every capsule in it is counted as denied.
	ReencryptionCFragsReturned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reencryption_cfrags_returned_total",
		Help: "Number of capsule frags returned by reencrypt, by outcome",
	}, []string{"outcome"}) // outcome: "granted" or "condition_denied"

	bindOnce sync.Once
)

func bind(logger log.Logger) {
	collectorList := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequests,
		HTTPLatency,
		ThresholdDecryptionSuccesses,
		ThresholdDecryptionFailures,
		ThresholdDecryptionDuration,
		ReencryptionCFragsReturned,
	}
	for _, c := range collectorList {
		if err := Registry.Register(c); err != nil {
			logger.Errorw("error registering metric", "err", err)
			return
		}
	}
}

// ObserveHTTPRequest records one completed request for a route/status pair
// and its handler latency, for internal/transport's middleware to call.
func ObserveHTTPRequest(route, status string, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(route, status).Inc()
	HTTPLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveDecryption records one /decrypt outcome: code is "" on success,
// otherwise the errs.Code name that caused the failure.
func ObserveDecryption(code string, elapsed time.Duration) {
	if code == "" {
		ThresholdDecryptionSuccesses.Inc()
	} else {
		ThresholdDecryptionFailures.WithLabelValues(code).Inc()
	}
	ThresholdDecryptionDuration.Observe(elapsed.Seconds())
}

// Start binds every collector exactly once and serves /metrics on addr, a
// dedicated listener separate from the node's public REST surface so
// scraping never competes with request-handling for the same mux.
func Start(logger log.Logger, addr string) (*http.Server, error) {
	if logger == nil {
		logger = log.DefaultLogger()
	}
	bindOnce.Do(func() { bind(logger) })

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		logger.Infow("metrics server stopped", "err", srv.Serve(ln))
	}()
	return srv, nil
}
