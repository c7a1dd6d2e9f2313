package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
)

// Collector manages all ProxyJudge metrics
type Collector struct {
	// Counters
	proxiesChecked prometheus.Counter
	proxiesWorking prometheus.Counter
	proxiesFailed  prometheus.Counter
	proxiesSSL     prometheus.Counter

	// Histograms
	checkDuration   prometheus.Histogram
	attemptDuration *prometheus.HistogramVec

	// Gauges
	activeChecks  prometheus.Gauge
	queueSize     prometheus.Gauge
	workersActive prometheus.Gauge

	// Labels
	attempts      *prometheus.CounterVec
	anonymity     *prometheus.CounterVec
	errorsPerType *prometheus.CounterVec
	storeFailures prometheus.Counter

	registry *prometheus.Registry
	server   *http.Server
	addr     string
	mutex    sync.Mutex
}

// NewCollector creates a new metrics collector with its own registry
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.initMetrics()
	c.registerMetrics()

	return c
}

func (c *Collector) initMetrics() {
	c.proxiesChecked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxyjudge_proxies_checked_total",
		Help: "Total number of proxies checked",
	})
	c.proxiesWorking = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxyjudge_proxies_working_total",
		Help: "Total number of working proxies found",
	})
	c.proxiesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxyjudge_proxies_failed_total",
		Help: "Total number of proxies that did not work",
	})
	c.proxiesSSL = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxyjudge_proxies_ssl_total",
		Help: "Total number of working proxies that carried TLS",
	})

	c.checkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "proxyjudge_check_duration_seconds",
		Help:    "Duration of a full proxy check in seconds",
		Buckets: prometheus.DefBuckets,
	})
	c.attemptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proxyjudge_attempt_duration_seconds",
		Help:    "Duration of a single protocol attempt in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
	}, []string{"protocol"})

	c.activeChecks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proxyjudge_active_checks",
		Help: "Number of currently active proxy checks",
	})
	c.queueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proxyjudge_queue_size",
		Help: "Number of proxies waiting to be checked",
	})
	c.workersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proxyjudge_workers_active",
		Help: "Number of active worker goroutines",
	})

	c.attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxyjudge_attempts_total",
		Help: "Protocol attempts by protocol, tls and classification",
	}, []string{"protocol", "tls", "classification"})
	c.anonymity = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxyjudge_anonymity_total",
		Help: "Working proxies by anonymity grade",
	}, []string{"grade"})
	c.errorsPerType = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxyjudge_errors_per_type_total",
		Help: "Total number of errors per error type",
	}, []string{"error_type"})
	c.storeFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxyjudge_store_failures_total",
		Help: "Reports that could not be persisted",
	})
}

func (c *Collector) registerMetrics() {
	c.registry.MustRegister(
		c.proxiesChecked,
		c.proxiesWorking,
		c.proxiesFailed,
		c.proxiesSSL,
		c.checkDuration,
		c.attemptDuration,
		c.activeChecks,
		c.queueSize,
		c.workersActive,
		c.attempts,
		c.anonymity,
		c.errorsPerType,
		c.storeFailures,
	)
}

// StartServer starts the metrics HTTP server serving path and /health
func (c *Collector) StartServer(addr, path string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.server != nil {
		return fmt.Errorf("metrics server already running")
	}
	if path == "" {
		path = "/metrics"
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, c.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	c.server = server
	c.addr = ln.Addr().String()

	go server.Serve(ln)

	return nil
}

// StopServer stops the metrics HTTP server
func (c *Collector) StopServer() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.server.Shutdown(ctx)
	c.server = nil
	c.addr = ""
	return err
}

// Addr returns the address the metrics server is bound to, or "" when it is
// not running
func (c *Collector) Addr() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.addr
}

// RecordAttempt records one protocol attempt. It satisfies
// proxy.AttemptRecorder.
func (c *Collector) RecordAttempt(outcome proxy.ProbeOutcome) {
	protocol := outcome.Protocol.String()
	c.attempts.WithLabelValues(protocol, strconv.FormatBool(outcome.UseTLS), outcome.Classification.String()).Inc()
	if outcome.Duration > 0 {
		c.attemptDuration.WithLabelValues(protocol).Observe(outcome.Duration.Seconds())
	}
}

// RecordReport records a finished check
func (c *Collector) RecordReport(report *proxy.Report) {
	c.proxiesChecked.Inc()
	if report.Elapsed > 0 {
		c.checkDuration.Observe(report.Elapsed.Seconds())
	}

	if !report.Result.IsWorking {
		c.proxiesFailed.Inc()
		return
	}
	c.proxiesWorking.Inc()
	if report.Result.IsSSL {
		c.proxiesSSL.Inc()
	}
	c.anonymity.WithLabelValues(report.Anonymity.String()).Inc()
}

// RecordError records an error by type
func (c *Collector) RecordError(errorType string) {
	c.errorsPerType.WithLabelValues(errorType).Inc()
}

// RecordStoreFailure counts a report that could not be saved
func (c *Collector) RecordStoreFailure() {
	c.storeFailures.Inc()
}

// SetActiveChecks updates the active checks gauge
func (c *Collector) SetActiveChecks(count int) {
	c.activeChecks.Set(float64(count))
}

// AddActiveChecks moves the active checks gauge by delta
func (c *Collector) AddActiveChecks(delta int) {
	c.activeChecks.Add(float64(delta))
}

// SetQueueSize updates the queue size gauge
func (c *Collector) SetQueueSize(size int) {
	c.queueSize.Set(float64(size))
}

// SetWorkersActive updates the active workers gauge
func (c *Collector) SetWorkersActive(count int) {
	c.workersActive.Set(float64(count))
}

// GetRegistry returns the Prometheus registry for external use
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler for the metrics endpoint
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
