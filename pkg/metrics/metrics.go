// Package metrics exposes scan activity as Prometheus collectors on a
// private registry, so embedding programs never see vulnity series in
// their default registry. The Engine is optional everywhere: a nil
// *Engine is a valid no-op recorder.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Engine owns the scan collectors and, once Serve is called, the
// scrape endpoint.
type Engine struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
	findingsTotal  *prometheus.CounterVec
	crawlPages     prometheus.Counter
	scansActive    prometheus.Gauge

	mu     sync.Mutex
	server *http.Server
	addr   string
	closed bool
}

// New builds an Engine with all collectors registered on a fresh
// registry.
func New() *Engine {
	e := &Engine{registry: prometheus.NewRegistry()}

	e.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnity_requests_total",
			Help: "HTTP probes sent, by executor outcome.",
		},
		[]string{"outcome"},
	)
	e.requestSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vulnity_request_seconds",
			Help:    "Probe round-trip time distribution in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"outcome"},
	)
	e.findingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vulnity_findings_total",
			Help: "Confirmed findings, by vulnerability class and severity.",
		},
		[]string{"class", "severity"},
	)
	e.crawlPages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vulnity_crawl_pages_total",
		Help: "Pages fetched and parsed by the crawler.",
	})
	e.scansActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vulnity_scans_active",
		Help: "Scans currently in the running state.",
	})

	e.registry.MustRegister(
		e.requestsTotal,
		e.requestSeconds,
		e.findingsTotal,
		e.crawlPages,
		e.scansActive,
	)
	return e
}

// Registry returns the private registry, for embedding the collectors
// into an existing scrape surface instead of calling Serve.
func (e *Engine) Registry() *prometheus.Registry {
	if e == nil {
		return nil
	}
	return e.registry
}

// ObserveRequest records one completed probe.
func (e *Engine) ObserveRequest(outcome string, elapsed time.Duration) {
	if e == nil {
		return
	}
	e.requestsTotal.WithLabelValues(outcome).Inc()
	e.requestSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveFinding records one confirmed finding.
func (e *Engine) ObserveFinding(class, severity string) {
	if e == nil {
		return
	}
	e.findingsTotal.WithLabelValues(class, severity).Inc()
}

// ObserveCrawl adds n crawled pages.
func (e *Engine) ObserveCrawl(n int) {
	if e == nil || n <= 0 {
		return
	}
	e.crawlPages.Add(float64(n))
}

// ScanStarted and ScanDone track the active-scan gauge.
func (e *Engine) ScanStarted() {
	if e == nil {
		return
	}
	e.scansActive.Inc()
}

func (e *Engine) ScanDone() {
	if e == nil {
		return
	}
	e.scansActive.Dec()
}

// Serve binds addr and exposes the registry at /metrics. The bind is
// synchronous so configuration errors surface here, not in a log line
// from a goroutine.
func (e *Engine) Serve(addr string) error {
	if e == nil {
		return errors.New("metrics: nil engine")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("metrics: engine closed")
	}
	if e.server != nil {
		return fmt.Errorf("metrics: already serving on %s", e.addr)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	e.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	e.addr = ln.Addr().String()

	srv := e.server
	go func() { _ = srv.Serve(ln) }()
	return nil
}

// Addr returns the bound scrape address, empty before Serve.
func (e *Engine) Addr() string {
	if e == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addr
}

// Close shuts the scrape server down. Safe without Serve and safe to
// call twice.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.server.Shutdown(ctx)
	}
	return nil
}
