// Package metrics exposes run instrumentation as Prometheus collectors.
//
// A nil *Collector is valid and records nothing, so components can take an
// optional collector without guarding every call.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kohaload"

// Collector groups the run metrics on a private registry
type Collector struct {
	registry          *prometheus.Registry
	iterations        *prometheus.CounterVec
	iterationDuration prometheus.Histogram
	activeVUs         prometheus.Gauge
	checks            *prometheus.CounterVec
	apiDuration       *prometheus.HistogramVec
}

// New creates a collector with all metrics registered
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Completed scenario iterations by result.",
		}, []string{"result"}),
		iterationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Wall time of one scenario iteration.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90, 120, 300},
		}),
		activeVUs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_vus",
			Help:      "Virtual users currently running an iteration.",
		}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Recorded checks by name and result.",
		}, []string{"check", "result"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Koha REST API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "method", "status"}),
	}
	reg.MustRegister(c.iterations, c.iterationDuration, c.activeVUs, c.checks, c.apiDuration)
	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveIteration records one finished iteration
func (c *Collector) ObserveIteration(d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.iterations.WithLabelValues(result).Inc()
	c.iterationDuration.Observe(d.Seconds())
}

// VUActive adjusts the active VU gauge by delta
func (c *Collector) VUActive(delta int) {
	if c == nil {
		return
	}
	c.activeVUs.Add(float64(delta))
}

// ObserveCheck records one check outcome
func (c *Collector) ObserveCheck(name string, ok bool) {
	if c == nil {
		return
	}
	result := "pass"
	if !ok {
		result = "fail"
	}
	c.checks.WithLabelValues(name, result).Inc()
}

// ObserveAPI records one REST API call; status 0 means a transport error
func (c *Collector) ObserveAPI(endpoint, method string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.apiDuration.WithLabelValues(endpoint, method, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler returns the /metrics handler for this collector
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
