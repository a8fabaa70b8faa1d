package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"profile2site/internal/progress"
)

// Collector collects and exposes metrics
type Collector struct {
	registry        *prometheus.Registry
	recordsTotal    *prometheus.CounterVec
	attemptsTotal   *prometheus.CounterVec
	inflightWorkers prometheus.Gauge
	duration        prometheus.Histogram
	progressTracker *progress.Tracker
}

// New creates a new metrics collector on its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profile2site_records_total",
				Help: "Records settled during this run, by status",
			},
			[]string{"status"},
		),
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "profile2site_attempts_total",
				Help: "Extraction attempts made, by outcome",
			},
			[]string{"outcome"},
		),
		inflightWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "profile2site_inflight_workers",
				Help: "Number of workers currently extracting",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "profile2site_record_duration_seconds",
				Help:    "Time taken to settle a record, retries included",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
			},
		),
		progressTracker: progress.NewTracker(),
	}

	c.registry.MustRegister(c.recordsTotal, c.attemptsTotal, c.inflightWorkers, c.duration)

	return c
}

// IncResolved counts a resolved record
func (c *Collector) IncResolved() {
	c.recordsTotal.WithLabelValues("resolved").Inc()
	c.progressTracker.AddResolved()
}

// IncFailed counts a failed record
func (c *Collector) IncFailed() {
	c.recordsTotal.WithLabelValues("failed").Inc()
	c.progressTracker.AddFailed()
}

// IncSkipped counts records settled before this run
func (c *Collector) IncSkipped(n int) {
	c.recordsTotal.WithLabelValues("skipped").Add(float64(n))
}

// IncAttempt counts one extraction attempt
func (c *Collector) IncAttempt(failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	c.attemptsTotal.WithLabelValues(outcome).Inc()
}

// WorkerBusy moves the in-flight gauge by delta
func (c *Collector) WorkerBusy(delta int) {
	c.inflightWorkers.Add(float64(delta))
}

// ObserveDuration observes the time spent on one record
func (c *Collector) ObserveDuration(duration time.Duration) {
	c.duration.Observe(duration.Seconds())
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until ctx is done
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// GetProgressTracker returns the progress tracker
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}

// SetTotalCounts sets the totals for progress tracking
func (c *Collector) SetTotalCounts(total, skipped int64) {
	c.progressTracker.SetTotal(total, skipped)
}
