package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"boundq/internal/logger"
	"boundq/internal/runner"
)

const namespace = "boundq"

// Collector exports attempt metrics. It implements runner.Observer.
type Collector struct {
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	AdmissionWait   prometheus.Histogram
	Inflight        prometheus.Gauge
	ResponseBytes   prometheus.Counter

	registry *prometheus.Registry
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}

	c.AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attempts",
			Name:      "total",
			Help:      "Finished attempts by failure reason (none for success)",
		},
		[]string{"reason"},
	)

	c.AttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "attempt",
			Name:      "duration_seconds",
			Help:      "Network time per attempt",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"outcome"},
	)

	c.AdmissionWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "wait_seconds",
			Help:      "Time an attempt waited for a concurrency slot",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 12),
		},
	)

	c.Inflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight",
			Help:      "Attempts currently holding a slot",
		},
	)

	c.ResponseBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "response",
			Name:      "bytes_total",
			Help:      "Response bytes received",
		},
	)

	c.registry.MustRegister(
		c.AttemptsTotal,
		c.AttemptDuration,
		c.AdmissionWait,
		c.Inflight,
		c.ResponseBytes,
	)
	return c
}

func (c *Collector) AttemptStarted(_ runner.Attempt, queueWait time.Duration) {
	c.Inflight.Inc()
	c.AdmissionWait.Observe(queueWait.Seconds())
}

func (c *Collector) AttemptFinished(o runner.Outcome) {
	c.AttemptsTotal.WithLabelValues(o.Reason.String()).Inc()
	c.ResponseBytes.Add(float64(o.Bytes))
	// attempts that never got a slot were not counted as started
	if o.Reason == runner.ReasonCancelled && o.Elapsed == 0 {
		return
	}
	c.Inflight.Dec()
	outcome := "success"
	if !o.Success() {
		outcome = "failure"
	}
	c.AttemptDuration.WithLabelValues(outcome).Observe(o.Elapsed.Seconds())
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
