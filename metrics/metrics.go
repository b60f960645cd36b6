// Package metrics exposes scheduler and producer activity as Prometheus
// metrics on a private registry.
package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gitlab.com/tinyland/lab/pulsebar/scheduler"
)

const namespace = "pulsebar"

// Metrics implements status.Recorder and scheduler.Observer.
type Metrics struct {
	registry *prometheus.Registry

	iterations      prometheus.Counter
	policiesFired   prometheus.Counter
	publishFailures prometheus.Counter
	sleepSeconds    prometheus.Gauge
	lastPublish     prometheus.Gauge
	lineBytes       prometheus.Gauge

	producerRuns     *prometheus.CounterVec
	producerFailures *prometheus.CounterVec
	producerDuration *prometheus.HistogramVec
}

// New creates the metrics on a fresh registry, together with the standard
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		iterations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Scheduler iterations completed.",
		}),
		policiesFired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policies_fired_total",
			Help:      "Update policies fired across all iterations.",
		}),
		publishFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Sink deliveries that returned an error.",
		}),
		sleepSeconds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sleep_seconds",
			Help:      "Sleep computed at the end of the last iteration.",
		}),
		lastPublish: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_publish_timestamp_seconds",
			Help:      "Unix time of the last iteration.",
		}),
		lineBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "line_bytes",
			Help:      "Length of the last composed line.",
		}),
		producerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_runs_total",
			Help:      "Producer invocations per slot.",
		}, []string{"slot"}),
		producerFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_failures_total",
			Help:      "Producer invocations per slot that left the slot empty.",
		}, []string{"slot"}),
		producerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "producer_duration_seconds",
			Help:      "Producer call latency per slot.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"slot"}),
	}
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRefresh implements status.Recorder.
func (m *Metrics) ObserveRefresh(slot string, d time.Duration, err error) {
	m.producerRuns.WithLabelValues(slot).Inc()
	m.producerDuration.WithLabelValues(slot).Observe(d.Seconds())
	if err != nil {
		m.producerFailures.WithLabelValues(slot).Inc()
	}
}

// ObserveIteration implements scheduler.Observer.
func (m *Metrics) ObserveIteration(it scheduler.Iteration) {
	m.iterations.Inc()
	m.policiesFired.Add(float64(it.Fired))
	m.sleepSeconds.Set(it.Sleep.Seconds())
	m.lineBytes.Set(float64(len(it.Line)))
	if it.PublishErr != nil {
		m.publishFailures.Inc()
		return
	}
	m.lastPublish.Set(float64(it.At.UnixNano()) / 1e9)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve listens on addr and serves /metrics until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("metrics server stopped")
		return nil
	}
}
