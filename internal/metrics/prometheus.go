package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesleyorama2/streamload/internal/ingest"
)

const namespace = "streamload"

// Collectors holds the Prometheus collectors fed by the metrics engine.
type Collectors struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	acceptedRecords *prometheus.CounterVec
	retries         *prometheus.CounterVec
	batchFailures   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	activeWorkers   prometheus.Gauge
}

// NewCollectors creates the collectors and registers them on a fresh registry.
func NewCollectors() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Ingestion requests sent, by endpoint and response status.",
			},
			[]string{"endpoint", "status"},
		),
		acceptedRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accepted_records_total",
				Help:      "Records accepted by ingestion endpoints, by table.",
			},
			[]string{"table"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Requests that were retry attempts, by endpoint.",
			},
			[]string{"endpoint"},
		),
		batchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_failures_total",
				Help:      "Batches that could not be delivered, by endpoint and table.",
			},
			[]string{"endpoint", "table"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Latency of ingestion requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		activeWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workers",
				Help:      "Workers currently running.",
			},
		),
	}

	c.registry.MustRegister(
		c.requests,
		c.acceptedRecords,
		c.retries,
		c.batchFailures,
		c.requestDuration,
		c.activeWorkers,
	)
	return c
}

// Registry returns the registry the collectors are registered on.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collectors) observe(a ingest.Attempt, success bool) {
	c.requests.WithLabelValues(a.Endpoint, statusLabel(a.StatusCode)).Inc()
	c.requestDuration.WithLabelValues(a.Endpoint).Observe(a.Latency.Seconds())
	if a.Number > 1 {
		c.retries.WithLabelValues(a.Endpoint).Inc()
	}
	if success {
		c.acceptedRecords.WithLabelValues(a.Table).Add(float64(a.Records))
	}
}

// Serve exposes the collectors on addr under /metrics until ctx is done.
func (c *Collectors) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
