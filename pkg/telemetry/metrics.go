package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Upload kinds used as label values.
const (
	UploadKindAsset    = "asset"
	UploadKindArtifact = "artifact"
)

// Metrics provides Prometheus metrics for deployments. A zero Metrics is a no-op.
type Metrics struct {
	config MetricsConfig

	deployments        *prometheus.CounterVec
	deploymentDuration *prometheus.HistogramVec

	changesets  *prometheus.CounterVec
	stackEvents *prometheus.CounterVec

	uploads        *prometheus.CounterVec
	uploadsSkipped *prometheus.CounterVec
	uploadBytes    *prometheus.CounterVec

	artifactsPackaged prometheus.Counter
	packagingDuration prometheus.Histogram

	errors *prometheus.CounterVec

	activeOperations prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector on a private registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		deployments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_total",
				Help:      "Total number of deploy, update and destroy operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		deploymentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployment_duration_seconds",
				Help:      "Duration of deployment operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		changesets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "changesets_total",
				Help:      "Changesets submitted by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		stackEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stack_events_total",
				Help:      "Stack events observed by resource status",
			},
			[]string{"status"},
		),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_total",
				Help:      "Objects uploaded to the object store",
			},
			[]string{"kind"},
		),
		uploadsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uploads_skipped_total",
				Help:      "Objects not uploaded because they were filtered or already present",
			},
			[]string{"kind"},
		),
		uploadBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upload_bytes_total",
				Help:      "Bytes uploaded to the object store",
			},
			[]string{"kind"},
		),
		artifactsPackaged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_packaged_total",
				Help:      "Function bundles packaged",
			},
		),
		packagingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "packaging_duration_seconds",
				Help:      "Duration of packaging all function bundles",
				Buckets:   buckets,
			},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Errors by class and code",
			},
			[]string{"class", "code"},
		),
		activeOperations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_operations",
				Help:      "Deployment operations currently running",
			},
		),
	}

	registry.MustRegister(
		m.deployments,
		m.deploymentDuration,
		m.changesets,
		m.stackEvents,
		m.uploads,
		m.uploadsSkipped,
		m.uploadBytes,
		m.artifactsPackaged,
		m.packagingDuration,
		m.errors,
		m.activeOperations,
	)

	return m, nil
}

// RecordDeploymentStarted marks an operation as running.
func (m *Metrics) RecordDeploymentStarted() {
	if m == nil || m.activeOperations == nil {
		return
	}
	m.activeOperations.Inc()
}

// RecordDeploymentCompleted records a finished operation with its outcome and duration.
func (m *Metrics) RecordDeploymentCompleted(operation, outcome string, duration time.Duration) {
	if m == nil || m.deployments == nil {
		return
	}
	m.deployments.WithLabelValues(operation, outcome).Inc()
	m.deploymentDuration.WithLabelValues(operation).Observe(duration.Seconds())
	m.activeOperations.Dec()
}

// RecordChangeset records a submitted changeset.
func (m *Metrics) RecordChangeset(csType, outcome string) {
	if m == nil || m.changesets == nil {
		return
	}
	m.changesets.WithLabelValues(csType, outcome).Inc()
}

// RecordStackEvent counts an observed stack event.
func (m *Metrics) RecordStackEvent(status string) {
	if m == nil || m.stackEvents == nil {
		return
	}
	m.stackEvents.WithLabelValues(status).Inc()
}

// RecordUploads records the result of an upload pass.
func (m *Metrics) RecordUploads(kind string, uploaded, skipped int, bytes int64) {
	if m == nil || m.uploads == nil {
		return
	}
	m.uploads.WithLabelValues(kind).Add(float64(uploaded))
	m.uploadsSkipped.WithLabelValues(kind).Add(float64(skipped))
	m.uploadBytes.WithLabelValues(kind).Add(float64(bytes))
}

// RecordPackaging records a packaging run.
func (m *Metrics) RecordPackaging(count int, duration time.Duration) {
	if m == nil || m.artifactsPackaged == nil {
		return
	}
	m.artifactsPackaged.Add(float64(count))
	m.packagingDuration.Observe(duration.Seconds())
}

// RecordError records an error by class and code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errors == nil {
		return
	}
	m.errors.WithLabelValues(errorClass, errorCode).Inc()
}

// Gather exposes the registry for tests and exporters.
func (m *Metrics) Gather() (int, error) {
	if m == nil || m.registry == nil {
		return 0, nil
	}
	families, err := m.registry.Gather()
	return len(families), err
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer serves metrics until ctx is done. It returns immediately.
func (m *Metrics) StartMetricsServer(ctx context.Context, logger zerolog.Logger) error {
	if m == nil || !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", server.Addr).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", server.Addr).Str("path", path).Msg("Serving metrics")
	return nil
}
