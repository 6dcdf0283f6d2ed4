package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the job, device task and HTTP instruments.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	meter metric.Meter

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter

	// Job metrics
	JobDuration metric.Float64Histogram
	JobsTotal   metric.Int64Counter
	JobsActive  metric.Int64UpDownCounter

	// Device task metrics
	DeviceTaskDuration metric.Float64Histogram
	DeviceTasksTotal   metric.Int64Counter
	SessionsInFlight   metric.Int64Gauge
}

// NewMetrics creates all instruments on a private Prometheus registry and
// returns the handler that serves it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("netquery")
	m := &Metrics{meter: meter}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Job duration from dispatch to final record in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsTotal, err = meter.Int64Counter(
		"jobs_total",
		metric.WithDescription("Total number of jobs by terminal state"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsActive, err = meter.Int64UpDownCounter(
		"jobs_active",
		metric.WithDescription("Number of jobs currently dispatching or draining"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DeviceTaskDuration, err = meter.Float64Histogram(
		"device_task_duration_seconds",
		metric.WithDescription("Time spent on one device in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DeviceTasksTotal, err = meter.Int64Counter(
		"device_tasks_total",
		metric.WithDescription("Total number of device tasks by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.SessionsInFlight, err = meter.Int64Gauge(
		"sessions_in_flight",
		metric.WithDescription("Device sessions currently open (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)
	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
}

// RecordJobStarted records a job entering the running state.
func (m *Metrics) RecordJobStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.JobsActive.Add(ctx, 1)
}

// RecordJobFinished records a job reaching a terminal state after it ran.
func (m *Metrics) RecordJobFinished(ctx context.Context, state string, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(stateAttr(state))
	m.JobsActive.Add(ctx, -1)
	m.JobsTotal.Add(ctx, 1, attrs)
	m.JobDuration.Record(ctx, durationSeconds, attrs)
}

// RecordJobRejected records a job that errored before dispatch.
func (m *Metrics) RecordJobRejected(ctx context.Context) {
	if m == nil {
		return
	}
	m.JobsTotal.Add(ctx, 1, metric.WithAttributes(stateAttr("errored")))
}

// RecordDeviceTask records one finished device task.
func (m *Metrics) RecordDeviceTask(ctx context.Context, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(resultAttr(status))
	m.DeviceTasksTotal.Add(ctx, 1, attrs)
	m.DeviceTaskDuration.Record(ctx, durationSeconds, attrs)
}

// RecordSessionsInFlight records the number of open device sessions.
func (m *Metrics) RecordSessionsInFlight(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.SessionsInFlight.Record(ctx, n)
}
