package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
)

const (
	ServiceName    = "tradepulse"
	ServiceVersion = "v1.0.0"
	MeterName      = "tradepulse"
)

// Telemetry holds the OpenTelemetry meter provider and the engine's
// metric instruments.
type Telemetry struct {
	MeterProvider  *sdkmetric.MeterProvider
	Meter          metric.Meter
	PrometheusHTTP http.Handler

	stageDuration  metric.Float64Histogram
	stageErrors    metric.Int64Counter
	calcTimeouts   metric.Int64Counter
	notifications  metric.Int64Counter
	queueDepth     metric.Int64UpDownCounter
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	cacheEvictions metric.Int64Counter
}

// InitTelemetry sets up a Prometheus-backed meter provider and the
// engine instruments. The returned handler serves /metrics.
func InitTelemetry(logger *slog.Logger) (*Telemetry, error) {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)

	t := &Telemetry{
		MeterProvider:  mp,
		Meter:          mp.Meter(MeterName, metric.WithInstrumentationVersion(ServiceVersion)),
		PrometheusHTTP: promhttp.Handler(),
	}

	if err := t.createInstruments(); err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}

	logger.Info("telemetry initialized", slog.String("exporter", "prometheus"))
	return t, nil
}

func (t *Telemetry) createInstruments() error {
	var err error

	t.stageDuration, err = t.Meter.Float64Histogram(
		"engine_stage_duration_seconds",
		metric.WithDescription("Recomputation stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	t.stageErrors, err = t.Meter.Int64Counter(
		"engine_stage_errors_total",
		metric.WithDescription("Total number of pipeline stage errors"),
	)
	if err != nil {
		return err
	}

	t.calcTimeouts, err = t.Meter.Int64Counter(
		"engine_calculation_timeouts_total",
		metric.WithDescription("Total number of calculation timeouts"),
	)
	if err != nil {
		return err
	}

	t.notifications, err = t.Meter.Int64Counter(
		"engine_notifications_total",
		metric.WithDescription("Total number of debounced subscriber notifications"),
	)
	if err != nil {
		return err
	}

	t.queueDepth, err = t.Meter.Int64UpDownCounter(
		"engine_queue_depth",
		metric.WithDescription("Number of calculations waiting or running"),
	)
	if err != nil {
		return err
	}

	t.cacheHits, err = t.Meter.Int64Counter(
		"cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	)
	if err != nil {
		return err
	}

	t.cacheMisses, err = t.Meter.Int64Counter(
		"cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	)
	if err != nil {
		return err
	}

	t.cacheEvictions, err = t.Meter.Int64Counter(
		"cache_evictions_total",
		metric.WithDescription("Total number of cache evictions"),
	)
	return err
}

// RecordStage records one pipeline stage execution.
func (t *Telemetry) RecordStage(ctx context.Context, stage string, d time.Duration, err error) {
	if t == nil {
		return
	}
	t.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("success", err == nil),
	))
	if err != nil {
		t.stageErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

// RecordTimeout records one calculation timeout.
func (t *Telemetry) RecordTimeout(ctx context.Context, name string) {
	if t == nil {
		return
	}
	t.calcTimeouts.Add(ctx, 1, metric.WithAttributes(attribute.String("calculation", name)))
}

// RecordNotification records one coalesced subscriber notification.
func (t *Telemetry) RecordNotification(ctx context.Context, subscribers int) {
	if t == nil {
		return
	}
	t.notifications.Add(ctx, 1, metric.WithAttributes(attribute.Int("subscribers", subscribers)))
}

// RecordQueueDelta adjusts the queue depth gauge.
func (t *Telemetry) RecordQueueDelta(ctx context.Context, delta int64) {
	if t == nil {
		return
	}
	t.queueDepth.Add(ctx, delta)
}

// RecordCacheAccess records one cache lookup outcome.
func (t *Telemetry) RecordCacheAccess(ctx context.Context, hit bool) {
	if t == nil {
		return
	}
	if hit {
		t.cacheHits.Add(ctx, 1)
	} else {
		t.cacheMisses.Add(ctx, 1)
	}
}

// RecordCacheEviction records evicted entries.
func (t *Telemetry) RecordCacheEviction(ctx context.Context, count int64) {
	if t == nil {
		return
	}
	t.cacheEvictions.Add(ctx, count)
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.MeterProvider == nil {
		return nil
	}
	return t.MeterProvider.Shutdown(ctx)
}
