package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/zatekoja/scribesync"

// Metrics holds all application metrics
type Metrics struct {
	RequestCount      metric.Int64Counter
	RequestDuration   metric.Float64Histogram
	TasksExecuted     metric.Int64Counter
	FlushDuration     metric.Float64Histogram
	QueuePending      metric.Int64UpDownCounter
	EnqueueRejected   metric.Int64Counter
	HydrationDuration metric.Float64Histogram
}

// Setup initializes OpenTelemetry
func Setup(ctx context.Context, serviceName, serviceVersion, endpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		_ = tracerProvider.Shutdown(ctx)
		_ = meterProvider.Shutdown(ctx)
		return nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}

	return shutdown, nil
}

// InitMetrics initializes application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	requestCount, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	tasksExecuted, err := meter.Int64Counter(
		"sync.tasks.executed",
		metric.WithDescription("Number of sync tasks executed against the remote store"),
	)
	if err != nil {
		return nil, err
	}

	flushDuration, err := meter.Float64Histogram(
		"sync.flush.duration",
		metric.WithDescription("Sync queue flush duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	queuePending, err := meter.Int64UpDownCounter(
		"sync.queue.pending",
		metric.WithDescription("Number of tasks waiting in the sync queue"),
	)
	if err != nil {
		return nil, err
	}

	enqueueRejected, err := meter.Int64Counter(
		"sync.enqueue.rejected",
		metric.WithDescription("Number of remote writes rejected before they were queued"),
	)
	if err != nil {
		return nil, err
	}

	hydrationDuration, err := meter.Float64Histogram(
		"sync.hydration.duration",
		metric.WithDescription("Hydration duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCount:      requestCount,
		RequestDuration:   requestDuration,
		TasksExecuted:     tasksExecuted,
		FlushDuration:     flushDuration,
		QueuePending:      queuePending,
		EnqueueRejected:   enqueueRejected,
		HydrationDuration: hydrationDuration,
	}, nil
}

// StartSpan starts a new trace span
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	tracer := otel.Tracer(instrumentationName)
	return tracer.Start(ctx, spanName)
}

// RecordError records an error in the current span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// RecordRequestMetric records an HTTP request
func RecordRequestMetric(ctx context.Context, metrics *Metrics, method, path string, statusCode int, duration time.Duration) {
	if metrics == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.Int("http.status_code", statusCode),
	}

	metrics.RequestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.RequestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordTaskExecuted counts one executed sync task
func RecordTaskExecuted(ctx context.Context, metrics *Metrics, kind string, err error) {
	if metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.TasksExecuted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sync.task.kind", kind),
		attribute.String("sync.task.outcome", outcome),
	))
}

// RecordFlushDuration records how long a flush took
func RecordFlushDuration(ctx context.Context, metrics *Metrics, reason string, duration time.Duration) {
	if metrics == nil {
		return
	}
	metrics.FlushDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("sync.flush.reason", reason)))
}

// AddQueuePending adjusts the pending-task gauge
func AddQueuePending(ctx context.Context, metrics *Metrics, delta int64) {
	if metrics == nil {
		return
	}
	metrics.QueuePending.Add(ctx, delta)
}

// RecordEnqueueRejected counts a rejected enqueue
func RecordEnqueueRejected(ctx context.Context, metrics *Metrics, label string) {
	if metrics == nil {
		return
	}
	metrics.EnqueueRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("sync.task.label", label)))
}

// RecordHydrationDuration records a hydration attempt
func RecordHydrationDuration(ctx context.Context, metrics *Metrics, status string, duration time.Duration) {
	if metrics == nil {
		return
	}
	metrics.HydrationDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("sync.hydration.status", status)))
}
