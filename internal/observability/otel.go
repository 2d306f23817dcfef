package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ongoingai/collector/internal/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const instrumentationName = "ongoingai.collector"

// Runtime owns the collector's metric instruments. A nil or disabled
// Runtime accepts every call and records nothing.
type Runtime struct {
	enabled bool

	callsRecorded  metric.Int64Counter
	samplesWritten metric.Int64Counter
	samplesDropped metric.Int64Counter
	flushFailures  metric.Int64Counter
	tokens         metric.Int64Counter
	flushDuration  metric.Float64Histogram

	shutdownFns []func(context.Context) error
}

// Setup builds an OTLP/HTTP metric pipeline when cfg.Enabled is set. The
// meter provider is private to the collector and never installed globally.
func Setup(ctx context.Context, cfg config.OTelConfig, serviceVersion string, logger *slog.Logger) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !cfg.Enabled {
		return &Runtime{}, nil
	}

	exportTimeout := time.Duration(cfg.ExportTimeoutMS) * time.Millisecond
	metricInterval := time.Duration(cfg.MetricExportIntervalMS) * time.Millisecond
	otlpEndpoint, inferredInsecure, err := normalizeOTLPEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	insecure := cfg.Insecure
	if strings.Contains(strings.TrimSpace(cfg.Endpoint), "://") {
		// An endpoint URL's scheme wins over the insecure toggle.
		insecure = inferredInsecure
	}

	exporterOptions := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(otlpEndpoint),
		otlpmetrichttp.WithTimeout(exportTimeout),
	}
	if insecure {
		exporterOptions = append(exporterOptions, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, exporterOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize otel metric exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", strings.TrimSpace(cfg.ServiceName)),
		attribute.String("service.version", strings.TrimSpace(serviceVersion)),
	)
	reader := sdkmetric.NewPeriodicReader(
		exporter,
		sdkmetric.WithInterval(metricInterval),
		sdkmetric.WithTimeout(exportTimeout),
	)
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	runtime := newRuntime(meterProvider, logger)
	runtime.shutdownFns = append(runtime.shutdownFns, meterProvider.Shutdown)
	if logger != nil {
		logger.Info("opentelemetry metrics enabled",
			"otel_endpoint", otlpEndpoint,
			"otel_metric_interval", metricInterval.String(),
		)
	}
	return runtime, nil
}

func newRuntime(provider metric.MeterProvider, logger *slog.Logger) *Runtime {
	meter := provider.Meter(instrumentationName)
	warn := func(name string, err error) {
		if err != nil && logger != nil {
			logger.Warn("failed to create opentelemetry instrument", "metric", name, "error", err)
		}
	}

	runtime := &Runtime{enabled: true}
	var err error

	runtime.callsRecorded, err = meter.Int64Counter(
		"ongoingai.collector.calls_recorded_total",
		metric.WithDescription("LLM calls captured and buffered for export."),
	)
	warn("ongoingai.collector.calls_recorded_total", err)

	runtime.samplesWritten, err = meter.Int64Counter(
		"ongoingai.collector.samples_written_total",
		metric.WithDescription("Samples written to the data folder."),
	)
	warn("ongoingai.collector.samples_written_total", err)

	runtime.samplesDropped, err = meter.Int64Counter(
		"ongoingai.collector.samples_dropped_total",
		metric.WithDescription("Captured calls discarded because a payload did not parse."),
	)
	warn("ongoingai.collector.samples_dropped_total", err)

	runtime.flushFailures, err = meter.Int64Counter(
		"ongoingai.collector.flush_failures_total",
		metric.WithDescription("Storage operations that failed during a flush."),
	)
	warn("ongoingai.collector.flush_failures_total", err)

	runtime.tokens, err = meter.Int64Counter(
		"ongoingai.collector.tokens_total",
		metric.WithDescription("Token usage reported by providers in written samples."),
	)
	warn("ongoingai.collector.tokens_total", err)

	runtime.flushDuration, err = meter.Float64Histogram(
		"ongoingai.collector.flush_duration_ms",
		metric.WithDescription("Wall time of flushes that wrote samples."),
		metric.WithUnit("ms"),
	)
	warn("ongoingai.collector.flush_duration_ms", err)

	return runtime
}

func (r *Runtime) Enabled() bool {
	return r != nil && r.enabled
}

// RecordCall counts one buffered LLM call to host.
func (r *Runtime) RecordCall(host string) {
	if !r.Enabled() || r.callsRecorded == nil {
		return
	}
	r.callsRecorded.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("host", strings.ToLower(strings.TrimSpace(host)))),
	)
}

// RecordSample counts one written sample and its token usage.
func (r *Runtime) RecordSample(provider, model string, inputTokens, outputTokens int) {
	if !r.Enabled() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("model", strings.TrimSpace(model)),
	}
	if r.samplesWritten != nil {
		r.samplesWritten.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	}
	if r.tokens == nil {
		return
	}
	if inputTokens > 0 {
		r.tokens.Add(context.Background(), int64(inputTokens),
			metric.WithAttributes(append(attrs, attribute.String("direction", "input"))...))
	}
	if outputTokens > 0 {
		r.tokens.Add(context.Background(), int64(outputTokens),
			metric.WithAttributes(append(attrs, attribute.String("direction", "output"))...))
	}
}

// RecordDrop counts one call discarded for reason.
func (r *Runtime) RecordDrop(reason string) {
	if !r.Enabled() || r.samplesDropped == nil {
		return
	}
	r.samplesDropped.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", strings.TrimSpace(reason))),
	)
}

// RecordFlushFailure counts one failed storage operation.
func (r *Runtime) RecordFlushFailure(operation, errorClass string) {
	if !r.Enabled() || r.flushFailures == nil {
		return
	}
	r.flushFailures.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("operation", strings.TrimSpace(operation)),
			attribute.String("error_class", strings.TrimSpace(errorClass)),
		),
	)
}

// RecordFlush records the duration of a flush that wrote samples.
func (r *Runtime) RecordFlush(samples int, duration time.Duration) {
	if !r.Enabled() || r.flushDuration == nil || samples <= 0 {
		return
	}
	r.flushDuration.Record(context.Background(), float64(duration)/float64(time.Millisecond))
}

// Shutdown flushes and stops the meter provider.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil || len(r.shutdownFns) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for i := len(r.shutdownFns) - 1; i >= 0; i-- {
		if err := r.shutdownFns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.shutdownFns = nil
	return errors.Join(errs...)
}

func normalizeOTLPEndpoint(raw string) (string, bool, error) {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return "", false, errors.New("observability.otel.endpoint must not be empty")
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, false, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse observability.otel.endpoint: %w", err)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", false, fmt.Errorf("observability.otel.endpoint must include host (got %q)", raw)
	}

	switch strings.ToLower(strings.TrimSpace(parsed.Scheme)) {
	case "http":
		return parsed.Host, true, nil
	case "https":
		return parsed.Host, false, nil
	default:
		return "", false, fmt.Errorf("observability.otel.endpoint scheme must be http or https when provided (got %q)", parsed.Scheme)
	}
}
