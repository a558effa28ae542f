// Package otel provides OpenTelemetry integration for toolmux provider
// discovery, tool invocation and health checks.
package otel

import (
	"context"
	"errors"
	"os"
	"strings"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/petal-labs/toolmux/tool"
)

const (
	// EndpointEnvVar is the standard OTLP endpoint variable, honoured when no
	// endpoint is configured explicitly.
	EndpointEnvVar = "OTEL_EXPORTER_OTLP_ENDPOINT"

	instrumentationName = "toolmux/tool"
	defaultServiceName  = "toolmux"
)

// SetupConfig controls the OpenTelemetry pipeline.
type SetupConfig struct {
	ServiceName string
	// Endpoint is an OTLP/HTTP collector URL such as http://localhost:4318.
	// Empty falls back to OTEL_EXPORTER_OTLP_ENDPOINT; when both are empty no
	// spans are exported.
	Endpoint string
	// Exporter overrides the OTLP exporter. Used by tests.
	Exporter sdktrace.SpanExporter
	// Reader attaches a metric reader to the meter provider.
	Reader sdkmetric.Reader
}

// ShutdownFunc flushes and stops the pipeline.
type ShutdownFunc func(ctx context.Context) error

// Setup installs SDK tracer and meter providers globally and registers a
// ToolObserver with the tool package. The returned function detaches the
// observer and shuts the providers down.
func Setup(ctx context.Context, cfg SetupConfig) (ShutdownFunc, error) {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	exporter := cfg.Exporter
	if exporter == nil {
		endpoint := strings.TrimSpace(cfg.Endpoint)
		if endpoint == "" {
			endpoint = strings.TrimSpace(os.Getenv(EndpointEnvVar))
		}
		if endpoint != "" {
			var err error
			exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
			if err != nil {
				return nil, err
			}
		}
	}

	traceOptions := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		traceOptions = append(traceOptions, sdktrace.WithBatcher(exporter))
	}
	tracerProvider := sdktrace.NewTracerProvider(traceOptions...)

	meterOptions := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.Reader != nil {
		meterOptions = append(meterOptions, sdkmetric.WithReader(cfg.Reader))
	}
	meterProvider := sdkmetric.NewMeterProvider(meterOptions...)

	observer, err := NewToolObserver(
		meterProvider.Meter(instrumentationName),
		tracerProvider.Tracer(instrumentationName),
	)
	if err != nil {
		return nil, errors.Join(err, tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}

	otelapi.SetTracerProvider(tracerProvider)
	otelapi.SetMeterProvider(meterProvider)
	tool.SetObserver(observer)

	return func(ctx context.Context) error {
		tool.SetObserver(nil)
		return errors.Join(tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}, nil
}
