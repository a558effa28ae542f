package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/toolmux/tool"
)

// ToolObserver records invocation, discovery, retry and health signals into
// OpenTelemetry.
type ToolObserver struct {
	tracer trace.Tracer

	invocations metric.Int64Counter
	retries     metric.Int64Counter
	discoveries metric.Int64Counter
	health      metric.Int64Counter
	latency     metric.Float64Histogram
}

// NewToolObserver creates a tool observer bound to the provided meter/tracer.
// A nil tracer records metrics only.
func NewToolObserver(meter metric.Meter, tracer trace.Tracer) (*ToolObserver, error) {
	invocations, err := meter.Int64Counter(
		"toolmux.tool.invocations",
		metric.WithDescription("Number of tool invocations"),
	)
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter(
		"toolmux.tool.retries",
		metric.WithDescription("Number of retried provider launches"),
	)
	if err != nil {
		return nil, err
	}
	discoveries, err := meter.Int64Counter(
		"toolmux.provider.discoveries",
		metric.WithDescription("Number of provider discovery passes"),
	)
	if err != nil {
		return nil, err
	}
	health, err := meter.Int64Counter(
		"toolmux.provider.health.checks",
		metric.WithDescription("Number of provider health checks"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"toolmux.tool.latency",
		metric.WithDescription("Provider exchange latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ToolObserver{
		tracer:      tracer,
		invocations: invocations,
		retries:     retries,
		discoveries: discoveries,
		health:      health,
		latency:     latency,
	}, nil
}

// ObserveInvoke records one invocation result.
func (o *ToolObserver) ObserveInvoke(observation tool.ToolInvokeObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("provider_id", observation.ProviderID),
		attribute.String("tool_name", observation.ToolName),
		attribute.Bool("success", observation.Success),
		attribute.Bool("tool_reported_error", observation.ToolReported),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.invocations.Add(ctx, 1, options)
	o.latency.Record(ctx, seconds(observation.DurationMS), metric.WithAttributes(
		extend(attrs, attribute.String("operation", "invoke"))...,
	))

	o.endSpan("tool.invoke", observation.DurationMS, extend(attrs,
		attribute.String("invocation_id", observation.InvocationID),
		attribute.Int("attempts", observation.Attempts),
	), observation.Success, observation.ErrorCode)
}

// ObserveRetry records one retried launch.
func (o *ToolObserver) ObserveRetry(observation tool.ToolRetryObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("provider_id", observation.ProviderID),
		attribute.String("tool_name", observation.ToolName),
		attribute.Int("attempt", observation.Attempt),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}
	o.retries.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

// ObserveDiscovery records one provider discovery pass.
func (o *ToolObserver) ObserveDiscovery(observation tool.ProviderDiscoveryObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("provider_id", observation.ProviderID),
		attribute.Bool("success", observation.Success),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	o.discoveries.Add(ctx, 1, metric.WithAttributes(attrs...))
	o.latency.Record(ctx, seconds(observation.DurationMS), metric.WithAttributes(
		extend(attrs, attribute.String("operation", "discover"))...,
	))

	o.endSpan("provider.discover", observation.DurationMS, extend(attrs,
		attribute.Int("tool_count", observation.ToolCount),
	), observation.Success, observation.ErrorCode)
}

// ObserveHealth records one provider health-check result.
func (o *ToolObserver) ObserveHealth(observation tool.ProviderHealthObservation) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("provider_id", observation.ProviderID),
		attribute.String("state", string(observation.State)),
		attribute.String("previous_state", string(observation.PreviousState)),
	}
	if observation.ErrorCode != "" {
		attrs = append(attrs, attribute.String("error_code", observation.ErrorCode))
	}

	ctx := context.Background()
	o.health.Add(ctx, 1, metric.WithAttributes(attrs...))
	o.latency.Record(ctx, seconds(observation.DurationMS), metric.WithAttributes(
		attribute.String("provider_id", observation.ProviderID),
		attribute.String("operation", "health"),
	))

	o.endSpan("provider.health.check", observation.DurationMS, extend(attrs,
		attribute.Int("tool_count", observation.ToolCount),
	), observation.State == tool.HealthHealthy, observation.ErrorCode)
}

// endSpan records a finished operation as a span that ends now and started
// durationMS earlier.
func (o *ToolObserver) endSpan(name string, durationMS int64, attrs []attribute.KeyValue, ok bool, errorCode string) {
	if o.tracer == nil {
		return
	}
	end := time.Now()
	start := end.Add(-time.Duration(durationMS) * time.Millisecond)
	_, span := o.tracer.Start(context.Background(), name,
		trace.WithAttributes(attrs...),
		trace.WithTimestamp(start),
	)
	if ok {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, errorCode)
	}
	span.End(trace.WithTimestamp(end))
}

func extend(attrs []attribute.KeyValue, extra ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)+len(extra))
	out = append(out, attrs...)
	return append(out, extra...)
}

func seconds(durationMS int64) float64 {
	return (time.Duration(durationMS) * time.Millisecond).Seconds()
}

var _ tool.Observer = (*ToolObserver)(nil)
