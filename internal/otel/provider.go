// Package otel wires OpenTelemetry tracing for the bridge binaries.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Tracing describes where spans go and how many of them are kept.
type Tracing struct {
	ServiceName string
	// Endpoint is an OTLP/HTTP URL such as http://localhost:4318.
	Endpoint string
	Enabled  bool
	// SampleRatio is the share of root spans kept. Values outside (0, 1)
	// keep every span.
	SampleRatio float64
}

// Active reports whether spans would be exported.
func (t Tracing) Active() bool {
	return t.Enabled && t.Endpoint != ""
}

// Sampler returns the sampler for root spans. Child spans follow their
// parent's decision.
func (t Tracing) Sampler() sdktrace.Sampler {
	root := sdktrace.AlwaysSample()
	if t.SampleRatio > 0 && t.SampleRatio < 1 {
		root = sdktrace.TraceIDRatioBased(t.SampleRatio)
	}
	return sdktrace.ParentBased(root)
}

// Setup registers a global tracer provider exporting to t.Endpoint and
// returns its shutdown function. When t is not Active nothing is registered
// and shutdown does nothing.
func Setup(ctx context.Context, t Tracing) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !t.Active() {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(t.Endpoint))
	if err != nil {
		return noop, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(t.ServiceName)),
		resource.WithProcessPID(),
		resource.WithHost(),
	)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return noop, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(t.Sampler()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
