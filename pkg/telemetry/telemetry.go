// Package telemetry wires OpenTelemetry tracing for the scan pipeline
// and the gateway. Export is opt-in: without OTEL_EXPORTER_OTLP_ENDPOINT
// in the environment, spans stay in-process no-ops and nothing dials
// out.
package telemetry

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcpscan/mcpscan/pkg/duration"
)

const endpointEnv = "OTEL_EXPORTER_OTLP_ENDPOINT"

// Init installs the global tracer provider. The returned shutdown
// flushes pending spans; call it on process exit.
func Init(ctx context.Context, service, version string) (func(context.Context) error, error) {
	endpoint := os.Getenv(endpointEnv)
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, duration.ExporterConnect)
	defer cancel()
	exporter, err := otlptracegrpc.New(dialCtx,
		otlptracegrpc.WithEndpointURL(endpoint))
	if err != nil {
		return nil, err
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", service),
		attribute.String("service.version", version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, duration.ExporterShutdown)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

// Tracer returns the named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
