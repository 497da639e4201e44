package tracing

import (
	"context"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const defaultTracesPath = "/v1/traces"

type Config struct {
	ServiceName string
	// Endpoint is the OTLP/HTTP collector base URL, for example
	// http://otel-collector:4318. Empty disables export.
	Endpoint string
}

// Init installs the global tracer provider and the W3C trace-context
// propagator, and returns the provider's shutdown func, which flushes
// pending spans. Extra provider options are appended after the exporter.
func Init(ctx context.Context, cfg Config, opts ...sdktrace.TracerProviderOption) (func(context.Context) error, error) {
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	base := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
	}

	if cfg.Endpoint != "" {
		exporter, err := newExporter(ctx, cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		base = append(base, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(append(base, opts...)...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, endpoint string) (*otlptrace.Exporter, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid OTLP endpoint %q", endpoint)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultTracesPath
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(u.String()))
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}
	return exporter, nil
}
