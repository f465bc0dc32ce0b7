package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const defaultEndpoint = "http://localhost:4318/v1/traces"

// Endpoint is the resolved OTLP/HTTP collector address.
type Endpoint struct {
	Host     string
	Path     string
	Insecure bool
}

// ParseEndpoint accepts a full URL or a bare host:port.
func ParseEndpoint(raw string) Endpoint {
	if raw == "" {
		raw = defaultEndpoint
	}
	ep := Endpoint{Host: "localhost:4318", Path: "/v1/traces", Insecure: true}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil {
			if u.Host != "" {
				ep.Host = u.Host
			}
			if u.Path != "" {
				ep.Path = u.Path
			}
			ep.Insecure = u.Scheme == "http"
		}
		return ep
	}
	ep.Host = raw
	return ep
}

// InitTracer installs a global tracer provider exporting over OTLP/HTTP to
// OTEL_EXPORTER_OTLP_TRACES_ENDPOINT. The returned func flushes and stops it.
func InitTracer(ctx context.Context, serviceName, version string) (func(context.Context) error, error) {
	ep := ParseEndpoint(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"))

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(ep.Host),
		otlptracehttp.WithURLPath(ep.Path),
	}
	if ep.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1.0))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}
