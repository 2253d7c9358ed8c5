package agent

import (
	"context"

	"github.com/conveyor-ci/conveyor"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

const packageName = "github.com/conveyor-ci/conveyor/agent"

// initOtel wires the runner's tracer to the configured collector. When
// tracing is disabled the runner gets the global no-op tracer, so span
// creation is always safe.
func (r *Runner) initOtel(ctx context.Context) error {
	tracerConf := r.env.Settings().Tracer
	if !tracerConf.Enabled {
		r.tracer = otel.GetTracerProvider().Tracer(packageName)
		return nil
	}

	conn, err := grpc.DialContext(ctx,
		tracerConf.CollectorEndpoint,
		grpc.WithTransportCredentials(credentials.NewTLS(nil)),
	)
	if err != nil {
		return errors.Wrapf(err, "opening gRPC connection to '%s'", tracerConf.CollectorEndpoint)
	}

	client := otlptracegrpc.NewClient(otlptracegrpc.WithGRPCConn(conn))
	traceExporter, err := otlptrace.New(ctx, client)
	if err != nil {
		return errors.Wrap(err, "initializing otel exporter")
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(hostResource()),
	)
	otel.SetTracerProvider(tp)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		grip.Error(errors.Wrap(err, "otel error"))
	}))

	r.tracer = tp.Tracer(packageName)

	r.env.RegisterCloser("tracer-provider", func(ctx context.Context) error {
		catcher := grip.NewBasicCatcher()
		catcher.Wrap(tp.Shutdown(ctx), "trace provider shutdown")
		catcher.Wrap(traceExporter.Shutdown(ctx), "trace exporter shutdown")
		catcher.Wrap(conn.Close(), "closing gRPC connection")

		return catcher.Resolve()
	})

	return nil
}

func hostResource() *resource.Resource {
	return resource.NewSchemaless(
		semconv.ServiceName("conveyor-agent"),
		semconv.ServiceVersion(conveyor.ClientVersion),
	)
}
