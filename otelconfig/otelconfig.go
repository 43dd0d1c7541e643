// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otelconfig builds the trace provider selected by config.
package otelconfig

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Exporter names accepted by [Config].
const (
	ExporterNone        = "none"
	ExporterStdout      = "stdout"
	ExporterOTLP        = "otlp"
	ExporterGoogleCloud = "gcp"
)

// Config selects and configures the trace exporter.
type Config struct {
	// Exporter is one of "none" (default), "stdout", "otlp" or "gcp".
	Exporter    string `config:"exporter"`
	ServiceName string `config:"serviceName"`

	// Target is the gRPC target of the OTLP collector.
	Target string `config:"target"`

	// ProjectId of the Cloud Trace project.
	ProjectId string `config:"projectId"`
}

// UnknownExporterError is returned for an exporter name which is not supported.
type UnknownExporterError struct {
	Exporter string
}

// Error implements the error interface.
func (e UnknownExporterError) Error() string {
	return fmt.Sprintf("unknown otel exporter: %q", e.Exporter)
}

// Initializer creates a trace provider.
type Initializer interface {
	Init(context.Context) (trace.TracerProvider, error)
}

// Initializer returns the [Initializer] for the configured exporter.
func (cfg Config) Initializer() (Initializer, error) {
	switch cfg.Exporter {
	case "", ExporterNone:
		return Noop, nil
	case ExporterStdout:
		return Local(cfg.ServiceName, os.Stdout), nil
	case ExporterOTLP:
		return OTLP{ServiceName: cfg.ServiceName, Target: cfg.Target}, nil
	case ExporterGoogleCloud:
		return GoogleCloud{ServiceName: cfg.ServiceName, ProjectId: cfg.ProjectId}, nil
	default:
		return nil, UnknownExporterError{Exporter: cfg.Exporter}
	}
}

// Initialize installs the configured trace provider and the W3C trace
// context propagator as OTel globals.
func (cfg Config) Initialize(ctx context.Context) error {
	initializer, err := cfg.Initializer()
	if err != nil {
		return err
	}

	tp, err := initializer.Init(ctx)
	if err != nil {
		return err
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

// Noop keeps whatever trace provider is currently installed.
var Noop Initializer = noopInitializer{}

type noopInitializer struct{}

func (noopInitializer) Init(context.Context) (trace.TracerProvider, error) {
	return otel.GetTracerProvider(), nil
}

func serviceResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	return resource.New(
		ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
}

// LocalInitializer writes spans as JSON to a writer.
type LocalInitializer struct {
	ServiceName string
	Out         io.Writer
}

// Local returns a [LocalInitializer] writing to out.
func Local(serviceName string, out io.Writer) LocalInitializer {
	return LocalInitializer{ServiceName: serviceName, Out: out}
}

// Init implements the [Initializer] interface.
func (l LocalInitializer) Init(ctx context.Context) (trace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(l.Out))
	if err != nil {
		return nil, err
	}

	res, err := serviceResource(ctx, l.ServiceName)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return tp, nil
}

// OTLP exports spans to an OTLP collector over gRPC.
type OTLP struct {
	ServiceName string
	Target      string
}

// Init implements the [Initializer] interface.
func (o OTLP) Init(ctx context.Context) (trace.TracerProvider, error) {
	res, err := serviceResource(ctx, o.ServiceName)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	// The collector is expected next to the process, hence no TLS.
	conn, err := grpc.DialContext(
		dialCtx,
		o.Target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	return tp, nil
}

// GoogleCloud exports spans directly to Cloud Trace.
type GoogleCloud struct {
	ServiceName string
	ProjectId   string
}

// Init implements the [Initializer] interface.
func (g GoogleCloud) Init(ctx context.Context) (trace.TracerProvider, error) {
	exporter, err := texporter.New(
		texporter.WithProjectID(g.ProjectId),
		texporter.WithTraceClientOptions([]option.ClientOption{option.WithTelemetryDisabled()}),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(
		ctx,
		resource.WithDetectors(gcp.NewDetector()),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceName(g.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return tp, nil
}
