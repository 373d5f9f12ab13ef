// Package telemetry installs the global OpenTelemetry tracer and logger
// providers every package logs and traces through.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
)

const (
	tracesPath = "/v1/traces"
	logsPath   = "/v1/logs"
)

type Config struct {
	ServiceName string
	Environment string
	// OTLPEndpoint is the collector base URL. Traces and logs are exported
	// over OTLP/HTTP when it is set.
	OTLPEndpoint string
	// TraceStdout prints spans to Console when no endpoint is set.
	TraceStdout bool
	// Console receives the human readable log lines. Defaults to stderr.
	Console io.Writer
	Verbose bool
}

type ShutdownFunc func(context.Context) error

// Init sets the global providers. The returned function flushes and stops
// them; it is safe to call when Init fails halfway.
func Init(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	var shutdowns []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdowns) - 1; i >= 0; i-- {
			errs = append(errs, shutdowns[i](ctx))
		}
		shutdowns = nil
		return errors.Join(errs...)
	}

	if cfg.Console == nil {
		cfg.Console = os.Stderr
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return shutdown, fmt.Errorf("create resource: %w", err)
	}

	// --- Traces ---
	var spanExporter sdktrace.SpanExporter
	switch {
	case cfg.OTLPEndpoint != "":
		endpoint, err := signalURL(cfg.OTLPEndpoint, tracesPath)
		if err != nil {
			return shutdown, err
		}
		spanExporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
		if err != nil {
			return shutdown, fmt.Errorf("create trace exporter: %w", err)
		}
	case cfg.TraceStdout:
		spanExporter, err = stdouttrace.New(stdouttrace.WithWriter(cfg.Console), stdouttrace.WithPrettyPrint())
		if err != nil {
			return shutdown, fmt.Errorf("create stdout trace exporter: %w", err)
		}
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)
	shutdowns = append(shutdowns, tp.Shutdown)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	// --- Logs ---
	consoleOpts := []ConsoleOption{}
	if cfg.Verbose {
		consoleOpts = append(consoleOpts, WithConsoleVerbose())
	}
	logOpts := []sdklog.LoggerProviderOption{
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewSimpleProcessor(NewConsoleExporter(cfg.Console, consoleOpts...))),
	}
	if cfg.OTLPEndpoint != "" {
		endpoint, err := signalURL(cfg.OTLPEndpoint, logsPath)
		if err != nil {
			return shutdown, err
		}
		logExporter, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(endpoint))
		if err != nil {
			return shutdown, fmt.Errorf("create log exporter: %w", err)
		}
		logOpts = append(logOpts, sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)))
	}

	lp := sdklog.NewLoggerProvider(logOpts...)
	shutdowns = append(shutdowns, lp.Shutdown)
	global.SetLoggerProvider(lp)

	return shutdown, nil
}

// signalURL appends the per-signal path when the endpoint is a bare
// collector address, matching how the OTLP environment variable is read.
func signalURL(endpoint, path string) (string, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid otlp endpoint %q", endpoint)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = path
	} else if !strings.HasSuffix(u.Path, path) {
		u.Path = strings.TrimRight(u.Path, "/") + path
	}
	return u.String(), nil
}
