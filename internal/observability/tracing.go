// Package observability provides OpenTelemetry integration for
// distributed tracing.
//
// Traces are exported over OTLP HTTP to a local collector agent
// (default localhost:4318). Running through a local agent rather than a
// hosted endpoint keeps authentication out of the application and gives
// local buffering and retry for free.
//
// Tracing is opt-in via the tracing section of the config file:
//
//	tracing:
//	  enabled: true
//	  agent_host: "localhost:4318"
//	  environment: "dev"
//	  service_name: "parley"
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/parley-ai/parley/internal/log"
)

// Config for the OTLP trace exporter.
type Config struct {
	// AgentHost is the collector's OTLP HTTP endpoint (default: localhost:4318)
	AgentHost string
	// Environment is the deployment environment (dev, staging, prod)
	Environment string
	// ServiceName is the service name shown in the APM backend
	ServiceName string
}

// DefaultAgentHost is the default OTLP HTTP endpoint of a local agent.
const DefaultAgentHost = "localhost:4318"

// Setup installs a tracer provider exporting to the configured agent
// and registers it as the global provider.
//
// Returns a shutdown function that flushes pending spans. An exporter
// construction failure disables tracing but does not fail startup.
func Setup(ctx context.Context, cfg Config, logger log.Logger) (shutdown func(context.Context) error, err error) {
	if logger == nil {
		logger = log.NewNop()
	}

	agentHost := cfg.AgentHost
	if agentHost == "" {
		agentHost = DefaultAgentHost
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "parley"
	}

	// The agent handles authentication and forwarding; localhost needs
	// no TLS.
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(agentHost),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		"agent", agentHost,
		"service", serviceName,
		"environment", cfg.Environment,
	)

	return tp.Shutdown, nil
}
