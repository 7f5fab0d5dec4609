package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/praxislabs/scout/internal/config"
)

var tracer oteltrace.Tracer

var provider *trace.TracerProvider

// Initialize sets up OTLP tracing. A tracer handle is always installed so
// span helpers are safe to call when tracing is disabled.
func Initialize(cfg config.TracingConfig, logger *zap.Logger) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "scout-orchestrator"
	}
	tracer = otel.Tracer(cfg.ServiceName)

	if !cfg.Enabled {
		logger.Info("Tracing disabled")
		return nil
	}
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	tracer = provider.Tracer(cfg.ServiceName)

	logger.Info("Tracing initialized",
		zap.String("service", cfg.ServiceName),
		zap.String("endpoint", cfg.OTLPEndpoint),
	)
	return nil
}

// Shutdown flushes pending spans.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.Shutdown(ctx)
}

// StartStage starts a span for one orchestration stage of a task.
func StartStage(ctx context.Context, stage, taskID string) (context.Context, oteltrace.Span) {
	if tracer == nil {
		tracer = otel.Tracer("scout-orchestrator")
	}
	return tracer.Start(ctx, stage,
		oteltrace.WithAttributes(attribute.String("task.id", taskID)),
	)
}

// StartCall starts a span for one remote capability call.
func StartCall(ctx context.Context, capability string) (context.Context, oteltrace.Span) {
	if tracer == nil {
		tracer = otel.Tracer("scout-orchestrator")
	}
	return tracer.Start(ctx, "capability."+capability,
		oteltrace.WithAttributes(attribute.String("capability", capability)),
	)
}
