package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config selects where spans go
type Config struct {
	ServiceName string
	// OTLPEnabled sends spans to Endpoint over Protocol ("grpc" or "http")
	OTLPEnabled bool
	Endpoint    string
	Protocol    string
	Insecure    bool
	Timeout     time.Duration
	// Console logs finished spans instead of exporting them
	Console bool
}

// Setup installs a tracer provider for cfg and returns its shutdown function.
// When neither OTLP nor console output is enabled tracing stays off.
func Setup(ctx context.Context, cfg Config, logger ectologger.Logger) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	switch {
	case cfg.OTLPEnabled:
		var err error
		exporter, err = newOTLPExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
	case cfg.Console:
		exporter = &ConsoleExporter{logger: logger}
	default:
		SetTracer(nil)
		return func(context.Context) error { return nil }, nil
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSpanProcessor(serviceNameProcessor{name: cfg.ServiceName}),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	SetTracer(provider.Tracer(cfg.ServiceName))

	logger.Infof("Tracing enabled: otlp=%t console=%t", cfg.OTLPEnabled, cfg.Console)
	return provider.Shutdown, nil
}

func newOTLPExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	switch cfg.Protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithTimeout(timeout),
		}
		if cfg.Insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithTimeout(timeout),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol: %s (use 'grpc' or 'http')", cfg.Protocol)
	}
}

// serviceNameProcessor stamps every span with the service name
type serviceNameProcessor struct {
	name string
}

func (p serviceNameProcessor) OnStart(_ context.Context, s sdktrace.ReadWriteSpan) {
	s.SetAttributes(attribute.String("service.name", p.name))
}

func (serviceNameProcessor) OnEnd(sdktrace.ReadOnlySpan)       {}
func (serviceNameProcessor) Shutdown(context.Context) error   { return nil }
func (serviceNameProcessor) ForceFlush(context.Context) error { return nil }

// ConsoleExporter writes finished spans to the logger
type ConsoleExporter struct {
	logger ectologger.Logger
}

func (c *ConsoleExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		c.logger.WithFields(map[string]any{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
			"status":   span.Status().Code.String(),
		}).Debugf("span %s took %s", span.Name(), span.EndTime().Sub(span.StartTime()))
	}
	return nil
}

func (c *ConsoleExporter) Shutdown(context.Context) error {
	return nil
}
