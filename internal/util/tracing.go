package util

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const serviceName = "cafe-service"

var tracer trace.Tracer

// InitTracer exports spans to Jaeger when enabled; otherwise spans go to the
// global no-op provider. The returned function flushes pending spans.
func InitTracer(jaegerEndpoint string, enabled bool) (func(context.Context) error, error) {
	if !enabled {
		tracer = otel.Tracer(serviceName)
		GetLogger().Info("Tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(serviceName)

	GetLogger().Info("Tracer initialized", zap.String("endpoint", jaegerEndpoint))
	return tp.Shutdown, nil
}

// GetTracer returns the service tracer
func GetTracer() trace.Tracer {
	if tracer == nil {
		tracer = otel.Tracer(serviceName)
	}
	return tracer
}

// StartSpan starts a span carrying the given attributes.
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it. Meant to be deferred
// with a pointer to the named error result.
func EndSpan(span trace.Span, err *error) {
	if err != nil && *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

// Span attribute constructors matching the log fields.

func ProductAttr(id int64) attribute.KeyValue { return attribute.Int64("cafe.product_id", id) }
func CartAttr(id int64) attribute.KeyValue { return attribute.Int64("cafe.cart_id", id) }
func OrderAttr(id int64) attribute.KeyValue { return attribute.Int64("cafe.order_id", id) }
