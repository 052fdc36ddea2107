package tracing

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	otlog "github.com/opentracing/opentracing-go/log"
	"github.com/pkg/errors"
)

const component = "messenger-kafka"

// StartProducerSpan starts a span for publishing a message, child of the
// span found in ctx if any.
func StartProducerSpan(ctx context.Context, operation string, destinations ...string) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, operation, ext.SpanKindProducer)
	ext.Component.Set(span, component)
	for _, d := range destinations {
		ext.MessageBusDestination.Set(span, d)
	}
	return span, ctx
}

// StartConsumerSpan starts a span for a received message. When the headers
// carry a span context, the new span follows from it.
func StartConsumerSpan(ctx context.Context, operation string, headers map[string]string) (opentracing.Span, context.Context) {
	opts := []opentracing.StartSpanOption{ext.SpanKindConsumer}
	if remote, err := Extract(headers); err == nil && remote != nil {
		opts = append(opts, opentracing.FollowsFrom(remote))
	}

	span, ctx := opentracing.StartSpanFromContext(ctx, operation, opts...)
	ext.Component.Set(span, component)
	return span, ctx
}

// Inject writes the span context of span into message headers.
func Inject(span opentracing.Span, headers map[string]string) error {
	return span.Tracer().Inject(span.Context(), opentracing.TextMap, opentracing.TextMapCarrier(headers))
}

// Extract reads a span context from message headers using the global tracer.
func Extract(headers map[string]string) (opentracing.SpanContext, error) {
	return opentracing.GlobalTracer().Extract(opentracing.TextMap, opentracing.TextMapCarrier(headers))
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// LogErrorToSpan flags span as failed and records err on it.
func LogErrorToSpan(span opentracing.Span, err error) {
	if err == nil || span == nil {
		return
	}

	ext.Error.Set(span, true)
	span.LogFields(otlog.String("event", "error"), otlog.Error(err))
	if sterr, ok := err.(stackTracer); ok {
		span.LogFields(otlog.String("stack", fmt.Sprintf("%+v", sterr.StackTrace())))
	}
}
