package tracing

import (
	"context"
	"testing"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/mocktracer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mockTracer(t *testing.T) *mocktracer.MockTracer {
	tracer := mocktracer.New()
	opentracing.SetGlobalTracer(tracer)
	t.Cleanup(func() { opentracing.SetGlobalTracer(opentracing.NoopTracer{}) })
	return tracer
}

func TestProducerToConsumerPropagation(t *testing.T) {
	tracer := mockTracer(t)

	span, _ := StartProducerSpan(context.Background(), "kafka.send", "orders")
	headers := map[string]string{"type": "order.placed"}
	require.NoError(t, Inject(span, headers))
	span.Finish()

	consumerSpan, _ := StartConsumerSpan(context.Background(), "kafka.receive", headers)
	consumerSpan.Finish()

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[0].SpanContext.TraceID, spans[1].SpanContext.TraceID)
	assert.Equal(t, spans[0].SpanContext.SpanID, spans[1].ParentID)
	assert.Equal(t, "orders", spans[0].Tag("message_bus.destination"))
	assert.Equal(t, "order.placed", headers["type"])
}

func TestConsumerSpanWithoutRemoteContext(t *testing.T) {
	tracer := mockTracer(t)

	span, _ := StartConsumerSpan(context.Background(), "kafka.receive", map[string]string{})
	span.Finish()

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, 0, spans[0].ParentID)
}

func TestLogErrorToSpan(t *testing.T) {
	tracer := mockTracer(t)

	span := tracer.StartSpan("kafka.send")
	LogErrorToSpan(span, errors.New("broker unavailable"))
	LogErrorToSpan(span, nil)
	span.Finish()

	spans := tracer.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, true, spans[0].Tag("error"))
	assert.Len(t, spans[0].Logs(), 2)
}
