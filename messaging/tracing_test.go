package messaging

import (
	"context"
	"testing"

	"github.com/glimte/courier/config"
	"github.com/glimte/courier/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func remoteSpanContext(t *testing.T) trace.SpanContext {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
}

func TestHeaderCarrier(t *testing.T) {
	c := headerCarrier(amqp.Table{"a": "x", "b": []byte("y"), "n": int32(3)})
	assert.Equal(t, "x", c.Get("a"))
	assert.Equal(t, "y", c.Get("b"))
	assert.Equal(t, "3", c.Get("n"))
	assert.Empty(t, c.Get("missing"))

	c.Set("traceparent", "00-abc")
	assert.ElementsMatch(t, []string{"a", "b", "n", "traceparent"}, c.Keys())
}

func TestTraceContextCrossesTheBroker(t *testing.T) {
	sc := remoteSpanContext(t)
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), sc)

	var published amqp.Publishing
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "", "k", mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(3).(amqp.Publishing) }).
		Return(nil)

	s := NewSender("x", &config.SenderDestination{RoutingKey: "k"}, pub, WithHostResolver(staticHost("h")))
	env, err := s.NewEnvelope(customer{ID: 1}, "")
	require.NoError(t, err)
	require.NoError(t, s.Publish(ctx, nil, env))

	traceparent, ok := published.Headers["traceparent"].(string)
	require.True(t, ok)
	assert.Contains(t, traceparent, sc.TraceID().String())

	ack := &mockAcknowledger{}
	ack.On("Ack", uint64(1), false).Return(nil)

	var seen trace.SpanContext
	handler := HandlerFunc(func(ctx context.Context, _ *contracts.RequestContext, _ *contracts.Envelope) error {
		seen = trace.SpanContextFromContext(ctx)
		return nil
	})
	r := NewReceiver("x", &config.ReceiverDestination{QueueName: "q"}, &fakeConsumer{}, handler, WithHostResolver(staticHost("h")))

	_, err = r.OnDelivery(context.Background(), amqp.Delivery{
		Acknowledger:  ack,
		DeliveryTag:   1,
		Headers:       published.Headers,
		ContentType:   published.ContentType,
		CorrelationId: published.CorrelationId,
		Body:          published.Body,
	})
	require.NoError(t, err)
	assert.Equal(t, sc.TraceID(), seen.TraceID())
}
