package messaging

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/glimte/courier/messaging"

var propagator propagation.TextMapPropagator = propagation.TraceContext{}

// headerCarrier exposes AMQP headers to the trace propagator.
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	v, ok := c[key]
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func (c headerCarrier) Set(key, value string) { c[key] = value }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// telemetry holds the counters shared by senders and receivers. The global
// providers are noop unless the host installs real ones.
type telemetry struct {
	published metric.Int64Counter
	processed metric.Int64Counter
}

func newTelemetry() telemetry {
	meter := otel.Meter(instrumentationName)

	published, err := meter.Int64Counter("courier.messages.published",
		metric.WithDescription("Messages handed to the broker"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		otel.Handle(err)
	}
	processed, err := meter.Int64Counter("courier.messages.processed",
		metric.WithDescription("Deliveries processed by receivers"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		otel.Handle(err)
	}
	return telemetry{published: published, processed: processed}
}

func (t telemetry) countPublished(ctx context.Context, iface string, err error) {
	if t.published == nil {
		return
	}
	t.published.Add(ctx, 1, metric.WithAttributes(
		attribute.String("interface", iface),
		attribute.Bool("error", err != nil),
	))
}

func (t telemetry) countProcessed(ctx context.Context, iface string, outcome DeliveryOutcome) {
	if t.processed == nil {
		return
	}
	t.processed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("interface", iface),
		attribute.String("outcome", outcome.String()),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
