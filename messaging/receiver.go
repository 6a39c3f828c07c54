package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/glimte/courier/config"
	"github.com/glimte/courier/contracts"
	"github.com/glimte/courier/internal/rabbitmq"
	"github.com/glimte/courier/serialization"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoHandler is returned by Init for a configured receiver without a handler.
var ErrNoHandler = errors.New("messaging: no handler")

// Handler is the business logic behind a Receiver.
type Handler interface {
	ProcessMessage(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope) error

// ProcessMessage calls f.
func (f HandlerFunc) ProcessMessage(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope) error {
	return f(ctx, rc, env)
}

// Consumer is the broker side of a Receiver.
type Consumer interface {
	Consume(ctx context.Context, opts rabbitmq.ConsumeOptions, handler rabbitmq.DeliveryHandler) (*rabbitmq.Subscription, error)
	ConsumeBatch(ctx context.Context, opts rabbitmq.ConsumeOptions, batch rabbitmq.BatchOptions, handler rabbitmq.BatchHandler) (*rabbitmq.Subscription, error)
}

// Declarer creates the exchanges, queues and bindings a destination with
// declare set relies on.
type Declarer interface {
	DeclareExchange(ctx context.Context, exchange rabbitmq.ExchangeDeclaration) error
	DeclareQueue(ctx context.Context, queue rabbitmq.QueueDeclaration) (amqp.Queue, error)
	Bind(ctx context.Context, binding rabbitmq.Binding) error
}

// DeliveryOutcome is the terminal state of one delivery.
type DeliveryOutcome int

const (
	// Acked: the handler succeeded and the delivery was acknowledged.
	Acked DeliveryOutcome = iota + 1
	// DroppedAfterAck: the handler failed and the delivery was acknowledged
	// anyway, so it will not be redelivered.
	DroppedAfterAck
	// Nacked: no acknowledgement was sent; the broker's redelivery policy
	// applies.
	Nacked
	// DecodeFailed: the body could not be decoded. The handler was not
	// called and no acknowledgement was sent.
	DecodeFailed
)

func (o DeliveryOutcome) String() string {
	switch o {
	case Acked:
		return "acked"
	case DroppedAfterAck:
		return "dropped_after_ack"
	case Nacked:
		return "nacked"
	case DecodeFailed:
		return "decode_failed"
	default:
		return "unknown"
	}
}

// AckError reports an acknowledgement the broker client refused.
type AckError struct {
	DeliveryTag uint64
	Err         error
}

func (e *AckError) Error() string {
	return fmt.Sprintf("messaging: ack delivery %d: %v", e.DeliveryTag, e.Err)
}

func (e *AckError) Unwrap() error { return e.Err }

// Code classifies the error for audit records.
func (e *AckError) Code() string { return contracts.CodeAcknowledge }

// PanicError is a handler panic turned into an error.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("messaging: panic in handler: %v", e.Value)
}

// Receiver consumes one queue and runs every delivery through its Handler.
type Receiver struct {
	*ServiceBinding

	dest        *config.ReceiverDestination
	consumer    Consumer
	handler     Handler
	codec       serialization.Codec
	payloadType func() any
	batch       *rabbitmq.BatchOptions
	declarer    Declarer
	telemetry   telemetry

	mu  sync.Mutex
	sub *rabbitmq.Subscription
}

// NewReceiver creates a receiver. A nil dest leaves it unconfigured and
// Start does nothing.
func NewReceiver(interfaceName string, dest *config.ReceiverDestination, consumer Consumer, handler Handler, opts ...Option) *Receiver {
	o := buildOptions(opts)

	codec := ""
	if dest != nil {
		codec = dest.Codec
	}

	r := &Receiver{
		dest:        dest,
		consumer:    consumer,
		handler:     handler,
		codec:       resolveCodec(codec, o),
		payloadType: o.payloadType,
		batch:       o.batch,
		declarer:    o.declarer,
		telemetry:   newTelemetry(),
	}
	r.ServiceBinding = newServiceBinding(interfaceName, contracts.BindingReceiver, r.onServiceInit, o)
	return r
}

func (r *Receiver) onServiceInit(ctx context.Context) error {
	if r.dest == nil {
		return nil
	}
	if r.handler == nil {
		return ErrNoHandler
	}
	if r.dest.Declare && r.declarer != nil {
		return r.declare(ctx)
	}
	return nil
}

func (r *Receiver) declare(ctx context.Context) error {
	if _, err := r.declarer.DeclareQueue(ctx, rabbitmq.DurableQueue(r.dest.QueueName)); err != nil {
		return err
	}
	if r.dest.ExchangeName == "" {
		return nil
	}
	if err := r.declarer.DeclareExchange(ctx, rabbitmq.DurableExchange(r.dest.ExchangeName, r.dest.ExchangeType)); err != nil {
		return err
	}
	return r.declarer.Bind(ctx, rabbitmq.Binding{
		Queue:      r.dest.QueueName,
		Exchange:   r.dest.ExchangeName,
		RoutingKey: r.dest.RoutingKey,
	})
}

// Configured reports whether the receiver has a destination.
func (r *Receiver) Configured() bool { return r.dest != nil }

// Destination returns the configured destination, or nil.
func (r *Receiver) Destination() *config.ReceiverDestination { return r.dest }

// Start initializes the receiver and subscribes to its queue with manual
// acknowledgement and the destination's concurrency range.
func (r *Receiver) Start(ctx context.Context) error {
	if r.dest == nil {
		r.logger.Info("receiver not configured; not consuming")
		return nil
	}
	if err := r.Init(ctx); err != nil {
		return err
	}
	if r.consumer == nil {
		return ErrNoConsumer
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return nil
	}

	conc := r.dest.Range()
	opts := rabbitmq.ConsumeOptions{
		Queue:    r.dest.QueueName,
		Tag:      r.consumerTag(),
		Min:      conc.Min,
		Max:      conc.Max,
		Prefetch: r.dest.Prefetch,
	}

	var (
		sub *rabbitmq.Subscription
		err error
	)
	if r.batch != nil {
		sub, err = r.consumer.ConsumeBatch(ctx, opts, *r.batch, func(ctx context.Context, ds []amqp.Delivery) error {
			_, err := r.OnBatch(ctx, ds)
			return err
		})
	} else {
		sub, err = r.consumer.Consume(ctx, opts, func(ctx context.Context, d amqp.Delivery) error {
			_, err := r.OnDelivery(ctx, d)
			return err
		})
	}
	if err != nil {
		return err
	}
	r.sub = sub
	if sub != nil {
		go r.watch(sub)
	}

	r.logger.Info("receiver started",
		"queue", opts.Queue,
		"concurrency", conc.String(),
		"acknowledgeOnFailure", r.dest.AcknowledgeOnFailure,
	)
	return nil
}

// watch forgets a subscription the broker ended so Start can subscribe again.
func (r *Receiver) watch(sub *rabbitmq.Subscription) {
	<-sub.Done()
	err := sub.Err()
	if err == nil {
		return
	}
	r.logger.Error("subscription ended by broker", "error", err, "queue", sub.Queue())

	r.mu.Lock()
	if r.sub == sub {
		r.sub = nil
	}
	r.mu.Unlock()
}

// Running reports whether the receiver holds a live subscription.
func (r *Receiver) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sub != nil
}

// Stop cancels the subscription and waits for in-flight deliveries.
func (r *Receiver) Stop() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
}

func (r *Receiver) consumerTag() string {
	if r.dest.ClientIDPrefix == "" {
		return ""
	}
	return r.dest.ClientIDPrefix + "-" + contracts.NewTransactionID()
}

func (r *Receiver) queue() string {
	if r.dest == nil {
		return ""
	}
	return r.dest.QueueName
}

func (r *Receiver) acknowledgeOnFailure() bool {
	return r.dest != nil && r.dest.AcknowledgeOnFailure
}

func (r *Receiver) codecFor(contentType string) serialization.Codec {
	if c, ok := serialization.ByContentType(contentType); ok {
		return c
	}
	return r.codec
}

// decodePayload checks the delivery body before the handler sees it. JSON
// bodies decode into new(any) when no payload type is set. Other codecs need a
// concrete target, so without one only an empty body is rejected and the
// handler decodes with contracts.PayloadAs.
func (r *Receiver) decodePayload(env *contracts.Envelope) (any, error) {
	if r.payloadType != nil {
		payload := r.payloadType()
		return payload, env.Payload(payload)
	}
	if env.Codec().Name() != serialization.JSONName {
		if len(env.RawBytes()) == 0 {
			return nil, &contracts.DeserializationError{Codec: env.Codec().Name(), Err: contracts.ErrEmptyPayload}
		}
		return nil, nil
	}
	payload := new(any)
	return payload, env.Payload(payload)
}

// OnDelivery runs one delivery through decode, handler, audit and
// acknowledgement, and reports how it ended.
func (r *Receiver) OnDelivery(ctx context.Context, d amqp.Delivery) (outcome DeliveryOutcome, err error) {
	if err := r.Init(ctx); err != nil {
		return Nacked, err
	}

	env := contracts.NewEnvelopeFromBytes(d.Body, d.CorrelationId, r.codecFor(d.ContentType))
	payload, err := r.decodePayload(env)
	if err != nil {
		r.logger.Error("failed to decode delivery",
			"error", err,
			"queue", r.queue(),
			"deliveryTag", d.DeliveryTag,
			"correlationId", d.CorrelationId,
		)
		r.telemetry.countProcessed(ctx, r.name, DecodeFailed)
		return DecodeFailed, err
	}
	copyHeaders(env, d.Headers)

	ctx = propagator.Extract(ctx, headerCarrier(d.Headers))
	ctx, span := tracer().Start(ctx, "courier.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", r.queue()),
			attribute.String("courier.interface", r.name),
		),
	)
	defer func() {
		span.SetAttributes(attribute.String("courier.outcome", outcome.String()))
		endSpan(span, err)
		r.telemetry.countProcessed(ctx, r.name, outcome)
	}()

	rc := contracts.NewRequestContext(r.name, d.CorrelationId)
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			rc.SetRequestHeader(k, s)
		}
	}
	if env.CorrelationID() == "" {
		env.SetCorrelationID(rc.TransactionID)
	}
	if r.logPayloads {
		rc.RequestPayload = r.renderPayload(payload)
	}
	span.SetAttributes(attribute.String("messaging.message.conversation_id", rc.TransactionID))
	ctx = contracts.WithRequestContext(ctx, rc)

	if herr := r.invoke(ctx, rc, env); herr != nil {
		return r.onFailure(ctx, d, rc, herr)
	}

	if ackErr := d.Ack(false); ackErr != nil {
		err := &AckError{DeliveryTag: d.DeliveryTag, Err: ackErr}
		r.logger.Error("failed to ack delivery", "error", ackErr, "queue", r.queue(), "transactionId", rc.TransactionID)
		r.PublishAuditRecord(ctx, r.CreateAuditRecord(rc, rc.RequestPayload, rc.ResponsePayload, r.name, contracts.Failed("", err)))
		return Nacked, err
	}

	if r.name != "" {
		r.PublishAuditRecord(ctx, r.CreateAuditRecord(rc, rc.RequestPayload, rc.ResponsePayload, r.name, contracts.Succeeded()))
	}
	return Acked, nil
}

// onFailure records a handler failure, then acks unless the destination
// leaves redelivery to the broker.
func (r *Receiver) onFailure(ctx context.Context, d amqp.Delivery, rc *contracts.RequestContext, herr error) (DeliveryOutcome, error) {
	r.logger.Error("handler failed",
		"error", herr,
		"queue", r.queue(),
		"transactionId", rc.TransactionID,
		"acknowledgeOnFailure", r.acknowledgeOnFailure(),
	)

	r.PublishAuditRecord(ctx, r.CreateAuditRecord(rc, rc.RequestPayload, rc.ResponsePayload, r.name, contracts.Failed(contracts.CodeHandler, herr)))

	handlerErr := &contracts.HandlerError{
		InterfaceName: r.name,
		TransactionID: rc.TransactionID,
		Queue:         r.queue(),
		Err:           herr,
	}

	if r.acknowledgeOnFailure() {
		return Nacked, handlerErr
	}

	if ackErr := d.Ack(false); ackErr != nil {
		return Nacked, errors.Join(handlerErr, &AckError{DeliveryTag: d.DeliveryTag, Err: ackErr})
	}
	return DroppedAfterAck, handlerErr
}

func (r *Receiver) invoke(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			stack := debug.Stack()
			r.logger.ErrorContext(ctx, "panic in message handler", "panic", rvr, "stack", string(stack))
			err = &PanicError{Value: rvr, Stack: stack}
		}
	}()
	return r.handler.ProcessMessage(ctx, rc, env)
}

// OnBatch runs every delivery through OnDelivery independently. The
// returned error joins the failures of individual deliveries.
func (r *Receiver) OnBatch(ctx context.Context, ds []amqp.Delivery) ([]DeliveryOutcome, error) {
	outcomes := make([]DeliveryOutcome, len(ds))
	var errs []error
	for i, d := range ds {
		outcome, err := r.OnDelivery(ctx, d)
		outcomes[i] = outcome
		if err != nil {
			errs = append(errs, fmt.Errorf("delivery %d: %w", d.DeliveryTag, err))
		}
	}
	return outcomes, errors.Join(errs...)
}

func copyHeaders(env *contracts.Envelope, headers amqp.Table) {
	for k, v := range headers {
		switch n := v.(type) {
		case string:
			env.SetStringProperty(k, n)
		case int:
			env.SetIntProperty(k, n)
		case int8:
			env.SetIntProperty(k, int(n))
		case int16:
			env.SetIntProperty(k, int(n))
		case int32:
			env.SetIntProperty(k, int(n))
		case int64:
			env.SetIntProperty(k, int(n))
		}
	}
}
