package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/glimte/courier/config"
	"github.com/glimte/courier/contracts"
	"github.com/glimte/courier/internal/rabbitmq"
	"github.com/glimte/courier/serialization"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrNilEnvelope is returned when Publish gets no envelope.
var ErrNilEnvelope = errors.New("messaging: nil envelope")

// Publisher is the broker side of a Sender.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
}

// Sender publishes envelopes for one interface.
type Sender struct {
	*ServiceBinding

	dest      *config.SenderDestination
	publisher Publisher
	codec     serialization.Codec
	declarer  Declarer
	audit     bool
	telemetry telemetry
}

// NewSender creates a sender. A nil dest leaves it unconfigured: every
// Publish succeeds without touching the broker.
func NewSender(interfaceName string, dest *config.SenderDestination, publisher Publisher, opts ...Option) *Sender {
	o := buildOptions(opts)
	s := &Sender{
		dest:      dest,
		publisher: publisher,
		codec:     resolveCodec(codecName(dest), o),
		declarer:  o.declarer,
		audit:     true,
		telemetry: newTelemetry(),
	}
	s.ServiceBinding = newServiceBinding(interfaceName, contracts.BindingSender, s.onServiceInit, o)
	return s
}

func codecName(dest *config.SenderDestination) string {
	if dest == nil {
		return ""
	}
	return dest.Codec
}

func resolveCodec(name string, o options) serialization.Codec {
	if name == "" {
		return serialization.JSON
	}
	c, err := serialization.New(name)
	if err != nil {
		o.logger.Warn("unknown codec, using json", "codec", name, "error", err)
		return serialization.JSON
	}
	return c
}

func (s *Sender) onServiceInit(ctx context.Context) error {
	if s.dest == nil {
		return nil
	}
	if s.publisher == nil {
		return ErrNoPublisher
	}
	if s.dest.Declare && s.dest.ExchangeName != "" && s.declarer != nil {
		return s.declarer.DeclareExchange(ctx, rabbitmq.DurableExchange(s.dest.ExchangeName, s.dest.ExchangeType))
	}
	return nil
}

// Configured reports whether the sender has a destination.
func (s *Sender) Configured() bool { return s.dest != nil }

// Destination returns the configured destination, or nil.
func (s *Sender) Destination() *config.SenderDestination { return s.dest }

// Codec is the codec NewEnvelope encodes with.
func (s *Sender) Codec() serialization.Codec { return s.codec }

// NewEnvelope encodes payload with the destination's codec.
func (s *Sender) NewEnvelope(payload any, correlationID string) (*contracts.Envelope, error) {
	return contracts.NewEnvelopeFromPayload(payload, correlationID, s.codec)
}

// SendMessage is Publish.
func (s *Sender) SendMessage(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope) error {
	return s.Publish(ctx, rc, env)
}

// Publish sends env to the configured destination on the caller's
// goroutine. The correlation id is rc's transaction id when present, else
// the envelope's own, else a new id stamped onto env.
//
// A failed publish returns *contracts.PublishError wrapping the broker
// error and, when rc is non-nil, emits a FAILED audit record first. A
// successful publish emits a SUCCESS record when both rc and an interface
// name are present.
func (s *Sender) Publish(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope) (err error) {
	if s.dest == nil {
		s.logger.Debug("sender not configured; skipping publish")
		return nil
	}
	if env == nil {
		return ErrNilEnvelope
	}
	if err := s.Init(ctx); err != nil {
		return err
	}

	correlationID := env.CorrelationID()
	if rc != nil && rc.TransactionID != "" {
		correlationID = rc.TransactionID
	}
	if correlationID == "" {
		correlationID = contracts.NewTransactionID()
	}
	env.SetCorrelationID(correlationID)

	ctx, span := tracer().Start(ctx, "courier.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", s.dest.RoutingKey),
			attribute.String("messaging.rabbitmq.exchange", s.dest.ExchangeName),
			attribute.String("messaging.message.conversation_id", correlationID),
			attribute.String("courier.interface", s.name),
		),
	)
	defer func() { endSpan(span, err) }()

	iface := s.name
	if iface == "" && rc != nil {
		iface = rc.InterfaceName
	}

	if rc != nil && s.logPayloads && rc.RequestPayload == "" {
		rc.RequestPayload = s.snapshot(env)
	}

	pubErr := s.publisher.Publish(ctx, s.dest.ExchangeName, s.dest.RoutingKey, s.publishing(ctx, env, correlationID))
	s.telemetry.countPublished(ctx, iface, pubErr)

	if pubErr != nil {
		err = &contracts.PublishError{
			Exchange:      s.dest.ExchangeName,
			RoutingKey:    s.dest.RoutingKey,
			CorrelationID: correlationID,
			Err:           pubErr,
			Timestamp:     time.Now(),
		}
		s.logger.Error("failed to publish message",
			"error", pubErr,
			"exchange", s.dest.ExchangeName,
			"routingKey", s.dest.RoutingKey,
			"correlationId", correlationID,
		)
		if s.audit && rc != nil {
			status := contracts.Failed(contracts.CodePublish, pubErr)
			s.PublishAuditRecord(ctx, s.CreateAuditRecord(rc, rc.RequestPayload, rc.ResponsePayload, iface, status))
		}
		return err
	}

	s.logger.Debug("message published",
		"exchange", s.dest.ExchangeName,
		"routingKey", s.dest.RoutingKey,
		"correlationId", correlationID,
	)
	if s.audit && rc != nil && iface != "" {
		s.PublishAuditRecord(ctx, s.CreateAuditRecord(rc, rc.RequestPayload, rc.ResponsePayload, iface, contracts.Succeeded()))
	}
	return nil
}

func (s *Sender) publishing(ctx context.Context, env *contracts.Envelope, correlationID string) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range env.StringProperties() {
		headers[k] = v
	}
	for k, v := range env.IntProperties() {
		headers[k] = int64(v)
	}
	propagator.Inject(ctx, headerCarrier(headers))

	mode := amqp.Persistent
	if !s.dest.Persistent() {
		mode = amqp.Transient
	}

	return amqp.Publishing{
		Headers:       headers,
		ContentType:   env.ContentType(),
		DeliveryMode:  mode,
		CorrelationId: correlationID,
		ReplyTo:       s.dest.ReplyTo(),
		MessageId:     contracts.NewTransactionID(),
		Timestamp:     env.CreatedAt(),
		AppId:         s.componentName,
		Body:          env.RawBytes(),
	}
}

// snapshot renders the envelope payload as JSON text for payload logging.
func (s *Sender) snapshot(env *contracts.Envelope) string {
	if env.Codec().Name() == serialization.JSONName {
		return string(env.RawBytes())
	}
	return ""
}
