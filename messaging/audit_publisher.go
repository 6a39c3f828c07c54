package messaging

import (
	"context"

	"github.com/glimte/courier/config"
	"github.com/glimte/courier/contracts"
	"github.com/glimte/courier/serialization"
)

// AuditInterfaceName names the audit publisher's binding in logs.
const AuditInterfaceName = "courier.audit"

// AuditLogPublisher ships audit records to the audit queue through the
// default exchange. Its own publishes are never audited.
type AuditLogPublisher struct {
	sender *Sender
}

// NewAuditLogPublisher publishes to queue. An empty queue or nil publisher
// yields an unconfigured publisher whose calls succeed without doing
// anything.
func NewAuditLogPublisher(queue string, publisher Publisher, opts ...Option) *AuditLogPublisher {
	var dest *config.SenderDestination
	if queue != "" && publisher != nil {
		dest = &config.SenderDestination{
			RoutingKey:   queue,
			DeliveryMode: config.DeliveryPersistent,
			Codec:        serialization.JSONName,
		}
	}

	s := NewSender(AuditInterfaceName, dest, publisher, opts...)
	s.audit = false
	s.emitter = nil
	return &AuditLogPublisher{sender: s}
}

// Configured reports whether records are actually published.
func (a *AuditLogPublisher) Configured() bool { return a.sender.Configured() }

// Queue returns the audit queue, or "" when unconfigured.
func (a *AuditLogPublisher) Queue() string {
	if d := a.sender.Destination(); d != nil {
		return d.RoutingKey
	}
	return ""
}

// PublishCommonLogMessage publishes event as JSON, correlated by its
// transaction id.
func (a *AuditLogPublisher) PublishCommonLogMessage(ctx context.Context, event contracts.LogEvent) error {
	if !a.Configured() {
		return nil
	}

	env, err := contracts.NewEnvelopeFromPayload(event, event.TransactionID, serialization.JSON)
	if err != nil {
		return err
	}
	env.SetStringProperty("bindingType", string(event.BindingType))
	env.SetStringProperty("status", string(event.Status))
	if event.InterfaceName != "" {
		env.SetStringProperty("interfaceName", event.InterfaceName)
	}

	return a.sender.Publish(ctx, nil, env)
}

var _ AuditEmitter = (*AuditLogPublisher)(nil)
