package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/glimte/courier/config"
	"github.com/glimte/courier/contracts"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func sampleEvent() contracts.LogEvent {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return contracts.LogEvent{
		TransactionID: "tx-audit",
		BindingType:   contracts.BindingReceiver,
		ComponentName: "customer-service",
		InterfaceName: "cust.register",
		ReceivedAt:    now,
		ProcessedAt:   now,
		Status:        contracts.StatusFailed,
		ErrorCode:     contracts.CodeHandler,
		ErrorMessage:  "dup",
	}
}

func TestAuditLogPublisherUnconfigured(t *testing.T) {
	assert.False(t, NewAuditLogPublisher("", &mockPublisher{}).Configured())

	a := NewAuditLogPublisher("courier.audit", nil)
	assert.False(t, a.Configured())
	assert.Empty(t, a.Queue())
	assert.NoError(t, a.PublishCommonLogMessage(context.Background(), sampleEvent()))
}

func TestAuditLogPublisherPublishes(t *testing.T) {
	var published amqp.Publishing
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "", "courier.audit", mock.Anything).
		Run(func(args mock.Arguments) { published = args.Get(3).(amqp.Publishing) }).
		Return(nil).Once()

	emitter := &recordingEmitter{}
	a := NewAuditLogPublisher("courier.audit", pub,
		WithHostResolver(staticHost("h")),
		WithAuditEmitter(emitter),
	)
	require.True(t, a.Configured())
	assert.Equal(t, "courier.audit", a.Queue())

	event := sampleEvent()
	require.NoError(t, a.PublishCommonLogMessage(context.Background(), event))
	pub.AssertExpectations(t)

	assert.Equal(t, "tx-audit", published.CorrelationId)
	assert.Equal(t, "application/json", published.ContentType)
	assert.Equal(t, amqp.Persistent, published.DeliveryMode)
	assert.Equal(t, "RECEIVER", published.Headers["bindingType"])
	assert.Equal(t, "FAILED", published.Headers["status"])
	assert.Equal(t, "cust.register", published.Headers["interfaceName"])

	var decoded contracts.LogEvent
	require.NoError(t, json.Unmarshal(published.Body, &decoded))
	assert.Equal(t, event, decoded)

	assert.Empty(t, emitter.recorded(), "audit publishes are never audited")
}

func TestAuditLogPublisherReturnsPublishErrors(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "", "courier.audit", mock.Anything).Return(errors.New("blocked"))

	a := NewAuditLogPublisher("courier.audit", pub, WithHostResolver(staticHost("h")))
	err := a.PublishCommonLogMessage(context.Background(), sampleEvent())

	var pubErr *contracts.PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, "courier.audit", pubErr.RoutingKey)
}

func TestAuditLogPublisherAsEmitter(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, "", "courier.audit", mock.Anything).Return(nil).Once()
	pub.On("Publish", mock.Anything, "", "cust.register", mock.Anything).Return(nil).Once()

	audit := NewAuditLogPublisher("courier.audit", pub, WithHostResolver(staticHost("h")))
	s := NewSender("cust.register", &config.SenderDestination{RoutingKey: "cust.register"}, pub,
		WithHostResolver(staticHost("h")),
		WithAuditEmitter(audit),
	)

	env, err := s.NewEnvelope(customer{ID: 1}, "")
	require.NoError(t, err)
	require.NoError(t, s.Publish(context.Background(), contracts.NewRequestContext("cust.register", "tx-chain"), env))
	pub.AssertExpectations(t)
}
