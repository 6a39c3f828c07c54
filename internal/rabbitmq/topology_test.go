package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopology(t *testing.T) {
	t.Run("declare durable queue", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("QueueDeclare", "courier.audit", true, false, false, false, amqp.Table(nil)).
			Return(amqp.Queue{Name: "courier.audit"}, nil)
		ch.On("Close").Return(nil)
		provider := &mockProvider{}
		provider.On("Channel").Return(ch, nil)

		q, err := NewTopology(provider).DeclareQueue(context.Background(), DurableQueue("courier.audit"))
		require.NoError(t, err)
		assert.Equal(t, "courier.audit", q.Name)
		ch.AssertExpectations(t)
	})

	t.Run("exchange defaults to direct", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("ExchangeDeclare", "customers", "direct", true, false, false, false, amqp.Table(nil)).Return(nil)
		ch.On("Close").Return(nil)
		provider := &mockProvider{}
		provider.On("Channel").Return(ch, nil)

		err := NewTopology(provider).DeclareExchange(context.Background(), ExchangeDeclaration{Name: "customers", Durable: true})
		require.NoError(t, err)
		ch.AssertExpectations(t)
	})

	t.Run("bind failure is a topology error", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("QueueBind", "q", "key", "ex", false, amqp.Table(nil)).Return(errors.New("not found"))
		ch.On("Close").Return(nil)
		provider := &mockProvider{}
		provider.On("Channel").Return(ch, nil)

		err := NewTopology(provider).Bind(context.Background(), Binding{Queue: "q", Exchange: "ex", RoutingKey: "key"})
		var topoErr *TopologyError
		require.ErrorAs(t, err, &topoErr)
		assert.Equal(t, "binding", topoErr.Component)
	})

	t.Run("inspect missing queue", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("QueueDeclarePassive", "gone", true, false, false, false, amqp.Table(nil)).
			Return(amqp.Queue{}, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND"})
		ch.On("Close").Return(nil)
		provider := &mockProvider{}
		provider.On("Channel").Return(ch, nil)

		_, err := NewTopology(provider).InspectQueue(context.Background(), "gone")
		var amqpErr *amqp.Error
		require.ErrorAs(t, err, &amqpErr)
		assert.Equal(t, amqp.NotFound, amqpErr.Code)
	})

	t.Run("cancelled context skips broker", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewTopology(&mockProvider{}).DeclareQueue(ctx, DurableQueue("q"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
