package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeDeclaration defines an exchange to be declared
type ExchangeDeclaration struct {
	Name       string
	Type       string
	Durable    bool
	AutoDelete bool
	Arguments  amqp.Table
}

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Binding defines a queue-to-exchange binding
type Binding struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Arguments  amqp.Table
}

// Topology declares broker objects, each call on a short-lived channel.
type Topology struct {
	provider ChannelProvider
}

// NewTopology creates a topology declarer
func NewTopology(provider ChannelProvider) *Topology {
	return &Topology{provider: provider}
}

func (t *Topology) execute(ctx context.Context, fn func(ch Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := t.provider.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	return fn(ch)
}

// DeclareExchange declares a single exchange
func (t *Topology) DeclareExchange(ctx context.Context, exchange ExchangeDeclaration) error {
	kind := exchange.Type
	if kind == "" {
		kind = amqp.ExchangeDirect
	}
	err := t.execute(ctx, func(ch Channel) error {
		return ch.ExchangeDeclare(exchange.Name, kind, exchange.Durable, exchange.AutoDelete, false, false, exchange.Arguments)
	})
	if err != nil {
		return &TopologyError{Component: "exchange", Name: exchange.Name, Op: "declare", Err: err, Timestamp: time.Now()}
	}
	return nil
}

// DeclareQueue declares a single queue
func (t *Topology) DeclareQueue(ctx context.Context, queue QueueDeclaration) (amqp.Queue, error) {
	var q amqp.Queue
	err := t.execute(ctx, func(ch Channel) error {
		var err error
		q, err = ch.QueueDeclare(queue.Name, queue.Durable, queue.AutoDelete, queue.Exclusive, false, queue.Arguments)
		return err
	})
	if err != nil {
		return q, &TopologyError{Component: "queue", Name: queue.Name, Op: "declare", Err: err, Timestamp: time.Now()}
	}
	return q, nil
}

// Bind binds a queue to an exchange
func (t *Topology) Bind(ctx context.Context, binding Binding) error {
	err := t.execute(ctx, func(ch Channel) error {
		return ch.QueueBind(binding.Queue, binding.RoutingKey, binding.Exchange, false, binding.Arguments)
	})
	if err != nil {
		return &TopologyError{Component: "binding", Name: binding.Queue + "->" + binding.Exchange, Op: "declare", Err: err, Timestamp: time.Now()}
	}
	return nil
}

// InspectQueue passively declares name, failing when it does not exist.
func (t *Topology) InspectQueue(ctx context.Context, name string) (amqp.Queue, error) {
	var q amqp.Queue
	err := t.execute(ctx, func(ch Channel) error {
		var err error
		q, err = ch.QueueDeclarePassive(name, true, false, false, false, nil)
		return err
	})
	if err != nil {
		return q, &TopologyError{Component: "queue", Name: name, Op: "inspect", Err: err, Timestamp: time.Now()}
	}
	return q, nil
}

// DurableExchange is the declaration used for sender and receiver exchanges.
// An empty kind declares a direct exchange.
func DurableExchange(name, kind string) ExchangeDeclaration {
	return ExchangeDeclaration{Name: name, Type: kind, Durable: true}
}

// DurableQueue is the declaration used for receiver and audit queues.
func DurableQueue(name string) QueueDeclaration {
	return QueueDeclaration{Name: name, Durable: true}
}
