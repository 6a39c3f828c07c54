package messaging

import (
	"context"
	"sync"

	"github.com/glimte/courier/contracts"
	"github.com/glimte/courier/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	return m.Called(ctx, exchange, routingKey, msg).Error(0)
}

type mockAcknowledger struct {
	mock.Mock
}

func (m *mockAcknowledger) Ack(tag uint64, multiple bool) error {
	return m.Called(tag, multiple).Error(0)
}

func (m *mockAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	return m.Called(tag, multiple, requeue).Error(0)
}

func (m *mockAcknowledger) Reject(tag uint64, requeue bool) error {
	return m.Called(tag, requeue).Error(0)
}

type mockDeclarer struct {
	mock.Mock
}

func (m *mockDeclarer) DeclareExchange(ctx context.Context, e rabbitmq.ExchangeDeclaration) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockDeclarer) DeclareQueue(ctx context.Context, q rabbitmq.QueueDeclaration) (amqp.Queue, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(amqp.Queue), args.Error(1)
}

func (m *mockDeclarer) Bind(ctx context.Context, b rabbitmq.Binding) error {
	return m.Called(ctx, b).Error(0)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []contracts.LogEvent
	err    error
}

func (e *recordingEmitter) PublishCommonLogMessage(_ context.Context, event contracts.LogEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return e.err
}

func (e *recordingEmitter) recorded() []contracts.LogEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]contracts.LogEvent(nil), e.events...)
}

// fakeConsumer captures the subscription a Receiver asks for.
type fakeConsumer struct {
	mu           sync.Mutex
	opts         rabbitmq.ConsumeOptions
	batch        *rabbitmq.BatchOptions
	handler      rabbitmq.DeliveryHandler
	batchHandler rabbitmq.BatchHandler
	err          error
}

func (f *fakeConsumer) Consume(_ context.Context, opts rabbitmq.ConsumeOptions, handler rabbitmq.DeliveryHandler) (*rabbitmq.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	f.handler = handler
	return nil, f.err
}

func (f *fakeConsumer) ConsumeBatch(_ context.Context, opts rabbitmq.ConsumeOptions, batch rabbitmq.BatchOptions, handler rabbitmq.BatchHandler) (*rabbitmq.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	f.batch = &batch
	f.batchHandler = handler
	return nil, f.err
}

func staticHost(name string) HostResolver {
	return func() (string, error) { return name, nil }
}

// streamChannel serves deliveries from a Go channel to a rabbitmq.Consumer.
type streamChannel struct {
	rabbitmq.Channel
	deliveries chan amqp.Delivery
}

func (c *streamChannel) Qos(int, int, bool) error { return nil }

func (c *streamChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *streamChannel) Cancel(string, bool) error { return nil }

func (c *streamChannel) Close() error { return nil }

type channelProvider struct {
	mu       sync.Mutex
	channels []*streamChannel
}

func (p *channelProvider) Channel() (rabbitmq.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := &streamChannel{deliveries: make(chan amqp.Delivery)}
	p.channels = append(p.channels, ch)
	return ch, nil
}

func (p *channelProvider) last() *streamChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[len(p.channels)-1]
}

func (p *channelProvider) opened() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.channels)
}
