package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes on one channel shared by all callers. AMQP channels
// are not safe for concurrent use, so every publish holds the lock.
type Publisher struct {
	provider       ChannelProvider
	confirm        bool
	confirmTimeout time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	ch       Channel
	confirms chan amqp.Confirmation
	closed   bool
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithConfirms waits for a broker confirmation after every publish.
func WithConfirms(enabled bool) PublisherOption {
	return func(p *Publisher) {
		p.confirm = enabled
	}
}

// WithConfirmTimeout sets how long a confirmation may take.
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.confirmTimeout = timeout
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a publisher that opens its channel lazily.
func NewPublisher(provider ChannelProvider, options ...PublisherOption) *Publisher {
	p := &Publisher{
		provider:       provider,
		confirmTimeout: 5 * time.Second,
		logger:         slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Publish sends msg to exchange with routing key. An empty exchange is the
// broker's default exchange.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	fail := func(err error) error {
		return &PublishError{
			Exchange:   exchange,
			RoutingKey: routingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}

	if p.closed {
		return fail(ErrPublisherClosed)
	}

	ch, err := p.channel()
	if err != nil {
		return fail(err)
	}

	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		if errors.Is(err, amqp.ErrClosed) || ch.IsClosed() {
			p.dropChannel()
		}
		return fail(err)
	}

	if !p.confirm {
		return nil
	}

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()

	select {
	case c, ok := <-p.confirms:
		if !ok {
			p.dropChannel()
			return fail(ErrChannelClosed)
		}
		if !c.Ack {
			return fail(ErrPublishNotConfirmed)
		}
		return nil
	case <-timer.C:
		// A late confirmation would be read by the next publish.
		p.dropChannel()
		return fail(ErrConfirmTimeout)
	case <-ctx.Done():
		p.dropChannel()
		return fail(ctx.Err())
	}
}

// channel returns the shared channel, reopening it when closed. Caller
// holds p.mu.
func (p *Publisher) channel() (Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	ch, err := p.provider.Channel()
	if err != nil {
		return nil, err
	}

	if p.confirm {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, &ChannelError{Op: "confirm", Err: err, Timestamp: time.Now()}
		}
		p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	}

	p.ch = ch
	p.logger.Debug("publisher channel opened", "confirms", p.confirm)
	return ch, nil
}

func (p *Publisher) dropChannel() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	p.ch = nil
	p.confirms = nil
}

// Close closes the shared channel; later publishes fail.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}
