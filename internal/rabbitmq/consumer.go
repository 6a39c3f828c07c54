package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryHandler processes one delivery. Acknowledgement is the handler's
// job; the consumer never acks on its own.
type DeliveryHandler func(ctx context.Context, d amqp.Delivery) error

// BatchHandler processes a group of deliveries.
type BatchHandler func(ctx context.Context, ds []amqp.Delivery) error

// ConsumeOptions describes one queue subscription.
type ConsumeOptions struct {
	Queue string
	Tag   string
	// Min workers are always running; up to Max run when all are busy.
	Min int
	Max int
	// Prefetch defaults to Max.
	Prefetch int
}

func (o *ConsumeOptions) normalize() error {
	if o.Queue == "" {
		return fmt.Errorf("%w: queue is required", ErrInvalidConsume)
	}
	if o.Min < 1 {
		o.Min = 1
	}
	if o.Max < o.Min {
		o.Max = o.Min
	}
	if o.Prefetch <= 0 {
		o.Prefetch = o.Max
	}
	return nil
}

// BatchOptions bounds ConsumeBatch groups.
type BatchOptions struct {
	Size          int
	FlushInterval time.Duration
}

// Consumer opens manual-ack subscriptions.
type Consumer struct {
	provider    ChannelProvider
	idleTimeout time.Duration
	logger      *slog.Logger
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithIdleTimeout sets how long a worker above the minimum may stay idle
// before it retires.
func WithIdleTimeout(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.idleTimeout = d
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewConsumer creates a new consumer
func NewConsumer(provider ChannelProvider, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		provider:    provider,
		idleTimeout: 30 * time.Second,
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Subscription is a running consumer. Stop it with Cancel.
type Subscription struct {
	queue  string
	tag    string
	ch     Channel
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

// Queue returns the consumed queue.
func (s *Subscription) Queue() string { return s.queue }

// Done is closed once every in-flight delivery finished.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why a subscription ended on its own. It is nil while running
// and after Cancel, and wraps ErrConsumerCancelled when the broker closed the
// delivery stream.
func (s *Subscription) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Subscription) brokerCancelled() {
	if s.ctx.Err() != nil {
		return
	}
	s.err = &ConsumerError{
		Queue:       s.queue,
		ConsumerTag: s.tag,
		Op:          "consume",
		Err:         ErrConsumerCancelled,
		Timestamp:   time.Now(),
	}
}

// Cancel stops delivery, waits for in-flight handlers and closes the channel.
// Unacknowledged deliveries return to the queue.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cancel()
	})
	<-s.done
}

func (c *Consumer) subscribe(ctx context.Context, opts ConsumeOptions, prefetch int) (*Subscription, <-chan amqp.Delivery, error) {
	fail := func(op string, err error) error {
		return &ConsumerError{
			Queue:       opts.Queue,
			ConsumerTag: opts.Tag,
			Op:          op,
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	ch, err := c.provider.Channel()
	if err != nil {
		return nil, nil, fail("open channel", err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fail("qos", err)
	}

	deliveries, err := ch.Consume(opts.Queue, opts.Tag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fail("consume", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		queue:  opts.Queue,
		tag:    opts.Tag,
		ch:     ch,
		ctx:    subCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		<-subCtx.Done()
		if opts.Tag != "" {
			_ = ch.Cancel(opts.Tag, false)
		}
	}()

	return sub, deliveries, nil
}

// Consume subscribes to opts.Queue and feeds deliveries to a worker pool.
func (c *Consumer) Consume(ctx context.Context, opts ConsumeOptions, handler DeliveryHandler) (*Subscription, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	sub, deliveries, err := c.subscribe(ctx, opts, opts.Prefetch)
	if err != nil {
		return nil, err
	}
	subCtx := sub.ctx
	// In-flight handlers finish their ack and audit work after Cancel.
	handlerCtx := context.WithoutCancel(subCtx)

	pool := newWorkerPool(subCtx, opts.Min, opts.Max, c.idleTimeout, func(d amqp.Delivery) {
		if err := handler(handlerCtx, d); err != nil {
			c.logger.Error("failed to handle delivery",
				"error", err,
				"queue", opts.Queue,
				"messageId", d.MessageId,
				"correlationId", d.CorrelationId,
			)
		}
	})

	go func() {
		defer func() {
			sub.cancel()
			pool.close()
			_ = sub.ch.Close()
			close(sub.done)
			c.logger.Info("consumer stopped", "queue", opts.Queue)
		}()

		for {
			select {
			case <-subCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					c.logger.Warn("delivery channel closed", "queue", opts.Queue)
					sub.brokerCancelled()
					return
				}
				if !pool.submit(d) {
					return
				}
			}
		}
	}()

	c.logger.Info("subscribed to queue",
		"queue", opts.Queue,
		"consumerTag", opts.Tag,
		"minWorkers", opts.Min,
		"maxWorkers", opts.Max,
		"prefetchCount", opts.Prefetch,
	)
	return sub, nil
}

// ConsumeBatch groups deliveries until batch.Size are buffered or
// batch.FlushInterval passes, then hands the group to a worker pool sized
// like Consume's, so up to opts.Max groups run at once.
func (c *Consumer) ConsumeBatch(ctx context.Context, opts ConsumeOptions, batch BatchOptions, handler BatchHandler) (*Subscription, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if batch.Size < 1 {
		batch.Size = 1
	}
	if batch.FlushInterval <= 0 {
		batch.FlushInterval = time.Second
	}

	prefetch := opts.Prefetch
	if window := opts.Max * batch.Size; prefetch < window {
		prefetch = window
	}

	sub, deliveries, err := c.subscribe(ctx, opts, prefetch)
	if err != nil {
		return nil, err
	}
	subCtx := sub.ctx
	handlerCtx := context.WithoutCancel(subCtx)

	pool := newWorkerPool(subCtx, opts.Min, opts.Max, c.idleTimeout, func(group []amqp.Delivery) {
		if err := handler(handlerCtx, group); err != nil {
			c.logger.Error("failed to handle batch",
				"error", err,
				"queue", opts.Queue,
				"size", len(group),
			)
		}
	})

	go func() {
		defer func() {
			sub.cancel()
			pool.close()
			_ = sub.ch.Close()
			close(sub.done)
			c.logger.Info("batch consumer stopped", "queue", opts.Queue)
		}()

		buf := make([]amqp.Delivery, 0, batch.Size)
		ticker := time.NewTicker(batch.FlushInterval)
		defer ticker.Stop()

		flush := func() bool {
			if len(buf) == 0 {
				return true
			}
			group := append([]amqp.Delivery(nil), buf...)
			buf = buf[:0]
			return pool.submit(group)
		}

		for {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				if !flush() {
					return
				}
			case d, ok := <-deliveries:
				if !ok {
					flush()
					sub.brokerCancelled()
					return
				}
				buf = append(buf, d)
				if len(buf) >= batch.Size && !flush() {
					return
				}
			}
		}
	}()

	c.logger.Info("subscribed to queue in batches",
		"queue", opts.Queue,
		"consumerTag", opts.Tag,
		"batchSize", batch.Size,
		"maxWorkers", opts.Max,
		"prefetchCount", prefetch,
	)
	return sub, nil
}

// workerPool keeps lower workers alive and adds more, up to upper, while every
// worker is busy. Extra workers retire after idleTimeout without work.
type workerPool[T any] struct {
	ctx         context.Context
	lower       int
	upper       int
	idleTimeout time.Duration
	handle      func(T)
	jobs        chan T

	mu      sync.Mutex
	workers int
	wg      sync.WaitGroup
}

func newWorkerPool[T any](ctx context.Context, lower, upper int, idle time.Duration, handle func(T)) *workerPool[T] {
	p := &workerPool[T]{
		ctx:         ctx,
		lower:       lower,
		upper:       upper,
		idleTimeout: idle,
		handle:      handle,
		jobs:        make(chan T),
	}
	for i := 0; i < lower; i++ {
		p.spawn(nil, true)
	}
	return p
}

func (p *workerPool[T]) spawn(first *T, core bool) {
	p.workers++
	p.wg.Add(1)
	go p.run(first, core)
}

// submit blocks until a worker accepts d. It returns false when the pool's
// context ends first.
func (p *workerPool[T]) submit(d T) bool {
	select {
	case p.jobs <- d:
		return true
	default:
	}

	p.mu.Lock()
	if p.workers < p.upper {
		p.spawn(&d, false)
		p.mu.Unlock()
		return true
	}
	p.mu.Unlock()

	select {
	case p.jobs <- d:
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *workerPool[T]) run(first *T, core bool) {
	defer p.wg.Done()

	if first != nil {
		p.handle(*first)
	}

	var idle <-chan time.Time
	var timer *time.Timer
	if !core {
		timer = time.NewTimer(p.idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case d, ok := <-p.jobs:
			if !ok {
				p.retire()
				return
			}
			p.handle(d)
			if timer != nil {
				timer.Reset(p.idleTimeout)
			}
		case <-idle:
			p.retire()
			return
		}
	}
}

func (p *workerPool[T]) retire() {
	p.mu.Lock()
	p.workers--
	p.mu.Unlock()
}

func (p *workerPool[T]) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// close stops accepting work and waits for in-flight deliveries.
func (p *workerPool[T]) close() {
	close(p.jobs)
	p.wg.Wait()
}
