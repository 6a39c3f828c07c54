// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package courier wires configuration, the broker connection and the
// messaging bindings into one client.
package courier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/glimte/courier/auditlog"
	"github.com/glimte/courier/config"
	"github.com/glimte/courier/contracts"
	"github.com/glimte/courier/health"
	"github.com/glimte/courier/internal/rabbitmq"
	"github.com/glimte/courier/messaging"
	"github.com/glimte/courier/serialization"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrClientClosed is returned by operations on a closed client.
var ErrClientClosed = errors.New("courier: client closed")

// Client provides the main entry point for courier
type Client struct {
	cfg    *config.Config
	logger *slog.Logger
	opts   []messaging.Option

	conn      *rabbitmq.ConnectionManager
	publisher *rabbitmq.Publisher
	consumer  *rabbitmq.Consumer
	topology  *rabbitmq.Topology
	audit     *messaging.AuditLogPublisher

	mu        sync.Mutex
	senders   map[string]*messaging.Sender
	receivers []*messaging.Receiver
	closed    bool
}

// NewClient validates cfg and builds a client. Nothing touches the broker
// until Connect.
func NewClient(cfg *config.Config, options ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("courier: nil config")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cc := &clientConfig{logger: slog.Default()}
	for _, opt := range options {
		opt(cc)
	}

	connOpts := []rabbitmq.ConnectionOption{rabbitmq.WithLogger(cc.logger)}
	if cfg.Broker.ReconnectDelay > 0 {
		connOpts = append(connOpts, rabbitmq.WithReconnectDelay(cfg.Broker.ReconnectDelay))
	}
	if cfg.Broker.MaxReconnects > 0 {
		connOpts = append(connOpts, rabbitmq.WithMaxReconnects(cfg.Broker.MaxReconnects))
	}
	if cc.dialer != nil {
		connOpts = append(connOpts, rabbitmq.WithDialer(cc.dialer))
	}
	conn := rabbitmq.NewConnectionManager(cfg.Broker.URL, connOpts...)

	c := &Client{
		cfg:       cfg,
		logger:    cc.logger,
		conn:      conn,
		publisher: rabbitmq.NewPublisher(conn, rabbitmq.WithConfirms(cfg.Broker.Confirm), rabbitmq.WithPublisherLogger(cc.logger)),
		consumer:  rabbitmq.NewConsumer(conn, rabbitmq.WithConsumerLogger(cc.logger)),
		topology:  rabbitmq.NewTopology(conn),
		senders:   make(map[string]*messaging.Sender),
	}

	c.opts = []messaging.Option{
		messaging.WithLogger(cc.logger),
		messaging.WithComponentName(cfg.Component.Name),
		messaging.WithPayloadLogging(cfg.Audit.LogPayloads),
	}
	if cc.resolveHost != nil {
		c.opts = append(c.opts, messaging.WithHostResolver(cc.resolveHost))
	}

	queue := ""
	if cfg.Audit.Enabled {
		queue = cfg.Audit.Queue
	}
	c.audit = messaging.NewAuditLogPublisher(queue, c.publisher, c.opts...)

	return c, nil
}

// Config returns the configuration the client was built from.
func (c *Client) Config() *config.Config { return c.cfg }

// Audit returns the audit log publisher.
func (c *Client) Audit() *messaging.AuditLogPublisher { return c.audit }

// Connect dials the broker and declares the audit queue when auditing is on.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.conn.Connect(ctx); err != nil {
		return err
	}
	if c.audit.Configured() {
		if _, err := c.topology.DeclareQueue(ctx, rabbitmq.DurableQueue(c.audit.Queue())); err != nil {
			return fmt.Errorf("failed to declare audit queue: %w", err)
		}
	}
	c.logger.Info("connected",
		"broker", rabbitmq.SanitizeURL(c.cfg.Broker.URL),
		"component", c.cfg.Component.Name,
		"audit", c.audit.Configured(),
	)
	return nil
}

// Sender returns the sender for interfaceName, creating it on first use. An
// interface without a sender destination yields an unconfigured sender.
func (c *Client) Sender(interfaceName string) *messaging.Sender {
	key := strings.ToLower(interfaceName)

	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.senders[key]; ok {
		return s
	}

	opts := append([]messaging.Option{messaging.WithAuditEmitter(c.audit)}, c.opts...)
	s := messaging.NewSender(interfaceName, c.cfg.Sender(interfaceName), c.publisher, opts...)
	c.senders[key] = s
	return s
}

// Send encodes payload and publishes it on interfaceName. An empty
// correlationID starts a new transaction.
func (c *Client) Send(ctx context.Context, interfaceName string, payload any, correlationID string) error {
	s := c.Sender(interfaceName)
	env, err := s.NewEnvelope(payload, correlationID)
	if err != nil {
		return err
	}
	return s.Publish(ctx, contracts.NewRequestContext(interfaceName, correlationID), env)
}

// SendRaw publishes already encoded bytes. contentType selects the codec
// recorded on the message; empty means the sender's codec.
func (c *Client) SendRaw(ctx context.Context, interfaceName string, body []byte, contentType, correlationID string) error {
	s := c.Sender(interfaceName)
	codec := s.Codec()
	if contentType != "" {
		if cc, ok := serialization.ByContentType(contentType); ok {
			codec = cc
		}
	}
	env := contracts.NewEnvelopeFromBytes(body, correlationID, codec)
	return s.Publish(ctx, contracts.NewRequestContext(interfaceName, correlationID), env)
}

// Receiver registers handler for interfaceName. The receiver starts with
// Start. opts are applied after the client's defaults.
func (c *Client) Receiver(interfaceName string, handler messaging.Handler, opts ...messaging.Option) *messaging.Receiver {
	all := append([]messaging.Option{
		messaging.WithAuditEmitter(c.audit),
		messaging.WithDeclarer(c.topology),
	}, c.opts...)
	all = append(all, opts...)

	r := messaging.NewReceiver(interfaceName, c.cfg.Receiver(interfaceName), c.consumer, handler, all...)
	c.register(r)
	return r
}

// AuditReceiver registers a receiver draining the audit queue into sink.
// Its own deliveries are not audited. It returns nil when auditing is off.
func (c *Client) AuditReceiver(sink auditlog.Sink, opts ...messaging.Option) *messaging.Receiver {
	if !c.audit.Configured() {
		return nil
	}

	dest := &config.ReceiverDestination{
		QueueName:   c.audit.Queue(),
		Concurrency: config.DefaultConcurrency,
		AckMode:     config.AckModeManual,
		Codec:       serialization.JSONName,
	}

	all := []messaging.Option{
		messaging.WithLogger(c.logger),
		messaging.WithComponentName(c.cfg.Component.Name),
		messaging.WithPayloadType(auditlog.PayloadType),
	}
	all = append(all, opts...)

	r := messaging.NewReceiver(messaging.AuditInterfaceName, dest, c.consumer, auditlog.NewHandler(sink), all...)
	c.register(r)
	return r
}

func (c *Client) register(r *messaging.Receiver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receivers = append(c.receivers, r)
}

// Start starts every registered receiver. On failure the receivers already
// started are stopped again.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	receivers := append([]*messaging.Receiver(nil), c.receivers...)
	c.mu.Unlock()

	for i, r := range receivers {
		if err := r.Start(ctx); err != nil {
			for _, started := range receivers[:i] {
				started.Stop()
			}
			return fmt.Errorf("failed to start receiver %q: %w", r.InterfaceName(), err)
		}
	}
	return nil
}

// Stop stops every registered receiver and waits for in-flight deliveries.
func (c *Client) Stop() {
	c.mu.Lock()
	receivers := append([]*messaging.Receiver(nil), c.receivers...)
	c.mu.Unlock()

	for _, r := range receivers {
		r.Stop()
	}
}

// HealthCheckers returns checkers for the broker connection and every
// configured receiver queue.
func (c *Client) HealthCheckers() []health.Checker {
	checkers := []health.Checker{health.NewBrokerChecker(c.conn)}
	for _, name := range c.cfg.ReceiverNames() {
		checkers = append(checkers, health.NewQueueChecker(c.cfg.Receiver(name).QueueName, c.topology, 0))
	}
	if c.audit.Configured() {
		checkers = append(checkers, health.NewQueueChecker(c.audit.Queue(), c.topology, 0))
	}
	return checkers
}

// Close closes all resources
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.Stop()

	var errs []error
	if err := c.publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// clientConfig holds client configuration
type clientConfig struct {
	logger      *slog.Logger
	resolveHost messaging.HostResolver
	dialer      rabbitmq.Dialer
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithHostResolver overrides how bindings learn the host name.
func WithHostResolver(resolve messaging.HostResolver) ClientOption {
	return func(cfg *clientConfig) {
		cfg.resolveHost = resolve
	}
}

// WithDialer replaces amqp.Dial.
func WithDialer(dial func(url string) (*amqp.Connection, error)) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dialer = dial
	}
}
