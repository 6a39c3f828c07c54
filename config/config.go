// Package config describes where senders publish and receivers consume, and
// loads that description from a file.
package config

import (
	"sort"
	"strings"
	"time"
)

// Delivery modes accepted by SenderDestination.DeliveryMode.
const (
	DeliveryPersistent = "persistent"
	DeliveryTransient  = "transient"
)

// AckModeManual is the only acknowledge mode receivers support.
const AckModeManual = "MANUAL"

// Defaults applied by Load when a value is absent.
const (
	DefaultAuditQueue     = "courier.audit"
	DefaultComponentName  = "courier"
	DefaultReconnectDelay = 5 * time.Second
	DefaultConcurrency    = "1"
	DefaultCodec          = "json"
)

// Config is the complete file configuration.
type Config struct {
	Broker       Broker                 `mapstructure:"broker" validate:"required"`
	Component    Component              `mapstructure:"component"`
	Audit        Audit                  `mapstructure:"audit"`
	Destinations map[string]Destination `mapstructure:"destinations" validate:"dive"`
}

// Broker holds connection settings.
type Broker struct {
	URL            string        `mapstructure:"url" validate:"required,url"`
	ReconnectDelay time.Duration `mapstructure:"reconnectDelay" validate:"gte=0"`
	// MaxReconnects caps reconnection attempts; 0 retries forever.
	MaxReconnects uint64 `mapstructure:"maxReconnects"`
	// Confirm enables publisher confirms on the shared publish channel.
	Confirm bool `mapstructure:"confirm"`
}

// Component identifies this process in audit records.
type Component struct {
	Name string `mapstructure:"name"`
}

// Audit configures the audit side channel.
type Audit struct {
	Enabled     bool   `mapstructure:"enabled"`
	Queue       string `mapstructure:"queue" validate:"required_if=Enabled true"`
	LogPayloads bool   `mapstructure:"logPayloads"`
	Redis       Redis  `mapstructure:"redis"`
}

// Redis configures the Redis stream audit sink. An empty Addr disables it.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	Stream   string `mapstructure:"stream" validate:"required_with=Addr"`
	MaxLen   int64  `mapstructure:"maxLen" validate:"gte=0"`
}

// Destination binds one interface name to its broker addresses.
type Destination struct {
	Sender   *SenderDestination   `mapstructure:"sender"`
	Receiver *ReceiverDestination `mapstructure:"receiver"`
	// ExceptionList and StopOnException are accepted and validated but do
	// not change acknowledgement behavior.
	ExceptionList   []string `mapstructure:"exceptionList"`
	StopOnException bool     `mapstructure:"stopOnException"`
}

// SenderDestination is where a sender publishes. An empty ExchangeName
// publishes on the default exchange by routing key alone.
type SenderDestination struct {
	ExchangeName        string `mapstructure:"exchangeName"`
	RoutingKey          string `mapstructure:"routingKey" validate:"required"`
	DeliveryMode        string `mapstructure:"deliveryMode" validate:"omitempty,oneof=persistent transient"`
	ReplyToRoutingKey   string `mapstructure:"replyToRoutingKey"`
	ReplyToExchangeName string `mapstructure:"replyToExchangeName" validate:"excluded_without=ReplyToRoutingKey"`
	Codec               string `mapstructure:"codec" validate:"omitempty,codec"`
	// Declare creates ExchangeName (durable, ExchangeType) before the first
	// publish. It has no effect on the default exchange.
	Declare      bool   `mapstructure:"declare"`
	ExchangeType string `mapstructure:"exchangeType" validate:"omitempty,oneof=direct fanout topic headers"`
}

// Persistent reports whether deliveries survive a broker restart.
func (d *SenderDestination) Persistent() bool {
	return d.DeliveryMode != DeliveryTransient
}

// ReplyTo renders the reply address carried on outbound messages.
func (d *SenderDestination) ReplyTo() string {
	switch {
	case d.ReplyToRoutingKey == "":
		return ""
	case d.ReplyToExchangeName == "":
		return d.ReplyToRoutingKey
	default:
		return d.ReplyToExchangeName + "/" + d.ReplyToRoutingKey
	}
}

// ReceiverDestination is where a receiver consumes.
type ReceiverDestination struct {
	QueueName   string `mapstructure:"queueName" validate:"required"`
	Concurrency string `mapstructure:"concurrency" validate:"omitempty,concurrency"`
	// AcknowledgeOnFailure leaves a failed delivery unacknowledged so the
	// broker redelivers it once the channel closes. Unacked deliveries count
	// against the prefetch window (the concurrency ceiling by default), so a
	// receiver that fails that many deliveries in a row stops receiving until
	// it is restarted.
	AcknowledgeOnFailure bool   `mapstructure:"acknowledgeOnFailure"`
	AckMode              string `mapstructure:"ackMode" validate:"omitempty,eq=MANUAL"`
	ClientIDPrefix       string `mapstructure:"clientIdPrefix"`
	// Prefetch overrides the channel prefetch; 0 uses the concurrency ceiling.
	Prefetch int `mapstructure:"prefetch" validate:"gte=0"`
	// Declare creates the queue (durable) before consuming. With ExchangeName
	// set it also declares the exchange and binds the queue with RoutingKey.
	Declare      bool   `mapstructure:"declare"`
	ExchangeName string `mapstructure:"exchangeName"`
	ExchangeType string `mapstructure:"exchangeType" validate:"omitempty,oneof=direct fanout topic headers"`
	RoutingKey   string `mapstructure:"routingKey"`
	Codec        string `mapstructure:"codec" validate:"omitempty,codec"`
}

// Range parses Concurrency; invalid values fall back to a single worker.
func (d *ReceiverDestination) Range() Concurrency {
	c, err := ParseConcurrency(d.Concurrency)
	if err != nil {
		return Concurrency{Min: 1, Max: 1}
	}
	return c
}

// Sender returns the sender destination for an interface, or nil. Interface
// names match case-insensitively.
func (c *Config) Sender(interfaceName string) *SenderDestination {
	if d, ok := c.Destinations[strings.ToLower(interfaceName)]; ok {
		return d.Sender
	}
	return nil
}

// Receiver returns the receiver destination for an interface, or nil.
func (c *Config) Receiver(interfaceName string) *ReceiverDestination {
	if d, ok := c.Destinations[strings.ToLower(interfaceName)]; ok {
		return d.Receiver
	}
	return nil
}

// ReceiverNames lists the interfaces that have a receiver destination.
func (c *Config) ReceiverNames() []string {
	names := make([]string, 0, len(c.Destinations))
	for name, d := range c.Destinations {
		if d.Receiver != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
