package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/glimte/courier/contracts"
	"github.com/glimte/courier/internal/rabbitmq"
)

var (
	// ErrEmptyHostName is returned by Init when the host resolver yields "".
	ErrEmptyHostName = errors.New("messaging: empty host name")
	// ErrNoPublisher is returned by Init for a configured sender without a publisher.
	ErrNoPublisher = errors.New("messaging: no publisher")
	// ErrNoConsumer is returned by Start for a configured receiver without a consumer.
	ErrNoConsumer = errors.New("messaging: no consumer")
)

// HostResolver returns the host identity stamped into audit records.
type HostResolver func() (string, error)

// AuditEmitter ships audit records.
type AuditEmitter interface {
	PublishCommonLogMessage(ctx context.Context, event contracts.LogEvent) error
}

// BindingInitError reports a binding that could not initialize. The binding
// is unusable afterwards.
type BindingInitError struct {
	Interface string
	Kind      contracts.BindingType
	Op        string
	Err       error
}

func (e *BindingInitError) Error() string {
	return fmt.Sprintf("messaging: %s binding %q: %s: %v", e.Kind, e.Interface, e.Op, e.Err)
}

func (e *BindingInitError) Unwrap() error { return e.Err }

// ServiceBinding is the lifecycle and audit core shared by senders and
// receivers.
type ServiceBinding struct {
	name          string
	kind          contracts.BindingType
	componentName string
	hostName      string
	resolveHost   HostResolver
	onInit        func(ctx context.Context) error
	emitter       AuditEmitter
	logPayloads   bool
	logger        *slog.Logger
	now           func() time.Time

	initOnce sync.Once
	initErr  error
}

type options struct {
	logger        *slog.Logger
	emitter       AuditEmitter
	componentName string
	resolveHost   HostResolver
	logPayloads   bool

	declarer Declarer

	// receiver only
	payloadType func() any
	batch       *rabbitmq.BatchOptions
}

// Option configures a Sender, Receiver or AuditLogPublisher.
type Option func(*options)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditEmitter sets where audit records go. Without one they are dropped.
func WithAuditEmitter(emitter AuditEmitter) Option {
	return func(o *options) {
		o.emitter = emitter
	}
}

// WithComponentName sets the component name stamped into audit records.
func WithComponentName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.componentName = name
		}
	}
}

// WithHostResolver replaces os.Hostname.
func WithHostResolver(resolve HostResolver) Option {
	return func(o *options) {
		if resolve != nil {
			o.resolveHost = resolve
		}
	}
}

// WithPayloadLogging copies request and response payloads into request
// contexts and audit records.
func WithPayloadLogging(enabled bool) Option {
	return func(o *options) {
		o.logPayloads = enabled
	}
}

// WithPayloadType sets the value receivers decode each delivery into before
// calling the handler. The default decodes into an empty interface, which
// only suits self-describing codecs such as JSON.
func WithPayloadType(factory func() any) Option {
	return func(o *options) {
		o.payloadType = factory
	}
}

// WithBatch makes a receiver consume in groups of up to size deliveries,
// flushed at least every interval.
func WithBatch(size int, interval time.Duration) Option {
	return func(o *options) {
		o.batch = &rabbitmq.BatchOptions{Size: size, FlushInterval: interval}
	}
}

// WithDeclarer lets senders and receivers whose destination sets declare
// create their broker objects during Init.
func WithDeclarer(d Declarer) Option {
	return func(o *options) {
		o.declarer = d
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:        slog.Default(),
		componentName: "courier",
		resolveHost:   os.Hostname,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewServiceBinding creates a binding for interfaceName. onInit runs once,
// from Init, after host identity is resolved.
func NewServiceBinding(interfaceName string, kind contracts.BindingType, onInit func(ctx context.Context) error, opts ...Option) *ServiceBinding {
	return newServiceBinding(interfaceName, kind, onInit, buildOptions(opts))
}

func newServiceBinding(interfaceName string, kind contracts.BindingType, onInit func(ctx context.Context) error, o options) *ServiceBinding {
	return &ServiceBinding{
		name:          interfaceName,
		kind:          kind,
		componentName: o.componentName,
		resolveHost:   o.resolveHost,
		onInit:        onInit,
		emitter:       o.emitter,
		logPayloads:   o.logPayloads,
		logger:        o.logger.With("interfaceName", interfaceName, "bindingType", string(kind)),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Init resolves the binding's identity and runs its init hook. Only the
// first call does work; later calls return the first result.
func (b *ServiceBinding) Init(ctx context.Context) error {
	b.initOnce.Do(func() {
		host, err := b.resolveHost()
		if err != nil {
			b.initErr = &BindingInitError{Interface: b.name, Kind: b.kind, Op: "resolve host", Err: err}
			return
		}
		if host == "" {
			b.initErr = &BindingInitError{Interface: b.name, Kind: b.kind, Op: "resolve host", Err: ErrEmptyHostName}
			return
		}
		b.hostName = host

		if b.onInit != nil {
			if err := b.onInit(ctx); err != nil {
				b.initErr = &BindingInitError{Interface: b.name, Kind: b.kind, Op: "init", Err: err}
				return
			}
		}

		b.logger.Debug("binding initialized", "hostName", b.hostName)
	})
	return b.initErr
}

// Kind returns the binding type.
func (b *ServiceBinding) Kind() contracts.BindingType { return b.kind }

// InterfaceName returns the interface this binding serves.
func (b *ServiceBinding) InterfaceName() string { return b.name }

// HostName is empty until Init succeeded.
func (b *ServiceBinding) HostName() string { return b.hostName }

// ComponentName returns the configured component name.
func (b *ServiceBinding) ComponentName() string { return b.componentName }

// LogsPayloads reports whether payload logging is enabled.
func (b *ServiceBinding) LogsPayloads() bool { return b.logPayloads }

// CreateAuditRecord builds the record for one operation. It never fails:
// payloads that cannot be rendered leave their fields empty.
func (b *ServiceBinding) CreateAuditRecord(rc *contracts.RequestContext, received, processed any, interfaceName string, status contracts.ResultStatus) (event contracts.LogEvent) {
	event = contracts.LogEvent{
		BindingType:   b.kind,
		ComponentName: b.componentName,
		HostName:      b.hostName,
		InterfaceName: interfaceName,
		ProcessedAt:   b.now(),
		Status:        status.Status,
		ErrorCode:     status.ErrorCode,
		ErrorMessage:  status.ErrorMessage,
		StackTrace:    status.StackTrace,
	}
	if event.Status == "" {
		event.Status = contracts.StatusSuccess
	}
	if rc != nil {
		event.TransactionID = rc.TransactionID
		event.ReceivedAt = rc.CreatedAt
	} else {
		event.ReceivedAt = event.ProcessedAt
	}

	if b.logPayloads {
		event.ReceivedPayload = b.renderPayload(received)
		event.ProcessedPayload = b.renderPayload(processed)
	}
	return event
}

// renderPayload returns v as JSON text. Strings and byte slices are taken
// as already rendered.
func (b *ServiceBinding) renderPayload(v any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("payload rendering panicked", "panic", r)
			out = ""
		}
	}()

	switch p := v.(type) {
	case nil:
		return ""
	case string:
		return p
	case []byte:
		return string(p)
	case json.RawMessage:
		return string(p)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		b.logger.Debug("payload not renderable", "type", fmt.Sprintf("%T", v), "error", err)
		return ""
	}
	return string(raw)
}

// PublishAuditRecord hands event to the audit emitter. Emission failures are
// logged and never returned.
func (b *ServiceBinding) PublishAuditRecord(ctx context.Context, event contracts.LogEvent) {
	if b.emitter == nil {
		b.logger.Debug("audit record dropped: no emitter", "transactionId", event.TransactionID)
		return
	}

	if err := b.emitter.PublishCommonLogMessage(ctx, event); err != nil {
		b.logger.Warn("failed to publish audit record",
			"error", err,
			"transactionId", event.TransactionID,
			"status", string(event.Status),
		)
	}
}
