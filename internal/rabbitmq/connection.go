package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"
)

const (
	defaultReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 5 * time.Minute
	dialTimeout           = 30 * time.Second
)

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// Dialer opens an AMQP connection.
type Dialer func(url string) (*amqp.Connection, error)

// ConnectionManager owns the broker connection. It dials once on Connect and
// reconnects with exponential backoff whenever the broker closes it.
type ConnectionManager struct {
	url            string
	dial           Dialer
	reconnectDelay time.Duration
	maxReconnects  uint64
	logger         *slog.Logger

	mu          sync.RWMutex
	conn        *amqp.Connection
	isConnected bool
	notifyClose chan *amqp.Error

	ctx    context.Context
	cancel context.CancelFunc

	listenersMu    sync.RWMutex
	stateListeners []ConnectionStateListener
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		if logger != nil {
			cm.logger = logger
		}
	}
}

// WithReconnectDelay sets the base delay of the reconnection backoff
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithMaxReconnects caps reconnection attempts. Zero retries forever.
func WithMaxReconnects(n uint64) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.maxReconnects = n
	}
}

// WithDialer replaces amqp.Dial.
func WithDialer(d Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = d
	}
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	ctx, cancel := context.WithCancel(context.Background())
	cm := &ConnectionManager{
		url:            url,
		dial:           amqp.Dial,
		reconnectDelay: defaultReconnectDelay,
		logger:         slog.Default(),
		ctx:            ctx,
		cancel:         cancel,
	}

	for _, opt := range options {
		opt(cm)
	}
	if cm.reconnectDelay <= 0 {
		cm.reconnectDelay = defaultReconnectDelay
	}

	return cm
}

// Connect establishes the initial connection. It does not retry; callers
// decide whether a failed first dial is fatal.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.isConnected {
		return nil
	}

	conn, err := cm.dialWithTimeout(ctx)
	if err != nil {
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}

	cm.attach(conn)
	cm.logger.Info("connected to RabbitMQ", "url", SanitizeURL(cm.url))
	cm.notifyConnected()

	go cm.handleReconnect(cm.notifyClose)

	return nil
}

// attach installs conn as current connection. Caller holds cm.mu.
func (cm *ConnectionManager) attach(conn *amqp.Connection) {
	cm.conn = conn
	cm.isConnected = true
	cm.notifyClose = conn.NotifyClose(make(chan *amqp.Error, 1))
}

func (cm *ConnectionManager) dialWithTimeout(ctx context.Context) (*amqp.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	type result struct {
		conn *amqp.Connection
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := cm.dial(cm.url)
		done <- result{conn, err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-dialCtx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrConnectionTimeout
	}
}

// Connection returns the current connection
func (cm *ConnectionManager) Connection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.isConnected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	return cm.conn, nil
}

// Channel opens a new channel on the current connection.
func (cm *ConnectionManager) Channel() (Channel, error) {
	conn, err := cm.Connection()
	if err != nil {
		return nil, &ChannelError{Op: "open", Err: err, Timestamp: time.Now()}
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{Op: "open", Err: err, Timestamp: time.Now()}
	}
	return ch, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected
}

// Close stops reconnecting and closes the connection
func (cm *ConnectionManager) Close() error {
	cm.cancel()

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.isConnected = false
	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		if err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
	}
	return nil
}

// handleReconnect waits for the connection to drop, then reconnects.
func (cm *ConnectionManager) handleReconnect(notify chan *amqp.Error) {
	select {
	case <-cm.ctx.Done():
		return
	case amqpErr, ok := <-notify:
		if cm.ctx.Err() != nil {
			return
		}

		var cause error = ErrConnectionClosed
		if ok && amqpErr != nil {
			cause = amqpErr
			cm.logger.Error("connection closed", "error", amqpErr)
		}

		cm.mu.Lock()
		cm.isConnected = false
		cm.conn = nil
		cm.mu.Unlock()

		cm.notifyDisconnected(cause)

		if err := cm.reconnect(cm.ctx); err != nil {
			cm.logger.Error("giving up reconnecting", "error", err)
			cm.notifyDisconnected(err)
		}
	}
}

func (cm *ConnectionManager) backoff() retry.Backoff {
	b := retry.NewExponential(cm.reconnectDelay)
	b = retry.WithJitterPercent(25, b)
	b = retry.WithCappedDuration(maxReconnectDelay, b)
	if cm.maxReconnects > 0 {
		// WithMaxRetries counts retries after the first attempt.
		b = retry.WithMaxRetries(cm.maxReconnects-1, b)
	}
	return b
}

// reconnect dials until it succeeds, ctx ends or attempts run out.
func (cm *ConnectionManager) reconnect(ctx context.Context) error {
	attempts := 0
	start := time.Now()

	err := retry.Do(ctx, cm.backoff(), func(ctx context.Context) error {
		attempts++
		cm.logger.Info("attempting to reconnect", "attempt", attempts, "maxReconnects", cm.maxReconnects)
		cm.notifyReconnecting(attempts)

		conn, err := cm.dialWithTimeout(ctx)
		if err != nil {
			cm.logger.Error("reconnection failed", "error", err, "attempt", attempts)
			if !IsRetryable(err) {
				return err
			}
			return retry.RetryableError(err)
		}

		cm.mu.Lock()
		cm.attach(conn)
		notify := cm.notifyClose
		cm.mu.Unlock()

		cm.logger.Info("successfully reconnected to RabbitMQ",
			"attempts", attempts,
			"duration", time.Since(start))
		cm.notifyConnected()

		go cm.handleReconnect(notify)
		return nil
	})
	if err == nil {
		return nil
	}

	cause := err
	switch {
	case ctx.Err() != nil:
		cause = ErrOperationCancelled
	case cm.maxReconnects > 0 && IsRetryable(err):
		cause = ErrMaxRetriesExceeded
	}
	return &ConnectionError{
		Op:        "reconnect",
		URL:       SanitizeURL(cm.url),
		Err:       cause,
		Timestamp: time.Now(),
		Attempts:  attempts,
	}
}

// AddStateListener adds a connection state listener
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.stateListeners = append(cm.stateListeners, listener)
}

func (cm *ConnectionManager) listeners() []ConnectionStateListener {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	return append([]ConnectionStateListener(nil), cm.stateListeners...)
}

func (cm *ConnectionManager) notifyConnected() {
	for _, l := range cm.listeners() {
		go l.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	for _, l := range cm.listeners() {
		go l.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	for _, l := range cm.listeners() {
		go l.OnReconnecting(attempt)
	}
}
