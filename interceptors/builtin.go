package interceptors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/courier/contracts"
	"github.com/glimte/courier/internal/rabbitmq"
	"github.com/glimte/courier/messaging"
	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-retry"
)

// LoggingInterceptor logs message processing
type LoggingInterceptor struct {
	logger *slog.Logger
}

// NewLoggingInterceptor creates a new logging interceptor
func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingInterceptor{logger: logger}
}

// Intercept implements Interceptor
func (i *LoggingInterceptor) Intercept(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope, next messaging.Handler) error {
	start := time.Now()

	i.logger.DebugContext(ctx, "processing message",
		"interfaceName", rc.InterfaceName,
		"transactionId", rc.TransactionID,
	)

	err := next.ProcessMessage(ctx, rc, env)
	duration := time.Since(start)

	if err != nil {
		i.logger.ErrorContext(ctx, "message processing failed",
			"interfaceName", rc.InterfaceName,
			"transactionId", rc.TransactionID,
			"duration", duration,
			"error", err,
		)
	} else {
		i.logger.InfoContext(ctx, "message processed",
			"interfaceName", rc.InterfaceName,
			"transactionId", rc.TransactionID,
			"duration", duration,
		)
	}

	return err
}

// Name implements Interceptor
func (i *LoggingInterceptor) Name() string {
	return "LoggingInterceptor"
}

// TimeoutInterceptor bounds the handler with a deadline. The handler must
// honor ctx for the deadline to take effect.
type TimeoutInterceptor struct {
	timeout time.Duration
}

// NewTimeoutInterceptor creates a new timeout interceptor
func NewTimeoutInterceptor(timeout time.Duration) *TimeoutInterceptor {
	return &TimeoutInterceptor{timeout: timeout}
}

// Intercept implements Interceptor
func (i *TimeoutInterceptor) Intercept(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope, next messaging.Handler) error {
	if i.timeout <= 0 {
		return next.ProcessMessage(ctx, rc, env)
	}
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	err := next.ProcessMessage(ctx, rc, env)
	if err == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("handler exceeded %s: %w", i.timeout, ctx.Err())
	}
	return err
}

// Name implements Interceptor
func (i *TimeoutInterceptor) Name() string {
	return "TimeoutInterceptor"
}

// RetryInterceptor runs the handler again on failure with exponential
// backoff. Panics and undecodable payloads are never retried.
type RetryInterceptor struct {
	maxRetries uint64
	base       time.Duration
	retryable  func(error) bool
	logger     *slog.Logger
}

// NewRetryInterceptor creates a new retry interceptor
func NewRetryInterceptor(maxRetries uint64, base time.Duration) *RetryInterceptor {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return &RetryInterceptor{
		maxRetries: maxRetries,
		base:       base,
		retryable:  defaultRetryable,
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger for the retry interceptor
func (r *RetryInterceptor) WithLogger(logger *slog.Logger) *RetryInterceptor {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithRetryable replaces the classification of retryable errors.
func (r *RetryInterceptor) WithRetryable(fn func(error) bool) *RetryInterceptor {
	if fn != nil {
		r.retryable = fn
	}
	return r
}

func defaultRetryable(err error) bool {
	var (
		decodeErr *contracts.DeserializationError
		panicErr  *messaging.PanicError
	)
	if errors.As(err, &decodeErr) || errors.As(err, &panicErr) {
		return false
	}
	return rabbitmq.IsRetryable(err)
}

// Intercept implements Interceptor
func (r *RetryInterceptor) Intercept(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope, next messaging.Handler) error {
	b := retry.WithMaxRetries(r.maxRetries, retry.NewExponential(r.base))

	attempt := 0
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := next.ProcessMessage(ctx, rc, env)
		if err == nil || !r.retryable(err) {
			return err
		}
		r.logger.WarnContext(ctx, "handler failed, retrying",
			"attempt", attempt,
			"transactionId", rc.TransactionID,
			"error", err,
		)
		return retry.RetryableError(err)
	})
}

// Name returns the interceptor name
func (r *RetryInterceptor) Name() string {
	return "RetryInterceptor"
}

// ValidationInterceptor decodes the payload and validates it with struct
// tags before the handler runs.
type ValidationInterceptor struct {
	newPayload func() any
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func payloadValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// NewValidationInterceptor validates payloads decoded into newPayload().
func NewValidationInterceptor(newPayload func() any) *ValidationInterceptor {
	return &ValidationInterceptor{newPayload: newPayload}
}

// Intercept implements Interceptor
func (i *ValidationInterceptor) Intercept(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope, next messaging.Handler) error {
	payload := i.newPayload()
	if err := env.Payload(payload); err != nil {
		return err
	}
	if err := payloadValidator().Struct(payload); err != nil {
		return fmt.Errorf("payload validation failed: %w", err)
	}
	return next.ProcessMessage(ctx, rc, env)
}

// Name implements Interceptor
func (i *ValidationInterceptor) Name() string {
	return "ValidationInterceptor"
}
