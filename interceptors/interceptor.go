package interceptors

import (
	"context"
	"log/slog"

	"github.com/glimte/courier/contracts"
	"github.com/glimte/courier/messaging"
)

// Interceptor processes a delivery before it reaches the final handler
type Interceptor interface {
	// Intercept processes a delivery and calls the next handler in the chain
	Intercept(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope, next messaging.Handler) error

	// Name returns the interceptor name for logging and debugging
	Name() string
}

// InterceptorFunc is a function adapter for Interceptor
type InterceptorFunc struct {
	name string
	fn   func(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope, next messaging.Handler) error
}

// NewInterceptorFunc creates a new function-based interceptor
func NewInterceptorFunc(name string, fn func(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope, next messaging.Handler) error) *InterceptorFunc {
	return &InterceptorFunc{name: name, fn: fn}
}

// Intercept implements Interceptor
func (i *InterceptorFunc) Intercept(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope, next messaging.Handler) error {
	return i.fn(ctx, rc, env, next)
}

// Name implements Interceptor
func (i *InterceptorFunc) Name() string {
	return i.name
}

// Chain is an ordered list of interceptors.
type Chain struct {
	interceptors []Interceptor
	logger       *slog.Logger
}

// NewChain creates an empty chain
func NewChain(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{logger: logger}
}

// Add appends an interceptor. Nil interceptors are ignored.
func (c *Chain) Add(interceptor Interceptor) *Chain {
	if interceptor != nil {
		c.interceptors = append(c.interceptors, interceptor)
	}
	return c
}

// Names lists the interceptors in execution order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.interceptors))
	for i, in := range c.interceptors {
		names[i] = in.Name()
	}
	return names
}

// Then returns final wrapped by every interceptor of the chain.
func (c *Chain) Then(final messaging.Handler) messaging.Handler {
	c.logger.Debug("interceptor chain built", "interceptors", c.Names())

	// Build the chain in reverse order
	handler := final
	for i := len(c.interceptors) - 1; i >= 0; i-- {
		interceptor := c.interceptors[i]
		next := handler
		handler = messaging.HandlerFunc(func(ctx context.Context, rc *contracts.RequestContext, env *contracts.Envelope) error {
			return interceptor.Intercept(ctx, rc, env, next)
		})
	}
	return handler
}
