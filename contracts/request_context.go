package contracts

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
)

// RequestContext carries per-call state for one outbound send or one inbound
// delivery. It is discarded once the audit record has been emitted.
type RequestContext struct {
	// InterfaceName groups audit records; empty suppresses some of them.
	InterfaceName string
	// TransactionID follows the correlation id across send/receive.
	TransactionID string
	// RequestPayload and ResponsePayload are JSON snapshots kept only when
	// payload logging is enabled.
	RequestPayload  string
	ResponsePayload string
	CreatedAt       time.Time

	mu              sync.RWMutex
	requestHeaders  map[string]string
	responseHeaders map[string]string
}

// NewRequestContext builds a context; an empty transactionID is replaced by
// a freshly generated one.
func NewRequestContext(interfaceName, transactionID string) *RequestContext {
	if transactionID == "" {
		transactionID = NewTransactionID()
	}
	return &RequestContext{
		InterfaceName:   interfaceName,
		TransactionID:   transactionID,
		CreatedAt:       time.Now().UTC(),
		requestHeaders:  make(map[string]string),
		responseHeaders: make(map[string]string),
	}
}

func (rc *RequestContext) SetRequestHeader(key, value string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.requestHeaders == nil {
		rc.requestHeaders = make(map[string]string)
	}
	rc.requestHeaders[key] = value
}

func (rc *RequestContext) RequestHeader(key string) (string, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.requestHeaders[key]
	return v, ok
}

// RequestHeaders returns a snapshot of the request headers.
func (rc *RequestContext) RequestHeaders() map[string]string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return lo.Assign(rc.requestHeaders)
}

func (rc *RequestContext) SetResponseHeader(key, value string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.responseHeaders == nil {
		rc.responseHeaders = make(map[string]string)
	}
	rc.responseHeaders[key] = value
}

func (rc *RequestContext) ResponseHeader(key string) (string, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.responseHeaders[key]
	return v, ok
}

// ResponseHeaders returns a snapshot of the response headers.
func (rc *RequestContext) ResponseHeaders() map[string]string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return lo.Assign(rc.responseHeaders)
}

type requestContextKey struct{}

// WithRequestContext attaches rc to ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// RequestContextFrom returns the request context attached to ctx, if any.
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok && rc != nil
}
