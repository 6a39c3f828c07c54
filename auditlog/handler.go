package auditlog

import (
	"context"

	"github.com/glimte/courier/contracts"
	"github.com/glimte/courier/messaging"
)

// Handler stores audit records delivered on the audit queue.
type Handler struct {
	sink Sink
}

// NewHandler creates a handler writing to sink.
func NewHandler(sink Sink) *Handler {
	return &Handler{sink: sink}
}

// ProcessMessage decodes the record and writes it. A sink failure is
// returned so the receiver's failure policy applies to the delivery.
func (h *Handler) ProcessMessage(ctx context.Context, _ *contracts.RequestContext, env *contracts.Envelope) error {
	event, err := contracts.PayloadAs[contracts.LogEvent](env)
	if err != nil {
		return err
	}
	return h.sink.Write(ctx, event)
}

// PayloadType is the decode target an audit receiver should use with
// messaging.WithPayloadType.
func PayloadType() any { return new(contracts.LogEvent) }

var _ messaging.Handler = (*Handler)(nil)
