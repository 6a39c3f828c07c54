package auditlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/glimte/courier/contracts"
)

// Sink stores audit records.
type Sink interface {
	Write(ctx context.Context, event contracts.LogEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, event contracts.LogEvent) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, event contracts.LogEvent) error {
	return f(ctx, event)
}

// MultiSink writes every record to each sink in order. A failing sink does
// not stop the others; their errors are joined.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, event contracts.LogEvent) error {
	var errs []error
	for i, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
