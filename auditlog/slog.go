package auditlog

import (
	"context"
	"log/slog"

	"github.com/glimte/courier/contracts"
)

// SlogSink writes each record as one structured log line. FAILED records are
// logged at error level, everything else at info.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink writing to logger, or slog.Default when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Write(ctx context.Context, event contracts.LogEvent) error {
	level := slog.LevelInfo
	if event.Failed() {
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("transactionId", event.TransactionID),
		slog.String("bindingType", string(event.BindingType)),
		slog.String("componentName", event.ComponentName),
		slog.String("hostName", event.HostName),
		slog.String("interfaceName", event.InterfaceName),
		slog.String("status", string(event.Status)),
		slog.Time("receivedAt", event.ReceivedAt),
		slog.Time("processedAt", event.ProcessedAt),
		slog.Duration("elapsed", event.ProcessedAt.Sub(event.ReceivedAt)),
	}
	if event.Failed() {
		attrs = append(attrs,
			slog.String("errorCode", event.ErrorCode),
			slog.String("errorMessage", event.ErrorMessage),
		)
	}
	if event.ReceivedPayload != "" {
		attrs = append(attrs, slog.String("receivedPayload", event.ReceivedPayload))
	}
	if event.ProcessedPayload != "" {
		attrs = append(attrs, slog.String("processedPayload", event.ProcessedPayload))
	}

	s.logger.LogAttrs(ctx, level, "audit record", attrs...)
	return nil
}
