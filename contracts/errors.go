package contracts

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNilPayload is returned when an envelope is asked to encode nil.
	ErrNilPayload = errors.New("contracts: payload is nil")
	// ErrEmptyPayload is returned when decoding an envelope without bytes.
	ErrEmptyPayload = errors.New("contracts: payload is empty")
)

// Error codes stamped on FAILED audit records.
const (
	CodeSerialization   = "SERIALIZATION_ERROR"
	CodeDeserialization = "DESERIALIZATION_ERROR"
	CodePublish         = "PUBLISH_ERROR"
	CodeHandler         = "HANDLER_ERROR"
	CodeAcknowledge     = "ACK_ERROR"
	CodeInternal        = "INTERNAL_ERROR"
)

// SerializationError reports a payload that cannot be encoded.
type SerializationError struct {
	Codec string
	Type  string
	Err   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error: cannot encode %s with %s codec: %v", e.Type, e.Codec, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// DeserializationError reports bytes that cannot be decoded into the
// requested type.
type DeserializationError struct {
	Codec string
	Type  string
	Err   error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("deserialization error: cannot decode %s with %s codec: %v", e.Type, e.Codec, e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// PublishError reports a send the broker rejected or could not accept.
type PublishError struct {
	Exchange      string
	RoutingKey    string
	CorrelationID string
	Err           error
	Timestamp     time.Time
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish error: failed to publish to %q/%q (correlationId=%s): %v",
		e.Exchange, e.RoutingKey, e.CorrelationID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// HandlerError reports a failure raised while a receiver processed a
// delivery.
type HandlerError struct {
	InterfaceName string
	TransactionID string
	Queue         string
	Err           error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler error: %s on queue %s (transactionId=%s): %v",
		e.InterfaceName, e.Queue, e.TransactionID, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// ErrorCode classifies err for audit records.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var coder interface{ Code() string }
	if errors.As(err, &coder) {
		return coder.Code()
	}

	var (
		serErr   *SerializationError
		deserErr *DeserializationError
		pubErr   *PublishError
		hdlErr   *HandlerError
	)
	switch {
	case errors.As(err, &serErr):
		return CodeSerialization
	case errors.As(err, &deserErr):
		return CodeDeserialization
	case errors.As(err, &pubErr):
		return CodePublish
	case errors.As(err, &hdlErr):
		return CodeHandler
	default:
		return CodeInternal
	}
}
