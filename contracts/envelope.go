package contracts

import (
	"fmt"
	"time"

	"github.com/glimte/courier/serialization"
	"github.com/samber/lo"
)

// Envelope wraps a payload for transport. The encoded byte buffer is the
// canonical representation; the typed payload is produced on demand.
type Envelope struct {
	raw           []byte
	codec         serialization.Codec
	correlationID string
	createdAt     time.Time
	stringProps   map[string]string
	intProps      map[string]int
}

// NewEnvelopeFromPayload encodes payload immediately. A nil codec selects JSON.
func NewEnvelopeFromPayload(payload any, correlationID string, codec serialization.Codec) (*Envelope, error) {
	e := newEnvelope(correlationID, codec)
	if err := e.SetPayload(payload); err != nil {
		return nil, err
	}
	return e, nil
}

// NewEnvelopeFromBytes wraps raw bytes without decoding them.
func NewEnvelopeFromBytes(raw []byte, correlationID string, codec serialization.Codec) *Envelope {
	e := newEnvelope(correlationID, codec)
	e.raw = raw
	return e
}

func newEnvelope(correlationID string, codec serialization.Codec) *Envelope {
	if codec == nil {
		codec = serialization.JSON
	}
	return &Envelope{
		codec:         codec,
		correlationID: correlationID,
		createdAt:     time.Now().UTC(),
	}
}

// Payload decodes the raw bytes into out. The result is not cached; every
// call decodes again.
func (e *Envelope) Payload(out any) error {
	if len(e.raw) == 0 {
		return &DeserializationError{Codec: e.codec.Name(), Type: typeName(out), Err: ErrEmptyPayload}
	}
	if err := e.codec.Unmarshal(e.raw, out); err != nil {
		return &DeserializationError{Codec: e.codec.Name(), Type: typeName(out), Err: err}
	}
	return nil
}

// PayloadAs decodes the envelope payload into a new T.
func PayloadAs[T any](e *Envelope) (T, error) {
	var v T
	err := e.Payload(&v)
	return v, err
}

// SetPayload encodes v and replaces the raw bytes. On failure the previous
// bytes are kept.
func (e *Envelope) SetPayload(v any) error {
	if v == nil {
		return &SerializationError{Codec: e.codec.Name(), Type: "nil", Err: ErrNilPayload}
	}
	raw, err := e.codec.Marshal(v)
	if err != nil {
		return &SerializationError{Codec: e.codec.Name(), Type: typeName(v), Err: err}
	}
	e.raw = raw
	return nil
}

// RawBytes returns the encoded payload. Callers must not modify it.
func (e *Envelope) RawBytes() []byte { return e.raw }

// SetRawBytes replaces the encoded payload.
func (e *Envelope) SetRawBytes(raw []byte) { e.raw = raw }

// Codec returns the codec bound to the envelope.
func (e *Envelope) Codec() serialization.Codec { return e.codec }

// ContentType returns the media type of the encoded payload.
func (e *Envelope) ContentType() string { return e.codec.ContentType() }

func (e *Envelope) CorrelationID() string { return e.correlationID }

func (e *Envelope) SetCorrelationID(id string) { e.correlationID = id }

func (e *Envelope) CreatedAt() time.Time { return e.createdAt }

// SetStringProperty stores side metadata; keys are unique.
func (e *Envelope) SetStringProperty(key, value string) {
	if e.stringProps == nil {
		e.stringProps = make(map[string]string)
	}
	e.stringProps[key] = value
}

func (e *Envelope) StringProperty(key string) (string, bool) {
	v, ok := e.stringProps[key]
	return v, ok
}

// StringProperties returns a copy of the string properties.
func (e *Envelope) StringProperties() map[string]string {
	return lo.Assign(e.stringProps)
}

func (e *Envelope) SetIntProperty(key string, value int) {
	if e.intProps == nil {
		e.intProps = make(map[string]int)
	}
	e.intProps[key] = value
}

func (e *Envelope) IntProperty(key string) (int, bool) {
	v, ok := e.intProps[key]
	return v, ok
}

// IntProperties returns a copy of the int properties.
func (e *Envelope) IntProperties() map[string]int {
	return lo.Assign(e.intProps)
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
