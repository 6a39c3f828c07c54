package auditlog

import (
	"context"
	"errors"
	"testing"

	"github.com/glimte/courier/contracts"
	"github.com/glimte/courier/serialization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerWritesDecodedRecord(t *testing.T) {
	ev := sampleEvent(contracts.StatusSuccess)
	env, err := contracts.NewEnvelopeFromPayload(ev, ev.TransactionID, serialization.JSON)
	require.NoError(t, err)

	var stored []contracts.LogEvent
	h := NewHandler(SinkFunc(func(_ context.Context, got contracts.LogEvent) error {
		stored = append(stored, got)
		return nil
	}))

	require.NoError(t, h.ProcessMessage(context.Background(), nil, env))
	require.Len(t, stored, 1)
	assert.Equal(t, ev, stored[0])
}

func TestHandlerFailures(t *testing.T) {
	t.Run("undecodable", func(t *testing.T) {
		h := NewHandler(SinkFunc(func(context.Context, contracts.LogEvent) error {
			t.Fatal("sink must not be called")
			return nil
		}))
		env := contracts.NewEnvelopeFromBytes([]byte("[1,2"), "tx", serialization.JSON)

		var decodeErr *contracts.DeserializationError
		assert.ErrorAs(t, h.ProcessMessage(context.Background(), nil, env), &decodeErr)
	})

	t.Run("sink error", func(t *testing.T) {
		sinkErr := errors.New("stream unavailable")
		h := NewHandler(SinkFunc(func(context.Context, contracts.LogEvent) error { return sinkErr }))
		env, err := contracts.NewEnvelopeFromPayload(sampleEvent(contracts.StatusSuccess), "tx", serialization.JSON)
		require.NoError(t, err)

		assert.ErrorIs(t, h.ProcessMessage(context.Background(), nil, env), sinkErr)
	})
}

func TestPayloadType(t *testing.T) {
	_, ok := PayloadType().(*contracts.LogEvent)
	assert.True(t, ok)
}
