package contracts

import (
	"errors"
	"testing"

	"github.com/glimte/courier/serialization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type customer struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func TestNewEnvelopeFromPayload(t *testing.T) {
	t.Run("encodes immediately", func(t *testing.T) {
		env, err := NewEnvelopeFromPayload(customer{ID: 42, Name: "X"}, "tx-1", nil)
		require.NoError(t, err)

		assert.JSONEq(t, `{"id":42,"name":"X"}`, string(env.RawBytes()))
		assert.Equal(t, "tx-1", env.CorrelationID())
		assert.Equal(t, serialization.JSONContentType, env.ContentType())
		assert.False(t, env.CreatedAt().IsZero())
	})

	t.Run("fails on unserializable payload", func(t *testing.T) {
		_, err := NewEnvelopeFromPayload(func() {}, "", nil)

		var serErr *SerializationError
		require.ErrorAs(t, err, &serErr)
		assert.Equal(t, "json", serErr.Codec)
		assert.Equal(t, CodeSerialization, ErrorCode(err))
	})

	t.Run("fails on nil payload", func(t *testing.T) {
		_, err := NewEnvelopeFromPayload(nil, "", nil)
		assert.ErrorIs(t, err, ErrNilPayload)
	})
}

func TestEnvelopePayload(t *testing.T) {
	for _, codec := range []serialization.Codec{serialization.JSON, serialization.Binary} {
		t.Run("round trip "+codec.Name(), func(t *testing.T) {
			in := customer{ID: 7, Name: "Ada"}
			env, err := NewEnvelopeFromPayload(in, "", codec)
			require.NoError(t, err)

			out, err := PayloadAs[customer](env)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}

	t.Run("does not cache decoded value", func(t *testing.T) {
		env, err := NewEnvelopeFromPayload(customer{ID: 1}, "", nil)
		require.NoError(t, err)

		first, err := PayloadAs[customer](env)
		require.NoError(t, err)
		first.Name = "mutated"

		second, err := PayloadAs[customer](env)
		require.NoError(t, err)
		assert.Empty(t, second.Name)
	})

	t.Run("malformed bytes", func(t *testing.T) {
		env := NewEnvelopeFromBytes([]byte("{oops"), "tx", nil)

		_, err := PayloadAs[customer](env)
		var deserErr *DeserializationError
		require.ErrorAs(t, err, &deserErr)
		assert.Equal(t, "*contracts.customer", deserErr.Type)
	})

	t.Run("type mismatch", func(t *testing.T) {
		env := NewEnvelopeFromBytes([]byte(`{"id":"abc"}`), "", nil)
		_, err := PayloadAs[customer](env)
		assert.Equal(t, CodeDeserialization, ErrorCode(err))
	})

	t.Run("empty bytes", func(t *testing.T) {
		env := NewEnvelopeFromBytes(nil, "", nil)
		_, err := PayloadAs[customer](env)
		assert.ErrorIs(t, err, ErrEmptyPayload)
	})
}

func TestEnvelopeSetPayload(t *testing.T) {
	env, err := NewEnvelopeFromPayload(customer{ID: 1, Name: "old"}, "", nil)
	require.NoError(t, err)

	require.NoError(t, env.SetPayload(customer{ID: 2, Name: "new"}))
	out, err := PayloadAs[customer](env)
	require.NoError(t, err)
	assert.Equal(t, customer{ID: 2, Name: "new"}, out)

	before := env.RawBytes()
	err = env.SetPayload(make(chan int))
	assert.True(t, errors.As(err, new(*SerializationError)))
	assert.Equal(t, before, env.RawBytes(), "raw bytes must survive a failed encode")
}

func TestEnvelopeProperties(t *testing.T) {
	env := NewEnvelopeFromBytes([]byte("{}"), "", nil)

	env.SetStringProperty("source", "crm")
	env.SetStringProperty("source", "erp")
	env.SetIntProperty("attempt", 3)

	v, ok := env.StringProperty("source")
	assert.True(t, ok)
	assert.Equal(t, "erp", v)

	n, ok := env.IntProperty("attempt")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	props := env.StringProperties()
	props["source"] = "changed"
	v, _ = env.StringProperty("source")
	assert.Equal(t, "erp", v)

	assert.Equal(t, map[string]int{"attempt": 3}, env.IntProperties())
	_, ok = env.IntProperty("missing")
	assert.False(t, ok)
}
