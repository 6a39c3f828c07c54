package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/glimte/courier/config"
	"github.com/glimte/courier/contracts"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	return redis.NewStringResult("1714816800000-0", nil)
}

func TestNewRedisSinkRequiresStream(t *testing.T) {
	_, err := NewRedisSink(&fakeStream{}, "")
	assert.ErrorIs(t, err, ErrNoStream)
}

func TestRedisSinkWrite(t *testing.T) {
	stream := &fakeStream{}
	sink, err := NewRedisSink(stream, "courier:audit", WithMaxLen(1000))
	require.NoError(t, err)
	assert.Equal(t, "courier:audit", sink.Stream())

	ev := sampleEvent(contracts.StatusFailed)
	require.NoError(t, sink.Write(context.Background(), ev))

	require.Len(t, stream.args, 1)
	args := stream.args[0]
	assert.Equal(t, "courier:audit", args.Stream)
	assert.Equal(t, "*", args.ID)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)

	values, ok := args.Values.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tx-1", values["transactionId"])
	assert.Equal(t, "RECEIVER", values["bindingType"])
	assert.Equal(t, "FAILED", values["status"])
	assert.Equal(t, "HANDLER_ERROR", values["errorCode"])
	assert.Equal(t, "cust.register", values["interfaceName"])

	var stored contracts.LogEvent
	require.NoError(t, json.Unmarshal(values["record"].([]byte), &stored))
	assert.Equal(t, ev, stored)
}

func TestRedisSinkUnboundedStream(t *testing.T) {
	stream := &fakeStream{}
	sink, err := NewRedisSink(stream, "audit")
	require.NoError(t, err)

	ev := sampleEvent(contracts.StatusSuccess)
	ev.InterfaceName = ""
	require.NoError(t, sink.Write(context.Background(), ev))

	args := stream.args[0]
	assert.Zero(t, args.MaxLen)
	assert.False(t, args.Approx)
	values := args.Values.(map[string]any)
	assert.NotContains(t, values, "interfaceName")
	assert.NotContains(t, values, "errorCode")
}

func TestRedisSinkWriteError(t *testing.T) {
	redisErr := errors.New("READONLY You can't write against a read only replica")
	sink, err := NewRedisSink(&fakeStream{err: redisErr}, "audit")
	require.NoError(t, err)

	err = sink.Write(context.Background(), sampleEvent(contracts.StatusSuccess))
	assert.ErrorIs(t, err, redisErr)
	assert.Contains(t, err.Error(), "xadd audit")
}

func TestNewRedisClient(t *testing.T) {
	client := NewRedisClient(config.Redis{Addr: "localhost:6379", DB: 2})
	defer client.Close()

	assert.Equal(t, "localhost:6379", client.Options().Addr)
	assert.Equal(t, 2, client.Options().DB)
}
