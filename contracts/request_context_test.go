package contracts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestContext(t *testing.T) {
	t.Run("keeps given transaction id", func(t *testing.T) {
		rc := NewRequestContext("customer.register", "tx-1")
		assert.Equal(t, "customer.register", rc.InterfaceName)
		assert.Equal(t, "tx-1", rc.TransactionID)
		assert.False(t, rc.CreatedAt.IsZero())
	})

	t.Run("generates distinct ids", func(t *testing.T) {
		seen := make(map[string]struct{})
		for i := 0; i < 100; i++ {
			rc := NewRequestContext("", "")
			require.NotEmpty(t, rc.TransactionID)
			_, dup := seen[rc.TransactionID]
			require.False(t, dup)
			seen[rc.TransactionID] = struct{}{}
		}
	})
}

func TestRequestContextHeaders(t *testing.T) {
	rc := NewRequestContext("x", "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rc.SetRequestHeader(fmt.Sprintf("k%d", i), "v")
			rc.SetResponseHeader("status", "ok")
		}(i)
	}
	wg.Wait()

	assert.Len(t, rc.RequestHeaders(), 20)
	v, ok := rc.ResponseHeader("status")
	assert.True(t, ok)
	assert.Equal(t, "ok", v)

	snapshot := rc.ResponseHeaders()
	snapshot["status"] = "changed"
	v, _ = rc.ResponseHeader("status")
	assert.Equal(t, "ok", v)
}

func TestRequestContextOnContext(t *testing.T) {
	_, ok := RequestContextFrom(context.Background())
	assert.False(t, ok)

	rc := NewRequestContext("x", "tx")
	got, ok := RequestContextFrom(WithRequestContext(context.Background(), rc))
	require.True(t, ok)
	assert.Same(t, rc, got)
}

func TestResultStatus(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		rs := Succeeded()
		assert.Equal(t, StatusSuccess, rs.Status)
		assert.Empty(t, rs.ErrorMessage)
	})

	t.Run("failure keeps message and cause", func(t *testing.T) {
		root := errors.New("connection reset")
		err := fmt.Errorf("dup: %w", root)

		rs := Failed(CodeHandler, err)
		assert.Equal(t, StatusFailed, rs.Status)
		assert.Equal(t, CodeHandler, rs.ErrorCode)
		assert.Equal(t, "dup: connection reset", rs.ErrorMessage)
		assert.Contains(t, rs.StackTrace, "connection reset")
	})

	t.Run("derives code from error type", func(t *testing.T) {
		err := &PublishError{RoutingKey: "k", Err: errors.New("closed")}
		assert.Equal(t, CodePublish, Failed("", err).ErrorCode)
		assert.Equal(t, CodeInternal, Failed("", errors.New("x")).ErrorCode)
		assert.Equal(t, "", ErrorCode(nil))
	})
}
