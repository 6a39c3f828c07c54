package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/glimte/courier/config"
	"github.com/glimte/courier/contracts"
	"github.com/redis/go-redis/v9"
)

// ErrNoStream is returned by NewRedisSink without a stream name.
var ErrNoStream = errors.New("auditlog: redis stream name is empty")

// Stream entry fields.
const (
	fieldTransactionID = "transactionId"
	fieldBindingType   = "bindingType"
	fieldInterfaceName = "interfaceName"
	fieldStatus        = "status"
	fieldErrorCode     = "errorCode"
	fieldProcessedAt   = "processedAt"
	fieldRecord        = "record"
)

// StreamAdder is the part of a Redis client RedisSink needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisSink appends each record to a Redis stream. The full record is stored
// as JSON under "record"; the fields worth filtering on are flattened next
// to it.
type RedisSink struct {
	client StreamAdder
	stream string
	maxLen int64
	logger *slog.Logger
}

// RedisOption configures a RedisSink.
type RedisOption func(*RedisSink)

// WithMaxLen trims the stream to roughly n entries on every append.
func WithMaxLen(n int64) RedisOption {
	return func(s *RedisSink) {
		s.maxLen = n
	}
}

// WithRedisLogger sets the logger
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(s *RedisSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRedisSink creates a sink appending to stream.
func NewRedisSink(client StreamAdder, stream string, opts ...RedisOption) (*RedisSink, error) {
	if stream == "" {
		return nil, ErrNoStream
	}
	s := &RedisSink{
		client: client,
		stream: stream,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewRedisClient builds a go-redis client from audit configuration.
func NewRedisClient(cfg config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: 3,
	})
}

// Stream is the stream records are appended to.
func (s *RedisSink) Stream() string { return s.stream }

func (s *RedisSink) Write(ctx context.Context, event contracts.LogEvent) error {
	record, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("auditlog: encode record: %w", err)
	}

	values := map[string]any{
		fieldTransactionID: event.TransactionID,
		fieldBindingType:   string(event.BindingType),
		fieldStatus:        string(event.Status),
		fieldProcessedAt:   strconv.FormatInt(event.ProcessedAt.UnixMilli(), 10),
		fieldRecord:        record,
	}
	if event.InterfaceName != "" {
		values[fieldInterfaceName] = event.InterfaceName
	}
	if event.ErrorCode != "" {
		values[fieldErrorCode] = event.ErrorCode
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		ID:     "*",
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("auditlog: xadd %s: %w", s.stream, err)
	}

	s.logger.Debug("audit record stored", "stream", s.stream, "entryId", id, "transactionId", event.TransactionID)
	return nil
}
