package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"scanlens/internal/metrics"
)

// DefaultMaxMessageBytes caps one queued record.
const DefaultMaxMessageBytes = 1 << 20

// ErrMessageTooLarge is returned by Push for records over the size cap.
var ErrMessageTooLarge = errors.New("message exceeds size cap")

// Config configures the Redis queue.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
	// MaxMessageBytes drops larger records; 0 means DefaultMaxMessageBytes.
	MaxMessageBytes int
}

// Queue is a Redis list carrying journal records as JSON strings. Producers
// RPUSH, the ingest pipeline BLPOPs, so records keep producer order.
type Queue struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
	maxBytes     int
}

// NewQueue creates a queue on the configured list key.
func NewQueue(cfg Config) (*Queue, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Queue{
		client:       client,
		key:          cfg.Key,
		blockTimeout: cfg.BlockTimeout,
		maxBytes:     cfg.MaxMessageBytes,
	}, nil
}

// Key returns the list key.
func (q *Queue) Key() string { return q.key }

// Ping checks connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", q.client.Options().Addr, err)
	}
	return nil
}

// Pop blocks up to the block timeout for one message. It returns nil, nil
// when the timeout passes without a message or when the popped message is
// over the size cap; oversize messages are counted and dropped.
func (q *Queue) Pop(ctx context.Context) ([]byte, error) {
	res, err := q.client.BLPop(ctx, q.blockTimeout, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return q.accept(res[1]), nil
}

func (q *Queue) accept(msg string) []byte {
	if len(msg) > q.maxBytes {
		metrics.IngestMessages.WithLabelValues("oversize").Inc()
		return nil
	}
	return []byte(msg)
}

// Push appends messages to the tail of the list.
func (q *Queue) Push(ctx context.Context, msgs ...[]byte) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]interface{}, len(msgs))
	for i, m := range msgs {
		if len(m) > q.maxBytes {
			return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(m), q.maxBytes)
		}
		values[i] = string(m)
	}
	return q.client.RPush(ctx, q.key, values...).Err()
}

// Close closes the client.
func (q *Queue) Close() error {
	return q.client.Close()
}
