package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueueRequiresKey(t *testing.T) {
	_, err := NewQueue(Config{Addr: "127.0.0.1:6379"})
	require.Error(t, err)
}

func TestQueueDropsOversizeMessages(t *testing.T) {
	q, err := NewQueue(Config{Addr: "127.0.0.1:6379", Key: "k", MaxMessageBytes: 8})
	require.NoError(t, err)
	defer q.Close()

	assert.Equal(t, []byte(`{"n":1}`), q.accept(`{"n":1}`))
	assert.Nil(t, q.accept(`{"n":123456}`))

	// The size check runs before any round trip to the server.
	err = q.Push(context.Background(), []byte(`{"n":123456}`))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestQueueDefaultSizeCap(t *testing.T) {
	q, err := NewQueue(Config{Key: "k"})
	require.NoError(t, err)
	defer q.Close()
	assert.Equal(t, DefaultMaxMessageBytes, q.maxBytes)
}

// Runs against a live server when SCANLENS_TEST_REDIS_ADDR is set.
func TestQueuePushPop(t *testing.T) {
	addr := os.Getenv("SCANLENS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SCANLENS_TEST_REDIS_ADDR not set")
	}

	q, err := NewQueue(Config{Addr: addr, Key: "scanlens:test:" + uuid.NewString(), BlockTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Ping(ctx))

	require.NoError(t, q.Push(ctx, []byte(`{"n":1}`), []byte(`{"n":2}`)))

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(first))

	second, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"n":2}`, string(second))

	empty, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)
}
