package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRedisQueueRoundtrip(t *testing.T) {
	client, _ := setupTestRedis(t)
	q := NewRedisQueueFromClient(client, DefaultConfig("results"))
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testRecord("echo:chat:test")))
	require.NoError(t, q.Enqueue(ctx, testRecord("echo:chat:other")))

	length, err := q.Length(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, length)

	records, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// FIFO order.
	assert.Equal(t, "echo:chat:test", records[0].ProviderID)
	assert.Equal(t, "echo:chat:other", records[1].ProviderID)
}

func TestRedisQueueSkipsMalformed(t *testing.T) {
	client, mr := setupTestRedis(t)
	q := NewRedisQueueFromClient(client, DefaultConfig("results"))
	ctx := context.Background()

	mr.Lpush("queue:results", "not json")
	require.NoError(t, q.Enqueue(ctx, testRecord("good")))

	records, err := q.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].ProviderID)
}

func TestRedisDeadLetterQueue(t *testing.T) {
	client, _ := setupTestRedis(t)
	dlq := NewRedisDeadLetterQueueFromClient(client, "results")
	ctx := context.Background()

	require.NoError(t, dlq.Add(ctx, testRecord("p1"), errors.New("insert failed")))

	items, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "insert failed", items[0].Error)
	assert.Equal(t, "p1", items[0].Record.ProviderID)

	require.NoError(t, dlq.Remove(ctx, items[0].ID))
	items, err = dlq.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}
