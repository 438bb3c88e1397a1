package logging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBufferConfig holds settings for the Redis record buffer.
type RedisBufferConfig struct {
	// QueueKey is the Redis list holding buffered records.
	QueueKey string

	// MaxSize bounds the list; when full, the oldest records are dropped.
	MaxSize int64

	// BatchSize is how many records one drain pulls.
	BatchSize int
}

// RedisBuffer stages result records in a Redis list so the S3 flusher can
// batch them. Survives process restarts; multiple workers share one buffer.
type RedisBuffer struct {
	client *redis.Client
	cfg    RedisBufferConfig
}

// NewRedisBuffer creates a buffer over an existing Redis client.
func NewRedisBuffer(client *redis.Client, cfg RedisBufferConfig) *RedisBuffer {
	if cfg.QueueKey == "" {
		cfg.QueueKey = "evalresults:buffer"
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &RedisBuffer{client: client, cfg: cfg}
}

// Enqueue appends a record, trimming the list to MaxSize.
func (b *RedisBuffer) Enqueue(ctx context.Context, rec *ResultRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, b.cfg.QueueKey, data)
	pipe.LTrim(ctx, b.cfg.QueueKey, -b.cfg.MaxSize, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to buffer record: %w", err)
	}
	return nil
}

// DequeueBatch pops up to BatchSize records from the head of the buffer.
// Returns an empty slice when the buffer is empty.
func (b *RedisBuffer) DequeueBatch(ctx context.Context) ([]*ResultRecord, error) {
	values, err := b.client.LPopCount(ctx, b.cfg.QueueKey, b.cfg.BatchSize).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to drain record buffer: %w", err)
	}

	records := make([]*ResultRecord, 0, len(values))
	for _, v := range values {
		var rec ResultRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			// A corrupt record is dropped; the batch continues.
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// Len reports the number of buffered records.
func (b *RedisBuffer) Len(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, b.cfg.QueueKey).Result()
}
