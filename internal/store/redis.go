package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/renex-id/renex/internal/metrics"
	"github.com/renex-id/renex/internal/models"
)

const (
	statsMessagesKey     = "stats:messages"
	statsLastActivityKey = "stats:last_activity"
)

// RedisStore handles Redis operations for messages and send throttling.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a new Redis store. Threads expire ttl after their
// last message.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// threadKey returns the key for the sorted set holding the thread between
// two handles. Both directions share one key.
func threadKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("thread:%s:%s", a, b)
}

// sendSlotKey returns the key guarding a sender's cooldown.
func sendSlotKey(handle string) string {
	return fmt.Sprintf("cooldown:send:%s", handle)
}

// AddMessage stores a message in its thread.
func (s *RedisStore) AddMessage(ctx context.Context, msg *models.Message) error {
	defer observeRedis()()

	// Generate ULID if not set
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	// Set timestamp if not set
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := threadKey(msg.From, msg.To)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.Timestamp),
		Member: string(data),
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	pipe.Incr(ctx, statsMessagesKey)
	pipe.Set(ctx, statsLastActivityKey, msg.Timestamp, 0)
	_, err = pipe.Exec(ctx)
	return err
}

// ThreadMessages returns the newest limit messages exchanged between a and b
// in ascending timestamp order.
func (s *RedisStore) ThreadMessages(ctx context.Context, a, b string, limit int) ([]models.Message, error) {
	defer observeRedis()()

	if limit <= 0 {
		limit = 200
	}

	results, err := s.client.ZRevRange(ctx, threadKey(a, b), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		var msg models.Message
		if err := json.Unmarshal([]byte(results[i]), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// AcquireSendSlot claims the sender's cooldown window. It reports false when
// the previous send is less than cooldown ago.
func (s *RedisStore) AcquireSendSlot(ctx context.Context, handle string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	defer observeRedis()()
	return s.client.SetNX(ctx, sendSlotKey(handle), time.Now().UnixMilli(), cooldown).Result()
}

// ReleaseSendSlot gives the cooldown window back after a send that was not stored.
func (s *RedisStore) ReleaseSendSlot(ctx context.Context, handle string) {
	s.client.Del(ctx, sendSlotKey(handle))
}

// MessageStats returns the number of stored messages and the timestamp (Unix
// ms) of the latest one, 0 if none.
func (s *RedisStore) MessageStats(ctx context.Context) (int64, int64, error) {
	defer observeRedis()()

	pipe := s.client.Pipeline()
	total := pipe.Get(ctx, statsMessagesKey)
	last := pipe.Get(ctx, statsLastActivityKey)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, err
	}

	count, _ := total.Int64()
	ts, _ := last.Int64()
	return count, ts, nil
}

func observeRedis() func() {
	start := time.Now()
	return func() {
		metrics.RedisLatency.Observe(time.Since(start).Seconds())
	}
}

func observeDB() func() {
	start := time.Now()
	return func() {
		metrics.DatabaseLatency.Observe(time.Since(start).Seconds())
	}
}
