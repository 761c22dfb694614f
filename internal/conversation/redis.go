package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "voice-dialogue-service:conversation:"

// RedisStore keeps conversation history in Redis lists so multiple service
// instances share prior-turn context. Messages live in an LPUSH/LTRIM-capped
// list; the key expires after the configured TTL.
type RedisStore struct {
	rdb         *redis.Client
	maxMessages int
	ttl         time.Duration
}

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxMessages int
	TTL         time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 20
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("could not connect to redis at %s: %w", cfg.Addr, err)
	}

	return &RedisStore{
		rdb:         rdb,
		maxMessages: cfg.MaxMessages,
		ttl:         cfg.TTL,
	}, nil
}

// History implements Store.
func (s *RedisStore) History(ctx context.Context, conversationID string) ([]Message, error) {
	raw, err := s.rdb.LRange(ctx, redisKeyPrefix+conversationID, 0, int64(s.maxMessages)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}

	// LPUSH stores newest first; reverse to oldest-first.
	msgs := make([]Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var m Message
		if err := sonic.Unmarshal([]byte(raw[i]), &m); err != nil {
			return nil, fmt.Errorf("redis message decode: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, conversationID string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	key := redisKeyPrefix + conversationID
	pipe := s.rdb.Pipeline()
	for _, m := range msgs {
		encoded, err := sonic.Marshal(m)
		if err != nil {
			return fmt.Errorf("redis message encode: %w", err)
		}
		pipe.LPush(ctx, key, encoded)
	}
	pipe.LTrim(ctx, key, 0, int64(s.maxMessages)-1)
	pipe.Expire(ctx, key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis append: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context, conversationID string) (bool, error) {
	removed, err := s.rdb.Del(ctx, redisKeyPrefix+conversationID).Result()
	if err != nil {
		return false, fmt.Errorf("redis del: %w", err)
	}
	return removed > 0, nil
}

// Count implements Store.
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, redisKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
