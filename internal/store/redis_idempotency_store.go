package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/devrev/querysync/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	receiptFieldID      = "id"
	receiptFieldContent = "content"
)

// RedisIdempotencyStore keeps each receipt as a hash {id, content} with a key TTL.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisIdempotencyStore dials Redis and verifies the connection.
func NewRedisIdempotencyStore(host string, port int, password string, db int, poolSize int, logger *zap.Logger) (*RedisIdempotencyStore, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Redis idempotency store connected", zap.String("addr", addr), zap.Int("db", db))
	return NewRedisIdempotencyStoreFromClient(client, logger), nil
}

// NewRedisIdempotencyStoreFromClient wraps an existing client, standalone or cluster.
func NewRedisIdempotencyStoreFromClient(client redis.UniversalClient, logger *zap.Logger) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, logger: logger}
}

// Lookup reads the receipt hash. A missing key reads as an empty hash.
func (s *RedisIdempotencyStore) Lookup(ctx context.Context, key string) (*model.Query, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	rawID, ok := fields[receiptFieldID]
	if !ok {
		return nil, fmt.Errorf("receipt %s has no %s field", key, receiptFieldID)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("receipt %s has invalid id %q: %w", key, rawID, err)
	}
	return &model.Query{ID: id, Content: fields[receiptFieldContent]}, nil
}

// Remember writes the hash and its expiry in one MULTI/EXEC.
func (s *RedisIdempotencyStore) Remember(ctx context.Context, key string, q *model.Query, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			receiptFieldID, strconv.FormatInt(q.ID, 10),
			receiptFieldContent, q.Content)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (s *RedisIdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}
