package entrystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore is an EntryStore backed by Redis. Entries are stored as JSON
// with a per-key TTL; Redis owns eviction once the TTL passes.
type RedisStore struct {
	redisClient *redis.Client
	logger      zerolog.Logger
}

// NewRedisStore creates and connects a new RedisStore. It pings the Redis
// server to ensure connectivity before returning.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisStore{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisStore").Logger(),
	}, nil
}

// GetEntry retrieves and unmarshals the entry for key. A redis.Nil reply is
// a normal miss and maps to ErrEntryNotFound.
func (s *RedisStore) GetEntry(ctx context.Context, key string) (CacheEntry, error) {
	cachedData, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return CacheEntry{}, ErrEntryNotFound
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Unexpected Redis error during get.")
		return CacheEntry{}, &StoreError{Op: "get", Key: key, Err: err}
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(cachedData), &entry); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal cached entry.")
		return CacheEntry{}, &StoreError{Op: "get", Key: key, Err: fmt.Errorf("unmarshal: %w", err)}
	}

	s.logger.Debug().Str("key", key).Msg("Redis store hit.")
	return entry, nil
}

// PutEntry marshals and stores the entry whole under its key with the given
// TTL, replacing any prior value in a single SET.
func (s *RedisStore) PutEntry(ctx context.Context, entry CacheEntry, ttl time.Duration) error {
	jsonData, err := json.Marshal(entry)
	if err != nil {
		s.logger.Error().Err(err).Str("key", entry.ID).Msg("Failed to marshal entry for storage.")
		return &StoreError{Op: "put", Key: entry.ID, Err: fmt.Errorf("marshal: %w", err)}
	}

	if err := s.redisClient.Set(ctx, entry.ID, jsonData, ttl).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", entry.ID).Msg("Failed to set entry in Redis.")
		return &StoreError{Op: "put", Key: entry.ID, Err: err}
	}

	s.logger.Debug().Str("key", entry.ID).Msg("Successfully stored entry in Redis.")
	return nil
}

// DeleteEntry removes the entry for key. Deleting an absent key is a no-op.
func (s *RedisStore) DeleteEntry(ctx context.Context, key string) error {
	if err := s.redisClient.Del(ctx, key).Err(); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to delete entry from Redis.")
		return &StoreError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}
