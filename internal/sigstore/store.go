// Package sigstore keeps the signatures collected for each bridge message in
// a Redis list shared by every relayer instance.
package sigstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EmekaIwuagwu/metabridge-relayer/internal/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// ErrStoreUnavailable is returned once the retry policy gives up on a command.
var ErrStoreUnavailable = errors.New("signature store unavailable")

// Commands is the subset of the Redis client the store needs
type Commands interface {
	Ping(ctx context.Context) *redis.StatusCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Store is the Redis-backed signature store
type Store struct {
	client Commands
	policy RetryPolicy
	logger zerolog.Logger
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, cfg *config.RedisConfig, logger zerolog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr(),
		Password:   cfg.Password,
		DB:         cfg.DB,
		MaxRetries: -1, // retries are driven by RetryPolicy
	})

	store := NewStore(client, PolicyFromConfig(cfg), logger)

	if err := store.do(ctx, "ping", func() error {
		return client.Ping(ctx).Err()
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr(), err)
	}

	store.logger.Info().
		Str("addr", cfg.Addr()).
		Int("db", cfg.DB).
		Msg("Signature store connected")

	return store, nil
}

// NewStore wraps an existing client
func NewStore(client Commands, policy RetryPolicy, logger zerolog.Logger) *Store {
	return &Store{
		client: client,
		policy: policy,
		logger: logger.With().Str("component", "sigstore").Logger(),
	}
}

// Append pushes a signature onto the message's list and returns the new length
func (s *Store) Append(ctx context.Context, message, signature string) (int64, error) {
	var n int64
	err := s.do(ctx, "rpush", func() (err error) {
		n, err = s.client.RPush(ctx, message, signature).Result()
		return err
	})
	return n, err
}

// Count returns the number of signatures collected for a message
func (s *Store) Count(ctx context.Context, message string) (int64, error) {
	var n int64
	err := s.do(ctx, "llen", func() (err error) {
		n, err = s.client.LLen(ctx, message).Result()
		return err
	})
	return n, err
}

// Range returns every signature collected for a message
func (s *Store) Range(ctx context.Context, message string) ([]string, error) {
	var out []string
	err := s.do(ctx, "lrange", func() (err error) {
		out, err = s.client.LRange(ctx, message, 0, -1).Result()
		if errors.Is(err, redis.Nil) {
			out, err = nil, nil
		}
		return err
	})
	return out, err
}

// Delete removes the message's signature list
func (s *Store) Delete(ctx context.Context, message string) error {
	return s.do(ctx, "del", func() error {
		return s.client.Del(ctx, message).Err()
	})
}

// Close closes the underlying client
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) do(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++
			err := fn()
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		},
		backoff.WithContext(s.policy.New(), ctx),
		func(err error, next time.Duration) {
			s.logger.Warn().
				Err(err).
				Str("op", op).
				Int("attempt", attempt).
				Dur("retry_in", next).
				Msg("Redis command failed, retrying")
		},
	)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
	}
	return nil
}
