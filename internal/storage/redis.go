package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const redisKeyPrefix = "graphrest:conn:"

// RedisStore keeps descriptors in Redis with an optional expiry, so tokens
// that outlive their TigerGraph lifetime drop out on their own.
type RedisStore struct {
	client *redis.Client
	logger *logrus.Entry
	ttl    time.Duration // 0 = keep forever
}

// NewRedisStore connects and pings Redis at addr
func NewRedisStore(ctx context.Context, addr, password string, ttl time.Duration, logger *logrus.Logger) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address missing")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password, // Empty string if no password
		DB:       0,
	})

	// Fail fast on startup
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	entry := logger.WithField("component", "redis")
	entry.WithField("addr", addr).Info("redis descriptor store connected")

	return &RedisStore{client: client, logger: entry, ttl: ttl}, nil
}

func (s *RedisStore) Save(ctx context.Context, d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+d.ID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save descriptor %s: %w", d.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Descriptor, error) {
	val, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get descriptor %s: %w", id, err)
	}

	var d Descriptor
	if err := json.Unmarshal(val, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal descriptor %s: %w", id, err)
	}
	return &d, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete descriptor %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]*Descriptor, error) {
	var out []*Descriptor
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(redisKeyPrefix):]
		d, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan descriptors: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close closes the Redis client connection
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	s.logger.Info("redis descriptor store closed")
	return nil
}
