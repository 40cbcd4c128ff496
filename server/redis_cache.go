package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisCache implements the Cache interface using Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(ctx context.Context, address string, ttlSeconds int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        address,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}, nil
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func snapshotKey(collection string) string {
	return fmt.Sprintf("snapshot:%s", collection)
}

// GetSnapshot gets the last fetched list of a collection
func (c *RedisCache) GetSnapshot(ctx context.Context, collection string) ([]*Document, error) {
	data, err := c.client.Get(ctx, snapshotKey(collection)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("snapshot %s: %w", collection, ErrNotFound)
		}
		return nil, err
	}

	var docs []*Document
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(&docs); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", collection, err)
	}
	for _, d := range docs {
		for k, v := range d.Fields {
			d.Fields[k] = plainValue(v)
		}
	}
	return docs, nil
}

// SetSnapshot stores the list of a collection
func (c *RedisCache) SetSnapshot(ctx context.Context, collection string, docs []*Document) error {
	data, err := msgpack.Marshal(docs)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", collection, err)
	}
	return c.client.Set(ctx, snapshotKey(collection), data, c.ttl).Err()
}

// DeleteSnapshot drops the snapshot of a collection
func (c *RedisCache) DeleteSnapshot(ctx context.Context, collection string) error {
	return c.client.Del(ctx, snapshotKey(collection)).Err()
}
