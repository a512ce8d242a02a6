package offlinequeue

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisDriver stores the snapshot under a single redis key.
type RedisDriver struct {
	client     redis.UniversalClient
	key        string
	ownsClient bool
}

// NewRedisDriver binds the driver to key on client.
func NewRedisDriver(client redis.UniversalClient, key string) *RedisDriver {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultKey
	}
	return &RedisDriver{client: client, key: key}
}

func (d *RedisDriver) Read(ctx context.Context) (Snapshot, error) {
	data, err := d.client.Get(ctx, d.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return emptySnapshot(), nil
	}
	if err != nil {
		return emptySnapshot(), err
	}
	return decodeSnapshot(data)
}

func (d *RedisDriver) Write(ctx context.Context, snapshot Snapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	return d.client.Set(ctx, d.key, data, 0).Err()
}

func (d *RedisDriver) Clear(ctx context.Context) error {
	return d.client.Del(ctx, d.key).Err()
}

// Close releases the client when the driver created it.
func (d *RedisDriver) Close() error {
	if !d.ownsClient {
		return nil
	}
	return d.client.Close()
}
