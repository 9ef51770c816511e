// Package cachex is the Redis read-through cache for dashboard responses.
// Values are stored as JSON; a miss is not an error.
package cachex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"water-infra-dashboard/shared/config"
)

var ErrUnavailable = errors.New("redis cache not initialized")

// deleteBatch bounds keys per UNLINK call.
const deleteBatch = 200

type Client struct {
	rdb *redis.Client
}

func New(cfg config.Config) (*Client, error) {
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("%w: REDIS_ADDR is empty", ErrUnavailable)
	}
	return &Client{rdb: redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})}, nil
}

func (c *Client) ready() error {
	if c == nil || c.rdb == nil {
		return ErrUnavailable
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.ready() != nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}

// GetJSON reports hit=false on a miss. A value that no longer decodes into
// dest is dropped and treated as a miss.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		_ = c.rdb.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

// DeletePrefix unlinks every key under prefix, walking the keyspace with SCAN
// so large keyspaces never block the server.
func (c *Client) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	var (
		removed int
		batch   = make([]string, 0, deleteBatch)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Unlink(ctx, batch...).Result()
		removed += int(n)
		batch = batch[:0]
		return err
	}

	iter := c.rdb.Scan(ctx, 0, prefix+"*", deleteBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == deleteBatch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, flush()
}
