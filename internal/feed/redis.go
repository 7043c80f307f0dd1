package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisStream is the stream key shared by all instances.
const DefaultRedisStream = "leadcheck.feed"

const (
	redisMaxLen    = 10000
	redisReadBlock = 5 * time.Second
	redisReadCount = 100
)

// RedisRelay relays changes through a Redis stream (XADD / XREAD).
type RedisRelay struct {
	rdb    *redis.Client
	stream string
	owns   bool
	log    *slog.Logger
}

// NewRedisRelay connects to the redis:// URL.
func NewRedisRelay(url, stream string, logger *slog.Logger) (*RedisRelay, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	r := NewRedisRelayFromClient(redis.NewClient(opt), stream, logger)
	r.owns = true
	return r, nil
}

// NewRedisRelayFromClient wraps an existing client; Close leaves it open.
func NewRedisRelayFromClient(rdb *redis.Client, stream string, logger *slog.Logger) *RedisRelay {
	if stream == "" {
		stream = DefaultRedisStream
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RedisRelay{rdb: rdb, stream: stream, log: logger}
}

func (r *RedisRelay) Name() string { return "redis" }

// Publish appends the change to the stream, trimming it to roughly
// redisMaxLen entries.
func (r *RedisRelay) Publish(ctx context.Context, c Change) error {
	data, err := encodeChange(c)
	if err != nil {
		return err
	}
	_, err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: redisMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"origin":  c.Origin,
			"payload": string(data),
		},
	}).Result()
	return err
}

// Run tails the stream from its current end.
func (r *RedisRelay) Run(ctx context.Context, deliver func(Change)) error {
	lastID := "0"
	latest, err := r.rdb.XRevRangeN(ctx, r.stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: read stream tail: %w", err)
	}
	if len(latest) > 0 {
		lastID = latest[0].ID
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		streams, err := r.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{r.stream, lastID},
			Count:   redisReadCount,
			Block:   redisReadBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			r.log.Warn("feed redis read failed", "stream", r.stream, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				payload, ok := msg.Values["payload"].(string)
				if !ok {
					continue
				}
				c, err := decodeChange([]byte(payload))
				if err != nil {
					r.log.Warn("feed redis: bad entry", "id", msg.ID, "error", err)
					continue
				}
				deliver(c)
			}
		}
	}
}

func (r *RedisRelay) Close() error {
	if r.owns {
		return r.rdb.Close()
	}
	return nil
}
