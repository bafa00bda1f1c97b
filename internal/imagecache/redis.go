package imagecache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps each entry in a hash so metadata can be listed without
// pulling image payloads. Several kiosks on one network can share it.
type RedisStore struct {
	c      *redis.Client
	prefix string
	// expiry is a native backstop; validity is still decided by Cache.
	expiry time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(c *redis.Client, prefix string, expiry time.Duration) *RedisStore {
	return &RedisStore{c: c, prefix: prefix, expiry: expiry}
}

func (r *RedisStore) redisKey(key string) string { return r.prefix + key }

func (r *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	fields, err := r.c.HGetAll(ctx, r.redisKey(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrMiss
		}
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrMiss
	}
	ts, err := strconv.ParseInt(fields["ts"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt timestamp for %s: %w", key, err)
	}
	size, _ := strconv.Atoi(fields["size"])
	return &Entry{
		Key:         key,
		URL:         fields["url"],
		Data:        []byte(fields["data"]),
		ContentType: fields["ct"],
		Timestamp:   time.UnixMilli(ts),
		Size:        size,
	}, nil
}

func (r *RedisStore) Put(ctx context.Context, e *Entry) error {
	k := r.redisKey(e.Key)
	pipe := r.c.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k, map[string]interface{}{
		"url":  e.URL,
		"data": e.Data,
		"ct":   e.ContentType,
		"ts":   e.Timestamp.UnixMilli(),
		"size": e.Size,
	})
	if r.expiry > 0 {
		pipe.Expire(ctx, k, r.expiry)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.c.Del(ctx, r.redisKey(key)).Err()
}

func (r *RedisStore) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		k, next, err := r.c.Scan(ctx, cursor, r.prefix+"*", 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (r *RedisStore) List(ctx context.Context) ([]Meta, error) {
	keys, err := r.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	metas := make([]Meta, 0, len(keys))
	for _, k := range keys {
		vals, err := r.c.HMGet(ctx, k, "url", "ts", "size").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		url, _ := vals[0].(string)
		tsRaw, _ := vals[1].(string)
		sizeRaw, _ := vals[2].(string)
		ts, err := strconv.ParseInt(tsRaw, 10, 64)
		if err != nil {
			continue
		}
		size, _ := strconv.Atoi(sizeRaw)
		metas = append(metas, Meta{
			Key:       strings.TrimPrefix(k, r.prefix),
			URL:       url,
			Timestamp: time.UnixMilli(ts),
			Size:      size,
		})
	}
	return metas, nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	keys, err := r.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.c.Del(ctx, keys...).Err()
}

func (r *RedisStore) Close() error {
	return r.c.Close()
}
