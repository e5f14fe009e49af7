package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisKV implements KV on a Redis server. Raw values live at "raw:<key>";
// metadata mappings live in the hash at "meta:<key>", which gives SetMeta its
// merge semantics for free via HSET.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV creates a new Redis-backed store.
func NewRedisKV(cfg Config) (*RedisKV, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB >= 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisKV{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisKV) Close() error {
	return s.client.Close()
}

// GetRaw implements KV.GetRaw.
func (s *RedisKV) GetRaw(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, "raw:"+key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// PutRaw implements KV.PutRaw.
func (s *RedisKV) PutRaw(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, "raw:"+key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Remove implements KV.Remove via SCAN over both namespaces.
func (s *RedisKV) Remove(ctx context.Context, prefix string) error {
	for _, pattern := range []string{
		"raw:" + prefix, "raw:" + prefix + "/*",
		"meta:" + prefix, "meta:" + prefix + "/*",
	} {
		if strings.HasSuffix(pattern, "*") {
			iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
			for iter.Next(ctx) {
				if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
					return fmt.Errorf("redis del %s: %w", iter.Val(), err)
				}
			}
			if err := iter.Err(); err != nil {
				return fmt.Errorf("redis scan %s: %w", pattern, err)
			}
			continue
		}
		if err := s.client.Del(ctx, pattern).Err(); err != nil {
			return fmt.Errorf("redis del %s: %w", pattern, err)
		}
	}
	return nil
}

// GetMeta implements KV.GetMeta.
func (s *RedisKV) GetMeta(ctx context.Context, key string) (map[string]string, error) {
	meta, err := s.client.HGetAll(ctx, "meta:"+key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	if len(meta) == 0 {
		return nil, ErrNotFound
	}
	return meta, nil
}

// SetMeta implements KV.SetMeta. HSET merges by field.
func (s *RedisKV) SetMeta(ctx context.Context, key string, meta map[string]string) error {
	if len(meta) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		fields[k] = v
	}
	if err := s.client.HSet(ctx, "meta:"+key, fields).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}
