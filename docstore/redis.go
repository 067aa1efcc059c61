package docstore

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultPrefix is the default key namespace for this service.
const DefaultPrefix = "verisim"

// RedisConfig configures the Redis document store.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Prefix is the key namespace (default: verisim).
	Prefix string
}

// RedisStore is a Redis-backed Store. Upserts map to SET, find to GET,
// the compare-and-swap insert to SETNX, and the compare-and-swap
// replace to a Lua script, so concurrent claims and takeovers of the
// same key are both single-winner on the server side.
type RedisStore struct {
	client *goredis.Client
	prefix string
}

// swapScript replaces the value only while it still equals the bytes
// the caller read, making takeover of an occupied key single-winner.
var swapScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2])
	return 1
end
return 0`)

// NewRedisStore creates a Redis store from the given config.
// Returns an error if the URL is empty or invalid.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis store requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis store: invalid URL: %w", err)
	}

	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}

	return &RedisStore{
		client: goredis.NewClient(opts),
		prefix: cfg.Prefix,
	}, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key string, doc any) error {
	data, err := encode(doc)
	if err != nil {
		return fmt.Errorf("docstore: encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, s.prefixed(key), data, 0).Err(); err != nil {
		return fmt.Errorf("docstore: put %s: %w", key, err)
	}
	return nil
}

// PutIfAbsent implements Store.
func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, doc any) (bool, error) {
	data, err := encode(doc)
	if err != nil {
		return false, fmt.Errorf("docstore: encode %s: %w", key, err)
	}
	inserted, err := s.client.SetNX(ctx, s.prefixed(key), data, 0).Result()
	if err != nil {
		return false, fmt.Errorf("docstore: put-if-absent %s: %w", key, err)
	}
	return inserted, nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string, out any) error {
	data, err := s.client.Get(ctx, s.prefixed(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("docstore: get %s: %w", key, err)
	}
	if err := decode(data, out); err != nil {
		return fmt.Errorf("docstore: decode %s: %w", key, err)
	}
	return nil
}

// GetRaw implements Store.
func (s *RedisStore) GetRaw(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefixed(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: get %s: %w", key, err)
	}
	return data, nil
}

// Swap implements Store.
func (s *RedisStore) Swap(ctx context.Context, key string, expected []byte, doc any) (bool, error) {
	data, err := encode(doc)
	if err != nil {
		return false, fmt.Errorf("docstore: encode %s: %w", key, err)
	}
	swapped, err := swapScript.Run(ctx, s.client, []string{s.prefixed(key)}, expected, data).Int()
	if err != nil {
		return false, fmt.Errorf("docstore: swap %s: %w", key, err)
	}
	return swapped == 1, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// prefixed namespaces a key under the configured prefix.
func (s *RedisStore) prefixed(key string) string {
	return s.prefix + ":" + key
}

// Verify RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
