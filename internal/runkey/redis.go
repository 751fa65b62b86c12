package runkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed Run-Key Store, sharing state across
// processes and hosts. The uniqueness constraint is enforced by `SET ... NX`:
// only the first writer for a key succeeds, exactly mirroring the SQL
// stores' insert-or-read-back-canonical behavior.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a RedisStore using client, namespacing keys under
// prefix (e.g. "orchestrator:runkey:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) redisKey(key string) string {
	return r.prefix + key
}

func (r *RedisStore) Get(ctx context.Context, key string) (map[string]interface{}, bool, error) {
	raw, err := r.client.Get(ctx, r.redisKey(key)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("runkey: redis get: %w", err)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, false, fmt.Errorf("runkey: decode payload: %w", err)
	}
	return payload, true, nil
}

// Put uses SETNX semantics: the first caller to set the key wins and its
// payload becomes canonical; later callers observe the existing value.
func (r *RedisStore) Put(ctx context.Context, key string, payload map[string]interface{}) (map[string]interface{}, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("runkey: encode payload: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.redisKey(key), string(payloadJSON), 0).Result()
	if err != nil {
		return nil, fmt.Errorf("runkey: redis setnx: %w", err)
	}
	if ok {
		return payload, nil
	}

	canonical, found, err := r.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("runkey: read back canonical: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("runkey: setnx lost race but no value found for %q", key)
	}
	return canonical, nil
}
