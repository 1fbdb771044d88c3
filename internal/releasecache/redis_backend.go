package releasecache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend persists the cache's key→Info map as a single Redis hash,
// for deployments running more than one launcherd process against a
// shared release cache (spec.md §4.9 doesn't mandate this; it gives the
// Backend interface a second implementation beside FileBackend).
type RedisBackend struct {
	Client *redis.Client
	Key    string // Redis hash key, e.g. "payload-launcher:release-cache"
}

func (b *RedisBackend) Load() (map[string]Info, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := b.Client.HGetAll(ctx, b.Key).Result()
	if err != nil {
		return nil, err
	}

	entries := make(map[string]Info, len(raw))
	for k, v := range raw {
		var info Info
		if err := json.Unmarshal([]byte(v), &info); err != nil {
			continue
		}
		entries[k] = info
	}
	return entries, nil
}

func (b *RedisBackend) Save(entries map[string]Info) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fields := make(map[string]any, len(entries))
	for k, v := range entries {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fields[k] = data
	}
	if len(fields) == 0 {
		return nil
	}
	return b.Client.HSet(ctx, b.Key, fields).Err()
}
