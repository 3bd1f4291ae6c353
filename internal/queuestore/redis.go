// /internal/queuestore/redis.go
package queuestore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"lavabridge/internal/lavalink"
)

const redisKeyPrefix = "queue:"

// RedisQueueStore keeps queues in Redis so several bot processes can share
// them. Entries expire after the TTL to avoid stranding queues for guilds
// that never come back.
type RedisQueueStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisQueueStore wraps an existing Redis client. A zero ttl keeps
// entries forever.
func NewRedisQueueStore(client *redis.Client, ttl time.Duration) *RedisQueueStore {
	return &RedisQueueStore{client: client, ttl: ttl}
}

func (s *RedisQueueStore) key(guildID string) string {
	return redisKeyPrefix + guildID
}

// Get returns the stored queue for a guild, or "" when absent.
func (s *RedisQueueStore) Get(ctx context.Context, guildID string) (string, error) {
	raw, err := s.client.Get(ctx, s.key(guildID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return raw, nil
}

// Set stores the serialized queue for a guild.
func (s *RedisQueueStore) Set(ctx context.Context, guildID string, raw string) error {
	return s.client.Set(ctx, s.key(guildID), raw, s.ttl).Err()
}

// Delete removes the stored queue for a guild.
func (s *RedisQueueStore) Delete(ctx context.Context, guildID string) error {
	return s.client.Del(ctx, s.key(guildID)).Err()
}

// Stringify encodes tracks for storage.
func (s *RedisQueueStore) Stringify(tracks []lavalink.Track) (string, error) {
	return encodeTracks(tracks)
}

// Parse decodes tracks from storage.
func (s *RedisQueueStore) Parse(raw string) ([]lavalink.Track, error) {
	return decodeTracks(raw)
}
