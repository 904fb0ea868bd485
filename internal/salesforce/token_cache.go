package salesforce

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTokenCache stores the access token in Redis so restarts and multiple
// workers share one token. The TTL is a safety net; the validity probe is
// what actually decides reuse.
type RedisTokenCache struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisTokenCache connects to Redis and verifies the connection.
func NewRedisTokenCache(redisURL string) (*RedisTokenCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisTokenCache{
		client: client,
		key:    "salesforce:token",
		ttl:    90 * time.Minute,
	}, nil
}

// NewRedisTokenCacheWithClient creates a cache from an existing Redis client
func NewRedisTokenCacheWithClient(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{
		client: client,
		key:    "salesforce:token",
		ttl:    90 * time.Minute,
	}
}

func (c *RedisTokenCache) Get(ctx context.Context) (Token, bool) {
	data, err := c.client.Get(ctx, c.key).Result()
	if err == redis.Nil {
		return Token{}, false
	}
	if err != nil {
		log.Printf("token cache read failed: %v", err)
		return Token{}, false
	}

	var token Token
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return Token{}, false
	}
	return token, token.AccessToken != ""
}

func (c *RedisTokenCache) Put(ctx context.Context, token Token) {
	data, err := json.Marshal(token)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key, data, c.ttl).Err(); err != nil {
		log.Printf("token cache write failed: %v", err)
	}
}

// Ping checks if Redis is reachable
func (c *RedisTokenCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisTokenCache) Close() error {
	return c.client.Close()
}
