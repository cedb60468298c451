package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const tokenKeyPrefix = "token:"

// TokenCache stores per-channel access tokens with a TTL matching the
// token's remaining lifetime.
type TokenCache struct {
	rdb *goredis.Client
}

func NewTokenCache(rdb *goredis.Client) *TokenCache {
	return &TokenCache{rdb: rdb}
}

func tokenKey(channelID string) string {
	return tokenKeyPrefix + channelID
}

// Get returns the cached token for a channel, or "" on a miss.
func (c *TokenCache) Get(ctx context.Context, channelID string) (string, error) {
	token, err := c.rdb.Get(ctx, tokenKey(channelID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get token for channel %s: %w", channelID, err)
	}
	return token, nil
}

func (c *TokenCache) Set(ctx context.Context, channelID, token string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, tokenKey(channelID), token, ttl).Err(); err != nil {
		return fmt.Errorf("set token for channel %s: %w", channelID, err)
	}
	return nil
}

func (c *TokenCache) Delete(ctx context.Context, channelID string) error {
	if err := c.rdb.Del(ctx, tokenKey(channelID)).Err(); err != nil {
		return fmt.Errorf("delete token for channel %s: %w", channelID, err)
	}
	return nil
}
