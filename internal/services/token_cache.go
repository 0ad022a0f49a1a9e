package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const tokenExpirySkew = 60 * time.Second

// AccessToken is a provider bearer token and the moment it stops being valid
type AccessToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenFetcher obtains a fresh token from the provider
type TokenFetcher func(ctx context.Context) (AccessToken, error)

// TokenCache keeps one provider access token per process and refreshes it
// when it is within a minute of expiry. Concurrent callers share a single
// refresh. With a RedisCache attached, instances also share the token.
type TokenCache struct {
	key    string
	fetch  TokenFetcher
	store  *RedisCache
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	current AccessToken
	group   singleflight.Group
}

func NewTokenCache(key string, fetch TokenFetcher, store *RedisCache) *TokenCache {
	return &TokenCache{
		key:    key,
		fetch:  fetch,
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
}

func (c *TokenCache) fresh(t AccessToken) bool {
	return t.Value != "" && c.now().Add(tokenExpirySkew).Before(t.ExpiresAt)
}

func (c *TokenCache) cached() (AccessToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.fresh(c.current)
}

// Get returns a valid token, fetching one only when the cached token is stale.
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	if t, ok := c.cached(); ok {
		return t.Value, nil
	}

	v, err, _ := c.group.Do(c.key, func() (interface{}, error) {
		if t, ok := c.cached(); ok {
			return t.Value, nil
		}

		if c.store != nil {
			var shared AccessToken
			if err := c.store.Get(ctx, c.key, &shared); err == nil && c.fresh(shared) {
				c.set(shared)
				return shared.Value, nil
			}
		}

		t, err := c.fetch(ctx)
		if err != nil {
			return "", err
		}
		c.set(t)

		if c.store != nil {
			if ttl := t.ExpiresAt.Sub(c.now()) - tokenExpirySkew; ttl > 0 {
				if err := c.store.Set(ctx, c.key, t, ttl); err != nil {
					c.logger.DebugContext(ctx, "token cache write failed", "key", c.key, "error", err)
				}
			}
		}
		return t.Value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, e.g. after the provider rejected it.
func (c *TokenCache) Invalidate(ctx context.Context) {
	c.set(AccessToken{})
	if c.store != nil {
		if err := c.store.Delete(ctx, c.key); err != nil {
			c.logger.DebugContext(ctx, "token cache delete failed", "key", c.key, "error", err)
		}
	}
}

func (c *TokenCache) set(t AccessToken) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}
