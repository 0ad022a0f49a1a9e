package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestTokenCacheSingleFlight(t *testing.T) {
	var fetches int32
	release := make(chan struct{})
	cache := NewTokenCache("qrbank:token", func(ctx context.Context) (AccessToken, error) {
		atomic.AddInt32(&fetches, 1)
		<-release
		return AccessToken{Value: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}, nil)

	var wg sync.WaitGroup
	results := make([]string, 20)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Get(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&fetches))
	for i, r := range results {
		require.NoError(t, errs[i])
		require.Equal(t, "tok-1", r)
	}
}

func TestTokenCacheRefreshesNearExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var fetches int
	cache := NewTokenCache("qrbank:token", func(ctx context.Context) (AccessToken, error) {
		fetches++
		return AccessToken{Value: "tok", ExpiresAt: now.Add(5 * time.Minute)}, nil
	}, nil)
	cache.now = func() time.Time { return now }

	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fetches)

	// inside the skew window
	now = now.Add(4*time.Minute + 30*time.Second)
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, fetches)
}

func TestTokenCacheDoesNotCacheErrors(t *testing.T) {
	calls := 0
	cache := NewTokenCache("qrbank:token", func(ctx context.Context) (AccessToken, error) {
		calls++
		if calls == 1 {
			return AccessToken{}, errors.New("upstream down")
		}
		return AccessToken{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}, nil)

	_, err := cache.Get(context.Background())
	require.Error(t, err)

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok", tok)
}

func TestTokenCacheSharedThroughRedis(t *testing.T) {
	m := miniredis.RunT(t)
	store := NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: m.Addr()}))

	var fetches int32
	fetch := func(ctx context.Context) (AccessToken, error) {
		atomic.AddInt32(&fetches, 1)
		return AccessToken{Value: "shared", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	first := NewTokenCache("qrbank:token", fetch, store)
	second := NewTokenCache("qrbank:token", fetch, store)

	tok, err := first.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "shared", tok)

	tok, err = second.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "shared", tok)
	require.Equal(t, int32(1), atomic.LoadInt32(&fetches))

	second.Invalidate(context.Background())
	require.False(t, m.Exists("qrbank:token"))
}

func TestTokenCacheLogsStoreFailures(t *testing.T) {
	m := miniredis.RunT(t)
	store := NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: m.Addr()}))
	m.SetError("READONLY replica")

	var logs bytes.Buffer
	cache := NewTokenCache("qrbank:token", func(ctx context.Context) (AccessToken, error) {
		return AccessToken{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}, store)
	cache.logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tok, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok", tok)
	cache.Invalidate(context.Background())

	require.Contains(t, logs.String(), "token cache write failed")
	require.Contains(t, logs.String(), "token cache delete failed")
	require.Contains(t, logs.String(), "READONLY replica")
}
