package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resonance-chat/internal/models"
	"resonance-chat/internal/repositories"
)

// unreachable returns a client whose every command fails quickly.
func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestProfileCacheFallsBackWhenRedisDown(t *testing.T) {
	ctx := context.Background()
	users := repositories.NewMemoryUserRepo()
	cli := unreachable()
	defer cli.Close()
	c := NewProfileCache(users, cli, time.Minute)

	_, created, err := c.CreateIfAbsent(ctx, models.UserProfile{UID: "u1", DisplayName: "Ann"})
	require.NoError(t, err)
	assert.True(t, created)

	p, err := c.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", p.DisplayName)

	_, err = c.GetProfile(ctx, "ghost")
	assert.ErrorIs(t, err, repositories.ErrUserNotFound)

	bulk, err := c.BulkProfiles(ctx, []string{"u1", "ghost"})
	require.NoError(t, err)
	require.Len(t, bulk, 1)
	assert.Equal(t, "u1", bulk[0].UID)
}

func TestProfileCacheAgainstRedis(t *testing.T) {
	url := os.Getenv("CHAT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("CHAT_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	cli, err := NewClient(ctx, url)
	require.NoError(t, err)
	defer cli.Close()

	users := repositories.NewMemoryUserRepo()
	c := NewProfileCache(users, cli, time.Minute)
	_, _, err = c.CreateIfAbsent(ctx, models.UserProfile{UID: "cache-u1", DisplayName: "Ann"})
	require.NoError(t, err)
	t.Cleanup(func() { cli.Del(ctx, keyPrefix+"cache-u1") })

	raw, err := cli.Get(ctx, keyPrefix+"cache-u1").Result()
	require.NoError(t, err)
	assert.Contains(t, raw, `"displayName":"Ann"`)

	cached, err := c.BulkProfiles(ctx, []string{"cache-u1"})
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "Ann", cached[0].DisplayName)
}
