package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"resonance-chat/internal/logger"
	"resonance-chat/internal/models"
	"resonance-chat/internal/repositories"
)

const keyPrefix = "profile:"

// NewClient parses url, pings the server and returns a ready client.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return cli, nil
}

// ProfileCache is a read-through cache in front of a UserRepository.
// Redis failures are logged and the call falls back to the repository.
type ProfileCache struct {
	next repositories.UserRepository
	cli  redis.Cmdable
	ttl  time.Duration
}

func NewProfileCache(next repositories.UserRepository, cli redis.Cmdable, ttl time.Duration) *ProfileCache {
	return &ProfileCache{next: next, cli: cli, ttl: ttl}
}

func (c *ProfileCache) CreateIfAbsent(ctx context.Context, p models.UserProfile) (models.UserProfile, bool, error) {
	profile, created, err := c.next.CreateIfAbsent(ctx, p)
	if err != nil {
		return profile, created, err
	}
	c.store(ctx, profile)
	return profile, created, nil
}

func (c *ProfileCache) GetProfile(ctx context.Context, uid string) (models.UserProfile, error) {
	raw, err := c.cli.Get(ctx, keyPrefix+uid).Bytes()
	if err == nil {
		var p models.UserProfile
		if json.Unmarshal(raw, &p) == nil {
			return p, nil
		}
	} else if err != redis.Nil {
		logger.Warnf("profile cache get %s: %v", uid, err)
	}

	p, err := c.next.GetProfile(ctx, uid)
	if err != nil {
		return p, err
	}
	c.store(ctx, p)
	return p, nil
}

// ListProfiles is not cached.
func (c *ProfileCache) ListProfiles(ctx context.Context) ([]models.UserProfile, error) {
	return c.next.ListProfiles(ctx)
}

func (c *ProfileCache) BulkProfiles(ctx context.Context, uids []string) ([]models.UserProfile, error) {
	if len(uids) == 0 {
		return []models.UserProfile{}, nil
	}
	keys := make([]string, len(uids))
	for i, uid := range uids {
		keys[i] = keyPrefix + uid
	}
	vals, err := c.cli.MGet(ctx, keys...).Result()
	if err != nil {
		logger.Warnf("profile cache mget: %v", err)
		return c.loadMissing(ctx, nil, uids)
	}

	found := make([]models.UserProfile, 0, len(uids))
	var missing []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			missing = append(missing, uids[i])
			continue
		}
		var p models.UserProfile
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			missing = append(missing, uids[i])
			continue
		}
		found = append(found, p)
	}
	if len(missing) == 0 {
		return found, nil
	}
	return c.loadMissing(ctx, found, missing)
}

func (c *ProfileCache) loadMissing(ctx context.Context, found []models.UserProfile, missing []string) ([]models.UserProfile, error) {
	loaded, err := c.next.BulkProfiles(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, p := range loaded {
		c.store(ctx, p)
	}
	return append(found, loaded...), nil
}

func (c *ProfileCache) store(ctx context.Context, p models.UserProfile) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.cli.Set(ctx, keyPrefix+p.UID, raw, c.ttl).Err(); err != nil {
		logger.Warnf("profile cache set %s: %v", p.UID, err)
	}
}

var _ repositories.UserRepository = (*ProfileCache)(nil)
